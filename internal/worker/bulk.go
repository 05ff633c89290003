package worker

import "context"

// BulkStatus is one transfer's status from a backend that supports bulk
// queries. RemoteID matches the value returned by DownloadWorker.Start.
type BulkStatus struct {
	RemoteID     string
	Status       string
	BytesDone    int64
	BytesTotal   int64
	ErrorMessage string
}

// BulkUpdatable is implemented by download workers whose backend supports a
// single aggregated status query. The poller fetches once per tick and hands
// the full result to every such worker; each worker picks out its own entry.
type BulkUpdatable interface {
	Update(statuses []BulkStatus)
}

// BulkStatusSource is the backend endpoint the poller queries.
type BulkStatusSource interface {
	TellAll(ctx context.Context) ([]BulkStatus, error)
}
