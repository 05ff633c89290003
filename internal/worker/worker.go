// Package worker defines the contracts between the tick loop and the
// processes that move bytes: download workers (HTTP, aria2 RPC, symlink) and
// unpack workers. Workers are opaque to the runner; it only observes
// Finished, Error and the result of Start.
package worker

import "context"

// Client identifies the configured download backend.
type Client string

const (
	// ClientInternal downloads over plain HTTP inside this process.
	ClientInternal Client = "internal"
	// ClientAria2 delegates transfers to an aria2c daemon over JSON-RPC.
	ClientAria2 Client = "aria2"
	// ClientSymlink materializes files as symlinks into an rclone mount;
	// no bytes move locally.
	ClientSymlink Client = "symlink"
)

// DownloadWorker runs one download to local storage. Start dispatches the
// transfer and returns the backend's remote ID where one exists (the aria2
// GID); the transfer itself runs on the worker's own goroutine or inside the
// backend daemon. Finished and Error are polled by the completion sweeper.
type DownloadWorker interface {
	Type() Client
	Start(ctx context.Context) (remoteID string, err error)
	Finished() bool
	Error() string
}

// UnpackWorker extracts a finished archive download in place.
type UnpackWorker interface {
	Start(ctx context.Context)
	Finished() bool
	Error() string
}
