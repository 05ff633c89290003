package runner

import (
	"context"
	"log/slog"

	"github.com/tinoosan/debrix/internal/worker"
)

// pollBulkStatus performs one aggregated status query per tick and hands the
// full result to every registered worker whose backend supports it. This
// amortizes status-fetch cost instead of issuing N individual requests.
func (r *Runner) pollBulkStatus(ctx context.Context, lg *slog.Logger) {
	if r.bulk == nil {
		return
	}
	var targets []worker.BulkUpdatable
	for _, w := range r.reg.Downloads() {
		if bu, ok := w.(worker.BulkUpdatable); ok {
			targets = append(targets, bu)
		}
	}
	if len(targets) == 0 {
		return
	}

	statuses, err := r.bulk.TellAll(ctx)
	if err != nil {
		lg.Error("bulk status poll", "err", err)
		return
	}
	for _, t := range targets {
		t.Update(statuses)
	}
}
