package runner

import (
	"context"
	"fmt"
)

// Initialize rewinds inconsistent in-flight stages left behind by a crash.
// A worker lost with the process leaves its "started" timestamp set; clearing
// it re-queues the stage on the next tick. Running this twice without an
// intervening tick is a no-op the second time. This is the sole cross-process
// recovery step.
func (r *Runner) Initialize(ctx context.Context) error {
	list, err := r.torrents.Get(ctx)
	if err != nil {
		return fmt.Errorf("list torrents: %w", err)
	}
	for _, t := range list {
		if t.Completed != nil {
			continue
		}
		for _, d := range t.Downloads {
			if d.Error != "" {
				continue
			}
			if !d.Queued.IsZero() && d.DownloadStarted != nil && d.DownloadFinished == nil {
				if err := r.dls.UpdateDownloadStarted(ctx, d.ID, nil); err != nil {
					return fmt.Errorf("rewind download %s: %w", d.ID, err)
				}
				r.log.Info("rewound in-flight download", "id", d.ID)
				continue
			}
			if d.UnpackingQueued != nil && d.UnpackingStarted != nil && d.UnpackingFinished == nil {
				if err := r.dls.UpdateUnpackingStarted(ctx, d.ID, nil); err != nil {
					return fmt.Errorf("rewind unpack %s: %w", d.ID, err)
				}
				r.log.Info("rewound in-flight unpack", "id", d.ID)
			}
		}
	}
	return nil
}
