package batchmast

import (
	"context"
	"time"
)

// Collect polls the collection until every job reached a terminal
// state, emitting one event per job as it finishes. Succeeded jobs
// carry their parsed result table. A status or download error is
// emitted on the event and ends collection; the failing job is not
// treated as collected.
func (c *Client) Collect(ctx context.Context, coll map[string]Submission) <-chan CollectEvent {
	pending := make(map[string]Submission, len(coll))
	for jobID, sub := range coll {
		pending[jobID] = sub
	}

	out := make(chan CollectEvent)
	go func() {
		defer close(out)

		t := time.NewTicker(c.cfg.PollInterval)
		defer t.Stop()

		for len(pending) > 0 {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}

			for jobID, sub := range pending {
				status, err := c.runner.Status(ctx, jobID)
				if err != nil {
					emit(ctx, out, CollectEvent{JobID: jobID, Submission: sub, Err: err})
					return
				}

				switch status {
				case JobSucceeded:
					tbl, err := c.fetchResults(ctx, sub.RemoteDir)
					if err != nil {
						emit(ctx, out, CollectEvent{JobID: jobID, Status: status, Submission: sub, Err: err})
						return
					}
					delete(pending, jobID)
					if !emit(ctx, out, CollectEvent{JobID: jobID, Status: status, Submission: sub, Table: tbl}) {
						return
					}
				case JobFailed:
					delete(pending, jobID)
					if !emit(ctx, out, CollectEvent{JobID: jobID, Status: status, Submission: sub}) {
						return
					}
				}
			}
		}
	}()
	return out
}

func emit(ctx context.Context, out chan<- CollectEvent, ev CollectEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// waitTerminal polls one job to a terminal status, logging changes.
func (c *Client) waitTerminal(ctx context.Context, jobID string) (JobStatus, error) {
	status, err := c.runner.Status(ctx, jobID)
	if err != nil {
		return "", err
	}
	if status.Terminal() {
		return status, nil
	}

	t := time.NewTicker(c.cfg.PollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-t.C:
			next, err := c.runner.Status(ctx, jobID)
			if err != nil {
				return status, err
			}
			if next != status {
				status = next
				c.logger.Infow("job status changed", "job_id", jobID, "status", status)
			}
			if status.Terminal() {
				return status, nil
			}
		}
	}
}
