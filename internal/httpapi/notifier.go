package httpapi

import (
	"context"
	"log/slog"
	"time"

	"texforge/internal/scheduler"
	"texforge/internal/webhook"
)

// Notifier posts a webhook when a build whose submission carried a webhook
// URL reaches a terminal state.
type Notifier struct {
	store  scheduler.Store
	sender webhook.Sender
	logger *slog.Logger
}

func NewNotifier(sender webhook.Sender, store scheduler.Store, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		store:  store,
		sender: sender,
		logger: logger,
	}
}

// Watch delivers one notification for the job once its ticket settles. The
// ticket's result channel buffers the settlement, so watching a job that
// already finished still delivers. Empty URLs are ignored. Delivery runs in
// its own goroutine so retries never stall the caller.
func (n *Notifier) Watch(tk *scheduler.Ticket, url string) {
	if url == "" {
		return
	}
	go func() {
		res, ok := <-tk.Done()
		if !ok {
			return
		}

		// The scheduler persists the terminal record before settling, so the
		// stored status is authoritative by the time the ticket resolves.
		status := string(scheduler.StatusFailed)
		if rec, found := n.store.Get(tk.JobID); found && rec.Status.Terminal() {
			status = string(rec.Status)
		} else if res.Success {
			status = string(scheduler.StatusCompleted)
		}

		note := webhook.Notification{
			JobID:     tk.JobID,
			TargetKey: tk.TargetKey,
			Status:    status,
			Result:    &res,
			Timestamp: time.Now().UTC(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := n.sender.Notify(ctx, url, note); err != nil {
			n.logger.Error("webhook delivery failed", "job_id", tk.JobID, "url", url, "error", err)
		}
	}()
}
