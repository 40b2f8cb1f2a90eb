package scheduler

import (
	"context"
	"time"

	"texforge/internal/backend"
)

// Status is the lifecycle state of a build job. Transitions are monotonic:
// a job never leaves a terminal status and never returns to an earlier one.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is one compile request tracked by the scheduler.
type Job struct {
	ID         string             `json:"id"`
	TargetKey  string             `json:"target_key"`
	Descriptor backend.Descriptor `json:"descriptor"`
	Status     Status             `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

// Ticket is the caller's handle on an in-flight compile. Its result channel
// is settled exactly once, whatever path the job takes.
type Ticket struct {
	JobID     string
	TargetKey string
	done      chan backend.BuildResult
}

func newTicket(job *Job) *Ticket {
	return &Ticket{
		JobID:     job.ID,
		TargetKey: job.TargetKey,
		done:      make(chan backend.BuildResult, 1),
	}
}

// Done returns a channel that receives the BuildResult once and is then
// closed.
func (t *Ticket) Done() <-chan backend.BuildResult {
	return t.done
}

// Wait blocks until the job settles or ctx expires.
func (t *Ticket) Wait(ctx context.Context) (backend.BuildResult, error) {
	select {
	case res := <-t.done:
		return res, nil
	case <-ctx.Done():
		return backend.BuildResult{}, ctx.Err()
	}
}

// entry couples a job with its settlement handle and, once running, the
// context and cancel function for its backend invocation.
type entry struct {
	job     *Job
	ticket  *Ticket
	runCtx  context.Context
	cancel  context.CancelFunc
	settled bool
}

// settle resolves the ticket. Calling it twice is a bookkeeping bug; the
// guard makes the second call harmless rather than a panic on a closed
// channel.
func (e *entry) settle(res backend.BuildResult) {
	if e.settled {
		return
	}
	e.settled = true
	e.ticket.done <- res
	close(e.ticket.done)
}
