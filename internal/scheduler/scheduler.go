// Package scheduler owns all compile queueing and concurrency state: it
// accepts build requests keyed by target, serializes compiles per target,
// enforces a global concurrency ceiling, and settles every request exactly
// once with a BuildResult.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"texforge/internal/backend"
)

// Scheduler coordinates compile jobs. All mutable state lives behind one
// mutex; every scheduling decision (slot grant, queue push/pop, status
// transition) happens atomically under it, while the external toolchain runs
// in per-job goroutines that hold no scheduler lock.
type Scheduler struct {
	mu            sync.Mutex
	maxConcurrent int
	closed        bool

	running     map[string]*entry  // by job id
	byTarget    map[string]*entry  // running job per target key
	queues      map[string][]*entry
	targetOrder []string // insertion order of target keys with queued jobs

	backend backend.Backend
	store   Store
	hub     *Hub
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// New creates a scheduler running at most maxConcurrent builds at once.
func New(maxConcurrent int, b backend.Backend, store Store, logger *slog.Logger) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if store == nil {
		store = NewInMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		maxConcurrent: maxConcurrent,
		running:       make(map[string]*entry),
		byTarget:      make(map[string]*entry),
		queues:        make(map[string][]*entry),
		backend:       b,
		store:         store,
		hub:           NewHub(),
		logger:        logger,
	}
}

// Events returns the lifecycle event hub.
func (s *Scheduler) Events() *Hub {
	return s.hub
}

// Compile accepts one build request. It never rejects synchronously: the
// returned ticket settles exactly once, whether the job runs now, waits in
// its target's queue, or is cancelled before starting.
func (s *Scheduler) Compile(desc backend.Descriptor) *Ticket {
	now := time.Now().UTC()
	job := &Job{
		ID:         uuid.NewString(),
		TargetKey:  desc.TargetKey,
		Descriptor: desc,
		Status:     StatusQueued,
		CreatedAt:  now,
	}
	e := &entry{job: job, ticket: newTicket(job)}

	s.mu.Lock()
	if s.closed {
		res := cancelledResult("compilation cancelled: scheduler is shutting down")
		job.Status = StatusCancelled
		job.FinishedAt = &now
		_ = s.store.Create(&Record{Job: *job, Result: res})
		e.settle(*res)
		s.mu.Unlock()
		s.hub.emit(Event{Type: EventCancelled, JobID: job.ID, TargetKey: job.TargetKey, Result: res})
		return e.ticket
	}

	_ = s.store.Create(&Record{Job: *job})
	BuildsQueuedTotal.Inc()

	key := job.TargetKey
	if s.byTarget[key] != nil || len(s.queues[key]) > 0 || len(s.running) >= s.maxConcurrent {
		s.enqueueLocked(e)
		s.mu.Unlock()
		s.logger.Debug("job queued", "job_id", job.ID, "target", key)
		s.hub.emit(Event{Type: EventQueued, JobID: job.ID, TargetKey: key})
		return e.ticket
	}

	s.startLocked(e)
	s.mu.Unlock()
	s.emitStarted([]*entry{e})
	return e.ticket
}

// CancelJob cancels a running or queued job by id. A running job's process
// is asked to terminate through the backend; its ticket settles and its
// job:cancelled event fires once the backend returns, so the event always
// follows the job's own job:started. Unknown or already-terminal ids are a
// no-op.
func (s *Scheduler) CancelJob(id string) bool {
	s.mu.Lock()

	if e, ok := s.running[id]; ok {
		s.detachRunningLocked(e)
		cancel := e.cancel
		started := s.advanceLocked(e.job.TargetKey)
		s.mu.Unlock()

		cancel()
		s.emitStarted(started)
		return true
	}

	for key, q := range s.queues {
		for i, e := range q {
			if e.job.ID != id {
				continue
			}
			s.removeQueuedLocked(key, i)
			res := s.settleCancelledLocked(e, "compilation cancelled before start")
			s.mu.Unlock()
			s.hub.emit(Event{Type: EventCancelled, JobID: e.job.ID, TargetKey: key, Result: res})
			return true
		}
	}

	s.mu.Unlock()
	return false
}

// CancelQueuedJobs removes every still-queued job for the target, settling
// each with a cancelled result. The target's running job, if any, is left
// alone. Returns the number of jobs removed.
func (s *Scheduler) CancelQueuedJobs(targetKey string) int {
	s.mu.Lock()
	q := s.queues[targetKey]
	if len(q) == 0 {
		s.mu.Unlock()
		return 0
	}
	delete(s.queues, targetKey)
	s.dropTargetOrderLocked(targetKey)
	QueueDepthGauge.Sub(float64(len(q)))

	events := make([]Event, 0, len(q))
	for _, e := range q {
		res := s.settleCancelledLocked(e, "compilation cancelled: queued jobs for target were cleared")
		events = append(events, Event{Type: EventCancelled, JobID: e.job.ID, TargetKey: targetKey, Result: res})
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.hub.emit(ev)
	}
	return len(q)
}

// CancelAll cancels every queued job across all targets and every running
// job. Used at shutdown so no ticket is left unsettled.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()

	var events []Event
	for _, key := range append([]string(nil), s.targetOrder...) {
		q := s.queues[key]
		delete(s.queues, key)
		QueueDepthGauge.Sub(float64(len(q)))
		for _, e := range q {
			res := s.settleCancelledLocked(e, "compilation cancelled: scheduler is shutting down")
			events = append(events, Event{Type: EventCancelled, JobID: e.job.ID, TargetKey: key, Result: res})
		}
	}
	s.targetOrder = nil

	// Running jobs emit their own job:cancelled from finish once the backend
	// returns, keeping each job's events in lifecycle order.
	var cancels []context.CancelFunc
	for _, e := range s.running {
		s.detachRunningLocked(e)
		cancels = append(cancels, e.cancel)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, ev := range events {
		s.hub.emit(ev)
	}
}

// Shutdown cancels everything and waits for in-flight backend invocations to
// return, or for ctx to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.CancelAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running builds: %w", ctx.Err())
	}
}

// IsCompiling reports whether a build is currently running for the target.
func (s *Scheduler) IsCompiling(targetKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byTarget[targetKey] != nil
}

// QueueDepth returns the number of jobs waiting for the target.
func (s *Scheduler) QueueDepth(targetKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[targetKey])
}

// QueuedJobs returns snapshots of all queued jobs, per-target FIFO, targets
// in insertion order.
func (s *Scheduler) QueuedJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, key := range s.targetOrder {
		for _, e := range s.queues[key] {
			out = append(out, *e.job)
		}
	}
	return out
}

// SetMaxConcurrent changes the global ceiling for future scheduling
// decisions. Raising it starts queued jobs immediately; lowering it never
// preempts running jobs.
func (s *Scheduler) SetMaxConcurrent(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	s.maxConcurrent = n
	started := s.advanceLocked("")
	s.mu.Unlock()
	s.emitStarted(started)
}

// run invokes the backend for one granted slot and settles the job when the
// backend returns.
func (s *Scheduler) run(e *entry, ctx context.Context) {
	defer s.wg.Done()
	res, err := s.backend.Compile(ctx, e.job.Descriptor, func(chunk string) {
		s.hub.emit(Event{Type: EventOutput, JobID: e.job.ID, TargetKey: e.job.TargetKey, Chunk: chunk})
	})
	s.finish(e, res, err)
}

// finish settles a job after its backend invocation returns, updates the
// bookkeeping, and advances the queues.
func (s *Scheduler) finish(e *entry, res *backend.BuildResult, err error) {
	final := normalizeResult(res, err)

	s.mu.Lock()
	if e.job.Status == StatusCancelled {
		// CancelJob or CancelAll already detached the job and advanced the
		// queues; the settlement, stored result and terminal event remain.
		s.persistLocked(e, final)
		e.settle(*final)
		s.mu.Unlock()
		s.hub.emit(Event{Type: EventCancelled, JobID: e.job.ID, TargetKey: e.job.TargetKey, Result: final})
		return
	}

	now := time.Now().UTC()
	e.job.FinishedAt = &now
	if final.Success {
		e.job.Status = StatusCompleted
		BuildsCompletedTotal.Inc()
	} else {
		e.job.Status = StatusFailed
		BuildsFailedTotal.Inc()
	}

	delete(s.running, e.job.ID)
	if s.byTarget[e.job.TargetKey] == e {
		delete(s.byTarget, e.job.TargetKey)
	}
	BuildsRunning.Dec()

	s.persistLocked(e, final)
	e.settle(*final)
	started := s.advanceLocked(e.job.TargetKey)
	s.mu.Unlock()

	s.logger.Info("build finished",
		"job_id", e.job.ID,
		"target", e.job.TargetKey,
		"success", final.Success,
		"duration", final.Duration.String(),
	)
	s.hub.emit(Event{Type: EventCompleted, JobID: e.job.ID, TargetKey: e.job.TargetKey, Result: final})
	s.emitStarted(started)
}

// advanceLocked fills freed slots: first the next queued job for the
// preferred target (keeps per-target FIFO tight), then a stable scan across
// all target queues until the ceiling is reached.
func (s *Scheduler) advanceLocked(preferred string) []*entry {
	var started []*entry

	tryStart := func(key string) {
		if len(s.running) >= s.maxConcurrent || s.byTarget[key] != nil {
			return
		}
		q := s.queues[key]
		if len(q) == 0 {
			return
		}
		e := q[0]
		if len(q) == 1 {
			delete(s.queues, key)
			s.dropTargetOrderLocked(key)
		} else {
			s.queues[key] = q[1:]
		}
		QueueDepthGauge.Dec()
		s.startLocked(e)
		started = append(started, e)
	}

	if preferred != "" {
		tryStart(preferred)
	}
	for _, key := range append([]string(nil), s.targetOrder...) {
		if len(s.running) >= s.maxConcurrent {
			break
		}
		tryStart(key)
	}
	return started
}

// startLocked grants a slot: marks the job running and registers it. The
// backend invocation itself is launched by the caller after the job:started
// event, so consumers always see the start before any output.
func (s *Scheduler) startLocked(e *entry) {
	now := time.Now().UTC()
	e.job.Status = StatusRunning
	e.job.StartedAt = &now
	s.running[e.job.ID] = e
	s.byTarget[e.job.TargetKey] = e
	BuildsRunning.Inc()

	e.runCtx, e.cancel = context.WithCancel(context.Background())
	s.persistLocked(e, nil)
	s.wg.Add(1)
}

func (s *Scheduler) enqueueLocked(e *entry) {
	key := e.job.TargetKey
	if len(s.queues[key]) == 0 {
		s.targetOrder = append(s.targetOrder, key)
	}
	s.queues[key] = append(s.queues[key], e)
	QueueDepthGauge.Inc()
}

func (s *Scheduler) removeQueuedLocked(key string, i int) {
	q := s.queues[key]
	s.queues[key] = append(q[:i], q[i+1:]...)
	if len(s.queues[key]) == 0 {
		delete(s.queues, key)
		s.dropTargetOrderLocked(key)
	}
	QueueDepthGauge.Dec()
}

func (s *Scheduler) dropTargetOrderLocked(key string) {
	for i, k := range s.targetOrder {
		if k == key {
			s.targetOrder = append(s.targetOrder[:i], s.targetOrder[i+1:]...)
			return
		}
	}
}

// detachRunningLocked marks a running job cancelled and removes it from the
// running set so its slot frees up immediately; the process itself is
// terminated by the caller via e.cancel.
func (s *Scheduler) detachRunningLocked(e *entry) {
	now := time.Now().UTC()
	e.job.Status = StatusCancelled
	e.job.FinishedAt = &now
	delete(s.running, e.job.ID)
	if s.byTarget[e.job.TargetKey] == e {
		delete(s.byTarget, e.job.TargetKey)
	}
	BuildsRunning.Dec()
	BuildsCancelledTotal.Inc()
	s.persistLocked(e, nil)
}

// settleCancelledLocked resolves a never-started job with a cancelled
// result.
func (s *Scheduler) settleCancelledLocked(e *entry, msg string) *backend.BuildResult {
	now := time.Now().UTC()
	e.job.Status = StatusCancelled
	e.job.FinishedAt = &now
	res := cancelledResult(msg)
	s.persistLocked(e, res)
	e.settle(*res)
	BuildsCancelledTotal.Inc()
	return res
}

func (s *Scheduler) persistLocked(e *entry, res *backend.BuildResult) {
	rec := &Record{Job: *e.job, Result: res}
	if res == nil {
		if prev, ok := s.store.Get(e.job.ID); ok {
			rec.Result = prev.Result
		}
	}
	_ = s.store.Update(rec)
}

// emitStarted announces each granted slot and then launches its backend
// invocation.
func (s *Scheduler) emitStarted(started []*entry) {
	for _, e := range started {
		s.hub.emit(Event{Type: EventStarted, JobID: e.job.ID, TargetKey: e.job.TargetKey})
		go s.run(e, e.runCtx)
	}
}

// normalizeResult guarantees the caller always settles with a BuildResult:
// a backend error becomes a failure with one synthetic error diagnostic.
func normalizeResult(res *backend.BuildResult, err error) *backend.BuildResult {
	if err != nil {
		return &backend.BuildResult{
			Diagnostics: []backend.Diagnostic{{
				Severity: backend.SeverityError,
				Message:  fmt.Sprintf("backend error: %v", err),
				Code:     "backend",
			}},
		}
	}
	if res == nil {
		return &backend.BuildResult{
			Diagnostics: []backend.Diagnostic{{
				Severity: backend.SeverityError,
				Message:  "backend returned no result",
				Code:     "backend",
			}},
		}
	}
	return res
}

func cancelledResult(msg string) *backend.BuildResult {
	return &backend.BuildResult{
		Diagnostics: []backend.Diagnostic{{
			Severity: backend.SeverityInfo,
			Message:  msg,
			Code:     "cancelled",
		}},
	}
}
