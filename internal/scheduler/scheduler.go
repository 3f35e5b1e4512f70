package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler is the body of a job. Errors are logged, never propagated.
type Handler func(ctx context.Context) error

// Job describes an installed job for diagnostics.
type Job struct {
	ID      string
	Trigger string
	NextRun time.Time
	Running bool
}

type entry struct {
	id      string
	trigger Trigger
	handler Handler
	next    time.Time
}

// Scheduler is the job table: a registry of jobs keyed by id plus the dispatch loop
// that fires them. Each firing runs in its own goroutine; a job id never has two
// firings in flight at once.
type Scheduler struct {
	log     *zap.Logger
	now     func() time.Time
	timeout time.Duration

	mu      sync.Mutex
	jobs    map[string]*entry
	running map[string]bool

	wake chan struct{}
	wg   sync.WaitGroup // in-flight handlers
}

// New creates a Scheduler. now supplies the current instant; timeout bounds
// each handler invocation (0 means no bound).
func New(log *zap.Logger, now func() time.Time, timeout time.Duration) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		log:     log,
		now:     now,
		timeout: timeout,
		jobs:    make(map[string]*entry),
		running: make(map[string]bool),
		wake:    make(chan struct{}, 1),
	}
}

// Upsert installs a job, replacing any job with the same id. A trigger that cannot
// produce a fire time is rejected and the table is left unchanged.
func (s *Scheduler) Upsert(id string, trig Trigger, h Handler) error {
	if id == "" || h == nil || trig == nil {
		return fmt.Errorf("%w: job %q incomplete", ErrBadTrigger, id)
	}
	first, err := trig.First(s.now())
	if err != nil {
		return fmt.Errorf("job %s: %w", id, err)
	}

	s.mu.Lock()
	s.jobs[id] = &entry{id: id, trigger: trig, handler: h, next: first}
	s.mu.Unlock()

	s.log.Debug("job installed", zap.String("job_id", id), zap.Stringer("trigger", trig), zap.Time("next", first))
	s.notify()
	return nil
}

// Remove deletes the job with id. It does not interrupt a firing already in flight.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
	s.notify()
}

// RemoveByPrefix deletes every job whose id starts with prefix and returns how many.
func (s *Scheduler) RemoveByPrefix(prefix string) int {
	s.mu.Lock()
	n := 0
	for id := range s.jobs {
		if strings.HasPrefix(id, prefix) {
			delete(s.jobs, id)
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		s.notify()
	}
	return n
}

// Get returns the job with id.
func (s *Scheduler) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return s.describe(e), true
}

// List returns all jobs ordered by next fire time, then id.
func (s *Scheduler) List() []Job {
	s.mu.Lock()
	res := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		res = append(res, s.describe(e))
	}
	s.mu.Unlock()

	sort.Slice(res, func(i, j int) bool {
		if !res[i].NextRun.Equal(res[j].NextRun) {
			return res[i].NextRun.Before(res[j].NextRun)
		}
		return res[i].ID < res[j].ID
	})
	return res
}

func (s *Scheduler) describe(e *entry) Job {
	return Job{ID: e.id, Trigger: e.trigger.String(), NextRun: e.next, Running: s.running[e.id]}
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run dispatches due jobs until ctx is canceled, then waits for in-flight handlers.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.RunDue(ctx)

		wait := time.Hour
		if next, ok := s.nextWake(); ok {
			wait = next.Sub(s.now())
			if wait < 0 {
				wait = 0
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			s.Wait()
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// nextWake returns the earliest fire time among jobs that are not in flight.
func (s *Scheduler) nextWake() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best time.Time
	for id, e := range s.jobs {
		if s.running[id] {
			continue
		}
		if best.IsZero() || e.next.Before(best) {
			best = e.next
		}
	}
	return best, !best.IsZero()
}

// RunDue fires every job whose fire time has arrived and returns how many started.
// One-shot jobs leave the table as they fire; recurring jobs are re-armed from now,
// so missed firings collapse into one.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []*entry
	for id, e := range s.jobs {
		if s.running[id] || e.next.After(now) {
			continue
		}
		due = append(due, e)
		if next, ok := e.trigger.Next(now); ok {
			e.next = next
		} else {
			delete(s.jobs, id)
		}
		s.running[id] = true
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].id < due[j].id })
	for _, e := range due {
		s.wg.Add(1)
		go s.invoke(ctx, e.id, e.handler)
	}
	return len(due)
}

func (s *Scheduler) invoke(ctx context.Context, id string, h Handler) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", zap.String("job_id", id), zap.Any("panic", r))
		}
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
		s.notify()
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := h(ctx); err != nil {
		s.log.Error("job failed", zap.String("job_id", id), zap.Duration("took", time.Since(start)), zap.Error(err))
		return
	}
	s.log.Debug("job done", zap.String("job_id", id), zap.Duration("took", time.Since(start)))
}

// Wait blocks until every in-flight handler has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
