// Package schedule runs the periodic jobs of the serve command: roster
// syncs, contribution reports and the member detail worker.
//
// Expressions use six fields, seconds first. An empty expression leaves
// the job disabled. Each job runs on its own; a run that is still going
// when the next tick fires is skipped rather than stacked.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks a six-field cron expression. Empty is valid.
func Validate(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	return nil
}

// Entry describes a registered job.
type Entry struct {
	Name string
	Spec string
	Next time.Time
}

// Scheduler wraps a cron runner whose jobs share one context, cancelled
// by Stop.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	names map[cron.EntryID]Entry
}

// New creates a stopped scheduler in UTC.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
		names:  map[cron.EntryID]Entry{},
	}
}

// Add registers run under name. An empty spec disables the job and is not
// an error. Overlapping runs of the same job are skipped.
func (s *Scheduler) Add(name, spec string, run func(ctx context.Context)) error {
	if spec == "" {
		slog.Info("scheduled job disabled", "job", name)
		return nil
	}
	if err := Validate(spec); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	var running sync.Mutex
	id, err := s.cron.AddFunc(spec, func() {
		if !running.TryLock() {
			slog.Warn("scheduled job still running, skipping tick", "job", name)
			return
		}
		defer running.Unlock()
		s.invoke(name, run)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	s.mu.Lock()
	s.names[id] = Entry{Name: name, Spec: spec}
	s.mu.Unlock()
	slog.Info("scheduled job registered", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) invoke(name string, run func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduled job panicked", "job", name, "panic", r)
		}
	}()
	start := time.Now()
	slog.Debug("scheduled job starting", "job", name)
	run(s.ctx)
	slog.Debug("scheduled job finished", "job", name, "took", time.Since(start))
}

// Entries lists the registered jobs with their next run time.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.cron.Entries() {
		info := s.names[e.ID]
		info.Next = e.Next
		out = append(out, info)
	}
	return out
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs, cancels the shared context and waits up to
// timeout for running jobs. It reports whether they all finished.
func (s *Scheduler) Stop(timeout time.Duration) bool {
	cronCtx := s.cron.Stop()
	s.cancel()
	select {
	case <-cronCtx.Done():
		return true
	case <-time.After(timeout):
		return false
	}
}
