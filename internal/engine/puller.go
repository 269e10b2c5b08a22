package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/rollcall/internal/roster"
)

// Fetcher produces an already-scraped roster for an alliance. The engine
// never fetches on its own; sources live in package source.
type Fetcher interface {
	Fetch(ctx context.Context, allianceID string) (roster.ScrapeBatch, error)
}

// Target is one alliance a Puller can sync.
type Target struct {
	AllianceID   string
	AllianceName string
	Fetcher      Fetcher
}

// Puller serializes syncs per alliance. Different alliances run
// concurrently; a second pull for a busy alliance fails with ErrBusy.
// Other writers of the alliance state go through Exclusive.
type Puller struct {
	engine *Engine

	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
}

// NewPuller wraps e.
func NewPuller(e *Engine) *Puller {
	return &Puller{engine: e, running: map[string]bool{}}
}

func (p *Puller) acquire(allianceID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running[allianceID] {
		return false
	}
	p.running[allianceID] = true
	return true
}

func (p *Puller) release(allianceID string) {
	p.mu.Lock()
	delete(p.running, allianceID)
	p.mu.Unlock()
}

// Exclusive runs fn while holding allianceID, so no pull can load or
// save the alliance state until fn returns. It fails with ErrBusy, without
// running fn, while a pull or another exclusive writer holds the alliance.
func (p *Puller) Exclusive(allianceID string, fn func() error) error {
	if !p.acquire(allianceID) {
		return ErrBusy
	}
	defer p.release(allianceID)
	return fn()
}

// Busy reports whether a sync for allianceID is in flight.
func (p *Puller) Busy(allianceID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running[allianceID]
}

// Pull fetches and syncs one alliance. A fetch failure is recorded in
// the pull history and returned as a FETCH_FAILED SyncError.
func (p *Puller) Pull(ctx context.Context, t Target, source string) (Result, error) {
	if t.AllianceID == "" {
		return Result{}, &SyncError{Code: ErrCodeMissingAllianceID, Message: "pull target has no alliance id"}
	}
	if !p.acquire(t.AllianceID) {
		return Result{}, ErrBusy
	}
	defer p.release(t.AllianceID)
	return p.pull(ctx, t, source)
}

// pull runs one pull; the caller holds the alliance.
func (p *Puller) pull(ctx context.Context, t Target, source string) (Result, error) {
	batch, err := t.Fetcher.Fetch(ctx, t.AllianceID)
	if err != nil {
		if rerr := p.engine.RecordPull(t.AllianceID, p.engine.clock.Now(), source, err); rerr != nil {
			slog.Error("failed to record pull", "alliance", t.AllianceID, "error", rerr)
		}
		p.engine.metrics.SyncResult(t.AllianceID, "fetch_failed")
		return Result{}, &SyncError{
			Code:       ErrCodeFetchFailed,
			AllianceID: t.AllianceID,
			Message:    "fetch roster",
			Err:        err,
		}
	}

	name := batch.AllianceName
	if name == "" {
		name = t.AllianceName
	}
	res, err := p.engine.Sync(ctx, Request{
		AllianceID:   t.AllianceID,
		AllianceName: name,
		Members:      batch.Members,
		Timestamp:    batch.Timestamp,
		Source:       source,
	})
	switch {
	case err == nil:
		p.engine.metrics.SyncResult(t.AllianceID, "ok")
	case IsSkipped(err):
		p.engine.metrics.SyncResult(t.AllianceID, "skipped")
		if rerr := p.engine.RecordPull(t.AllianceID, p.engine.clock.Now(), source, err); rerr != nil {
			slog.Error("failed to record pull", "alliance", t.AllianceID, "error", rerr)
		}
	default:
		p.engine.metrics.SyncResult(t.AllianceID, "error")
	}
	return res, err
}

// PullAll syncs every target concurrently and waits for all of them. A
// failing alliance does not affect the others; its error is logged and
// returned in the map.
func (p *Puller) PullAll(ctx context.Context, targets []Target, source string) map[string]error {
	var (
		mu   sync.Mutex
		errs = map[string]error{}
		wg   sync.WaitGroup
	)
	for _, t := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Pull(ctx, t, source); err != nil {
				level := slog.LevelError
				if errors.Is(err, ErrBusy) {
					level = slog.LevelInfo
				}
				slog.Log(ctx, level, "pull failed", "alliance", t.AllianceID, "source", source, "error", err)
				mu.Lock()
				errs[t.AllianceID] = err
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs
}

// PullAsync starts a pull in the background and returns immediately.
// done, if non-nil, receives the outcome. The pull runs on a context
// detached from ctx's cancellation so a finished chat request does not
// abort it.
func (p *Puller) PullAsync(ctx context.Context, t Target, source string, done func(Result, error)) error {
	if t.AllianceID == "" {
		return &SyncError{Code: ErrCodeMissingAllianceID, Message: "pull target has no alliance id"}
	}
	if !p.acquire(t.AllianceID) {
		return ErrBusy
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release(t.AllianceID)
		res, err := p.pull(context.WithoutCancel(ctx), t, source)
		if err != nil {
			slog.Warn("background pull failed", "alliance", t.AllianceID, "error", err)
		}
		if done != nil {
			done(res, err)
		}
	}()
	return nil
}

// Wait blocks until background pulls finish or timeout elapses. It
// reports whether everything finished.
func (p *Puller) Wait(timeout time.Duration) bool {
	ch := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
