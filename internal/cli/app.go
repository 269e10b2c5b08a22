package cli

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/config"
	"github.com/roach88/rollcall/internal/detail"
	"github.com/roach88/rollcall/internal/engine"
	"github.com/roach88/rollcall/internal/identity"
	"github.com/roach88/rollcall/internal/metrics"
	"github.com/roach88/rollcall/internal/notify"
	"github.com/roach88/rollcall/internal/report"
	"github.com/roach88/rollcall/internal/review"
	"github.com/roach88/rollcall/internal/roster"
	"github.com/roach88/rollcall/internal/store"
)

// notifyDrain bounds how long a command waits for queued notifications
// before exiting.
const notifyDrain = 30 * time.Second

// app is the wiring shared by every command that touches the store.
type app struct {
	cfg        *config.Config
	store      *store.Store
	clock      roster.Clock
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	engine     *engine.Engine
	puller     *engine.Puller
	dispatcher *notify.Dispatcher
	routes     notify.Routes
	reports    *report.Service
	reviews    *review.Service
}

// setupLogging installs the default slog handler on w.
func setupLogging(w io.Writer, level slog.Level, format string) {
	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(w, hopts)
	if format == "json" {
		h = slog.NewJSONHandler(w, hopts)
	}
	slog.SetDefault(slog.New(h))
}

// open loads the configuration, configures logging and opens the store.
// Callers must close the returned app.
func (o *RootOptions) open(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	level := cfg.SlogLevel()
	if o.Verbose {
		level = slog.LevelDebug
	}
	setupLogging(cmd.ErrOrStderr(), level, cfg.Log.Format)
	if cfg.Path != "" {
		slog.Debug("configuration loaded", "path", cfg.Path, "alliances", len(cfg.Alliances))
	}

	st, err := store.Open(cfg.DataRoot)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open data root", err)
	}

	clock := o.Clock
	if clock == nil {
		clock = roster.SystemClock{}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	routes := notify.StaticRoutes(cfg.WebhookFor,
		notify.WithRate(cfg.Webhook.RatePerSecond, cfg.Webhook.Burst))
	dispatcher := notify.NewDispatcher(routes, cfg.Webhook.Concurrency, m)

	eng := engine.New(st, identity.NewMatcher(cfg.Matching),
		engine.WithClock(clock),
		engine.WithMetrics(m),
		engine.WithNotifier(dispatcher),
	)

	return &app{
		cfg:        cfg,
		store:      st,
		clock:      clock,
		registry:   reg,
		metrics:    m,
		engine:     eng,
		puller:     engine.NewPuller(eng),
		dispatcher: dispatcher,
		routes:     routes,
		reports:    report.NewService(st, clock, cfg.Reports.TopN),
		reviews:    review.NewService(st, clock),
	}, nil
}

// close waits for background pulls and queued notifications, then
// closes the store.
func (a *app) close() {
	if !a.puller.Wait(notifyDrain) {
		slog.Warn("background pulls still running at exit")
	}
	if !a.dispatcher.Wait(notifyDrain) {
		slog.Warn("notifications still pending at exit")
	}
	if err := a.store.Close(); err != nil {
		slog.Error("error closing store", "error", err)
	}
}

// alliance resolves --alliance. With no id and exactly one configured
// alliance, that one is used. An id missing from the configuration is
// accepted as a bare alliance.
func (a *app) alliance(id string) (config.Alliance, error) {
	if id == "" {
		if len(a.cfg.Alliances) == 1 {
			return a.cfg.Alliances[0], nil
		}
		return config.Alliance{}, NewExitError(ExitCommandError,
			fmt.Sprintf("--alliance is required (%d alliances configured)", len(a.cfg.Alliances)))
	}
	if al, ok := a.cfg.Alliance(id); ok {
		return al, nil
	}
	return config.Alliance{ID: id}, nil
}

func (a *app) scope(al config.Alliance) report.Scope {
	return report.Scope{AllianceID: al.ID, Name: al.Name}
}

// detailWorker builds the member detail worker. Without a configured URL
// template the worker has no fetcher: it can manage queues and overrides
// but must not run, and configured is false.
func (a *app) detailWorker() (w *detail.Worker, configured bool, err error) {
	d := a.cfg.Detail
	var f detail.Fetcher
	if d.URLTemplate != "" {
		hf, err := detail.NewHTTPFetcher(d.URLTemplate)
		if err != nil {
			return nil, false, err
		}
		f = hf
	}
	w = detail.NewWorker(a.store, f, detail.Config{
		Interval: time.Duration(d.IntervalHours) * time.Hour,
		Backoff:  time.Duration(d.BackoffMinutes) * time.Minute,
		PerRun:   d.PerRun,
	},
		detail.WithClock(a.clock),
		detail.WithMetrics(a.metrics),
		detail.WithBusy(a.puller.Busy),
	)
	return w, f != nil, nil
}
