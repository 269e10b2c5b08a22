package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/config"
	"github.com/roach88/rollcall/internal/engine"
	"github.com/roach88/rollcall/internal/interact"
	"github.com/roach88/rollcall/internal/notify"
	"github.com/roach88/rollcall/internal/schedule"
	"github.com/roach88/rollcall/internal/source"
)

// shutdownGrace bounds in-flight requests and scheduled jobs at shutdown.
const shutdownGrace = 30 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr        string
	NoScheduler bool

	// Ready, if set, is called with the bound address once the server
	// accepts connections (for testing).
	Ready func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve chat commands, metrics and scheduled jobs",
		Long: `Run the long-lived process: the HTTP command endpoint, health probes,
Prometheus metrics and the cron scheduler for syncs, reports and member
details.

Endpoints:
  POST /commands          {guild_id, user_id, command, options}
  POST /commands/confirm  {token, user_id}
  GET  /healthz, /readyz, /metrics

Example:
  rollcall serve --config /data/alliances.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default http.addr from config)")
	cmd.Flags().BoolVar(&opts.NoScheduler, "no-scheduler", false, "serve commands without running scheduled jobs")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	a, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	addr := opts.Addr
	if addr == "" {
		addr = a.cfg.HTTP.Addr
	}

	worker, detailsOn, err := a.detailWorker()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid detail configuration", err)
	}

	router := interact.NewRouter(interact.Deps{
		Config:  a.cfg,
		Store:   a.store,
		Reports: a.reports,
		Reviews: a.reviews,
		Puller:  a.puller,
		Target: func(al config.Alliance) engine.Target {
			return source.Target(al, a.store)
		},
		Pending: interact.NewPending(interact.DefaultTTL, a.clock),
		Clock:   a.clock,
		Version: cmd.Root().Version,
	})

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var admin notify.Sender
	if a.cfg.Webhook.AdminURL != "" {
		admin = notify.NewWebhook(a.cfg.Webhook.AdminURL, notify.WithRate(a.cfg.Webhook.RatePerSecond, a.cfg.Webhook.Burst))
	}
	jobs := &schedule.Jobs{
		Config:  a.cfg,
		Store:   a.store,
		Puller:  a.puller,
		Reports: a.reports,
		Routes:  a.routes,
		Admin:   admin,
	}
	if detailsOn {
		jobs.Worker = worker
	}

	var sched *schedule.Scheduler
	if !opts.NoScheduler {
		sched = schedule.New()
		if err := jobs.Register(sched); err != nil {
			return WrapExitError(ExitCommandError, "invalid schedule", err)
		}
		sched.Start()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:      interact.NewHandler(router, a.store, a.registry),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Serve(ln)
	}()
	slog.Info("server starting", "addr", ln.Addr().String(), "alliances", len(a.cfg.Alliances), "scheduler", sched != nil)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", ln.Addr())
	if opts.Ready != nil {
		opts.Ready(ln.Addr().String())
	}

	if admin != nil {
		go func() {
			msg := fmt.Sprintf("🐾 Scrappy is on duty (%s), tracking %d alliance(s).", cmd.Root().Version, len(a.cfg.Alliances))
			if err := admin.Post(ctx, msg); err != nil {
				slog.Warn("failed to post startup notice", "error", err)
			}
		}()
	}
	if a.cfg.Schedule.SyncOnStart && !opts.NoScheduler {
		go jobs.Sync(ctx)
	}

	var serveErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = WrapExitError(ExitFailure, "server error", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownGrace)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
	if sched != nil && !sched.Stop(shutdownGrace) {
		slog.Warn("scheduled jobs still running at shutdown")
	}
	slog.Info("server stopped gracefully")
	return serveErr
}
