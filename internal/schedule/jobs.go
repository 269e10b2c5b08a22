package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/rollcall/internal/config"
	"github.com/roach88/rollcall/internal/delta"
	"github.com/roach88/rollcall/internal/detail"
	"github.com/roach88/rollcall/internal/engine"
	"github.com/roach88/rollcall/internal/notify"
	"github.com/roach88/rollcall/internal/report"
	"github.com/roach88/rollcall/internal/source"
	"github.com/roach88/rollcall/internal/store"
)

// Jobs holds what the standard jobs operate on.
type Jobs struct {
	Config  *config.Config
	Store   *store.Store
	Puller  *engine.Puller
	Reports *report.Service
	Routes  notify.Routes
	// Admin, if set, receives sync failure alerts.
	Admin notify.Sender
	// Worker is nil when member details are not configured.
	Worker *detail.Worker
}

// Register adds every job whose schedule is set.
func (j *Jobs) Register(s *Scheduler) error {
	type job struct {
		name string
		spec string
		run  func(context.Context)
	}
	sc := j.Config.Schedule
	jobs := []job{
		{"sync", sc.Sync, j.Sync},
		{"daily-report", sc.DailyReport, j.Report(delta.Daily)},
		{"weekly-report", sc.WeeklyReport, j.Report(delta.Weekly)},
	}
	if j.Worker != nil {
		jobs = append(jobs, job{"detail", sc.Detail, j.Detail})
	}
	for _, jb := range jobs {
		if err := s.Add(jb.name, jb.spec, jb.run); err != nil {
			return err
		}
	}
	return nil
}

// Targets returns a pull target for every configured alliance.
func (j *Jobs) Targets() []engine.Target {
	out := make([]engine.Target, 0, len(j.Config.Alliances))
	for _, a := range j.Config.Alliances {
		out = append(out, source.Target(a, j.Store))
	}
	return out
}

// AllianceIDs lists the configured alliances in file order.
func (j *Jobs) AllianceIDs() []string {
	out := make([]string, 0, len(j.Config.Alliances))
	for _, a := range j.Config.Alliances {
		out = append(out, a.ID)
	}
	return out
}

// Sync pulls every alliance.
func (j *Jobs) Sync(ctx context.Context) {
	errs := j.Puller.PullAll(ctx, j.Targets(), "scheduled")
	slog.Info("scheduled sync finished", "alliances", len(j.Config.Alliances), "failed", len(errs))
	if j.Admin == nil {
		return
	}
	for _, id := range j.AllianceIDs() {
		err, ok := errs[id]
		if !ok || errors.Is(err, engine.ErrBusy) || engine.IsSkipped(err) {
			continue
		}
		msg := fmt.Sprintf("⚠️ Scheduled sync failed for alliance %s: %v", id, err)
		if perr := j.Admin.Post(ctx, msg); perr != nil {
			slog.Warn("failed to post admin alert", "alliance", id, "error", perr)
		}
	}
}

// Report returns a job posting the period's report for every alliance.
func (j *Jobs) Report(p delta.Period) func(context.Context) {
	return func(ctx context.Context) {
		for _, a := range j.Config.Alliances {
			sender := j.Routes(a.ID)
			if sender == nil {
				slog.Debug("no webhook configured, skipping report", "alliance", a.ID, "period", p)
				continue
			}
			sc := report.Scope{AllianceID: a.ID, Name: a.DisplayName()}
			if err := PostReport(ctx, j.Reports, sender, sc, p); err != nil {
				slog.Error("failed to post report", "alliance", a.ID, "period", p, "error", err)
			}
		}
	}
}

// Detail spends one detail worker budget across the alliances.
func (j *Jobs) Detail(ctx context.Context) {
	n, err := j.Worker.Run(ctx, j.AllianceIDs(), 0)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("detail run failed", "error", err)
		return
	}
	slog.Debug("detail run finished", "updated", n)
}

// PostReport renders the period's report and posts it, split to fit the
// webhook message limit.
func PostReport(ctx context.Context, reports *report.Service, sender notify.Sender, sc report.Scope, p delta.Period) error {
	content := reports.ServiceReport(sc, p)
	for i, part := range notify.Split(content, notify.MaxMessageLength) {
		if err := sender.Post(ctx, part); err != nil {
			return fmt.Errorf("post %s report part %d: %w", p, i+1, err)
		}
	}
	slog.Info("report posted", "alliance", sc.AllianceID, "period", p)
	return nil
}
