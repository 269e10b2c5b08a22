// Package interact is the chat command boundary.
//
// A Router turns a Command into a Response. It never returns an error:
// failures become a friendly message and internal detail stays in the
// log. Destructive commands are parked in a Pending store and run only
// when the same user confirms them.
package interact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/rollcall/internal/config"
	"github.com/roach88/rollcall/internal/delta"
	"github.com/roach88/rollcall/internal/engine"
	"github.com/roach88/rollcall/internal/report"
	"github.com/roach88/rollcall/internal/review"
	"github.com/roach88/rollcall/internal/roster"
	"github.com/roach88/rollcall/internal/store"
)

const (
	msgInternal = "Scrappy hit a snag in the Jefferies tubes. The engineers have been notified, Captain."
	msgUnknown  = "Scrappy tilts his head. That command is not recognized, Captain. Try help."
)

// Command is one chat invocation.
type Command struct {
	GuildID string            `json:"guild_id"`
	UserID  string            `json:"user_id"`
	Name    string            `json:"command"`
	Options map[string]string `json:"options"`
}

func (c Command) opt(name string) string {
	return strings.TrimSpace(c.Options[name])
}

// Response is what the chat surface shows. Token is set when the
// command awaits confirmation.
type Response struct {
	Content   string `json:"content"`
	Ephemeral bool   `json:"ephemeral,omitempty"`
	Token     string `json:"token,omitempty"`
}

// userError carries a message safe to show the user.
type userError struct{ msg string }

func (e *userError) Error() string { return e.msg }

func userErrorf(format string, args ...any) error {
	return &userError{msg: fmt.Sprintf(format, args...)}
}

// Deps are the services a Router calls into.
type Deps struct {
	Config  *config.Config
	Store   *store.Store
	Reports *report.Service
	Reviews *review.Service
	Puller  *engine.Puller
	// Target builds the pull target for a configured alliance.
	Target  func(config.Alliance) engine.Target
	Pending *Pending
	Clock   roster.Clock
	Version string
}

type handler func(ctx context.Context, cmd Command, a config.Alliance) (Response, error)

type route struct {
	help string
	// scoped commands need a resolved alliance.
	scoped bool
	run    handler
}

// Router dispatches chat commands.
type Router struct {
	deps    Deps
	started time.Time
	routes  map[string]route
}

// NewRouter wires the command table.
func NewRouter(d Deps) *Router {
	if d.Clock == nil {
		d.Clock = roster.SystemClock{}
	}
	if d.Pending == nil {
		d.Pending = NewPending(DefaultTTL, d.Clock)
	}
	r := &Router{deps: d, started: d.Clock.Now()}

	periodReport := func(p delta.Period) handler {
		return func(_ context.Context, cmd Command, a config.Alliance) (Response, error) {
			return Response{Content: r.deps.Reports.ServiceReport(r.scope(cmd, a), p)}, nil
		}
	}
	showRoster := func(_ context.Context, cmd Command, a config.Alliance) (Response, error) {
		return Response{Content: r.deps.Reports.Roster(r.scope(cmd, a))}, nil
	}

	r.routes = map[string]route{
		"help":             {help: "List the available commands.", run: r.help},
		"bark":             {help: "Scrappy says hello.", run: r.bark},
		"warp-test":        {help: "Check whether Scrappy is ready for warp.", run: r.warpTest},
		"version":          {help: "Show the running version.", run: r.version},
		"uptime":           {help: "Show system status and uptime.", run: r.uptime},
		"status":           {help: "Short overview of tracked alliances.", run: r.status},
		"interim":          {help: "Contributions since the start of today (UTC).", scoped: true, run: periodReport(delta.Interim)},
		"report":           {help: "Contribution report; option period=interim|daily|weekly.", scoped: true, run: r.report},
		"dailyreport":      {help: "Contributions over the previous UTC day.", scoped: true, run: periodReport(delta.Daily)},
		"weeklyreport":     {help: "Contributions over the previous seven days.", scoped: true, run: periodReport(delta.Weekly)},
		"roster":           {help: "Current crew manifest.", scoped: true, run: showRoster},
		"manifest":         {help: "Alias of roster.", scoped: true, run: showRoster},
		"fullroster":       {help: "Crew manifest with join dates.", scoped: true, run: showRoster},
		"servicerecord":    {help: "Service record of one member; option name.", scoped: true, run: r.serviceRecord},
		"recent-changes":   {help: "Crew changes; option days (default 30) or since.", scoped: true, run: r.recentChanges},
		"top-contributors": {help: "Top helps, resources and isotopes; option days (default 7).", scoped: true, run: r.topContributors},
		"alliance-summary": {help: "Alliance size, average level and ranks.", scoped: true, run: r.summary},
		"pulls":            {help: "The last twenty pulls.", scoped: true, run: r.pulls},
		"forcepull":        {help: "Fetch the roster now; replies immediately.", scoped: true, run: r.forcePull},
		"review":           {help: "Rename reviews; option action=list|approve|decline and item.", scoped: true, run: r.review},
		"alias":            {help: "Display-name override for this server; options name and alias.", scoped: true, run: r.alias},
	}
	return r
}

// Handle runs cmd. It recovers panics and maps every error to a message
// fit for chat.
func (r *Router) Handle(ctx context.Context, cmd Command) (resp Response) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("command panicked",
				"command", cmd.Name,
				"guild", cmd.GuildID,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			resp = Response{Content: msgInternal, Ephemeral: true}
		}
	}()

	name := strings.ToLower(strings.TrimSpace(cmd.Name))
	rt, ok := r.routes[name]
	if !ok {
		return Response{Content: msgUnknown, Ephemeral: true}
	}

	var a config.Alliance
	if rt.scoped {
		var err error
		if a, err = r.resolveAlliance(cmd); err != nil {
			return r.fail(cmd, err)
		}
	}

	resp, err := rt.run(ctx, cmd, a)
	if err != nil {
		return r.fail(cmd, err)
	}
	return resp
}

func (r *Router) fail(cmd Command, err error) Response {
	var ue *userError
	switch {
	case errors.As(err, &ue):
		return Response{Content: ue.msg, Ephemeral: true}
	case errors.Is(err, engine.ErrBusy):
		return Response{Content: "A pull for this alliance is already underway, Captain. Stand by.", Ephemeral: true}
	case errors.Is(err, ErrUnknownToken):
		return Response{Content: "That confirmation has expired or was already used, Captain.", Ephemeral: true}
	case errors.Is(err, ErrWrongUser):
		return Response{Content: "Only the officer who issued that order can confirm it.", Ephemeral: true}
	}
	slog.Error("command failed", "command", cmd.Name, "guild", cmd.GuildID, "error", err)
	return Response{Content: msgInternal, Ephemeral: true}
}

// resolveAlliance picks the alliance a command applies to: the explicit
// alliance option, else the guild's only linked alliance.
func (r *Router) resolveAlliance(cmd Command) (config.Alliance, error) {
	if id := cmd.opt("alliance"); id != "" {
		a, ok := r.deps.Config.Alliance(id)
		if !ok {
			return config.Alliance{}, userErrorf("Scrappy has no records for alliance %s, Captain.", id)
		}
		return a, nil
	}

	linked := r.deps.Config.AlliancesForGuild(cmd.GuildID)
	switch len(linked) {
	case 1:
		return linked[0], nil
	case 0:
		return config.Alliance{}, userErrorf("This server is not linked to an alliance. Pass the alliance option with an alliance id, Captain.")
	}
	ids := make([]string, len(linked))
	for i, a := range linked {
		ids[i] = fmt.Sprintf("%s (%s)", a.DisplayName(), a.ID)
	}
	return config.Alliance{}, userErrorf("This server tracks several alliances: %s. Pass the alliance option to choose one, Captain.",
		strings.Join(ids, ", "))
}

func (r *Router) scope(cmd Command, a config.Alliance) report.Scope {
	return report.Scope{AllianceID: a.ID, Name: a.Name, GuildID: cmd.GuildID}
}

func (r *Router) help(context.Context, Command, config.Alliance) (Response, error) {
	names := make([]string, 0, len(r.routes))
	for n := range r.routes {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Scrappy brings up the command roster on the LCARS console, Captain.\n\n")
	for _, n := range names {
		fmt.Fprintf(&b, "%s: %s\n", n, r.routes[n].help)
	}
	return Response{Content: strings.TrimRight(b.String(), "\n"), Ephemeral: true}, nil
}

func (r *Router) bark(context.Context, Command, config.Alliance) (Response, error) {
	return Response{Content: "Woof! Scrappy wags his tail and awaits your orders, Captain."}, nil
}

func (r *Router) warpTest(context.Context, Command, config.Alliance) (Response, error) {
	return Response{Content: "Warp core stable, nacelles charged. Scrappy confirms we are ready for warp, Captain."}, nil
}

func (r *Router) version(context.Context, Command, config.Alliance) (Response, error) {
	return Response{Content: fmt.Sprintf("Rollcall %s reporting for duty, Captain.", r.deps.Version)}, nil
}

func (r *Router) uptime(context.Context, Command, config.Alliance) (Response, error) {
	up := r.deps.Clock.Now().Sub(r.started)
	days := int(up.Hours()) / 24
	hours := int(up.Hours()) % 24
	mins := int(up.Minutes()) % 60

	var b strings.Builder
	b.WriteString("All systems operational, Captain.\n\n")
	fmt.Fprintf(&b, "Uptime: %dd %dh %dm\n", days, hours, mins)
	fmt.Fprintf(&b, "Version: %s\n", r.deps.Version)
	fmt.Fprintf(&b, "Started: %s", r.started.UTC().Format(time.RFC3339))
	return Response{Content: b.String()}, nil
}

func (r *Router) status(context.Context, Command, config.Alliance) (Response, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Tracked alliances: %d", len(r.deps.Config.Alliances))
	for _, a := range r.deps.Config.Alliances {
		st := r.deps.Store.LoadState(a.ID)
		last := "never"
		if !st.LastSync.IsZero() {
			last = st.LastSync.UTC().Format("2006-01-02 15:04 UTC")
		}
		busy := ""
		if r.deps.Puller != nil && r.deps.Puller.Busy(a.ID) {
			busy = ", pull in progress"
		}
		fmt.Fprintf(&b, "\n- %s (ID %s): %d active, last sync %s%s",
			a.DisplayName(), a.ID, len(st.ActiveMembers()), last, busy)
	}
	return Response{Content: b.String()}, nil
}

func (r *Router) report(_ context.Context, cmd Command, a config.Alliance) (Response, error) {
	name := cmd.opt("period")
	if name == "" {
		name = string(delta.Interim)
	}
	p, err := delta.ParsePeriod(strings.ToLower(name))
	if err != nil {
		return Response{}, userErrorf("Period must be interim, daily or weekly, Captain.")
	}
	return Response{Content: r.deps.Reports.ServiceReport(r.scope(cmd, a), p)}, nil
}

func (r *Router) serviceRecord(_ context.Context, cmd Command, a config.Alliance) (Response, error) {
	name := cmd.opt("name")
	if name == "" {
		return Response{}, userErrorf("Which officer, Captain? Pass the name option.")
	}
	return Response{Content: r.deps.Reports.Record(r.scope(cmd, a), name)}, nil
}

func (r *Router) recentChanges(ctx context.Context, cmd Command, a config.Alliance) (Response, error) {
	sc := r.scope(cmd, a)
	if since := cmd.opt("since"); since != "" {
		t, err := report.ParseSince(since, r.deps.Clock.Now())
		if err != nil {
			return Response{}, userErrorf("Scrappy could not make sense of %q as a point in the past, Captain.", since)
		}
		out, err := r.deps.Reports.Changes(ctx, sc, t, "since "+t.Format("2006-01-02 15:04 UTC"))
		return Response{Content: out}, err
	}
	days, err := intOpt(cmd, "days", 30)
	if err != nil {
		return Response{}, err
	}
	out, err := r.deps.Reports.ChangesDays(ctx, sc, days)
	return Response{Content: out}, err
}

func (r *Router) topContributors(_ context.Context, cmd Command, a config.Alliance) (Response, error) {
	days, err := intOpt(cmd, "days", 7)
	if err != nil {
		return Response{}, err
	}
	return Response{Content: r.deps.Reports.Top(r.scope(cmd, a), days)}, nil
}

func (r *Router) summary(_ context.Context, cmd Command, a config.Alliance) (Response, error) {
	return Response{Content: r.deps.Reports.Summary(r.scope(cmd, a))}, nil
}

func (r *Router) pulls(_ context.Context, cmd Command, a config.Alliance) (Response, error) {
	return Response{Content: r.deps.Reports.Pulls(r.scope(cmd, a))}, nil
}

func (r *Router) forcePull(ctx context.Context, cmd Command, a config.Alliance) (Response, error) {
	if r.deps.Puller == nil || r.deps.Target == nil {
		return Response{}, userErrorf("Force pulls are not available on this console, Captain.")
	}
	t := r.deps.Target(a)
	err := r.deps.Puller.PullAsync(ctx, t, "chat", func(res engine.Result, err error) {
		if err == nil {
			slog.Info("forced pull finished", "alliance", a.ID, "changes", len(res.Changes), "user", cmd.UserID)
		}
	})
	if err != nil {
		return Response{}, err
	}
	return Response{Content: fmt.Sprintf("Scrappy is fetching fresh data for %s, Captain. Results will follow in the log.", a.DisplayName())}, nil
}

func (r *Router) review(_ context.Context, cmd Command, a config.Alliance) (Response, error) {
	action := strings.ToLower(cmd.opt("action"))
	if action == "" || action == "list" {
		return r.listReviews(a)
	}
	if action != "approve" && action != "decline" {
		return Response{}, userErrorf("Review action must be list, approve or decline, Captain.")
	}

	key, item, err := r.reviewKey(cmd, a)
	if err != nil {
		return Response{}, err
	}
	token := r.deps.Pending.Create(Interaction{
		Command:    "review",
		Options:    map[string]string{"action": action, "file": key.File, "old": key.OldName, "new": key.NewName},
		GuildID:    cmd.GuildID,
		UserID:     cmd.UserID,
		AllianceID: a.ID,
	})
	verb := "merge"
	if action == "decline" {
		verb = "keep apart"
	}
	return Response{
		Content: fmt.Sprintf("Confirm: %s %s and %s (score %.3f)? Confirm within %s.",
			verb, item.OldName, item.NewName, item.Score, DefaultTTL),
		Ephemeral: true,
		Token:     token,
	}, nil
}

func (r *Router) listReviews(a config.Alliance) (Response, error) {
	items, err := r.deps.Reviews.List(a.ID)
	if err != nil {
		return Response{}, err
	}
	if len(items) == 0 {
		return Response{Content: fmt.Sprintf("No rename reviews waiting for %s, Captain.", a.DisplayName())}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Rename reviews for %s:", a.DisplayName())
	for i, it := range items {
		fmt.Fprintf(&b, "\n%d. %s -> %s (%s)", i+1, it.OldName, it.NewName, it.Reason)
	}
	return Response{Content: b.String(), Ephemeral: true}, nil
}

// reviewKey selects a review by its 1-based item number or by the old
// and new names.
func (r *Router) reviewKey(cmd Command, a config.Alliance) (review.Key, review.Item, error) {
	items, err := r.deps.Reviews.List(a.ID)
	if err != nil {
		return review.Key{}, review.Item{}, err
	}
	if s := cmd.opt("item"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > len(items) {
			return review.Key{}, review.Item{}, userErrorf("There is no review number %s, Captain.", s)
		}
		it := items[n-1]
		return review.Key{File: it.File, OldName: it.OldName, NewName: it.NewName}, it, nil
	}
	oldName, newName := cmd.opt("old"), cmd.opt("new")
	for _, it := range items {
		if it.OldName == oldName && it.NewName == newName {
			return review.Key{File: it.File, OldName: it.OldName, NewName: it.NewName}, it, nil
		}
	}
	return review.Key{}, review.Item{}, userErrorf("Scrappy found no matching rename review, Captain.")
}

func (r *Router) alias(_ context.Context, cmd Command, a config.Alliance) (Response, error) {
	name := cmd.opt("name")
	if name == "" {
		return Response{}, userErrorf("Pass the name option, Captain.")
	}
	alias := cmd.opt("alias")
	err := r.exclusive(a.ID, func() error {
		st := r.deps.Store.LoadState(a.ID)
		st.SetNameOverride(cmd.GuildID, name, alias)
		return r.deps.Store.SaveState(st)
	})
	if err != nil {
		return Response{}, err
	}
	if alias == "" {
		return Response{Content: fmt.Sprintf("%s will appear under their own name again.", name), Ephemeral: true}, nil
	}
	return Response{Content: fmt.Sprintf("%s will appear as %s on this server.", name, alias), Ephemeral: true}, nil
}

// exclusive runs a state write for allianceID unless a pull holds it.
func (r *Router) exclusive(allianceID string, fn func() error) error {
	if r.deps.Puller == nil {
		return fn()
	}
	return r.deps.Puller.Exclusive(allianceID, fn)
}

// Confirm completes a parked interaction for userID. A pull in flight for
// the alliance refuses the write and the review stays open.
func (r *Router) Confirm(ctx context.Context, token, userID string) (resp Response) {
	cmd := Command{Name: "confirm", UserID: userID}
	defer func() {
		if p := recover(); p != nil {
			slog.Error("confirmation panicked", "panic", p, "stack", string(debug.Stack()))
			resp = Response{Content: msgInternal, Ephemeral: true}
		}
	}()

	in, err := r.deps.Pending.Pop(token, userID)
	if err != nil {
		return r.fail(cmd, err)
	}
	cmd = Command{GuildID: in.GuildID, UserID: in.UserID, Name: in.Command, Options: in.Options}

	key := review.Key{File: in.Options["file"], OldName: in.Options["old"], NewName: in.Options["new"]}
	switch in.Options["action"] {
	case "approve":
		var out review.Outcome
		err := r.exclusive(in.AllianceID, func() (err error) {
			out, err = r.deps.Reviews.Approve(ctx, in.AllianceID, key)
			return err
		})
		if errors.Is(err, roster.ErrNotFound) {
			return r.fail(cmd, userErrorf("That review was already resolved, Captain."))
		}
		if err != nil {
			return r.fail(cmd, err)
		}
		return Response{Content: fmt.Sprintf("Records merged. %s now carries the service history of %s.",
			out.Survivor.Name, key.OldName)}
	case "decline":
		err := r.exclusive(in.AllianceID, func() error {
			return r.deps.Reviews.Decline(in.AllianceID, key)
		})
		if errors.Is(err, roster.ErrNotFound) {
			return r.fail(cmd, userErrorf("That review was already resolved, Captain."))
		}
		if err != nil {
			return r.fail(cmd, err)
		}
		return Response{Content: fmt.Sprintf("Understood. %s and %s stay on separate records.", key.OldName, key.NewName)}
	}
	return r.fail(cmd, fmt.Errorf("confirm: unknown action %q", in.Options["action"]))
}

func intOpt(cmd Command, name string, fallback int) (int, error) {
	s := cmd.opt(name)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, userErrorf("%s must be a positive whole number, Captain.", name)
	}
	return n, nil
}
