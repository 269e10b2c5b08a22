package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/config"
	"github.com/roach88/rollcall/internal/detail"
	"github.com/roach88/rollcall/internal/report"
)

// DetailOptions holds flags for the detail command.
type DetailOptions struct {
	*RootOptions
	Alliance string
	Player   string
	Member   string
	Front    bool
	Hours    float64
	Limit    int
}

// NewDetailCommand creates the detail command.
func NewDetailCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DetailOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "detail run|queue|override|status",
		Short: "Manage member detail enrichment",
		Long: `Manage the worker that fetches per-player statistics such as max power.

  run      - fetch up to --limit stale players now (needs detail.url_template)
  queue    - schedule a player for the next run; --front jumps the queue
  override - set a per-player refresh interval in --hours; 0 clears it
  status   - show the queue, overrides and fetch history

Players are named by --player (site id) or --member (roster name).

Examples:
  rollcall detail run --limit 5
  rollcall detail queue --alliance 42 --member Sisko --front
  rollcall detail override --alliance 42 --player 1001 --hours 12`,
		Args:          cobra.ExactArgs(1),
		ValidArgs:     []string{"run", "queue", "override", "status"},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetail(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Alliance, "alliance", "", "alliance id (run: all alliances when empty)")
	cmd.Flags().StringVar(&opts.Player, "player", "", "player id")
	cmd.Flags().StringVar(&opts.Member, "member", "", "member name, resolved to its player id")
	cmd.Flags().BoolVar(&opts.Front, "front", false, "queue at the front")
	cmd.Flags().Float64Var(&opts.Hours, "hours", 0, "refresh interval override in hours")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "players to fetch (default detail.per_run)")

	return cmd
}

func runDetail(opts *DetailOptions, cmd *cobra.Command, action string) error {
	switch action {
	case "run", "queue", "override", "status":
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown detail action %q: must be run, queue, override or status", action))
	}

	a, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	w, configured, err := a.detailWorker()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid detail configuration", err)
	}
	out := opts.formatter(cmd)

	if action == "run" {
		if !configured {
			return NewExitError(ExitCommandError, "detail.url_template is not configured")
		}
		ids := []string{opts.Alliance}
		if opts.Alliance == "" {
			ids = ids[:0]
			for _, al := range a.cfg.Alliances {
				ids = append(ids, al.ID)
			}
		}
		n, err := w.Run(cmd.Context(), ids, opts.Limit)
		if err != nil {
			return WrapExitError(ExitFailure, "detail run failed", err)
		}
		return out.Render(fmt.Sprintf("Updated details for %d member(s)", n), map[string]int{"updated": n})
	}

	al, err := a.alliance(opts.Alliance)
	if err != nil {
		return err
	}
	if action == "status" {
		st := w.State(al.ID)
		return out.Render(renderDetailState(st), st)
	}

	pid, err := playerID(a, al, opts)
	if err != nil {
		return err
	}
	if action == "queue" {
		if err := w.Queue(al.ID, pid, opts.Front); err != nil {
			return WrapExitError(ExitCommandError, "failed to queue player", err)
		}
		return out.Render(fmt.Sprintf("Queued player %s for detail refresh", pid), map[string]any{"player_id": pid, "front": opts.Front})
	}
	if err := w.SetInterval(al.ID, pid, opts.Hours); err != nil {
		return WrapExitError(ExitCommandError, "failed to set interval", err)
	}
	msg := fmt.Sprintf("Player %s refreshes every %g hours", pid, opts.Hours)
	if opts.Hours <= 0 {
		msg = fmt.Sprintf("Player %s uses the default refresh interval", pid)
	}
	return out.Render(msg, map[string]any{"player_id": pid, "hours": opts.Hours})
}

// playerID resolves --player or --member.
func playerID(a *app, al config.Alliance, opts *DetailOptions) (string, error) {
	if opts.Player != "" {
		return opts.Player, nil
	}
	if opts.Member == "" {
		return "", NewExitError(ExitCommandError, "--player or --member is required")
	}
	m, err := a.store.LoadState(al.ID).FindMember(opts.Member)
	if err != nil {
		return "", WrapExitError(ExitFailure, "member lookup failed", err)
	}
	if m.PlayerID == "" {
		return "", NewExitError(ExitFailure, fmt.Sprintf("%s has no player id", m.Name))
	}
	return m.PlayerID, nil
}

func renderDetailState(st detail.State) string {
	var b strings.Builder
	if len(st.Queue) == 0 {
		b.WriteString("Queue: empty\n")
	} else {
		fmt.Fprintf(&b, "Queue: %s\n", strings.Join(st.Queue, ", "))
	}
	if len(st.Overrides) > 0 {
		ids := make([]string, 0, len(st.Overrides))
		for id := range st.Overrides {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		b.WriteString("Overrides:\n")
		for _, id := range ids {
			fmt.Fprintf(&b, "  %s: %gh\n", id, st.Overrides[id])
		}
	}
	if len(st.Players) == 0 {
		b.WriteString("No fetches recorded")
		return b.String()
	}
	ids := make([]string, 0, len(st.Players))
	for id := range st.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([][]string, 0, len(ids))
	stamp := func(e *detail.Entry, success bool) string {
		t := e.LastAttempt
		if success {
			t = e.LastSuccess
		}
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2006-01-02 15:04")
	}
	for _, id := range ids {
		e := st.Players[id]
		errText := e.LastError
		if errText == "" {
			errText = "-"
		}
		rows = append(rows, []string{id, stamp(e, false), stamp(e, true), errText})
	}
	b.WriteString(report.Table([]string{"Player", "Last attempt", "Last success", "Error"}, rows))
	return b.String()
}
