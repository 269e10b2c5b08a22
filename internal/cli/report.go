package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/delta"
	"github.com/roach88/rollcall/internal/report"
	"github.com/roach88/rollcall/internal/schedule"
)

// ReportOutput is the JSON form of a rendered report.
type ReportOutput struct {
	AllianceID string `json:"alliance_id"`
	Kind       string `json:"kind"`
	Text       string `json:"text"`
	Posted     bool   `json:"posted,omitempty"`
}

// ReadOptions holds flags shared by the read-side commands.
type ReadOptions struct {
	*RootOptions
	Alliance string
	Days     int
	Since    string
	Post     bool
}

// readCommand builds a command that renders one view of an alliance.
func readCommand(rootOpts *RootOptions, use, short, long string, args cobra.PositionalArgs,
	render func(opts *ReadOptions, cmd *cobra.Command, a *app, sc report.Scope, args []string) (string, error),
) (*cobra.Command, *ReadOptions) {
	opts := &ReadOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		Long:          long,
		Args:          args,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			al, err := a.alliance(opts.Alliance)
			if err != nil {
				return err
			}
			text, err := render(opts, cmd, a, a.scope(al), args)
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Render(text, ReportOutput{AllianceID: al.ID, Kind: cmd.Name(), Text: text, Posted: opts.Post})
		},
	}
	cmd.Flags().StringVar(&opts.Alliance, "alliance", "", "alliance id (optional with a single configured alliance)")
	return cmd, opts
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd, opts := readCommand(rootOpts, "report interim|daily|weekly",
		"Render a contribution report",
		`Render the contribution report for a window.

  interim - since the start of today (UTC)
  daily   - the previous UTC day
  weekly  - the previous seven UTC days

With --post the report is also sent to the alliance webhook.

Examples:
  rollcall report daily --alliance 42
  rollcall report weekly --alliance 42 --post`,
		cobra.ExactArgs(1),
		func(opts *ReadOptions, cmd *cobra.Command, a *app, sc report.Scope, args []string) (string, error) {
			p, err := delta.ParsePeriod(args[0])
			if err != nil {
				return "", WrapExitError(ExitCommandError, "invalid report period", err)
			}
			if opts.Post {
				sender := a.routes(sc.AllianceID)
				if sender == nil {
					return "", NewExitError(ExitCommandError, fmt.Sprintf("no webhook configured for alliance %s", sc.AllianceID))
				}
				if err := schedule.PostReport(cmd.Context(), a.reports, sender, sc, p); err != nil {
					return "", WrapExitError(ExitFailure, "failed to post report", err)
				}
			}
			return a.reports.ServiceReport(sc, p), nil
		})
	cmd.Flags().BoolVar(&opts.Post, "post", false, "also post the report to the alliance webhook")
	return cmd
}

// NewRosterCommand creates the roster command.
func NewRosterCommand(rootOpts *RootOptions) *cobra.Command {
	cmd, _ := readCommand(rootOpts, "roster", "Show the active crew manifest",
		"Show active members ordered by rank, level and name.",
		cobra.NoArgs,
		func(_ *ReadOptions, _ *cobra.Command, a *app, sc report.Scope, _ []string) (string, error) {
			return a.reports.Roster(sc), nil
		})
	return cmd
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	cmd, _ := readCommand(rootOpts, "record <name>", "Show a member's service record",
		`Show the service history of one member, looked up by current or
previous name.

Example:
  rollcall record --alliance 42 Sisko`,
		cobra.ExactArgs(1),
		func(_ *ReadOptions, _ *cobra.Command, a *app, sc report.Scope, args []string) (string, error) {
			return a.reports.Record(sc, args[0]), nil
		})
	return cmd
}

// NewChangesCommand creates the changes command.
func NewChangesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd, opts := readCommand(rootOpts, "changes", "List recent service events",
		`List service events from the event stream, newest last.

--since accepts RFC 3339, a date or natural language such as
"last monday" or "3 days ago", and takes precedence over --days.

Examples:
  rollcall changes --alliance 42 --days 7
  rollcall changes --alliance 42 --since "last monday"`,
		cobra.NoArgs,
		func(opts *ReadOptions, cmd *cobra.Command, a *app, sc report.Scope, _ []string) (string, error) {
			if opts.Since != "" {
				since, err := report.ParseSince(opts.Since, a.clock.Now())
				if err != nil {
					return "", WrapExitError(ExitCommandError, "invalid --since", err)
				}
				return a.reports.Changes(cmd.Context(), sc, since, "since "+opts.Since)
			}
			if opts.Days < 1 {
				return "", NewExitError(ExitCommandError, "--days must be at least 1")
			}
			return a.reports.ChangesDays(cmd.Context(), sc, opts.Days)
		})
	cmd.Flags().IntVar(&opts.Days, "days", 30, "look back this many days")
	cmd.Flags().StringVar(&opts.Since, "since", "", "look back to this instant")
	return cmd
}

// NewTopCommand creates the top command.
func NewTopCommand(rootOpts *RootOptions) *cobra.Command {
	cmd, opts := readCommand(rootOpts, "top", "Show top contributors",
		"Rank members by contribution gains over the last --days days.",
		cobra.NoArgs,
		func(opts *ReadOptions, _ *cobra.Command, a *app, sc report.Scope, _ []string) (string, error) {
			if opts.Days < 1 {
				return "", NewExitError(ExitCommandError, "--days must be at least 1")
			}
			return a.reports.Top(sc, opts.Days), nil
		})
	cmd.Flags().IntVar(&opts.Days, "days", 7, "window length in days")
	return cmd
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd, _ := readCommand(rootOpts, "summary", "Show the alliance summary",
		"Show alliance size, average level and rank distribution.",
		cobra.NoArgs,
		func(_ *ReadOptions, _ *cobra.Command, a *app, sc report.Scope, _ []string) (string, error) {
			return a.reports.Summary(sc), nil
		})
	return cmd
}

// NewPullsCommand creates the pulls command.
func NewPullsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd, _ := readCommand(rootOpts, "pulls", "Show recent pull history",
		"Show the most recent sync attempts with their outcome.",
		cobra.NoArgs,
		func(_ *ReadOptions, _ *cobra.Command, a *app, sc report.Scope, _ []string) (string, error) {
			return a.reports.Pulls(sc), nil
		})
	return cmd
}
