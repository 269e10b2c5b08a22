package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/ledger"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Alliance string // optional - specific alliance only
}

// ReplayAllianceResult holds the replay result for a single alliance.
type ReplayAllianceResult struct {
	AllianceID string `json:"alliance_id"`
	Members    int    `json:"members"`
	Inserted   int    `json:"inserted"`
	Total      int    `json:"total"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Alliances []ReplayAllianceResult `json:"alliances"`
	Inserted  int                    `json:"inserted"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the event stream from service histories",
		Long: `Rebuild the SQLite event stream from the per-alliance state documents.

Every event in every member's service history is appended to the stream.
Events already present are skipped, so replay is safe to run repeatedly,
for example after an append failed during a sync.

Exit codes:
  0 - Stream rebuilt
  2 - Command error (unreadable config, store unavailable)

Examples:
  rollcall replay --alliance 42
  rollcall replay --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Alliance, "alliance", "", "replay a specific alliance only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	a, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	var ids []string
	if opts.Alliance != "" {
		ids = []string{opts.Alliance}
	} else {
		for _, al := range a.cfg.Alliances {
			ids = append(ids, al.ID)
		}
	}
	if len(ids) == 0 {
		return NewExitError(ExitCommandError, "no alliances configured, pass --alliance")
	}

	out := opts.formatter(cmd)
	result := ReplayResult{Alliances: []ReplayAllianceResult{}}
	for _, id := range ids {
		out.VerboseLog("Replaying alliance %s", id)
		st := a.store.LoadState(id)
		n, err := ledger.Rebuild(ctx, a.store, st)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to rebuild event stream", err)
		}
		total, err := a.store.CountEvents(ctx, id)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to count events", err)
		}
		result.Alliances = append(result.Alliances, ReplayAllianceResult{
			AllianceID: id,
			Members:    len(st.Members),
			Inserted:   n,
			Total:      total,
		})
		result.Inserted += n
	}

	var b strings.Builder
	for _, r := range result.Alliances {
		fmt.Fprintf(&b, "Alliance %s: %d members, %d events inserted, %d in stream\n", r.AllianceID, r.Members, r.Inserted, r.Total)
	}
	return out.Render(strings.TrimRight(b.String(), "\n"), result)
}
