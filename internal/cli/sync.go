package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/engine"
	"github.com/roach88/rollcall/internal/roster"
	"github.com/roach88/rollcall/internal/source"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Alliance  string
	Roster    string
	Timestamp string
	Name      string
}

// SyncSummary is the outcome of one alliance sync.
type SyncSummary struct {
	AllianceID  string         `json:"alliance_id"`
	Timestamp   time.Time      `json:"timestamp"`
	DataChanged bool           `json:"data_changed"`
	Active      int            `json:"active"`
	Events      map[string]int `json:"events"`
	Pending     int            `json:"pending_reviews"`
	Digest      string         `json:"digest"`
}

func summarize(res engine.Result) SyncSummary {
	s := SyncSummary{
		AllianceID:  res.AllianceID,
		Timestamp:   res.Timestamp,
		DataChanged: res.DataChanged,
		Active:      res.Active,
		Events:      map[string]int{},
		Pending:     len(res.Pending),
		Digest:      res.Digest,
	}
	for _, c := range res.Changes {
		s.Events[string(c.Event.Kind())]++
	}
	return s
}

func (s SyncSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Synced alliance %s at %s: %d active", s.AllianceID, s.Timestamp.Format(time.RFC3339), s.Active)
	if !s.DataChanged {
		b.WriteString(", contributions unchanged")
	}
	if len(s.Events) == 0 {
		b.WriteString(", no service events")
	} else {
		kinds := make([]string, 0, len(s.Events))
		for k := range s.Events {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		parts := make([]string, 0, len(kinds))
		for _, k := range kinds {
			parts = append(parts, fmt.Sprintf("%s %d", k, s.Events[k]))
		}
		fmt.Fprintf(&b, ", events: %s", strings.Join(parts, ", "))
	}
	if s.Pending > 0 {
		fmt.Fprintf(&b, ", %d rename(s) awaiting review", s.Pending)
	}
	return b.String()
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync one alliance from a scraped roster file",
		Long: `Sync one alliance from a scraped roster JSON file.

The file holds either a bare list of members or an object with a members
list, alliance_id and scrape_timestamp. --timestamp and --name override
the values in the file.

Exit codes:
  0 - Sync applied
  1 - Sync rejected (empty roster, alliance mismatch) or failed
  2 - Command error (bad flags, unreadable config)

Examples:
  rollcall sync --alliance 42 --roster ./scrape.json
  rollcall sync --alliance 42 --roster ./scrape.json --timestamp 2025-03-01T12:00:00Z`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Alliance, "alliance", "", "alliance id")
	cmd.Flags().StringVar(&opts.Roster, "roster", "", "path to the scraped roster JSON (required)")
	cmd.Flags().StringVar(&opts.Timestamp, "timestamp", "", "scrape time (RFC 3339); defaults to the file's or now")
	cmd.Flags().StringVar(&opts.Name, "name", "", "alliance display name")
	_ = cmd.MarkFlagRequired("roster")

	return cmd
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", time.DateTime} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// overrideFetcher applies command-line overrides to a fetched batch.
type overrideFetcher struct {
	inner engine.Fetcher
	ts    time.Time
	name  string
}

func (f overrideFetcher) Fetch(ctx context.Context, allianceID string) (roster.ScrapeBatch, error) {
	b, err := f.inner.Fetch(ctx, allianceID)
	if err != nil {
		return b, err
	}
	if !f.ts.IsZero() {
		b.Timestamp = f.ts
	}
	if f.name != "" {
		b.AllianceName = f.name
	}
	return b, nil
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	var ts time.Time
	if opts.Timestamp != "" {
		var err error
		if ts, err = parseTimestamp(opts.Timestamp); err != nil {
			return WrapExitError(ExitCommandError, "invalid --timestamp", err)
		}
	}

	a, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	al, err := a.alliance(opts.Alliance)
	if err != nil {
		return err
	}
	name := opts.Name
	if name == "" {
		name = al.Name
	}

	target := engine.Target{
		AllianceID:   al.ID,
		AllianceName: name,
		Fetcher:      overrideFetcher{inner: source.NewFile(opts.Roster), ts: ts, name: opts.Name},
	}
	out := opts.formatter(cmd)
	out.VerboseLog("Reading roster %s for alliance %s", opts.Roster, al.ID)
	res, err := a.puller.Pull(cmd.Context(), target, "cli")
	if err != nil {
		_ = out.Error(ErrCodeSyncFailed, err.Error(), nil)
		return WrapExitError(ExitFailure, "sync failed", err)
	}
	summary := summarize(res)
	return out.Success(summary)
}

// SyncAllOptions holds flags for the sync-all command.
type SyncAllOptions struct {
	*RootOptions
}

// NewSyncAllCommand creates the sync-all command.
func NewSyncAllCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncAllOptions{RootOptions: rootOpts}

	return &cobra.Command{
		Use:   "sync-all",
		Short: "Sync every configured alliance from its source",
		Long: `Pull every configured alliance concurrently, each from its roster_file,
or from its test_dir in test mode. A failing alliance does not stop the
others.

Example:
  rollcall sync-all --config ./alliances.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncAll(opts, cmd)
		},
	}
}

// SyncAllResult reports a sync-all run.
type SyncAllResult struct {
	Synced []string          `json:"synced"`
	Failed map[string]string `json:"failed,omitempty"`
}

func runSyncAll(opts *SyncAllOptions, cmd *cobra.Command) error {
	a, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if len(a.cfg.Alliances) == 0 {
		return NewExitError(ExitCommandError, "no alliances configured")
	}

	out := opts.formatter(cmd)
	targets := make([]engine.Target, 0, len(a.cfg.Alliances))
	for _, al := range a.cfg.Alliances {
		out.VerboseLog("Pulling alliance %s (%s)", al.ID, al.DisplayName())
		targets = append(targets, source.Target(al, a.store))
	}
	errs := a.puller.PullAll(cmd.Context(), targets, "cli")

	result := SyncAllResult{Synced: []string{}, Failed: map[string]string{}}
	for _, t := range targets {
		if err, ok := errs[t.AllianceID]; ok {
			result.Failed[t.AllianceID] = err.Error()
			continue
		}
		result.Synced = append(result.Synced, t.AllianceID)
	}

	text := fmt.Sprintf("Synced %d of %d alliances", len(result.Synced), len(targets))
	for _, t := range targets {
		if msg, ok := result.Failed[t.AllianceID]; ok {
			text += fmt.Sprintf("\n  %s: %s", t.AllianceID, msg)
		}
	}
	if err := out.Render(text, result); err != nil {
		return err
	}
	if len(result.Failed) > 0 {
		return WrapExitError(ExitFailure, "some alliances failed to sync",
			errors.New(strings.Join(failedIDs(result.Failed), ", ")))
	}
	return nil
}

func failedIDs(m map[string]string) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
