package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/report"
	"github.com/roach88/rollcall/internal/review"
)

// ReviewOptions holds flags for the review command.
type ReviewOptions struct {
	*RootOptions
	Alliance string
	File     string
	Old      string
	New      string
}

// ReviewItem is the JSON form of an open review.
type ReviewItem struct {
	File    string  `json:"file"`
	OldName string  `json:"old_name"`
	NewName string  `json:"new_name"`
	Reason  string  `json:"reason"`
	Score   float64 `json:"score"`
	Notes   string  `json:"notes,omitempty"`
}

// NewReviewCommand creates the review command.
func NewReviewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReviewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "review list|approve|decline",
		Short: "Resolve pending rename reviews",
		Long: `List, approve or decline possible renames the matcher could not
confirm on its own.

approve merges the old and new member into one service record; decline
keeps them apart. --file may be omitted when --old and --new identify a
single open review.

Examples:
  rollcall review list --alliance 42
  rollcall review approve --alliance 42 --old Quark --new Odo`,
		Args:          cobra.ExactArgs(1),
		ValidArgs:     []string{"list", "approve", "decline"},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReview(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Alliance, "alliance", "", "alliance id")
	cmd.Flags().StringVar(&opts.File, "file", "", "pending review file")
	cmd.Flags().StringVar(&opts.Old, "old", "", "old member name")
	cmd.Flags().StringVar(&opts.New, "new", "", "new member name")

	return cmd
}

func runReview(opts *ReviewOptions, cmd *cobra.Command, action string) error {
	switch action {
	case "list", "approve", "decline":
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown review action %q: must be list, approve or decline", action))
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
	out := opts.formatter(cmd)

	items, err := a.reviews.List(al.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list reviews", err)
	}
	if action == "list" {
		return renderReviews(out, items)
	}

	key, err := reviewKey(opts, items)
	if err != nil {
		return err
	}

	if action == "decline" {
		err := a.puller.Exclusive(al.ID, func() error { return a.reviews.Decline(al.ID, key) })
		if err != nil {
			return reviewError(out, err)
		}
		return out.Render(fmt.Sprintf("Declined: %s and %s stay on separate records", key.OldName, key.NewName),
			map[string]string{"declined": key.OldName + " -> " + key.NewName})
	}

	var outcome review.Outcome
	err = a.puller.Exclusive(al.ID, func() (err error) {
		outcome, err = a.reviews.Approve(cmd.Context(), al.ID, key)
		return err
	})
	if err != nil {
		return reviewError(out, err)
	}
	text := fmt.Sprintf("Merged %s into %s (%d review(s) cleared)", key.NewName, outcome.Survivor.Name, outcome.Cleared)
	return out.Render(text, map[string]any{
		"survivor_id":   outcome.Survivor.ID,
		"survivor_name": outcome.Survivor.Name,
		"cleared":       outcome.Cleared,
	})
}

func renderReviews(out *OutputFormatter, items []review.Item) error {
	rows := make([][]string, 0, len(items))
	data := make([]ReviewItem, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{it.File, it.OldName, it.NewName, it.Reason, fmt.Sprintf("%.2f", it.Score)})
		data = append(data, ReviewItem{
			File: it.File, OldName: it.OldName, NewName: it.NewName,
			Reason: it.Reason, Score: it.Score, Notes: it.Notes,
		})
	}
	text := "No pending reviews"
	if len(items) > 0 {
		text = report.Table([]string{"File", "Old", "New", "Reason", "Score"}, rows)
	}
	return out.Render(text, data)
}

// reviewKey builds the key from flags. Without --file the old and new
// names must pick exactly one open review.
func reviewKey(opts *ReviewOptions, items []review.Item) (review.Key, error) {
	if opts.Old == "" || opts.New == "" {
		return review.Key{}, NewExitError(ExitCommandError, "--old and --new are required")
	}
	key := review.Key{File: opts.File, OldName: opts.Old, NewName: opts.New}
	if key.File != "" {
		return key, nil
	}
	var files []string
	for _, it := range items {
		if strings.EqualFold(it.OldName, opts.Old) && strings.EqualFold(it.NewName, opts.New) {
			files = append(files, it.File)
			key.OldName, key.NewName = it.OldName, it.NewName
		}
	}
	switch len(files) {
	case 0:
		return review.Key{}, NewExitError(ExitFailure, fmt.Sprintf("no open review for %s -> %s", opts.Old, opts.New))
	case 1:
		key.File = files[0]
		return key, nil
	default:
		return review.Key{}, NewExitError(ExitCommandError,
			fmt.Sprintf("%d reviews match %s -> %s, pass --file (%s)", len(files), opts.Old, opts.New, strings.Join(files, ", ")))
	}
}

func reviewError(out *OutputFormatter, err error) error {
	_ = out.Error(errorCode(err), err.Error(), nil)
	return WrapExitError(ExitFailure, "review failed", err)
}
