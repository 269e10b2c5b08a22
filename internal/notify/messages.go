// Package notify turns detected service events into chat messages and
// delivers them to webhooks.
//
// Delivery is at-most-once. The Dispatcher hands each batch to a bounded
// set of background workers and returns at once; failed posts are logged
// and never retried.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/rollcall/internal/ledger"
	"github.com/roach88/rollcall/internal/roster"
)

// StardateLayout formats event timestamps in messages.
const StardateLayout = "2006-01-02 15:04 UTC"

// Message renders one notice as a chat message.
func Message(n ledger.Notice) string {
	var head, body string
	switch e := n.Event.(type) {
	case *roster.Join:
		head = "🖖 Chief of Personnel: A new officer has beamed aboard!"
		body = fmt.Sprintf("Welcome **%s**, Level %d.", n.Name, n.Level)
	case *roster.Rejoin:
		rank := e.LastLeave.Rank
		if rank == "" {
			rank = n.Rank
		}
		head = "🖖 Chief of Personnel: An officer has returned to duty."
		body = fmt.Sprintf("**%s** reinstated at Rank %s, Level %d.", n.Name, rank, n.Level)
	case *roster.Leave:
		head = "🖖 Chief of Personnel: An officer has departed the alliance."
		body = fmt.Sprintf("**%s**, final recorded level: %d.", n.Name, e.Level)
	case *roster.Rename:
		head = "🖖 Chief of Personnel: Identity records updated."
		body = fmt.Sprintf("**%s** is now known as **%s**.", e.OldName, e.NewName)
	case *roster.Promotion:
		head = "🖖 Command Update: Officer promoted."
		body = fmt.Sprintf("**%s**: %s ➜ %s.", n.Name, e.OldRank, e.NewRank)
	case *roster.Demotion:
		head = "🖖 Command Update: Officer reassigned."
		body = fmt.Sprintf("**%s**: %s ➜ %s.", n.Name, e.OldRank, e.NewRank)
	case *roster.LevelUp:
		head = "🖖 Performance Report: Officer level increased."
		body = fmt.Sprintf("**%s**: Level %d ➜ Level %d.", n.Name, e.OldLevel, e.NewLevel)
	default:
		panic(fmt.Sprintf("notify: unhandled event %T", e))
	}

	var b strings.Builder
	b.WriteString(head)
	b.WriteByte('\n')
	if n.AllianceName != "" {
		fmt.Fprintf(&b, "[%s] ", n.AllianceName)
	}
	b.WriteString(body)
	b.WriteByte('\n')
	b.WriteString("Stardate ")
	b.WriteString(stardate(n.Event.At()))
	return b.String()
}

func stardate(t time.Time) string {
	return t.UTC().Format(StardateLayout)
}
