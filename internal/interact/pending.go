package interact

import (
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/rollcall/internal/roster"
)

// DefaultTTL is how long a pending interaction waits for confirmation.
const DefaultTTL = 5 * time.Minute

var (
	// ErrUnknownToken is returned for tokens that never existed or expired.
	ErrUnknownToken = errors.New("unknown or expired interaction")

	// ErrWrongUser is returned when someone other than the requester
	// tries to complete an interaction.
	ErrWrongUser = errors.New("interaction belongs to another user")
)

// Interaction is a command parked until the user confirms it.
type Interaction struct {
	Token      string
	Command    string
	Options    map[string]string
	GuildID    string
	UserID     string
	AllianceID string
	Created    time.Time
}

// Pending is an in-memory TTL store of parked interactions. Expired
// entries are swept on every access; nothing runs in the background.
//
// Thread-safety: All methods are safe for concurrent use.
type Pending struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock roster.Clock
	items map[string]Interaction
}

// NewPending creates a store. A non-positive ttl uses DefaultTTL.
func NewPending(ttl time.Duration, clock roster.Clock) *Pending {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = roster.SystemClock{}
	}
	return &Pending{ttl: ttl, clock: clock, items: map[string]Interaction{}}
}

// Create parks in and returns its token.
func (p *Pending) Create(in Interaction) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	p.sweep(now)

	in.Token = uuid.NewString()
	in.Created = now
	in.Options = maps.Clone(in.Options)
	p.items[in.Token] = in
	return in.Token
}

// Pop removes and returns the interaction for token on behalf of userID.
// A request from a different user leaves the interaction in place.
func (p *Pending) Pop(token, userID string) (Interaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sweep(p.clock.Now())
	in, ok := p.items[token]
	if !ok {
		return Interaction{}, ErrUnknownToken
	}
	if in.UserID != userID {
		return Interaction{}, ErrWrongUser
	}
	delete(p.items, token)
	return in, nil
}

// Len returns the number of live interactions.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweep(p.clock.Now())
	return len(p.items)
}

func (p *Pending) sweep(now time.Time) {
	for token, in := range p.items {
		if now.Sub(in.Created) >= p.ttl {
			delete(p.items, token)
		}
	}
}
