package roster

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock supplies wall-clock time. Production code uses SystemClock; tests
// substitute a fixed clock so timestamps in fixtures are reproducible.
type Clock interface {
	Now() time.Time
}

// SystemClock reports the current UTC time.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// IDGenerator mints stable member identifiers.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator mints time-sortable UUIDv7 identifiers, so members
// created earlier sort first when listed by id.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator hands out a predetermined list of ids and then falls
// back to "<prefix>-<n>" once the list is exhausted. Used by tests that
// assert on member ids.
type SequenceGenerator struct {
	mu     sync.Mutex
	ids    []string
	next   int
	prefix string
}

// NewSequenceGenerator returns a generator yielding ids in order.
func NewSequenceGenerator(prefix string, ids ...string) *SequenceGenerator {
	return &SequenceGenerator{ids: ids, prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	defer func() { g.next++ }()
	if g.next < len(g.ids) {
		return g.ids[g.next]
	}
	return g.prefix + "-" + strconv.Itoa(g.next+1)
}
