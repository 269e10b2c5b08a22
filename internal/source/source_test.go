package source

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollcall/internal/config"
	"github.com/roach88/rollcall/internal/roster"
	"github.com/roach88/rollcall/internal/store"
	"github.com/roach88/rollcall/internal/testutil"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		members  int
		alliance string
		ts       time.Time
	}{
		{
			name:    "bare array",
			doc:     `[{"name":"Sisko","rank":"Admiral","level":50}]`,
			members: 1,
		},
		{
			name:     "batch object",
			doc:      `{"alliance_id":42,"scrape_timestamp":"2025-03-01T12:30:00Z","members":[{"name":"Kira"},{"name":"Odo"}]}`,
			members:  2,
			alliance: "42",
			ts:       time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC),
		},
		{
			name:    "scraped_members key",
			doc:     `{"scraped_members":[{"name":"Quark"}]}`,
			members: 1,
		},
		{
			name:    "data key with naive timestamp",
			doc:     `{"scrape_timestamp":"2025-03-01 08:00:00","data":[{"name":"Rom"}]}`,
			members: 1,
			ts:      time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Decode([]byte(tt.doc))
			require.NoError(t, err)
			assert.Len(t, b.Members, tt.members)
			assert.Equal(t, tt.alliance, b.AllianceID)
			assert.Equal(t, tt.ts, b.Timestamp)
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	for _, doc := range []string{``, `{"members":"nope"}`, `{"roster":null}`, `42`} {
		_, err := Decode([]byte(doc))
		assert.Error(t, err, doc)
	}
}

func TestFile_Fetch(t *testing.T) {
	dir := t.TempDir()
	rows := testutil.NewRosterGenerator(7).Roster(5)
	data, err := json.Marshal(rows)
	require.NoError(t, err)
	path := writeFile(t, dir, "roster.json", string(data))

	b, err := NewFile(path).Fetch(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", b.AllianceID)
	require.Len(t, b.Members, 5)
	assert.Equal(t, rows[0].Name, b.Members[0].Name)
}

func TestFile_FetchErrors(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, err := NewFile("").Fetch(ctx, "42")
	assert.ErrorIs(t, err, roster.ErrInvalidInput)

	_, err = NewFile(filepath.Join(dir, "missing.json")).Fetch(ctx, "42")
	assert.Error(t, err)

	foreign := writeFile(t, dir, "other.json", `{"alliance_id":"7","members":[]}`)
	_, err = NewFile(foreign).Fetch(ctx, "42")
	assert.ErrorIs(t, err, roster.ErrInvalidInput)
}

func TestDir_ReplaysInNumericOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "day10.json", `[{"name":"C"}]`)
	writeFile(t, dir, "day2.json", `[{"name":"B"}]`)
	writeFile(t, dir, "day1.json", `[{"name":"A"}]`)
	writeFile(t, dir, "notes.txt", `ignored`)
	writeFile(t, dir, "final.json", `[{"name":"Z"}]`)

	s := openStore(t)
	src := NewDir(dir, s)
	ctx := context.Background()

	var got []string
	for range 6 {
		b, err := src.Fetch(ctx, "1")
		require.NoError(t, err)
		got = append(got, b.Members[0].Name)
	}
	assert.Equal(t, []string{"A", "B", "C", "Z", "Z", "Z"}, got)

	pos, err := src.Position("1")
	require.NoError(t, err)
	assert.Equal(t, "final.json", pos)

	// The cursor survives a new source over the same store.
	b, err := NewDir(dir, s).Fetch(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Z", b.Members[0].Name)
}

func TestDir_UnknownCursorRestarts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "1.json", `[{"name":"A"}]`)
	s := openStore(t)
	require.NoError(t, s.SaveDocument(cursorKind, "1", Cursor{LastFile: "deleted.json"}))

	b, err := NewDir(dir, s).Fetch(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "A", b.Members[0].Name)
}

func TestDir_SkipsPastInvalidFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "1.json", `{broken`)
	writeFile(t, dir, "2.json", `[{"name":"B"}]`)
	src := NewDir(dir, openStore(t))
	ctx := context.Background()

	_, err := src.Fetch(ctx, "1")
	require.Error(t, err)
	b, err := src.Fetch(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "B", b.Members[0].Name)
}

func TestDir_Empty(t *testing.T) {
	_, err := NewDir(t.TempDir(), openStore(t)).Fetch(context.Background(), "1")
	assert.ErrorIs(t, err, roster.ErrNotFound)
}

func TestFor(t *testing.T) {
	s := openStore(t)
	assert.IsType(t, &File{}, For(config.Alliance{ID: "1", RosterFile: "r.json"}, s))
	assert.IsType(t, &Dir{}, For(config.Alliance{ID: "1", TestMode: true, TestDir: "t"}, s))

	tgt := Target(config.Alliance{ID: "1", Name: "Enterprise"}, s)
	assert.Equal(t, "1", tgt.AllianceID)
	assert.Equal(t, "Enterprise", tgt.AllianceName)
}
