package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/roach88/rollcall/internal/roster"
	"github.com/roach88/rollcall/internal/store"
)

// cursorKind names the store document holding a Dir's position.
const cursorKind = "cursor"

// Cursor is the persisted position of a test-mode directory.
type Cursor struct {
	LastFile string `json:"last_file"`
}

// Dir replays a directory of recorded rosters, one file per fetch, for
// test mode. Files are ordered by the number embedded in their name and
// then by name; files without digits come last. Once the last file has
// been served it is served again on every later fetch.
type Dir struct {
	Path  string
	store *store.Store
}

// NewDir returns a source over path whose cursor lives in st.
func NewDir(path string, st *store.Store) *Dir {
	return &Dir{Path: path, store: st}
}

// Fetch serves the file after the cursor and advances the cursor.
func (d *Dir) Fetch(ctx context.Context, allianceID string) (roster.ScrapeBatch, error) {
	if err := ctx.Err(); err != nil {
		return roster.ScrapeBatch{}, err
	}
	files, err := d.files()
	if err != nil {
		return roster.ScrapeBatch{}, err
	}
	if len(files) == 0 {
		return roster.ScrapeBatch{}, fmt.Errorf("test directory %s has no roster files: %w", d.Path, roster.ErrNotFound)
	}

	var cur Cursor
	if _, err := d.store.LoadDocument(cursorKind, allianceID, &cur); err != nil {
		slog.Warn("test cursor unreadable, starting over", "alliance", allianceID, "error", err)
	}
	next := nextFile(files, cur.LastFile)

	data, err := os.ReadFile(filepath.Join(d.Path, next))
	if err != nil {
		return roster.ScrapeBatch{}, fmt.Errorf("read test roster: %w", err)
	}

	// The cursor advances before decoding; an invalid file is skipped on
	// the next fetch.
	if err := d.store.SaveDocument(cursorKind, allianceID, Cursor{LastFile: next}); err != nil {
		return roster.ScrapeBatch{}, err
	}
	slog.Info("test mode advanced cursor", "alliance", allianceID, "file", next, "previous", cur.LastFile)

	batch, err := Decode(data)
	if err != nil {
		return roster.ScrapeBatch{}, fmt.Errorf("%s: %w", next, err)
	}
	if err := checkAlliance(batch, allianceID, next); err != nil {
		return roster.ScrapeBatch{}, err
	}
	batch.AllianceID = allianceID
	return batch, nil
}

// Position returns the file the cursor points at, or "" before the
// first fetch.
func (d *Dir) Position(allianceID string) (string, error) {
	var cur Cursor
	_, err := d.store.LoadDocument(cursorKind, allianceID, &cur)
	return cur.LastFile, err
}

func (d *Dir) files() ([]string, error) {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return nil, fmt.Errorf("list test directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.SliceStable(names, func(i, j int) bool {
		ni, nj := fileNumber(names[i]), fileNumber(names[j])
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})
	return names, nil
}

// fileNumber concatenates the digits of the file stem; names without
// digits sort after every numbered name.
func fileNumber(name string) int64 {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, stem)
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 1<<63 - 1
	}
	return n
}

func nextFile(files []string, last string) string {
	if last == "" {
		return files[0]
	}
	for i, name := range files {
		if name == last {
			if i+1 < len(files) {
				return files[i+1]
			}
			return files[len(files)-1]
		}
	}
	return files[0]
}
