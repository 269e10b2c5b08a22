package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	// ErrExists is returned when a write-once document is already present.
	ErrExists = errors.New("already exists")
	// ErrMalformed is returned when a document is present but does not decode.
	ErrMalformed = errors.New("malformed document")
)

// WriteJSONAtomic encodes v as indented JSON and replaces path with it.
// The content is written to a temp file in the same directory, synced,
// and renamed over path.
func WriteJSONAtomic(path string, v any) error {
	tmp, err := writeTemp(path, v)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSONOnce writes v to path only if path does not exist yet. The
// temp file is hard-linked into place, which fails atomically when the
// target exists.
func writeJSONOnce(path string, v any) error {
	tmp, err := writeTemp(path, v)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	err = os.Link(tmp, path)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("write %s: %w", filepath.Base(path), ErrExists)
	}

	// Filesystems without hard links: check then rename.
	if _, statErr := os.Stat(path); statErr == nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), ErrExists)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeTemp(path string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	tmp := f.Name()

	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	return tmp, nil
}

// ReadJSON decodes path into v. A missing file reports fs.ErrNotExist and
// one that does not decode reports ErrMalformed.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w: %w", filepath.Base(path), ErrMalformed, err)
	}
	return nil
}

// LoadDocument reads an auxiliary per-alliance document of the given kind
// into v. It returns false, with v untouched, when the document does not
// exist.
func (s *Store) LoadDocument(kind, allianceID string, v any) (bool, error) {
	err := ReadJSON(s.documentPath(kind, allianceID), v)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("load %s document: %w", kind, err)
	}
}

// SaveDocument atomically replaces an auxiliary per-alliance document.
func (s *Store) SaveDocument(kind, allianceID string, v any) error {
	if err := WriteJSONAtomic(s.documentPath(kind, allianceID), v); err != nil {
		return fmt.Errorf("save %s document: %w", kind, err)
	}
	return nil
}

func (s *Store) documentPath(kind, allianceID string) string {
	return filepath.Join(s.root, dirDocs, segment(kind), segment(allianceID)+".json")
}
