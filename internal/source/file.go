package source

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/rollcall/internal/roster"
)

// File reads the roster the scraper last wrote to a fixed path.
type File struct {
	Path string
}

// NewFile returns a source reading path.
func NewFile(path string) *File {
	return &File{Path: path}
}

// Fetch reads and decodes the file.
func (f *File) Fetch(ctx context.Context, allianceID string) (roster.ScrapeBatch, error) {
	if err := ctx.Err(); err != nil {
		return roster.ScrapeBatch{}, err
	}
	if f.Path == "" {
		return roster.ScrapeBatch{}, fmt.Errorf("alliance %s has no roster file: %w", allianceID, roster.ErrInvalidInput)
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return roster.ScrapeBatch{}, fmt.Errorf("read roster: %w", err)
	}
	batch, err := Decode(data)
	if err != nil {
		return roster.ScrapeBatch{}, fmt.Errorf("%s: %w", f.Path, err)
	}
	if err := checkAlliance(batch, allianceID, f.Path); err != nil {
		return roster.ScrapeBatch{}, err
	}
	batch.AllianceID = allianceID
	return batch, nil
}
