package source

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"

	appLog "actualcal/internal/log"
	"actualcal/internal/model"
)

// File reads a JSON schedule export from disk.
type File struct {
	fs   afero.Fs
	path string
	loc  *time.Location
}

// NewFile returns a Source backed by a JSON export at path.
func NewFile(fs afero.Fs, path string, loc *time.Location) *File {
	return &File{fs: fs, path: path, loc: loc}
}

func (f *File) Name() string { return "file:" + f.path }

// Path is the watched export location.
func (f *File) Path() string { return f.path }

func (f *File) Schedules(ctx context.Context) ([]model.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		return nil, fmt.Errorf("read schedule export: %w", err)
	}

	records, err := DecodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("decode schedule export %s: %w", f.path, err)
	}

	out := ToSchedules(records, f.loc, logInvalid(f.Name()))
	appLog.Debug("file source loaded", "path", f.path, "records", len(records), "active", len(out))
	return out, nil
}
