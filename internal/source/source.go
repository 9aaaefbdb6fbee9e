// Package source reads active schedules from the budgeting service's data.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"actualcal/internal/config"
	appLog "actualcal/internal/log"
	"actualcal/internal/model"
)

// ErrUnknownKind is returned by New for an unsupported source kind.
var ErrUnknownKind = errors.New("unknown source kind")

// Source supplies the active, non-deleted schedules in a stable order.
type Source interface {
	Name() string
	Schedules(ctx context.Context) ([]model.Schedule, error)
}

// Local is a Source backed by a file that can be watched for changes.
type Local interface {
	Source
	Path() string
}

// New builds the Source selected by cfg.Kind. Dates are interpreted in loc.
func New(cfg config.SourceConfig, loc *time.Location, fs afero.Fs) (Source, error) {
	if loc == nil {
		loc = time.UTC
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}

	switch cfg.Kind {
	case config.SourceSQLite:
		if cfg.Path == "" {
			return nil, errors.New("sqlite source: path is empty")
		}
		return NewSQLite(cfg.Path, loc), nil
	case config.SourceFile:
		if cfg.Path == "" {
			return nil, errors.New("file source: path is empty")
		}
		return NewFile(fs, cfg.Path, loc), nil
	case config.SourceHTTP:
		if cfg.URL == "" {
			return nil, errors.New("http source: url is empty")
		}
		return NewHTTP(fs, cfg.URL, cfg.CacheDir, loc), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

func logInvalid(src string) func(Record, error) {
	return func(rec Record, err error) {
		appLog.Error("schedule record could not be decoded", err, "source", src, "schedule_id", rec.ID, "name", rec.Name)
	}
}
