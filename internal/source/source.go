// Package source loads timetable snapshots for the tracker: from the public
// gapeka HTTP API, from a local file, or through a caching wrapper around
// either (the Postgres loader lives in internal/db).
package source

import (
	"context"
	"errors"

	"github.com/mrevanzak/persepuran/internal/gapeka"
)

var ErrNoSnapshot = errors.New("no snapshot available")

// Provider fetches a complete, validated snapshot.
type Provider interface {
	Fetch(ctx context.Context) (*gapeka.Snapshot, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (*gapeka.Snapshot, error)

func (f ProviderFunc) Fetch(ctx context.Context) (*gapeka.Snapshot, error) { return f(ctx) }
