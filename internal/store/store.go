// Package store reads and writes the barrier inventory. Postgres is the
// production backend; SQLite serves local and offline use.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/barrier-explorer/internal/barrier"
	"github.com/sells-group/barrier-explorer/internal/config"
)

// ErrUnsupportedDriver is returned by Open for an unknown store driver.
var ErrUnsupportedDriver = eris.New("store: unsupported driver")

// Store defines the persistence interface for barrier inventories.
type Store interface {
	// ListBarriers returns the barriers of type t inside any of the selected
	// summary units, ordered by id. No selection means every barrier.
	ListBarriers(ctx context.Context, t barrier.Type, units []barrier.UnitSelection) ([]barrier.RawRecord, error)
	// UpsertBarriers inserts or replaces records by id. Each record is
	// written to the table of its own type.
	UpsertBarriers(ctx context.Context, records []barrier.RawRecord) (int64, error)
	CountBarriers(ctx context.Context, t barrier.Type) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the store configured by cfg.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg)
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Wrapf(ErrUnsupportedDriver, "store: driver %q", cfg.Driver)
	}
}
