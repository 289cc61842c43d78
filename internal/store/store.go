package store

import (
	"context"
	"fmt"
	"time"

	"github.com/elonfeng/popradar/pkg/source"
)

// Meta describes the pass that produced a snapshot.
type Meta struct {
	RunID     string    `json:"run_id" db:"run_id"`
	Records   int       `json:"records" db:"records"`
	WrittenAt time.Time `json:"written_at" db:"written_at"`
}

// Store persists the snapshot. Replace swaps the whole record set in one
// step: readers observe either the previous snapshot or the new one.
type Store interface {
	Replace(ctx context.Context, records []source.Record, meta Meta) error
	Load(ctx context.Context) ([]source.Record, error)
	Close() error
}

// Open returns the store for the configured driver: "file" (default),
// "sqlite" or "postgres".
func Open(driver, path, dsn string) (Store, error) {
	switch driver {
	case "", "file":
		return NewFileStore(path), nil
	case "sqlite":
		if dsn == "" {
			dsn = path
		}
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown snapshot driver %q", driver)
	}
}
