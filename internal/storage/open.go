package storage

import (
	"context"
	"fmt"
	"strings"

	logx "mangawatch/pkg/logx"
)

// Store is the persistence API used by the watch pipeline and the command layer.
type Store interface {
	ListWorks(ctx context.Context) ([]Work, error)
	GetWork(ctx context.Context, url string) (Work, bool, error)
	// InsertWork creates a work; ErrExists if the URL is already present.
	InsertWork(ctx context.Context, w Work) error
	// UpsertWork writes w keyed by URL. An existing row is replaced only when
	// w.LatestInstallment is strictly greater; otherwise ErrStale.
	UpsertWork(ctx context.Context, w Work) error

	ListDestinations(ctx context.Context) ([]Destination, error)
	ListDestinationsByGroup(ctx context.Context, platform, groupID string) ([]Destination, error)
	// UpsertDestination inserts or replaces the destination of d's group, keeping CreatedAt.
	UpsertDestination(ctx context.Context, d Destination) (Destination, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "file":
		return openFile(cfg, log)
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
