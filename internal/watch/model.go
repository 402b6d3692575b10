package watch

import (
	"context"
	"errors"
	"fmt"

	"mangawatch/internal/source"
	"mangawatch/internal/storage"
)

type (
	// TrackedWork is the persisted state of one watched work, keyed by URL.
	TrackedWork = storage.Work
	// Destination is a registered notification sink.
	Destination = storage.Destination
)

// UpdateEvent is handed to the notifier once a newer installment is persisted.
type UpdateEvent struct {
	URL      string
	Previous int
	Record   source.Record
}

var (
	ErrAlreadyExists = errors.New("work already tracked")
	ErrInvalidURL    = errors.New("invalid work url")
)

// StoreError is a persistence failure. The change it carried is dropped for
// this cycle and re-detected on the next one.
type StoreError struct {
	Op  string
	URL string
	Err error
}

func (e *StoreError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// WatchlistStore is the slice of storage the pipeline needs.
type WatchlistStore interface {
	ListWorks(ctx context.Context) ([]TrackedWork, error)
	GetWork(ctx context.Context, url string) (TrackedWork, bool, error)
	InsertWork(ctx context.Context, w TrackedWork) error
	UpsertWork(ctx context.Context, w TrackedWork) error
}

type DestinationRegistry interface {
	ListDestinations(ctx context.Context) ([]Destination, error)
}

// Extractor resolves a URL to its latest canonical record.
type Extractor interface {
	Supports(url string) bool
	Extract(ctx context.Context, url string) (source.Record, error)
}

// Notifier fans an update out to dests. Per-destination failures are handled
// inside; the counts are for reporting only.
type Notifier interface {
	Deliver(ctx context.Context, ev UpdateEvent, dests []Destination) (sent, failed int)
}
