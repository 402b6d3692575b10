package app

import (
	"context"
	"sync/atomic"

	"mangawatch/internal/storage"
)

type destinationLister interface {
	ListDestinations(ctx context.Context) ([]storage.Destination, error)
}

// destinationSet merges registered chat destinations with static ones from config.
type destinationSet struct {
	store  destinationLister
	static atomic.Pointer[[]storage.Destination]
}

func newDestinationSet(store destinationLister, static []storage.Destination) *destinationSet {
	d := &destinationSet{store: store}
	d.SetStatic(static)
	return d
}

func (d *destinationSet) SetStatic(static []storage.Destination) {
	cp := append([]storage.Destination(nil), static...)
	d.static.Store(&cp)
}

func (d *destinationSet) ListDestinations(ctx context.Context) ([]storage.Destination, error) {
	out, err := d.store.ListDestinations(ctx)
	if err != nil {
		return nil, err
	}
	if p := d.static.Load(); p != nil {
		out = append(out, *p...)
	}
	return out, nil
}
