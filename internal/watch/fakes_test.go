package watch

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"mangawatch/internal/source"
	"mangawatch/internal/storage"
)

type memStore struct {
	mu        sync.Mutex
	works     map[string]TrackedWork
	upsertErr error
	listErr   error
	upserts   int
}

func newMemStore(ws ...TrackedWork) *memStore {
	m := &memStore{works: map[string]TrackedWork{}}
	for _, w := range ws {
		m.works[w.URL] = w
	}
	return m
}

func (m *memStore) ListWorks(ctx context.Context) ([]TrackedWork, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]TrackedWork, 0, len(m.works))
	for _, w := range m.works {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (m *memStore) GetWork(ctx context.Context, url string) (TrackedWork, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.works[url]
	return w, ok, nil
}

func (m *memStore) InsertWork(ctx context.Context, w TrackedWork) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.works[w.URL]; ok {
		return storage.ErrExists
	}
	m.works[w.URL] = w
	return nil
}

func (m *memStore) UpsertWork(ctx context.Context, w TrackedWork) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if prev, ok := m.works[w.URL]; ok && w.LatestInstallment <= prev.LatestInstallment {
		return storage.ErrStale
	}
	m.works[w.URL] = w
	return nil
}

func (m *memStore) get(url string) TrackedWork {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.works[url]
}

type staticDests struct {
	dests []Destination
	err   error
}

func (s staticDests) ListDestinations(ctx context.Context) ([]Destination, error) {
	return s.dests, s.err
}

// fakeExtractor serves records by URL; URLs outside example domains are unsupported.
type fakeExtractor struct {
	mu      sync.Mutex
	records map[string]source.Record
	errs    map[string]error
	calls   []string
}

func (f *fakeExtractor) Supports(url string) bool {
	return strings.HasPrefix(url, "https://sing-manga.com/") || strings.HasPrefix(url, "https://xn--l3c0azab5a2gta.com/")
}

func (f *fakeExtractor) Extract(ctx context.Context, url string) (source.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err, ok := f.errs[url]; ok {
		return source.Record{}, err
	}
	rec, ok := f.records[url]
	if !ok {
		return source.Record{}, errors.New("no fixture")
	}
	return rec, nil
}

// recordingNotifier delivers to every destination except those listed in fail.
type recordingNotifier struct {
	mu        sync.Mutex
	fail      map[string]bool
	delivered map[string][]string // channel id -> work urls
	events    []UpdateEvent
}

func (n *recordingNotifier) Deliver(ctx context.Context, ev UpdateEvent, dests []Destination) (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.delivered == nil {
		n.delivered = map[string][]string{}
	}
	n.events = append(n.events, ev)
	sent, failed := 0, 0
	for _, d := range dests {
		if n.fail[d.ChannelID] {
			failed++
			continue
		}
		n.delivered[d.ChannelID] = append(n.delivered[d.ChannelID], ev.URL)
		sent++
	}
	return sent, failed
}
