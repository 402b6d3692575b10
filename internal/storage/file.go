package storage

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	logx "mangawatch/pkg/logx"
)

// fileStore keeps everything in memory and persists it as:
//   - <prefix>.snapshot.json  (periodic snapshot)
//   - <prefix>.journal.jsonl  (append-only journal of record writes)
//
// The journal is compacted into the snapshot every compactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File

	works map[string]Work
	dests map[string]Destination

	writes int
}

const compactEvery = 200

type fileSnapshot struct {
	Works        []Work        `json:"works"`
	Destinations []Destination `json:"destinations"`
}

// journalRecord holds exactly one of Work or Destination.
type journalRecord struct {
	Work        *Work        `json:"work,omitempty"`
	Destination *Destination `json:"destination,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		works:        map[string]Work{},
		dests:        map[string]Destination{},
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	journalPath := prefix + ".journal.jsonl"
	if err := s.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("works", len(s.works)))
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, w := range snap.Works {
		s.works[w.URL] = w
	}
	for _, d := range snap.Destinations {
		s.dests[d.key()] = d
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// a torn final line after a crash
			s.log.Warn("file store: skipping bad journal line", logx.Err(err))
			continue
		}
		s.apply(r)
	}
	return sc.Err()
}

func (s *fileStore) apply(r journalRecord) {
	if r.Work != nil && r.Work.URL != "" {
		s.works[r.Work.URL] = *r.Work
	}
	if r.Destination != nil {
		s.dests[r.Destination.key()] = *r.Destination
	}
}

// writeLocked journals r and then applies it in memory.
func (s *fileStore) writeLocked(r journalRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.apply(r)
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("file store compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := fileSnapshot{Works: s.sortedWorks(), Destinations: s.sortedDests()}
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func (s *fileStore) sortedWorks() []Work {
	out := make([]Work, 0, len(s.works))
	for _, w := range s.works {
		out = append(out, w)
	}
	slices.SortFunc(out, func(a, b Work) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.URL, b.URL)
	})
	return out
}

func (s *fileStore) sortedDests() []Destination {
	out := make([]Destination, 0, len(s.dests))
	for _, d := range s.dests {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Destination) int {
		if c := cmp.Compare(a.Platform, b.Platform); c != 0 {
			return c
		}
		return cmp.Compare(a.GroupID, b.GroupID)
	})
	return out
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	cerr := s.compactLocked()
	err := s.journal.Close()
	s.journal = nil
	return errors.Join(cerr, err)
}

func (s *fileStore) ListWorks(ctx context.Context) ([]Work, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	return s.sortedWorks(), nil
}

func (s *fileStore) GetWork(ctx context.Context, url string) (Work, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return Work{}, false, ErrClosed
	}
	w, ok := s.works[url]
	return w, ok, nil
}

func (s *fileStore) InsertWork(ctx context.Context, w Work) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.works[w.URL]; ok {
		return ErrExists
	}
	return s.writeLocked(journalRecord{Work: &w})
}

func (s *fileStore) UpsertWork(ctx context.Context, w Work) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.works[w.URL]; ok {
		if w.LatestInstallment <= prev.LatestInstallment {
			return ErrStale
		}
		w.CreatedAt = prev.CreatedAt
	}
	return s.writeLocked(journalRecord{Work: &w})
}

func (s *fileStore) ListDestinations(ctx context.Context) ([]Destination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	return s.sortedDests(), nil
}

func (s *fileStore) ListDestinationsByGroup(ctx context.Context, platform, groupID string) ([]Destination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	d, ok := s.dests[Destination{Platform: platform, GroupID: groupID}.key()]
	if !ok {
		return nil, nil
	}
	return []Destination{d}, nil
}

func (s *fileStore) UpsertDestination(ctx context.Context, d Destination) (Destination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	if prev, ok := s.dests[d.key()]; ok {
		d.CreatedAt = prev.CreatedAt
	} else if d.CreatedAt.IsZero() {
		d.CreatedAt = d.UpdatedAt
	}
	if err := s.writeLocked(journalRecord{Destination: &d}); err != nil {
		return Destination{}, err
	}
	return d, nil
}
