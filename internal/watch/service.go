package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mangawatch/internal/eventbus"
	"mangawatch/internal/source"
	"mangawatch/internal/storage"
	logx "mangawatch/pkg/logx"
)

// Untitled is the placeholder title of a freshly registered work.
const Untitled = "Untitled"

type Config struct {
	Workers int
}

// Service owns the poll cycle and work registration.
type Service struct {
	store   WatchlistStore
	dests   DestinationRegistry
	extract Extractor
	notify  Notifier
	bus     eventbus.Bus
	log     logx.Logger
	now     func() time.Time

	mu      sync.Mutex
	workers int
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

func NewService(cfg Config, store WatchlistStore, dests DestinationRegistry, ex Extractor, n Notifier, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store:   store,
		dests:   dests,
		extract: ex,
		notify:  n,
		log:     log.With(logx.String("comp", "watch")),
		now:     time.Now,
		workers: max(cfg.Workers, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply updates the extraction fan-out used by the next cycle.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.workers = max(cfg.Workers, 1)
	s.mu.Unlock()
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

// RegisterWork starts tracking rawURL. The URL must be https and belong to a
// supported source family; it is stored in normalized form with installment 0.
func (s *Service) RegisterWork(ctx context.Context, rawURL string) (TrackedWork, error) {
	u, err := source.NormalizeURL(rawURL)
	if err != nil {
		return TrackedWork{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !s.extract.Supports(u) {
		return TrackedWork{}, fmt.Errorf("%w: unsupported source %s", ErrInvalidURL, u)
	}
	if _, ok, err := s.store.GetWork(ctx, u); err != nil {
		return TrackedWork{}, &StoreError{Op: "get", URL: u, Err: err}
	} else if ok {
		return TrackedWork{}, ErrAlreadyExists
	}

	now := s.now().UTC()
	w := TrackedWork{
		URL:                  u,
		Title:                Untitled,
		LatestInstallment:    0,
		LatestInstallmentURL: u,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.InsertWork(ctx, w); err != nil {
		if errors.Is(err, storage.ErrExists) {
			return TrackedWork{}, ErrAlreadyExists
		}
		return TrackedWork{}, &StoreError{Op: "insert", URL: u, Err: err}
	}
	s.log.Info("work registered", logx.String("url", u))
	s.publish(eventbus.WorkRegistered, w)
	return w, nil
}

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	ID          uuid.UUID
	Works       int // size of the watchlist
	Checked     int // extracted successfully
	Updated     int // persisted and handed to the notifier
	Failed      int // fetch, extraction or store failures
	Skipped     int // unsupported or not started because of shutdown
	Sent        int // successful deliveries
	Undelivered int // failed deliveries
	Duration    time.Duration
}

type extractResult struct {
	work TrackedWork
	rec  source.Record
	err  error
}

// RunCycle performs one full pass over the watchlist.
//
// Extraction runs on a bounded pool of workers; detection, persistence and
// notification happen one work at a time on the calling goroutine, so a work's
// fan-out finishes before the next work is persisted. Cancelling ctx stops new
// extractions from starting; in-flight ones complete and are processed.
// Only a failure to read the watchlist or destinations is returned.
func (s *Service) RunCycle(ctx context.Context) (CycleReport, error) {
	start := s.now()
	rep := CycleReport{ID: uuid.New()}
	log := s.log.With(logx.String("cycle", rep.ID.String()))

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	s.publish(eventbus.CycleStarted, rep.ID)

	works, err := s.store.ListWorks(ctx)
	if err != nil {
		return rep, &StoreError{Op: "list works", Err: err}
	}
	rep.Works = len(works)
	if len(works) == 0 {
		log.Info("watchlist empty; nothing to poll")
		s.finish(log, &rep, start)
		return rep, nil
	}
	dests, err := s.dests.ListDestinations(ctx)
	if err != nil {
		return rep, &StoreError{Op: "list destinations", Err: err}
	}

	jobs := make([]TrackedWork, 0, len(works))
	for _, w := range works {
		if !s.extract.Supports(w.URL) {
			rep.Skipped++
			log.Warn("no source family for work; skipping", logx.String("url", w.URL))
			continue
		}
		jobs = append(jobs, w)
	}

	results := s.extractAll(ctx, jobs)
	processed := 0
	for res := range results {
		processed++
		s.handle(ctx, log, res, dests, &rep)
	}
	rep.Skipped += len(jobs) - processed

	s.finish(log, &rep, start)
	return rep, nil
}

func (s *Service) finish(log logx.Logger, rep *CycleReport, start time.Time) {
	rep.Duration = s.now().Sub(start)
	log.Info("poll cycle finished",
		logx.Int("works", rep.Works),
		logx.Int("checked", rep.Checked),
		logx.Int("updated", rep.Updated),
		logx.Int("failed", rep.Failed),
		logx.Int("skipped", rep.Skipped),
		logx.Duration("took", rep.Duration),
	)
	s.publish(eventbus.CycleFinished, *rep)
}

// extractAll fans jobs out to the worker pool. Workers stop picking up jobs once
// ctx is done; an extraction already started runs to its own timeout.
func (s *Service) extractAll(ctx context.Context, jobs []TrackedWork) <-chan extractResult {
	s.mu.Lock()
	n := min(s.workers, len(jobs))
	s.mu.Unlock()

	queue := make(chan TrackedWork)
	results := make(chan extractResult, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range queue {
				rec, err := s.extractOne(context.WithoutCancel(ctx), w.URL)
				results <- extractResult{work: w, rec: rec, err: err}
			}
		}()
	}
	go func() {
		defer close(queue)
		for _, w := range jobs {
			select {
			case <-ctx.Done():
				return
			case queue <- w:
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

func (s *Service) extractOne(ctx context.Context, url string) (rec source.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extractor panic: %v", r)
		}
	}()
	return s.extract.Extract(ctx, url)
}

func (s *Service) handle(ctx context.Context, log logx.Logger, res extractResult, dests []Destination, rep *CycleReport) {
	wlog := log.With(logx.String("url", res.work.URL))
	if res.err != nil {
		rep.Failed++
		wlog.Warn("extraction failed", logx.Err(res.err))
		s.publish(eventbus.WorkFailed, res.work.URL)
		return
	}
	rep.Checked++

	d := Detect(res.work, res.rec, s.now().UTC())
	if !d.Changed {
		wlog.Debug("no new installment", logx.Int("latest", res.work.LatestInstallment), logx.Int("seen", res.rec.Installment))
		return
	}

	// Persist before notifying; a store failure drops the change for this cycle.
	wctx := context.WithoutCancel(ctx)
	if err := s.store.UpsertWork(wctx, d.Next); err != nil {
		if errors.Is(err, storage.ErrStale) {
			wlog.Debug("stored installment already newer; not notifying", logx.Int("seen", res.rec.Installment))
			return
		}
		rep.Failed++
		wlog.Error("persist failed; will retry next cycle", logx.Err(&StoreError{Op: "upsert", URL: res.work.URL, Err: err}))
		s.publish(eventbus.WorkFailed, res.work.URL)
		return
	}
	rep.Updated++

	ev := UpdateEvent{URL: res.work.URL, Previous: res.work.LatestInstallment, Record: res.rec}
	wlog.Info("new installment",
		logx.String("title", res.rec.Title),
		logx.Int("previous", ev.Previous),
		logx.Int("installment", res.rec.Installment),
	)
	s.publish(eventbus.WorkUpdated, ev)
	if s.notify == nil || len(dests) == 0 {
		return
	}
	sent, failed := s.notify.Deliver(wctx, ev, dests)
	rep.Sent += sent
	rep.Undelivered += failed
}
