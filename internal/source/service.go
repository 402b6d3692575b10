package source

import (
	"context"
	"time"

	logx "mangawatch/pkg/logx"
)

// Service is the dispatcher: it picks the family for a URL, fetches the page
// with that family's headers and runs its extractor.
type Service struct {
	reg   *Registry
	fetch *Fetcher
	log   logx.Logger
}

func NewService(reg *Registry, fetch *Fetcher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{reg: reg, fetch: fetch, log: log.With(logx.String("comp", "source"))}
}

func (s *Service) Registry() *Registry { return s.reg }

// Supports reports whether rawURL belongs to a registered family.
func (s *Service) Supports(rawURL string) bool {
	_, err := s.reg.Lookup(rawURL)
	return err == nil
}

// Extract fetches rawURL and returns its canonical Record. Errors are a
// *FetchError or an *ExtractionError.
func (s *Service) Extract(ctx context.Context, rawURL string) (Record, error) {
	fam, err := s.reg.Lookup(rawURL)
	if err != nil {
		return Record{}, err
	}
	start := time.Now()
	body, err := s.fetch.Fetch(ctx, rawURL, fam.Header)
	if err != nil {
		return Record{}, err
	}
	rec, err := fam.Extractor.Extract(ctx, rawURL, body)
	if err != nil {
		return Record{}, err
	}
	s.log.Debug("extracted",
		logx.String("url", rawURL),
		logx.String("source", fam.Name),
		logx.Int("installment", rec.Installment),
		logx.Duration("took", time.Since(start)),
	)
	return rec, nil
}
