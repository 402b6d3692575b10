package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mangawatch/internal/eventbus"
	"mangawatch/internal/watch"
	logx "mangawatch/pkg/logx"
)

var ErrNoSender = errors.New("no sender for platform")

// Sender delivers one message to one destination of its platform.
type Sender interface {
	Send(ctx context.Context, d watch.Destination, m Message) error
}

// DeliveryError is a failed delivery to one destination.
type DeliveryError struct {
	Platform  string
	GroupID   string
	ChannelID string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s %s/%s: %v", e.Platform, e.GroupID, e.ChannelID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type Config struct {
	RatePerSec  int
	SendTimeout time.Duration
}

// Service fans one event out to all destinations, paced by a token bucket.
type Service struct {
	log logx.Logger
	bus eventbus.Bus
	now func() time.Time

	mu      sync.RWMutex
	senders map[string]Sender
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log.With(logx.String("comp", "notify")),
		bus:     bus,
		now:     time.Now,
		senders: map[string]Sender{},
	}
	s.Apply(cfg)
	return s
}

// Register installs the sender for platform, replacing any previous one.
func (s *Service) Register(platform string, snd Sender) {
	s.mu.Lock()
	s.senders[platform] = snd
	s.mu.Unlock()
}

// Apply updates pacing and timeouts; safe while deliveries are running.
func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
		return
	}
	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	s.limiter.SetBurst(cfg.RatePerSec)
}

// Deliver sends ev to every destination in order and reports the counts.
// There are no retries; a failed destination waits for the work's next update.
func (s *Service) Deliver(ctx context.Context, ev watch.UpdateEvent, dests []watch.Destination) (sent, failed int) {
	msg := Render(ev, s.now())
	s.mu.RLock()
	cfg, limiter := s.cfg, s.limiter
	s.mu.RUnlock()

	for _, d := range dests {
		dlog := s.log.With(
			logx.String("url", ev.URL),
			logx.String("platform", d.Platform),
			logx.String("group", d.GroupID),
			logx.String("channel", d.ChannelID),
		)
		err := s.deliverOne(ctx, limiter, cfg.SendTimeout, d, msg)
		if err != nil {
			failed++
			derr := &DeliveryError{Platform: d.Platform, GroupID: d.GroupID, ChannelID: d.ChannelID, Err: err}
			dlog.Warn("delivery failed", logx.Err(derr))
			if s.bus != nil {
				s.bus.Publish(eventbus.Event{Type: eventbus.NotifyFailed, Data: derr})
			}
			continue
		}
		sent++
		dlog.Debug("delivered", logx.Int("installment", ev.Record.Installment))
	}
	return sent, failed
}

func (s *Service) deliverOne(ctx context.Context, limiter *rate.Limiter, timeout time.Duration, d watch.Destination, m Message) (err error) {
	s.mu.RLock()
	snd := s.senders[d.Platform]
	s.mu.RUnlock()
	if snd == nil {
		return fmt.Errorf("%w %q", ErrNoSender, d.Platform)
	}
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return snd.Send(sctx, d, m)
}
