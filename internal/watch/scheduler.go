package watch

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "mangawatch/pkg/logx"
)

// Cycler runs one poll cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (CycleReport, error)
}

type SchedulerConfig struct {
	Schedule   string
	Timezone   string
	RunOnStart bool
}

// Scheduler triggers poll cycles on a wall-clock schedule. Ticks, the start-up
// run and manual triggers share one job chain, so cycles never overlap: a
// trigger that arrives mid-cycle waits for it to finish.
type Scheduler struct {
	cycler Cycler
	log    logx.Logger

	mu    sync.Mutex
	cfg   SchedulerConfig
	spec  Schedule
	c     *cron.Cron
	old   []*cron.Cron // replaced by Reschedule; may still run a cycle
	job   cron.Job
	ctx   context.Context
	stop  context.CancelFunc
	extra sync.WaitGroup // start-up and manual runs

	pending atomic.Bool
	last    atomic.Pointer[CycleReport]
}

func NewScheduler(cycler Cycler, cfg SchedulerConfig, log logx.Logger) (*Scheduler, error) {
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		cycler: cycler,
		log:    log.With(logx.String("comp", "scheduler")),
		cfg:    cfg,
		spec:   spec,
	}
	cl := cronLogger{log: s.log}
	s.job = cron.NewChain(cron.Recover(cl), cron.DelayIfStillRunning(cl)).Then(cron.FuncJob(s.runOnce))
	return s, nil
}

// Start begins triggering. The scheduler's cycles stop when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx, s.stop = context.WithCancel(ctx)
	if err := s.startCronLocked(); err != nil {
		s.stop()
		return err
	}
	if s.cfg.RunOnStart {
		s.runAsyncLocked()
	}
	return nil
}

func (s *Scheduler) startCronLocked() error {
	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(loadLocation(s.cfg.Timezone)))
	var err error
	if s.spec.Cron != "" {
		_, err = c.AddJob(s.spec.Cron, s.job)
	} else {
		c.Schedule(cron.Every(s.spec.Every), s.job)
	}
	if err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("scheduler started", logx.String("schedule", s.spec.String()), logx.Bool("run_on_start", s.cfg.RunOnStart))
	return nil
}

// Reschedule swaps the trigger without interrupting a running cycle.
func (s *Scheduler) Reschedule(cfg SchedulerConfig) error {
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	same := spec == s.spec && strings.TrimSpace(cfg.Timezone) == strings.TrimSpace(s.cfg.Timezone)
	s.cfg, s.spec = cfg, spec
	if s.c == nil || same {
		return nil
	}
	// The old cron's running job keeps the shared chain lock, so no overlap.
	s.c.Stop()
	s.old = append(s.old, s.c)
	s.c = nil
	return s.startCronLocked()
}

// TriggerNow queues an immediate cycle. It returns false when one is already
// queued or the scheduler is not running.
func (s *Scheduler) TriggerNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil || !s.pending.CompareAndSwap(false, true) {
		return false
	}
	s.runAsyncLocked()
	return true
}

func (s *Scheduler) runAsyncLocked() {
	s.extra.Add(1)
	go func() {
		defer s.extra.Done()
		s.job.Run()
	}()
}

// Last returns the most recent cycle report.
func (s *Scheduler) Last() (CycleReport, bool) {
	if r := s.last.Load(); r != nil {
		return *r, true
	}
	return CycleReport{}, false
}

func (s *Scheduler) runOnce() {
	s.pending.Store(false)
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	rep, err := s.cycler.RunCycle(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("poll cycle aborted", logx.Err(err))
		}
		return
	}
	s.last.Store(&rep)
}

// Stop stops triggering, prevents new cycles from starting and waits for the
// running one to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	old := s.old
	s.old = nil
	cancel := s.stop
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	start := time.Now()
	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		for _, o := range old {
			<-o.Stop().Done()
		}
		s.extra.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
