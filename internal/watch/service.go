package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "veloxbot/pkg/logx"
)

type Config struct {
	// CronSpec triggers the periodic cycle; defaults to the historical
	// twice-a-day checks.
	CronSpec string
	Timezone string
	Quiet    QuietWindow

	// RunTimeout bounds one full periodic cycle end to end.
	RunTimeout time.Duration
}

const defaultCronSpec = "0 8,16 * * *"

// Service arms the cron trigger for the pipeline and applies the quiet
// window to periodic ticks. Manual triggers go straight to the pipeline
// and never consult the window.
type Service struct {
	pipe *Pipeline
	log  logx.Logger

	cron *cron.Cron
	loc  *time.Location
	spec string

	mu         sync.Mutex
	quiet      QuietWindow
	runTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	now func() time.Time // injectable for tests
}

func NewService(cfg Config, pipe *Pipeline, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("watch: invalid timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	spec := cfg.CronSpec
	if spec == "" {
		spec = defaultCronSpec
	}
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}

	s := &Service{
		pipe:       pipe,
		log:        log,
		loc:        loc,
		spec:       spec,
		quiet:      cfg.Quiet,
		runTimeout: runTimeout,
		now:        time.Now,
	}
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("watch: invalid cron spec %q: %w", spec, err)
	}
	s.cron = c
	return s, nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.log.Info("schedule armed", logx.String("quiet", s.Quiet().String()), logx.String("tz", s.loc.String()))
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tick is the periodic trigger. Inside the quiet window it is a no-op:
// log the skip and wait for the next firing.
func (s *Service) tick() {
	s.mu.Lock()
	ctx := s.ctx
	quiet := s.quiet
	timeout := s.runTimeout
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	now := s.now().In(s.loc)
	if quiet.Contains(now) {
		s.log.Info("scheduled check skipped (quiet window)",
			logx.String("window", quiet.String()), logx.Time("now", now))
		return
	}

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := s.pipe.Run(rctx, false); err != nil {
		// Already logged by the pipeline; nothing to escalate, the next
		// tick retries from scratch.
		return
	}
}

// TriggerManual runs a full cycle on demand, bypassing the quiet window.
func (s *Service) TriggerManual(ctx context.Context) (Result, error) {
	return s.pipe.Run(ctx, true)
}

// Quiet returns the active quiet window.
func (s *Service) Quiet() QuietWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quiet
}

// SetQuiet swaps the quiet window at runtime (config hot reload).
func (s *Service) SetQuiet(w QuietWindow) {
	s.mu.Lock()
	changed := s.quiet != w
	s.quiet = w
	s.mu.Unlock()
	if changed {
		s.log.Info("quiet window updated", logx.String("window", w.String()))
	}
}

// Pipeline exposes the underlying pipeline for status queries.
func (s *Service) Pipeline() *Pipeline { return s.pipe }

// CronSpec returns the armed schedule expression.
func (s *Service) CronSpec() string { return s.spec }
