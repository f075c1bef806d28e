// Package watch drives the fetch, diff, notify, persist cycle, both
// from the periodic schedule and from manual triggers.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"veloxbot/internal/camera"
	"veloxbot/internal/fetch"
	"veloxbot/internal/notify"
	"veloxbot/internal/storage"
	logx "veloxbot/pkg/logx"
)

// ErrEmptyFetch guards the baseline: a scrape that yields zero cameras is
// a page or selector problem, never a reason to wipe stored state.
var ErrEmptyFetch = errors.New("fetch returned no cameras")

// State is the pipeline's current stage, exposed for /status.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateDiffing
	StateNotifying
	StatePersisting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDiffing:
		return "diffing"
	case StateNotifying:
		return "notifying"
	case StatePersisting:
		return "persisting"
	default:
		return "unknown"
	}
}

// Notifier is what the pipeline needs from the fan-out.
type Notifier interface {
	Notify(ctx context.Context, added []camera.Camera, subs map[int64]storage.Prefs) notify.Report
	BroadcastFetchFailure(ctx context.Context, subs map[int64]storage.Prefs) notify.Report
}

type PipelineConfig struct {
	FetchTimeout time.Duration

	// PersistOnAnyChange also rewrites the baseline for coordinate-only
	// changes and removals. Off, only a changed name set persists. The
	// default (on) matches the historical behavior.
	PersistOnAnyChange bool
}

// Pipeline owns the baseline and serializes full cycles: a manual trigger
// arriving while a periodic run is mid-flight waits for it, so two cycles
// can never race on the stored baseline.
type Pipeline struct {
	cfg     PipelineConfig
	fetcher fetch.Fetcher
	st      storage.Store
	reg     *storage.Registry
	fan     Notifier // nil in one-shot CLI mode
	log     logx.Logger

	runMu sync.Mutex
	state atomic.Int32

	baseMu   sync.RWMutex
	baseline camera.Set

	lastMu  sync.Mutex
	lastRun time.Time
	lastErr error
}

// Result reports one completed cycle for logs and the manual-trigger
// acknowledgement.
type Result struct {
	Added      []camera.Camera
	Changed    bool
	Persisted  bool
	PersistErr error
	Report     notify.Report
}

// Summary renders the human-readable acknowledgement for manual runs.
func (r Result) Summary() string {
	s := r.Report.Summary()
	if r.PersistErr != nil {
		s += fmt.Sprintf(" Warning: baseline not persisted (%v).", r.PersistErr)
	}
	return s
}

// NewPipeline loads the persisted baseline; a malformed baseline document
// is a startup error the operator must resolve.
func NewPipeline(cfg PipelineConfig, fetcher fetch.Fetcher, st storage.Store, reg *storage.Registry, fan Notifier, log logx.Logger) (*Pipeline, error) {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 45 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	baseline, err := st.LoadBaseline()
	if err != nil {
		return nil, fmt.Errorf("load baseline: %w", err)
	}
	log.Info("baseline loaded", logx.Int("cameras", len(baseline)))
	return &Pipeline{
		cfg:      cfg,
		fetcher:  fetcher,
		st:       st,
		reg:      reg,
		fan:      fan,
		log:      log,
		baseline: baseline,
	}, nil
}

// Run executes one full cycle. manual marks user-triggered runs, which
// are allowed to broadcast fetch failures to opted-in subscribers.
//
// Stage errors abort the cycle without advancing: a failed fetch or an
// empty result leaves the baseline untouched. Persistence is always the
// last stage and still runs when delivery partially failed, but never
// when fetch or diff did.
func (p *Pipeline) Run(ctx context.Context, manual bool) (Result, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	defer p.setState(StateIdle)

	start := time.Now()
	res, err := p.cycle(ctx, manual)

	p.lastMu.Lock()
	p.lastRun = start
	p.lastErr = err
	p.lastMu.Unlock()

	if err != nil {
		p.log.Warn("cycle aborted", logx.Bool("manual", manual), logx.Err(err), logx.Duration("dur", time.Since(start)))
		return res, err
	}
	p.log.Info("cycle finished",
		logx.Bool("manual", manual), logx.Int("added", len(res.Added)),
		logx.Bool("changed", res.Changed), logx.Bool("persisted", res.Persisted),
		logx.Duration("dur", time.Since(start)))
	return res, nil
}

func (p *Pipeline) cycle(ctx context.Context, manual bool) (Result, error) {
	var res Result

	// Fetch
	p.setState(StateFetching)
	fctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	current, err := p.fetcher.Fetch(fctx)
	cancel()
	if err == nil && len(current) == 0 {
		err = ErrEmptyFetch
	}
	if err != nil {
		if manual && p.fan != nil && p.reg != nil {
			p.fan.BroadcastFetchFailure(ctx, p.reg.Snapshot())
		}
		return res, fmt.Errorf("fetch: %w", err)
	}

	// Diff
	p.setState(StateDiffing)
	baseline := p.Baseline()
	res.Added, res.Changed = camera.Diff(current, baseline)

	// Notify. Delivery failures are counted in the report, not returned:
	// they must not stop persistence.
	p.setState(StateNotifying)
	if p.fan != nil && p.reg != nil {
		res.Report = p.fan.Notify(ctx, res.Added, p.reg.Snapshot())
	} else {
		res.Report = notify.Report{Added: len(res.Added)}
		p.log.Debug("no delivery gateway configured; skipping notify")
	}

	// Persist
	p.setState(StatePersisting)
	if p.shouldPersist(res, current, baseline) {
		if err := p.st.SaveBaseline(current); err != nil {
			// Surfaced to the caller for operator visibility; the cycle
			// itself succeeded and notifications are already out.
			res.PersistErr = err
			p.log.Error("persisting baseline failed", logx.Err(err))
		} else {
			res.Persisted = true
		}
	}
	p.setBaseline(current)

	return res, nil
}

func (p *Pipeline) shouldPersist(res Result, current, baseline camera.Set) bool {
	if !res.Changed {
		return false
	}
	if p.cfg.PersistOnAnyChange {
		return true
	}
	return len(res.Added) > 0 || !sameNames(current, baseline)
}

func sameNames(a, b camera.Set) bool {
	if len(a) != len(b) {
		return false
	}
	for name := range a {
		if _, ok := b[name]; !ok {
			return false
		}
	}
	return true
}

func (p *Pipeline) setState(s State) { p.state.Store(int32(s)) }

// State returns the current pipeline stage.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// Baseline returns a point-in-time copy of the known camera set.
func (p *Pipeline) Baseline() camera.Set {
	p.baseMu.RLock()
	defer p.baseMu.RUnlock()
	return p.baseline.Clone()
}

func (p *Pipeline) setBaseline(s camera.Set) {
	p.baseMu.Lock()
	p.baseline = s.Clone()
	p.baseMu.Unlock()
}

// LastRun reports the previous cycle's start time and error, for /status.
func (p *Pipeline) LastRun() (time.Time, error) {
	p.lastMu.Lock()
	defer p.lastMu.Unlock()
	return p.lastRun, p.lastErr
}
