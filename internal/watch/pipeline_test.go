package watch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"veloxbot/internal/camera"
	"veloxbot/internal/notify"
	"veloxbot/internal/storage"
	logx "veloxbot/pkg/logx"
)

type fakeFetcher struct {
	mu      sync.Mutex
	set     camera.Set
	err     error
	fetches int
}

func (f *fakeFetcher) Fetch(context.Context) (camera.Set, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return f.set.Clone(), nil
}

type fakeStore struct {
	mu       sync.Mutex
	baseline camera.Set
	saves    int
	saveErr  error
	subs     map[int64]storage.Prefs
}

func (s *fakeStore) LoadBaseline() (camera.Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseline == nil {
		return camera.Set{}, nil
	}
	return s.baseline.Clone(), nil
}

func (s *fakeStore) SaveBaseline(set camera.Set) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.baseline = set.Clone()
	return nil
}

func (s *fakeStore) LoadSubscribers() (map[int64]storage.Prefs, error) {
	if s.subs == nil {
		return map[int64]storage.Prefs{}, nil
	}
	return s.subs, nil
}
func (s *fakeStore) SaveSubscribers(map[int64]storage.Prefs) error { return nil }
func (s *fakeStore) Close() error                                  { return nil }

type notifyCall struct {
	added []camera.Camera
	subs  map[int64]storage.Prefs
}

type fakeNotifier struct {
	mu            sync.Mutex
	calls         []notifyCall
	fetchFailures int
}

func (n *fakeNotifier) Notify(_ context.Context, added []camera.Camera, subs map[int64]storage.Prefs) notify.Report {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{added: added, subs: subs})
	return notify.Report{Added: len(added), Sent: len(subs) * (1 + len(added))}
}

func (n *fakeNotifier) BroadcastFetchFailure(context.Context, map[int64]storage.Prefs) notify.Report {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fetchFailures++
	return notify.Report{}
}

func testPipeline(t *testing.T, f *fakeFetcher, st *fakeStore, fan Notifier) *Pipeline {
	t.Helper()
	reg, err := storage.NewRegistry(st, logx.Nop())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	p, err := NewPipeline(PipelineConfig{PersistOnAnyChange: true}, f, st, reg, fan, logx.Nop())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func TestRunDetectsAdditionAndPersists(t *testing.T) {
	t.Parallel()
	st := &fakeStore{
		baseline: camera.NewSet([]camera.Camera{{Name: "A"}}),
		subs:     map[int64]storage.Prefs{1: {WithImages: false}},
	}
	f := &fakeFetcher{set: camera.NewSet([]camera.Camera{{Name: "A"}, {Name: "B"}})}
	fan := &fakeNotifier{}
	p := testPipeline(t, f, st, fan)

	res, err := p.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Added) != 1 || res.Added[0].Name != "B" {
		t.Fatalf("Added = %v, want [B]", res.Added)
	}
	if !res.Persisted {
		t.Fatal("baseline must be persisted")
	}
	if len(fan.calls) != 1 || len(fan.calls[0].added) != 1 {
		t.Fatalf("unexpected notify calls: %+v", fan.calls)
	}
	if !st.baseline.Equal(f.set) {
		t.Fatalf("stored baseline = %v, want fetched set", st.baseline)
	}
}

func TestRunIdempotentSecondCycle(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{set: camera.NewSet([]camera.Camera{{Name: "A"}, {Name: "B"}})}
	st := &fakeStore{subs: map[int64]storage.Prefs{1: {}}}
	fan := &fakeNotifier{}
	p := testPipeline(t, f, st, fan)

	if _, err := p.Run(context.Background(), false); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	res, err := p.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.Changed || res.Persisted || len(res.Added) != 0 {
		t.Fatalf("second cycle must be a no-op, got %+v", res)
	}
	if st.saves != 1 {
		t.Fatalf("baseline must not be rewritten on no change, saves=%d", st.saves)
	}
	// The no-change cycle still reaches the fan-out for preference-gated notices.
	if len(fan.calls) != 2 || len(fan.calls[1].added) != 0 {
		t.Fatalf("unexpected notify calls: %+v", fan.calls)
	}
}

func TestRunEmptyFetchProtectsBaseline(t *testing.T) {
	t.Parallel()
	st := &fakeStore{baseline: camera.NewSet([]camera.Camera{{Name: "A"}, {Name: "B"}})}
	f := &fakeFetcher{set: camera.Set{}}
	fan := &fakeNotifier{}
	p := testPipeline(t, f, st, fan)

	_, err := p.Run(context.Background(), false)
	if !errors.Is(err, ErrEmptyFetch) {
		t.Fatalf("expected ErrEmptyFetch, got %v", err)
	}
	if st.saves != 0 {
		t.Fatal("empty fetch must never persist")
	}
	if len(fan.calls) != 0 {
		t.Fatal("empty fetch must never notify")
	}
	if len(p.Baseline()) != 2 {
		t.Fatalf("in-memory baseline must be untouched, got %v", p.Baseline())
	}
}

func TestRunFetchErrorAbortsCycle(t *testing.T) {
	t.Parallel()
	st := &fakeStore{subs: map[int64]storage.Prefs{1: {NotifyNoChange: true}}}
	f := &fakeFetcher{err: errors.New("page down")}
	fan := &fakeNotifier{}
	p := testPipeline(t, f, st, fan)

	if _, err := p.Run(context.Background(), false); err == nil {
		t.Fatal("expected fetch error")
	}
	if fan.fetchFailures != 0 {
		t.Fatal("scheduled runs must not broadcast fetch failures")
	}

	if _, err := p.Run(context.Background(), true); err == nil {
		t.Fatal("expected fetch error")
	}
	if fan.fetchFailures != 1 {
		t.Fatal("manual runs must broadcast the fetch failure")
	}
}

func TestRunPersistFailureSurfacedNotFatal(t *testing.T) {
	t.Parallel()
	st := &fakeStore{saveErr: errors.New("disk full")}
	f := &fakeFetcher{set: camera.NewSet([]camera.Camera{{Name: "A"}})}
	fan := &fakeNotifier{}
	p := testPipeline(t, f, st, fan)

	res, err := p.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("persist failure must not fail the cycle: %v", err)
	}
	if res.PersistErr == nil || res.Persisted {
		t.Fatalf("persist error must be surfaced, got %+v", res)
	}
	if len(fan.calls) != 1 {
		t.Fatal("notifications must go out before persistence is attempted")
	}
	// The in-memory baseline advances so the next cycle doesn't re-notify.
	if len(p.Baseline()) != 1 {
		t.Fatalf("in-memory baseline must advance, got %v", p.Baseline())
	}
}

func TestRunCoordinateOnlyChangePersistsSilently(t *testing.T) {
	t.Parallel()
	st := &fakeStore{baseline: camera.NewSet([]camera.Camera{{Name: "A"}})}
	f := &fakeFetcher{set: camera.NewSet([]camera.Camera{{Name: "A", Lat: 47.0, Lon: 8.3}})}
	fan := &fakeNotifier{}
	p := testPipeline(t, f, st, fan)

	res, err := p.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Added) != 0 || !res.Changed || !res.Persisted {
		t.Fatalf("coordinate backfill must persist without additions, got %+v", res)
	}
}

func TestRunSerialized(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{set: camera.NewSet([]camera.Camera{{Name: "A"}})}
	st := &fakeStore{}
	p := testPipeline(t, f, st, &fakeNotifier{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Run(context.Background(), i%2 == 0)
		}()
	}
	wg.Wait()

	// All runs after the first see an unchanged set; exactly one persist.
	if st.saves != 1 {
		t.Fatalf("expected exactly one save across serialized runs, got %d", st.saves)
	}
}
