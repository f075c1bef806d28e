package watch

import (
	"context"
	"testing"
	"time"

	"veloxbot/internal/camera"
)

func TestTickSkippedInsideQuietWindow(t *testing.T) {
	t.Parallel()
	quiet, err := ParseQuietWindow("02:00", "07:00")
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeFetcher{set: camera.NewSet([]camera.Camera{{Name: "A"}})}
	st := &fakeStore{}
	fan := &fakeNotifier{}
	p := testPipeline(t, f, st, fan)
	s, err := NewService(Config{Quiet: quiet, Timezone: "UTC"}, p, p.log)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	s.now = func() time.Time { return time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.tick()
	if f.fetches != 0 {
		t.Fatal("tick inside quiet window must not fetch")
	}

	// A manual trigger during the same window still runs the pipeline.
	if _, err := s.TriggerManual(context.Background()); err != nil {
		t.Fatalf("TriggerManual: %v", err)
	}
	if f.fetches != 1 {
		t.Fatalf("manual trigger must run, fetches=%d", f.fetches)
	}
}

func TestTickRunsOutsideQuietWindow(t *testing.T) {
	t.Parallel()
	quiet, err := ParseQuietWindow("02:00", "07:00")
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeFetcher{set: camera.NewSet([]camera.Camera{{Name: "A"}})}
	st := &fakeStore{}
	fan := &fakeNotifier{}
	p := testPipeline(t, f, st, fan)
	s, err := NewService(Config{Quiet: quiet, Timezone: "UTC"}, p, p.log)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	s.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.tick()
	if f.fetches != 1 {
		t.Fatalf("tick outside quiet window must fetch, fetches=%d", f.fetches)
	}
	if st.saves != 1 {
		t.Fatalf("expected baseline persisted, saves=%d", st.saves)
	}
}

func TestNewServiceRejectsBadInput(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{set: camera.Set{}}
	st := &fakeStore{}
	p := testPipeline(t, f, st, &fakeNotifier{})

	if _, err := NewService(Config{Timezone: "Not/AZone"}, p, p.log); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
	if _, err := NewService(Config{CronSpec: "nonsense"}, p, p.log); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}
