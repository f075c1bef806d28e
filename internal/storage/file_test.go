package storage

import (
	"os"
	"path/filepath"
	"testing"

	"veloxbot/internal/camera"
	logx "veloxbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Dir: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestBaselineMissingFileIsEmpty(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	set, err := st.LoadBaseline()
	if err != nil {
		t.Fatalf("LoadBaseline: %v", err)
	}
	if len(set) != 0 {
		t.Fatalf("expected empty baseline, got %v", set)
	}
}

func TestBaselineRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	in := camera.NewSet([]camera.Camera{
		{Name: "Zell", Lat: 47.13, Lon: 7.92},
		{Name: "Adligenswil", Lat: 47.07, Lon: 8.36},
	})
	if err := st.SaveBaseline(in); err != nil {
		t.Fatalf("SaveBaseline: %v", err)
	}
	out, err := st.LoadBaseline()
	if err != nil {
		t.Fatalf("LoadBaseline: %v", err)
	}
	if !out.Equal(in) {
		t.Fatalf("round trip mismatch: %v != %v", out, in)
	}
}

func TestBaselineMalformedIsError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, baselineFile), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Dir: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := st.LoadBaseline(); err == nil {
		t.Fatal("expected error for malformed baseline")
	}
}

func TestSubscribersRoundTripStable(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Dir: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	in := map[int64]Prefs{
		42:  {NotifyNoChange: true, WithImages: false},
		100: DefaultPrefs(),
	}
	if err := st.SaveSubscribers(in); err != nil {
		t.Fatalf("SaveSubscribers: %v", err)
	}
	first, err := os.ReadFile(filepath.Join(dir, subscribersFile))
	if err != nil {
		t.Fatal(err)
	}

	out, err := st.LoadSubscribers()
	if err != nil {
		t.Fatalf("LoadSubscribers: %v", err)
	}
	if len(out) != 2 || out[42] != in[42] || out[100] != in[100] {
		t.Fatalf("round trip mismatch: %v", out)
	}

	// Current-format documents must round-trip byte-for-byte.
	if err := st.SaveSubscribers(out); err != nil {
		t.Fatalf("SaveSubscribers: %v", err)
	}
	second, err := os.ReadFile(filepath.Join(dir, subscribersFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatalf("save/load cycle not stable:\n%s\nvs\n%s", first, second)
	}
}

func TestSubscribersLegacyFileUpgradesOnLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, subscribersFile), []byte(`[7, 9]`), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Dir: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	out, err := st.LoadSubscribers()
	if err != nil {
		t.Fatalf("LoadSubscribers: %v", err)
	}
	want := DefaultPrefs()
	if out[7] != want || out[9] != want {
		t.Fatalf("legacy subscribers must get default prefs, got %v", out)
	}
}
