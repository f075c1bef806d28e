package mapimg

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"veloxbot/internal/camera"
	logx "veloxbot/pkg/logx"
)

var testCam = camera.Camera{Name: "Horw, Kantonsstrasse", Lat: 47.0512228, Lon: 8.3010048}

func TestKeyDeterministic(t *testing.T) {
	t.Parallel()
	p := Params{Zoom: 16, Width: 600, Height: 400}
	if Key(testCam, p) != Key(testCam, p) {
		t.Fatal("Key must be deterministic")
	}
}

func TestKeyParamsDistinguish(t *testing.T) {
	t.Parallel()
	base := Params{Zoom: 16, Width: 600, Height: 400}
	variants := []Params{
		{Zoom: 15, Width: 600, Height: 400},
		{Zoom: 16, Width: 800, Height: 400},
		{Zoom: 16, Width: 600, Height: 300},
	}
	k := Key(testCam, base)
	for _, v := range variants {
		if Key(testCam, v) == k {
			t.Fatalf("params %+v must not collide with %+v", v, base)
		}
	}
	other := testCam
	other.Lat += 0.0001
	if Key(other, base) == k {
		t.Fatal("different coordinates must not collide")
	}
}

func TestKeySanitized(t *testing.T) {
	t.Parallel()
	k := Key(camera.Camera{Name: "Root/Längweiher (A14)"}, Params{})
	if strings.ContainsAny(k, "/ ()") {
		t.Fatalf("key not filesystem-safe: %q", k)
	}
	if !strings.HasSuffix(k, ".png") {
		t.Fatalf("key missing extension: %q", k)
	}
}

func TestCacheGetAfterPut(t *testing.T) {
	t.Parallel()
	c, err := NewCache(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	p := Params{Zoom: 16, Width: 600, Height: 400}

	if _, err := c.Get(testCam, p); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}

	want := []byte("png-bytes")
	if err := c.Put(testCam, p, want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := c.Get(testCam, p)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("Get = %q, want %q", got, want)
	}

	// Different zoom is a separate entry.
	if _, err := c.Get(testCam, Params{Zoom: 12, Width: 600, Height: 400}); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss for different zoom, got %v", err)
	}
}

func TestDownloaderRequest(t *testing.T) {
	t.Parallel()
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte("image"))
	}))
	defer srv.Close()

	d, err := NewDownloader(DownloaderConfig{BaseURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("NewDownloader: %v", err)
	}
	b, err := d.Download(context.Background(), testCam, Params{Zoom: 16, Width: 600, Height: 400})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(b) != "image" {
		t.Fatalf("unexpected body: %q", b)
	}
	for _, want := range []string{"zoom=16", "size=600x400", "center=47.051223%2C8.301005"} {
		if !strings.Contains(gotQuery, want) {
			t.Fatalf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestDownloaderStatusError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, err := NewDownloader(DownloaderConfig{BaseURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("NewDownloader: %v", err)
	}
	if _, err := d.Download(context.Background(), testCam, Params{}); err == nil {
		t.Fatal("expected error for 5xx response")
	}
}
