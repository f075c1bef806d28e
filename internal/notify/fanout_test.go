package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"veloxbot/internal/camera"
	"veloxbot/internal/mapimg"
	"veloxbot/internal/storage"
	"veloxbot/internal/transport"
	logx "veloxbot/pkg/logx"
)

type sentMsg struct {
	chatID int64
	text   string
	photo  bool
}

// fakeGateway records sends and can fail a configurable number of times
// per chat.
type fakeGateway struct {
	mu       sync.Mutex
	sent     []sentMsg
	failLeft map[int64]int
}

func (g *fakeGateway) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) error {
	return g.record(to.ChatID, text, false)
}

func (g *fakeGateway) SendPhoto(_ context.Context, to transport.ChatTarget, _ []byte, caption string, _ *transport.SendOptions) error {
	return g.record(to.ChatID, caption, true)
}

func (g *fakeGateway) record(chatID int64, text string, photo bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failLeft[chatID] > 0 {
		g.failLeft[chatID]--
		return errors.New("telegram unavailable")
	}
	g.sent = append(g.sent, sentMsg{chatID: chatID, text: text, photo: photo})
	return nil
}

func (g *fakeGateway) messages(chatID int64) []sentMsg {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []sentMsg
	for _, m := range g.sent {
		if m.chatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

type fakeImageSource struct {
	bytes []byte
	err   error
	calls int
}

func (s *fakeImageSource) Download(context.Context, camera.Camera, mapimg.Params) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.bytes, nil
}

func fastFanout(gw Gateway) *Fanout {
	return New(Config{
		Retry:        RetryPolicy{Attempts: 3, Delay: time.Millisecond},
		MessageDelay: time.Microsecond,
	}, gw, logx.Nop())
}

func TestNotifyNewCameraTextOnly(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	f := fastFanout(gw)

	added := []camera.Camera{{Name: "B", Lat: 47.05, Lon: 8.30}}
	subs := map[int64]storage.Prefs{1: {WithImages: false}}

	rep := f.Notify(context.Background(), added, subs)
	if rep.Sent != 2 || rep.Failed != 0 {
		t.Fatalf("report = %+v, want 2 sent", rep)
	}

	msgs := gw.messages(1)
	if len(msgs) != 2 {
		t.Fatalf("expected header + camera message, got %v", msgs)
	}
	if !strings.Contains(msgs[0].text, "1 new speed camera") {
		t.Fatalf("unexpected header: %q", msgs[0].text)
	}
	if msgs[1].photo {
		t.Fatal("subscriber opted out of images must get text-only")
	}
	if !strings.Contains(msgs[1].text, `<a href=`) || !strings.Contains(msgs[1].text, "B") {
		t.Fatalf("unexpected camera message: %q", msgs[1].text)
	}
}

func TestNotifyOrderPreservedPerRecipient(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	f := fastFanout(gw)

	added := []camera.Camera{{Name: "Aarau"}, {Name: "Zug"}}
	subs := map[int64]storage.Prefs{5: {}}

	f.Notify(context.Background(), added, subs)
	msgs := gw.messages(5)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if !strings.Contains(msgs[1].text, "Aarau") || !strings.Contains(msgs[2].text, "Zug") {
		t.Fatalf("entity order not preserved: %v", msgs)
	}
}

func TestNotifyNoChangeGating(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	f := fastFanout(gw)

	subs := map[int64]storage.Prefs{
		1: {NotifyNoChange: false},
		2: {NotifyNoChange: true},
	}
	rep := f.Notify(context.Background(), nil, subs)

	if len(gw.messages(1)) != 0 {
		t.Fatal("subscriber without notify-no-change must receive nothing")
	}
	m := gw.messages(2)
	if len(m) != 1 || m[0].text != "No changes detected." {
		t.Fatalf("expected single no-change notice, got %v", m)
	}
	if rep.Skipped != 1 || rep.Sent != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestNotifyImagesAttachedAndCached(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	f := fastFanout(gw)

	cache, err := mapimg.NewCache(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	src := &fakeImageSource{bytes: []byte("png")}
	f.EnableImages(cache, src, mapimg.Params{Zoom: 16, Width: 600, Height: 400})

	added := []camera.Camera{{Name: "Horw", Lat: 47.05, Lon: 8.30}}
	subs := map[int64]storage.Prefs{1: {WithImages: true}, 2: {WithImages: true}}

	f.Notify(context.Background(), added, subs)

	for _, id := range []int64{1, 2} {
		msgs := gw.messages(id)
		if len(msgs) != 2 || !msgs[1].photo {
			t.Fatalf("chat %d: expected header + photo, got %v", id, msgs)
		}
	}
	// Second subscriber must have been served from the cache.
	if src.calls != 1 {
		t.Fatalf("expected exactly one download, got %d", src.calls)
	}
}

func TestNotifyImageFailureFallsBackToText(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	f := fastFanout(gw)

	cache, err := mapimg.NewCache(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	f.EnableImages(cache, &fakeImageSource{err: errors.New("render down")}, mapimg.Params{})

	added := []camera.Camera{{Name: "Horw", Lat: 47.05, Lon: 8.30}}
	rep := f.Notify(context.Background(), added, map[int64]storage.Prefs{1: {WithImages: true}})

	msgs := gw.messages(1)
	if len(msgs) != 2 || msgs[1].photo {
		t.Fatalf("expected text fallback, got %v", msgs)
	}
	if rep.Failed != 0 {
		t.Fatalf("image trouble must not count as delivery failure: %+v", rep)
	}
}

func TestNotifyRecipientFailureIsolated(t *testing.T) {
	t.Parallel()
	// Chat 1 fails hard on every attempt; chat 2 must still get everything.
	gw := &fakeGateway{failLeft: map[int64]int{1: 100}}
	f := fastFanout(gw)

	added := []camera.Camera{{Name: "Root"}}
	rep := f.Notify(context.Background(), added, map[int64]storage.Prefs{1: {}, 2: {}})

	if len(gw.messages(2)) != 2 {
		t.Fatalf("healthy recipient starved: %v", gw.messages(2))
	}
	if rep.Failed == 0 || rep.Sent != 2 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestBroadcastFetchFailure(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	f := fastFanout(gw)

	subs := map[int64]storage.Prefs{1: {NotifyNoChange: true}, 2: {}}
	rep := f.BroadcastFetchFailure(context.Background(), subs)

	if len(gw.messages(1)) != 1 || len(gw.messages(2)) != 0 {
		t.Fatalf("fetch-failure notice gating wrong: %v", gw.sent)
	}
	if rep.Sent != 1 || rep.Skipped != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestReportSummary(t *testing.T) {
	t.Parallel()
	r := Report{Added: 2, Recipients: 3, Sent: 8, Failed: 1}
	s := r.Summary()
	for _, want := range []string{"2 new", "8 message", "3 subscriber", "1 failed"} {
		if !strings.Contains(s, want) {
			t.Fatalf("summary %q missing %q", s, want)
		}
	}
}
