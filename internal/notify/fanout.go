// Package notify fans one detected change out to every subscriber,
// applying preference gating, image attachment and the retry policy.
package notify

import (
	"context"
	"fmt"
	"html"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"veloxbot/internal/camera"
	"veloxbot/internal/mapimg"
	"veloxbot/internal/storage"
	"veloxbot/internal/transport"
	logx "veloxbot/pkg/logx"
)

// Gateway is the outbound half of the transport adapter.
type Gateway interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error
	SendPhoto(ctx context.Context, to transport.ChatTarget, photo []byte, caption string, opt *transport.SendOptions) error
}

// ImageCache and ImageSource are the two halves of the map-image path.
// The cache is checked first; the source is only hit on a miss.
type ImageCache interface {
	Get(cam camera.Camera, p mapimg.Params) ([]byte, error)
	Put(cam camera.Camera, p mapimg.Params, b []byte) error
}

type ImageSource interface {
	Download(ctx context.Context, cam camera.Camera, p mapimg.Params) ([]byte, error)
}

type Config struct {
	Retry RetryPolicy

	// MessageDelay paces consecutive sends to stay under Telegram's
	// throughput limits. A design parameter, not a correctness one.
	MessageDelay time.Duration
}

type Fanout struct {
	gw  Gateway
	cfg Config
	log logx.Logger

	limiter *rate.Limiter

	cache  ImageCache
	source ImageSource
	params mapimg.Params
}

// Report aggregates one fan-out run for logs and the manual-trigger
// acknowledgement. Delivery failures live here as counts; they are not an
// error by themselves.
type Report struct {
	Run        string
	Added      int
	Recipients int
	Sent       int
	Failed     int
	Skipped    int
}

// Summary renders a short human-readable result line.
func (r Report) Summary() string {
	if r.Added == 0 {
		return fmt.Sprintf("No new cameras. Notified %d, skipped %d.", r.Sent, r.Skipped)
	}
	s := fmt.Sprintf("%d new camera(s). Sent %d message(s) to %d subscriber(s)", r.Added, r.Sent, r.Recipients)
	if r.Failed > 0 {
		s += fmt.Sprintf(", %d failed", r.Failed)
	}
	return s + "."
}

func New(cfg Config, gw Gateway, log logx.Logger) *Fanout {
	if log.IsZero() {
		log = logx.Nop()
	}
	delay := cfg.MessageDelay
	if delay <= 0 {
		delay = 250 * time.Millisecond
	}
	return &Fanout{
		gw:      gw,
		cfg:     cfg,
		log:     log,
		limiter: rate.NewLimiter(rate.Every(delay), 1),
	}
}

// EnableImages wires the map-image path. Without it every message is
// text-only regardless of subscriber preference.
func (f *Fanout) EnableImages(cache ImageCache, source ImageSource, params mapimg.Params) {
	f.cache = cache
	f.source = source
	f.params = params
}

// Notify dispatches one detected diff to all subscribers.
//
// Non-empty added: every subscriber gets a header plus one message per
// camera, name-sorted, images gated by preference. Empty added: only
// subscribers with the notify-no-change preference get a single notice.
// One recipient's failure never blocks another's delivery.
func (f *Fanout) Notify(ctx context.Context, added []camera.Camera, subs map[int64]storage.Prefs) Report {
	rep := Report{Run: uuid.NewString(), Added: len(added)}
	ids := sortedIDs(subs)

	start := time.Now()
	for _, id := range ids {
		prefs := subs[id]
		to := transport.ChatTarget{ChatID: id}

		if len(added) == 0 {
			if !prefs.NotifyNoChange {
				rep.Skipped++
				continue
			}
			rep.Recipients++
			f.deliverText(ctx, &rep, to, "No changes detected.")
			continue
		}

		rep.Recipients++
		f.deliverText(ctx, &rep, to, fmt.Sprintf("🚨 %d new speed camera location(s) reported:", len(added)))
		for _, cam := range added {
			f.deliverCamera(ctx, &rep, to, cam, prefs)
		}
	}

	fields := []logx.Field{
		logx.String("run", rep.Run), logx.Int("added", rep.Added),
		logx.Int("recipients", rep.Recipients), logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed), logx.Int("skipped", rep.Skipped),
		logx.Duration("dur", time.Since(start)),
	}
	if rep.Failed > 0 {
		f.log.Warn("fan-out finished with failures", fields...)
	} else {
		f.log.Info("fan-out finished", fields...)
	}
	return rep
}

// BroadcastFetchFailure informs opted-in subscribers that a manually
// requested cycle could not fetch the page.
func (f *Fanout) BroadcastFetchFailure(ctx context.Context, subs map[int64]storage.Prefs) Report {
	rep := Report{Run: uuid.NewString()}
	for _, id := range sortedIDs(subs) {
		if !subs[id].NotifyNoChange {
			rep.Skipped++
			continue
		}
		rep.Recipients++
		f.deliverText(ctx, &rep, transport.ChatTarget{ChatID: id}, "Failed to fetch updates.")
	}
	return rep
}

// deliverCamera sends one camera to one subscriber, attaching a map image
// when the preference and the image path allow it. Image trouble degrades
// to a text-only message for this one camera; it never fails the run.
func (f *Fanout) deliverCamera(ctx context.Context, rep *Report, to transport.ChatTarget, cam camera.Camera, prefs storage.Prefs) {
	text := CameraLine(cam)

	if prefs.WithImages && f.imagesEnabled() && cam.HasLocation() {
		img, err := f.image(ctx, cam)
		if err == nil {
			if err := f.send(ctx, rep, func(c context.Context) error {
				return f.gw.SendPhoto(c, to, img, text, richOpts())
			}); err == nil {
				return
			}
			// fall through to text on delivery failure
		} else {
			f.log.Warn("map image unavailable, sending text-only",
				logx.String("camera", cam.Name), logx.Err(err))
		}
	}

	f.deliverText(ctx, rep, to, text)
}

func (f *Fanout) deliverText(ctx context.Context, rep *Report, to transport.ChatTarget, text string) {
	_ = f.send(ctx, rep, func(c context.Context) error {
		return f.gw.SendText(c, to, text, richOpts())
	})
}

// send paces, retries and counts one outbound message.
func (f *Fanout) send(ctx context.Context, rep *Report, do func(context.Context) error) error {
	if err := f.limiter.Wait(ctx); err != nil {
		rep.Failed++
		return err
	}
	if err := sendWithRetry(ctx, f.log, f.cfg.Retry, do); err != nil {
		rep.Failed++
		return err
	}
	rep.Sent++
	return nil
}

// image resolves the map bytes for a camera: cache first, then download,
// then a best-effort cache write.
func (f *Fanout) image(ctx context.Context, cam camera.Camera) ([]byte, error) {
	if b, err := f.cache.Get(cam, f.params); err == nil {
		return b, nil
	}
	b, err := f.source.Download(ctx, cam, f.params)
	if err != nil {
		return nil, err
	}
	if err := f.cache.Put(cam, f.params, b); err != nil {
		f.log.Warn("caching map image failed", logx.String("camera", cam.Name), logx.Err(err))
	}
	return b, nil
}

func (f *Fanout) imagesEnabled() bool { return f.cache != nil && f.source != nil }

// CameraLine renders one list entry, linking to a map search when
// coordinates are known.
func CameraLine(cam camera.Camera) string {
	if !cam.HasLocation() {
		return "- " + html.EscapeString(cam.Name)
	}
	return fmt.Sprintf(`- <a href="%s">%s</a>`, cam.MapURL(), html.EscapeString(cam.Name))
}

func richOpts() *transport.SendOptions {
	return &transport.SendOptions{Kind: transport.KindRich, DisablePreview: true}
}

func sortedIDs(subs map[int64]storage.Prefs) []int64 {
	ids := make([]int64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
