// Package command maps incoming chat commands onto registry and
// scheduler operations. It is a thin surface: every command is one call
// into the core plus an acknowledgement string.
package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"veloxbot/internal/notify"
	"veloxbot/internal/storage"
	"veloxbot/internal/transport"
	"veloxbot/internal/watch"
	logx "veloxbot/pkg/logx"
)

type Router struct {
	adapter transport.Adapter
	reg     *storage.Registry
	svc     *watch.Service
	log     logx.Logger

	// manualTimeout bounds a user-triggered pipeline run.
	manualTimeout time.Duration
}

func NewRouter(adapter transport.Adapter, reg *storage.Registry, svc *watch.Service, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		adapter:       adapter,
		reg:           reg,
		svc:           svc,
		log:           log,
		manualTimeout: 5 * time.Minute,
	}
}

// Commands lists the menu entries published to the platform.
func (r *Router) Commands() []transport.BotCommand {
	return []transport.BotCommand{
		{Command: "start", Description: "Subscribe to speed camera updates"},
		{Command: "stop", Description: "Unsubscribe"},
		{Command: "notify_no_updates", Description: "Toggle notices when nothing changed"},
		{Command: "images", Description: "Toggle map images on notifications"},
		{Command: "manual_update", Description: "Check for updates now"},
		{Command: "current_list", Description: "Show the known camera list"},
		{Command: "status", Description: "Show bot status"},
		{Command: "help", Description: "Show available commands"},
	}
}

// Run consumes updates until ctx is cancelled. Each update is handled
// in its own goroutine; handlers only touch the registry (which locks)
// and the single-flight pipeline, so they are safe to run in parallel.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up := <-updates:
			if up.Message == nil {
				continue
			}
			go r.handle(ctx, *up.Message)
		}
	}
}

func (r *Router) handle(ctx context.Context, m transport.Message) {
	cmd := commandName(m.Text)
	if cmd == "" {
		return
	}
	log := r.log.With(logx.Int64("chat_id", m.ChatID), logx.String("cmd", cmd))

	var reply string
	var opt *transport.SendOptions
	switch cmd {
	case "start":
		if r.reg.Add(m.ChatID) {
			reply = "You're subscribed to updates."
		} else {
			reply = "Already subscribed."
		}
	case "stop":
		if r.reg.Remove(m.ChatID) {
			reply = "Unsubscribed. You will no longer receive updates."
		} else {
			reply = "You were not subscribed."
		}
	case "notify_no_updates":
		if r.reg.Toggle(m.ChatID, storage.PrefNotifyNoChange) {
			reply = "Enabled - get status updates even if no changes are detected."
		} else {
			reply = "Disabled - no status updates if no changes are detected."
		}
	case "images":
		if r.reg.Toggle(m.ChatID, storage.PrefWithImages) {
			reply = "Enabled - notifications include a map image."
		} else {
			reply = "Disabled - notifications are text-only."
		}
	case "manual_update":
		reply = r.manualUpdate(ctx)
	case "current_list":
		reply = r.currentList()
		opt = &transport.SendOptions{Kind: transport.KindRich, DisablePreview: true}
	case "status":
		reply = r.status()
	case "help":
		reply = r.help()
	default:
		log.Debug("unknown command ignored")
		return
	}

	if err := r.adapter.SendText(ctx, transport.ChatTarget{ChatID: m.ChatID}, reply, opt); err != nil {
		log.Warn("sending command reply failed", logx.Err(err))
	}
}

// manualUpdate runs a cycle on demand and reports what happened, partial
// failures included.
func (r *Router) manualUpdate(ctx context.Context) string {
	rctx, cancel := context.WithTimeout(ctx, r.manualTimeout)
	defer cancel()

	res, err := r.svc.TriggerManual(rctx)
	if err != nil {
		return fmt.Sprintf("Update check failed: %v", err)
	}
	return res.Summary()
}

func (r *Router) currentList() string {
	cams := r.svc.Pipeline().Baseline().Sorted()
	if len(cams) == 0 {
		return "No cameras known yet. Try /manual_update."
	}
	var b strings.Builder
	b.WriteString("Current list\n\n")
	for _, c := range cams {
		b.WriteString(notify.CameraLine(c))
		b.WriteByte('\n')
	}
	return b.String()
}

func (r *Router) status() string {
	pipe := r.svc.Pipeline()
	var b strings.Builder
	fmt.Fprintf(&b, "Subscribers: %d\n", r.reg.Len())
	fmt.Fprintf(&b, "Known cameras: %d\n", len(pipe.Baseline()))
	fmt.Fprintf(&b, "Quiet window: %s\n", r.svc.Quiet())
	fmt.Fprintf(&b, "Pipeline: %s\n", pipe.State())
	if last, lastErr := pipe.LastRun(); !last.IsZero() {
		fmt.Fprintf(&b, "Last run: %s", last.Format(time.RFC3339))
		if lastErr != nil {
			fmt.Fprintf(&b, " (failed: %v)", lastErr)
		}
	} else {
		b.WriteString("Last run: never")
	}
	return b.String()
}

func (r *Router) help() string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, c := range r.Commands() {
		fmt.Fprintf(&b, "/%s - %s\n", c.Command, c.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// commandName extracts "start" from "/start", "/start@SomeBot" or
// "/start args". Non-command text yields "".
func commandName(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	first := strings.Fields(text)[0]
	first = strings.TrimPrefix(first, "/")
	if at := strings.IndexByte(first, '@'); at >= 0 {
		first = first[:at]
	}
	return strings.ToLower(first)
}
