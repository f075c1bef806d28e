package transport

import "context"

// Kind selects how outgoing text is interpreted by the transport.
// It is resolved once at the adapter boundary; call sites never pass raw
// parse-mode strings around.
type Kind int

const (
	KindPlain Kind = iota
	KindRich       // HTML links etc.
)

type ChatTarget struct {
	ChatID int64
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

type Update struct {
	Message *Message
}

type SendOptions struct {
	Kind           Kind
	DisablePreview bool
}

// Adapter is the delivery gateway boundary. Errors are opaque to callers;
// any transport failure is retried uniformly by the notify layer.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
	SendPhoto(ctx context.Context, to ChatTarget, photo []byte, caption string, opt *SendOptions) error
}

// BotCommand is a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface adapters can implement to
// publish the command list to the platform menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
