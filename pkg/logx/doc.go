// Package logx wraps zerolog behind a small stable API so the rest of the
// bot never imports zerolog directly.
//
// Loggers handed out by a Service stay valid when the config watcher calls
// Apply(); only the sinks behind them are swapped.
package logx
