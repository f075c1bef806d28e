// Package storage persists the two documents the bot must not lose across
// restarts: the camera baseline and the subscriber registry.
//
// The default driver keeps plain JSON files so an operator can inspect and
// repair state with a text editor. An SQLite driver is available behind
// the "sqlite" build tag for deployments that prefer a single database
// file.
package storage
