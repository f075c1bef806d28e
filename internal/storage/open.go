package storage

import (
	"errors"
	"strings"

	"veloxbot/internal/camera"
	logx "veloxbot/pkg/logx"
)

// Store is the persistence API used by the registry and the pipeline.
//
// Both documents are independent: a missing one loads as empty state,
// a malformed one is an error the caller treats as fatal at startup.
type Store interface {
	LoadBaseline() (camera.Set, error)
	SaveBaseline(camera.Set) error

	LoadSubscribers() (map[int64]Prefs, error)
	SaveSubscribers(map[int64]Prefs) error

	Close() error
}

// Open initializes the configured store. An empty driver means "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
