package storage

import "time"

// Config configures persistence.
//
// Driver values:
//   - "file": JSON documents under Dir (default)
//   - "sqlite": single SQLite database file (optional build tag)
type Config struct {
	Driver      string
	Dir         string        // file driver: directory holding the JSON documents
	Path        string        // sqlite driver: database file
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Prefs are the per-subscriber notification preferences.
type Prefs struct {
	// NotifyNoChange opts the subscriber into a notice even when a cycle
	// detected nothing new.
	NotifyNoChange bool `json:"notify_no_change"`
	// WithImages attaches a rendered map to each new-camera message.
	WithImages bool `json:"with_images"`
}

// DefaultPrefs are applied when a subscriber is created and when older
// persisted formats lack a field.
func DefaultPrefs() Prefs {
	return Prefs{NotifyNoChange: false, WithImages: true}
}

// PrefField names a toggleable preference.
type PrefField int

const (
	PrefNotifyNoChange PrefField = iota
	PrefWithImages
)

func (f PrefField) String() string {
	switch f {
	case PrefNotifyNoChange:
		return "notify_no_change"
	case PrefWithImages:
		return "with_images"
	default:
		return "unknown"
	}
}
