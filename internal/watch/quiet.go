package watch

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QuietWindow is a daily [start, end) range during which scheduled runs
// are skipped. Manual triggers ignore it. The window may wrap midnight
// (e.g. 22:00 to 06:00). The zero value is disabled.
type QuietWindow struct {
	start   int // minutes of day
	end     int
	enabled bool
}

// ParseQuietWindow builds a window from two HH:MM strings. Both empty
// means disabled; one empty is a config error.
func ParseQuietWindow(start, end string) (QuietWindow, error) {
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)
	if start == "" && end == "" {
		return QuietWindow{}, nil
	}
	if start == "" || end == "" {
		return QuietWindow{}, fmt.Errorf("quiet window needs both start and end, got %q and %q", start, end)
	}
	sh, sm, err := parseHHMM(start)
	if err != nil {
		return QuietWindow{}, err
	}
	eh, em, err := parseHHMM(end)
	if err != nil {
		return QuietWindow{}, err
	}
	w := QuietWindow{start: sh*60 + sm, end: eh*60 + em, enabled: true}
	if w.start == w.end {
		return QuietWindow{}, fmt.Errorf("quiet window start and end are both %s", start)
	}
	return w, nil
}

func (w QuietWindow) Enabled() bool { return w.enabled }

// Contains reports whether t falls inside the window.
func (w QuietWindow) Contains(t time.Time) bool {
	if !w.enabled {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	if w.start < w.end {
		return m >= w.start && m < w.end
	}
	// wraps midnight
	return m >= w.start || m < w.end
}

func (w QuietWindow) String() string {
	if !w.enabled {
		return "disabled"
	}
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.start/60, w.start%60, w.end/60, w.end%60)
}

func parseHHMM(s string) (hour int, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
