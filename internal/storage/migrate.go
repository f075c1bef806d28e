package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// The subscriber document went through three shapes over the bot's life:
//
//	v0: bare array of chat ids            [123, 456]
//	v1: id -> notify-on-no-change flag    {"123": true}
//	v2: id -> preference record           {"123": {"notify_no_change": true, "with_images": false}}
//
// DecodeSubscribers probes the shapes newest-first and upgrades legacy
// documents in memory. Fields a legacy shape cannot express take their
// documented defaults. The function is pure (no I/O) so the chain is
// testable on its own.

const (
	FormatCurrent = "v2.prefs"
	FormatBoolMap = "v1.boolmap"
	FormatIDList  = "v0.idlist"
)

type probe struct {
	name   string
	decode func([]byte) (map[int64]Prefs, error)
}

var probes = []probe{
	{FormatCurrent, decodeCurrent},
	{FormatBoolMap, decodeBoolMap},
	{FormatIDList, decodeIDList},
}

// DecodeSubscribers decodes a persisted subscriber document in any of the
// supported shapes and reports which one matched.
func DecodeSubscribers(b []byte) (map[int64]Prefs, string, error) {
	var firstErr error
	for _, p := range probes {
		subs, err := p.decode(b)
		if err == nil {
			return subs, p.name, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, "", fmt.Errorf("no known subscriber format matched: %w", firstErr)
}

func decodeCurrent(b []byte) (map[int64]Prefs, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	out := make(map[int64]Prefs, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("subscriber key %q: %w", k, err)
		}
		// Start from defaults so fields absent in the document never decay
		// to zero values.
		p := DefaultPrefs()
		if err := json.Unmarshal(v, &p); err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

func decodeBoolMap(b []byte) (map[int64]Prefs, error) {
	var raw map[string]bool
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	out := make(map[int64]Prefs, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("subscriber key %q: %w", k, err)
		}
		p := DefaultPrefs()
		p.NotifyNoChange = v
		out[id] = p
	}
	return out, nil
}

func decodeIDList(b []byte) (map[int64]Prefs, error) {
	var ids []int64
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, err
	}
	out := make(map[int64]Prefs, len(ids))
	for _, id := range ids {
		out[id] = DefaultPrefs()
	}
	return out, nil
}
