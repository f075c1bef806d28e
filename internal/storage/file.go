package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"veloxbot/internal/camera"
	logx "veloxbot/pkg/logx"
)

// fileStore keeps two independent JSON documents under one directory:
//
//   - baseline.json    (sorted array of camera records)
//   - subscribers.json (chat id -> preference record)
//
// Writes go through a temp file plus rename so a crash can never leave a
// truncated document behind.
type fileStore struct {
	log logx.Logger

	baselinePath    string
	subscribersPath string
}

const (
	baselineFile    = "baseline.json"
	subscribersFile = "subscribers.json"
)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{
		log:             log,
		baselinePath:    filepath.Join(dir, baselineFile),
		subscribersPath: filepath.Join(dir, subscribersFile),
	}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) LoadBaseline() (camera.Set, error) {
	b, err := os.ReadFile(s.baselinePath)
	if errors.Is(err, os.ErrNotExist) {
		return camera.Set{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read baseline: %w", err)
	}
	var cams []camera.Camera
	if err := json.Unmarshal(b, &cams); err != nil {
		return nil, fmt.Errorf("parse baseline %s: %w", s.baselinePath, err)
	}
	return camera.NewSet(cams), nil
}

func (s *fileStore) SaveBaseline(set camera.Set) error {
	// Deterministic sorted-by-name serialization keeps the document diffable
	// and avoids rewrites that only shuffle map order.
	b, err := json.MarshalIndent(set.Sorted(), "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.baselinePath, b); err != nil {
		return fmt.Errorf("write baseline: %w", err)
	}
	return nil
}

func (s *fileStore) LoadSubscribers() (map[int64]Prefs, error) {
	b, err := os.ReadFile(s.subscribersPath)
	if errors.Is(err, os.ErrNotExist) {
		return map[int64]Prefs{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read subscribers: %w", err)
	}
	subs, format, err := DecodeSubscribers(b)
	if err != nil {
		return nil, fmt.Errorf("parse subscribers %s: %w", s.subscribersPath, err)
	}
	if format != FormatCurrent {
		s.log.Info("migrated subscriber file from legacy format",
			logx.String("format", format), logx.Int("subscribers", len(subs)))
	}
	return subs, nil
}

func (s *fileStore) SaveSubscribers(subs map[int64]Prefs) error {
	doc := make(map[string]Prefs, len(subs))
	for id, p := range subs {
		doc[fmt.Sprintf("%d", id)] = p
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.subscribersPath, b); err != nil {
		return fmt.Errorf("write subscribers: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a sibling temp file and renames it over
// the target.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// sortedIDs is shared by the drivers for deterministic persistence order.
func sortedIDs(subs map[int64]Prefs) []int64 {
	ids := make([]int64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
