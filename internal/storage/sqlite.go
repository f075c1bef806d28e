//go:build sqlite
// +build sqlite

package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"veloxbot/internal/camera"
	logx "veloxbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate() error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.Exec(string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadBaseline() (camera.Set, error) {
	rows, err := s.db.Query(`SELECT name, lat, lon FROM baseline`)
	if err != nil {
		return nil, fmt.Errorf("read baseline: %w", err)
	}
	defer rows.Close()

	set := camera.Set{}
	for rows.Next() {
		var c camera.Camera
		if err := rows.Scan(&c.Name, &c.Lat, &c.Lon); err != nil {
			return nil, err
		}
		set[c.Name] = c
	}
	return set, rows.Err()
}

func (s *sqliteStore) SaveBaseline(set camera.Set) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM baseline`); err != nil {
		return err
	}
	for _, c := range set.Sorted() {
		if _, err := tx.Exec(`INSERT INTO baseline(name, lat, lon) VALUES(?,?,?)`, c.Name, c.Lat, c.Lon); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadSubscribers() (map[int64]Prefs, error) {
	rows, err := s.db.Query(`SELECT chat_id, notify_no_change, with_images FROM subscribers`)
	if err != nil {
		return nil, fmt.Errorf("read subscribers: %w", err)
	}
	defer rows.Close()

	out := map[int64]Prefs{}
	for rows.Next() {
		var id int64
		var p Prefs
		if err := rows.Scan(&id, &p.NotifyNoChange, &p.WithImages); err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveSubscribers(subs map[int64]Prefs) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM subscribers`); err != nil {
		return err
	}
	for _, id := range sortedIDs(subs) {
		p := subs[id]
		if _, err := tx.Exec(
			`INSERT INTO subscribers(chat_id, notify_no_change, with_images) VALUES(?,?,?)`,
			id, p.NotifyNoChange, p.WithImages,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}
