//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"gather/internal/event"
	"gather/pkg/logx"
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
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendNotification(ctx context.Context, n event.Notification) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(type, title, message, event_id, group_id, created_at)
		 VALUES(?,?,?,?,?,?)`,
		n.Type, n.Title, n.Message, n.EventID, n.GroupID, n.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) RecentNotifications(ctx context.Context, limit int) ([]event.Notification, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, title, message, event_id, group_id, created_at
		 FROM notifications ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []event.Notification
	for rows.Next() {
		var n event.Notification
		var at string
		if err := rows.Scan(&n.Type, &n.Title, &n.Message, &n.EventID, &n.GroupID, &at); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			n.CreatedAt = ts
		}
		out = append(out, n)
	}
	// Newest-first from the query; callers expect chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneNotifications(ctx context.Context, before time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE created_at < ?`, before.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) PutEvent(ctx context.Context, ev event.Event) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if ev.ID == "" {
		return errors.New("event id is required")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events(id, group_id, start_time, payload) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET group_id=excluded.group_id,
		   start_time=excluded.start_time, payload=excluded.payload`,
		ev.ID, ev.GroupID, ev.StartTime.Format(time.RFC3339Nano), string(payload),
	)
	return err
}

func (s *sqliteStore) DeleteEvent(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) ListUpcomingEvents(ctx context.Context, after time.Time) ([]event.Event, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM events WHERE start_time > ? ORDER BY start_time ASC`,
		after.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev event.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			s.log.Warn("skipping malformed event payload", logx.Err(err))
			continue
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
