package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"gather/internal/event"
	"gather/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the minimal persistence API used by the dispatch boundary and
// the daemon bootstrap.
type Store interface {
	AppendNotification(ctx context.Context, n event.Notification) error
	RecentNotifications(ctx context.Context, limit int) ([]event.Notification, error)
	PruneNotifications(ctx context.Context, before time.Time) (removed int, err error)

	PutEvent(ctx context.Context, ev event.Event) error
	DeleteEvent(ctx context.Context, id string) error
	ListUpcomingEvents(ctx context.Context, after time.Time) ([]event.Event, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
