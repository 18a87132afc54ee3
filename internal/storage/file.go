package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gather/internal/event"
	"gather/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.notifications.jsonl (append-only JSON Lines)
//   - <prefix>.events.json         (snapshot, rewritten on change)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	notifPath string
	notifFile *os.File

	eventsPath string
	events     map[string]event.Event
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	notifPath := prefix + ".notifications.jsonl"
	eventsPath := prefix + ".events.json"

	nf, err := os.OpenFile(notifPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	events := map[string]event.Event{}
	if err := loadEventsSnapshot(eventsPath, events); err != nil {
		log.Warn("failed to load events snapshot, starting empty",
			logx.String("path", eventsPath), logx.Err(err))
	}

	return &fileStore{
		log:        log,
		notifPath:  notifPath,
		notifFile:  nf,
		eventsPath: eventsPath,
		events:     events,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notifFile != nil {
		err := s.notifFile.Close()
		s.notifFile = nil
		return err
	}
	return nil
}

func (s *fileStore) AppendNotification(ctx context.Context, n event.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notifFile == nil {
		return ErrDisabled
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = s.notifFile.Write(append(b, '\n'))
	return err
}

func (s *fileStore) RecentNotifications(ctx context.Context, limit int) ([]event.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readNotificationsLocked()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *fileStore) PruneNotifications(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readNotificationsLocked()
	if err != nil {
		return 0, err
	}
	kept := all[:0]
	for _, n := range all {
		if !n.CreatedAt.Before(before) {
			kept = append(kept, n)
		}
	}
	removed := len(all) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := s.rewriteNotificationsLocked(kept); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *fileStore) PutEvent(ctx context.Context, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == "" {
		return errors.New("event id is required")
	}
	s.events[ev.ID] = ev
	return s.writeEventsSnapshotLocked()
}

func (s *fileStore) DeleteEvent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return nil
	}
	delete(s.events, id)
	return s.writeEventsSnapshotLocked()
}

func (s *fileStore) ListUpcomingEvents(ctx context.Context, after time.Time) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Event, 0, len(s.events))
	for _, ev := range s.events {
		if ev.StartTime.After(after) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *fileStore) readNotificationsLocked() ([]event.Notification, error) {
	f, err := os.Open(s.notifPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []event.Notification
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var n event.Notification
		if err := json.Unmarshal([]byte(line), &n); err != nil {
			// A torn write at the tail is not fatal; skip the line.
			s.log.Warn("skipping malformed notification line", logx.Err(err))
			continue
		}
		out = append(out, n)
	}
	return out, sc.Err()
}

func (s *fileStore) rewriteNotificationsLocked(keep []event.Notification) error {
	tmp := s.notifPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, n := range keep {
		b, err := json.Marshal(n)
		if err != nil {
			_ = f.Close()
			return err
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if s.notifFile != nil {
		_ = s.notifFile.Close()
	}
	if err := os.Rename(tmp, s.notifPath); err != nil {
		return err
	}
	nf, err := os.OpenFile(s.notifPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.notifFile = nf
	return nil
}

func (s *fileStore) writeEventsSnapshotLocked() error {
	tmp := s.eventsPath + ".tmp"
	b, err := json.MarshalIndent(s.events, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.eventsPath)
}

func loadEventsSnapshot(path string, into map[string]event.Event) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(b, &into)
}
