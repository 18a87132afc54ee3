package config

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	yaml "go.yaml.in/yaml/v3"

	"gather/pkg/logx"
)

// Manager loads the config file and republishes it to subscribers on
// change. Reload is best-effort: a file that fails to parse or validate
// keeps the previously committed config in place.
type Manager struct {
	path string

	mu  sync.RWMutex
	cfg *Config

	// subsMu guards the subscriber list so we never send on a channel
	// that is concurrently being closed in Unsubscribe().
	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error

	// lastHash tracks the last committed content so editor-induced
	// duplicate write events don't cause redundant publishes.
	lastHash uint64
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs a hook run by Watch() before committing a reload.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads and strictly decodes the config file. Unknown keys are
// rejected so typos fail loudly.
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", m.path, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (m *Manager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel receiving each newly committed config.
func (m *Manager) Subscribe() (<-chan *Config, func()) {
	ch := make(chan *Config, 1)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			m.subsMu.Lock()
			for i, c := range m.subs {
				if c == ch {
					m.subs = append(m.subs[:i], m.subs[i+1:]...)
					break
				}
			}
			m.subsMu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Watch re-reads the file on change events until ctx is cancelled.
// Events are debounced: editors tend to fire several writes per save.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory, not the file: many editors replace the file
	// on save, which drops a file-level watch.
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		_ = w.Close()
		return err
	}

	go func() {
		defer w.Close()
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pending = time.After(250 * time.Millisecond)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				m.log.Warn("config watcher error", logx.Err(err))
			case <-pending:
				pending = nil
				m.reload(ctx)
			}
		}
	}()
	return nil
}

func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload rejected", logx.Err(err))
		return
	}

	m.mu.RLock()
	unchanged := m.lastHash == hashConfig(cfg)
	m.mu.RUnlock()
	if unchanged {
		return
	}

	if m.validator != nil {
		if err := m.validator(ctx, cfg); err != nil {
			m.log.Warn("config reload failed validation", logx.Err(err))
			return
		}
	}

	m.Commit(cfg)
	m.log.Info("config reloaded", logx.String("path", m.path))

	m.subsMu.Lock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
		default:
		}
	}
	m.subsMu.Unlock()
}

func validate(cfg *Config) error {
	if _, err := ParseDurationField("storage.busy_timeout", storageBusyTimeout(cfg)); err != nil {
		return err
	}
	if cfg.API != nil {
		if _, err := ParseDurationField("api.timeout", cfg.API.Timeout); err != nil {
			return err
		}
	}
	if cfg.Telegram != nil {
		if _, err := ParseDurationField("telegram.timeout", cfg.Telegram.Timeout); err != nil {
			return err
		}
		if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
			return fmt.Errorf("telegram.token is required when telegram is enabled")
		}
	}
	if _, err := ParseDurationField("sweep.retention", cfg.Sweep.Retention); err != nil {
		return err
	}
	if cfg.Dispatch.RatePerSec < 0 {
		return fmt.Errorf("dispatch.rate_per_sec must be >= 0")
	}
	return nil
}

func storageBusyTimeout(cfg *Config) string {
	if cfg.Storage == nil {
		return ""
	}
	return cfg.Storage.BusyTimeout
}

func hashConfig(cfg *Config) uint64 {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
