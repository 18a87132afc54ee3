package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"gather/internal/event"
	"gather/internal/storage"
	"gather/pkg/logx"
)

// APICreator posts derived occurrences to the group-event REST API and
// returns the event as stored by the server (server-assigned identity).
type APICreator struct {
	base string
	http *http.Client
	log  logx.Logger
}

func NewAPICreator(baseURL string, timeout time.Duration, log logx.Logger) (*APICreator, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("api base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &APICreator{
		base: base,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}, nil
}

func (c *APICreator) CreateEvent(ctx context.Context, ev event.Event) (event.Event, error) {
	if ev.GroupID == "" {
		return event.Event{}, errors.New("event group id is required")
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return event.Event{}, err
	}

	endpoint := fmt.Sprintf("%s/api/groups/%s/events", c.base, url.PathEscape(ev.GroupID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return event.Event{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return event.Event{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Keep the error compact; the body tail is enough to diagnose.
		tail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return event.Event{}, fmt.Errorf("event api returned %s: %s", resp.Status, strings.TrimSpace(string(tail)))
	}

	var created event.Event
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return event.Event{}, fmt.Errorf("decode created event: %w", err)
	}
	if created.ID == "" {
		return event.Event{}, errors.New("event api returned an event without id")
	}
	return created, nil
}

// LocalCreator assigns identities itself and persists to the local store.
// Used when no remote event API is configured.
type LocalCreator struct {
	store storage.Store // may be nil; events then live only in the engine
	log   logx.Logger
}

func NewLocalCreator(store storage.Store, log logx.Logger) *LocalCreator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LocalCreator{store: store, log: log}
}

func (c *LocalCreator) CreateEvent(ctx context.Context, ev event.Event) (event.Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	if c.store != nil {
		if err := c.store.PutEvent(ctx, ev); err != nil {
			return event.Event{}, err
		}
	}
	return ev, nil
}
