// Package telegram is a send-only delivery sink that pushes reminder
// notifications into a Telegram group chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"gather/internal/event"
	"gather/pkg/logx"
)

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	Timeout  time.Duration
}

type Sink struct {
	cfg Config
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: cfg.Timeout},
		// No poller: this sink only sends.
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}

	return &Sink{cfg: cfg, bot: bot, log: log}, nil
}

func (s *Sink) Deliver(ctx context.Context, n event.Notification) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	text := fmt.Sprintf("🔔 %s\n%s", n.Title, n.Message)
	_, err := s.bot.Send(
		&tele.Chat{ID: s.cfg.ChatID},
		text,
		&tele.SendOptions{
			ThreadID:              s.cfg.ThreadID,
			DisableWebPagePreview: true,
		},
	)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	s.log.Debug("reminder delivered to telegram",
		logx.Int64("chat_id", s.cfg.ChatID), logx.String("event_id", n.EventID))
	return nil
}
