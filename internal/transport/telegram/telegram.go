// Package telegram delivers notifications through the Bot API via telebot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"auabot/internal/transport"
	logx "auabot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// SendTimeout bounds one delivery attempt end to end.
	SendTimeout time.Duration
	// RatePerSec caps outgoing sends. Telegram rejects broadcast bursts
	// above roughly 30 messages per second.
	RatePerSec int
	// Offline skips the getMe handshake. Tests only.
	Offline bool
}

type Adapter struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	limiter *rate.Limiter
}

var _ transport.Transport = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" && !cfg.Offline {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 8 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Client:  &http.Client{Timeout: cfg.SendTimeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}, nil
}

// Bot exposes the underlying instance for command handler registration.
func (a *Adapter) Bot() *tele.Bot { return a.bot }

// Send delivers one HTML message. The limiter wait respects ctx; the HTTP
// round trip is bounded by the client timeout set at construction.
func (a *Adapter) Send(ctx context.Context, userID int64, msg transport.Message) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := a.bot.Send(&tele.User{ID: userID}, msg.Text, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableNotification:   msg.Silent,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram send to %d: %w", userID, err)
	}
	return nil
}

// Start begins long polling; blocks until Stop.
func (a *Adapter) Start() { a.bot.Start() }

func (a *Adapter) Stop() { a.bot.Stop() }
