package platform

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "lovepush/pkg/logx"
)

const telegramTextLimit = 4096

type TelegramConfig struct {
	Token   string
	ChatID  int64
	APIURL  string // optional, for self-hosted Bot API servers
	Timeout time.Duration
	Client  *http.Client
}

// Telegram shows notifications as chat messages. "Permission" maps onto chat
// reachability: a chat the bot can see is granted, a bot blocked by the user
// or a missing chat is denied.
type Telegram struct {
	cfg TelegramConfig
	log logx.Logger
	bot *tele.Bot

	mu   sync.Mutex
	perm Permission
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	t := &Telegram{cfg: cfg, log: log, perm: PermissionDefault}
	if strings.TrimSpace(cfg.Token) == "" {
		// Unsupported, but constructible so the gateway can report it.
		return t, nil
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout(cfg.Timeout)}
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Client:  client,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	t.bot = b
	return t, nil
}

func (t *Telegram) Name() string    { return "telegram" }
func (t *Telegram) Supported() bool { return t.bot != nil && t.cfg.ChatID != 0 }

// Permission returns the cached permission, probing the chat once while undecided.
func (t *Telegram) Permission(ctx context.Context) Permission {
	t.mu.Lock()
	perm := t.perm
	t.mu.Unlock()
	if perm != PermissionDefault || !t.Supported() {
		return perm
	}
	perm, err := t.RequestPermission(ctx)
	if err != nil {
		t.log.Debug("telegram permission probe failed", logx.Err(err))
	}
	return perm
}

func (t *Telegram) RequestPermission(ctx context.Context) (Permission, error) {
	if !t.Supported() {
		return PermissionDefault, ErrUnsupported
	}
	if err := ctx.Err(); err != nil {
		return PermissionDefault, err
	}
	_, err := t.bot.ChatByID(t.cfg.ChatID)
	switch {
	case err == nil:
		return t.setPerm(PermissionGranted), nil
	case isDenied(err):
		return t.setPerm(PermissionDenied), nil
	default:
		t.mu.Lock()
		perm := t.perm
		t.mu.Unlock()
		return perm, err
	}
}

func (t *Telegram) Show(ctx context.Context, n Notification) error {
	return t.SendText(ctx, FormatText(n))
}

// SendText sends plain text to the configured chat. It also serves as the log chat sink.
func (t *Telegram) SendText(ctx context.Context, text string) error {
	if !t.Supported() {
		return ErrUnsupported
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if r := []rune(text); len(r) > telegramTextLimit {
		text = string(r[:telegramTextLimit-1]) + "…"
	}
	_, err := t.bot.Send(tele.ChatID(t.cfg.ChatID), text, &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil && isDenied(err) {
		t.setPerm(PermissionDenied)
	}
	return err
}

func (t *Telegram) setPerm(p Permission) Permission {
	t.mu.Lock()
	t.perm = p
	t.mu.Unlock()
	return p
}

func isDenied(err error) bool {
	if errors.Is(err, tele.ErrBlockedByUser) || errors.Is(err, tele.ErrChatNotFound) || errors.Is(err, tele.ErrKickedFromGroup) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "blocked by the user") ||
		strings.Contains(s, "chat not found") ||
		strings.Contains(s, "kicked")
}
