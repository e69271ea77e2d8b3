// Package platform abstracts the channel a notification is displayed on.
//
// A Platform plays the role of a notification permission API: it may be
// unsupported, its permission may be undecided, granted or denied, and it can
// show a notification once granted.
package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "lovepush/pkg/logx"
)

var ErrUnsupported = errors.New("notifications are not supported on this platform")

type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Notification is what gets displayed.
type Notification struct {
	Title     string
	Body      string
	Tag       string
	MessageID int
}

type Platform interface {
	Name() string
	// Supported reports whether this platform can display anything at all.
	Supported() bool
	// Permission returns the current permission without prompting.
	Permission(ctx context.Context) Permission
	// RequestPermission prompts (or probes) for permission. A returned error
	// means the platform failed, not that permission was denied.
	RequestPermission(ctx context.Context) (Permission, error)
	Show(ctx context.Context, n Notification) error
}

// Config selects and configures the display platform.
type Config struct {
	Driver   string // telegram | shoutrrr | console
	Telegram TelegramConfig
	Shoutrrr ShoutrrrConfig
}

// Open builds the configured platform. An empty driver selects console.
func Open(cfg Config, log logx.Logger) (Platform, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.With(logx.String("comp", "platform"), logx.String("driver", driver))
	switch driver {
	case "", "console":
		return NewConsole(nil, log), nil
	case "telegram":
		return NewTelegram(cfg.Telegram, log)
	case "shoutrrr":
		return NewShoutrrr(cfg.Shoutrrr, log), nil
	default:
		return nil, fmt.Errorf("unknown platform driver: %s", driver)
	}
}

// FormatText renders a notification as plain text.
func FormatText(n Notification) string {
	title := strings.TrimSpace(n.Title)
	body := strings.TrimSpace(n.Body)
	switch {
	case title == "":
		return body
	case body == "":
		return title
	default:
		return title + "\n\n" + body
	}
}

func defaultTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}
