// Package relay tells a remote registry that this device enabled notifications.
// Delivery is fire-and-forget: failures are logged and never returned.
package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	logx "lovepush/pkg/logx"
)

// Registration is the simple-device payload accepted by register-simple-user.
type Registration struct {
	UserAgent           string `json:"userAgent"`
	Timestamp           string `json:"timestamp"`
	Timezone            string `json:"timezone"`
	NotificationEnabled bool   `json:"notificationEnabled"`
}

type Config struct {
	// URL of the register-simple-user endpoint. Empty disables the relay.
	URL       string
	UserAgent string
}

type Relay struct {
	url    string
	ua     string
	client *resty.Client
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) *Relay {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "relay"))
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = "lovepush"
	}
	c := resty.New()
	c.SetHeader("User-Agent", ua)
	c.SetHeader("Content-Type", "application/json")
	c.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		log.Debug("relay response", logx.Int("status", resp.StatusCode()), logx.Duration("took", resp.Time()))
		return nil
	})
	return &Relay{url: strings.TrimSpace(cfg.URL), ua: ua, client: c, log: log}
}

// Client exposes the underlying HTTP client.
func (r *Relay) Client() *resty.Client { return r.client }

// NewRegistration builds the payload for a device that just enabled notifications.
func (r *Relay) NewRegistration(now time.Time, loc *time.Location) Registration {
	if loc == nil {
		loc = time.Local
	}
	return Registration{
		UserAgent:           r.ua,
		Timestamp:           now.UTC().Format(time.RFC3339Nano),
		Timezone:            loc.String(),
		NotificationEnabled: true,
	}
}

// Register makes exactly one attempt. It never returns an error.
func (r *Relay) Register(ctx context.Context, reg Registration) {
	if r == nil || r.url == "" {
		return
	}
	if err := r.post(ctx, reg); err != nil {
		r.log.Warn("device registration failed", logx.String("url", r.url), logx.Err(err))
		return
	}
	r.log.Info("device registered", logx.String("url", r.url))
}

func (r *Relay) post(ctx context.Context, reg Registration) error {
	resp, err := r.client.R().SetContext(ctx).SetBody(reg).Post(r.url)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		body := strings.TrimSpace(resp.String())
		if len(body) > 200 {
			body = body[:200]
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode(), body)
	}
	return nil
}
