package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"lovepush/internal/storage"
)

// Sender delivers one payload to one subscription.
type Sender interface {
	Send(ctx context.Context, u storage.User, payload []byte) error
}

// StatusError is a non-2xx answer from the push service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("push service returned %d", e.Code)
	}
	return fmt.Sprintf("push service returned %d: %s", e.Code, e.Body)
}

// Gone reports whether err means the subscription no longer exists and
// should be deactivated.
func Gone(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusGone || se.Code == http.StatusNotFound
	}
	return strings.Contains(strings.ToLower(err.Error()), "invalid")
}

type VAPIDConfig struct {
	Subscriber string // email or URL identifying the sender
	PublicKey  string
	PrivateKey string
	TTL        time.Duration
	Client     *http.Client
}

// WebPush sends through webpush-go with VAPID authentication.
type WebPush struct {
	cfg VAPIDConfig
}

func NewWebPush(cfg VAPIDConfig) (*WebPush, error) {
	if strings.TrimSpace(cfg.PublicKey) == "" || strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, errors.New("push: VAPID public and private keys are required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &WebPush{cfg: cfg}, nil
}

func (w *WebPush) PublicKey() string { return w.cfg.PublicKey }

func (w *WebPush) Send(ctx context.Context, u storage.User, payload []byte) error {
	if u.Endpoint == "" {
		return errors.New("invalid subscription: empty endpoint")
	}
	sub := &webpush.Subscription{
		Endpoint: u.Endpoint,
		Keys: webpush.Keys{
			P256dh: u.P256dh,
			Auth:   u.Auth,
		},
	}
	opts := &webpush.Options{
		Subscriber:      w.cfg.Subscriber,
		VAPIDPublicKey:  w.cfg.PublicKey,
		VAPIDPrivateKey: w.cfg.PrivateKey,
		TTL:             int(w.cfg.TTL.Seconds()),
	}
	if w.cfg.Client != nil {
		opts.HTTPClient = w.cfg.Client
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

// GenerateVAPIDKeys returns a new (public, private) key pair.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	return publicKey, privateKey, err
}
