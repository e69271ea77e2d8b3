package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "memory" (default): process-local, lost on restart
//   - "file": jsonl journal + snapshot under Path
//   - "sqlite": SQLite database file at Path
//   - "redis": Redis server at Redis.Addr
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Redis       RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // key prefix; default "lovepush:"
}

// KV is the device-side key/value capability (string values only).
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Users is the server-side registration store.
type Users interface {
	// UpsertUser inserts u or replaces the record with the same ID.
	UpsertUser(ctx context.Context, u User) error
	ActiveUsers(ctx context.Context) ([]User, error)
	DeactivateUser(ctx context.Context, id string) error
	MarkNotified(ctx context.Context, id string, at time.Time) error
}

// Store bundles every capability a driver provides.
type Store interface {
	KV
	Users
	Close() error
}

// User kinds.
const (
	KindPush   = "push"
	KindSimple = "simple"
)

// User is a registered device.
// Push users carry a web push subscription; simple users only metadata.
type User struct {
	ID               string     `json:"id"`
	Kind             string     `json:"kind"`
	Endpoint         string     `json:"endpoint,omitempty"`
	P256dh           string     `json:"p256dh,omitempty"`
	Auth             string     `json:"auth,omitempty"`
	UserAgent        string     `json:"userAgent,omitempty"`
	Timezone         string     `json:"timezone,omitempty"`
	RegisteredAt     time.Time  `json:"registeredAt"`
	LastNotification *time.Time `json:"lastNotification,omitempty"`
	Active           bool       `json:"active"`
}
