package app

import (
	"fmt"
	"net"
	"strings"
	"time"

	"lovepush/internal/api"
	"lovepush/internal/catalog"
	"lovepush/internal/config"
	"lovepush/internal/eventbus"
	"lovepush/internal/metrics"
	"lovepush/internal/platform"
	"lovepush/internal/push"
	"lovepush/internal/schedule"
	"lovepush/internal/storage"
	"lovepush/internal/trigger"
	logx "lovepush/pkg/logx"
)

func mapLogConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled:    c.File.Enabled,
			Path:       c.File.Path,
			MaxSizeMB:  c.File.MaxSizeMB,
			MaxBackups: c.File.MaxBackups,
			MaxAgeDays: c.File.MaxAgeDays,
		},
		Chat: logx.ChatConfig{
			Enabled:    c.Telegram.Enabled,
			MinLevel:   c.Telegram.MinLevel,
			RatePerSec: c.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(c config.StorageConfig) storage.Config {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	path := strings.TrimSpace(c.Path)
	if path == "" {
		switch driver {
		case "file":
			path = "./lovepush_store"
		case "sqlite", "sqlite3":
			path = "./lovepush.db"
		}
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		BusyTimeout: config.DurationOr(c.BusyTimeout, 5*time.Second),
		Redis: storage.RedisConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   c.Redis.Prefix,
		},
	}
}

func mapPlatformConfig(cfg *config.Config) platform.Config {
	return platform.Config{
		Driver: cfg.Notifications.Platform,
		Telegram: platform.TelegramConfig{
			Token:   cfg.Telegram.Token,
			ChatID:  cfg.Telegram.ChatID,
			APIURL:  cfg.Telegram.APIURL,
			Timeout: config.DurationOr(cfg.Telegram.Timeout, 10*time.Second),
		},
		Shoutrrr: platform.ShoutrrrConfig{
			URLs:    cfg.Shoutrrr.URLs,
			Timeout: config.DurationOr(cfg.Shoutrrr.Timeout, 10*time.Second),
		},
	}
}

func mapServerConfig(c config.ServerConfig) api.Config {
	return api.Config{
		Enabled:         c.Enabled,
		Addr:            strings.TrimSpace(c.Addr),
		ReadTimeout:     config.DurationOr(c.ReadTimeout, 15*time.Second),
		WriteTimeout:    config.DurationOr(c.WriteTimeout, 60*time.Second),
		IdleTimeout:     config.DurationOr(c.IdleTimeout, 2*time.Minute),
		ShutdownTimeout: config.DurationOr(c.ShutdownTimeout, 10*time.Second),
	}
}

// relayURL picks where simple registrations go: the configured URL, or this
// server's own endpoint when the server is enabled.
func relayURL(cfg *config.Config) string {
	if u := strings.TrimSpace(cfg.Notifications.RelayURL); u != "" {
		return u
	}
	if !cfg.Server.Enabled {
		return ""
	}
	addr := strings.TrimSpace(cfg.Server.Addr)
	if addr == "" {
		addr = api.DefaultAddr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "0" {
		return ""
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/api/register-simple-user"
}

func mapTriggerSettings(cfg *config.Config, loc *time.Location) (trigger.Settings, error) {
	n := cfg.Notifications
	target, err := schedule.ParseClock(n.TargetTime)
	if err != nil {
		return trigger.Settings{}, fmt.Errorf("notifications.target_time: %w", err)
	}
	return trigger.Settings{
		TargetMinute: target,
		Tolerance:    config.DurationOrUnset(n.Tolerance, time.Minute),
		CheckEvery:   strings.TrimSpace(n.CheckEvery),
		Strategy:     n.Strategy,
		Title:        n.Title,
		Location:     loc,
	}, nil
}

func mapVAPIDConfig(c config.PushConfig) push.VAPIDConfig {
	return push.VAPIDConfig{
		Subscriber: c.Subscriber,
		PublicKey:  strings.TrimSpace(c.VAPIDPublicKey),
		PrivateKey: strings.TrimSpace(c.VAPIDPrivateKey),
		TTL:        config.DurationOr(c.TTL, 24*time.Hour),
	}
}

// selectorInputs resolves the catalog section. A nil catalog with a nil
// error means the embedded messages.
type selectorInputs struct {
	cat      *catalog.Catalog
	strategy string
	specials map[time.Weekday]string
	loc      *time.Location
}

func mapSelectorInputs(cfg *config.Config) (selectorInputs, error) {
	var in selectorInputs
	var err error
	if in.strategy, err = catalog.ParseStrategy(cfg.Catalog.Strategy); err != nil {
		return in, fmt.Errorf("catalog.strategy: %w", err)
	}
	if in.specials, err = catalog.ParseWeekdaySpecials(cfg.Catalog.WeekdaySpecials); err != nil {
		return in, fmt.Errorf("catalog.weekday_specials: %w", err)
	}
	if in.loc, err = cfg.Location(); err != nil {
		return in, err
	}
	if p := strings.TrimSpace(cfg.Catalog.Path); p != "" {
		if in.cat, err = catalog.Load(p); err != nil {
			return in, fmt.Errorf("catalog.path: %w", err)
		}
	}
	return in, nil
}

// NewSelector builds the message selector described by cfg.
func NewSelector(cfg *config.Config) (*catalog.Selector, error) {
	in, err := mapSelectorInputs(cfg)
	if err != nil {
		return nil, err
	}
	cat := in.cat
	if cat == nil {
		cat = catalog.Default()
	}
	return catalog.NewSelector(cat, in.strategy, in.specials, in.loc), nil
}

// NewBroadcaster builds the web push sender and broadcaster from the push section.
func NewBroadcaster(cfg *config.Config, users storage.Users, sel *catalog.Selector, bus eventbus.Bus, m *metrics.Metrics, log logx.Logger) (*push.Broadcaster, *push.WebPush, error) {
	wp, err := push.NewWebPush(mapVAPIDConfig(cfg.Push))
	if err != nil {
		return nil, nil, err
	}
	b := push.NewBroadcaster(push.Options{
		Users:       users,
		Sender:      wp,
		Selector:    sel,
		Bus:         bus,
		Metrics:     m,
		Log:         log,
		Title:       cfg.Push.Title,
		Workers:     cfg.Push.Workers,
		RatePerSec:  cfg.Push.RatePerSec,
		SendTimeout: config.DurationOr(cfg.Push.SendTimeout, 30*time.Second),
	})
	return b, wp, nil
}

// OpenStore opens the storage section of cfg.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	return storage.Open(mapStorageConfig(cfg.Storage), log)
}
