package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"lovepush/internal/catalog"
	"lovepush/internal/schedule"
)

// Validate checks every field that is parsed later and reports all problems
// at once, each prefixed by its key path.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when file logging is enabled"))
	}

	if cfg.Server.Enabled && strings.TrimSpace(cfg.Server.Addr) == "" {
		add(errors.New("server.addr: required when the server is enabled"))
	}
	dur("server.read_timeout", cfg.Server.ReadTimeout)
	dur("server.write_timeout", cfg.Server.WriteTimeout)
	dur("server.idle_timeout", cfg.Server.IdleTimeout)
	dur("server.shutdown_timeout", cfg.Server.ShutdownTimeout)

	if _, err := catalog.ParseStrategy(cfg.Catalog.Strategy); err != nil {
		add(fmt.Errorf("catalog.strategy: %w", err))
	}
	if _, err := catalog.ParseWeekdaySpecials(cfg.Catalog.WeekdaySpecials); err != nil {
		add(fmt.Errorf("catalog.weekday_specials: %w", err))
	}
	if _, err := cfg.Location(); err != nil {
		add(err)
	}

	n := cfg.Notifications
	switch strings.ToLower(strings.TrimSpace(n.Platform)) {
	case "", "console", "shoutrrr":
	case "telegram":
		if n.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || cfg.Telegram.ChatID == 0) {
			add(errors.New("telegram: token and chat_id are required for the telegram platform"))
		}
	default:
		add(fmt.Errorf("notifications.platform: unknown platform %q", n.Platform))
	}
	if _, err := schedule.ParseClock(n.TargetTime); err != nil {
		add(fmt.Errorf("notifications.target_time: %w", err))
	}
	dur("notifications.tolerance", n.Tolerance)
	if strings.TrimSpace(n.CheckEvery) != "" {
		if err := schedule.Validate(n.CheckEvery); err != nil {
			add(fmt.Errorf("notifications.check_every: %w", err))
		}
	}
	switch n.Strategy {
	case "", "by-date", "avoid-recent":
	default:
		add(fmt.Errorf("notifications.strategy: unknown strategy %q", n.Strategy))
	}
	if n.HistorySize < 0 {
		add(errors.New("notifications.history_size: must be >= 0"))
	}

	dur("telegram.timeout", cfg.Telegram.Timeout)
	dur("shoutrrr.timeout", cfg.Shoutrrr.Timeout)
	if strings.EqualFold(strings.TrimSpace(n.Platform), "shoutrrr") && n.Enabled && len(cfg.Shoutrrr.URLs) == 0 {
		add(errors.New("shoutrrr.urls: at least one url is required for the shoutrrr platform"))
	}

	p := cfg.Push
	if p.Enabled {
		if strings.TrimSpace(p.VAPIDPublicKey) == "" || strings.TrimSpace(p.VAPIDPrivateKey) == "" {
			add(errors.New("push: vapid_public_key and vapid_private_key are required when push is enabled"))
		}
		if strings.TrimSpace(p.Schedule) != "" {
			if err := schedule.Validate(p.Schedule); err != nil {
				add(fmt.Errorf("push.schedule: %w", err))
			}
		}
	}
	dur("push.ttl", p.TTL)
	dur("push.send_timeout", p.SendTimeout)
	if p.Workers < 0 {
		add(errors.New("push.workers: must be >= 0"))
	}
	if p.RatePerSec < 0 {
		add(errors.New("push.rate_per_sec: must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory", "file", "sqlite", "sqlite3":
	case "redis":
		if strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
			add(errors.New("storage.redis.addr: required for the redis driver"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	return errors.Join(errs...)
}

// Location resolves catalog.timezone. Empty means the process local zone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Catalog.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("catalog.timezone: %w", err)
	}
	return loc, nil
}

// ParseDurationField parses a non-negative duration; empty is zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// DurationOr parses raw and falls back to def when it is empty, zero or invalid.
// Validate has already reported invalid values by the time this runs.
// Use it for timeouts, where zero has no useful meaning.
func DurationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// DurationOrUnset is DurationOr for settings where an explicit "0s" is a
// real value: only an empty or invalid raw falls back to def.
func DurationOrUnset(raw string, def time.Duration) time.Duration {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	d, err := ParseDurationField("", raw)
	if err != nil {
		return def
	}
	return d
}
