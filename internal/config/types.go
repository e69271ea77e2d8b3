package config

// Config is the on-disk configuration. Files may be JSON or YAML; unknown
// keys are rejected. Durations are Go duration strings ("90s", "1m").
type Config struct {
	Logging       LoggingConfig       `json:"logging"`
	Server        ServerConfig        `json:"server"`
	Catalog       CatalogConfig       `json:"catalog"`
	Notifications NotificationsConfig `json:"notifications"`
	Telegram      TelegramConfig      `json:"telegram"`
	Shoutrrr      ShoutrrrConfig      `json:"shoutrrr"`
	Push          PushConfig          `json:"push"`
	Storage       StorageConfig       `json:"storage"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

// LoggingTelegram mirrors warnings and errors into the telegram chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Addr            string `json:"addr"`
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	IdleTimeout     string `json:"idle_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// CatalogConfig selects the message source and the date strategy.
//
// Example:
//
//	catalog:
//	  path: ./messages.yaml
//	  strategy: by-date-with-weekday-special
//	  weekday_specials: { friday: "Weekend is close!" }
//	  timezone: Europe/Madrid
type CatalogConfig struct {
	// Path to a JSON or YAML message file. Empty uses the embedded catalog.
	Path            string            `json:"path,omitempty"`
	Strategy        string            `json:"strategy"`
	WeekdaySpecials map[string]string `json:"weekday_specials,omitempty"`
	// Timezone is an IANA name used for every calendar computation. Empty means local.
	Timezone string `json:"timezone,omitempty"`
}

// NotificationsConfig drives the device-side session.
type NotificationsConfig struct {
	Enabled bool `json:"enabled"`
	// Platform is telegram, shoutrrr or console.
	Platform    string `json:"platform"`
	TargetTime  string `json:"target_time"`
	Tolerance   string `json:"tolerance"`
	CheckEvery  string `json:"check_every"`
	Strategy    string `json:"strategy"`
	Title       string `json:"title"`
	HistorySize int    `json:"history_size"`
	// AutoEnable requests permission at startup when the gateway is in default.
	AutoEnable bool `json:"auto_enable,omitempty"`
	// RelayURL receives the simple-user registration after a grant. Empty
	// targets this server's own register-simple-user when the server is enabled.
	RelayURL string `json:"relay_url,omitempty"`
}

type TelegramConfig struct {
	Token   string `json:"token"`
	ChatID  int64  `json:"chat_id"`
	APIURL  string `json:"api_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type ShoutrrrConfig struct {
	URLs    []string `json:"urls"`
	Timeout string   `json:"timeout,omitempty"`
}

// PushConfig controls the web push broadcaster.
type PushConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron expression or an interval ("every:6h"). Empty means on demand only.
	Schedule        string  `json:"schedule,omitempty"`
	Title           string  `json:"title"`
	Subscriber      string  `json:"subscriber"`
	VAPIDPublicKey  string  `json:"vapid_public_key"`
	VAPIDPrivateKey string  `json:"vapid_private_key"`
	TTL             string  `json:"ttl,omitempty"`
	Workers         int     `json:"workers,omitempty"`
	RatePerSec      float64 `json:"rate_per_sec,omitempty"`
	SendTimeout     string  `json:"send_timeout,omitempty"`
}

// StorageConfig picks the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./lovepush.db" }
type StorageConfig struct {
	Driver      string      `json:"driver"`
	Path        string      `json:"path,omitempty"`
	BusyTimeout string      `json:"busy_timeout,omitempty"`
	Redis       RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// Default returns the configuration used for omitted keys.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    "info",
			Console:  true,
			Telegram: LoggingTelegram{MinLevel: "warn", RatePerSec: 1},
		},
		Server: ServerConfig{
			Enabled:         true,
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     "15s",
			WriteTimeout:    "60s",
			IdleTimeout:     "2m",
			ShutdownTimeout: "10s",
		},
		Catalog: CatalogConfig{Strategy: "by-date"},
		Notifications: NotificationsConfig{
			Enabled:     true,
			Platform:    "console",
			TargetTime:  "09:00",
			Tolerance:   "1m",
			CheckEvery:  "1m",
			Strategy:    "by-date",
			Title:       "Good morning!",
			HistorySize: 10,
		},
		Telegram: TelegramConfig{Timeout: "10s"},
		Shoutrrr: ShoutrrrConfig{Timeout: "10s"},
		Push: PushConfig{
			Title:       "Good morning!",
			Subscriber:  "mailto:admin@example.com",
			TTL:         "24h",
			Workers:     4,
			SendTimeout: "30s",
		},
		Storage: StorageConfig{Driver: "file", Path: "./lovepush_store", BusyTimeout: "5s"},
	}
}
