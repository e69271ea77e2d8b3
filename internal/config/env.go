package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Secret overrides read from the environment.
const (
	EnvTelegramToken   = "LOVEPUSH_TELEGRAM_TOKEN"
	EnvVAPIDPublicKey  = "LOVEPUSH_VAPID_PUBLIC_KEY"
	EnvVAPIDPrivateKey = "LOVEPUSH_VAPID_PRIVATE_KEY"
	EnvRedisPassword   = "LOVEPUSH_REDIS_PASSWORD"
)

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// applyEnv overlays non-empty secrets from lookup onto cfg.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.Telegram.Token, EnvTelegramToken)
	set(&cfg.Push.VAPIDPublicKey, EnvVAPIDPublicKey)
	set(&cfg.Push.VAPIDPrivateKey, EnvVAPIDPrivateKey)
	set(&cfg.Storage.Redis.Password, EnvRedisPassword)
}
