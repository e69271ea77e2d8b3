package storage

import (
	"errors"
	"sort"
	"strings"

	logx "lovepush/pkg/logx"
)

// Open initializes the configured store. An empty driver selects memory.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func sortUsers(us []User) {
	sort.Slice(us, func(i, j int) bool {
		if !us[i].RegisteredAt.Equal(us[j].RegisteredAt) {
			return us[i].RegisteredAt.Before(us[j].RegisteredAt)
		}
		return us[i].ID < us[j].ID
	})
}
