package config

import (
	"reflect"
	"sort"
	"strings"

	logx "lovepush/pkg/logx"
)

// Change summarizes the difference between two configs.
type Change struct {
	// Sections lists every top-level section that differs.
	Sections []string
	// RestartRequired lists the changed sections that only take effect on restart.
	RestartRequired []string
	// Attrs are safe to log: secrets are reported as *_set booleans only.
	Attrs []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Diff compares oldCfg and newCfg. A nil side is treated as Default.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = Default()
	}
	if newCfg == nil {
		newCfg = Default()
	}
	var ch Change
	mark := func(section string, restart bool, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		if restart {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
		ch.Attrs = append(ch.Attrs, attrs...)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		l := newCfg.Logging
		mark("logging", false,
			logx.String("logging.level", l.Level),
			logx.Bool("logging.console", l.Console),
			logx.Bool("logging.file_enabled", l.File.Enabled),
			logx.Bool("logging.telegram_enabled", l.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		mark("server", false,
			logx.Bool("server.enabled", newCfg.Server.Enabled),
			logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Catalog, newCfg.Catalog) {
		mark("catalog", false,
			logx.String("catalog.strategy", newCfg.Catalog.Strategy),
			logx.Bool("catalog.path_set", strings.TrimSpace(newCfg.Catalog.Path) != ""),
			logx.Int("catalog.weekday_specials", len(newCfg.Catalog.WeekdaySpecials)),
			logx.String("catalog.timezone", newCfg.Catalog.Timezone),
		)
	}

	on, nn := oldCfg.Notifications, newCfg.Notifications
	if !reflect.DeepEqual(on, nn) {
		// Timing, strategy and history size are live; the session itself is built once.
		restart := on.Enabled != nn.Enabled ||
			!strings.EqualFold(strings.TrimSpace(on.Platform), strings.TrimSpace(nn.Platform)) ||
			strings.TrimSpace(on.RelayURL) != strings.TrimSpace(nn.RelayURL)
		mark("notifications", restart,
			logx.Bool("notifications.enabled", nn.Enabled),
			logx.String("notifications.platform", nn.Platform),
			logx.String("notifications.target_time", nn.TargetTime),
			logx.String("notifications.check_every", nn.CheckEvery),
			logx.String("notifications.strategy", nn.Strategy),
		)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.ChatID != nt.ChatID || ot.APIURL != nt.APIURL || ot.Timeout != nt.Timeout {
		mark("telegram", true,
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Bool("telegram.chat_set", nt.ChatID != 0),
		)
	}
	if !reflect.DeepEqual(oldCfg.Shoutrrr, newCfg.Shoutrrr) {
		mark("shoutrrr", true, logx.Int("shoutrrr.url_count", len(newCfg.Shoutrrr.URLs)))
	}

	op, np := oldCfg.Push, newCfg.Push
	if !reflect.DeepEqual(op, np) {
		// The broadcast schedule is live; keys and delivery tuning are not.
		a, b := op, np
		a.Schedule, b.Schedule = "", ""
		mark("push", a != b,
			logx.Bool("push.enabled", np.Enabled),
			logx.String("push.schedule", np.Schedule),
			logx.Bool("push.vapid_set", np.VAPIDPublicKey != "" && np.VAPIDPrivateKey != ""),
		)
	}

	oldS, ns := oldCfg.Storage, newCfg.Storage
	if oldS != ns {
		mark("storage", true,
			logx.String("storage.driver", ns.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(ns.Path) != ""),
			logx.Bool("storage.redis_password_set", ns.Redis.Password != ""),
		)
	}

	sort.Strings(ch.Sections)
	sort.Strings(ch.RestartRequired)
	return ch
}
