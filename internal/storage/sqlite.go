package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "lovepush/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

func (s *sqliteStore) UpsertUser(ctx context.Context, u User) error {
	if u.RegisteredAt.IsZero() {
		u.RegisteredAt = time.Now()
	}
	var last any
	if u.LastNotification != nil {
		last = u.LastNotification.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, kind, endpoint, p256dh, auth, user_agent, timezone, registered_at, last_notification, active)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   kind=excluded.kind, endpoint=excluded.endpoint, p256dh=excluded.p256dh, auth=excluded.auth,
		   user_agent=excluded.user_agent, timezone=excluded.timezone, registered_at=excluded.registered_at,
		   last_notification=excluded.last_notification, active=excluded.active`,
		u.ID, u.Kind, nullStr(u.Endpoint), nullStr(u.P256dh), nullStr(u.Auth), nullStr(u.UserAgent), nullStr(u.Timezone),
		u.RegisteredAt.UTC().Format(time.RFC3339Nano), last, boolInt(u.Active),
	)
	return err
}

func (s *sqliteStore) ActiveUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, endpoint, p256dh, auth, user_agent, timezone, registered_at, last_notification
		 FROM users WHERE active = 1 ORDER BY registered_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var (
			u                                        User
			endpoint, p256dh, auth, ua, tz, lastNote sql.NullString
			registered                               string
		)
		if err := rows.Scan(&u.ID, &u.Kind, &endpoint, &p256dh, &auth, &ua, &tz, &registered, &lastNote); err != nil {
			return nil, err
		}
		u.Endpoint, u.P256dh, u.Auth = endpoint.String, p256dh.String, auth.String
		u.UserAgent, u.Timezone = ua.String, tz.String
		u.Active = true
		if t, err := time.Parse(time.RFC3339Nano, registered); err == nil {
			u.RegisteredAt = t
		}
		if lastNote.Valid {
			if t, err := time.Parse(time.RFC3339Nano, lastNote.String); err == nil {
				u.LastNotification = &t
			}
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeactivateUser(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET active = 0 WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) MarkNotified(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_notification = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), id)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
