package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "lovepush/pkg/logx"
)

// redisStore keeps KV entries as plain string keys and users as JSON values in
// a single hash.
type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxRetries:   3,
		PoolSize:     10,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	log.Info("redis connected", logx.String("addr", addr))
	return newRedisStore(client, cfg.Redis.Prefix, log), nil
}

func newRedisStore(client *redis.Client, prefix string, log logx.Logger) *redisStore {
	if prefix == "" {
		prefix = "lovepush:"
	}
	return &redisStore{client: client, prefix: prefix, log: log}
}

func (s *redisStore) kvKey(key string) string { return s.prefix + "kv:" + key }
func (s *redisStore) usersKey() string        { return s.prefix + "users" }

func (s *redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.kvKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *redisStore) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, s.kvKey(key), value, 0).Err()
}

func (s *redisStore) UpsertUser(ctx context.Context, u User) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.usersKey(), u.ID, b).Err()
}

func (s *redisStore) ActiveUsers(ctx context.Context) ([]User, error) {
	all, err := s.client.HGetAll(ctx, s.usersKey()).Result()
	if err != nil {
		return nil, err
	}
	return decodeActiveUsers(all, s.log), nil
}

func decodeActiveUsers(all map[string]string, log logx.Logger) []User {
	var out []User
	for id, raw := range all {
		var u User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			log.Warn("skipping undecodable user", logx.String("id", id), logx.Err(err))
			continue
		}
		if u.Active {
			out = append(out, u)
		}
	}
	sortUsers(out)
	return out
}

func (s *redisStore) DeactivateUser(ctx context.Context, id string) error {
	return s.updateUser(ctx, id, func(u *User) { u.Active = false })
}

func (s *redisStore) MarkNotified(ctx context.Context, id string, at time.Time) error {
	return s.updateUser(ctx, id, func(u *User) { u.LastNotification = &at })
}

// updateUser applies fn under WATCH so concurrent writers retry instead of clobbering.
func (s *redisStore) updateUser(ctx context.Context, id string, fn func(*User)) error {
	key := s.usersKey()
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, id).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var u User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			return err
		}
		fn(&u)
		b, err := json.Marshal(u)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, b)
			return nil
		})
		return err
	}
	for range 3 {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return redis.TxFailedErr
}

func (s *redisStore) Close() error { return s.client.Close() }
