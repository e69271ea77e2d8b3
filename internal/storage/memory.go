package storage

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

type memoryStore struct {
	kv    *cache.Cache
	users *cache.Cache

	mu sync.Mutex // serializes read-modify-write on users
}

// NewMemory returns a process-local store. Entries never expire.
func NewMemory() Store {
	return &memoryStore{
		kv:    cache.New(cache.NoExpiration, 0),
		users: cache.New(cache.NoExpiration, 0),
	}
}

func (s *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.kv.Get(key)
	if !ok {
		return "", false, nil
	}
	str, _ := v.(string)
	return str, true, nil
}

func (s *memoryStore) Set(_ context.Context, key, value string) error {
	s.kv.Set(key, value, cache.NoExpiration)
	return nil
}

func (s *memoryStore) UpsertUser(_ context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users.Set(u.ID, u, cache.NoExpiration)
	return nil
}

func (s *memoryStore) ActiveUsers(context.Context) ([]User, error) {
	var out []User
	for _, it := range s.users.Items() {
		if u, ok := it.Object.(User); ok && u.Active {
			out = append(out, u)
		}
	}
	sortUsers(out)
	return out, nil
}

func (s *memoryStore) DeactivateUser(_ context.Context, id string) error {
	return s.update(id, func(u *User) { u.Active = false })
}

func (s *memoryStore) MarkNotified(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(u *User) { u.LastNotification = &at })
}

func (s *memoryStore) update(id string, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.users.Get(id)
	if !ok {
		return nil
	}
	u := v.(User)
	fn(&u)
	s.users.Set(id, u, cache.NoExpiration)
	return nil
}

func (s *memoryStore) Close() error { return nil }
