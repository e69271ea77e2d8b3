package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"lovepush/internal/storage"
)

// HistoryEntry records one delivered message.
type HistoryEntry struct {
	ID      int       `json:"id"`
	ShownAt time.Time `json:"timestamp"`
}

// History is a bounded most-recent-first list of delivered messages.
type History struct {
	kv storage.KV

	mu       sync.Mutex
	capacity int
}

func NewHistory(kv storage.KV, capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{kv: kv, capacity: capacity}
}

// SetCapacity changes the cap. Reads are trimmed to it immediately; the
// stored list shrinks on the next Append.
func (h *History) SetCapacity(n int) {
	if n <= 0 {
		n = DefaultHistorySize
	}
	h.mu.Lock()
	h.capacity = n
	h.mu.Unlock()
}

// List returns entries most-recent-first. Corrupt data reads as empty.
func (h *History) List(ctx context.Context) ([]HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loadLocked(ctx)
}

// RecentIDs returns the ids currently in history, most-recent-first.
func (h *History) RecentIDs(ctx context.Context) ([]int, error) {
	entries, err := h.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids, nil
}

// Append prepends e and truncates the list to capacity.
func (h *History) Append(ctx context.Context, e HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries, err := h.loadLocked(ctx)
	if err != nil {
		return err
	}
	entries = append([]HistoryEntry{e}, entries...)
	if len(entries) > h.capacity {
		entries = entries[:h.capacity]
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	if err := h.kv.Set(ctx, KeyHistory, string(b)); err != nil {
		return fmt.Errorf("history: save: %w", err)
	}
	return nil
}

func (h *History) loadLocked(ctx context.Context) ([]HistoryEntry, error) {
	raw, ok, err := h.kv.Get(ctx, KeyHistory)
	if err != nil {
		return nil, fmt.Errorf("history: load: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var entries []HistoryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, nil
	}
	if len(entries) > h.capacity {
		entries = entries[:h.capacity]
	}
	return entries, nil
}
