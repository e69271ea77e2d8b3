package device

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"lovepush/internal/storage"
)

// Preferences is the persisted NotificationPreference.
type Preferences struct {
	kv storage.KV
}

func NewPreferences(kv storage.KV) *Preferences { return &Preferences{kv: kv} }

// Enabled reports whether notifications were enabled after a permission grant.
func (p *Preferences) Enabled(ctx context.Context) (bool, error) {
	raw, ok, err := p.kv.Get(ctx, KeyEnabled)
	if err != nil || !ok {
		return false, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, nil
	}
	return v, nil
}

// Enable persists enabled=true and the start date.
func (p *Preferences) Enable(ctx context.Context, start time.Time) error {
	if err := p.kv.Set(ctx, KeyEnabled, "true"); err != nil {
		return fmt.Errorf("prefs: save enabled: %w", err)
	}
	if err := p.kv.Set(ctx, KeyStartDate, start.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("prefs: save start date: %w", err)
	}
	return nil
}

// StartDate returns when notifications were enabled, if ever.
func (p *Preferences) StartDate(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := p.kv.Get(ctx, KeyStartDate)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// LastFiredDate is the local calendar date (DateLayout) of the last automatic delivery.
func (p *Preferences) LastFiredDate(ctx context.Context) (string, error) {
	raw, _, err := p.kv.Get(ctx, KeyLastFired)
	return raw, err
}

func (p *Preferences) SetLastFiredDate(ctx context.Context, date string) error {
	if err := p.kv.Set(ctx, KeyLastFired, date); err != nil {
		return fmt.Errorf("prefs: save last fired date: %w", err)
	}
	return nil
}
