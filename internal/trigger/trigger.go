// Package trigger polls the clock and delivers the daily message once per
// local calendar day, inside a tolerance window around the target time.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"lovepush/internal/catalog"
	"lovepush/internal/clock"
	"lovepush/internal/device"
	"lovepush/internal/eventbus"
	"lovepush/internal/platform"
	"lovepush/internal/schedule"
	logx "lovepush/pkg/logx"
)

// Selection strategies for the automatic delivery.
const (
	StrategyByDate      = "by-date"
	StrategyAvoidRecent = "avoid-recent"
)

const (
	jobName    = "trigger.check"
	messageTag = "daily-love-message"
)

// Settings are hot-reloadable.
type Settings struct {
	TargetMinute int           // minutes after local midnight, e.g. 540 for 09:00
	Tolerance    time.Duration // inclusive, rounded down to whole minutes
	CheckEvery   string        // schedule string for the poll, e.g. "1m"
	Strategy     string        // StrategyByDate | StrategyAvoidRecent
	Title        string
	Location     *time.Location
}

// DefaultSettings mirror the classic 09:00 ± 1 minute check every minute.
func DefaultSettings() Settings {
	return Settings{
		TargetMinute: 9 * 60,
		Tolerance:    time.Minute,
		CheckEvery:   "1m",
		Strategy:     StrategyByDate,
		Title:        "Good morning!",
		Location:     time.Local,
	}
}

type Options struct {
	Selector *catalog.Selector
	History  *device.History
	Prefs    *device.Preferences
	Platform platform.Platform
	Runner   *schedule.Runner
	Clock    clock.Clock
	Bus      eventbus.Bus
	Rand     *rand.Rand
	Log      logx.Logger
}

// Outcome describes what a single check did.
type Outcome string

const (
	OutcomeStopped       Outcome = "stopped"
	OutcomeDisabled      Outcome = "disabled"
	OutcomeNotGranted    Outcome = "not-granted"
	OutcomeOutsideWindow Outcome = "outside-window"
	OutcomeAlreadyFired  Outcome = "already-fired"
	OutcomeFired         Outcome = "fired"
	OutcomeFailed        Outcome = "failed"
)

// Delivery is the payload of trigger events.
type Delivery struct {
	MessageID int
	Date      string
	Err       string
}

type Trigger struct {
	opts Options
	log  logx.Logger

	tickMu    sync.Mutex // one check at a time; also guards rng and firedDate
	firedDate string     // last local date delivered by this process

	mu       sync.RWMutex
	settings Settings

	started atomic.Bool
	stopped atomic.Bool
}

func New(opts Options, s Settings) (*Trigger, error) {
	if opts.Selector == nil || opts.History == nil || opts.Prefs == nil || opts.Platform == nil {
		return nil, errors.New("trigger: selector, history, prefs and platform are required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Trigger{opts: opts, log: log.With(logx.String("comp", "trigger"))}
	if err := t.setSettings(s); err != nil {
		return nil, err
	}
	return t, nil
}

func normalize(s Settings) (Settings, error) {
	d := DefaultSettings()
	if s.Location == nil {
		s.Location = d.Location
	}
	if s.CheckEvery == "" {
		s.CheckEvery = d.CheckEvery
	}
	if s.Strategy == "" {
		s.Strategy = d.Strategy
	}
	if s.Title == "" {
		s.Title = d.Title
	}
	if s.Tolerance < 0 {
		return s, fmt.Errorf("trigger: negative tolerance %s", s.Tolerance)
	}
	if s.TargetMinute < 0 || s.TargetMinute >= 24*60 {
		return s, fmt.Errorf("trigger: target minute %d out of range", s.TargetMinute)
	}
	switch s.Strategy {
	case StrategyByDate, StrategyAvoidRecent:
	default:
		return s, fmt.Errorf("trigger: unknown strategy %q", s.Strategy)
	}
	return s, nil
}

func (t *Trigger) setSettings(s Settings) error {
	s, err := normalize(s)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.settings = s
	t.mu.Unlock()
	return nil
}

func (t *Trigger) Settings() Settings {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.settings
}

// Apply swaps settings at runtime and reschedules the poll if needed.
func (t *Trigger) Apply(s Settings) error {
	prev := t.Settings()
	if err := t.setSettings(s); err != nil {
		return err
	}
	cur := t.Settings()
	if t.started.Load() && !t.stopped.Load() && t.opts.Runner != nil {
		if cur.Location.String() != prev.Location.String() {
			t.opts.Runner.SetLocation(cur.Location)
		}
		if cur.CheckEvery != prev.CheckEvery {
			if err := t.opts.Runner.Set(jobName, cur.CheckEvery, t.tick); err != nil {
				return err
			}
		}
	}
	t.log.Info("settings applied",
		logx.String("target", schedule.FormatClock(cur.TargetMinute)),
		logx.Duration("tolerance", cur.Tolerance),
		logx.String("every", cur.CheckEvery),
		logx.String("strategy", cur.Strategy))
	return nil
}

// Start registers the periodic check and runs one check immediately.
func (t *Trigger) Start(ctx context.Context) error {
	if t.opts.Runner == nil {
		return errors.New("trigger: runner is required to start")
	}
	if !t.started.CompareAndSwap(false, true) {
		return nil
	}
	s := t.Settings()
	if err := t.opts.Runner.Set(jobName, s.CheckEvery, t.tick); err != nil {
		return err
	}
	t.tick(ctx)
	return nil
}

// Stop halts future checks. A delivery already in flight completes, but its
// result is not recorded.
func (t *Trigger) Stop() {
	if !t.stopped.CompareAndSwap(false, true) {
		return
	}
	if t.opts.Runner != nil {
		t.opts.Runner.Remove(jobName)
	}
	t.log.Info("stopped")
}

func (t *Trigger) tick(ctx context.Context) {
	out, err := t.Check(ctx)
	switch {
	case err != nil:
		t.log.Warn("check failed", logx.String("outcome", string(out)), logx.Err(err))
	case out == OutcomeFired:
		t.log.Info("daily message delivered")
	default:
		t.log.Trace("check", logx.String("outcome", string(out)))
	}
}

// Check runs one poll step.
func (t *Trigger) Check(ctx context.Context) (Outcome, error) {
	t.tickMu.Lock()
	defer t.tickMu.Unlock()

	if t.stopped.Load() {
		return OutcomeStopped, nil
	}
	enabled, err := t.opts.Prefs.Enabled(ctx)
	if err != nil {
		return OutcomeFailed, err
	}
	if !enabled {
		return OutcomeDisabled, nil
	}
	if t.opts.Platform.Permission(ctx) != platform.PermissionGranted {
		return OutcomeNotGranted, nil
	}

	s := t.Settings()
	now := t.opts.Clock.Now().In(s.Location)
	cur := now.Hour()*60 + now.Minute()
	if abs(cur-s.TargetMinute) > int(s.Tolerance/time.Minute) {
		return OutcomeOutsideWindow, nil
	}

	today := now.Format(device.DateLayout)
	last, err := t.opts.Prefs.LastFiredDate(ctx)
	if err != nil {
		return OutcomeFailed, err
	}
	if last == today || t.firedDate == today {
		return OutcomeAlreadyFired, nil
	}

	n, err := t.compose(ctx, s, now)
	if err != nil {
		return OutcomeFailed, err
	}
	if err := t.opts.Platform.Show(ctx, n); err != nil {
		t.opts.Bus.Publish(eventbus.Event{Type: eventbus.TypeTriggerFailed, Data: Delivery{MessageID: n.MessageID, Date: today, Err: err.Error()}})
		return OutcomeFailed, fmt.Errorf("show: %w", err)
	}
	if t.stopped.Load() {
		return OutcomeStopped, nil
	}
	t.firedDate = today

	if err := t.opts.History.Append(ctx, device.HistoryEntry{ID: n.MessageID, ShownAt: now}); err != nil {
		t.log.Warn("history append failed", logx.Err(err))
	}
	if err := t.opts.Prefs.SetLastFiredDate(ctx, today); err != nil {
		t.log.Warn("last fired date not saved", logx.String("date", today), logx.Err(err))
	}
	t.opts.Bus.Publish(eventbus.Event{Type: eventbus.TypeTriggerFired, Data: Delivery{MessageID: n.MessageID, Date: today}})
	return OutcomeFired, nil
}

func (t *Trigger) compose(ctx context.Context, s Settings, now time.Time) (platform.Notification, error) {
	var (
		msg     catalog.Message
		special string
	)
	switch s.Strategy {
	case StrategyAvoidRecent:
		recent, err := t.opts.History.RecentIDs(ctx)
		if err != nil {
			return platform.Notification{}, err
		}
		msg = t.opts.Selector.Catalog().SelectAvoidingRecent(recent, t.opts.Rand)
	default:
		sel := t.opts.Selector.Pick(now)
		msg, special = sel.Message, sel.Special
	}
	body := msg.Text
	if special != "" {
		body += "\n\n" + special
	}
	return platform.Notification{Title: s.Title, Body: body, Tag: messageTag, MessageID: msg.ID}, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
