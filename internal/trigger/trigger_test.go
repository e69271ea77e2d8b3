package trigger

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"lovepush/internal/catalog"
	"lovepush/internal/device"
	"lovepush/internal/eventbus"
	"lovepush/internal/platform"
	"lovepush/internal/platform/platformtest"
	"lovepush/internal/schedule"
	"lovepush/internal/storage"
	logx "lovepush/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fixture struct {
	trg   *Trigger
	clk   *fakeClock
	plat  *platformtest.Fake
	prefs *device.Preferences
	hist  *device.History
	bus   eventbus.Bus
}

func at(day, hour, minute int) time.Time {
	return time.Date(2025, time.March, day, hour, minute, 0, 0, time.UTC)
}

func newFixture(t *testing.T, s Settings, msgs int) *fixture {
	t.Helper()
	return newFixtureKV(t, s, msgs, storage.NewMemory())
}

func newFixtureKV(t *testing.T, s Settings, msgs int, kv storage.KV) *fixture {
	t.Helper()
	list := make([]catalog.Message, msgs)
	for i := range list {
		list[i] = catalog.Message{ID: i + 1, Text: "message"}
	}
	cat, err := catalog.New(list)
	require.NoError(t, err)

	f := &fixture{
		clk:   &fakeClock{now: at(1, 9, 0)},
		plat:  platformtest.New(),
		prefs: device.NewPreferences(kv),
		hist:  device.NewHistory(kv, 10),
		bus:   eventbus.New(),
	}
	f.plat.Set(func(p *platformtest.Fake) { p.Perm = platform.PermissionGranted })
	require.NoError(t, f.prefs.Enable(context.Background(), at(1, 8, 0)))

	if s.Location == nil {
		s.Location = time.UTC
	}
	f.trg, err = New(Options{
		Selector: catalog.NewSelector(cat, catalog.StrategyByDate, nil, time.UTC),
		History:  f.hist,
		Prefs:    f.prefs,
		Platform: f.plat,
		Clock:    f.clk,
		Bus:      f.bus,
		Rand:     rand.New(rand.NewPCG(7, 7)),
		Log:      logx.Nop(),
	}, s)
	require.NoError(t, err)
	return f
}

func TestFiresOncePerDayAcrossWindow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Settings{TargetMinute: 540, Tolerance: time.Minute}, 50)
	ctx := context.Background()

	var outcomes []Outcome
	for _, now := range []time.Time{at(1, 8, 59), at(1, 9, 0), at(1, 9, 1), at(1, 9, 2)} {
		f.clk.set(now)
		out, err := f.trg.Check(ctx)
		require.NoError(t, err)
		outcomes = append(outcomes, out)
	}
	assert.Equal(t, []Outcome{OutcomeFired, OutcomeAlreadyFired, OutcomeAlreadyFired, OutcomeOutsideWindow}, outcomes)
	require.Len(t, f.plat.Shown(), 1)

	last, err := f.prefs.LastFiredDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", last)

	f.clk.set(at(2, 9, 0))
	out, err := f.trg.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFired, out)

	shown := f.plat.Shown()
	require.Len(t, shown, 2)
	// 2025-03-01 is day 59 (zero-based): 59 % 50 = 9 -> id 10.
	assert.Equal(t, 10, shown[0].MessageID)
	assert.Equal(t, 11, shown[1].MessageID)
	assert.Equal(t, messageTag, shown[0].Tag)

	ids, err := f.hist.RecentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{11, 10}, ids)
}

func TestGuards(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, Settings{TargetMinute: 540, Tolerance: time.Minute}, 5)
	f.plat.Set(func(p *platformtest.Fake) { p.Perm = platform.PermissionDenied })
	out, err := f.trg.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotGranted, out)

	f = newFixture(t, Settings{TargetMinute: 540, Tolerance: time.Minute}, 5)
	disabled := device.NewPreferences(storage.NewMemory())
	f.trg.opts.Prefs = disabled
	out, err = f.trg.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDisabled, out)
	assert.Empty(t, f.plat.Shown())
}

func TestTolerance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tests := []struct {
		tol  time.Duration
		now  time.Time
		want Outcome
	}{
		{time.Minute, at(1, 8, 58), OutcomeOutsideWindow},
		{2 * time.Minute, at(1, 8, 58), OutcomeFired},
		{0, at(1, 9, 1), OutcomeOutsideWindow},
		{0, at(1, 9, 0), OutcomeFired},
		{90 * time.Second, at(1, 9, 2), OutcomeOutsideWindow},
	}
	for _, tt := range tests {
		f := newFixture(t, Settings{TargetMinute: 540, Tolerance: tt.tol}, 5)
		f.clk.set(tt.now)
		out, err := f.trg.Check(ctx)
		require.NoError(t, err)
		assert.Equal(t, tt.want, out, "tol=%s now=%s", tt.tol, tt.now.Format("15:04"))
	}
}

func TestLocalDateDecidesWindow(t *testing.T) {
	t.Parallel()
	tokyo := time.FixedZone("JST", 9*3600)
	f := newFixture(t, Settings{TargetMinute: 540, Tolerance: time.Minute, Location: tokyo}, 5)
	// 00:00 UTC is 09:00 in Tokyo.
	f.clk.set(at(1, 0, 0))
	out, err := f.trg.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFired, out)
}

func TestShowFailureIsNotRecorded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Settings{TargetMinute: 540, Tolerance: time.Minute}, 5)
	failed, unsub := f.bus.Subscribe(4)
	defer unsub()

	f.plat.Set(func(p *platformtest.Fake) { p.ShowErr = errors.New("offline") })
	out, err := f.trg.Check(ctx)
	assert.Error(t, err)
	assert.Equal(t, OutcomeFailed, out)
	e := <-failed
	assert.Equal(t, eventbus.TypeTriggerFailed, e.Type)

	last, _ := f.prefs.LastFiredDate(ctx)
	assert.Empty(t, last)
	ids, _ := f.hist.RecentIDs(ctx)
	assert.Empty(t, ids)

	f.plat.Set(func(p *platformtest.Fake) { p.ShowErr = nil })
	out, err = f.trg.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFired, out)
}

// lastFiredFailingKV rejects writes of the last fired date.
type lastFiredFailingKV struct{ storage.KV }

func (kv lastFiredFailingKV) Set(ctx context.Context, key, value string) error {
	if key == device.KeyLastFired {
		return errors.New("disk full")
	}
	return kv.KV.Set(ctx, key, value)
}

func TestUnsavedLastFiredDateStillFiresOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixtureKV(t, Settings{TargetMinute: 540, Tolerance: time.Minute}, 5, lastFiredFailingKV{storage.NewMemory()})

	var outcomes []Outcome
	for _, now := range []time.Time{at(1, 8, 59), at(1, 9, 0), at(1, 9, 1)} {
		f.clk.set(now)
		out, err := f.trg.Check(ctx)
		require.NoError(t, err)
		outcomes = append(outcomes, out)
	}
	assert.Equal(t, []Outcome{OutcomeFired, OutcomeAlreadyFired, OutcomeAlreadyFired}, outcomes)
	assert.Len(t, f.plat.Shown(), 1)
	ids, err := f.hist.RecentIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	f.clk.set(at(2, 9, 0))
	out, err := f.trg.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFired, out)
}

func TestStopMakesInFlightDeliveryNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Settings{TargetMinute: 540, Tolerance: time.Minute}, 5)
	f.plat.Set(func(p *platformtest.Fake) {
		p.ShowHook = func(context.Context, platform.Notification) { f.trg.Stop() }
	})

	out, err := f.trg.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStopped, out)
	last, _ := f.prefs.LastFiredDate(ctx)
	assert.Empty(t, last)
	ids, _ := f.hist.RecentIDs(ctx)
	assert.Empty(t, ids)

	out, err = f.trg.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStopped, out)
}

func TestAvoidRecentStrategy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Settings{TargetMinute: 540, Tolerance: time.Minute, Strategy: StrategyAvoidRecent}, 3)
	require.NoError(t, f.hist.Append(ctx, device.HistoryEntry{ID: 1}))
	require.NoError(t, f.hist.Append(ctx, device.HistoryEntry{ID: 2}))

	out, err := f.trg.Check(ctx)
	require.NoError(t, err)
	require.Equal(t, OutcomeFired, out)
	assert.Equal(t, 3, f.plat.Shown()[0].MessageID)
}

func TestWeekdaySpecialAppended(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Settings{TargetMinute: 540, Tolerance: time.Minute}, 5)
	cat := f.trg.opts.Selector.Catalog()
	// 2025-03-01 is a Saturday.
	f.trg.opts.Selector.Update(cat, catalog.StrategyWeekdaySpecial, map[time.Weekday]string{time.Saturday: "Enjoy the weekend"}, time.UTC)

	_, err := f.trg.Check(context.Background())
	require.NoError(t, err)
	assert.Contains(t, f.plat.Shown()[0].Body, "Enjoy the weekend")
}

func TestInvalidSettings(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Settings{}, 1)
	assert.Error(t, f.trg.Apply(Settings{Strategy: "shuffle"}))
	assert.Error(t, f.trg.Apply(Settings{TargetMinute: 1440}))
	assert.Error(t, f.trg.Apply(Settings{Tolerance: -time.Minute}))
	require.NoError(t, f.trg.Apply(Settings{TargetMinute: 600}))
	assert.Equal(t, 600, f.trg.Settings().TargetMinute)
	assert.Equal(t, StrategyByDate, f.trg.Settings().Strategy)
}

func TestStartRunsImmediateCheckAndStops(t *testing.T) {
	f := newFixture(t, Settings{TargetMinute: 540, Tolerance: time.Minute}, 5)
	runner := schedule.NewRunner(time.UTC, logx.Nop())
	f.trg.opts.Runner = runner

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	require.NoError(t, f.trg.Start(ctx))
	require.NoError(t, f.trg.Start(ctx), "second start is a no-op")
	assert.Len(t, f.plat.Shown(), 1, "immediate check fires inside the window")
	assert.False(t, runner.Next(jobName).IsZero())

	require.NoError(t, f.trg.Apply(Settings{TargetMinute: 540, CheckEvery: "30s", Location: time.UTC}))
	f.trg.Stop()
	assert.True(t, runner.Next(jobName).IsZero())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	runner.Stop(stopCtx)
}
