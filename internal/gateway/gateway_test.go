package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lovepush/internal/clock"
	"lovepush/internal/device"
	"lovepush/internal/eventbus"
	"lovepush/internal/platform"
	"lovepush/internal/platform/platformtest"
	"lovepush/internal/relay"
	"lovepush/internal/storage"
	logx "lovepush/pkg/logx"
)

type fakeRelay struct {
	mu   sync.Mutex
	regs []relay.Registration
}

func (f *fakeRelay) NewRegistration(now time.Time, loc *time.Location) relay.Registration {
	return relay.Registration{UserAgent: "test", Timestamp: now.Format(time.RFC3339), Timezone: loc.String(), NotificationEnabled: true}
}

func (f *fakeRelay) Register(_ context.Context, r relay.Registration) {
	f.mu.Lock()
	f.regs = append(f.regs, r)
	f.mu.Unlock()
}

func (f *fakeRelay) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.regs)
}

var fixedNow = time.Date(2025, 2, 14, 8, 0, 0, 0, time.UTC)

type fixture struct {
	gw    *Gateway
	plat  *platformtest.Fake
	prefs *device.Preferences
	relay *fakeRelay
	bus   eventbus.Bus
}

func newFixture(t *testing.T, reg Registrar) *fixture {
	t.Helper()
	f := &fixture{
		plat:  platformtest.New(),
		prefs: device.NewPreferences(storage.NewMemory()),
		relay: &fakeRelay{},
		bus:   eventbus.New(),
	}
	if reg == nil {
		reg = f.relay
	}
	f.gw = New(Options{
		Platform: f.plat,
		Prefs:    f.prefs,
		Relay:    reg,
		Clock:    clock.Func(func() time.Time { return fixedNow }),
		Bus:      f.bus,
		Location: time.UTC,
		Log:      logx.Nop(),
	})
	return f
}

func TestRequestGranted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	events, unsub := f.bus.Subscribe(8)
	defer unsub()
	ctx := context.Background()

	st, err := f.gw.Request(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, st.State)
	assert.Equal(t, StateSuccess, f.gw.Status().State)

	enabled, err := f.prefs.Enabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)
	start, ok, err := f.prefs.StartDate(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, start.Equal(fixedNow))

	assert.Equal(t, 1, f.relay.count())
	require.Len(t, f.plat.Shown(), 1, "one confirmation notification")

	var seen []State
	for len(events) > 0 {
		e := <-events
		seen = append(seen, e.Data.(Status).State)
	}
	assert.Equal(t, []State{StateLoading, StateSuccess}, seen)
}

func TestRequestDeniedThenRetry(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	f.plat.Set(func(p *platformtest.Fake) { p.Grant = platform.PermissionDenied })

	st, err := f.gw.Request(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateBlocked, st.State)
	assert.Zero(t, f.relay.count())
	enabled, _ := f.prefs.Enabled(ctx)
	assert.False(t, enabled)

	_, err = f.gw.Request(ctx)
	assert.ErrorIs(t, err, ErrInvalidTransition, "blocked only leaves via retry")

	f.plat.Set(func(p *platformtest.Fake) { p.Grant = platform.PermissionGranted })
	st, err = f.gw.Retry(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, st.State)
	assert.Equal(t, 1, f.relay.count())
}

func TestRetryFromDefaultRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	st, err := f.gw.Retry(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateDefault, st.State)
	assert.Zero(t, f.plat.Requests())
}

func TestPlatformErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		setup   func(p *platformtest.Fake)
		wantMsg string
	}{
		{"unsupported", func(p *platformtest.Fake) { p.Unsupported = true }, platform.ErrUnsupported.Error()},
		{"exception", func(p *platformtest.Fake) { p.RequestErr = errors.New("prompt crashed") }, "prompt crashed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, nil)
			f.plat.Set(tt.setup)
			st, err := f.gw.Request(context.Background())
			require.NoError(t, err)
			assert.Equal(t, StateError, st.State)
			assert.Equal(t, tt.wantMsg, st.Message)

			f.plat.Set(func(p *platformtest.Fake) { p.Unsupported = false; p.RequestErr = nil })
			st, err = f.gw.Retry(context.Background())
			require.NoError(t, err)
			assert.Equal(t, StateSuccess, st.State)
		})
	}
}

func TestDismissedPromptReturnsToDefault(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.plat.Set(func(p *platformtest.Fake) { p.Grant = platform.PermissionDefault })
	st, err := f.gw.Request(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDefault, st.State)
}

func TestConfirmationFailureStillSucceeds(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.plat.Set(func(p *platformtest.Fake) { p.ShowErr = errors.New("display down") })
	st, err := f.gw.Request(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, st.State)
}

func TestRelayNetworkFailureStillSucceeds(t *testing.T) {
	const url = "https://registry.example/api/register-simple-user"
	r := relay.New(relay.Config{URL: url}, logx.Nop())
	f := newFixture(t, r)

	httpmock.ActivateNonDefault(r.Client().GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	httpmock.RegisterNoResponder(httpmock.NewErrorResponder(errors.New("connection refused")))

	st, err := f.gw.Request(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, st.State)
	enabled, _ := f.prefs.Enabled(context.Background())
	assert.True(t, enabled)
}

func TestCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tests := []struct {
		name    string
		plat    func(p *platformtest.Fake)
		enabled bool
		want    State
	}{
		{"unsupported", func(p *platformtest.Fake) { p.Unsupported = true }, false, StateError},
		{"granted and enabled", func(p *platformtest.Fake) { p.Perm = platform.PermissionGranted }, true, StateSuccess},
		{"granted but never enabled", func(p *platformtest.Fake) { p.Perm = platform.PermissionGranted }, false, StateDefault},
		{"denied", func(p *platformtest.Fake) { p.Perm = platform.PermissionDenied }, true, StateBlocked},
		{"undecided", func(p *platformtest.Fake) {}, false, StateDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, nil)
			f.plat.Set(tt.plat)
			if tt.enabled {
				require.NoError(t, f.prefs.Enable(ctx, fixedNow))
			}
			assert.Equal(t, tt.want, f.gw.Check(ctx).State)
		})
	}
}
