package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lovepush/internal/catalog"
	"lovepush/internal/clock"
	"lovepush/internal/device"
	"lovepush/internal/eventbus"
	"lovepush/internal/gateway"
	"lovepush/internal/metrics"
	"lovepush/internal/platform/platformtest"
	"lovepush/internal/push"
	"lovepush/internal/storage"
	logx "lovepush/pkg/logx"
)

func init() { gin.SetMode(gin.TestMode) }

var fixedNow = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

type fakeBroadcaster struct {
	mu    sync.Mutex
	stats push.Stats
	err   error
	panic bool
	calls int
}

func (f *fakeBroadcaster) Broadcast(context.Context) (push.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panic {
		panic("boom")
	}
	return f.stats, f.err
}

type fixture struct {
	router *gin.Engine
	store  storage.Store
	bcast  *fakeBroadcaster
	plat   *platformtest.Fake
	hist   *device.History
	bus    eventbus.Bus
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	store := storage.NewMemory()
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		store: store,
		bcast: &fakeBroadcaster{},
		plat:  platformtest.New(),
		hist:  device.NewHistory(store, 0),
		bus:   eventbus.New(),
	}
	clk := clock.Func(func() time.Time { return fixedNow })
	gw := gateway.New(gateway.Options{
		Platform: f.plat,
		Prefs:    device.NewPreferences(store),
		Clock:    clk,
		Location: time.UTC,
	})
	opts := Options{
		Selector:       catalog.NewSelector(catalog.Default(), catalog.StrategyByDate, nil, time.UTC),
		Users:          store,
		Broadcaster:    f.bcast,
		Gateway:        gw,
		History:        f.hist,
		VAPIDPublicKey: func() string { return "pub-key" },
		Clock:          clk,
		Bus:            f.bus,
		Metrics:        metrics.New(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.router = NewRouter(opts)
	return f
}

func (f *fixture) do(method, target, body string, hdr ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func TestGetMessages(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	total := float64(catalog.Default().Len())

	tests := []struct {
		name     string
		target   string
		wantCode int
		wantID   float64
		wantErr  string
	}{
		{"today", "/api/get-messages", http.StatusOK, 1, ""},
		{"by id", "/api/get-messages?id=3", http.StatusOK, 3, ""},
		{"unknown id", "/api/get-messages?id=999", http.StatusNotFound, 0, "Message not found"},
		{"bad id", "/api/get-messages?id=abc", http.StatusBadRequest, 0, "Invalid message id"},
		{"by date", "/api/get-messages?date=2024-02-01", http.StatusOK, 2, ""},
		{"bad date", "/api/get-messages?date=02/01/2024", http.StatusBadRequest, 0, "Invalid date, expected YYYY-MM-DD"},
		{"legacy prefix", "/.netlify/functions/get-messages?id=3", http.StatusOK, 3, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodGet, tt.target, "")
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			m := decode(t, w)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, m["error"])
				return
			}
			assert.Equal(t, true, m["success"])
			assert.Equal(t, total, m["allMessages"])
			msg, ok := m["message"].(map[string]any)
			require.True(t, ok, "message object missing: %v", m)
			assert.Equal(t, tt.wantID, msg["id"])
			assert.NotEmpty(t, msg["message"])
		})
	}
}

func TestGetMessagesDateAndSpecial(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(o *Options) {
		o.Selector = catalog.NewSelector(catalog.Default(), catalog.StrategyWeekdaySpecial,
			map[time.Weekday]string{time.Wednesday: "Midweek hug"}, time.UTC)
	})
	// 2025-01-01 is a Wednesday.
	m := decode(t, f.do(http.MethodGet, "/api/get-messages", ""))
	assert.Equal(t, "2025-01-01", m["date"])
	assert.Equal(t, "Midweek hug", m["special"])

	m = decode(t, f.do(http.MethodGet, "/api/get-messages?date=2025-01-02", ""))
	assert.Equal(t, "2025-01-02", m["date"])
	_, has := m["special"]
	assert.False(t, has)
}

func TestRegisterUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	events, unsub := f.bus.Subscribe(4)
	defer unsub()

	for _, body := range []string{`{}`, `not json`, `{"subscription":{"endpoint":"  "}}`} {
		w := f.do(http.MethodPost, "/api/register-user", body)
		require.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.JSONEq(t, `{"error":"Invalid subscription data"}`, w.Body.String())
	}

	const endpoint = "https://push.example.com/sub/abc"
	body := `{"subscription":{"endpoint":"` + endpoint + `","keys":{"p256dh":"p","auth":"a"}},"userAgent":"ua","timestamp":"2025-01-01T08:00:00Z"}`
	w := f.do(http.MethodPost, "/.netlify/functions/register-user", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	m := decode(t, w)
	assert.Equal(t, true, m["success"])
	assert.Equal(t, "User registered successfully", m["message"])
	assert.Equal(t, UserID(endpoint), m["userId"])

	users, err := f.store.ActiveUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, storage.KindPush, users[0].Kind)
	assert.Equal(t, endpoint, users[0].Endpoint)
	assert.Equal(t, "p", users[0].P256dh)
	assert.True(t, users[0].RegisteredAt.Equal(time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)))

	e := <-events
	assert.Equal(t, eventbus.TypeUserRegistered, e.Type)
}

func TestRegisterSimpleUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/api/register-simple-user", `{"userAgent":"ua"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Invalid user data"}`, w.Body.String())

	w = f.do(http.MethodPost, "/api/register-simple-user", `{"userAgent":"ua","timestamp":"yesterday","timezone":"Europe/Madrid","notificationEnabled":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, UserID("uayesterday"), decode(t, w)["userId"])

	users, err := f.store.ActiveUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, storage.KindSimple, users[0].Kind)
	assert.Equal(t, "Europe/Madrid", users[0].Timezone)
	assert.True(t, users[0].RegisteredAt.Equal(fixedNow), "unparsable timestamp falls back to now")
}

func TestUserIDIsStable(t *testing.T) {
	t.Parallel()
	a := UserID("https://push.example.com/x")
	assert.Len(t, a, 16)
	assert.Equal(t, a, UserID("https://push.example.com/x"))
	assert.NotEqual(t, a, UserID("https://push.example.com/y"))
}

func TestSendNotification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		setup    func(*fixture)
		method   string
		wantCode int
		wantJSON string
	}{
		{
			name:     "no users",
			method:   http.MethodGet,
			wantCode: http.StatusOK,
			wantJSON: `{"success":true,"message":"No active users found","sent":0}`,
		},
		{
			name: "sent",
			setup: func(f *fixture) {
				f.bcast.stats = push.Stats{TotalUsers: 2, Successful: 1, Failed: 1, Deactivated: 1, MessageID: 4, MessageTitle: "Hi", Timestamp: "t"}
			},
			method:   http.MethodPost,
			wantCode: http.StatusOK,
			wantJSON: `{"success":true,"message":"Daily love notifications sent","stats":{"totalUsers":2,"successful":1,"failed":1,"deactivated":1,"messageId":4,"messageTitle":"Hi","timestamp":"t"}}`,
		},
		{
			name:     "failure",
			setup:    func(f *fixture) { f.bcast.err = errors.New("store down") },
			method:   http.MethodPost,
			wantCode: http.StatusInternalServerError,
			wantJSON: `{"success":false,"error":"Failed to send notifications","message":"store down"}`,
		},
		{
			name:     "panic",
			setup:    func(f *fixture) { f.bcast.panic = true },
			method:   http.MethodGet,
			wantCode: http.StatusInternalServerError,
			wantJSON: `{"error":"Internal server error","message":"boom"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, nil)
			if tt.setup != nil {
				tt.setup(f)
			}
			w := f.do(tt.method, "/api/send-notification", "")
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.JSONEq(t, tt.wantJSON, w.Body.String())
		})
	}
}

func TestSendNotificationNotConfigured(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(o *Options) { o.Broadcaster = nil })
	w := f.do(http.MethodGet, "/api/send-notification", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestOptionsAndMethodNotAllowed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	for _, target := range []string{"/api/get-messages", "/api/register-user", "/.netlify/functions/send-notification"} {
		w := f.do(http.MethodOptions, target, "")
		assert.Equal(t, http.StatusOK, w.Code, target)
		assert.Empty(t, w.Body.String(), target)

		w = f.do(http.MethodOptions, target, "", "Origin", "https://app.example.com", "Access-Control-Request-Method", "POST")
		assert.Equal(t, http.StatusOK, w.Code, target)
		assert.Empty(t, w.Body.String(), target)
	}

	w := f.do(http.MethodGet, "/api/register-user", "")
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.JSONEq(t, `{"error":"Method not allowed"}`, w.Body.String())

	w = f.do(http.MethodDelete, "/api/get-messages", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = f.do(http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSAndRequestID(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	w := f.do(http.MethodGet, "/api/get-messages", "", "Origin", "https://app.example.com")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = f.do(http.MethodGet, "/api/get-messages", "", requestIDHeader, "abc")
	assert.Equal(t, "abc", w.Header().Get(requestIDHeader))
}

func TestNotificationEndpoints(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	m := decode(t, f.do(http.MethodGet, "/api/notifications/state", ""))
	assert.Equal(t, "default", m["state"])

	w := f.do(http.MethodPost, "/api/notifications/retry", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodPost, "/api/notifications/enable", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "success", decode(t, w)["state"])
	assert.Len(t, f.plat.Shown(), 1)

	require.NoError(t, f.hist.Append(context.Background(), device.HistoryEntry{ID: 7, ShownAt: fixedNow}))
	m = decode(t, f.do(http.MethodGet, "/api/notifications/history", ""))
	hist, ok := m["history"].([]any)
	require.True(t, ok)
	require.Len(t, hist, 1)
	assert.Equal(t, float64(7), hist[0].(map[string]any)["id"])
}

func TestNotificationEndpointsWithoutSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(o *Options) {
		o.Gateway = nil
		o.History = nil
		o.VAPIDPublicKey = nil
	})
	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/api/notifications/state"},
		{http.MethodPost, "/api/notifications/enable"},
		{http.MethodPost, "/api/notifications/retry"},
		{http.MethodGet, "/api/notifications/history"},
		{http.MethodGet, "/api/vapid-public-key"},
	} {
		w := f.do(tc.method, tc.target, "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, tc.target)
	}
}

func TestVAPIDHealthAndMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/api/vapid-public-key", "")
	assert.JSONEq(t, `{"publicKey":"pub-key"}`, w.Body.String())

	w = f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, "ok", w.Body.String())

	_ = f.do(http.MethodGet, "/api/get-messages", "")
	w = f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `lovepush_http_requests_total{method="GET",path="/api/get-messages",status="200"}`)
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	srv := NewServer(Config{Enabled: true, Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, f.router, logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Start(ctx)
	require.NoError(t, srv.WaitBound(ctx))

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	srv.Stop(ctx)
	assert.Empty(t, srv.Addr())

	srv.Reconfigure(ctx, Config{Enabled: false})
	srv.Stop(ctx)
}

func TestServerReconfigureRestartsListener(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	cfg := Config{Enabled: true, Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}
	srv := NewServer(cfg, f.router, logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer srv.Stop(ctx)

	srv.Reconfigure(ctx, cfg)
	require.NoError(t, srv.WaitBound(ctx))

	cfg.ReadTimeout = 3 * time.Second
	srv.Reconfigure(ctx, cfg)
	require.NoError(t, srv.WaitBound(ctx))
	require.NotEmpty(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
