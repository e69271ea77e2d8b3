package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"lovepush/internal/catalog"
	"lovepush/internal/clock"
	"lovepush/internal/eventbus"
	"lovepush/internal/metrics"
	"lovepush/internal/storage"
	logx "lovepush/pkg/logx"
)

// Stats summarize one broadcast.
type Stats struct {
	TotalUsers   int    `json:"totalUsers"`
	Successful   int    `json:"successful"`
	Failed       int    `json:"failed"`
	Deactivated  int    `json:"deactivated"`
	MessageID    int    `json:"messageId"`
	MessageTitle string `json:"messageTitle"`
	Timestamp    string `json:"timestamp"`
}

type Options struct {
	Users    storage.Users
	Sender   Sender
	Selector *catalog.Selector
	Clock    clock.Clock
	Bus      eventbus.Bus
	Metrics  *metrics.Metrics
	Log      logx.Logger

	Title       string
	Workers     int     // concurrent sends; default 4
	RatePerSec  float64 // 0 means unlimited
	SendTimeout time.Duration
}

type Broadcaster struct {
	opts    Options
	log     logx.Logger
	limiter *rate.Limiter

	mu sync.Mutex // one broadcast at a time
}

func NewBroadcaster(opts Options) *Broadcaster {
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.Title == "" {
		opts.Title = "Good morning!"
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.RatePerSec), max(1, int(opts.RatePerSec)))
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Broadcaster{opts: opts, log: log.With(logx.String("comp", "push")), limiter: lim}
}

// Broadcast sends today's message to every active push user. A user whose
// subscription is gone is deactivated. Per-user failures are counted, not returned.
func (b *Broadcaster) Broadcast(ctx context.Context) (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	all, err := b.opts.Users.ActiveUsers(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("load active users: %w", err)
	}
	// Simple users have no subscription to push to.
	users := all[:0:0]
	for _, u := range all {
		if u.Kind == storage.KindPush && u.Endpoint != "" {
			users = append(users, u)
		}
	}
	now := b.opts.Clock.Now()
	st := Stats{TotalUsers: len(users), MessageTitle: b.opts.Title, Timestamp: now.UTC().Format(time.RFC3339Nano)}
	if len(users) == 0 {
		return st, nil
	}

	sel := b.opts.Selector.Pick(now)
	st.MessageID = sel.Message.ID
	payload, err := json.Marshal(NewPayload(b.opts.Title, sel.Message, sel.Special, now))
	if err != nil {
		return st, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for _, u := range users {
		g.Go(func() error {
			if err := b.limiter.Wait(gctx); err != nil {
				return err
			}
			res := b.sendOne(gctx, u, payload, now)
			mu.Lock()
			switch res {
			case resultSuccess:
				st.Successful++
			case resultDeactivated:
				st.Failed++
				st.Deactivated++
			default:
				st.Failed++
			}
			mu.Unlock()
			b.opts.Metrics.PushSend(string(res))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return st, err
	}

	b.opts.Metrics.Broadcast()
	b.opts.Bus.Publish(eventbus.Event{Type: eventbus.TypeBroadcastDone, Data: st})
	b.log.Info("broadcast finished",
		logx.Int("total", st.TotalUsers),
		logx.Int("ok", st.Successful),
		logx.Int("failed", st.Failed),
		logx.Int("deactivated", st.Deactivated),
		logx.Int("message_id", st.MessageID))
	return st, nil
}

type result string

const (
	resultSuccess     result = "success"
	resultFailed      result = "failed"
	resultDeactivated result = "deactivated"
)

func (b *Broadcaster) sendOne(ctx context.Context, u storage.User, payload []byte, now time.Time) result {
	sctx, cancel := context.WithTimeout(ctx, b.opts.SendTimeout)
	defer cancel()

	err := b.opts.Sender.Send(sctx, u, payload)
	if err == nil {
		if err := b.opts.Users.MarkNotified(ctx, u.ID, now); err != nil {
			b.log.Warn("mark notified failed", logx.String("user", u.ID), logx.Err(err))
		}
		return resultSuccess
	}
	b.log.Warn("push failed", logx.String("user", u.ID), logx.Err(err))
	if Gone(err) {
		if derr := b.opts.Users.DeactivateUser(ctx, u.ID); derr != nil {
			b.log.Warn("deactivate failed", logx.String("user", u.ID), logx.Err(derr))
			return resultFailed
		}
		return resultDeactivated
	}
	return resultFailed
}
