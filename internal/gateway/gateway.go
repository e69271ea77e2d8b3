// Package gateway drives the notification permission state machine:
//
//	default --request--> loading --> success | blocked | error
//	blocked|error --retry--> loading
//
// Only one state is current at a time. The persisted "enabled" preference is
// the durable record that success was reached.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lovepush/internal/clock"
	"lovepush/internal/device"
	"lovepush/internal/eventbus"
	"lovepush/internal/platform"
	"lovepush/internal/relay"
	logx "lovepush/pkg/logx"
)

type State string

const (
	StateDefault State = "default"
	StateLoading State = "loading"
	StateSuccess State = "success"
	StateBlocked State = "blocked"
	StateError   State = "error"
)

// StateNames lists every state, for gauges that need to clear the others.
func StateNames() []string {
	return []string{string(StateDefault), string(StateLoading), string(StateSuccess), string(StateBlocked), string(StateError)}
}

var ErrInvalidTransition = errors.New("gateway: invalid transition")

// Status is the observable gateway state. Message is set for StateError.
type Status struct {
	State   State     `json:"state"`
	Message string    `json:"message,omitempty"`
	Since   time.Time `json:"since"`
}

// Registrar is the registration relay as seen by the gateway.
type Registrar interface {
	NewRegistration(now time.Time, loc *time.Location) relay.Registration
	Register(ctx context.Context, reg relay.Registration)
}

type Options struct {
	Platform     platform.Platform
	Prefs        *device.Preferences
	Relay        Registrar // optional
	Clock        clock.Clock
	Bus          eventbus.Bus
	Location     *time.Location
	Confirmation platform.Notification
	Log          logx.Logger
}

type Gateway struct {
	opts Options
	log  logx.Logger

	opMu sync.Mutex // serializes Request/Retry/Check

	mu     sync.RWMutex
	status Status
}

func New(opts Options) *Gateway {
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Confirmation.Body == "" {
		opts.Confirmation = platform.Notification{
			Title: "Notifications enabled",
			Body:  "You will receive a message every day.",
			Tag:   "notifications-enabled",
		}
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gateway{
		opts:   opts,
		log:    log.With(logx.String("comp", "gateway")),
		status: Status{State: StateDefault, Since: opts.Clock.Now()},
	}
}

func (g *Gateway) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

// Check derives the current state without prompting, as done at startup.
func (g *Gateway) Check(ctx context.Context) Status {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	p := g.opts.Platform
	if !p.Supported() {
		return g.set(StateError, platform.ErrUnsupported.Error())
	}
	enabled, err := g.opts.Prefs.Enabled(ctx)
	if err != nil {
		g.log.Warn("reading preferences failed", logx.Err(err))
	}
	switch perm := p.Permission(ctx); {
	case perm == platform.PermissionGranted && enabled:
		return g.set(StateSuccess, "")
	case perm == platform.PermissionDenied:
		return g.set(StateBlocked, "")
	default:
		return g.set(StateDefault, "")
	}
}

// Request asks for permission from default (or again from success).
func (g *Gateway) Request(ctx context.Context) (Status, error) {
	g.opMu.Lock()
	defer g.opMu.Unlock()
	switch cur := g.Status().State; cur {
	case StateDefault, StateSuccess:
	default:
		return g.Status(), fmt.Errorf("%w: request from %s", ErrInvalidTransition, cur)
	}
	return g.enable(ctx), nil
}

// Retry asks again after a denial or failure.
func (g *Gateway) Retry(ctx context.Context) (Status, error) {
	g.opMu.Lock()
	defer g.opMu.Unlock()
	switch cur := g.Status().State; cur {
	case StateBlocked, StateError:
	default:
		return g.Status(), fmt.Errorf("%w: retry from %s", ErrInvalidTransition, cur)
	}
	return g.enable(ctx), nil
}

func (g *Gateway) enable(ctx context.Context) Status {
	g.set(StateLoading, "")

	p := g.opts.Platform
	if !p.Supported() {
		return g.set(StateError, platform.ErrUnsupported.Error())
	}
	perm, err := p.RequestPermission(ctx)
	if err != nil {
		g.log.Warn("permission request failed", logx.String("platform", p.Name()), logx.Err(err))
		return g.set(StateError, err.Error())
	}

	switch perm {
	case platform.PermissionDenied:
		return g.set(StateBlocked, "")
	case platform.PermissionGranted:
	default:
		// Prompt dismissed without a decision.
		return g.set(StateDefault, "")
	}

	now := g.opts.Clock.Now()
	if err := g.opts.Prefs.Enable(ctx, now); err != nil {
		g.log.Error("saving preferences failed", logx.Err(err))
		return g.set(StateError, err.Error())
	}
	if g.opts.Relay != nil {
		g.opts.Relay.Register(ctx, g.opts.Relay.NewRegistration(now, g.opts.Location))
	}
	st := g.set(StateSuccess, "")
	if err := p.Show(ctx, g.opts.Confirmation); err != nil {
		g.log.Warn("confirmation notification failed", logx.Err(err))
	}
	return st
}

func (g *Gateway) set(state State, msg string) Status {
	g.mu.Lock()
	prev := g.status.State
	g.status = Status{State: state, Message: msg, Since: g.opts.Clock.Now()}
	st := g.status
	g.mu.Unlock()

	if prev != state {
		g.log.Info("state changed", logx.String("from", string(prev)), logx.String("to", string(state)), logx.String("message", msg))
	}
	g.opts.Bus.Publish(eventbus.Event{Type: eventbus.TypeGatewayState, Time: st.Since, Data: st})
	return st
}
