package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "lovepush/internal/runtime/supervisor"
	logx "lovepush/pkg/logx"
)

// Config controls the HTTP listener.
type Config struct {
	Enabled bool
	Addr    string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultAddr is used when Config.Addr is empty.
const DefaultAddr = "127.0.0.1:8080"

// Server runs an http.Handler under a restart loop. Each Start creates a
// run that lives until the matching Stop finishes.
type Server struct {
	log     logx.Logger
	handler http.Handler

	mu       sync.Mutex
	cfg      Config
	cur      *run
	stopping *run
}

// run is one started listener generation. ln and srv are guarded by Server.mu.
type run struct {
	sup       *rtsup.Supervisor
	bound     chan struct{}
	boundOnce sync.Once
	done      chan struct{}

	ln  net.Listener
	srv *http.Server
}

func NewServer(cfg Config, handler http.Handler, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, handler: handler, log: log.With(logx.String("comp", "http"))}
}

// Addr returns the bound listener address, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || s.cur.ln == nil {
		return ""
	}
	return s.cur.ln.Addr().String()
}

// WaitBound blocks until the listener is bound or ctx is done.
func (s *Server) WaitBound(ctx context.Context) error {
	s.mu.Lock()
	r := s.cur
	s.mu.Unlock()
	if r == nil {
		return errors.New("http server not started")
	}
	select {
	case <-r.bound:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconfigure applies cfg and starts, stops or restarts the listener as needed.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.cur != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case listenerChanged(prev, cfg):
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func listenerChanged(a, b Config) bool {
	return strings.TrimSpace(a.Addr) != strings.TrimSpace(b.Addr) ||
		a.ReadTimeout != b.ReadTimeout ||
		a.WriteTimeout != b.WriteTimeout ||
		a.IdleTimeout != b.IdleTimeout
}

// Start is idempotent and waits out a Stop in progress. A disabled config is a no-op.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	for s.stopping != nil {
		done := s.stopping.done
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.cur != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	r := &run{
		sup:   rtsup.New(ctx, rtsup.WithLogger(s.log)),
		bound: make(chan struct{}),
		done:  make(chan struct{}),
	}
	s.cur = r
	s.mu.Unlock()

	r.sup.GoRestart("http.serve", func(c context.Context) error { return s.serve(c, r) },
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

// Stop shuts the listener down gracefully within ShutdownTimeout. When ctx
// ends first the run is cancelled and finishes in the background.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	r := s.cur
	if r == nil {
		r = s.stopping
		s.mu.Unlock()
		if r != nil {
			select {
			case <-r.done:
			case <-ctx.Done():
			}
		}
		return
	}
	s.cur, s.stopping = nil, r
	srv := r.srv
	timeout := s.cfg.ShutdownTimeout
	s.mu.Unlock()

	go func() {
		defer close(r.done)
		if srv != nil {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), max(timeout, time.Second))
			if err := srv.Shutdown(sctx); err != nil {
				s.log.Warn("graceful shutdown incomplete", logx.Err(err))
			}
			cancel()
		}
		r.sup.Cancel()
		_ = r.sup.Wait(context.Background())

		s.mu.Lock()
		if s.stopping == r {
			s.stopping = nil
		}
		s.mu.Unlock()
		s.log.Info("http server stopped")
	}()

	select {
	case <-r.done:
	case <-ctx.Done():
		r.sup.Cancel()
	}
}

func (s *Server) serve(ctx context.Context, r *run) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		s.log.Error("listen failed", logx.String("addr", addr), logx.Err(err))
		return err
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	s.mu.Lock()
	if s.cur != r {
		s.mu.Unlock()
		_ = ln.Close()
		return context.Canceled
	}
	r.ln, r.srv = ln, srv
	s.mu.Unlock()
	r.boundOnce.Do(func() { close(r.bound) })

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	defer stop()

	s.log.Info("http server started", logx.String("addr", ln.Addr().String()))
	err = srv.Serve(ln)
	_ = srv.Close()

	s.mu.Lock()
	r.ln, r.srv = nil, nil
	current := s.cur == r
	s.mu.Unlock()

	switch {
	case !current || ctx.Err() != nil:
		return context.Canceled
	case err == nil || errors.Is(err, http.ErrServerClosed):
		return errors.New("http server exited unexpectedly")
	default:
		return err
	}
}
