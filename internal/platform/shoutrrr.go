package platform

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	logx "lovepush/pkg/logx"
)

type ShoutrrrConfig struct {
	URLs    []string
	Timeout time.Duration
}

// Shoutrrr delivers through any shoutrrr service URL (ntfy, gotify, discord, ...).
// Permission is granted once every URL parses into a working sender.
type Shoutrrr struct {
	cfg ShoutrrrConfig
	log logx.Logger

	mu     sync.Mutex
	sender *router.ServiceRouter
	perm   Permission
}

func NewShoutrrr(cfg ShoutrrrConfig, log logx.Logger) *Shoutrrr {
	return &Shoutrrr{cfg: cfg, log: log, perm: PermissionDefault}
}

func (s *Shoutrrr) Name() string    { return "shoutrrr" }
func (s *Shoutrrr) Supported() bool { return len(s.cfg.URLs) > 0 }

func (s *Shoutrrr) Permission(ctx context.Context) Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perm
}

func (s *Shoutrrr) RequestPermission(ctx context.Context) (Permission, error) {
	if !s.Supported() {
		return PermissionDefault, ErrUnsupported
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sender == nil {
		sender, err := shoutrrr.CreateSender(s.cfg.URLs...)
		if err != nil {
			return s.perm, err
		}
		sender.Timeout = defaultTimeout(s.cfg.Timeout)
		sender.SetLogger(log.New(io.Discard, "", 0))
		s.sender = sender
	}
	s.perm = PermissionGranted
	return s.perm, nil
}

func (s *Shoutrrr) Show(ctx context.Context, n Notification) error {
	s.mu.Lock()
	sender := s.sender
	s.mu.Unlock()
	if sender == nil {
		return errors.New("shoutrrr sender not initialized")
	}
	_ = ctx // router handles its own timeouts

	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}
	for _, err := range sender.Send(n.Body, &params) {
		if err != nil {
			return err
		}
	}
	return nil
}
