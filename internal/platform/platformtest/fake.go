// Package platformtest provides a scriptable platform.Platform for tests.
package platformtest

import (
	"context"
	"sync"

	"lovepush/internal/platform"
)

// Fake records shown notifications. The zero value is supported with undecided permission.
type Fake struct {
	mu sync.Mutex

	Unsupported bool
	Perm        platform.Permission
	// Grant is what RequestPermission moves to. Empty means granted.
	Grant      platform.Permission
	RequestErr error
	ShowErr    error

	// ShowHook runs inside Show before recording, outside the lock.
	ShowHook func(ctx context.Context, n platform.Notification)

	requests int
	shown    []platform.Notification
}

// New returns a supported fake with undecided permission.
func New() *Fake { return &Fake{Perm: platform.PermissionDefault} }

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Supported() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.Unsupported
}

func (f *Fake) Permission(context.Context) platform.Permission {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Perm == "" {
		return platform.PermissionDefault
	}
	return f.Perm
}

func (f *Fake) RequestPermission(context.Context) (platform.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	if f.Unsupported {
		return platform.PermissionDefault, platform.ErrUnsupported
	}
	if f.RequestErr != nil {
		return platform.PermissionDefault, f.RequestErr
	}
	f.Perm = f.Grant
	if f.Perm == "" {
		f.Perm = platform.PermissionGranted
	}
	return f.Perm, nil
}

func (f *Fake) Show(ctx context.Context, n platform.Notification) error {
	f.mu.Lock()
	hook, err := f.ShowHook, f.ShowErr
	f.mu.Unlock()
	if hook != nil {
		hook(ctx, n)
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.shown = append(f.shown, n)
	f.mu.Unlock()
	return nil
}

// Set mutates the fake under its lock.
func (f *Fake) Set(fn func(f *Fake)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *Fake) Shown() []platform.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Notification(nil), f.shown...)
}

func (f *Fake) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}
