package platform

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	logx "lovepush/pkg/logx"
)

// Console prints notifications to a writer. It is always supported and granted.
type Console struct {
	mu  sync.Mutex
	w   io.Writer
	log logx.Logger
}

func NewConsole(w io.Writer, log logx.Logger) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{w: w, log: log}
}

func (c *Console) Name() string                          { return "console" }
func (c *Console) Supported() bool                       { return true }
func (c *Console) Permission(context.Context) Permission { return PermissionGranted }
func (c *Console) RequestPermission(context.Context) (Permission, error) {
	return PermissionGranted, nil
}

func (c *Console) Show(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "%s\n", FormatText(n)); err != nil {
		return err
	}
	c.log.Info("notification shown", logx.String("title", n.Title), logx.Int("message_id", n.MessageID))
	return nil
}
