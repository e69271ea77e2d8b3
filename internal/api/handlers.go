package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"lovepush/internal/catalog"
	"lovepush/internal/clock"
	"lovepush/internal/device"
	"lovepush/internal/eventbus"
	"lovepush/internal/gateway"
	"lovepush/internal/metrics"
	"lovepush/internal/push"
	"lovepush/internal/storage"
	logx "lovepush/pkg/logx"
)

// Broadcaster runs one push broadcast.
type Broadcaster interface {
	Broadcast(ctx context.Context) (push.Stats, error)
}

// Gateway is the permission state machine as driven over HTTP.
type Gateway interface {
	Status() gateway.Status
	Request(ctx context.Context) (gateway.Status, error)
	Retry(ctx context.Context) (gateway.Status, error)
}

// Options wires the handlers. Broadcaster, Gateway and History are optional;
// their endpoints answer 503 when absent.
type Options struct {
	Selector    *catalog.Selector
	Users       storage.Users
	Broadcaster Broadcaster
	Gateway     Gateway
	History     *device.History

	// VAPIDPublicKey returns the key clients subscribe with.
	VAPIDPublicKey func() string

	Clock   clock.Clock
	Bus     eventbus.Bus
	Metrics *metrics.Metrics
	Log     logx.Logger
}

type handlers struct {
	opts Options
	log  logx.Logger
}

type messageResponse struct {
	Success     bool            `json:"success"`
	Message     catalog.Message `json:"message"`
	AllMessages int             `json:"allMessages"`
	Date        string          `json:"date,omitempty"`
	Special     string          `json:"special,omitempty"`
}

func (h *handlers) getMessages(c *gin.Context) {
	sel := h.opts.Selector
	cat := sel.Catalog()

	if raw, ok := c.GetQuery("id"); ok {
		id, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message id"})
			return
		}
		m, err := cat.ByID(id)
		if errors.Is(err, catalog.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
			return
		}
		c.JSON(http.StatusOK, messageResponse{Success: true, Message: m, AllMessages: cat.Len()})
		return
	}

	at := h.opts.Clock.Now()
	if raw, ok := c.GetQuery("date"); ok {
		d, err := time.ParseInLocation(device.DateLayout, strings.TrimSpace(raw), sel.Location())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date, expected YYYY-MM-DD"})
			return
		}
		at = d
	}
	pick := sel.Pick(at)
	c.JSON(http.StatusOK, messageResponse{
		Success:     true,
		Message:     pick.Message,
		AllMessages: cat.Len(),
		Date:        pick.Date.Format(device.DateLayout),
		Special:     pick.Special,
	})
}

type subscriptionRequest struct {
	Subscription *struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	} `json:"subscription"`
	UserAgent string `json:"userAgent"`
	Timestamp string `json:"timestamp"`
}

func (h *handlers) registerUser(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Subscription == nil || strings.TrimSpace(req.Subscription.Endpoint) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subscription data"})
		return
	}
	sub := req.Subscription
	u := storage.User{
		ID:           UserID(sub.Endpoint),
		Kind:         storage.KindPush,
		Endpoint:     sub.Endpoint,
		P256dh:       sub.Keys.P256dh,
		Auth:         sub.Keys.Auth,
		UserAgent:    req.UserAgent,
		RegisteredAt: h.registeredAt(req.Timestamp),
		Active:       true,
	}
	h.saveUser(c, u)
}

type simpleUserRequest struct {
	UserAgent           string `json:"userAgent"`
	Timestamp           string `json:"timestamp"`
	Timezone            string `json:"timezone"`
	NotificationEnabled bool   `json:"notificationEnabled"`
}

func (h *handlers) registerSimpleUser(c *gin.Context) {
	var req simpleUserRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserAgent) == "" || strings.TrimSpace(req.Timestamp) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user data"})
		return
	}
	u := storage.User{
		ID:           UserID(req.UserAgent + req.Timestamp),
		Kind:         storage.KindSimple,
		UserAgent:    req.UserAgent,
		Timezone:     req.Timezone,
		RegisteredAt: h.registeredAt(req.Timestamp),
		Active:       true,
	}
	h.saveUser(c, u)
}

func (h *handlers) saveUser(c *gin.Context, u storage.User) {
	if err := h.opts.Users.UpsertUser(c.Request.Context(), u); err != nil {
		h.log.Error("saving user failed", logx.String("user", u.ID), logx.String("kind", u.Kind), logx.Err(err))
		internalError(c, err)
		return
	}
	h.log.Info("user registered", logx.String("user", u.ID), logx.String("kind", u.Kind))
	h.opts.Metrics.Registered(u.Kind)
	h.opts.Bus.Publish(eventbus.Event{Type: eventbus.TypeUserRegistered, Data: u})
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "User registered successfully",
		"userId":  u.ID,
	})
}

func (h *handlers) registeredAt(ts string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(ts)); err == nil {
		return t.UTC()
	}
	return h.opts.Clock.Now().UTC()
}

// UserID is the first 16 hex characters of the SHA-256 of seed.
func UserID(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:16]
}

func (h *handlers) sendNotification(c *gin.Context) {
	if h.opts.Broadcaster == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Push notifications are not configured"})
		return
	}
	st, err := h.opts.Broadcaster.Broadcast(c.Request.Context())
	if err != nil {
		h.log.Error("broadcast failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to send notifications",
			"message": err.Error(),
		})
		return
	}
	if st.TotalUsers == 0 {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "No active users found", "sent": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Daily love notifications sent", "stats": st})
}

func (h *handlers) vapidPublicKey(c *gin.Context) {
	key := ""
	if h.opts.VAPIDPublicKey != nil {
		key = h.opts.VAPIDPublicKey()
	}
	if key == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Push notifications are not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": key})
}

func (h *handlers) notificationState(c *gin.Context) {
	if h.opts.Gateway == nil {
		sessionDisabled(c)
		return
	}
	c.JSON(http.StatusOK, h.opts.Gateway.Status())
}

func (h *handlers) notificationEnable(c *gin.Context) { h.driveGateway(c, false) }

func (h *handlers) notificationRetry(c *gin.Context) { h.driveGateway(c, true) }

func (h *handlers) driveGateway(c *gin.Context, retry bool) {
	g := h.opts.Gateway
	if g == nil {
		sessionDisabled(c)
		return
	}
	op := g.Request
	if retry {
		op = g.Retry
	}
	st, err := op(c.Request.Context())
	if errors.Is(err, gateway.ErrInvalidTransition) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "state": st.State})
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handlers) notificationHistory(c *gin.Context) {
	if h.opts.History == nil {
		sessionDisabled(c)
		return
	}
	list, err := h.opts.History.List(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	if list == nil {
		list = []device.HistoryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"history": list})
}

func sessionDisabled(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Notification session is disabled"})
}

func internalError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "message": err.Error()})
}
