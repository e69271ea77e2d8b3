// Package api serves the lovepush HTTP endpoints. Every function route is
// mounted under /api and under the legacy /.netlify/functions prefix.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"lovepush/internal/clock"
	"lovepush/internal/eventbus"
	logx "lovepush/pkg/logx"
)

const requestIDHeader = "X-Request-ID"

var prefixes = []string{"/api", "/.netlify/functions"}

// NewRouter builds the gin engine for opts.
func NewRouter(opts Options) *gin.Engine {
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &handlers{opts: opts, log: log.With(logx.String("comp", "api"))}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		gin.CustomRecovery(h.recovered),
		requestID(),
		h.observe(),
		cors.New(cors.Config{
			AllowAllOrigins:           true,
			AllowMethods:              []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:              []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:             []string{requestIDHeader},
			MaxAge:                    12 * time.Hour,
			OptionsResponseStatusCode: http.StatusOK,
		}),
	)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})

	for _, p := range prefixes {
		g := r.Group(p)
		route(g, "/get-messages", map[string]gin.HandlerFunc{http.MethodGet: h.getMessages})
		route(g, "/register-user", map[string]gin.HandlerFunc{http.MethodPost: h.registerUser})
		route(g, "/register-simple-user", map[string]gin.HandlerFunc{http.MethodPost: h.registerSimpleUser})
		route(g, "/send-notification", map[string]gin.HandlerFunc{
			http.MethodGet:  h.sendNotification,
			http.MethodPost: h.sendNotification,
		})
	}

	api := r.Group("/api")
	route(api, "/vapid-public-key", map[string]gin.HandlerFunc{http.MethodGet: h.vapidPublicKey})
	route(api, "/notifications/state", map[string]gin.HandlerFunc{http.MethodGet: h.notificationState})
	route(api, "/notifications/enable", map[string]gin.HandlerFunc{http.MethodPost: h.notificationEnable})
	route(api, "/notifications/retry", map[string]gin.HandlerFunc{http.MethodPost: h.notificationRetry})
	route(api, "/notifications/history", map[string]gin.HandlerFunc{http.MethodGet: h.notificationHistory})

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.HEAD("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	return r
}

// route registers the handlers plus an OPTIONS answer with an empty body.
func route(g *gin.RouterGroup, path string, byMethod map[string]gin.HandlerFunc) {
	for method, fn := range byMethod {
		g.Handle(method, path, fn)
	}
	g.OPTIONS(path, func(c *gin.Context) { c.Status(http.StatusOK) })
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (h *handlers) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		took := time.Since(start)
		h.opts.Metrics.ObserveHTTP(c.Request.Method, path, status, took)
		h.log.Debug("request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", status),
			logx.Duration("took", took),
			logx.String("request_id", c.GetString("request_id")),
		)
	}
}

func (h *handlers) recovered(c *gin.Context, v any) {
	h.log.Error("handler panicked",
		logx.String("path", c.Request.URL.Path),
		logx.Any("panic", v),
		logx.String("request_id", c.GetString("request_id")),
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":   "Internal server error",
		"message": fmt.Sprint(v),
	})
}
