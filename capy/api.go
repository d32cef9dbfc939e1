package capy

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

const (
	xRequestIDHeader = "X-Request-ID"

	apiPrefix          = "/api"
	apiHealthCheck     = "/api/health"
	apiPathGuildEvents = "/guilds/:guild_id/events"
	apiPathEvent       = "/events/:id"

	apiDefaultEventLimit = 25
)

// API serves a small read-only HTTP API for club officers' tooling:
// bot health, and the events/RSVPs stored for each guild.
type API struct {
	config     *APIConfig
	bot        *Capy
	httpServer *http.Server
	listener   net.Listener
	listenerMu sync.Mutex
	engine     *gin.Engine
	logger     *slog.Logger
}

func newAPI(bot *Capy, config *APIConfig) *API {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	api := &API{
		config: config,
		bot:    bot,
		engine: r,
		logger: slog.New(newLogHandler(config.LogLevel)).With(loggerNameKey, "api"),
	}
	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(api.logger),
		cors.New(config.CORS.GINConfig()),
	)

	r.GET(apiHealthCheck, api.healthCheck)

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(config.Secret))
	protected.GET(apiPathGuildEvents, api.getGuildEvents)
	protected.GET(apiPathEvent, api.getEvent)

	return api
}

// Serve listens on the configured address and serves until Shutdown is
// called, or the listener fails
func (a *API) Serve(ctx context.Context) error {
	a.listenerMu.Lock()
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			a.listenerMu.Unlock()
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		a.listener = ln
	}
	ln := a.listener
	a.listenerMu.Unlock()

	a.logger.InfoContext(ctx, "serving api", "address", ln.Addr().String())
	err := a.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool          `json:"discord_gateway_connected"`
	Connects                int64         `json:"connects"`
	Disconnects             int64         `json:"disconnects"`
	HeartbeatLatency        time.Duration `json:"heartbeat_latency"`
	PendingPrompts          int           `json:"pending_prompts"`
	Uptime                  string        `json:"uptime"`
}

func (a *API) healthCheck(c *gin.Context) {
	resp := healthCheckResponse{
		DiscordGatewayConnected: a.bot.discord.connected.Load(),
		Connects:                a.bot.discord.metricConnects.Load(),
		Disconnects:             a.bot.discord.metricDisconnects.Load(),
		PendingPrompts:          a.bot.bus.Len(),
	}
	if a.bot.discord.session != nil {
		resp.HeartbeatLatency = a.bot.discord.session.HeartbeatLatency()
	}
	if !a.bot.startedAt.IsZero() {
		resp.Uptime = time.Since(a.bot.startedAt).Round(time.Second).String()
	}
	c.JSON(http.StatusOK, resp)
}

// GetGuildEventsQuery represents the query parameters for listing a
// guild's events.
type GetGuildEventsQuery struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int `form:"offset" binding:"omitempty,min=0"`

	// From (YYYY-MM-DD, UTC) excludes events starting earlier. If
	// unset, only upcoming events are returned.
	From string `form:"from" binding:"omitempty,datetime=2006-01-02"`
}

func (a *API) getGuildEvents(c *gin.Context) {
	var q GetGuildEventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if q.Limit == 0 {
		q.Limit = apiDefaultEventLimit
	}
	from := a.bot.now()
	if q.From != "" {
		from, _ = time.Parse(time.DateOnly, q.From)
	}

	var events []Event
	err := a.bot.db.WithContext(c.Request.Context()).
		Where(columnEventGuildID+" = ?", c.Param("guild_id")).
		Where(columnEventStartsAt+" >= ?", from.UnixMilli()).
		Order(columnEventStartsAt + " asc").
		Limit(q.Limit).
		Offset(q.Offset).
		Find(&events).Error
	if err != nil {
		ginContextLogger(c).ErrorContext(c.Request.Context(), "error getting events", tint.Err(err))
		ginReplyError(c, "error getting events")
		return
	}
	if events == nil {
		events = []Event{}
	}
	c.JSON(http.StatusOK, events)
}

type eventDetail struct {
	Event
	Counts AttendanceCounts `json:"counts"`
	Going  []string         `json:"going"`
}

func (a *API) getEvent(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid event ID"})
		return
	}
	ctx := c.Request.Context()
	log := ginContextLogger(c)

	event, err := getEvent(ctx, a.bot.db, "", uint(id))
	if err != nil {
		if errors.Is(err, errEventNotFound) {
			c.JSON(http.StatusNotFound, httpError{Error: "event not found"})
			return
		}
		log.ErrorContext(ctx, "error getting event", tint.Err(err))
		ginReplyError(c, "error getting event")
		return
	}

	counts, err := attendanceCounts(ctx, a.bot.db, event.ID)
	if err != nil {
		log.ErrorContext(ctx, "error counting attendance", tint.Err(err))
		ginReplyError(c, "error counting attendance")
		return
	}
	going, err := attendeeIDs(ctx, a.bot.db, event.ID, AttendanceYes)
	if err != nil {
		log.ErrorContext(ctx, "error getting attendees", tint.Err(err))
		ginReplyError(c, "error getting attendees")
		return
	}
	if going == nil {
		going = []string{}
	}
	c.JSON(http.StatusOK, eventDetail{Event: *event, Counts: counts, Going: going})
}

// httpError represents an error message returned to the client
type httpError struct {
	Error string `json:"error"`
}

// authMiddleware requires `Authorization: Bearer <secret>` on every
// request. An empty secret disables authentication.
func authMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			ginContextLogger(c).Warn("unauthorized request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

// requestIDMiddleware assigns a unique ID to each request, sets in the gin
// context and the response header under "X-Request-ID".
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if logger, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, isLogger := logger.(*slog.Logger); isLogger {
			return requestLogger
		}
	}
	return setGinContextLogger(c, slog.Default())
}

func setGinContextLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request once it's finished, along with
// its duration and any errors
func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := setGinContextLogger(c, base)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs,
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

// ginReplyError sends a JSON response with a message,
// with HTTP status code 500, via the gin context.
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}
