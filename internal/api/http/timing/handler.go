package timing

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zapcore"

	grpcapi "github.com/oshokin/stoppuhr/internal/api/grpc/timing"
	domain "github.com/oshokin/stoppuhr/internal/domain/timing"
	"github.com/oshokin/stoppuhr/internal/repository/registry"
	"github.com/oshokin/stoppuhr/internal/service/events"
	"github.com/oshokin/stoppuhr/internal/service/router"
	"github.com/oshokin/stoppuhr/internal/service/system"
	"github.com/oshokin/stoppuhr/internal/startcard"
	"github.com/oshokin/stoppuhr/internal/version"
)

// Service abstracts the business operations the HTTP layer depends on.
type Service interface {
	Mapping(ctx context.Context) *domain.Mapping
	Assign(ctx context.Context, mac string, target domain.Target) (*domain.Device, error)
	Unassign(ctx context.Context, target domain.Target) error
	Confirm(ctx context.Context, lane int) error
	Press(ctx context.Context, req router.Request) *domain.Press
	CurrentRun(ctx context.Context) (string, bool)
	SetRun(ctx context.Context, value string) string
	Heartbeat(ctx context.Context, rec registry.Record) (*domain.Device, error)
	Devices(ctx context.Context) []*domain.Device
	IsStale(device *domain.Device) bool
	StartCards(ctx context.Context) *startcard.Snapshot
	ReloadStartCards(ctx context.Context) (*startcard.Snapshot, error)
	StartCardSettings(ctx context.Context) startcard.Settings
	UpdateStartCardSettings(ctx context.Context, settings startcard.Settings) startcard.Settings
}

// Subscriber hands out event streams for the SSE endpoint.
type Subscriber interface {
	Subscribe() (<-chan events.Event, func())
}

// Options configures a Handler.
type Options struct {
	// Service is the timing business logic. Required.
	Service Service
	// Events feeds /api/events; the route is omitted when nil.
	Events Subscriber
	// Metrics serves /metrics; the route is omitted when nil.
	Metrics http.Handler
	// Status reports host health for /api/system-status; omitted when nil.
	Status *system.Reporter
	// AccessLogLevel is the minimum level of access log entries.
	AccessLogLevel zapcore.Level
}

// Handler serves the JSON API.
type Handler struct {
	opts Options
}

// NewHandler creates a handler.
func NewHandler(opts Options) *Handler {
	return &Handler{
		opts: opts,
	}
}

// Engine returns a gin engine with recovery, access logging and all routes.
func (h *Handler) Engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog(h.opts.AccessLogLevel))
	h.Register(engine)

	return engine
}

// Register adds the API routes to r.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")

	api.GET("/version", h.getVersion)
	api.GET("/mapping", h.getMapping)
	api.POST("/assign", h.postAssign)
	api.POST("/unassign", h.postUnassign)
	api.POST("/confirm", h.postConfirm)
	api.POST("/triggers", h.postTrigger)
	api.GET("/runs", h.getRun)
	api.POST("/runs", h.postRun)
	api.GET("/taster-list", h.getTasters)
	api.POST("/taster", h.postTaster)
	api.GET("/startcards", h.getStartCards)
	api.POST("/startcards/reload", h.postReloadStartCards)
	api.GET("/settings", h.getSettings)
	api.POST("/settings", h.postSettings)

	if h.opts.Status != nil {
		api.GET("/system-status", h.getSystemStatus)
	}

	if h.opts.Events != nil {
		api.GET("/events", h.streamEvents)
	}

	if h.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.opts.Metrics))
	}
}

func (h *Handler) getVersion(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get())
}

func (h *Handler) getMapping(c *gin.Context) {
	mapping := h.opts.Service.Mapping(c.Request.Context())

	c.JSON(http.StatusOK, toMappingResponse(mapping, h.opts.Service.IsStale))
}

func (h *Handler) postAssign(c *gin.Context) {
	var req assignRequest
	if !bindJSON(c, &req) {
		return
	}

	target, err := req.Lane.target()
	if err != nil {
		fail(c, err)

		return
	}

	device, err := h.opts.Service.Assign(c.Request.Context(), req.MAC, target)
	if err != nil {
		fail(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"taster": grpcapi.NewDevice(device, h.opts.Service.IsStale),
	})
}

func (h *Handler) postUnassign(c *gin.Context) {
	var req laneRequest
	if !bindJSON(c, &req) {
		return
	}

	target, err := req.Lane.target()
	if err != nil {
		fail(c, err)

		return
	}

	if err = h.opts.Service.Unassign(c.Request.Context(), target); err != nil {
		fail(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) postConfirm(c *gin.Context) {
	var req laneRequest
	if !bindJSON(c, &req) {
		return
	}

	target, err := req.Lane.target()
	if err == nil && target.Starter {
		err = errStarterHasNoPending
	}

	if err != nil {
		fail(c, err)

		return
	}

	if err = h.opts.Service.Confirm(c.Request.Context(), target.Lane); err != nil {
		fail(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) postTrigger(c *gin.Context) {
	var req triggerRequest
	if !bindJSON(c, &req) {
		return
	}

	press := h.opts.Service.Press(c.Request.Context(), router.Request{
		MAC:         req.MAC,
		TS:          req.TS,
		StopwatchMS: req.StopwatchMS,
	})

	if !press.OK() {
		fail(c, press.Err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":    true,
		"press": toPressDTO(press),
	})
}

func (h *Handler) getRun(c *gin.Context) {
	current, _ := h.opts.Service.CurrentRun(c.Request.Context())
	snapshot := h.opts.Service.StartCards(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"ok":   true,
		"run":  optionalString(current),
		"runs": snapshot.Runs,
	})
}

func (h *Handler) postRun(c *gin.Context) {
	var req runRequest
	if !bindJSON(c, &req) {
		return
	}

	current := h.opts.Service.SetRun(c.Request.Context(), req.CurrentRun.value)

	c.JSON(http.StatusOK, gin.H{
		"ok":  true,
		"run": optionalString(current),
	})
}

func (h *Handler) getTasters(c *gin.Context) {
	devices := h.opts.Service.Devices(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"tasters": grpcapi.NewDevices(devices, h.opts.Service.IsStale),
	})
}

func (h *Handler) postTaster(c *gin.Context) {
	var req heartbeatRequest
	if !bindJSON(c, &req) {
		return
	}

	rec := registry.Record{
		MAC:            req.MAC,
		Label:          req.Name,
		BatteryPercent: req.BatteryPercent,
		RSSIDbm:        req.RSSIDbm,
	}

	if req.TS != nil {
		rec.SeenAt = msToTime(*req.TS)
	}

	device, err := h.opts.Service.Heartbeat(c.Request.Context(), rec)
	if err != nil {
		fail(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"taster": grpcapi.NewDevice(device, h.opts.Service.IsStale),
	})
}

func (h *Handler) getStartCards(c *gin.Context) {
	c.JSON(http.StatusOK, h.opts.Service.StartCards(c.Request.Context()))
}

func (h *Handler) postReloadStartCards(c *gin.Context) {
	var req reloadRequest

	// The body is optional.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, badRequest(err))

		return
	}

	ctx := c.Request.Context()

	if req.BaseURL != "" || req.Suffix != "" {
		h.opts.Service.UpdateStartCardSettings(ctx, startcard.Settings{
			BaseURL: req.BaseURL,
			Suffix:  req.Suffix,
		})
	}

	snapshot, err := h.opts.Service.ReloadStartCards(ctx)
	if err != nil {
		c.JSON(statusFor(err), snapshot)

		return
	}

	c.JSON(http.StatusOK, snapshot)
}

func (h *Handler) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.opts.Service.StartCardSettings(c.Request.Context()))
}

func (h *Handler) postSettings(c *gin.Context) {
	var req startcard.Settings
	if !bindJSON(c, &req) {
		return
	}

	c.JSON(http.StatusOK, h.opts.Service.UpdateStartCardSettings(c.Request.Context(), req))
}

func (h *Handler) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.opts.Status.Status())
}
