package api

import (
	"errors"

	"github.com/labstack/echo/v4"

	"SigRelay/internal/domain/models"
	drepo "SigRelay/internal/domain/repository"
	"SigRelay/internal/scheduler"
	apphttp "SigRelay/pkg/http"
	"SigRelay/pkg/logger"
)

// NodesHandler administers scheduler nodes.
type NodesHandler struct {
	sched    *scheduler.Scheduler
	registry drepo.NodeRegistry
	log      *logger.Logger
}

// NewNodesHandler creates a new NodesHandler instance.
func NewNodesHandler(lgr *logger.Logger, sched *scheduler.Scheduler, registry drepo.NodeRegistry) *NodesHandler {
	return &NodesHandler{sched: sched, registry: registry, log: lgr}
}

func (h *NodesHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/nodes", h.ListNodes)
	e.POST("/nodes", h.UpsertNode)
	e.GET("/nodes/:id", h.GetNode)
	e.PUT("/nodes/:id", h.UpsertNode)
	e.DELETE("/nodes/:id", h.DeleteNode)
	e.POST("/nodes/:id/trigger", h.TriggerNode)
}

// ListNodes returns every node config with its latest heartbeat.
func (h *NodesHandler) ListNodes(c echo.Context) error {
	ctx := c.Request().Context()
	cfgs, err := h.registry.List(ctx)
	if err != nil {
		return apphttp.InternalServerErrorResponse(c)
	}
	out := make([]*models.NodeStatusResponse, 0, len(cfgs))
	for _, cfg := range cfgs {
		hb, _ := h.registry.Heartbeat(ctx, cfg.NodeID)
		out = append(out, &models.NodeStatusResponse{Config: cfg, Heartbeat: hb})
	}
	return apphttp.SuccessResponse(c, out)
}

// GetNode returns one node's config and heartbeat.
func (h *NodesHandler) GetNode(c echo.Context) error {
	ctx := c.Request().Context()
	cfg, err := h.registry.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrNodeNotFound) {
			return apphttp.AppErrorResponse(c, apphttp.NotFoundErrorf("node %s not found", c.Param("id")))
		}
		return apphttp.InternalServerErrorResponse(c)
	}
	hb, _ := h.registry.Heartbeat(ctx, cfg.NodeID)
	return apphttp.SuccessResponse(c, &models.NodeStatusResponse{Config: cfg, Heartbeat: hb})
}

// UpsertNode creates or replaces a node config and reschedules it.
func (h *NodesHandler) UpsertNode(c echo.Context) error {
	var req models.NodeConfigRequest
	if verrs := apphttp.ReadAndValidateRequest(c, &req); verrs != nil {
		return apphttp.BadRequestResponse(c, verrs)
	}
	if id := c.Param("id"); id != "" && id != req.NodeID {
		return apphttp.BadRequestResponse(c, "node_id does not match path")
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	cfg := &models.NodeConfig{
		NodeID:       req.NodeID,
		Type:         models.NodeType(req.Type),
		Enabled:      enabled,
		IntervalSec:  req.IntervalSec,
		Dependencies: req.Dependencies,
		Outputs:      req.Outputs,
		Metadata:     req.Metadata,
	}
	if err := h.sched.Upsert(c.Request().Context(), cfg); err != nil {
		h.log.Error("upsert node", logger.String("node_id", req.NodeID), logger.Error(err))
		return apphttp.BadRequestResponse(c, err.Error())
	}
	return apphttp.SuccessResponse(c, cfg)
}

// DeleteNode removes a node and unschedules it.
func (h *NodesHandler) DeleteNode(c echo.Context) error {
	if err := h.sched.Delete(c.Request().Context(), c.Param("id")); err != nil {
		if errors.Is(err, models.ErrNodeNotFound) {
			return apphttp.AppErrorResponse(c, apphttp.NotFoundErrorf("node %s not found", c.Param("id")))
		}
		return apphttp.InternalServerErrorResponse(c)
	}
	return apphttp.NoContentResponse(c)
}

// TriggerNode runs a node's tick immediately and returns the outcome.
// Dependency gating still applies; the heartbeat explains any skip.
func (h *NodesHandler) TriggerNode(c echo.Context) error {
	hb, err := h.sched.RunNode(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrNodeNotFound) {
			return apphttp.AppErrorResponse(c, apphttp.NotFoundErrorf("node %s not found", c.Param("id")))
		}
		return apphttp.InternalServerErrorResponse(c)
	}
	return apphttp.SuccessResponse(c, hb)
}
