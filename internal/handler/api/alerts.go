// Package api registers the relay's HTTP surface: webhook intake,
// signal inspection, and node administration.
package api

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/labstack/echo/v4"

	"SigRelay/internal/domain/models"
	drepo "SigRelay/internal/domain/repository"
	"SigRelay/internal/service/ratelimit"
	"SigRelay/internal/usecase"
	apphttp "SigRelay/pkg/http"
	"SigRelay/pkg/logger"
)

// signatureHeader carries the hex HMAC-SHA256 of the raw request body.
const signatureHeader = "X-Signature"

// AlertsHandler serves webhook intake and signal lookups.
type AlertsHandler struct {
	intake *usecase.Intake
	store  drepo.SignalStore
	queue  drepo.JobQueue
	rl     *ratelimit.Limiter
	log    *logger.Logger
}

// NewAlertsHandler creates a new AlertsHandler instance.
func NewAlertsHandler(
	lgr *logger.Logger,
	intake *usecase.Intake,
	store drepo.SignalStore,
	queue drepo.JobQueue,
	rl *ratelimit.Limiter,
) *AlertsHandler {
	return &AlertsHandler{intake: intake, store: store, queue: queue, rl: rl, log: lgr}
}

func (h *AlertsHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/alerts", h.PostAlert)
	e.GET("/alerts/:id", h.GetAlert)
	e.GET("/alerts/:id/audit", h.GetAuditTrail)
	e.POST("/alerts/:id/cancel", h.CancelAlert)
	e.GET("/healthz", h.Healthz)
	e.GET("/readyz", h.Readyz)
}

// PostAlert accepts a webhook delivery. The signature is verified over
// the raw body before anything is parsed or recorded; failures leave no
// trace besides a log line.
func (h *AlertsHandler) PostAlert(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return apphttp.BadRequestResponse(c, "unreadable body")
	}

	if err := h.intake.VerifySignature(body, c.Request().Header.Get(signatureHeader)); err != nil {
		h.log.Warn("webhook signature rejected",
			logger.String("remote", c.RealIP()))
		return apphttp.UnauthorizedResponse(c, "invalid signature")
	}

	var req models.AlertRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return apphttp.BadRequestResponse(c, "malformed json")
	}
	if verrs := apphttp.ValidateStruct(&req); verrs != nil {
		return apphttp.BadRequestResponse(c, verrs)
	}

	if !h.rl.Allow(req.Source) {
		return apphttp.TooManyRequestsResponse(c)
	}

	resp, err := h.intake.Accept(c.Request().Context(), &req)
	if err != nil {
		h.log.Error("accept alert", logger.String("source", req.Source), logger.Error(err))
		return apphttp.UnavailableResponse(c, "intake unavailable, retry")
	}
	return apphttp.SuccessResponse(c, resp)
}

// GetAlert returns the external view of a signal.
func (h *AlertsHandler) GetAlert(c echo.Context) error {
	sig, err := h.store.SignalByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrSignalNotFound) {
			return apphttp.AppErrorResponse(c, apphttp.NotFoundErrorf("signal %s not found", c.Param("id")))
		}
		return apphttp.InternalServerErrorResponse(c)
	}
	return apphttp.SuccessResponse(c, models.NewSignalResponse(sig))
}

// GetAuditTrail returns a signal's transition history in order.
func (h *AlertsHandler) GetAuditTrail(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.store.SignalByID(c.Request().Context(), id); err != nil {
		if errors.Is(err, models.ErrSignalNotFound) {
			return apphttp.AppErrorResponse(c, apphttp.NotFoundErrorf("signal %s not found", id))
		}
		return apphttp.InternalServerErrorResponse(c)
	}
	trail, err := h.store.AuditTrail(c.Request().Context(), id)
	if err != nil {
		return apphttp.InternalServerErrorResponse(c)
	}
	return apphttp.SuccessResponse(c, trail)
}

// CancelAlert requests cancellation of a signal before dispatch.
func (h *AlertsHandler) CancelAlert(c echo.Context) error {
	sig, err := h.intake.Cancel(c.Request().Context(), c.Param("id"))
	switch {
	case err == nil:
		return apphttp.SuccessResponse(c, models.NewSignalResponse(sig))
	case errors.Is(err, models.ErrSignalNotFound):
		return apphttp.AppErrorResponse(c, apphttp.NotFoundErrorf("signal %s not found", c.Param("id")))
	case errors.Is(err, models.ErrTerminalStatus), errors.Is(err, models.ErrInvalidTransition):
		return apphttp.AppErrorResponse(c, apphttp.ConflictError("signal can no longer be cancelled"))
	default:
		return apphttp.InternalServerErrorResponse(c)
	}
}

// Healthz reports process liveness.
func (h *AlertsHandler) Healthz(c echo.Context) error {
	return apphttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

// Readyz reports whether the store and queue can take traffic.
func (h *AlertsHandler) Readyz(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.store.Health(ctx); err != nil {
		return apphttp.UnavailableResponse(c, "store unavailable")
	}
	depth, err := h.queue.Depth(ctx)
	if err != nil {
		return apphttp.UnavailableResponse(c, "queue unavailable")
	}
	return apphttp.SuccessResponse(c, map[string]interface{}{
		"status":      "ready",
		"queue_depth": depth,
	})
}
