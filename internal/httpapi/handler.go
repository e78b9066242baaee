// Package httpapi implements the REST surface of the analysis service.
//
// Routes:
//
//	GET  /health                              → liveness
//	POST /applications/:id/analysis           → enqueue an analysis
//	GET  /applications/:id/analysis/latest    → latest completed result
//	GET  /analyses/:id                        → job status
//	POST /analyses/:id/cancel                 → request cancellation
package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"jobmate/analysis-service/internal/analysis"
	"jobmate/analysis-service/internal/logger"
)

// Handler holds shared dependencies.
type Handler struct {
	svc     *analysis.Service
	version string
	log     *zap.Logger
}

// NewHandler returns a configured Handler.
func NewHandler(svc *analysis.Service, version string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, version: version, log: log}
}

// NewApp returns a fiber app with every route mounted.
func NewApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "analysis-service",
		DisableStartupMessage: true,
		ErrorHandler:          h.errorHandler,
	})
	h.RegisterRoutes(app)
	return app
}

// RegisterRoutes mounts all analysis-service routes on app.
func (h *Handler) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.health)
	app.Post("/applications/:id/analysis", h.enqueue)
	app.Get("/applications/:id/analysis/latest", h.latest)
	app.Get("/analyses/:id", h.status)
	app.Post("/analyses/:id/cancel", h.cancel)
}

func (h *Handler) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "analysis-service",
		"version": h.version,
	})
}

func (h *Handler) enqueue(c *fiber.Ctx) error {
	j, created, err := h.svc.Enqueue(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	code := fiber.StatusOK
	if created {
		code = fiber.StatusAccepted
	}
	return c.Status(code).JSON(fiber.Map{
		"analysisJobId": j.ID,
		"state":         j.State,
		"created":       created,
	})
}

func (h *Handler) status(c *fiber.Ctx) error {
	j, err := h.svc.Status(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(j.Report())
}

func (h *Handler) latest(c *fiber.Ctx) error {
	j, err := h.svc.LatestResult(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"analysisJobId": j.ID,
		"applicationId": j.ApplicationID,
		"result":        j.Result,
		"completedAt":   j.UpdatedAt,
	})
}

func (h *Handler) cancel(c *fiber.Ctx) error {
	j, err := h.svc.RequestCancellation(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(j.Report())
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	code := toHTTPStatus(err)
	msg := err.Error()
	if code == fiber.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	return c.Status(code).JSON(fiber.Map{"error": logger.Truncate(msg, 512)})
}

// errorHandler renders fiber's own errors (unknown routes, bad methods)
// in the same JSON shape as handler errors.
func (h *Handler) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	return h.fail(c, err)
}

// toHTTPStatus maps domain errors to HTTP status codes.
func toHTTPStatus(err error) int {
	switch {
	case errors.Is(err, analysis.ErrNotFound),
		errors.Is(err, analysis.ErrApplicationNotFound),
		errors.Is(err, analysis.ErrNotAnalyzed):
		return fiber.StatusNotFound
	case errors.Is(err, analysis.ErrInvalidTransition):
		return fiber.StatusConflict
	}
	return fiber.StatusInternalServerError
}
