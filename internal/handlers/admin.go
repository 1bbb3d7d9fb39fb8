package handlers

import (
	"errors"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Ananth-NQI/rel8-backend/internal/services"
	"github.com/Ananth-NQI/rel8-backend/internal/storage"
)

// AdminHandler serves the user variables and history API
type AdminHandler struct {
	messages *services.MessageService
	logger   *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(messages *services.MessageService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		messages: messages,
		logger:   logger,
	}
}

type variablesRequest struct {
	Predictor     string `json:"predictor"`
	Outcome       string `json:"outcome"`
	IntervalHours int    `json:"interval_hours"`
}

// SetVariables sets the predictor, outcome and interval of a user
func (h *AdminHandler) SetVariables(c *fiber.Ctx) error {
	var req variablesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	user, err := h.messages.SetVariables(c.UserContext(), phoneParam(c), storage.Variables{
		Predictor:     req.Predictor,
		Outcome:       req.Outcome,
		IntervalHours: req.IntervalHours,
	})
	if err != nil {
		return h.respondError(c, err, "Failed to update variables")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"user":    user,
	})
}

// GetSessions returns a user's sessions, newest first
func (h *AdminHandler) GetSessions(c *fiber.Ctx) error {
	history, err := h.messages.History(c.UserContext(), phoneParam(c))
	if err != nil {
		return h.respondError(c, err, "Failed to fetch sessions")
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"sessions": history,
		"count":    len(history),
	})
}

func (h *AdminHandler) respondError(c *fiber.Ctx, err error, message string) error {
	switch {
	case errors.Is(err, services.ErrInvalidPhone), errors.Is(err, services.ErrInvalidVariables):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	default:
		h.logger.Error(message, zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": message})
	}
}

// phoneParam returns the :phone path parameter with escapes such as %2B
// decoded.
func phoneParam(c *fiber.Ctx) string {
	raw := c.Params("phone")
	if phone, err := url.PathUnescape(raw); err == nil {
		return phone
	}
	return raw
}
