package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"

	"github.com/Ananth-NQI/rel8-backend/internal/services"
)

// SMSHandler handles Twilio SMS webhook requests
type SMSHandler struct {
	messages *services.MessageService
	logger   *zap.Logger
}

// NewSMSHandler creates a new SMS handler
func NewSMSHandler(messages *services.MessageService, logger *zap.Logger) *SMSHandler {
	return &SMSHandler{
		messages: messages,
		logger:   logger,
	}
}

// TwilioWebhookPayload represents an incoming SMS from Twilio
type TwilioWebhookPayload struct {
	MessageSid          string `form:"MessageSid"`
	AccountSid          string `form:"AccountSid"`
	MessagingServiceSid string `form:"MessagingServiceSid"`
	From                string `form:"From"` // Sender number (+12125551234)
	To                  string `form:"To"`   // Your Twilio number
	Body                string `form:"Body"` // Message text
	NumMedia            string `form:"NumMedia"`
}

// HandleWebhook processes an incoming SMS and answers with TwiML. An empty
// <Response/> means no reply is sent.
func (h *SMSHandler) HandleWebhook(c *fiber.Ctx) error {
	var payload TwilioWebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		h.logger.Warn("invalid webhook payload", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook payload",
		})
	}

	h.logger.Debug("SMS received", zap.String("from", payload.From), zap.String("sid", payload.MessageSid))

	reply, err := h.messages.ProcessMessage(c.UserContext(), services.InboundMessage{
		From:       payload.From,
		Body:       payload.Body,
		MessageSID: payload.MessageSid,
	})
	if errors.Is(err, services.ErrInvalidPhone) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid sender",
		})
	}
	if err != nil {
		h.logger.Error("failed to process SMS", zap.String("sid", payload.MessageSid), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process message",
		})
	}

	return sendTwiML(c, reply)
}

func sendTwiML(c *fiber.Ctx, reply string) error {
	var verbs []twiml.Element
	if reply != "" {
		verbs = append(verbs, &twiml.MessagingMessage{Body: reply})
	}
	doc, err := twiml.Messages(verbs)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationXMLCharsetUTF8)
	return c.SendString(doc)
}

// TestWebhookPayload is the body of the development test endpoint
type TestWebhookPayload struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// HandleTestWebhook processes a test SMS without Twilio (for development)
func (h *SMSHandler) HandleTestWebhook(c *fiber.Ctx) error {
	var payload TestWebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid test payload",
		})
	}

	reply, err := h.messages.ProcessMessage(c.UserContext(), services.InboundMessage{
		From: payload.From,
		Body: payload.Message,
	})
	if errors.Is(err, services.ErrInvalidPhone) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid sender",
		})
	}
	if err != nil {
		h.logger.Error("failed to process test SMS", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process message",
		})
	}

	h.logger.Debug("test reply generated", zap.String("reply", reply))
	return c.JSON(fiber.Map{
		"success": true,
		"reply":   reply,
	})
}
