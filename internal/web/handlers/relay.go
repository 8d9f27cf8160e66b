package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lugondev/go-chat-relay-web3/internal/classify"
	"github.com/lugondev/go-chat-relay-web3/internal/extract"
	"github.com/lugondev/go-chat-relay-web3/internal/listener"
	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/internal/trade"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

// Previewer classifies a message without publishing it
type Previewer interface {
	Build(in classify.Input) (*models.ScanEvent, bool)
}

// ClassifyRequest is a dry-run classification input
type ClassifyRequest struct {
	Text      string          `json:"text"`
	Entities  []models.Entity `json:"entities"`
	Sender    string          `json:"sender"`
	Chat      string          `json:"chat"`
	ChatID    int64           `json:"chat_id"`
	MessageID int64           `json:"message_id"`
	Type      string          `json:"type"`
}

// ClassifyResponse shows every stage of the classification
type ClassifyResponse struct {
	OK        bool               `json:"ok"`
	Candidate *extract.Candidate `json:"candidate,omitempty"`
	Trade     *trade.Event       `json:"trade,omitempty"`
	Event     *models.ScanEvent  `json:"event,omitempty"`
}

// RelayHandler serves read-only views of the relay configuration and a
// classification dry run
type RelayHandler struct {
	rules     []listener.Rule
	sinks     []string
	previewer Previewer
	extractor *extract.Extractor
	parser    *trade.Parser
	log       logger.Logger
}

// NewRelayHandler creates a new relay handler
func NewRelayHandler(rules []listener.Rule, sinks []string, previewer Previewer, log logger.Logger) *RelayHandler {
	return &RelayHandler{
		rules:     rules,
		sinks:     sinks,
		previewer: previewer,
		extractor: extract.New(),
		parser:    trade.NewParser(),
		log:       log.With(logger.F("component", "relay-handler")),
	}
}

// RegisterRoutes registers the API routes on router
func (h *RelayHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/listeners", h.GetListeners)
	router.Get("/sinks", h.GetSinks)
	router.Post("/classify", h.Classify)
}

// GetListeners returns the configured listener rules. Webhook URLs are never exposed.
func (h *RelayHandler) GetListeners(c *fiber.Ctx) error {
	rules := h.rules
	if rules == nil {
		rules = []listener.Rule{}
	}
	return c.JSON(fiber.Map{
		"count":     len(rules),
		"listeners": rules,
	})
}

// GetSinks returns the names of the active scan sinks
func (h *RelayHandler) GetSinks(c *fiber.Ctx) error {
	sinks := h.sinks
	if sinks == nil {
		sinks = []string{}
	}
	return c.JSON(fiber.Map{"sinks": sinks})
}

// Classify runs extraction, trade parsing and event building on the posted text
func (h *RelayHandler) Classify(c *fiber.Ctx) error {
	var req ClassifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return fiber.NewError(fiber.StatusBadRequest, "text is required")
	}

	msg := &models.Message{
		ID:       req.MessageID,
		ChatID:   req.ChatID,
		Text:     req.Text,
		Entities: req.Entities,
	}
	full := classify.FullText(msg)

	var resp ClassifyResponse
	candidate, ok := h.extractor.Extract(full)
	if !ok {
		return c.JSON(resp)
	}
	resp.Candidate = &candidate

	if trade.IsTrade(full) {
		if t, ok := h.parser.Parse(msg.Text, msg.Entities, candidate.Address); ok {
			resp.Trade = t
		}
	}

	if h.previewer != nil {
		var hint classify.TypeHint
		if req.Type != "" {
			hint = classify.Fixed(req.Type)
		}
		resp.Event, resp.OK = h.previewer.Build(classify.Input{
			ChatID:     req.ChatID,
			SenderName: req.Sender,
			ChatName:   req.Chat,
			Message:    msg,
			Hint:       hint,
		})
	}

	h.log.Debug("classification dry run",
		logger.F("chain", string(candidate.Chain)),
		logger.F("ok", resp.OK),
	)

	return c.JSON(resp)
}
