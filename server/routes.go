package server

import (
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"

	"github.com/krapivin/consultbot/ai/orchestrator"
	"github.com/krapivin/consultbot/plugin/telegram"
)

// telegramSecretHeader carries the secret token Telegram echoes back on
// every webhook delivery.
const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

func (s *Server) registerRoutes() {
	e := s.echoServer

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(s.exporter.Handler()))

	webhookPath := s.Profile.WebhookPath
	if webhookPath == "" {
		webhookPath = "/api/v1/telegram/webhook"
	}
	e.POST(webhookPath, s.handleTelegramWebhook)

	admin := e.Group("/api/v1", s.adminAuth)
	admin.POST("/catalog", s.handleCatalogUpload)
	admin.GET("/catalog/active", s.handleCatalogActive)
	admin.GET("/prompts", s.handlePromptList)
	admin.PUT("/prompts/:name", s.handlePromptPut)
	admin.POST("/llm", s.handleLLMSwitch)
	admin.GET("/usage", s.handleUsage)
	admin.POST("/usage/reset", s.handleUsageReset)
	admin.GET("/leads", s.handleLeadList)
}

type healthResponse struct {
	Status     string            `json:"status"`
	Database   string            `json:"database"`
	Components map[string]string `json:"components"`
}

// handleHealth reports overall readiness: unhealthy when the database is
// unreachable, degraded when the LLM or the catalog index is missing.
func (s *Server) handleHealth(c echo.Context) error {
	resp := &healthResponse{
		Status:     "healthy",
		Database:   "ok",
		Components: map[string]string{},
	}

	if err := s.Store.GetDriver().GetDB().PingContext(c.Request().Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Database = err.Error()
	}

	if s.gateway.Current() == nil {
		resp.Components["llm"] = "no provider configured"
	} else {
		resp.Components["llm"] = "ok"
	}
	if s.engine.Ready() {
		resp.Components["search"] = "ok"
	} else {
		resp.Components["search"] = "index empty"
	}
	if s.bot != nil {
		resp.Components["telegram"] = "ok"
	} else {
		resp.Components["telegram"] = "disabled"
	}

	if resp.Status == "healthy" {
		for _, state := range resp.Components {
			if state != "ok" && state != "disabled" {
				resp.Status = "degraded"
				break
			}
		}
	}

	code := http.StatusOK
	if resp.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

// webhookReply answers the webhook call with an inline bot API method,
// saving one round trip to Telegram.
type webhookReply struct {
	Method      string                         `json:"method"`
	ChatID      int64                          `json:"chat_id"`
	Text        string                         `json:"text"`
	ReplyMarkup *tgbotapi.InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

func (s *Server) handleTelegramWebhook(c echo.Context) error {
	if !s.accepting.Load() {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	if s.Profile.WebhookSecret != "" &&
		c.Request().Header.Get(telegramSecretHeader) != s.Profile.WebhookSecret {
		return c.NoContent(http.StatusUnauthorized)
	}

	var update tgbotapi.Update
	if err := c.Bind(&update); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return c.NoContent(http.StatusOK)
	}

	in := &orchestrator.Incoming{
		ChatID:   strconv.FormatInt(msg.Chat.ID, 10),
		Platform: "TG",
		Text:     msg.Text,
	}
	if msg.From != nil {
		in.FirstName = msg.From.FirstName
		in.LastName = msg.From.LastName
		in.Username = msg.From.UserName
	}

	reply := s.turner.ProcessTurn(c.Request().Context(), in)
	return c.JSON(http.StatusOK, &webhookReply{
		Method:      "sendMessage",
		ChatID:      msg.Chat.ID,
		Text:        reply.Text,
		ReplyMarkup: telegram.ActionKeyboard(reply.SuggestedActions),
	})
}
