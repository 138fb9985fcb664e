package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krapivin/consultbot/ai/classify"
	"github.com/krapivin/consultbot/ai/costguard"
	"github.com/krapivin/consultbot/ai/llm"
	"github.com/krapivin/consultbot/ai/metrics"
	"github.com/krapivin/consultbot/ai/orchestrator"
	"github.com/krapivin/consultbot/ai/prompt"
	"github.com/krapivin/consultbot/ai/search"
	"github.com/krapivin/consultbot/internal/hybridlog"
	"github.com/krapivin/consultbot/internal/profile"
	"github.com/krapivin/consultbot/store"
	"github.com/krapivin/consultbot/store/db/sqlite"
)

type staticTurner struct {
	lastIn *orchestrator.Incoming
}

func (t *staticTurner) ProcessTurn(_ context.Context, in *orchestrator.Incoming) *orchestrator.Reply {
	t.lastIn = in
	return &orchestrator.Reply{
		Text:             "чем могу помочь?",
		Intent:           classify.IntentGeneral,
		SuggestedActions: []string{orchestrator.ActionContactManager},
	}
}

func testServer(t *testing.T) (*Server, *staticTurner) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	p := &profile.Profile{
		Mode:             "prod",
		Driver:           "sqlite",
		DSN:              filepath.Join(dir, "test.db"),
		WebhookSecret:    "sekret",
		UploadDir:        dir,
		ChromaPersistDir: dir,
		SearchMaxResults: 10,
	}

	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	st := store.New(driver, p)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { _ = st.Close() })

	turner := &staticTurner{}
	s := &Server{Profile: p, Store: st}
	s.logger = hybridlog.New(st)
	s.guard = costguard.NewGuard(p, st, nil, s.logger)
	s.gateway = llm.NewGateway(nil, s.guard)
	s.prompts = prompt.NewRegistry(st)
	require.NoError(t, s.prompts.Load(ctx))
	s.engine = search.NewEngine(p, st, nil)
	s.exporter = metrics.NewExporter()
	s.turner = turner
	s.echoServer = newEcho()
	s.registerRoutes()
	s.accepting.Store(true)
	return s, turner
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.echoServer.ServeHTTP(rec, req)
	return rec
}

func TestHealthReportsDegradedComponents(t *testing.T) {
	s, _ := testServer(t)

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Database)
	assert.Equal(t, "no provider configured", resp.Components["llm"])
	assert.Equal(t, "index empty", resp.Components["search"])
	assert.Equal(t, "disabled", resp.Components["telegram"])
}

const webhookUpdate = `{
	"update_id": 1,
	"message": {
		"message_id": 10,
		"chat": {"id": 42},
		"from": {"id": 7, "first_name": "Иван", "last_name": "Иванов", "username": "ivan"},
		"text": "привет"
	}
}`

func webhookRequest(body, secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/telegram/webhook", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if secret != "" {
		req.Header.Set(telegramSecretHeader, secret)
	}
	return req
}

func TestWebhookRequiresSecret(t *testing.T) {
	s, turner := testServer(t)

	rec := doRequest(s, webhookRequest(webhookUpdate, ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, webhookRequest(webhookUpdate, "wrong"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, turner.lastIn)
}

func TestWebhookRepliesInline(t *testing.T) {
	s, turner := testServer(t)

	rec := doRequest(s, webhookRequest(webhookUpdate, "sekret"))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, turner.lastIn)
	assert.Equal(t, "42", turner.lastIn.ChatID)
	assert.Equal(t, "TG", turner.lastIn.Platform)
	assert.Equal(t, "Иванов", turner.lastIn.LastName)

	var reply webhookReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "sendMessage", reply.Method)
	assert.Equal(t, int64(42), reply.ChatID)
	assert.Equal(t, "чем могу помочь?", reply.Text)
	require.NotNil(t, reply.ReplyMarkup)
}

func TestWebhookIgnoresNonTextUpdates(t *testing.T) {
	s, turner := testServer(t)

	rec := doRequest(s, webhookRequest(`{"update_id": 2}`, "sekret"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, turner.lastIn)
}

func TestWebhookRefusesDuringShutdown(t *testing.T) {
	s, _ := testServer(t)
	s.accepting.Store(false)

	rec := doRequest(s, webhookRequest(webhookUpdate, "sekret"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func adminRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Authorization", "Bearer sekret")
	return req
}

func TestAdminAuthRejectsBadToken(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/prompts", nil)
	rec := doRequest(s, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("Authorization", "Bearer wrong")
	rec = doRequest(s, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAuthRequiresSecretInProd(t *testing.T) {
	s, _ := testServer(t)
	s.Profile.WebhookSecret = ""

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/api/v1/prompts", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPromptPutInstallsNewVersion(t *testing.T) {
	s, _ := testServer(t)
	ctx := context.Background()

	rec := doRequest(s, adminRequest(http.MethodPut, "/api/v1/prompts/"+prompt.NameSystem,
		`{"content": "Ты консультант магазина."}`))
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, "Ты консультант магазина.", s.prompts.Get(prompt.NameSystem))

	stored, err := s.Store.GetActivePrompt(ctx, prompt.NameSystem)
	require.NoError(t, err)
	assert.Equal(t, "Ты консультант магазина.", stored.Content)

	rec = doRequest(s, adminRequest(http.MethodPut, "/api/v1/prompts/"+prompt.NameSystem,
		`{"content": "  "}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLLMSwitchValidatesProvider(t *testing.T) {
	s, _ := testServer(t)

	rec := doRequest(s, adminRequest(http.MethodPost, "/api/v1/llm", `{"provider": "anthropic"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// OpenAI without an API key cannot be activated.
	rec = doRequest(s, adminRequest(http.MethodPost, "/api/v1/llm", `{"provider": "openai", "model": "gpt-4o"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, s.gateway.Current())
}

func TestLeadListFiltersByStatus(t *testing.T) {
	s, _ := testServer(t)
	ctx := context.Background()

	_, err := s.Store.CreateLead(ctx, &store.Lead{
		ChatID: "1", LastName: "Иванов", Phone: "+79001234567",
		Status: store.LeadPendingSync, Source: store.LeadSourceTelegram,
	})
	require.NoError(t, err)
	_, err = s.Store.CreateLead(ctx, &store.Lead{
		ChatID: "2", LastName: "Петров", Email: "p@example.com",
		Status: store.LeadFailed, Source: store.LeadSourceTelegram,
	})
	require.NoError(t, err)

	rec := doRequest(s, adminRequest(http.MethodGet, "/api/v1/leads?status=pending_sync", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var leads []*store.Lead
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &leads))
	require.Len(t, leads, 1)
	assert.Equal(t, "Иванов", leads[0].LastName)
}

func TestCatalogUploadRejectsNonXLSX(t *testing.T) {
	s, _ := testServer(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "catalog.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("id,name\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/catalog", &body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer sekret")
	rec := doRequest(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
