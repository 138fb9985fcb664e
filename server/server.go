// Package server wires the application together: the HTTP API, the
// Telegram transport, the LLM gateway, the catalog engine and the lead
// machinery, with one graceful shutdown path over all of them.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/ai/classify"
	"github.com/krapivin/consultbot/ai/costguard"
	"github.com/krapivin/consultbot/ai/llm"
	"github.com/krapivin/consultbot/ai/metrics"
	"github.com/krapivin/consultbot/ai/orchestrator"
	"github.com/krapivin/consultbot/ai/prompt"
	"github.com/krapivin/consultbot/ai/search"
	"github.com/krapivin/consultbot/internal/hybridlog"
	"github.com/krapivin/consultbot/internal/profile"
	"github.com/krapivin/consultbot/plugin/crm"
	"github.com/krapivin/consultbot/plugin/cron"
	"github.com/krapivin/consultbot/plugin/email"
	"github.com/krapivin/consultbot/plugin/telegram"
	"github.com/krapivin/consultbot/server/service/knowledge"
	"github.com/krapivin/consultbot/server/service/lead"
	"github.com/krapivin/consultbot/store"
)

// shutdownBudget caps the drain phase of a graceful shutdown.
const shutdownBudget = 30 * time.Second

// weeklyReportSchedule fires Monday 09:00 server time.
const weeklyReportSchedule = "0 9 * * 1"

// Server owns the HTTP listener and every background component.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	logger     *hybridlog.Logger

	gateway  *llm.Gateway
	prompts  *prompt.Registry
	guard    *costguard.Guard
	engine   *search.Engine
	exporter *metrics.Exporter
	turner   metrics.Turner

	worker    *lead.Worker
	monitor   *lead.Monitor
	scheduler *cron.Scheduler
	bot       *telegram.Bot

	accepting    atomic.Bool
	cancelBg     context.CancelFunc
	listenerDone chan error
}

// NewServer builds the full component graph. It fails only on
// misconfiguration; a missing LLM key or an empty catalog degrade the
// respective features instead of blocking startup.
func NewServer(ctx context.Context, p *profile.Profile, st *store.Store) (*Server, error) {
	s := &Server{
		Profile:      p,
		Store:        st,
		listenerDone: make(chan error, 1),
	}

	var tgNotifier *telegram.Notifier
	var botAPI *tgbotapi.BotAPI
	if p.BotToken != "" {
		api, err := tgbotapi.NewBotAPI(p.BotToken)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create telegram client")
		}
		slog.Info("telegram bot authorized", "username", api.Self.UserName)
		botAPI = api
		tgNotifier, err = telegram.NewNotifier(api, p.ManagerTelegramChatID, p.AdminTelegramIDList())
		if err != nil {
			return nil, err
		}
	}

	var alerters []hybridlog.Alerter
	if tgNotifier != nil {
		alerters = append(alerters, tgNotifier)
	}
	emailNotifier, err := newEmailNotifier(p)
	if err != nil {
		return nil, err
	}
	if emailNotifier != nil {
		alerters = append(alerters, emailNotifier)
	}
	s.logger = hybridlog.New(st, hybridlog.WithAlerters(alerters...))

	var costNotifier costguard.Notifier
	if tgNotifier != nil {
		costNotifier = tgNotifier
	}
	s.guard = costguard.NewGuard(p, st, costNotifier, s.logger)

	provider, err := activeProvider(ctx, p, st)
	if err != nil {
		slog.Warn("starting without a chat llm provider", "error", err)
	}
	s.gateway = llm.NewGateway(provider, s.guard)
	if embedder, err := embeddingProvider(p); err != nil {
		slog.Warn("starting without a dedicated embedding provider", "error", err)
	} else if embedder != nil {
		s.gateway.UseEmbedder(embedder)
	}

	s.prompts = prompt.NewRegistry(st)
	if err := s.prompts.Load(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to load prompts")
	}

	s.engine = search.NewEngine(p, st, s.gateway)
	if err := s.engine.Load(ctx); err != nil {
		slog.Warn("catalog index not loaded, search starts empty", "error", err)
	}

	var notifiers []lead.Notifier
	if tgNotifier != nil {
		notifiers = append(notifiers, tgNotifier)
	}
	if emailNotifier != nil {
		notifiers = append(notifiers, emailNotifier)
	}
	pipeline := lead.NewPipeline(st, s.logger, notifiers...)

	if p.CRMBaseURL != "" {
		s.worker = lead.NewWorker(st, crm.NewClient(p.CRMBaseURL, p.CRMAPIToken), s.logger)
	} else {
		slog.Warn("CRM_BASE_URL not set, leads stay pending in the store")
	}

	var reengager lead.Reengager
	if tgNotifier != nil {
		reengager = tgNotifier
	}
	s.monitor = lead.NewMonitor(p, st, pipeline, reengager, s.logger)

	classifier := classify.NewClassifier(s.gateway, s.prompts)
	orch := orchestrator.New(
		st, classifier, s.gateway, s.prompts,
		s.engine, knowledge.NewService(st), pipeline,
		p.SearchMaxResults, s.logger,
	)
	s.exporter = metrics.NewExporter()
	s.turner = s.exporter.InstrumentTurner(orch)

	if botAPI != nil && !p.DisableTelegramBot {
		s.bot = telegram.NewBotWithAPI(botAPI, s.turner)
	}

	s.echoServer = newEcho()
	s.registerRoutes()

	return s, nil
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	return e
}

// Start launches the listener and the background loops. It returns
// immediately; listener failures surface through the logger.
func (s *Server) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(ctx)
	s.cancelBg = cancel

	s.scheduler = cron.NewScheduler(bgCtx)
	if err := s.scheduler.Add("inactivity-scan", lead.ScanSchedule, s.monitor.Scan); err != nil {
		return err
	}
	if s.Profile.WeeklyUsageReport {
		if err := s.scheduler.Add("weekly-usage-report", weeklyReportSchedule, s.guard.SendWeeklyReport); err != nil {
			return err
		}
	}
	s.scheduler.Start()

	if s.worker != nil {
		go s.worker.Start(bgCtx)
	}
	if s.bot != nil {
		go s.bot.Start(bgCtx)
	}

	s.accepting.Store(true)
	go func() {
		s.listenerDone <- s.echoServer.Start(s.Profile.ListenAddr())
	}()
	return nil
}

// Shutdown drains the server: stop intake first, let in-flight turns
// finish, then stop the background loops, flush the logger and close
// the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownBudget)
	defer cancel()

	s.accepting.Store(false)
	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down http server", "error", err)
	}

	if s.cancelBg != nil {
		s.cancelBg()
	}
	if s.bot != nil {
		if err := s.bot.Drain(ctx); err != nil {
			slog.Error("telegram turns did not drain in time", "error", err)
		}
	}
	if s.scheduler != nil {
		if err := s.scheduler.Stop(ctx); err != nil {
			slog.Error("scheduled jobs did not stop in time", "error", err)
		}
	}

	if err := s.logger.Flush(ctx); err != nil {
		slog.Error("failed to flush logs", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server shut down")
}

// activeProvider resolves the chat provider: the store's active llm
// setting wins, DEFAULT_LLM_PROVIDER is the fallback.
func activeProvider(ctx context.Context, p *profile.Profile, st *store.Store) (llm.Provider, error) {
	providerID := p.DefaultLLMProvider
	model := ""
	if setting, err := st.GetActiveLLMSetting(ctx); err == nil {
		providerID = setting.ProviderID
		model = settingModel(setting.Config)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, errors.Wrap(err, "failed to read llm setting")
	}
	return newProvider(p, providerID, model)
}

// settingModel extracts the optional model override from a setting's
// config JSON.
func settingModel(config string) string {
	if config == "" {
		return ""
	}
	var parsed struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal([]byte(config), &parsed); err != nil {
		return ""
	}
	return parsed.Model
}

func newProvider(p *profile.Profile, providerID, model string) (llm.Provider, error) {
	timeout := time.Duration(p.LLMTimeout) * time.Second
	switch providerID {
	case "openai":
		if model == "" {
			model = p.OpenAIDefaultModel
		}
		prov, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:         p.OpenAIAPIKey,
			BaseURL:        p.OpenAIBaseURL,
			Model:          model,
			EmbeddingModel: embeddingModelName(p),
			Timeout:        timeout,
		})
		if err != nil {
			return nil, err
		}
		return prov, nil
	case "yandex":
		if model == "" {
			model = p.YandexDefaultModel
		}
		prov, err := llm.NewYandexProvider(llm.YandexConfig{
			APIKey:   p.YandexAPIKey,
			FolderID: p.YandexFolderID,
			Model:    model,
			Timeout:  timeout,
		})
		if err != nil {
			return nil, err
		}
		return prov, nil
	default:
		return nil, errors.Errorf("unknown llm provider %q", providerID)
	}
}

// embeddingProvider pins embedding traffic to the provider named by
// EMBEDDING_MODEL ("openai/text-embedding-3-small"), so swapping the
// chat provider never invalidates the vector index.
func embeddingProvider(p *profile.Profile) (llm.Provider, error) {
	providerID, _, found := strings.Cut(p.EmbeddingModel, "/")
	if !found {
		return nil, nil
	}
	return newProvider(p, providerID, "")
}

func embeddingModelName(p *profile.Profile) string {
	if _, model, found := strings.Cut(p.EmbeddingModel, "/"); found {
		return model
	}
	return p.EmbeddingModel
}

func newEmailNotifier(p *profile.Profile) (*email.Notifier, error) {
	recipients := p.ManagerEmailList()
	if p.SMTPHost == "" || len(recipients) == 0 {
		return nil, nil
	}
	from := p.SMTPUser
	if from == "" {
		// Unauthenticated relay; derive a sender address.
		from = "consultbot@" + p.SMTPHost
	}
	return email.NewNotifier(&email.Config{
		Host:       p.SMTPHost,
		Port:       p.SMTPPort,
		Username:   p.SMTPUser,
		Password:   p.SMTPPassword,
		From:       from,
		Recipients: recipients,
	})
}
