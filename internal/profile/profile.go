package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Core
	Mode    string // "prod", "dev" or "demo"
	Addr    string
	Port    int
	Driver  string // "postgres" or "sqlite"
	DSN     string
	BaseURL string
	Version string

	// Telegram transport
	BotToken           string
	DisableTelegramBot bool // when true the process exposes the HTTP API only
	WebhookSecret      string
	WebhookPath        string

	// LLM providers
	DefaultLLMProvider string // fallback when no llm_setting is active: "openai" or "yandex"
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIDefaultModel string
	YandexAPIKey       string
	YandexFolderID     string
	YandexDefaultModel string
	LLMTimeout         int // per-attempt timeout in seconds

	// Embeddings and catalog search
	EmbeddingModel     string // qualified model identifier, e.g. "openai/text-embedding-3-small"
	ChromaPersistDir   string // vector index root directory
	UploadDir          string // uploaded catalog file location
	SearchMinScore     float64
	SearchNameBoost    float64
	SearchArticleBoost float64
	SearchMaxResults   int

	// Cost guard
	MonthlyTokenLimit   int64
	MonthlyCostLimitUSD float64
	CostAlertThreshold  float64
	CostAlertEnabled    bool
	AutoDisableOnLimit  bool
	WeeklyUsageReport   bool

	// Lead pipeline
	LeadInactivityThreshold int // minutes idle before triggering lead capture

	// CRM
	CRMBaseURL  string
	CRMAPIToken string

	// Notifications
	ManagerTelegramChatID string
	AdminTelegramIDs      string // comma-separated
	ManagerEmails         string // comma-separated

	// SMTP
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// AdminTelegramIDList parses the comma-separated ADMIN_TELEGRAM_IDS value.
func (p *Profile) AdminTelegramIDList() []int64 {
	if p.AdminTelegramIDs == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(p.AdminTelegramIDs, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// ManagerEmailList parses the comma-separated MANAGER_EMAILS value.
func (p *Profile) ManagerEmailList() []string {
	if p.ManagerEmails == "" {
		return nil
	}
	var emails []string
	for _, part := range strings.Split(p.ManagerEmails, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			emails = append(emails, part)
		}
	}
	return emails
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.EqualFold(value, "true") || value == "1"
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
// Flag-provided values (mode, addr, port, driver, dsn) are kept unless the
// corresponding environment variable is set.
func (p *Profile) FromEnv() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		p.DSN = dsn
	}
	p.BaseURL = getEnvOrDefault("BASE_URL", p.BaseURL)

	p.BotToken = getEnvOrDefault("BOT_TOKEN", "")
	p.DisableTelegramBot = getEnvOrDefaultBool("DISABLE_TELEGRAM_BOT", false)
	p.WebhookSecret = getEnvOrDefault("WEBHOOK_SECRET", "")
	p.WebhookPath = getEnvOrDefault("WEBHOOK_PATH", "/api/v1/telegram/webhook")

	p.DefaultLLMProvider = getEnvOrDefault("DEFAULT_LLM_PROVIDER", "openai")
	p.OpenAIAPIKey = getEnvOrDefault("OPENAI_API_KEY", "")
	p.OpenAIBaseURL = getEnvOrDefault("OPENAI_BASE_URL", "")
	p.OpenAIDefaultModel = getEnvOrDefault("OPENAI_DEFAULT_MODEL", "gpt-4o-mini")
	p.YandexAPIKey = getEnvOrDefault("YANDEX_API_KEY", "")
	p.YandexFolderID = getEnvOrDefault("YANDEX_FOLDER_ID", "")
	p.YandexDefaultModel = getEnvOrDefault("YANDEX_DEFAULT_MODEL", "yandexgpt-lite")
	p.LLMTimeout = getEnvOrDefaultInt("LLM_TIMEOUT", 30)

	p.EmbeddingModel = getEnvOrDefault("EMBEDDING_MODEL", "openai/text-embedding-3-small")
	p.ChromaPersistDir = getEnvOrDefault("CHROMA_PERSIST_DIR", "data/chroma")
	p.UploadDir = getEnvOrDefault("UPLOAD_DIR", "data/uploads")
	p.SearchMinScore = getEnvOrDefaultFloat("SEARCH_MIN_SCORE", 0.45)
	p.SearchNameBoost = getEnvOrDefaultFloat("SEARCH_NAME_BOOST", 0.20)
	p.SearchArticleBoost = getEnvOrDefaultFloat("SEARCH_ARTICLE_BOOST", 0.30)
	p.SearchMaxResults = getEnvOrDefaultInt("SEARCH_MAX_RESULTS", 10)

	p.MonthlyTokenLimit = getEnvOrDefaultInt64("MONTHLY_TOKEN_LIMIT", 10_000_000)
	p.MonthlyCostLimitUSD = getEnvOrDefaultFloat("MONTHLY_COST_LIMIT_USD", 100)
	p.CostAlertThreshold = getEnvOrDefaultFloat("COST_ALERT_THRESHOLD", 0.8)
	p.CostAlertEnabled = getEnvOrDefaultBool("COST_ALERT_ENABLED", true)
	p.AutoDisableOnLimit = getEnvOrDefaultBool("AUTO_DISABLE_ON_LIMIT", false)
	p.WeeklyUsageReport = getEnvOrDefaultBool("WEEKLY_USAGE_REPORT", false)

	p.LeadInactivityThreshold = getEnvOrDefaultInt("LEAD_INACTIVITY_THRESHOLD", 120)

	p.CRMBaseURL = getEnvOrDefault("CRM_BASE_URL", "")
	p.CRMAPIToken = getEnvOrDefault("CRM_API_TOKEN", "")

	p.ManagerTelegramChatID = getEnvOrDefault("MANAGER_TELEGRAM_CHAT_ID", "")
	p.AdminTelegramIDs = getEnvOrDefault("ADMIN_TELEGRAM_IDS", "")
	p.ManagerEmails = getEnvOrDefault("MANAGER_EMAILS", "")

	p.SMTPHost = getEnvOrDefault("SMTP_HOST", "")
	p.SMTPPort = getEnvOrDefaultInt("SMTP_PORT", 587)
	p.SMTPUser = getEnvOrDefault("SMTP_USER", "")
	p.SMTPPassword = getEnvOrDefault("SMTP_PASSWORD", "")
}

// Validate checks profile invariants and normalizes paths.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver != "postgres" && p.Driver != "sqlite" {
		return errors.Errorf("unsupported database driver: %s", p.Driver)
	}
	if p.DSN == "" {
		return errors.New("database DSN (DATABASE_URL or --dsn) is required")
	}

	switch p.DefaultLLMProvider {
	case "openai", "yandex":
	default:
		return errors.Errorf("unsupported DEFAULT_LLM_PROVIDER: %s", p.DefaultLLMProvider)
	}

	if p.SearchMinScore < 0 || p.SearchMinScore > 1 {
		return errors.Errorf("SEARCH_MIN_SCORE must be in [0,1], got %v", p.SearchMinScore)
	}
	if p.SearchNameBoost < 0 || p.SearchNameBoost > 0.5 {
		return errors.Errorf("SEARCH_NAME_BOOST must be in [0,0.5], got %v", p.SearchNameBoost)
	}
	if p.SearchArticleBoost < 0 || p.SearchArticleBoost > 0.5 {
		return errors.Errorf("SEARCH_ARTICLE_BOOST must be in [0,0.5], got %v", p.SearchArticleBoost)
	}
	if p.SearchArticleBoost <= p.SearchNameBoost {
		return errors.Errorf("SEARCH_ARTICLE_BOOST (%v) must exceed SEARCH_NAME_BOOST (%v)",
			p.SearchArticleBoost, p.SearchNameBoost)
	}
	if p.SearchMaxResults < 1 || p.SearchMaxResults > 20 {
		return errors.Errorf("SEARCH_MAX_RESULTS must be in [1,20], got %d", p.SearchMaxResults)
	}
	if p.CostAlertThreshold <= 0 || p.CostAlertThreshold > 1 {
		return errors.Errorf("COST_ALERT_THRESHOLD must be in (0,1], got %v", p.CostAlertThreshold)
	}
	if p.LeadInactivityThreshold <= 0 {
		return errors.New("LEAD_INACTIVITY_THRESHOLD must be positive")
	}

	for _, dir := range []string{p.ChromaPersistDir, p.UploadDir} {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return errors.Wrapf(err, "invalid directory %s", dir)
		}
		if err := os.MkdirAll(abs, 0o750); err != nil {
			return errors.Wrapf(err, "failed to create directory %s", abs)
		}
	}

	return nil
}

// ListenAddr returns the HTTP listen address.
func (p *Profile) ListenAddr() string {
	return fmt.Sprintf("%s:%d", p.Addr, p.Port)
}
