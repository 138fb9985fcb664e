package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Driver is an interface for database drivers.
type Driver interface {
	GetDB() *sql.DB
	Close() error
	Migrate(ctx context.Context) error

	// User
	CreateUser(ctx context.Context, create *User) (*User, error)
	GetUser(ctx context.Context, find *FindUser) (*User, error)
	UpdateUser(ctx context.Context, update *UpdateUser) (*User, error)

	// Conversation
	CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error)
	GetConversation(ctx context.Context, find *FindConversation) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error)

	// Message
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)

	// Lead
	CreateLead(ctx context.Context, create *Lead) (*Lead, error)
	GetLead(ctx context.Context, find *FindLead) (*Lead, error)
	ListLeads(ctx context.Context, find *FindLead) ([]*Lead, error)
	UpdateLead(ctx context.Context, update *UpdateLead) (*Lead, error)

	// Prompt
	GetPrompt(ctx context.Context, find *FindPrompt) (*Prompt, error)
	ListPrompts(ctx context.Context, find *FindPrompt) ([]*Prompt, error)
	// CreatePromptVersion inserts a new active version and deactivates the
	// previous active version of the same name in one transaction.
	CreatePromptVersion(ctx context.Context, name, content, role string) (*Prompt, error)

	// LLM settings
	GetLLMSetting(ctx context.Context, find *FindLLMSetting) (*LLMSetting, error)
	// ActivateLLMSetting makes the given provider the single active setting.
	ActivateLLMSetting(ctx context.Context, providerID, config string) (*LLMSetting, error)

	// Usage statistics
	UpsertUsage(ctx context.Context, delta *UsageDelta) (*UsageStatistics, error)
	ListUsage(ctx context.Context, find *FindUsageStatistics) ([]*UsageStatistics, error)

	// Catalog versions and products
	CreateCatalogVersion(ctx context.Context, create *CatalogVersion) (*CatalogVersion, error)
	GetCatalogVersion(ctx context.Context, find *FindCatalogVersion) (*CatalogVersion, error)
	UpdateCatalogVersion(ctx context.Context, update *UpdateCatalogVersion) (*CatalogVersion, error)
	// ActivateCatalogVersion atomically promotes a building version to
	// active and displaces the previous active version to superseded.
	ActivateCatalogVersion(ctx context.Context, versionName string) (*CatalogVersion, error)
	CreateProducts(ctx context.Context, products []*Product) error
	ListProducts(ctx context.Context, find *FindProduct) ([]*Product, error)
	UpsertProductEmbeddings(ctx context.Context, embeddings []*ProductEmbedding) error
	ListProductEmbeddings(ctx context.Context, find *FindProductEmbedding) ([]*ProductEmbedding, error)

	// Company knowledge
	CreateCompanyService(ctx context.Context, create *CompanyService) (*CompanyService, error)
	ListCompanyServices(ctx context.Context, find *FindCompanyService) ([]*CompanyService, error)
	GetActiveCompanyInfo(ctx context.Context) (*CompanyInfo, error)
	UpsertCompanyInfo(ctx context.Context, info *CompanyInfo) (*CompanyInfo, error)

	// System log
	CreateSystemLog(ctx context.Context, create *SystemLog) (*SystemLog, error)
	ListSystemLogs(ctx context.Context, find *FindSystemLog) ([]*SystemLog, error)
}
