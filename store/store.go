// Package store provides database access to all raw objects.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/internal/profile"
	"github.com/krapivin/consultbot/store/cache"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	userCache   *cache.Cache // users by chat_id
	promptCache *cache.Cache // active prompts by name
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	cacheConfig := cache.Config{
		DefaultTTL:      10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		MaxItems:        1000,
	}
	return &Store{
		driver:      driver,
		profile:     profile,
		userCache:   cache.New(cacheConfig),
		promptCache: cache.New(cacheConfig),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	s.userCache.Close()
	s.promptCache.Close()
	return s.driver.Close()
}

// GetOrCreateUser returns the user for chat_id, creating it on first
// inbound message.
func (s *Store) GetOrCreateUser(ctx context.Context, chatID string, create *User) (*User, error) {
	if v, ok := s.userCache.Get(chatID); ok {
		return v.(*User), nil
	}
	user, err := s.driver.GetUser(ctx, &FindUser{ChatID: &chatID})
	if err == nil {
		s.userCache.Set(chatID, user)
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if create == nil {
		create = &User{}
	}
	create.ChatID = chatID
	user, err = s.driver.CreateUser(ctx, create)
	if err != nil {
		return nil, err
	}
	s.userCache.Set(chatID, user)
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, find *FindUser) (*User, error) {
	return s.driver.GetUser(ctx, find)
}

func (s *Store) UpdateUser(ctx context.Context, update *UpdateUser) (*User, error) {
	user, err := s.driver.UpdateUser(ctx, update)
	if err != nil {
		return nil, err
	}
	s.userCache.Delete(user.ChatID)
	return user, nil
}

// OpenOrGetConversation returns the open conversation for chat_id,
// starting a new one when none is open.
func (s *Store) OpenOrGetConversation(ctx context.Context, chatID, platform string) (*Conversation, error) {
	open := ConversationOpen
	conv, err := s.driver.GetConversation(ctx, &FindConversation{ChatID: &chatID, Status: &open})
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	now := time.Now().UTC()
	return s.driver.CreateConversation(ctx, &Conversation{
		ChatID:       chatID,
		Platform:     platform,
		Status:       ConversationOpen,
		StartedAt:    now,
		LastActivity: now,
	})
}

// AppendMessage stores one message and bumps the conversation's last
// activity. The stored history is unbounded; bounding happens at read time.
func (s *Store) AppendMessage(ctx context.Context, create *Message) (*Message, error) {
	msg, err := s.driver.CreateMessage(ctx, create)
	if err != nil {
		return nil, err
	}
	now := msg.CreatedAt
	if _, err := s.driver.UpdateConversation(ctx, &UpdateConversation{
		ID:           create.ConversationID,
		LastActivity: &now,
	}); err != nil {
		return nil, errors.Wrap(err, "failed to bump conversation activity")
	}
	return msg, nil
}

// RecentWindow returns at most the last n messages of a conversation in
// chronological order, for consumption by the LLM.
func (s *Store) RecentWindow(ctx context.Context, conversationID int64, n int) ([]*Message, error) {
	return s.driver.ListMessages(ctx, &FindMessage{ConversationID: &conversationID, LastN: n})
}

// LatestActivity returns the timestamp of the user's most recent message
// activity, used by the inactivity monitor.
func (s *Store) LatestActivity(ctx context.Context, chatID string) (time.Time, error) {
	conv, err := s.driver.GetConversation(ctx, &FindConversation{ChatID: &chatID})
	if err != nil {
		return time.Time{}, err
	}
	return conv.LastActivity, nil
}

func (s *Store) ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error) {
	return s.driver.ListConversations(ctx, find)
}

func (s *Store) UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error) {
	return s.driver.UpdateConversation(ctx, update)
}

// Lead methods.

func (s *Store) CreateLead(ctx context.Context, create *Lead) (*Lead, error) {
	return s.driver.CreateLead(ctx, create)
}

func (s *Store) GetLead(ctx context.Context, find *FindLead) (*Lead, error) {
	return s.driver.GetLead(ctx, find)
}

func (s *Store) ListLeads(ctx context.Context, find *FindLead) ([]*Lead, error) {
	return s.driver.ListLeads(ctx, find)
}

func (s *Store) UpdateLead(ctx context.Context, update *UpdateLead) (*Lead, error) {
	return s.driver.UpdateLead(ctx, update)
}

// Prompt methods. The active version per name is cached; CreatePromptVersion
// invalidates the cache entry.

func (s *Store) GetActivePrompt(ctx context.Context, name string) (*Prompt, error) {
	if v, ok := s.promptCache.Get(name); ok {
		return v.(*Prompt), nil
	}
	active := true
	prompt, err := s.driver.GetPrompt(ctx, &FindPrompt{Name: &name, Active: &active})
	if err != nil {
		return nil, err
	}
	s.promptCache.Set(name, prompt)
	return prompt, nil
}

func (s *Store) ListPrompts(ctx context.Context, find *FindPrompt) ([]*Prompt, error) {
	return s.driver.ListPrompts(ctx, find)
}

func (s *Store) CreatePromptVersion(ctx context.Context, name, content, role string) (*Prompt, error) {
	prompt, err := s.driver.CreatePromptVersion(ctx, name, content, role)
	if err != nil {
		return nil, err
	}
	s.promptCache.Delete(name)
	return prompt, nil
}

// InvalidatePromptCache drops all cached prompts (registry reload).
func (s *Store) InvalidatePromptCache() {
	s.promptCache.Clear()
}

// LLM setting methods.

func (s *Store) GetActiveLLMSetting(ctx context.Context) (*LLMSetting, error) {
	active := true
	return s.driver.GetLLMSetting(ctx, &FindLLMSetting{IsActive: &active})
}

func (s *Store) ActivateLLMSetting(ctx context.Context, providerID, config string) (*LLMSetting, error) {
	return s.driver.ActivateLLMSetting(ctx, providerID, config)
}

// Usage methods.

func (s *Store) UpsertUsage(ctx context.Context, delta *UsageDelta) (*UsageStatistics, error) {
	return s.driver.UpsertUsage(ctx, delta)
}

func (s *Store) ListUsage(ctx context.Context, find *FindUsageStatistics) ([]*UsageStatistics, error) {
	return s.driver.ListUsage(ctx, find)
}

// Catalog methods.

func (s *Store) CreateCatalogVersion(ctx context.Context, create *CatalogVersion) (*CatalogVersion, error) {
	return s.driver.CreateCatalogVersion(ctx, create)
}

func (s *Store) GetCatalogVersion(ctx context.Context, find *FindCatalogVersion) (*CatalogVersion, error) {
	return s.driver.GetCatalogVersion(ctx, find)
}

func (s *Store) UpdateCatalogVersion(ctx context.Context, update *UpdateCatalogVersion) (*CatalogVersion, error) {
	return s.driver.UpdateCatalogVersion(ctx, update)
}

func (s *Store) ActivateCatalogVersion(ctx context.Context, versionName string) (*CatalogVersion, error) {
	return s.driver.ActivateCatalogVersion(ctx, versionName)
}

func (s *Store) CreateProducts(ctx context.Context, products []*Product) error {
	return s.driver.CreateProducts(ctx, products)
}

func (s *Store) ListProducts(ctx context.Context, find *FindProduct) ([]*Product, error) {
	return s.driver.ListProducts(ctx, find)
}

func (s *Store) UpsertProductEmbeddings(ctx context.Context, embeddings []*ProductEmbedding) error {
	return s.driver.UpsertProductEmbeddings(ctx, embeddings)
}

func (s *Store) ListProductEmbeddings(ctx context.Context, find *FindProductEmbedding) ([]*ProductEmbedding, error) {
	return s.driver.ListProductEmbeddings(ctx, find)
}

// Company knowledge methods.

func (s *Store) CreateCompanyService(ctx context.Context, create *CompanyService) (*CompanyService, error) {
	return s.driver.CreateCompanyService(ctx, create)
}

func (s *Store) ListCompanyServices(ctx context.Context, find *FindCompanyService) ([]*CompanyService, error) {
	return s.driver.ListCompanyServices(ctx, find)
}

func (s *Store) GetActiveCompanyInfo(ctx context.Context) (*CompanyInfo, error) {
	return s.driver.GetActiveCompanyInfo(ctx)
}

func (s *Store) UpsertCompanyInfo(ctx context.Context, info *CompanyInfo) (*CompanyInfo, error) {
	return s.driver.UpsertCompanyInfo(ctx, info)
}

// System log methods.

func (s *Store) CreateSystemLog(ctx context.Context, create *SystemLog) (*SystemLog, error) {
	return s.driver.CreateSystemLog(ctx, create)
}

func (s *Store) ListSystemLogs(ctx context.Context, find *FindSystemLog) ([]*SystemLog, error) {
	return s.driver.ListSystemLogs(ctx, find)
}
