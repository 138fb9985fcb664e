// Package prompt is the versioned prompt registry. Prompt texts live in
// the database so operators can tune them without a deploy; an in-memory
// snapshot serves reads so a conversation turn never waits on the store.
package prompt

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/store"
)

// Registered prompt names.
const (
	NameSystem                = "system_prompt"
	NameProductSearch         = "product_search_prompt"
	NameServiceAnswer         = "service_answer_prompt"
	NameCompanyInfo           = "company_info_prompt"
	NameGeneralConversation   = "general_conversation_prompt"
	NameLeadQualification     = "lead_qualification_prompt"
	NameClassification        = "classification_prompt"
	NameSearchQueryExtraction = "search_query_extraction_prompt"
)

// Store is the subset of the data layer the registry needs.
type Store interface {
	GetActivePrompt(ctx context.Context, name string) (*store.Prompt, error)
	ListPrompts(ctx context.Context, find *store.FindPrompt) ([]*store.Prompt, error)
	CreatePromptVersion(ctx context.Context, name, content, role string) (*store.Prompt, error)
}

// Registry serves active prompt texts from an atomic snapshot.
type Registry struct {
	store    Store
	snapshot atomic.Pointer[map[string]string]
}

// NewRegistry creates a registry backed by s. Call Load before serving.
func NewRegistry(s Store) *Registry {
	r := &Registry{store: s}
	empty := map[string]string{}
	r.snapshot.Store(&empty)
	return r
}

// Load seeds missing defaults and builds the snapshot. Run at startup.
func (r *Registry) Load(ctx context.Context) error {
	for name, content := range defaults {
		_, err := r.store.GetActivePrompt(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return errors.Wrapf(err, "failed to check prompt %s", name)
		}
		if _, err := r.store.CreatePromptVersion(ctx, name, content, "system"); err != nil {
			return errors.Wrapf(err, "failed to seed prompt %s", name)
		}
	}
	return r.Reload(ctx)
}

// Reload replaces the snapshot with the current active versions.
func (r *Registry) Reload(ctx context.Context) error {
	active := true
	prompts, err := r.store.ListPrompts(ctx, &store.FindPrompt{Active: &active})
	if err != nil {
		return errors.Wrap(err, "failed to list prompts")
	}
	snapshot := make(map[string]string, len(prompts))
	for _, p := range prompts {
		snapshot[p.Name] = p.Content
	}
	r.snapshot.Store(&snapshot)
	return nil
}

// Get returns the active text for name. Unknown names fall back to the
// compiled-in default so a half-migrated database cannot break a turn.
func (r *Registry) Get(name string) string {
	if content, ok := (*r.snapshot.Load())[name]; ok {
		return content
	}
	return defaults[name]
}

// Put persists a new active version and refreshes the snapshot entry.
func (r *Registry) Put(ctx context.Context, name, content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("prompt content must not be empty")
	}
	if _, err := r.store.CreatePromptVersion(ctx, name, content, "system"); err != nil {
		return errors.Wrapf(err, "failed to store prompt %s", name)
	}
	old := *r.snapshot.Load()
	snapshot := make(map[string]string, len(old)+1)
	for k, v := range old {
		snapshot[k] = v
	}
	snapshot[name] = content
	r.snapshot.Store(&snapshot)
	return nil
}

// Render substitutes {key} placeholders in the named prompt.
func (r *Registry) Render(name string, vars map[string]string) string {
	content := r.Get(name)
	for key, value := range vars {
		content = strings.ReplaceAll(content, "{"+key+"}", value)
	}
	return content
}
