package store

import "time"

// LLMSetting selects and configures an LLM provider. At most one setting
// is active at any time; the active one drives gateway provider selection.
type LLMSetting struct {
	ID         int64
	ProviderID string // "openai" or "yandex"
	Config     string // JSON: model, temperature, base_url overrides
	IsActive   bool
	UpdatedAt  time.Time
}

type FindLLMSetting struct {
	ProviderID *string
	IsActive   *bool
}
