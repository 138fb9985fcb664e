package store

// UsageStatistics is a monthly token rollup per (provider, model).
// Only the rollup row is mutable; individual calls are not stored.
type UsageStatistics struct {
	ID               int64
	Provider         string
	Model            string
	Year             int
	Month            int
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	PricePer1K       float64
	Currency         string
}

// UsageDelta is one completed LLM call handed to the rollup.
type UsageDelta struct {
	Provider         string
	Model            string
	Year             int
	Month            int
	PromptTokens     int64
	CompletionTokens int64
	PricePer1K       float64
	Currency         string
}

type FindUsageStatistics struct {
	Year  *int
	Month *int
}
