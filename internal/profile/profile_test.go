package profile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validProfile(t *testing.T) *Profile {
	t.Helper()
	dir := t.TempDir()
	return &Profile{
		Mode:                    "dev",
		Driver:                  "sqlite",
		DSN:                     filepath.Join(dir, "test.db"),
		DefaultLLMProvider:      "openai",
		ChromaPersistDir:        filepath.Join(dir, "chroma"),
		UploadDir:               filepath.Join(dir, "uploads"),
		SearchMinScore:          0.45,
		SearchNameBoost:         0.20,
		SearchArticleBoost:      0.30,
		SearchMaxResults:        10,
		CostAlertThreshold:      0.8,
		LeadInactivityThreshold: 120,
	}
}

func TestValidate(t *testing.T) {
	p := validProfile(t)
	require.NoError(t, p.Validate())
}

func TestValidateSearchRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Profile)
	}{
		{"min score above one", func(p *Profile) { p.SearchMinScore = 1.5 }},
		{"negative name boost", func(p *Profile) { p.SearchNameBoost = -0.1 }},
		{"article boost above half", func(p *Profile) { p.SearchArticleBoost = 0.6 }},
		{"article boost not above name boost", func(p *Profile) { p.SearchArticleBoost = 0.2 }},
		{"zero max results", func(p *Profile) { p.SearchMaxResults = 0 }},
		{"max results above twenty", func(p *Profile) { p.SearchMaxResults = 21 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProfile(t)
			tt.mutate(p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	p := validProfile(t)
	p.DefaultLLMProvider = "gemini"
	assert.Error(t, p.Validate())
}

func TestFromEnvDefaults(t *testing.T) {
	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "openai", p.DefaultLLMProvider)
	assert.Equal(t, 0.45, p.SearchMinScore)
	assert.Equal(t, 0.20, p.SearchNameBoost)
	assert.Equal(t, 0.30, p.SearchArticleBoost)
	assert.Equal(t, 10, p.SearchMaxResults)
	assert.Equal(t, 120, p.LeadInactivityThreshold)
	assert.Equal(t, 0.8, p.CostAlertThreshold)
	assert.True(t, p.CostAlertEnabled)
	assert.False(t, p.AutoDisableOnLimit)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SEARCH_MIN_SCORE", "0.6")
	t.Setenv("SEARCH_MAX_RESULTS", "5")
	t.Setenv("AUTO_DISABLE_ON_LIMIT", "true")
	t.Setenv("DISABLE_TELEGRAM_BOT", "1")
	t.Setenv("MONTHLY_TOKEN_LIMIT", "500000")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, 0.6, p.SearchMinScore)
	assert.Equal(t, 5, p.SearchMaxResults)
	assert.True(t, p.AutoDisableOnLimit)
	assert.True(t, p.DisableTelegramBot)
	assert.Equal(t, int64(500000), p.MonthlyTokenLimit)
}

func TestAdminTelegramIDList(t *testing.T) {
	p := &Profile{AdminTelegramIDs: "123, 456,, 789"}
	assert.Equal(t, []int64{123, 456, 789}, p.AdminTelegramIDList())

	p = &Profile{AdminTelegramIDs: ""}
	assert.Nil(t, p.AdminTelegramIDList())
}

func TestManagerEmailList(t *testing.T) {
	p := &Profile{ManagerEmails: "a@example.com, b@example.com"}
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, p.ManagerEmailList())
}
