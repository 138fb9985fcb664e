// Package costguard tracks monthly LLM spend against configured limits.
// Every provider call is rolled up per provider/model/month; crossing the
// alert threshold notifies the operators once per calendar month, and
// crossing the hard limit can disable AI traffic entirely until an
// operator intervenes or a new month begins.
package costguard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/ai/llm"
	"github.com/krapivin/consultbot/internal/hybridlog"
	"github.com/krapivin/consultbot/internal/profile"
	"github.com/krapivin/consultbot/store"
)

// Notifier delivers the weekly usage digest; the Telegram admin notifier
// satisfies it. Threshold and limit alerts do not go through it, they are
// emitted as CRITICAL log records instead.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Store is the usage subset of the data layer.
type Store interface {
	UpsertUsage(ctx context.Context, delta *store.UsageDelta) (*store.UsageStatistics, error)
	ListUsage(ctx context.Context, find *store.FindUsageStatistics) ([]*store.UsageStatistics, error)
}

// Default USD prices per 1k tokens. Operators adjust real prices through
// SetPrice; these keep projections non-zero out of the box.
var defaultPrices = map[string]float64{
	"openai/gpt-4o-mini":            0.000375,
	"openai/gpt-4o":                 0.00625,
	"openai/text-embedding-3-small": 0.00002,
	"yandex/yandexgpt-lite":         0.0002,
	"yandex/yandexgpt":              0.0012,
}

// Guard implements llm.CostController.
type Guard struct {
	profile  *profile.Profile
	store    Store
	notifier Notifier
	logger   *hybridlog.Logger

	tripped       atomic.Bool
	trippedPeriod atomic.Int64 // period the kill switch was engaged in
	alertedPeriod atomic.Int64 // period a threshold alert was sent for
	limitPeriod   atomic.Int64 // period a limit-exceeded alert was sent for

	mu     sync.RWMutex
	prices map[string]float64

	now func() time.Time
}

func NewGuard(p *profile.Profile, s Store, n Notifier, logger *hybridlog.Logger) *Guard {
	prices := make(map[string]float64, len(defaultPrices))
	for k, v := range defaultPrices {
		prices[k] = v
	}
	return &Guard{
		profile:  p,
		store:    s,
		notifier: n,
		logger:   logger,
		prices:   prices,
		now:      time.Now,
	}
}

// SetPrice overrides the USD price per 1k tokens for provider/model.
func (g *Guard) SetPrice(provider, model string, pricePer1K float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[provider+"/"+model] = pricePer1K
}

func (g *Guard) price(provider, model string) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.prices[provider+"/"+model]
}

func (g *Guard) period() int64 {
	now := g.now().UTC()
	return int64(now.Year())*100 + int64(now.Month())
}

// Allow returns llm.ErrCostLimitExceeded while the kill switch is
// engaged. A new calendar month clears the switch automatically since it
// starts a fresh budget.
func (g *Guard) Allow(_ context.Context) error {
	if !g.tripped.Load() {
		return nil
	}
	if g.trippedPeriod.Load() != g.period() {
		g.tripped.Store(false)
		return nil
	}
	return llm.ErrCostLimitExceeded
}

// Tripped reports whether AI traffic is currently blocked.
func (g *Guard) Tripped() bool {
	return g.tripped.Load() && g.trippedPeriod.Load() == g.period()
}

// Reset clears the kill switch. Operator action; usage keeps counting.
func (g *Guard) Reset() {
	g.tripped.Store(false)
}

// Record rolls one call's tokens into the monthly statistics and
// re-evaluates the limits. Failures are logged, never surfaced: losing a
// usage row must not fail the conversation turn.
func (g *Guard) Record(ctx context.Context, provider, model string, usage *llm.TokenUsage) {
	if usage == nil || usage.TotalTokens == 0 {
		return
	}
	now := g.now().UTC()
	_, err := g.store.UpsertUsage(ctx, &store.UsageDelta{
		Provider:         provider,
		Model:            model,
		Year:             now.Year(),
		Month:            int(now.Month()),
		PromptTokens:     int64(usage.PromptTokens),
		CompletionTokens: int64(usage.CompletionTokens),
		PricePer1K:       g.price(provider, model),
		Currency:         "USD",
	})
	if err != nil {
		return
	}
	g.evaluate(ctx)
}

// Summary is the current month's aggregate position.
type Summary struct {
	Year        int
	Month       int
	TotalTokens int64
	TotalCost   float64
	TokenShare  float64 // fraction of the monthly token limit used
	CostShare   float64 // fraction of the monthly cost limit used
}

// MonthlySummary aggregates the current month across providers.
func (g *Guard) MonthlySummary(ctx context.Context) (*Summary, error) {
	now := g.now().UTC()
	year, month := now.Year(), int(now.Month())
	rows, err := g.store.ListUsage(ctx, &store.FindUsageStatistics{Year: &year, Month: &month})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list usage")
	}
	s := &Summary{Year: year, Month: month}
	for _, row := range rows {
		s.TotalTokens += row.TotalTokens
		s.TotalCost += float64(row.TotalTokens) / 1000 * row.PricePer1K
	}
	if g.profile.MonthlyTokenLimit > 0 {
		s.TokenShare = float64(s.TotalTokens) / float64(g.profile.MonthlyTokenLimit)
	}
	if g.profile.MonthlyCostLimitUSD > 0 {
		s.CostShare = s.TotalCost / g.profile.MonthlyCostLimitUSD
	}
	return s, nil
}

func (g *Guard) evaluate(ctx context.Context) {
	summary, err := g.MonthlySummary(ctx)
	if err != nil {
		return
	}
	share := summary.TokenShare
	if summary.CostShare > share {
		share = summary.CostShare
	}
	period := g.period()

	// The kill switch depends on AUTO_DISABLE_ON_LIMIT alone;
	// COST_ALERT_ENABLED only silences the operator alerts.
	if share >= 1 {
		if g.profile.AutoDisableOnLimit {
			g.trippedPeriod.Store(period)
			g.tripped.Store(true)
		}
		if g.profile.CostAlertEnabled && g.limitPeriod.Swap(period) != period {
			g.critical(limitExceededMessage(g.profile, summary))
		}
		return
	}
	if share >= g.profile.CostAlertThreshold {
		if g.profile.CostAlertEnabled && g.alertedPeriod.Swap(period) != period {
			g.critical(thresholdMessage(g.profile, summary))
		}
	}
}

// critical routes a budget alert through the hybrid logger: the record is
// persisted to system_log and fanned out to every alert channel. The
// once-per-month dedupe stays in evaluate.
func (g *Guard) critical(message string) {
	if g.logger == nil {
		return
	}
	g.logger.Critical(message)
}

// WeeklyReport renders the usage digest sent to operators by the cron
// schedule when WEEKLY_USAGE_REPORT is enabled.
func (g *Guard) WeeklyReport(ctx context.Context) (string, error) {
	summary, err := g.MonthlySummary(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"Еженедельный отчёт об использовании AI за %04d-%02d\n"+
			"Токены: %d / %d (%.1f%%)\n"+
			"Расходы: $%.2f / $%.2f (%.1f%%)",
		summary.Year, summary.Month,
		summary.TotalTokens, g.profile.MonthlyTokenLimit, summary.TokenShare*100,
		summary.TotalCost, g.profile.MonthlyCostLimitUSD, summary.CostShare*100,
	), nil
}

// SendWeeklyReport delivers the digest; wired to the scheduler.
func (g *Guard) SendWeeklyReport(ctx context.Context) error {
	if !g.profile.WeeklyUsageReport {
		return nil
	}
	report, err := g.WeeklyReport(ctx)
	if err != nil {
		return err
	}
	if g.notifier == nil {
		return nil
	}
	return g.notifier.Notify(ctx, report)
}

func thresholdMessage(p *profile.Profile, s *Summary) string {
	return fmt.Sprintf(
		"Предупреждение о расходах на AI за %04d-%02d\n"+
			"Порог алерта: %d%%\n"+
			"Токены: %d / %d (%.1f%%)\n"+
			"Расходы: $%.2f / $%.2f (%.1f%%)",
		s.Year, s.Month,
		int(p.CostAlertThreshold*100),
		s.TotalTokens, p.MonthlyTokenLimit, s.TokenShare*100,
		s.TotalCost, p.MonthlyCostLimitUSD, s.CostShare*100,
	)
}

func limitExceededMessage(p *profile.Profile, s *Summary) string {
	msg := fmt.Sprintf(
		"Месячный лимит расходов на AI превышен (%04d-%02d)\n"+
			"Токены: %d / %d (%.1f%%)\n"+
			"Расходы: $%.2f / $%.2f (%.1f%%)",
		s.Year, s.Month,
		s.TotalTokens, p.MonthlyTokenLimit, s.TokenShare*100,
		s.TotalCost, p.MonthlyCostLimitUSD, s.CostShare*100,
	)
	if p.AutoDisableOnLimit {
		msg += "\nAI-запросы отключены до конца месяца или сброса оператором."
	}
	return msg
}
