package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/store"
)

// UpsertUsage adds one call's token counts to the monthly rollup row.
func (d *DB) UpsertUsage(ctx context.Context, delta *store.UsageDelta) (*store.UsageStatistics, error) {
	stmt := `
		INSERT INTO usage_statistics
			(provider, model, year, month, prompt_tokens, completion_tokens, total_tokens, price_per_1k, currency)
		VALUES (` + placeholders(9) + `)
		ON CONFLICT (provider, model, year, month)
		DO UPDATE SET
			prompt_tokens = usage_statistics.prompt_tokens + EXCLUDED.prompt_tokens,
			completion_tokens = usage_statistics.completion_tokens + EXCLUDED.completion_tokens,
			total_tokens = usage_statistics.total_tokens + EXCLUDED.total_tokens,
			price_per_1k = EXCLUDED.price_per_1k
		RETURNING id, provider, model, year, month, prompt_tokens, completion_tokens, total_tokens, price_per_1k, currency
	`
	total := delta.PromptTokens + delta.CompletionTokens
	var u store.UsageStatistics
	err := d.db.QueryRowContext(ctx, stmt,
		delta.Provider,
		delta.Model,
		delta.Year,
		delta.Month,
		delta.PromptTokens,
		delta.CompletionTokens,
		total,
		delta.PricePer1K,
		delta.Currency,
	).Scan(
		&u.ID, &u.Provider, &u.Model, &u.Year, &u.Month,
		&u.PromptTokens, &u.CompletionTokens, &u.TotalTokens, &u.PricePer1K, &u.Currency,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert usage statistics")
	}
	return &u, nil
}

func (d *DB) ListUsage(ctx context.Context, find *store.FindUsageStatistics) ([]*store.UsageStatistics, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.Year != nil {
		where, args = append(where, "year = "+placeholder(len(args)+1)), append(args, *find.Year)
	}
	if find.Month != nil {
		where, args = append(where, "month = "+placeholder(len(args)+1)), append(args, *find.Month)
	}
	query := `
		SELECT id, provider, model, year, month, prompt_tokens, completion_tokens, total_tokens, price_per_1k, currency
		FROM usage_statistics
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY provider ASC, model ASC
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list usage statistics")
	}
	defer rows.Close()

	list := []*store.UsageStatistics{}
	for rows.Next() {
		var u store.UsageStatistics
		if err := rows.Scan(
			&u.ID, &u.Provider, &u.Model, &u.Year, &u.Month,
			&u.PromptTokens, &u.CompletionTokens, &u.TotalTokens, &u.PricePer1K, &u.Currency,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan usage statistics")
		}
		list = append(list, &u)
	}
	return list, rows.Err()
}
