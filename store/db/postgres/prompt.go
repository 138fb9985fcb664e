package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/store"
)

func promptWhere(find *store.FindPrompt) ([]string, []any) {
	where, args := []string{"1 = 1"}, []any{}
	if find.Name != nil {
		where, args = append(where, "name = "+placeholder(len(args)+1)), append(args, *find.Name)
	}
	if find.Active != nil {
		where, args = append(where, "active = "+placeholder(len(args)+1)), append(args, *find.Active)
	}
	return where, args
}

func (d *DB) GetPrompt(ctx context.Context, find *store.FindPrompt) (*store.Prompt, error) {
	where, args := promptWhere(find)
	query := `
		SELECT id, name, content, version, role, active, created_at
		FROM prompt
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY version DESC
		LIMIT 1
	`
	var p store.Prompt
	err := d.db.QueryRowContext(ctx, query, args...).Scan(
		&p.ID, &p.Name, &p.Content, &p.Version, &p.Role, &p.Active, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get prompt")
	}
	return &p, nil
}

func (d *DB) ListPrompts(ctx context.Context, find *store.FindPrompt) ([]*store.Prompt, error) {
	where, args := promptWhere(find)
	query := `
		SELECT id, name, content, version, role, active, created_at
		FROM prompt
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY name ASC, version DESC
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list prompts")
	}
	defer rows.Close()

	list := []*store.Prompt{}
	for rows.Next() {
		var p store.Prompt
		if err := rows.Scan(&p.ID, &p.Name, &p.Content, &p.Version, &p.Role, &p.Active, &p.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan prompt")
		}
		list = append(list, &p)
	}
	return list, rows.Err()
}

// CreatePromptVersion deactivates the current active version of name and
// inserts the next version as active, in one transaction. The partial
// unique index on (name) WHERE active makes a torn state impossible.
func (d *DB) CreatePromptVersion(ctx context.Context, name, content, role string) (*store.Prompt, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE prompt SET active = FALSE WHERE name = $1 AND active`, name); err != nil {
		return nil, errors.Wrap(err, "failed to deactivate prompt")
	}

	var p store.Prompt
	err = tx.QueryRowContext(ctx, `
		INSERT INTO prompt (name, content, version, role, active)
		VALUES ($1, $2, COALESCE((SELECT MAX(version) FROM prompt WHERE name = $1), 0) + 1, $3, TRUE)
		RETURNING id, name, content, version, role, active, created_at
	`, name, content, role).Scan(
		&p.ID, &p.Name, &p.Content, &p.Version, &p.Role, &p.Active, &p.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert prompt version")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit prompt version")
	}
	return &p, nil
}

func (d *DB) GetLLMSetting(ctx context.Context, find *store.FindLLMSetting) (*store.LLMSetting, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ProviderID != nil {
		where, args = append(where, "provider_id = "+placeholder(len(args)+1)), append(args, *find.ProviderID)
	}
	if find.IsActive != nil {
		where, args = append(where, "is_active = "+placeholder(len(args)+1)), append(args, *find.IsActive)
	}
	query := `
		SELECT id, provider_id, config, is_active, updated_at
		FROM llm_setting
		WHERE ` + strings.Join(where, " AND ") + `
		LIMIT 1
	`
	var s store.LLMSetting
	err := d.db.QueryRowContext(ctx, query, args...).Scan(
		&s.ID, &s.ProviderID, &s.Config, &s.IsActive, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get llm setting")
	}
	return &s, nil
}

// ActivateLLMSetting makes providerID the single active setting.
func (d *DB) ActivateLLMSetting(ctx context.Context, providerID, config string) (*store.LLMSetting, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE llm_setting SET is_active = FALSE WHERE is_active`); err != nil {
		return nil, errors.Wrap(err, "failed to deactivate llm settings")
	}

	if config == "" {
		config = "{}"
	}
	var s store.LLMSetting
	err = tx.QueryRowContext(ctx, `
		INSERT INTO llm_setting (provider_id, config, is_active, updated_at)
		VALUES ($1, $2, TRUE, now())
		ON CONFLICT (provider_id)
		DO UPDATE SET config = EXCLUDED.config, is_active = TRUE, updated_at = now()
		RETURNING id, provider_id, config, is_active, updated_at
	`, providerID, config).Scan(&s.ID, &s.ProviderID, &s.Config, &s.IsActive, &s.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to activate llm setting")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit llm setting")
	}
	return &s, nil
}
