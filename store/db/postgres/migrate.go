package postgres

import (
	"context"

	"github.com/pkg/errors"
)

// Migrate applies the schema. Statements are idempotent so the migration
// can run on every startup.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range migrationStatements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to execute migration: %.80s", stmt)
		}
	}
	return nil
}

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS "user" (
		id BIGSERIAL PRIMARY KEY,
		chat_id TEXT NOT NULL UNIQUE,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS conversation (
		id BIGSERIAL PRIMARY KEY,
		chat_id TEXT NOT NULL,
		platform TEXT NOT NULL DEFAULT 'TG',
		status TEXT NOT NULL DEFAULT 'open',
		started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		ended_at TIMESTAMPTZ,
		last_activity TIMESTAMPTZ NOT NULL DEFAULT now(),
		metadata TEXT NOT NULL DEFAULT '{}'
	)`,
	// At most one open conversation per chat_id.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversation_open
		ON conversation (chat_id) WHERE status = 'open'`,
	`CREATE TABLE IF NOT EXISTS message (
		id BIGSERIAL PRIMARY KEY,
		conversation_id BIGINT NOT NULL REFERENCES conversation (id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_message_conversation
		ON message (conversation_id, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS lead (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES "user" (id),
		chat_id TEXT NOT NULL,
		conversation_id BIGINT REFERENCES conversation (id),
		last_name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		whatsapp TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		question TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT 'TG',
		status TEXT NOT NULL DEFAULT 'pending_sync',
		sync_attempts INT NOT NULL DEFAULT 0 CHECK (sync_attempts <= 2),
		last_attempt_at TIMESTAMPTZ,
		crm_id TEXT NOT NULL DEFAULT '',
		auto_created BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (phone <> '' OR email <> ''),
		CHECK (status <> 'synced' OR crm_id <> '')
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lead_status ON lead (status, sync_attempts)`,
	`CREATE TABLE IF NOT EXISTS prompt (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		content TEXT NOT NULL,
		version INT NOT NULL,
		role TEXT NOT NULL DEFAULT 'system',
		active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (name, version)
	)`,
	// Exactly one active version per name.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_prompt_active
		ON prompt (name) WHERE active`,
	`CREATE TABLE IF NOT EXISTS llm_setting (
		id BIGSERIAL PRIMARY KEY,
		provider_id TEXT NOT NULL UNIQUE,
		config TEXT NOT NULL DEFAULT '{}',
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_llm_setting_active
		ON llm_setting ((TRUE)) WHERE is_active`,
	`CREATE TABLE IF NOT EXISTS usage_statistics (
		id BIGSERIAL PRIMARY KEY,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		year INT NOT NULL,
		month INT NOT NULL,
		prompt_tokens BIGINT NOT NULL DEFAULT 0,
		completion_tokens BIGINT NOT NULL DEFAULT 0,
		total_tokens BIGINT NOT NULL DEFAULT 0,
		price_per_1k DOUBLE PRECISION NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'USD',
		UNIQUE (provider, model, year, month)
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_version (
		id BIGSERIAL PRIMARY KEY,
		version_name TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'building',
		total_rows INT NOT NULL DEFAULT 0,
		indexed_rows INT NOT NULL DEFAULT 0,
		source_file TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		activated_at TIMESTAMPTZ
	)`,
	// At most one active catalog version.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_catalog_version_active
		ON catalog_version ((TRUE)) WHERE status = 'active'`,
	`CREATE TABLE IF NOT EXISTS product (
		id TEXT NOT NULL,
		catalog_version TEXT NOT NULL REFERENCES catalog_version (version_name) ON DELETE CASCADE,
		product_name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category_1 TEXT NOT NULL,
		category_2 TEXT NOT NULL DEFAULT '',
		category_3 TEXT NOT NULL DEFAULT '',
		article TEXT NOT NULL,
		photo_url TEXT NOT NULL DEFAULT '',
		page_url TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (id, catalog_version)
	)`,
	`CREATE TABLE IF NOT EXISTS product_embedding (
		product_id TEXT NOT NULL,
		catalog_version TEXT NOT NULL,
		model TEXT NOT NULL,
		embedding vector,
		PRIMARY KEY (product_id, catalog_version, model),
		FOREIGN KEY (product_id, catalog_version)
			REFERENCES product (id, catalog_version) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS company_service (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		keywords TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS company_info (
		id BIGSERIAL PRIMARY KEY,
		content TEXT NOT NULL,
		original_filename TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS system_log (
		id BIGSERIAL PRIMARY KEY,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		correlation_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_system_log_level
		ON system_log (level, created_at)`,
}
