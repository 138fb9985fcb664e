package sqlite

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
	`CREATE TABLE IF NOT EXISTS user (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id TEXT NOT NULL UNIQUE,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS conversation (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id TEXT NOT NULL,
		platform TEXT NOT NULL DEFAULT 'TG',
		status TEXT NOT NULL DEFAULT 'open',
		started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		ended_at DATETIME,
		last_activity DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		metadata TEXT NOT NULL DEFAULT '{}'
	)`,
	// At most one open conversation per chat_id.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversation_open
		ON conversation (chat_id) WHERE status = 'open'`,
	`CREATE TABLE IF NOT EXISTS message (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL REFERENCES conversation (id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_message_conversation
		ON message (conversation_id, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS lead (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES user (id),
		chat_id TEXT NOT NULL,
		conversation_id INTEGER REFERENCES conversation (id),
		last_name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		whatsapp TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		question TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT 'TG',
		status TEXT NOT NULL DEFAULT 'pending_sync',
		sync_attempts INTEGER NOT NULL DEFAULT 0 CHECK (sync_attempts <= 2),
		last_attempt_at DATETIME,
		crm_id TEXT NOT NULL DEFAULT '',
		auto_created BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CHECK (phone <> '' OR email <> ''),
		CHECK (status <> 'synced' OR crm_id <> '')
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lead_status ON lead (status, sync_attempts)`,
	`CREATE TABLE IF NOT EXISTS prompt (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		content TEXT NOT NULL,
		version INTEGER NOT NULL,
		role TEXT NOT NULL DEFAULT 'system',
		active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (name, version)
	)`,
	// Exactly one active version per name.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_prompt_active
		ON prompt (name) WHERE active`,
	`CREATE TABLE IF NOT EXISTS llm_setting (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider_id TEXT NOT NULL UNIQUE,
		config TEXT NOT NULL DEFAULT '{}',
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_llm_setting_active
		ON llm_setting (is_active) WHERE is_active`,
	`CREATE TABLE IF NOT EXISTS usage_statistics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		price_per_1k REAL NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'USD',
		UNIQUE (provider, model, year, month)
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_version (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version_name TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'building',
		total_rows INTEGER NOT NULL DEFAULT 0,
		indexed_rows INTEGER NOT NULL DEFAULT 0,
		source_file TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		activated_at DATETIME
	)`,
	// At most one active catalog version.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_catalog_version_active
		ON catalog_version (status) WHERE status = 'active'`,
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
	// Vectors are little-endian float32 BLOBs; similarity is computed in Go.
	`CREATE TABLE IF NOT EXISTS product_embedding (
		product_id TEXT NOT NULL,
		catalog_version TEXT NOT NULL,
		model TEXT NOT NULL,
		embedding BLOB NOT NULL,
		PRIMARY KEY (product_id, catalog_version, model),
		FOREIGN KEY (product_id, catalog_version)
			REFERENCES product (id, catalog_version) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS company_service (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		keywords TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS company_info (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		original_filename TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS system_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		correlation_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_system_log_level
		ON system_log (level, created_at)`,
}
