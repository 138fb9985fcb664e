package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/store"
)

const leadColumns = `id, user_id, chat_id, conversation_id, last_name, phone, email, whatsapp,
	company, question, source, status, sync_attempts, last_attempt_at, crm_id, auto_created,
	created_at, updated_at`

func (d *DB) CreateLead(ctx context.Context, create *store.Lead) (*store.Lead, error) {
	stmt := `
		INSERT INTO lead (user_id, chat_id, conversation_id, last_name, phone, email, whatsapp,
			company, question, source, status, auto_created)
		VALUES (` + placeholders(12) + `)
		RETURNING id, created_at, updated_at
	`
	err := d.db.QueryRowContext(ctx, stmt,
		create.UserID,
		create.ChatID,
		create.ConversationID,
		create.LastName,
		create.Phone,
		create.Email,
		create.Whatsapp,
		create.Company,
		create.Question,
		create.Source,
		create.Status,
		create.AutoCreated,
	).Scan(&create.ID, &create.CreatedAt, &create.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create lead")
	}
	return create, nil
}

func leadWhere(find *store.FindLead) ([]string, []any) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.ChatID != nil {
		where, args = append(where, "chat_id = "+placeholder(len(args)+1)), append(args, *find.ChatID)
	}
	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *find.ConversationID)
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, *find.Status)
	}
	if find.AutoCreated != nil {
		where, args = append(where, "auto_created = "+placeholder(len(args)+1)), append(args, *find.AutoCreated)
	}
	if find.SyncAttemptsBelow != nil {
		where, args = append(where, "sync_attempts < "+placeholder(len(args)+1)), append(args, *find.SyncAttemptsBelow)
	}
	if find.LastAttemptBefore != nil {
		where, args = append(where,
			"(last_attempt_at IS NULL OR last_attempt_at < "+placeholder(len(args)+1)+")"),
			append(args, *find.LastAttemptBefore)
	}
	return where, args
}

func scanLead(row interface{ Scan(...any) error }) (*store.Lead, error) {
	var lead store.Lead
	err := row.Scan(
		&lead.ID,
		&lead.UserID,
		&lead.ChatID,
		&lead.ConversationID,
		&lead.LastName,
		&lead.Phone,
		&lead.Email,
		&lead.Whatsapp,
		&lead.Company,
		&lead.Question,
		&lead.Source,
		&lead.Status,
		&lead.SyncAttempts,
		&lead.LastAttemptAt,
		&lead.CRMID,
		&lead.AutoCreated,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

func (d *DB) GetLead(ctx context.Context, find *store.FindLead) (*store.Lead, error) {
	where, args := leadWhere(find)
	query := `
		SELECT ` + leadColumns + `
		FROM lead
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC
		LIMIT 1
	`
	lead, err := scanLead(d.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get lead")
	}
	return lead, nil
}

func (d *DB) ListLeads(ctx context.Context, find *store.FindLead) ([]*store.Lead, error) {
	where, args := leadWhere(find)
	query := `
		SELECT ` + leadColumns + `
		FROM lead
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at ASC
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list leads")
	}
	defer rows.Close()

	list := []*store.Lead{}
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan lead")
		}
		list = append(list, lead)
	}
	return list, rows.Err()
}

func (d *DB) UpdateLead(ctx context.Context, update *store.UpdateLead) (*store.Lead, error) {
	set, args := []string{}, []any{}
	if update.LastName != nil {
		set, args = append(set, "last_name = "+placeholder(len(args)+1)), append(args, *update.LastName)
	}
	if update.Phone != nil {
		set, args = append(set, "phone = "+placeholder(len(args)+1)), append(args, *update.Phone)
	}
	if update.Email != nil {
		set, args = append(set, "email = "+placeholder(len(args)+1)), append(args, *update.Email)
	}
	if update.Whatsapp != nil {
		set, args = append(set, "whatsapp = "+placeholder(len(args)+1)), append(args, *update.Whatsapp)
	}
	if update.Company != nil {
		set, args = append(set, "company = "+placeholder(len(args)+1)), append(args, *update.Company)
	}
	if update.Question != nil {
		set, args = append(set, "question = "+placeholder(len(args)+1)), append(args, *update.Question)
	}
	if update.Status != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, *update.Status)
	}
	if update.SyncAttempts != nil {
		set, args = append(set, "sync_attempts = "+placeholder(len(args)+1)), append(args, *update.SyncAttempts)
	}
	if update.LastAttemptAt != nil {
		set, args = append(set, "last_attempt_at = "+placeholder(len(args)+1)), append(args, *update.LastAttemptAt)
	}
	if update.CRMID != nil {
		set, args = append(set, "crm_id = "+placeholder(len(args)+1)), append(args, *update.CRMID)
	}
	set, args = append(set, "updated_at = "+placeholder(len(args)+1)), append(args, time.Now().UTC())
	args = append(args, update.ID)

	stmt := `
		UPDATE lead
		SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)) + `
		RETURNING ` + leadColumns
	lead, err := scanLead(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to update lead")
	}
	return lead, nil
}
