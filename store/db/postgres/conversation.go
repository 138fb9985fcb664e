package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/store"
)

func (d *DB) CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error) {
	stmt := `
		INSERT INTO conversation (chat_id, platform, status, started_at, last_activity, metadata)
		VALUES (` + placeholders(6) + `)
		RETURNING id
	`
	if create.Metadata == "" {
		create.Metadata = "{}"
	}
	err := d.db.QueryRowContext(ctx, stmt,
		create.ChatID,
		create.Platform,
		create.Status,
		create.StartedAt,
		create.LastActivity,
		create.Metadata,
	).Scan(&create.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create conversation")
	}
	return create, nil
}

func conversationWhere(find *store.FindConversation) ([]string, []any) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.ChatID != nil {
		where, args = append(where, "chat_id = "+placeholder(len(args)+1)), append(args, *find.ChatID)
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, *find.Status)
	}
	if find.LastActivityBefore != nil {
		where, args = append(where, "last_activity < "+placeholder(len(args)+1)), append(args, *find.LastActivityBefore)
	}
	return where, args
}

func (d *DB) GetConversation(ctx context.Context, find *store.FindConversation) (*store.Conversation, error) {
	where, args := conversationWhere(find)
	query := `
		SELECT id, chat_id, platform, status, started_at, ended_at, last_activity, metadata
		FROM conversation
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY last_activity DESC
		LIMIT 1
	`
	var conv store.Conversation
	err := d.db.QueryRowContext(ctx, query, args...).Scan(
		&conv.ID,
		&conv.ChatID,
		&conv.Platform,
		&conv.Status,
		&conv.StartedAt,
		&conv.EndedAt,
		&conv.LastActivity,
		&conv.Metadata,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get conversation")
	}
	return &conv, nil
}

func (d *DB) ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
	where, args := conversationWhere(find)
	query := `
		SELECT id, chat_id, platform, status, started_at, ended_at, last_activity, metadata
		FROM conversation
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY last_activity ASC
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	list := []*store.Conversation{}
	for rows.Next() {
		var conv store.Conversation
		if err := rows.Scan(
			&conv.ID,
			&conv.ChatID,
			&conv.Platform,
			&conv.Status,
			&conv.StartedAt,
			&conv.EndedAt,
			&conv.LastActivity,
			&conv.Metadata,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation")
		}
		list = append(list, &conv)
	}
	return list, rows.Err()
}

func (d *DB) UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error) {
	set, args := []string{}, []any{}
	if update.Status != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, *update.Status)
	}
	if update.EndedAt != nil {
		set, args = append(set, "ended_at = "+placeholder(len(args)+1)), append(args, *update.EndedAt)
	}
	if update.LastActivity != nil {
		set, args = append(set, "last_activity = "+placeholder(len(args)+1)), append(args, *update.LastActivity)
	}
	if update.Metadata != nil {
		set, args = append(set, "metadata = "+placeholder(len(args)+1)), append(args, *update.Metadata)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}
	args = append(args, update.ID)

	stmt := `
		UPDATE conversation
		SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, chat_id, platform, status, started_at, ended_at, last_activity, metadata
	`
	var conv store.Conversation
	err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&conv.ID,
		&conv.ChatID,
		&conv.Platform,
		&conv.Status,
		&conv.StartedAt,
		&conv.EndedAt,
		&conv.LastActivity,
		&conv.Metadata,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to update conversation")
	}
	return &conv, nil
}

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	if create.Metadata == "" {
		create.Metadata = "{}"
	}
	stmt := `
		INSERT INTO message (conversation_id, role, content, metadata)
		VALUES (` + placeholders(4) + `)
		RETURNING id, created_at
	`
	err := d.db.QueryRowContext(ctx, stmt,
		create.ConversationID,
		create.Role,
		create.Content,
		create.Metadata,
	).Scan(&create.ID, &create.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}
	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *find.ConversationID)
	}
	if find.Role != nil {
		where, args = append(where, "role = "+placeholder(len(args)+1)), append(args, *find.Role)
	}

	query := `
		SELECT id, conversation_id, role, content, metadata, created_at
		FROM message
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at ASC, id ASC
	`
	if find.LastN > 0 {
		// Take the last N rows, then restore chronological order.
		args = append(args, find.LastN)
		query = `
			SELECT id, conversation_id, role, content, metadata, created_at FROM (
				SELECT id, conversation_id, role, content, metadata, created_at
				FROM message
				WHERE ` + strings.Join(where, " AND ") + `
				ORDER BY created_at DESC, id DESC
				LIMIT ` + placeholder(len(args)) + `
			) AS recent
			ORDER BY created_at ASC, id ASC
		`
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := []*store.Message{}
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.Role,
			&msg.Content,
			&msg.Metadata,
			&msg.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		list = append(list, &msg)
	}
	return list, rows.Err()
}
