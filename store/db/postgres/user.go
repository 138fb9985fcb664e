package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/store"
)

func (d *DB) CreateUser(ctx context.Context, create *store.User) (*store.User, error) {
	stmt := `
		INSERT INTO "user" (chat_id, first_name, last_name, username, phone, email, language)
		VALUES (` + placeholders(7) + `)
		RETURNING id, created_at, updated_at
	`
	err := d.db.QueryRowContext(ctx, stmt,
		create.ChatID,
		create.FirstName,
		create.LastName,
		create.Username,
		create.Phone,
		create.Email,
		create.Language,
	).Scan(&create.ID, &create.CreatedAt, &create.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create user")
	}
	return create, nil
}

func (d *DB) GetUser(ctx context.Context, find *store.FindUser) (*store.User, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.ChatID != nil {
		where, args = append(where, "chat_id = "+placeholder(len(args)+1)), append(args, *find.ChatID)
	}

	query := `
		SELECT id, chat_id, first_name, last_name, username, phone, email, language, created_at, updated_at
		FROM "user"
		WHERE ` + strings.Join(where, " AND ")

	var user store.User
	err := d.db.QueryRowContext(ctx, query, args...).Scan(
		&user.ID,
		&user.ChatID,
		&user.FirstName,
		&user.LastName,
		&user.Username,
		&user.Phone,
		&user.Email,
		&user.Language,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get user")
	}
	return &user, nil
}

func (d *DB) UpdateUser(ctx context.Context, update *store.UpdateUser) (*store.User, error) {
	set, args := []string{}, []any{}
	if update.FirstName != nil {
		set, args = append(set, "first_name = "+placeholder(len(args)+1)), append(args, *update.FirstName)
	}
	if update.LastName != nil {
		set, args = append(set, "last_name = "+placeholder(len(args)+1)), append(args, *update.LastName)
	}
	if update.Phone != nil {
		set, args = append(set, "phone = "+placeholder(len(args)+1)), append(args, *update.Phone)
	}
	if update.Email != nil {
		set, args = append(set, "email = "+placeholder(len(args)+1)), append(args, *update.Email)
	}
	if update.Language != nil {
		set, args = append(set, "language = "+placeholder(len(args)+1)), append(args, *update.Language)
	}
	set, args = append(set, "updated_at = "+placeholder(len(args)+1)), append(args, time.Now().UTC())
	args = append(args, update.ID)

	stmt := `
		UPDATE "user"
		SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, chat_id, first_name, last_name, username, phone, email, language, created_at, updated_at
	`
	var user store.User
	err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&user.ID,
		&user.ChatID,
		&user.FirstName,
		&user.LastName,
		&user.Username,
		&user.Phone,
		&user.Email,
		&user.Language,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to update user")
	}
	return &user, nil
}
