package sqlite

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/store"
)

func (d *DB) CreateSystemLog(ctx context.Context, create *store.SystemLog) (*store.SystemLog, error) {
	if create.Metadata == "" {
		create.Metadata = "{}"
	}
	stmt := `
		INSERT INTO system_log (level, message, metadata, correlation_id)
		VALUES (` + placeholders(4) + `)
		RETURNING id, created_at
	`
	err := d.db.QueryRowContext(ctx, stmt,
		create.Level,
		create.Message,
		create.Metadata,
		create.CorrelationID,
	).Scan(&create.ID, &create.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create system log")
	}
	return create, nil
}

func (d *DB) ListSystemLogs(ctx context.Context, find *store.FindSystemLog) ([]*store.SystemLog, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.Level != nil {
		where, args = append(where, "level = "+placeholder(len(args)+1)), append(args, *find.Level)
	}
	if find.Since != nil {
		where, args = append(where, "created_at >= "+placeholder(len(args)+1)), append(args, *find.Since)
	}
	query := `
		SELECT id, level, message, metadata, correlation_id, created_at
		FROM system_log
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC
	`
	if find.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(find.Limit)
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list system logs")
	}
	defer rows.Close()

	list := []*store.SystemLog{}
	for rows.Next() {
		var l store.SystemLog
		if err := rows.Scan(&l.ID, &l.Level, &l.Message, &l.Metadata, &l.CorrelationID, &l.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan system log")
		}
		list = append(list, &l)
	}
	return list, rows.Err()
}
