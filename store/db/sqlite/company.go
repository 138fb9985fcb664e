package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/store"
)

func (d *DB) CreateCompanyService(ctx context.Context, create *store.CompanyService) (*store.CompanyService, error) {
	stmt := `
		INSERT INTO company_service (title, description, category, keywords, active)
		VALUES (` + placeholders(5) + `)
		RETURNING id, created_at
	`
	err := d.db.QueryRowContext(ctx, stmt,
		create.Title,
		create.Description,
		create.Category,
		strings.Join(create.Keywords, ","),
		create.Active,
	).Scan(&create.ID, &create.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create company service")
	}
	return create, nil
}

func (d *DB) ListCompanyServices(ctx context.Context, find *store.FindCompanyService) ([]*store.CompanyService, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.Active != nil {
		where, args = append(where, "active = "+placeholder(len(args)+1)), append(args, *find.Active)
	}
	if find.Category != nil {
		where, args = append(where, "category = "+placeholder(len(args)+1)), append(args, *find.Category)
	}
	query := `
		SELECT id, title, description, category, keywords, active, created_at
		FROM company_service
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY title ASC
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list company services")
	}
	defer rows.Close()

	list := []*store.CompanyService{}
	for rows.Next() {
		var svc store.CompanyService
		var keywords string
		if err := rows.Scan(&svc.ID, &svc.Title, &svc.Description, &svc.Category, &keywords, &svc.Active, &svc.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan company service")
		}
		if keywords != "" {
			svc.Keywords = strings.Split(keywords, ",")
		}
		list = append(list, &svc)
	}
	return list, rows.Err()
}

func (d *DB) GetActiveCompanyInfo(ctx context.Context) (*store.CompanyInfo, error) {
	query := `
		SELECT id, content, original_filename, active, created_at
		FROM company_info
		WHERE active
		ORDER BY created_at DESC
		LIMIT 1
	`
	var info store.CompanyInfo
	err := d.db.QueryRowContext(ctx, query).Scan(
		&info.ID, &info.Content, &info.OriginalFilename, &info.Active, &info.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get company info")
	}
	return &info, nil
}

// UpsertCompanyInfo deactivates previous blobs and inserts the new one.
func (d *DB) UpsertCompanyInfo(ctx context.Context, info *store.CompanyInfo) (*store.CompanyInfo, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE company_info SET active = FALSE WHERE active`); err != nil {
		return nil, errors.Wrap(err, "failed to deactivate company info")
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO company_info (content, original_filename, active)
		VALUES (?, ?, TRUE)
		RETURNING id, created_at
	`, info.Content, info.OriginalFilename).Scan(&info.ID, &info.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert company info")
	}
	info.Active = true

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit company info")
	}
	return info, nil
}
