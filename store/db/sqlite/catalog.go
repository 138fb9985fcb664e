package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/store"
)

func (d *DB) CreateCatalogVersion(ctx context.Context, create *store.CatalogVersion) (*store.CatalogVersion, error) {
	stmt := `
		INSERT INTO catalog_version (version_name, status, total_rows, indexed_rows, source_file)
		VALUES (` + placeholders(5) + `)
		RETURNING id, created_at
	`
	err := d.db.QueryRowContext(ctx, stmt,
		create.VersionName,
		create.Status,
		create.TotalRows,
		create.IndexedRows,
		create.SourceFile,
	).Scan(&create.ID, &create.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create catalog version")
	}
	return create, nil
}

func (d *DB) GetCatalogVersion(ctx context.Context, find *store.FindCatalogVersion) (*store.CatalogVersion, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.VersionName != nil {
		where, args = append(where, "version_name = "+placeholder(len(args)+1)), append(args, *find.VersionName)
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, *find.Status)
	}
	query := `
		SELECT id, version_name, status, total_rows, indexed_rows, source_file, created_at, activated_at
		FROM catalog_version
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC
		LIMIT 1
	`
	var v store.CatalogVersion
	err := d.db.QueryRowContext(ctx, query, args...).Scan(
		&v.ID, &v.VersionName, &v.Status, &v.TotalRows, &v.IndexedRows,
		&v.SourceFile, &v.CreatedAt, &v.ActivatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get catalog version")
	}
	return &v, nil
}

func (d *DB) UpdateCatalogVersion(ctx context.Context, update *store.UpdateCatalogVersion) (*store.CatalogVersion, error) {
	set, args := []string{}, []any{}
	if update.Status != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, *update.Status)
	}
	if update.TotalRows != nil {
		set, args = append(set, "total_rows = "+placeholder(len(args)+1)), append(args, *update.TotalRows)
	}
	if update.IndexedRows != nil {
		set, args = append(set, "indexed_rows = "+placeholder(len(args)+1)), append(args, *update.IndexedRows)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}
	args = append(args, update.VersionName)

	stmt := `
		UPDATE catalog_version
		SET ` + strings.Join(set, ", ") + `
		WHERE version_name = ` + placeholder(len(args)) + `
		RETURNING id, version_name, status, total_rows, indexed_rows, source_file, created_at, activated_at
	`
	var v store.CatalogVersion
	err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&v.ID, &v.VersionName, &v.Status, &v.TotalRows, &v.IndexedRows,
		&v.SourceFile, &v.CreatedAt, &v.ActivatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to update catalog version")
	}
	return &v, nil
}

// ActivateCatalogVersion promotes a building version to active and
// displaces the previous active version to superseded, atomically.
func (d *DB) ActivateCatalogVersion(ctx context.Context, versionName string) (*store.CatalogVersion, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE catalog_version SET status = 'superseded' WHERE status = 'active'`); err != nil {
		return nil, errors.Wrap(err, "failed to supersede active catalog version")
	}

	var v store.CatalogVersion
	err = tx.QueryRowContext(ctx, `
		UPDATE catalog_version
		SET status = 'active', activated_at = CURRENT_TIMESTAMP
		WHERE version_name = ? AND status = 'building'
		RETURNING id, version_name, status, total_rows, indexed_rows, source_file, created_at, activated_at
	`, versionName).Scan(
		&v.ID, &v.VersionName, &v.Status, &v.TotalRows, &v.IndexedRows,
		&v.SourceFile, &v.CreatedAt, &v.ActivatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Errorf("catalog version %s is not in building state", versionName)
		}
		return nil, errors.Wrap(err, "failed to activate catalog version")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit catalog activation")
	}
	return &v, nil
}

func (d *DB) CreateProducts(ctx context.Context, products []*store.Product) error {
	if len(products) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	stmt := `
		INSERT INTO product
			(id, catalog_version, product_name, description, category_1, category_2, category_3, article, photo_url, page_url)
		VALUES (` + placeholders(10) + `)
	`
	for _, p := range products {
		if _, err := tx.ExecContext(ctx, stmt,
			p.ID, p.CatalogVersion, p.ProductName, p.Description,
			p.Category1, p.Category2, p.Category3, p.Article, p.PhotoURL, p.PageURL,
		); err != nil {
			return errors.Wrapf(err, "failed to insert product %s", p.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit products")
}

func (d *DB) ListProducts(ctx context.Context, find *store.FindProduct) ([]*store.Product, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.CatalogVersion != nil {
		where, args = append(where, "catalog_version = "+placeholder(len(args)+1)), append(args, *find.CatalogVersion)
	}
	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	query := `
		SELECT id, catalog_version, product_name, description, category_1, category_2, category_3, article, photo_url, page_url
		FROM product
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id ASC
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list products")
	}
	defer rows.Close()

	list := []*store.Product{}
	for rows.Next() {
		var p store.Product
		if err := rows.Scan(
			&p.ID, &p.CatalogVersion, &p.ProductName, &p.Description,
			&p.Category1, &p.Category2, &p.Category3, &p.Article, &p.PhotoURL, &p.PageURL,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan product")
		}
		list = append(list, &p)
	}
	return list, rows.Err()
}
