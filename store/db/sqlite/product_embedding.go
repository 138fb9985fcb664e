package sqlite

import (
	"context"
	"encoding/binary"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/store"
)

// float32ToBlob encodes a vector as little-endian float32 bytes.
func float32ToBlob(values []float32) []byte {
	blob := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

func blobToFloat32(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, errors.Errorf("invalid embedding blob length %d", len(blob))
	}
	values := make([]float32, len(blob)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return values, nil
}

// UpsertProductEmbeddings stores vectors for one catalog version so index
// rebuilds after restart don't re-embed the whole catalog.
func (d *DB) UpsertProductEmbeddings(ctx context.Context, embeddings []*store.ProductEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	stmt := `
		INSERT INTO product_embedding (product_id, catalog_version, model, embedding)
		VALUES (` + placeholders(4) + `)
		ON CONFLICT (product_id, catalog_version, model)
		DO UPDATE SET embedding = EXCLUDED.embedding
	`
	for _, e := range embeddings {
		if _, err := tx.ExecContext(ctx, stmt, e.ProductID, e.CatalogVersion, e.Model, float32ToBlob(e.Embedding)); err != nil {
			return errors.Wrapf(err, "failed to upsert embedding for product %s", e.ProductID)
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit product embeddings")
}

func (d *DB) ListProductEmbeddings(ctx context.Context, find *store.FindProductEmbedding) ([]*store.ProductEmbedding, error) {
	where, args := []string{"catalog_version = ?"}, []any{find.CatalogVersion}
	if find.Model != nil {
		where, args = append(where, "model = "+placeholder(len(args)+1)), append(args, *find.Model)
	}
	query := `
		SELECT product_id, catalog_version, model, embedding
		FROM product_embedding
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY product_id ASC
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list product embeddings")
	}
	defer rows.Close()

	list := []*store.ProductEmbedding{}
	for rows.Next() {
		var e store.ProductEmbedding
		var blob []byte
		if err := rows.Scan(&e.ProductID, &e.CatalogVersion, &e.Model, &blob); err != nil {
			return nil, errors.Wrap(err, "failed to scan product embedding")
		}
		if e.Embedding, err = blobToFloat32(blob); err != nil {
			return nil, errors.Wrapf(err, "failed to decode embedding for product %s", e.ProductID)
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
