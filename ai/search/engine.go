// Package search is the vector catalog engine. It keeps an immutable
// in-memory index of the active catalog version, answers semantic queries
// with substring boosts for exact name/article hits, and rebuilds indices
// blue-green: the old catalog keeps serving until the new one is activated
// in a single swap.
package search

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/ai/llm"
	"github.com/krapivin/consultbot/internal/profile"
	"github.com/krapivin/consultbot/store"
)

// ErrModelUnavailable is returned when a query arrives before an embedding
// provider is configured. The orchestrator turns it into a polite reply.
var ErrModelUnavailable = errors.New("embedding model unavailable")

// embedBatchSize bounds one provider request during index builds.
const embedBatchSize = 64

// Embedder is the vector surface the engine needs; *llm.Gateway satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, *llm.TokenUsage, error)
}

// Store is the catalog subset of the data layer.
type Store interface {
	CreateCatalogVersion(ctx context.Context, create *store.CatalogVersion) (*store.CatalogVersion, error)
	GetCatalogVersion(ctx context.Context, find *store.FindCatalogVersion) (*store.CatalogVersion, error)
	UpdateCatalogVersion(ctx context.Context, update *store.UpdateCatalogVersion) (*store.CatalogVersion, error)
	ActivateCatalogVersion(ctx context.Context, versionName string) (*store.CatalogVersion, error)
	CreateProducts(ctx context.Context, products []*store.Product) error
	ListProducts(ctx context.Context, find *store.FindProduct) ([]*store.Product, error)
	UpsertProductEmbeddings(ctx context.Context, embeddings []*store.ProductEmbedding) error
	ListProductEmbeddings(ctx context.Context, find *store.FindProductEmbedding) ([]*store.ProductEmbedding, error)
}

// Result is one search hit. Score is the boosted score the results are
// ranked by; RawScore is the similarity before boosts.
type Result struct {
	Product  *store.Product
	Score    float64
	RawScore float64
}

// Engine serves catalog searches and owns the index lifecycle.
type Engine struct {
	profile  *profile.Profile
	store    Store
	embedder Embedder

	active  atomic.Pointer[Index]
	buildMu sync.Mutex // one build at a time
}

func NewEngine(p *profile.Profile, s Store, e Embedder) *Engine {
	return &Engine{profile: p, store: s, embedder: e}
}

// ActiveVersion returns the version name of the index currently serving
// queries, or "" when none is loaded.
func (e *Engine) ActiveVersion() string {
	idx := e.active.Load()
	if idx == nil {
		return ""
	}
	return idx.version
}

// Ready reports whether an index with at least one product is serving.
func (e *Engine) Ready() bool {
	idx := e.active.Load()
	return idx != nil && idx.Len() > 0
}

// Search returns up to k boosted matches for query. A blank query or an
// empty index yields an empty result, never an error; an unconfigured
// embedding provider yields ErrModelUnavailable.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	idx := e.active.Load()
	if idx == nil || idx.Len() == 0 {
		slog.Warn("search against empty catalog index", "query", query)
		return nil, nil
	}
	if e.embedder == nil {
		return nil, ErrModelUnavailable
	}

	vectors, _, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		if errors.Is(err, llm.ErrNoProvider) {
			return nil, ErrModelUnavailable
		}
		return nil, errors.Wrap(err, "failed to embed query")
	}
	if len(vectors) == 0 {
		return nil, errors.New("embedder returned no vector for query")
	}

	if k <= 0 {
		k = e.profile.SearchMaxResults
	}
	kRaw := k
	if e.profile.SearchMaxResults > kRaw {
		kRaw = e.profile.SearchMaxResults
	}

	results := e.rank(query, idx.search(vectors[0], kRaw))
	if len(results) > e.profile.SearchMaxResults {
		results = results[:e.profile.SearchMaxResults]
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// rank applies the exact-match boosts, drops everything under the score
// floor, and orders the rest: boosted score first, pre-boost score on
// ties, product id as the final deterministic tie-break.
func (e *Engine) rank(query string, candidates []candidate) []Result {
	q := strings.ToLower(query)
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		score := c.score
		if strings.Contains(strings.ToLower(c.product.ProductName), q) {
			score += e.profile.SearchNameBoost
		}
		if strings.Contains(strings.ToLower(c.product.Article), q) {
			score += e.profile.SearchArticleBoost
		}
		if score < e.profile.SearchMinScore {
			continue
		}
		results = append(results, Result{Product: c.product, Score: score, RawScore: c.score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].RawScore != results[j].RawScore {
			return results[i].RawScore > results[j].RawScore
		}
		return results[i].Product.ID < results[j].Product.ID
	})
	return results
}

// Build ingests a catalog file into a fresh version: rows and embeddings
// are persisted under a new version name, the index is snapshotted to
// disk, and only then does the new version displace the active one. A
// failure at any point leaves the previous index untouched.
func (e *Engine) Build(ctx context.Context, sourcePath string) (*store.CatalogVersion, error) {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	if e.embedder == nil {
		return nil, ErrModelUnavailable
	}

	products, skipped, err := LoadCatalogFile(sourcePath)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		slog.Warn("catalog rows skipped during import", "skipped", skipped, "file", sourcePath)
	}
	if len(products) == 0 {
		return nil, errors.New("catalog file has no valid rows")
	}

	versionName := uuid.NewString()
	for _, p := range products {
		p.CatalogVersion = versionName
	}
	version, err := e.store.CreateCatalogVersion(ctx, &store.CatalogVersion{
		VersionName: versionName,
		Status:      store.CatalogBuilding,
		TotalRows:   len(products),
		SourceFile:  filepath.Base(sourcePath),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create catalog version")
	}
	if err := e.store.CreateProducts(ctx, products); err != nil {
		e.failVersion(ctx, versionName)
		return nil, errors.Wrap(err, "failed to persist products")
	}

	vectors, err := e.embedProducts(ctx, versionName, products)
	if err != nil {
		e.failVersion(ctx, versionName)
		return nil, err
	}

	idx, err := newIndex(versionName, e.profile.EmbeddingModel, products, vectors)
	if err != nil {
		e.failVersion(ctx, versionName)
		return nil, err
	}
	if err := idx.save(e.snapshotDir(versionName)); err != nil {
		slog.Warn("failed to snapshot catalog index, restart will rebuild from the database", "error", err)
	}

	version, err = e.store.ActivateCatalogVersion(ctx, versionName)
	if err != nil {
		e.failVersion(ctx, versionName)
		return nil, errors.Wrap(err, "failed to activate catalog version")
	}
	e.active.Store(idx)
	slog.Info("catalog version activated",
		"version", versionName, "products", len(products), "skipped", skipped)
	return version, nil
}

func (e *Engine) embedProducts(ctx context.Context, versionName string, products []*store.Product) ([][]float32, error) {
	vectors := make([][]float32, 0, len(products))
	for start := 0; start < len(products); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(products) {
			end = len(products)
		}
		batch := products[start:end]
		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = DocumentText(p)
		}
		batchVectors, _, err := e.embedder.Embed(ctx, texts)
		if err != nil {
			if errors.Is(err, llm.ErrNoProvider) {
				return nil, ErrModelUnavailable
			}
			return nil, errors.Wrapf(err, "failed to embed products %d-%d", start, end)
		}
		if len(batchVectors) != len(batch) {
			return nil, errors.Errorf("embedder returned %d vectors for %d texts", len(batchVectors), len(batch))
		}

		embeddings := make([]*store.ProductEmbedding, len(batch))
		for i, p := range batch {
			embeddings[i] = &store.ProductEmbedding{
				ProductID:      p.ID,
				CatalogVersion: versionName,
				Model:          e.profile.EmbeddingModel,
				Embedding:      batchVectors[i],
			}
		}
		if err := e.store.UpsertProductEmbeddings(ctx, embeddings); err != nil {
			return nil, errors.Wrap(err, "failed to persist embeddings")
		}
		vectors = append(vectors, batchVectors...)

		indexed := end
		if _, err := e.store.UpdateCatalogVersion(ctx, &store.UpdateCatalogVersion{
			VersionName: versionName,
			IndexedRows: &indexed,
		}); err != nil {
			slog.Warn("failed to update indexing progress", "version", versionName, "error", err)
		}
	}
	return vectors, nil
}

func (e *Engine) failVersion(ctx context.Context, versionName string) {
	status := store.CatalogFailed
	if _, err := e.store.UpdateCatalogVersion(ctx, &store.UpdateCatalogVersion{
		VersionName: versionName,
		Status:      &status,
	}); err != nil {
		slog.Warn("failed to mark catalog version failed", "version", versionName, "error", err)
	}
}

// Load restores the active catalog version at startup, preferring the disk
// snapshot and falling back to the embeddings persisted in the database.
// No active version is not an error: the engine serves empty results until
// the first build.
func (e *Engine) Load(ctx context.Context) error {
	status := store.CatalogActive
	version, err := e.store.GetCatalogVersion(ctx, &store.FindCatalogVersion{Status: &status})
	if errors.Is(err, store.ErrNotFound) {
		slog.Info("no active catalog version, search starts empty")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to look up active catalog version")
	}

	if idx, err := loadSnapshot(e.snapshotDir(version.VersionName)); err == nil && idx.model == e.profile.EmbeddingModel {
		e.active.Store(idx)
		slog.Info("catalog index restored from snapshot",
			"version", version.VersionName, "products", idx.Len())
		return nil
	}

	idx, err := e.indexFromStore(ctx, version.VersionName)
	if err != nil {
		return err
	}
	e.active.Store(idx)
	slog.Info("catalog index rebuilt from database",
		"version", version.VersionName, "products", idx.Len())
	return nil
}

func (e *Engine) indexFromStore(ctx context.Context, versionName string) (*Index, error) {
	products, err := e.store.ListProducts(ctx, &store.FindProduct{CatalogVersion: &versionName})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list products")
	}
	model := e.profile.EmbeddingModel
	embeddings, err := e.store.ListProductEmbeddings(ctx, &store.FindProductEmbedding{
		CatalogVersion: versionName,
		Model:          &model,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list product embeddings")
	}
	byProduct := make(map[string][]float32, len(embeddings))
	for _, emb := range embeddings {
		byProduct[emb.ProductID] = emb.Embedding
	}

	kept := make([]*store.Product, 0, len(products))
	vectors := make([][]float32, 0, len(products))
	for _, p := range products {
		vec, ok := byProduct[p.ID]
		if !ok {
			continue
		}
		kept = append(kept, p)
		vectors = append(vectors, vec)
	}
	if len(kept) < len(products) {
		slog.Warn("products without a stored embedding were left out of the index",
			"version", versionName, "missing", len(products)-len(kept))
	}
	return newIndex(versionName, model, kept, vectors)
}

func (e *Engine) snapshotDir(versionName string) string {
	return filepath.Join(e.profile.ChromaPersistDir, versionName)
}
