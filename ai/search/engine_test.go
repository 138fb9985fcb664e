package search

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/krapivin/consultbot/ai/llm"
	"github.com/krapivin/consultbot/internal/profile"
	"github.com/krapivin/consultbot/store"
)

func searchProfile(dir string) *profile.Profile {
	return &profile.Profile{
		EmbeddingModel:     "text-embedding-3-small",
		ChromaPersistDir:   dir,
		SearchMinScore:     0.45,
		SearchNameBoost:    0.20,
		SearchArticleBoost: 0.30,
		SearchMaxResults:   10,
	}
}

// stubEmbedder returns a fixed vector per exact text, so tests control the
// raw similarity scores.
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, *llm.TokenUsage, error) {
	s.calls++
	if s.err != nil {
		return nil, nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, ok := s.vectors[text]
		if !ok {
			vec = []float32{1, 0}
		}
		out[i] = vec
	}
	return out, &llm.TokenUsage{TotalTokens: len(texts)}, nil
}

type memoryCatalogStore struct {
	mu         sync.Mutex
	versions   map[string]*store.CatalogVersion
	products   map[string][]*store.Product
	embeddings map[string][]*store.ProductEmbedding
}

func newMemoryCatalogStore() *memoryCatalogStore {
	return &memoryCatalogStore{
		versions:   map[string]*store.CatalogVersion{},
		products:   map[string][]*store.Product{},
		embeddings: map[string][]*store.ProductEmbedding{},
	}
}

func (m *memoryCatalogStore) CreateCatalogVersion(_ context.Context, create *store.CatalogVersion) (*store.CatalogVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := *create
	v.ID = int64(len(m.versions) + 1)
	m.versions[v.VersionName] = &v
	return &v, nil
}

func (m *memoryCatalogStore) GetCatalogVersion(_ context.Context, find *store.FindCatalogVersion) (*store.CatalogVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions {
		if find.VersionName != nil && v.VersionName != *find.VersionName {
			continue
		}
		if find.Status != nil && v.Status != *find.Status {
			continue
		}
		return v, nil
	}
	return nil, store.ErrNotFound
}

func (m *memoryCatalogStore) UpdateCatalogVersion(_ context.Context, update *store.UpdateCatalogVersion) (*store.CatalogVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[update.VersionName]
	if !ok {
		return nil, store.ErrNotFound
	}
	if update.Status != nil {
		v.Status = *update.Status
	}
	if update.TotalRows != nil {
		v.TotalRows = *update.TotalRows
	}
	if update.IndexedRows != nil {
		v.IndexedRows = *update.IndexedRows
	}
	return v, nil
}

func (m *memoryCatalogStore) ActivateCatalogVersion(_ context.Context, versionName string) (*store.CatalogVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[versionName]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, other := range m.versions {
		if other.Status == store.CatalogActive {
			other.Status = store.CatalogSuperseded
		}
	}
	v.Status = store.CatalogActive
	return v, nil
}

func (m *memoryCatalogStore) CreateProducts(_ context.Context, products []*store.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range products {
		m.products[p.CatalogVersion] = append(m.products[p.CatalogVersion], p)
	}
	return nil
}

func (m *memoryCatalogStore) ListProducts(_ context.Context, find *store.FindProduct) ([]*store.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if find.CatalogVersion == nil {
		return nil, errors.New("catalog version filter required")
	}
	return m.products[*find.CatalogVersion], nil
}

func (m *memoryCatalogStore) UpsertProductEmbeddings(_ context.Context, embeddings []*store.ProductEmbedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, emb := range embeddings {
		m.embeddings[emb.CatalogVersion] = append(m.embeddings[emb.CatalogVersion], emb)
	}
	return nil
}

func (m *memoryCatalogStore) ListProductEmbeddings(_ context.Context, find *store.FindProductEmbedding) ([]*store.ProductEmbedding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.ProductEmbedding
	for _, emb := range m.embeddings[find.CatalogVersion] {
		if find.Model != nil && emb.Model != *find.Model {
			continue
		}
		out = append(out, emb)
	}
	return out, nil
}

// installIndex puts a hand-built index behind the engine, bypassing Build.
func installIndex(t *testing.T, e *Engine, products []*store.Product, vectors [][]float32) {
	t.Helper()
	idx, err := newIndex("test-version", "text-embedding-3-small", products, vectors)
	require.NoError(t, err)
	e.active.Store(idx)
}

func TestSearchEmptyIndexReturnsNothing(t *testing.T) {
	e := NewEngine(searchProfile(t.TempDir()), newMemoryCatalogStore(), &stubEmbedder{})
	results, err := e.Search(context.Background(), "сверло", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchWithoutEmbedderReportsModelUnavailable(t *testing.T) {
	e := NewEngine(searchProfile(t.TempDir()), newMemoryCatalogStore(), nil)
	installIndex(t, e, []*store.Product{{ID: "1", ProductName: "Сверло"}}, [][]float32{{1, 0}})

	_, err := e.Search(context.Background(), "сверло", 5)
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestSearchBlankQueryReturnsNothing(t *testing.T) {
	embedder := &stubEmbedder{}
	e := NewEngine(searchProfile(t.TempDir()), newMemoryCatalogStore(), embedder)
	installIndex(t, e, []*store.Product{{ID: "1", ProductName: "Сверло"}}, [][]float32{{1, 0}})

	results, err := e.Search(context.Background(), "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, embedder.calls)
}

func TestSearchArticleBoostOutranksNameBoost(t *testing.T) {
	// Same raw similarity for both products; the article hit must win.
	embedder := &stubEmbedder{vectors: map[string][]float32{"ab-123": {1, 0}}}
	e := NewEngine(searchProfile(t.TempDir()), newMemoryCatalogStore(), embedder)
	installIndex(t, e,
		[]*store.Product{
			{ID: "name-hit", ProductName: "Сверло AB-123 усиленное", Article: "Z-9"},
			{ID: "article-hit", ProductName: "Сверло по металлу", Article: "AB-123"},
		},
		[][]float32{{0, 1}, {0, 1}}, // cosine 0 against the query, raw score 0.5
	)

	results, err := e.Search(context.Background(), "AB-123", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "article-hit", results[0].Product.ID)
	assert.InDelta(t, 0.80, results[0].Score, 1e-9)
	assert.Equal(t, "name-hit", results[1].Product.ID)
	assert.InDelta(t, 0.70, results[1].Score, 1e-9)
	// Raw scores survive for tie-breaking and diagnostics.
	assert.InDelta(t, 0.5, results[0].RawScore, 1e-9)
}

func TestSearchFiltersBelowMinScore(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"подшипник": {1, 0}}}
	e := NewEngine(searchProfile(t.TempDir()), newMemoryCatalogStore(), embedder)
	installIndex(t, e,
		[]*store.Product{
			{ID: "close", ProductName: "Подшипник 6205", Article: "P-6205"},
			{ID: "far", ProductName: "Фильтр масляный", Article: "F-1"},
		},
		[][]float32{{1, 0}, {-1, 0}}, // raw scores 1.0 and 0.0
	)

	results, err := e.Search(context.Background(), "подшипник", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "close", results[0].Product.ID)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.45)
	}
}

func TestSearchTieBreaksByProductID(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"масло": {1, 0}}}
	e := NewEngine(searchProfile(t.TempDir()), newMemoryCatalogStore(), embedder)
	installIndex(t, e,
		[]*store.Product{
			{ID: "b-200", ProductName: "Масло моторное 5W-40", Article: "M-2"},
			{ID: "a-100", ProductName: "Масло моторное 5W-30", Article: "M-1"},
		},
		[][]float32{{1, 0}, {1, 0}},
	)

	for i := 0; i < 5; i++ {
		results, err := e.Search(context.Background(), "масло", 5)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "a-100", results[0].Product.ID)
		assert.Equal(t, "b-200", results[1].Product.ID)
	}
}

func TestSearchCapsResultCount(t *testing.T) {
	p := searchProfile(t.TempDir())
	p.SearchMaxResults = 2
	embedder := &stubEmbedder{vectors: map[string][]float32{"болт": {1, 0}}}
	e := NewEngine(p, newMemoryCatalogStore(), embedder)
	installIndex(t, e,
		[]*store.Product{
			{ID: "1", ProductName: "Болт М6"},
			{ID: "2", ProductName: "Болт М8"},
			{ID: "3", ProductName: "Болт М10"},
		},
		[][]float32{{1, 0}, {1, 0}, {1, 0}},
	)

	results, err := e.Search(context.Background(), "болт", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = e.Search(context.Background(), "болт", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func writeCatalogFile(t *testing.T, path string, rows [][]interface{}) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	require.NoError(t, f.SaveAs(path))
}

func TestBuildActivatesNewVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.xlsx")
	writeCatalogFile(t, path, [][]interface{}{
		{"ID", "Product Name", "Category 1", "Article", "Description", "Supplier"},
		{"1", "Сверло по металлу", "Инструмент", "SV-1", "HSS 8мм", "ignored"},
		{"2", "Подшипник 6205", "Запчасти", "P-6205", "", "ignored"},
		{"3", "", "Инструмент", "X-1", "без имени", "ignored"}, // missing required name
	})

	catalogStore := newMemoryCatalogStore()
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"Сверло по металлу HSS 8мм Инструмент SV-1": {1, 0},
		"Подшипник 6205 Запчасти P-6205":            {0, 1},
	}}
	e := NewEngine(searchProfile(dir), catalogStore, embedder)

	version, err := e.Build(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, store.CatalogActive, version.Status)
	assert.Equal(t, 2, version.TotalRows)
	assert.Equal(t, 2, version.IndexedRows)

	assert.True(t, e.Ready())
	assert.Equal(t, version.VersionName, e.ActiveVersion())
	assert.Len(t, catalogStore.products[version.VersionName], 2)
	assert.Len(t, catalogStore.embeddings[version.VersionName], 2)

	embedder.vectors["сверло"] = []float32{1, 0}
	results, err := e.Search(context.Background(), "сверло", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "1", results[0].Product.ID)
}

func TestBuildFailureKeepsServingOldIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.xlsx")
	writeCatalogFile(t, path, [][]interface{}{
		{"id", "product name", "category 1", "article"},
		{"1", "Сверло", "Инструмент", "SV-1"},
	})

	catalogStore := newMemoryCatalogStore()
	embedder := &stubEmbedder{err: errors.New("provider down")}
	e := NewEngine(searchProfile(dir), catalogStore, embedder)
	installIndex(t, e, []*store.Product{{ID: "old", ProductName: "Старый товар"}}, [][]float32{{1, 0}})

	_, err := e.Build(context.Background(), path)
	require.Error(t, err)

	// The failed build must not displace the serving index.
	assert.Equal(t, "test-version", e.ActiveVersion())
	for _, v := range catalogStore.versions {
		assert.Equal(t, store.CatalogFailed, v.Status)
	}
}

func TestLoadRestoresActiveVersionAfterRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.xlsx")
	writeCatalogFile(t, path, [][]interface{}{
		{"id", "product name", "category 1", "article"},
		{"1", "Сверло по металлу", "Инструмент", "SV-1"},
	})

	catalogStore := newMemoryCatalogStore()
	embedder := &stubEmbedder{}
	first := NewEngine(searchProfile(dir), catalogStore, embedder)
	version, err := first.Build(context.Background(), path)
	require.NoError(t, err)

	// Fresh engine over the same store and persist dir, as after a restart.
	second := NewEngine(searchProfile(dir), catalogStore, embedder)
	require.NoError(t, second.Load(context.Background()))
	assert.True(t, second.Ready())
	assert.Equal(t, version.VersionName, second.ActiveVersion())
}

func TestLoadRebuildsFromStoredEmbeddings(t *testing.T) {
	catalogStore := newMemoryCatalogStore()
	versionName := "db-only"
	_, err := catalogStore.CreateCatalogVersion(context.Background(), &store.CatalogVersion{
		VersionName: versionName,
		Status:      store.CatalogActive,
		TotalRows:   1,
	})
	require.NoError(t, err)
	require.NoError(t, catalogStore.CreateProducts(context.Background(), []*store.Product{
		{ID: "1", CatalogVersion: versionName, ProductName: "Сверло", Category1: "Инструмент", Article: "SV-1"},
	}))
	require.NoError(t, catalogStore.UpsertProductEmbeddings(context.Background(), []*store.ProductEmbedding{
		{ProductID: "1", CatalogVersion: versionName, Model: "text-embedding-3-small", Embedding: []float32{1, 0}},
	}))

	// Persist dir is empty, so the snapshot path cannot serve the load.
	e := NewEngine(searchProfile(t.TempDir()), catalogStore, &stubEmbedder{})
	require.NoError(t, e.Load(context.Background()))
	assert.True(t, e.Ready())
	assert.Equal(t, versionName, e.ActiveVersion())
}

func TestLoadWithoutActiveVersionServesEmpty(t *testing.T) {
	e := NewEngine(searchProfile(t.TempDir()), newMemoryCatalogStore(), &stubEmbedder{})
	require.NoError(t, e.Load(context.Background()))
	assert.False(t, e.Ready())
}

func TestDocumentTextSkipsBlankFields(t *testing.T) {
	p := &store.Product{
		ProductName: "Сверло по металлу",
		Category1:   "Инструмент",
		Category3:   "Свёрла",
		Article:     "SV-1",
	}
	assert.Equal(t, "Сверло по металлу Инструмент Свёрла SV-1", DocumentText(p))
}

func TestLoadCatalogFileRejectsMissingRequiredColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.xlsx")
	writeCatalogFile(t, path, [][]interface{}{
		{"id", "product name", "category 1"}, // no article column
		{"1", "Сверло", "Инструмент"},
	})
	_, _, err := LoadCatalogFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "article")
}

func TestLoadCatalogFileOptionalColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.xlsx")
	writeCatalogFile(t, path, [][]interface{}{
		{"ID", "PRODUCT NAME", "Category 1", "ARTICLE", "photo_url"},
		{"7", "Ремень приводной", "Запчасти", "R-7", "https://example.com/r7.jpg"},
	})
	products, skipped, err := LoadCatalogFile(path)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, products, 1)
	p := products[0]
	assert.Equal(t, "7", p.ID)
	assert.Equal(t, "Ремень приводной", p.ProductName)
	assert.Equal(t, "https://example.com/r7.jpg", p.PhotoURL)
	assert.Empty(t, p.Description)
	assert.Empty(t, p.PageURL)
}
