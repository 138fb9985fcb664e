package search

import (
	"encoding/gob"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/store"
)

// Index is one immutable catalog snapshot: products and their vectors.
// Searches read whatever Index the engine currently points at; a rebuild
// prepares a fresh Index and swaps the pointer, so readers never see a
// half-built catalog.
type Index struct {
	version string
	model   string
	entries []indexEntry
}

type indexEntry struct {
	product *store.Product
	vector  []float32
	norm    float64
}

func newIndex(version, model string, products []*store.Product, vectors [][]float32) (*Index, error) {
	if len(products) != len(vectors) {
		return nil, errors.Errorf("product/vector count mismatch: %d vs %d", len(products), len(vectors))
	}
	idx := &Index{
		version: version,
		model:   model,
		entries: make([]indexEntry, 0, len(products)),
	}
	for i, p := range products {
		idx.entries = append(idx.entries, indexEntry{
			product: p,
			vector:  vectors[i],
			norm:    vectorNorm(vectors[i]),
		})
	}
	return idx, nil
}

func (ix *Index) Version() string { return ix.version }
func (ix *Index) Model() string   { return ix.model }
func (ix *Index) Len() int        { return len(ix.entries) }

type candidate struct {
	product *store.Product
	score   float64
}

// search returns the k nearest products by cosine similarity, mapped from
// [-1, 1] to a [0, 1] score.
func (ix *Index) search(query []float32, k int) []candidate {
	qnorm := vectorNorm(query)
	if qnorm == 0 {
		return nil
	}
	out := make([]candidate, 0, len(ix.entries))
	for _, e := range ix.entries {
		if e.norm == 0 {
			continue
		}
		cos := dot(query, e.vector) / (qnorm * e.norm)
		out = append(out, candidate{product: e.product, score: (cos + 1) / 2})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].product.ID < out[j].product.ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// snapshot is the on-disk form of an Index, written next to the database
// so a restart reloads the active catalog without re-embedding.
type snapshot struct {
	Version  string
	Model    string
	Products []*store.Product
	Vectors  [][]float32
}

const snapshotFile = "index.gob"

func (ix *Index) save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create snapshot directory")
	}
	snap := snapshot{Version: ix.version, Model: ix.model}
	for _, e := range ix.entries {
		snap.Products = append(snap.Products, e.product)
		snap.Vectors = append(snap.Vectors, e.vector)
	}
	tmp := filepath.Join(dir, snapshotFile+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "failed to create snapshot file")
	}
	if err := gob.NewEncoder(f).Encode(&snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "failed to encode snapshot")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "failed to close snapshot file")
	}
	return errors.Wrap(os.Rename(tmp, filepath.Join(dir, snapshotFile)), "failed to move snapshot into place")
}

func loadSnapshot(dir string) (*Index, error) {
	f, err := os.Open(filepath.Join(dir, snapshotFile))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open snapshot file")
	}
	defer f.Close()
	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, errors.Wrap(err, "failed to decode snapshot")
	}
	return newIndex(snap.Version, snap.Model, snap.Products, snap.Vectors)
}
