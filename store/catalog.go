package store

import "time"

// CatalogVersionStatus is the build lifecycle state of a catalog version.
type CatalogVersionStatus string

const (
	CatalogBuilding   CatalogVersionStatus = "building"
	CatalogActive     CatalogVersionStatus = "active"
	CatalogSuperseded CatalogVersionStatus = "superseded"
	CatalogFailed     CatalogVersionStatus = "failed"
)

// CatalogVersion tracks one blue-green index build. At most one version is
// active at any time; building -> active displaces the previous active to
// superseded in the same transaction.
type CatalogVersion struct {
	ID          int64
	VersionName string
	Status      CatalogVersionStatus
	TotalRows   int
	IndexedRows int
	SourceFile  string
	CreatedAt   time.Time
	ActivatedAt *time.Time
}

type FindCatalogVersion struct {
	VersionName *string
	Status      *CatalogVersionStatus
}

type UpdateCatalogVersion struct {
	VersionName string
	Status      *CatalogVersionStatus
	TotalRows   *int
	IndexedRows *int
}

// Product is one catalog row. Required: ID, ProductName, Category1,
// Article. (ID, CatalogVersion) is unique; absent optional categories stay
// empty, never synthesized.
type Product struct {
	ID             string
	CatalogVersion string
	ProductName    string
	Description    string
	Category1      string
	Category2      string
	Category3      string
	Article        string
	PhotoURL       string
	PageURL        string
}

type FindProduct struct {
	CatalogVersion *string
	ID             *string
}

// ProductEmbedding is the persisted vector for one product row within one
// catalog version, so index rebuilds don't re-embed.
type ProductEmbedding struct {
	ProductID      string
	CatalogVersion string
	Model          string
	Embedding      []float32
}

type FindProductEmbedding struct {
	CatalogVersion string
	Model          *string
}
