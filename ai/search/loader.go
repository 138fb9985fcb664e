package search

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/krapivin/consultbot/store"
)

// Column headers are matched case-insensitively; description, category 2,
// category 3, photo_url and page_url are optional, any other column is
// ignored.
var requiredColumns = []string{"id", "product name", "category 1", "article"}

// LoadCatalogFile reads product rows from an xlsx catalog. Rows missing a
// required value are skipped; the second return value reports how many.
func LoadCatalogFile(path string) ([]*store.Product, int, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to open catalog file %s", path)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, 0, errors.New("catalog file has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to read catalog rows")
	}
	if len(rows) == 0 {
		return nil, 0, errors.New("catalog file is empty")
	}

	columns := map[string]int{}
	for i, header := range rows[0] {
		columns[strings.ToLower(strings.TrimSpace(header))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, 0, errors.Errorf("catalog file is missing required column %q", name)
		}
	}

	cell := func(row []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	products := make([]*store.Product, 0, len(rows)-1)
	skipped := 0
	for _, row := range rows[1:] {
		p := &store.Product{
			ID:          cell(row, "id"),
			ProductName: cell(row, "product name"),
			Category1:   cell(row, "category 1"),
			Article:     cell(row, "article"),
			Description: cell(row, "description"),
			Category2:   cell(row, "category 2"),
			Category3:   cell(row, "category 3"),
			PhotoURL:    cell(row, "photo_url"),
			PageURL:     cell(row, "page_url"),
		}
		if p.ID == "" || p.ProductName == "" || p.Category1 == "" || p.Article == "" {
			skipped++
			continue
		}
		products = append(products, p)
	}
	return products, skipped, nil
}

// DocumentText is the text embedded for one product: non-blank fields
// joined by a single space.
func DocumentText(p *store.Product) string {
	fields := []string{
		p.ProductName,
		p.Description,
		p.Category1,
		p.Category2,
		p.Category3,
		p.Article,
	}
	parts := fields[:0]
	for _, f := range fields {
		if f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, " ")
}
