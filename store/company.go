package store

import "time"

// CompanyService is a structured description of a company service.
// Looked up by keyword/category; never vectorized.
type CompanyService struct {
	ID          int64
	Title       string
	Description string
	Category    string
	Keywords    []string
	Active      bool
	CreatedAt   time.Time
}

type FindCompanyService struct {
	Active   *bool
	Category *string
}

// CompanyInfo is the single company information blob (uploaded document).
// The most recently uploaded active record wins.
type CompanyInfo struct {
	ID               int64
	Content          string
	OriginalFilename string
	Active           bool
	CreatedAt        time.Time
}
