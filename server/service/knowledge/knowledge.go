// Package knowledge answers questions about the company itself: structured
// service lookups and the uploaded company-info document. Pure data access,
// no LLM calls.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/store"
)

// fallbackCompanyInfo covers the time before an operator uploads a real
// company document.
const fallbackCompanyInfo = "Наша компания специализируется на поставке оборудования и запчастей. " +
	"Мы работаем с широким каталогом товаров и предоставляем профессиональные консультации. " +
	"Для получения подробной информации свяжитесь с нашими менеджерами."

// Store is the company subset of the data layer.
type Store interface {
	ListCompanyServices(ctx context.Context, find *store.FindCompanyService) ([]*store.CompanyService, error)
	GetActiveCompanyInfo(ctx context.Context) (*store.CompanyInfo, error)
}

// Service serves company knowledge lookups.
type Service struct {
	store Store
}

func NewService(s Store) *Service {
	return &Service{store: s}
}

// FindServices returns the active services relevant to query: title,
// category and keyword matches first, the full active list when nothing
// matches so the answer prompt still has material to work with.
func (s *Service) FindServices(ctx context.Context, query string) ([]*store.CompanyService, error) {
	active := true
	services, err := s.store.ListCompanyServices(ctx, &store.FindCompanyService{Active: &active})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list company services")
	}
	if len(services) == 0 {
		return nil, nil
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return services, nil
	}
	var matched []*store.CompanyService
	for _, svc := range services {
		if serviceMatches(svc, q) {
			matched = append(matched, svc)
		}
	}
	if len(matched) == 0 {
		return services, nil
	}
	return matched, nil
}

func serviceMatches(svc *store.CompanyService, q string) bool {
	if strings.Contains(strings.ToLower(svc.Title), q) ||
		strings.Contains(strings.ToLower(svc.Category), q) {
		return true
	}
	for _, kw := range svc.Keywords {
		kw = strings.ToLower(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(q, kw) || strings.Contains(kw, q) {
			return true
		}
	}
	return false
}

// CompanyInfo returns the active company document text. The second result
// reports whether a real upload backs it; otherwise the caller gets the
// canned fallback.
func (s *Service) CompanyInfo(ctx context.Context) (string, bool) {
	info, err := s.store.GetActiveCompanyInfo(ctx)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("no company info uploaded, using fallback text")
		return fallbackCompanyInfo, false
	}
	if err != nil {
		slog.Error("failed to load company info", "error", err)
		return fallbackCompanyInfo, false
	}
	slog.Debug("company info loaded", "file", info.OriginalFilename)
	return info.Content, true
}

// FormatServices renders services into the plain-text block the
// service-answer prompt expects.
func FormatServices(services []*store.CompanyService) string {
	if len(services) == 0 {
		return "Информация об услугах отсутствует."
	}
	var b strings.Builder
	for i, svc := range services {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, svc.Title)
		if svc.Category != "" {
			fmt.Fprintf(&b, " (категория: %s)", svc.Category)
		}
		if svc.Description != "" {
			b.WriteString("\n")
			b.WriteString(svc.Description)
		}
	}
	return b.String()
}
