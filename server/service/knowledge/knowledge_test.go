package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krapivin/consultbot/store"
)

type memoryCompanyStore struct {
	services []*store.CompanyService
	info     *store.CompanyInfo
}

func (m *memoryCompanyStore) ListCompanyServices(_ context.Context, find *store.FindCompanyService) ([]*store.CompanyService, error) {
	var out []*store.CompanyService
	for _, svc := range m.services {
		if find.Active != nil && svc.Active != *find.Active {
			continue
		}
		out = append(out, svc)
	}
	return out, nil
}

func (m *memoryCompanyStore) GetActiveCompanyInfo(_ context.Context) (*store.CompanyInfo, error) {
	if m.info == nil {
		return nil, store.ErrNotFound
	}
	return m.info, nil
}

func testServices() []*store.CompanyService {
	return []*store.CompanyService{
		{ID: 1, Title: "Доставка по России", Category: "Логистика", Keywords: []string{"доставка", "логистика"}, Active: true},
		{ID: 2, Title: "Подбор аналогов", Category: "Консультации", Keywords: []string{"аналог", "подбор"}, Active: true},
		{ID: 3, Title: "Старая услуга", Category: "Архив", Keywords: []string{"архив"}, Active: false},
	}
}

func TestFindServicesByKeyword(t *testing.T) {
	s := NewService(&memoryCompanyStore{services: testServices()})

	services, err := s.FindServices(context.Background(), "Сколько стоит доставка в Казань?")
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "Доставка по России", services[0].Title)
}

func TestFindServicesFallsBackToAllActive(t *testing.T) {
	s := NewService(&memoryCompanyStore{services: testServices()})

	services, err := s.FindServices(context.Background(), "чем вы вообще занимаетесь")
	require.NoError(t, err)
	// No keyword hit: everything active, nothing archived.
	require.Len(t, services, 2)
	for _, svc := range services {
		assert.True(t, svc.Active)
	}
}

func TestFindServicesEmptyStore(t *testing.T) {
	s := NewService(&memoryCompanyStore{})
	services, err := s.FindServices(context.Background(), "доставка")
	require.NoError(t, err)
	assert.Empty(t, services)
}

func TestCompanyInfoPrefersUpload(t *testing.T) {
	s := NewService(&memoryCompanyStore{info: &store.CompanyInfo{
		Content:          "ООО Ромашка, 20 лет на рынке.",
		OriginalFilename: "about.txt",
		Active:           true,
	}})

	text, uploaded := s.CompanyInfo(context.Background())
	assert.True(t, uploaded)
	assert.Equal(t, "ООО Ромашка, 20 лет на рынке.", text)
}

func TestCompanyInfoFallback(t *testing.T) {
	s := NewService(&memoryCompanyStore{})
	text, uploaded := s.CompanyInfo(context.Background())
	assert.False(t, uploaded)
	assert.Contains(t, text, "поставке оборудования")
}

func TestFormatServices(t *testing.T) {
	text := FormatServices(testServices()[:2])
	assert.Contains(t, text, "1. Доставка по России (категория: Логистика)")
	assert.Contains(t, text, "2. Подбор аналогов")

	assert.Equal(t, "Информация об услугах отсутствует.", FormatServices(nil))
}
