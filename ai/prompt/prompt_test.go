package prompt

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krapivin/consultbot/store"
)

type memoryPromptStore struct {
	mu      sync.Mutex
	prompts map[string][]*store.Prompt // name -> versions
	nextID  int64
}

func newMemoryPromptStore() *memoryPromptStore {
	return &memoryPromptStore{prompts: map[string][]*store.Prompt{}}
}

func (m *memoryPromptStore) GetActivePrompt(_ context.Context, name string) (*store.Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.prompts[name] {
		if p.Active {
			return p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memoryPromptStore) ListPrompts(_ context.Context, find *store.FindPrompt) ([]*store.Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Prompt
	for _, versions := range m.prompts {
		for _, p := range versions {
			if find.Active != nil && p.Active != *find.Active {
				continue
			}
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryPromptStore) CreatePromptVersion(_ context.Context, name, content, role string) (*store.Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	version := 0
	for _, p := range m.prompts[name] {
		p.Active = false
		if p.Version > version {
			version = p.Version
		}
	}
	m.nextID++
	p := &store.Prompt{
		ID:      m.nextID,
		Name:    name,
		Content: content,
		Version: version + 1,
		Role:    role,
		Active:  true,
	}
	m.prompts[name] = append(m.prompts[name], p)
	return p, nil
}

func TestLoadSeedsDefaults(t *testing.T) {
	s := newMemoryPromptStore()
	r := NewRegistry(s)
	require.NoError(t, r.Load(context.Background()))

	for name := range defaults {
		p, err := s.GetActivePrompt(context.Background(), name)
		require.NoError(t, err, name)
		assert.Equal(t, 1, p.Version)
		assert.Equal(t, defaults[name], r.Get(name))
	}
}

func TestLoadKeepsOperatorEdits(t *testing.T) {
	s := newMemoryPromptStore()
	_, err := s.CreatePromptVersion(context.Background(), NameSystem, "отредактированный текст", "system")
	require.NoError(t, err)

	r := NewRegistry(s)
	require.NoError(t, r.Load(context.Background()))

	assert.Equal(t, "отредактированный текст", r.Get(NameSystem))
	// Untouched names still come from the seeded defaults.
	assert.Equal(t, defaults[NameClassification], r.Get(NameClassification))
}

func TestPutCreatesNewVersionAndServesIt(t *testing.T) {
	s := newMemoryPromptStore()
	r := NewRegistry(s)
	require.NoError(t, r.Load(context.Background()))

	require.NoError(t, r.Put(context.Background(), NameGeneralConversation, "новая версия"))
	assert.Equal(t, "новая версия", r.Get(NameGeneralConversation))

	p, err := s.GetActivePrompt(context.Background(), NameGeneralConversation)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Version)
}

func TestPutRejectsEmptyContent(t *testing.T) {
	r := NewRegistry(newMemoryPromptStore())
	assert.Error(t, r.Put(context.Background(), NameSystem, "   "))
}

func TestGetFallsBackToDefaultWithoutLoad(t *testing.T) {
	r := NewRegistry(newMemoryPromptStore())
	// Snapshot is empty, but reads must still produce usable text.
	assert.Equal(t, defaults[NameSystem], r.Get(NameSystem))
}

func TestRender(t *testing.T) {
	r := NewRegistry(newMemoryPromptStore())
	out := r.Render(NameGeneralConversation, map[string]string{"user_query": "привет"})
	assert.Contains(t, out, "Запрос пользователя: привет")
	assert.NotContains(t, out, "{user_query}")
}
