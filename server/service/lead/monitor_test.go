package lead

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krapivin/consultbot/internal/profile"
	"github.com/krapivin/consultbot/store"
)

type fakeReengager struct {
	mu    sync.Mutex
	chats []string
}

func (f *fakeReengager) SendReengagement(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, chatID)
	return nil
}

func (f *fakeReengager) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chats)
}

func monitorProfile() *profile.Profile {
	return &profile.Profile{LeadInactivityThreshold: 120}
}

// idleConversation seeds an open conversation idle past the threshold with
// a product inquiry and a matching user record.
func idleConversation(s *memoryLeadStore, chatID string, user *store.User) *store.Conversation {
	conv := &store.Conversation{
		ID:           int64(len(s.conversations) + 1),
		ChatID:       chatID,
		Platform:     "TG",
		Status:       store.ConversationOpen,
		LastActivity: time.Now().Add(-3 * time.Hour),
	}
	s.conversations = append(s.conversations, conv)
	s.messages[conv.ID] = []*store.Message{
		{ConversationID: conv.ID, Role: store.RoleUser, Content: "нужен ноутбук для работы"},
		{ConversationID: conv.ID, Role: store.RoleAssistant, Content: "Вот что нашлось...", Metadata: `{"intent":"PRODUCT"}`},
	}
	user.ChatID = chatID
	s.users = append(s.users, user)
	return conv
}

func TestScanAutoCreatesLead(t *testing.T) {
	leadStore := newMemoryLeadStore()
	idleConversation(leadStore, "chat-1", &store.User{ID: 7, LastName: "Иванов", Phone: "+79001234567"})
	m := NewMonitor(monitorProfile(), leadStore, NewPipeline(leadStore, testLogger()), &fakeReengager{}, testLogger())

	require.NoError(t, m.Scan(context.Background()))

	require.Len(t, leadStore.leads, 1)
	lead := leadStore.leads[0]
	assert.True(t, lead.AutoCreated)
	assert.Equal(t, "Иванов", lead.LastName)
	assert.Equal(t, "нужен ноутбук для работы", lead.Question)
	assert.Equal(t, store.LeadSourceTelegram, lead.Source)

	// A second pass over the same idle episode must not duplicate.
	require.NoError(t, m.Scan(context.Background()))
	assert.Len(t, leadStore.leads, 1)
}

func TestScanReengagesWhenContactDataMissing(t *testing.T) {
	leadStore := newMemoryLeadStore()
	idleConversation(leadStore, "chat-1", &store.User{ID: 7, FirstName: "Иван"})
	reengager := &fakeReengager{}
	m := NewMonitor(monitorProfile(), leadStore, NewPipeline(leadStore, testLogger()), reengager, testLogger())

	require.NoError(t, m.Scan(context.Background()))

	assert.Empty(t, leadStore.leads, "an invalid lead must never be created")
	assert.Equal(t, 1, reengager.count())

	// Same episode, no second nudge.
	require.NoError(t, m.Scan(context.Background()))
	assert.Equal(t, 1, reengager.count())
}

func TestScanIgnoresConversationsWithoutSignals(t *testing.T) {
	leadStore := newMemoryLeadStore()
	conv := idleConversation(leadStore, "chat-1", &store.User{ID: 7, LastName: "Иванов", Phone: "+79001234567"})
	leadStore.messages[conv.ID] = []*store.Message{
		{ConversationID: conv.ID, Role: store.RoleUser, Content: "привет"},
		{ConversationID: conv.ID, Role: store.RoleAssistant, Content: "Здравствуйте!", Metadata: `{"intent":"GENERAL"}`},
	}
	reengager := &fakeReengager{}
	m := NewMonitor(monitorProfile(), leadStore, NewPipeline(leadStore, testLogger()), reengager, testLogger())

	require.NoError(t, m.Scan(context.Background()))
	assert.Empty(t, leadStore.leads)
	assert.Zero(t, reengager.count())
}

func TestScanSkipsRecentlyActiveConversations(t *testing.T) {
	leadStore := newMemoryLeadStore()
	conv := idleConversation(leadStore, "chat-1", &store.User{ID: 7, LastName: "Иванов", Phone: "+79001234567"})
	conv.LastActivity = time.Now().Add(-10 * time.Minute)
	m := NewMonitor(monitorProfile(), leadStore, NewPipeline(leadStore, testLogger()), &fakeReengager{}, testLogger())

	require.NoError(t, m.Scan(context.Background()))
	assert.Empty(t, leadStore.leads)
}

func TestScanSkipsConversationsWithExistingLead(t *testing.T) {
	leadStore := newMemoryLeadStore()
	conv := idleConversation(leadStore, "chat-1", &store.User{ID: 7, LastName: "Иванов", Phone: "+79001234567"})
	_, err := leadStore.CreateLead(context.Background(), &store.Lead{
		ChatID: "chat-1", ConversationID: &conv.ID,
		LastName: "Иванов", Phone: "+79001234567",
		Status: store.LeadSynced,
	})
	require.NoError(t, err)

	m := NewMonitor(monitorProfile(), leadStore, NewPipeline(leadStore, testLogger()), &fakeReengager{}, testLogger())
	require.NoError(t, m.Scan(context.Background()))
	assert.Len(t, leadStore.leads, 1, "conversation already carries a lead")
}

func TestNewActivityStartsNewEpisode(t *testing.T) {
	leadStore := newMemoryLeadStore()
	conv := idleConversation(leadStore, "chat-1", &store.User{ID: 7, FirstName: "Иван"})
	reengager := &fakeReengager{}
	m := NewMonitor(monitorProfile(), leadStore, NewPipeline(leadStore, testLogger()), reengager, testLogger())

	require.NoError(t, m.Scan(context.Background()))
	require.Equal(t, 1, reengager.count())

	// The user came back and went idle again later: a fresh episode.
	conv.LastActivity = conv.LastActivity.Add(30 * time.Minute)
	require.NoError(t, m.Scan(context.Background()))
	assert.Equal(t, 2, reengager.count())
}
