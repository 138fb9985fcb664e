package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krapivin/consultbot/ai/classify"
	"github.com/krapivin/consultbot/ai/llm"
	"github.com/krapivin/consultbot/ai/prompt"
	"github.com/krapivin/consultbot/ai/search"
	"github.com/krapivin/consultbot/internal/hybridlog"
	"github.com/krapivin/consultbot/server/service/lead"
	"github.com/krapivin/consultbot/store"
)

type memoryConvStore struct {
	mu       sync.Mutex
	nextID   int64
	users    map[string]*store.User
	convs    map[string]*store.Conversation
	messages []*store.Message
}

func newMemoryConvStore() *memoryConvStore {
	return &memoryConvStore{
		users: map[string]*store.User{},
		convs: map[string]*store.Conversation{},
	}
}

func (m *memoryConvStore) GetOrCreateUser(_ context.Context, chatID string, create *store.User) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[chatID]; ok {
		return u, nil
	}
	m.nextID++
	u := *create
	u.ID = m.nextID
	u.ChatID = chatID
	m.users[chatID] = &u
	return &u, nil
}

func (m *memoryConvStore) OpenOrGetConversation(_ context.Context, chatID, platform string) (*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.convs[chatID]; ok {
		return c, nil
	}
	m.nextID++
	c := &store.Conversation{ID: m.nextID, ChatID: chatID, Platform: platform, Status: store.ConversationOpen}
	m.convs[chatID] = c
	return c, nil
}

func (m *memoryConvStore) AppendMessage(_ context.Context, create *store.Message) (*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg := *create
	msg.ID = m.nextID
	m.messages = append(m.messages, &msg)
	return &msg, nil
}

func (m *memoryConvStore) RecentWindow(_ context.Context, conversationID int64, n int) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (m *memoryConvStore) stored(conversationID int64) []*store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out
}

type fixedClassifier struct {
	intents map[string]classify.Intent
}

func (c *fixedClassifier) Classify(_ context.Context, query string) classify.Intent {
	if intent, ok := c.intents[query]; ok {
		return intent
	}
	return classify.IntentGeneral
}

type stubTurnLLM struct {
	mu             sync.Mutex
	generateText   string
	generateErr    error
	classifyAnswer string
	classifyErr    error
	generated      [][]llm.Message
}

func (s *stubTurnLLM) Generate(_ context.Context, messages []llm.Message, _ llm.Options) (string, *llm.TokenUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generateErr != nil {
		return "", nil, s.generateErr
	}
	s.generated = append(s.generated, messages)
	return s.generateText, &llm.TokenUsage{TotalTokens: 10}, nil
}

func (s *stubTurnLLM) Classify(context.Context, string, string) (string, *llm.TokenUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.classifyErr != nil {
		return "", nil, s.classifyErr
	}
	return s.classifyAnswer, &llm.TokenUsage{TotalTokens: 5}, nil
}

type stubSearcher struct {
	mu      sync.Mutex
	results []search.Result
	err     error
	panics  bool
	queries []string
}

func (s *stubSearcher) Search(_ context.Context, query string, _ int) ([]search.Result, error) {
	if s.panics {
		panic("index corrupted")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	return s.results, s.err
}

type stubKnowledge struct {
	services []*store.CompanyService
	info     string
	uploaded bool
}

func (k *stubKnowledge) FindServices(context.Context, string) ([]*store.CompanyService, error) {
	return k.services, nil
}

func (k *stubKnowledge) CompanyInfo(context.Context) (string, bool) {
	return k.info, k.uploaded
}

type stubCapturer struct {
	mu       sync.Mutex
	err      error
	captures []*lead.Capture
}

func (c *stubCapturer) Capture(_ context.Context, capture *lead.Capture) (*store.Lead, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.captures = append(c.captures, capture)
	return &store.Lead{ID: int64(len(c.captures)), ChatID: capture.ChatID, Status: store.LeadPendingSync}, nil
}

type fixture struct {
	store      *memoryConvStore
	classifier *fixedClassifier
	llm        *stubTurnLLM
	searcher   *stubSearcher
	knowledge  *stubKnowledge
	capturer   *stubCapturer
	orch       *Orchestrator
}

func newFixture() *fixture {
	f := &fixture{
		store:      newMemoryConvStore(),
		classifier: &fixedClassifier{intents: map[string]classify.Intent{}},
		llm:        &stubTurnLLM{generateText: "Хорошо, вот ответ.", classifyAnswer: "ноутбук"},
		searcher:   &stubSearcher{},
		knowledge:  &stubKnowledge{info: "О компании", uploaded: true},
		capturer:   &stubCapturer{},
	}
	f.orch = New(f.store, f.classifier, f.llm, prompt.NewRegistry(nil),
		f.searcher, f.knowledge, f.capturer, 10, hybridlog.New(nil))
	return f
}

func (f *fixture) turn(text string) *Reply {
	return f.orch.ProcessTurn(context.Background(), &Incoming{
		ChatID:   "chat-1",
		Platform: "TG",
		Text:     text,
	})
}

func TestProductTurnStoresIntentMetadata(t *testing.T) {
	f := newFixture()
	f.classifier.intents["нужен ноутбук для работы"] = classify.IntentProduct
	f.searcher.results = []search.Result{{
		Product: &store.Product{ID: "P-001", ProductName: "Ноутбук бизнес-класса", Article: "DL001", Category1: "Электроника"},
		Score:   0.82, RawScore: 0.62,
	}}
	f.llm.generateText = "Могу предложить Ноутбук бизнес-класса, артикул DL001."

	reply := f.turn("нужен ноутбук для работы")

	assert.Equal(t, classify.IntentProduct, reply.Intent)
	assert.Contains(t, reply.Text, "DL001")
	assert.Equal(t, []string{ActionContactManager, ActionSearchMore}, reply.SuggestedActions)

	msgs := f.store.stored(f.store.convs["chat-1"].ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)
	assert.Contains(t, msgs[1].Metadata, `"intent":"PRODUCT"`)

	// The retrieval context reached the LLM.
	require.NotEmpty(t, f.llm.generated)
	last := f.llm.generated[len(f.llm.generated)-1]
	assert.Contains(t, last[len(last)-1].Content, "Ноутбук бизнес-класса")
}

func TestProductTurnUsesExtractedQuery(t *testing.T) {
	f := newFixture()
	f.classifier.intents["есть ли у вас сверло без керна?"] = classify.IntentProduct
	f.llm.classifyAnswer = "сверло без керна"
	f.searcher.results = []search.Result{{
		Product: &store.Product{ID: "1", ProductName: "Сверло без керна", Article: "SV-1"},
		Score:   0.7,
	}}

	f.turn("есть ли у вас сверло без керна?")

	require.Len(t, f.searcher.queries, 1)
	assert.Equal(t, "сверло без керна", f.searcher.queries[0])
}

func TestProductTurnNoMatchSuggestsManager(t *testing.T) {
	f := newFixture()
	f.classifier.intents["квантовый сноуборд"] = classify.IntentProduct
	f.llm.classifyAnswer = "квантовый сноуборд"
	f.llm.generateText = "К сожалению, такого товара нет. Могу связать вас с менеджером."

	reply := f.turn("квантовый сноуборд")

	assert.Equal(t, []string{ActionContactManager, ActionRefineSearch}, reply.SuggestedActions)
	assert.NotEmpty(t, reply.Text)
	assert.Empty(t, f.capturer.captures, "no-match must not auto-create a lead")
}

func TestProductTurnModelUnavailable(t *testing.T) {
	f := newFixture()
	f.classifier.intents["дрель"] = classify.IntentProduct
	f.llm.classifyAnswer = "дрель"
	f.searcher.err = search.ErrModelUnavailable

	reply := f.turn("дрель")

	assert.Contains(t, reply.Text, "временно недоступен")
	assert.Equal(t, []string{ActionContactManager}, reply.SuggestedActions)
}

func TestContactTurnCreatesLead(t *testing.T) {
	f := newFixture()
	text := "свяжитесь со мной, +79001234567, Иванов"
	f.classifier.intents[text] = classify.IntentContact

	reply := f.turn(text)

	assert.True(t, reply.LeadCreated)
	assert.Equal(t, classify.IntentContact, reply.Intent)
	require.Len(t, f.capturer.captures, 1)
	capture := f.capturer.captures[0]
	assert.Equal(t, "Иванов", capture.LastName)
	assert.Equal(t, "+79001234567", capture.Phone)
	assert.Equal(t, store.LeadSourceTelegram, capture.Source)
}

func TestContactTurnValidationAsksClarifyingQuestion(t *testing.T) {
	f := newFixture()
	text := "мой телефон +79001234567"
	f.classifier.intents[text] = classify.IntentContact
	f.capturer.err = &lead.ValidationError{Field: "last_name", Reason: "must not be empty"}

	reply := f.turn(text)

	assert.False(t, reply.LeadCreated)
	assert.Contains(t, reply.Text, "фамилию")
	assert.Equal(t, []string{ActionProvideContacts}, reply.SuggestedActions)
}

func TestContactTurnWithoutContactDataAsksForIt(t *testing.T) {
	f := newFixture()
	text := "хочу поговорить с менеджером"
	f.classifier.intents[text] = classify.IntentContact
	f.llm.classifyAnswer = "CREATE_LEAD"

	reply := f.turn(text)

	assert.Contains(t, reply.Text, "телефон")
	assert.Empty(t, f.capturer.captures)
}

func TestServiceTurnUsesStructuredServices(t *testing.T) {
	f := newFixture()
	text := "а доставка у вас есть?"
	f.classifier.intents[text] = classify.IntentService
	f.knowledge.services = []*store.CompanyService{{Title: "Доставка по России", Active: true}}

	reply := f.turn(text)

	assert.Equal(t, classify.IntentService, reply.Intent)
	require.NotEmpty(t, f.llm.generated)
	last := f.llm.generated[len(f.llm.generated)-1]
	assert.Contains(t, last[len(last)-1].Content, "Доставка по России")
}

func TestServiceTurnFallsBackToCannedInfo(t *testing.T) {
	f := newFixture()
	text := "а монтаж вы делаете?"
	f.classifier.intents[text] = classify.IntentService
	f.knowledge.info = "Базовый ответ о компании."
	f.knowledge.uploaded = false

	reply := f.turn(text)

	// No services and no uploaded document: canned text, no LLM call.
	assert.Equal(t, "Базовый ответ о компании.", reply.Text)
	assert.Empty(t, f.llm.generated)
}

func TestGeneralTurn(t *testing.T) {
	f := newFixture()
	reply := f.turn("посоветуйте что-нибудь")

	assert.Equal(t, classify.IntentGeneral, reply.Intent)
	assert.Equal(t, []string{ActionSearchProducts, ActionContactManager}, reply.SuggestedActions)
}

func TestLLMFailureProducesPoliteFallback(t *testing.T) {
	f := newFixture()
	f.llm.generateErr = errors.New("provider down")

	reply := f.turn("привет")

	assert.Equal(t, fallbackReply, reply.Text)
	msgs := f.store.stored(f.store.convs["chat-1"].ID)
	require.Len(t, msgs, 2, "user and fallback assistant turns must both be stored")
	assert.Equal(t, fallbackReply, msgs[1].Content)
}

func TestDeadlineProducesPoliteFallback(t *testing.T) {
	f := newFixture()
	f.llm.generateErr = context.DeadlineExceeded

	reply := f.turn("привет")
	assert.Equal(t, fallbackReply, reply.Text)
}

func TestPanicInHandlerProducesPoliteFallback(t *testing.T) {
	f := newFixture()
	f.classifier.intents["дрель"] = classify.IntentProduct
	f.llm.classifyAnswer = "дрель"
	f.searcher.panics = true

	reply := f.turn("дрель")

	assert.Equal(t, fallbackReply, reply.Text)
	msgs := f.store.stored(f.store.convs["chat-1"].ID)
	require.Len(t, msgs, 2)
}

func TestTurnsForOneChatAreSerialized(t *testing.T) {
	f := newFixture()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.turn("привет")
		}()
	}
	wg.Wait()

	msgs := f.store.stored(f.store.convs["chat-1"].ID)
	require.Len(t, msgs, 8)
	for i, msg := range msgs {
		if i%2 == 0 {
			assert.Equal(t, store.RoleUser, msg.Role, "position %d", i)
		} else {
			assert.Equal(t, store.RoleAssistant, msg.Role, "position %d", i)
		}
	}
}

func TestChatLocksAreReleasedAfterTurns(t *testing.T) {
	f := newFixture()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		chatID := fmt.Sprintf("chat-%d", i)
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				f.orch.ProcessTurn(context.Background(), &Incoming{
					ChatID:   chatID,
					Platform: "TG",
					Text:     "привет",
				})
			}()
		}
	}
	wg.Wait()

	f.orch.mu.Lock()
	assert.Empty(t, f.orch.chatLocks, "idle chats must not keep lock entries")
	f.orch.mu.Unlock()
}

func TestHistoryWindowIsBounded(t *testing.T) {
	f := newFixture()
	conv, err := f.store.OpenOrGetConversation(context.Background(), "chat-1", "TG")
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		_, err := f.store.AppendMessage(context.Background(), &store.Message{
			ConversationID: conv.ID,
			Role:           store.RoleUser,
			Content:        strings.Repeat("x", i+1),
		})
		require.NoError(t, err)
	}

	f.turn("привет")

	require.NotEmpty(t, f.llm.generated)
	messages := f.llm.generated[0]
	// System prompt + at most 20 history turns + the rendered user prompt.
	assert.LessOrEqual(t, len(messages), historyWindow+2)
}
