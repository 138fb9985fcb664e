// Package orchestrator runs one conversation turn end to end: store the
// user message, classify it, gather retrieval context, generate a reply,
// and store the assistant message. Turns for the same chat are serialized;
// distinct chats run in parallel. Whatever goes wrong mid-turn, the user
// gets a reply and the user message stays stored.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/ai/classify"
	"github.com/krapivin/consultbot/ai/llm"
	"github.com/krapivin/consultbot/ai/prompt"
	"github.com/krapivin/consultbot/ai/search"
	"github.com/krapivin/consultbot/internal/hybridlog"
	"github.com/krapivin/consultbot/server/service/knowledge"
	"github.com/krapivin/consultbot/server/service/lead"
	"github.com/krapivin/consultbot/store"
)

// turnDeadline is the soft budget for one turn. Past it the user gets the
// polite fallback instead of an error.
const turnDeadline = 10 * time.Second

// historyWindow bounds the LLM-visible history. Storage is unbounded; the
// context is not.
const historyWindow = 20

// Suggested post-reply actions emitted to the transport.
const (
	ActionContactManager  = "contact_manager"
	ActionSearchMore      = "search_more"
	ActionRefineSearch    = "refine_search"
	ActionSearchProducts  = "search_products"
	ActionLearnMore       = "learn_more"
	ActionLearnServices   = "learn_services"
	ActionProvideContacts = "provide_contacts"
)

const (
	fallbackReply = "Извините, обработка запроса заняла больше времени, чем обычно. " +
		"Попробуйте повторить вопрос или свяжитесь с менеджером."
	searchUnavailableReply = "Извините, поиск по каталогу временно недоступен. " +
		"Свяжитесь с менеджером, и он подберёт товар вручную."
	leadConfirmationReply = "Спасибо! Ваша заявка передана менеджеру, он свяжется с вами в ближайшее время."
	askContactsReply      = "Чтобы менеджер мог связаться с вами, оставьте, пожалуйста, " +
		"фамилию и телефон или email."
)

// LLM is the completion surface of the gateway.
type LLM interface {
	Generate(ctx context.Context, messages []llm.Message, opts llm.Options) (string, *llm.TokenUsage, error)
	Classify(ctx context.Context, system, user string) (string, *llm.TokenUsage, error)
}

// Classifier decides the intent of one message.
type Classifier interface {
	Classify(ctx context.Context, query string) classify.Intent
}

// Searcher is the catalog surface; *search.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]search.Result, error)
}

// Knowledge is the company lookup surface.
type Knowledge interface {
	FindServices(ctx context.Context, query string) ([]*store.CompanyService, error)
	CompanyInfo(ctx context.Context) (string, bool)
}

// LeadCapturer persists prospects; *lead.Pipeline satisfies it.
type LeadCapturer interface {
	Capture(ctx context.Context, c *lead.Capture) (*store.Lead, error)
}

// Store is the conversation subset of the data layer.
type Store interface {
	GetOrCreateUser(ctx context.Context, chatID string, create *store.User) (*store.User, error)
	OpenOrGetConversation(ctx context.Context, chatID, platform string) (*store.Conversation, error)
	AppendMessage(ctx context.Context, create *store.Message) (*store.Message, error)
	RecentWindow(ctx context.Context, conversationID int64, n int) ([]*store.Message, error)
}

// Incoming is one inbound user message with transport identity.
type Incoming struct {
	ChatID    string
	Platform  string
	Text      string
	FirstName string
	LastName  string
	Username  string
}

// Reply is what goes back to the transport.
type Reply struct {
	Text             string
	Intent           classify.Intent
	SuggestedActions []string
	LeadCreated      bool
}

// Orchestrator is the per-turn state machine.
type Orchestrator struct {
	store      Store
	classifier Classifier
	llm        LLM
	prompts    *prompt.Registry
	search     Searcher
	knowledge  Knowledge
	leads      LeadCapturer
	logger     *hybridlog.Logger

	maxResults int

	mu        sync.Mutex
	chatLocks map[string]*chatLock
}

// chatLock serializes the turns of one chat. The refcount counts the
// holder plus the waiters, so the map entry lives only while a turn for
// that chat is running or queued.
type chatLock struct {
	sync.Mutex
	refs int
}

func New(s Store, c Classifier, l LLM, p *prompt.Registry, se Searcher, k Knowledge, leads LeadCapturer, maxResults int, logger *hybridlog.Logger) *Orchestrator {
	return &Orchestrator{
		store:      s,
		classifier: c,
		llm:        l,
		prompts:    p,
		search:     se,
		knowledge:  k,
		leads:      leads,
		logger:     logger,
		maxResults: maxResults,
		chatLocks:  map[string]*chatLock{},
	}
}

func (o *Orchestrator) lockChat(chatID string) *chatLock {
	o.mu.Lock()
	cl, ok := o.chatLocks[chatID]
	if !ok {
		cl = &chatLock{}
		o.chatLocks[chatID] = cl
	}
	cl.refs++
	o.mu.Unlock()

	cl.Lock()
	return cl
}

func (o *Orchestrator) unlockChat(chatID string, cl *chatLock) {
	cl.Unlock()
	o.mu.Lock()
	cl.refs--
	if cl.refs == 0 {
		delete(o.chatLocks, chatID)
	}
	o.mu.Unlock()
}

// ProcessTurn handles one user message and always returns a reply. The
// turn is serialized per chat; a second message from the same user waits
// until the first is fully stored.
func (o *Orchestrator) ProcessTurn(ctx context.Context, in *Incoming) *Reply {
	cl := o.lockChat(in.ChatID)
	defer o.unlockChat(in.ChatID, cl)

	user, err := o.store.GetOrCreateUser(ctx, in.ChatID, &store.User{
		ChatID:    in.ChatID,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Username:  in.Username,
	})
	if err != nil {
		o.logger.Error("failed to resolve user", "chat_id", in.ChatID, "error", err)
		return &Reply{Text: fallbackReply, Intent: classify.IntentGeneral, SuggestedActions: []string{ActionContactManager}}
	}
	conv, err := o.store.OpenOrGetConversation(ctx, in.ChatID, in.Platform)
	if err != nil {
		o.logger.Error("failed to open conversation", "chat_id", in.ChatID, "error", err)
		return &Reply{Text: fallbackReply, Intent: classify.IntentGeneral, SuggestedActions: []string{ActionContactManager}}
	}

	// The user turn is stored before any AI work: the history must hold it
	// even when the rest of the turn falls over.
	if _, err := o.store.AppendMessage(ctx, &store.Message{
		ConversationID: conv.ID,
		Role:           store.RoleUser,
		Content:        in.Text,
		Metadata:       "{}",
	}); err != nil {
		o.logger.Error("failed to store user turn", "chat_id", in.ChatID, "error", err)
		return &Reply{Text: fallbackReply, Intent: classify.IntentGeneral, SuggestedActions: []string{ActionContactManager}}
	}

	turnCtx, cancel := context.WithTimeout(ctx, turnDeadline)
	reply := o.supervisedRoute(turnCtx, user, conv, in.Text)
	cancel()

	// Store the assistant turn outside the turn deadline: an expired budget
	// must not lose the reply from the history.
	metadata, _ := json.Marshal(map[string]any{
		"intent":            string(reply.Intent),
		"suggested_actions": reply.SuggestedActions,
	})
	if _, err := o.store.AppendMessage(context.WithoutCancel(ctx), &store.Message{
		ConversationID: conv.ID,
		Role:           store.RoleAssistant,
		Content:        reply.Text,
		Metadata:       string(metadata),
	}); err != nil {
		o.logger.Error("failed to store assistant turn", "chat_id", in.ChatID, "error", err)
	}
	return reply
}

// supervisedRoute dispatches by intent and converts every failure mode,
// panics included, into the polite fallback.
func (o *Orchestrator) supervisedRoute(ctx context.Context, user *store.User, conv *store.Conversation, text string) (reply *Reply) {
	intent := o.classifier.Classify(ctx, text)
	defer func() {
		if r := recover(); r != nil {
			o.logger.Critical("turn handler panicked", "chat_id", conv.ChatID, "panic", fmt.Sprint(r))
			reply = &Reply{Text: fallbackReply, Intent: intent, SuggestedActions: []string{ActionContactManager}}
		}
	}()

	var err error
	switch intent {
	case classify.IntentProduct:
		reply, err = o.handleProduct(ctx, conv, text)
	case classify.IntentService:
		reply, err = o.handleService(ctx, conv, text)
	case classify.IntentCompanyInfo:
		reply, err = o.handleCompanyInfo(ctx, conv, text)
	case classify.IntentContact:
		reply, err = o.handleContact(ctx, user, conv, text)
	default:
		reply, err = o.handleGeneral(ctx, conv, text)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			o.logger.Warn("turn exceeded deadline", "chat_id", conv.ChatID, "intent", intent)
		} else {
			o.logger.Error("turn handler failed", "chat_id", conv.ChatID, "intent", intent, "error", err)
		}
		return &Reply{Text: fallbackReply, Intent: intent, SuggestedActions: []string{ActionContactManager}}
	}
	reply.Intent = intent
	return reply
}

func (o *Orchestrator) handleProduct(ctx context.Context, conv *store.Conversation, text string) (*Reply, error) {
	query := o.extractSearchQuery(ctx, text)
	results, err := o.search.Search(ctx, query, o.maxResults)
	if errors.Is(err, search.ErrModelUnavailable) {
		o.logger.Warn("catalog search unavailable", "query", query)
		return &Reply{Text: searchUnavailableReply, SuggestedActions: []string{ActionContactManager}}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "catalog search failed")
	}

	if len(results) == 0 {
		answer, err := o.generate(ctx, conv, prompt.NameGeneralConversation, map[string]string{
			"user_query": fmt.Sprintf(
				"По запросу «%s» в каталоге ничего не нашлось. Вежливо сообщи об этом, "+
					"предложи уточнить запрос или связаться с менеджером. Вопрос пользователя: %s",
				query, text),
		})
		if err != nil {
			return nil, err
		}
		return &Reply{Text: answer, SuggestedActions: []string{ActionContactManager, ActionRefineSearch}}, nil
	}

	answer, err := o.generate(ctx, conv, prompt.NameProductSearch, map[string]string{
		"search_results": formatResults(results),
		"user_query":     text,
	})
	if err != nil {
		return nil, err
	}
	return &Reply{Text: answer, SuggestedActions: []string{ActionContactManager, ActionSearchMore}}, nil
}

func (o *Orchestrator) handleService(ctx context.Context, conv *store.Conversation, text string) (*Reply, error) {
	services, err := o.knowledge.FindServices(ctx, text)
	if err != nil {
		return nil, errors.Wrap(err, "service lookup failed")
	}
	if len(services) > 0 {
		answer, err := o.generate(ctx, conv, prompt.NameServiceAnswer, map[string]string{
			"services_info": knowledge.FormatServices(services),
			"user_query":    text,
		})
		if err != nil {
			return nil, err
		}
		return &Reply{Text: answer, SuggestedActions: []string{ActionContactManager, ActionLearnMore}}, nil
	}

	// No structured services: fall back to the company document.
	info, uploaded := o.knowledge.CompanyInfo(ctx)
	if !uploaded {
		return &Reply{Text: info, SuggestedActions: []string{ActionContactManager}}, nil
	}
	answer, err := o.generate(ctx, conv, prompt.NameCompanyInfo, map[string]string{
		"company_info": info,
		"user_query":   text,
	})
	if err != nil {
		return nil, err
	}
	return &Reply{Text: answer, SuggestedActions: []string{ActionContactManager, ActionLearnMore}}, nil
}

func (o *Orchestrator) handleCompanyInfo(ctx context.Context, conv *store.Conversation, text string) (*Reply, error) {
	info, _ := o.knowledge.CompanyInfo(ctx)
	answer, err := o.generate(ctx, conv, prompt.NameCompanyInfo, map[string]string{
		"company_info": info,
		"user_query":   text,
	})
	if err != nil {
		return nil, err
	}
	return &Reply{Text: answer, SuggestedActions: []string{ActionContactManager, ActionLearnServices}}, nil
}

// handleContact captures a lead when the message carries contact data.
// Without any, the lead-qualification prompt decides over the history
// whether asking for contacts is warranted.
func (o *Orchestrator) handleContact(ctx context.Context, user *store.User, conv *store.Conversation, text string) (*Reply, error) {
	data := extractContact(text)
	if data.hasContact() {
		lastName := data.LastName
		if lastName == "" {
			lastName = user.LastName
		}
		created, err := o.leads.Capture(ctx, &lead.Capture{
			ChatID:         conv.ChatID,
			UserID:         user.ID,
			ConversationID: &conv.ID,
			LastName:       lastName,
			Phone:          data.Phone,
			Email:          data.Email,
			Question:       text,
			Source:         store.LeadSource(conv.Platform),
		})
		if err != nil {
			var v *lead.ValidationError
			if errors.As(err, &v) {
				return &Reply{
					Text:             clarifyingQuestion(v),
					SuggestedActions: []string{ActionProvideContacts},
				}, nil
			}
			return nil, errors.Wrap(err, "lead capture failed")
		}
		o.logger.Business("lead captured from contact intent",
			"chat_id", conv.ChatID, "lead_id", created.ID)
		return &Reply{Text: leadConfirmationReply, LeadCreated: true}, nil
	}

	if o.shouldRequestContacts(ctx, conv) {
		return &Reply{Text: askContactsReply, SuggestedActions: []string{ActionProvideContacts}}, nil
	}
	return o.handleGeneral(ctx, conv, text)
}

// shouldRequestContacts runs the lead-qualification decision over the
// recent history. Any failure defaults to asking: losing a warm prospect
// costs more than one extra question.
func (o *Orchestrator) shouldRequestContacts(ctx context.Context, conv *store.Conversation) bool {
	history, err := o.store.RecentWindow(ctx, conv.ID, historyWindow)
	if err != nil {
		return true
	}
	var b strings.Builder
	for _, msg := range history {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	system := o.prompts.Render(prompt.NameLeadQualification, map[string]string{
		"conversation_history": b.String(),
	})
	decision, _, err := o.llm.Classify(ctx, system, "")
	if err != nil {
		return true
	}
	return !strings.Contains(strings.ToUpper(decision), "NO_LEAD")
}

func (o *Orchestrator) handleGeneral(ctx context.Context, conv *store.Conversation, text string) (*Reply, error) {
	answer, err := o.generate(ctx, conv, prompt.NameGeneralConversation, map[string]string{
		"user_query": text,
	})
	if err != nil {
		return nil, err
	}
	return &Reply{Text: answer, SuggestedActions: []string{ActionSearchProducts, ActionContactManager}}, nil
}

// generate runs one completion: system prompt, bounded history, and the
// rendered branch prompt as the final user message.
func (o *Orchestrator) generate(ctx context.Context, conv *store.Conversation, promptName string, vars map[string]string) (string, error) {
	history, err := o.store.RecentWindow(ctx, conv.ID, historyWindow)
	if err != nil {
		return "", errors.Wrap(err, "failed to load history window")
	}
	window := make([]llm.Message, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case store.RoleUser:
			window = append(window, llm.UserMessage(msg.Content))
		case store.RoleAssistant:
			window = append(window, llm.AssistantMessage(msg.Content))
		}
	}
	messages := llm.FormatMessages(
		o.prompts.Get(prompt.NameSystem),
		o.prompts.Render(promptName, vars),
		window,
	)
	answer, usage, err := o.llm.Generate(ctx, messages, llm.Options{Temperature: 0.7})
	if err != nil {
		return "", errors.Wrap(err, "generation failed")
	}
	o.logger.Debug("reply generated", "prompt", promptName, "tokens", tokenCount(usage))
	return strings.TrimSpace(answer), nil
}

func clarifyingQuestion(v *lead.ValidationError) string {
	switch v.Field {
	case "last_name":
		return "Подскажите, пожалуйста, вашу фамилию, чтобы менеджер знал, к кому обращаться."
	case "phone":
		return "Похоже, в номере телефона опечатка. Укажите его в международном формате, например +79001234567."
	case "email":
		return "Похоже, в email опечатка. Проверьте адрес и отправьте ещё раз."
	default:
		return askContactsReply
	}
}

func formatResults(results []search.Result) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		p := r.Product
		fmt.Fprintf(&b, "%d. %s (артикул: %s)", i+1, p.ProductName, p.Article)
		if category := categoryPath(p); category != "" {
			b.WriteString("\nКатегория: ")
			b.WriteString(category)
		}
		if p.Description != "" {
			b.WriteString("\n")
			b.WriteString(p.Description)
		}
		if p.PageURL != "" {
			b.WriteString("\nСсылка: ")
			b.WriteString(p.PageURL)
		}
	}
	return b.String()
}

func categoryPath(p *store.Product) string {
	parts := make([]string, 0, 3)
	for _, c := range []string{p.Category1, p.Category2, p.Category3} {
		if c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " / ")
}

func tokenCount(usage *llm.TokenUsage) int {
	if usage == nil {
		return 0
	}
	return usage.TotalTokens
}
