// Package classify decides what a user message is about. A keyword
// pre-pass answers the common cases without an LLM round trip; everything
// else goes to the active provider, and any failure degrades to GENERAL
// so the conversation always gets a reply.
package classify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/krapivin/consultbot/ai/llm"
	"github.com/krapivin/consultbot/ai/prompt"
)

// Intent is the routing decision for one user message.
type Intent string

const (
	IntentProduct     Intent = "PRODUCT"      // looking for a specific product
	IntentService     Intent = "SERVICE"      // asking about company services
	IntentCompanyInfo Intent = "COMPANY_INFO" // asking about the company itself
	IntentContact     Intent = "CONTACT"      // wants a manager, order, or price
	IntentGeneral     Intent = "GENERAL"      // everything else
)

// LLM is the completion surface the classifier needs; *llm.Gateway
// satisfies it.
type LLM interface {
	Classify(ctx context.Context, system, user string) (string, *llm.TokenUsage, error)
}

// Prompts resolves the classification prompt text.
type Prompts interface {
	Render(name string, vars map[string]string) string
}

// Classifier routes messages to intents.
type Classifier struct {
	llm     LLM
	prompts Prompts
	timeout time.Duration
}

func NewClassifier(l LLM, p Prompts) *Classifier {
	return &Classifier{llm: l, prompts: p, timeout: 10 * time.Second}
}

// Classify returns the intent for query. It never returns an error: when
// both the pre-pass and the LLM fail to produce a known intent the result
// is GENERAL.
func (c *Classifier) Classify(ctx context.Context, query string) Intent {
	if intent, ok := keywordIntent(query); ok {
		slog.Debug("query classified by keywords", "intent", intent)
		return intent
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	system := c.prompts.Render(prompt.NameClassification, map[string]string{"user_query": query})
	answer, _, err := c.llm.Classify(ctx, system, query)
	if err != nil {
		slog.Warn("llm classification failed, falling back to GENERAL", "error", err)
		return IntentGeneral
	}
	intent, ok := parseIntent(answer)
	if !ok {
		slog.Warn("llm returned unknown intent", "answer", answer)
		return IntentGeneral
	}
	slog.Debug("query classified by llm", "intent", intent)
	return intent
}

// keywordIntent is the fast path. Order matters: a message mentioning both
// a price and a product name is a CONTACT signal first.
func keywordIntent(query string) (Intent, bool) {
	q := strings.ToLower(query)
	if containsAny(q, contactKeywords) {
		return IntentContact, true
	}
	if containsAny(q, productKeywords) {
		return IntentProduct, true
	}
	if containsAny(q, companyKeywords) {
		return IntentCompanyInfo, true
	}
	return "", false
}

func containsAny(q string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

func parseIntent(answer string) (Intent, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(answer))
	normalized = strings.Trim(normalized, ".,!:;\"'")
	switch Intent(normalized) {
	case IntentProduct, IntentService, IntentCompanyInfo, IntentContact, IntentGeneral:
		return Intent(normalized), true
	}
	// Providers sometimes wrap the label in a sentence.
	for _, intent := range []Intent{IntentCompanyInfo, IntentProduct, IntentService, IntentContact, IntentGeneral} {
		if strings.Contains(normalized, string(intent)) {
			return intent, true
		}
	}
	return "", false
}

var contactKeywords = []string{
	"менеджер", "manager",
	"связаться", "connect", "contact",
	"позвонить", "call", "phone",
	"заказать", "order",
	"купить", "buy", "purchase",
	"цена", "price", "стоимость", "cost",
	"консультация", "consultation",
	"помощь менеджера", "manager help",
	"человек", "person", "оператор", "operator",
}

var productKeywords = []string{
	"товар", "product",
	"оборудование", "equipment",
	"запчасть", "part", "spare",
	"деталь", "detail",
	"артикул", "article", "sku",
	"модель", "model",
	"найти", "find", "искать", "search",
	"нужен", "need", "требуется", "required",
	"болт", "винт", "гайка", "шайба",
	"подшипник", "bearing",
	"фильтр", "filter",
	"масло", "oil",
	"ремень", "belt",
	"сверло", "drill", "bit",
	"керн", "core",
	"есть ли у вас", "продаете ли", "найдется ли", "имеется ли",
	"у вас есть", "в наличии", "есть в наличии",
}

var companyKeywords = []string{
	"компания", "company",
	"о вас", "about you", "about us",
	"кто вы", "who are you",
	"где находится", "where located", "адрес", "address",
	"контакты", "contacts",
	"телефон компании", "company phone",
	"как называется", "what is the name",
	"история", "history",
	"когда основана", "when founded",
	"сколько лет", "how old",
	"чем занимаетесь", "what do you do",
	"ваши услуги", "your services",
}
