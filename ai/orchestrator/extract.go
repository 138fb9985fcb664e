package orchestrator

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/krapivin/consultbot/ai/prompt"
)

var (
	phonePattern     = regexp.MustCompile(`\+?\d[\d\s\-()]{5,}\d`)
	emailPattern     = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	intlPhonePattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)
)

// stopPhrases are lead-ins users wrap around the actual product query.
var stopPhrases = []string{
	"есть ли у вас",
	"продаете ли вы",
	"продаёте ли вы",
	"найдется ли у вас",
	"найдётся ли у вас",
	"имеется ли у вас",
	"есть ли",
	"продаете ли",
	"продаёте ли",
	"у вас есть",
	"в наличии есть",
	"есть в наличии",
	"мне нужен",
	"мне нужна",
	"мне нужно",
	"нужен ли",
	"я ищу",
	"ищу",
	"хочу купить",
	"хочу заказать",
	"подскажите",
	"скажите",
	"do you have",
	"i need",
	"i am looking for",
	"i'm looking for",
	"looking for",
}

// nameStopWords never are a person's last name even when capitalized.
var nameStopWords = map[string]bool{
	"меня": true, "зовут": true, "телефон": true, "почта": true,
	"email": true, "свяжитесь": true, "позвоните": true, "напишите": true,
	"моя": true, "мой": true, "фамилия": true, "имя": true,
	"my": true, "name": true, "is": true, "phone": true, "call": true,
}

// contactData is what can be pulled out of a free-form contact message.
type contactData struct {
	LastName string
	Phone    string
	Email    string
}

func (c contactData) hasContact() bool {
	return c.Phone != "" || c.Email != ""
}

// extractContact pulls a phone, email and candidate last name out of a
// message like "свяжитесь со мной, +79001234567, Иванов".
func extractContact(text string) contactData {
	var data contactData
	remainder := text

	if m := emailPattern.FindString(remainder); m != "" {
		data.Email = m
		remainder = strings.Replace(remainder, m, " ", 1)
	}
	if m := phonePattern.FindString(remainder); m != "" {
		if phone := normalizePhone(m); phone != "" {
			data.Phone = phone
			remainder = strings.Replace(remainder, m, " ", 1)
		}
	}
	data.LastName = extractLastName(remainder)
	return data
}

// normalizePhone strips formatting and converts domestic Russian forms
// (8XXXXXXXXXX, 7XXXXXXXXXX) to +7 international.
func normalizePhone(raw string) string {
	var b strings.Builder
	for i, r := range raw {
		if r >= '0' && r <= '9' || r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	phone := b.String()
	switch {
	case strings.HasPrefix(phone, "8") && len(phone) == 11:
		phone = "+7" + phone[1:]
	case strings.HasPrefix(phone, "7") && len(phone) == 11:
		phone = "+" + phone
	case !strings.HasPrefix(phone, "+"):
		phone = "+" + phone
	}
	if !intlPhonePattern.MatchString(phone) {
		return ""
	}
	return phone
}

// extractLastName returns the last capitalized word that is not a known
// lead-in, or "" when the message has none.
func extractLastName(text string) string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	var name string
	for _, field := range fields {
		first, _ := utf8.DecodeRuneInString(field)
		if !unicode.IsUpper(first) || utf8.RuneCountInString(field) < 2 {
			continue
		}
		if nameStopWords[strings.ToLower(field)] {
			continue
		}
		name = field
	}
	return name
}

// extractSearchQuery distills the product terms out of a conversational
// message. The LLM extraction runs first; a keyword cleaner backs it up so
// the search never waits on a broken provider.
func (o *Orchestrator) extractSearchQuery(ctx context.Context, text string) string {
	system := o.prompts.Render(prompt.NameSearchQueryExtraction, map[string]string{"user_query": text})
	extracted, usage, err := o.llm.Classify(ctx, system, text)
	if err == nil {
		extracted = strings.Trim(strings.TrimSpace(extracted), `"'`)
		if utf8.RuneCountInString(extracted) >= 2 {
			o.logger.Debug("search query extracted by llm",
				"original", text, "query", extracted, "tokens", tokenCount(usage))
			return extracted
		}
	} else {
		o.logger.Warn("llm query extraction failed, using keyword cleaner", "error", err)
	}
	return cleanSearchQuery(text)
}

// cleanSearchQuery is the deterministic fallback: strip lead-in phrases
// and question punctuation; if too little survives, search the original.
func cleanSearchQuery(text string) string {
	cleaned := strings.ToLower(strings.TrimSpace(text))
	for _, phrase := range stopPhrases {
		cleaned = strings.ReplaceAll(cleaned, phrase, " ")
	}
	cleaned = strings.Trim(cleaned, " ?!.,;:")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if utf8.RuneCountInString(cleaned) < 3 {
		return strings.TrimSpace(text)
	}
	return cleaned
}
