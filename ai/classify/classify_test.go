package classify

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/krapivin/consultbot/ai/llm"
	"github.com/krapivin/consultbot/ai/prompt"
)

type stubLLM struct {
	answer string
	err    error
	calls  int
}

func (s *stubLLM) Classify(context.Context, string, string) (string, *llm.TokenUsage, error) {
	s.calls++
	if s.err != nil {
		return "", nil, s.err
	}
	return s.answer, &llm.TokenUsage{TotalTokens: 5}, nil
}

func newClassifier(stub *stubLLM) *Classifier {
	return NewClassifier(stub, prompt.NewRegistry(nil))
}

func TestKeywordPrePass(t *testing.T) {
	tests := []struct {
		query string
		want  Intent
	}{
		{"Мне нужен менеджер", IntentContact},
		{"Какая цена на дрель?", IntentContact},
		{"Хочу купить перфоратор", IntentContact},
		{"есть ли у вас сверло без керна?", IntentProduct},
		{"Нужен подшипник 6205", IntentProduct},
		{"ищу масло моторное", IntentProduct},
		{"Где находится ваш офис?", IntentCompanyInfo},
		{"Расскажите о вас", IntentCompanyInfo},
		{"What is the name of your company?", IntentCompanyInfo},
	}
	for _, tt := range tests {
		stub := &stubLLM{answer: "GENERAL"}
		c := newClassifier(stub)
		got := c.Classify(context.Background(), tt.query)
		assert.Equal(t, tt.want, got, tt.query)
		// The fast path must not touch the LLM.
		assert.Zero(t, stub.calls, tt.query)
	}
}

func TestLLMFallbackOnAmbiguousQuery(t *testing.T) {
	stub := &stubLLM{answer: "SERVICE"}
	c := newClassifier(stub)
	got := c.Classify(context.Background(), "А вы выполняете монтаж?")
	assert.Equal(t, IntentService, got)
	assert.Equal(t, 1, stub.calls)
}

func TestLLMAnswerNormalization(t *testing.T) {
	tests := []struct {
		answer string
		want   Intent
	}{
		{"SERVICE", IntentService},
		{" general\n", IntentGeneral},
		{"COMPANY_INFO.", IntentCompanyInfo},
		{"Тип запроса: SERVICE", IntentService},
		{"что-то невнятное", IntentGeneral},
		{"", IntentGeneral},
	}
	for _, tt := range tests {
		c := newClassifier(&stubLLM{answer: tt.answer})
		got := c.Classify(context.Background(), "посоветуйте что-нибудь интересное")
		assert.Equal(t, tt.want, got, "answer=%q", tt.answer)
	}
}

func TestLLMErrorFallsBackToGeneral(t *testing.T) {
	c := newClassifier(&stubLLM{err: errors.New("provider down")})
	got := c.Classify(context.Background(), "посоветуйте что-нибудь интересное")
	assert.Equal(t, IntentGeneral, got)
}
