package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractContact(t *testing.T) {
	tests := []struct {
		text     string
		lastName string
		phone    string
		email    string
	}{
		{"свяжитесь со мной, +79001234567, Иванов", "Иванов", "+79001234567", ""},
		{"Меня зовут Иван Иванов, телефон 89001234567", "Иванов", "+79001234567", ""},
		{"Петров, ivanov@example.com", "Петров", "", "ivanov@example.com"},
		{"пишите на ivanov@example.com или +7 (900) 123-45-67", "", "+79001234567", "ivanov@example.com"},
		{"просто хочу поговорить", "", "", ""},
	}
	for _, tt := range tests {
		got := extractContact(tt.text)
		assert.Equal(t, tt.lastName, got.LastName, tt.text)
		assert.Equal(t, tt.phone, got.Phone, tt.text)
		assert.Equal(t, tt.email, got.Email, tt.text)
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"+79001234567", "+79001234567"},
		{"89001234567", "+79001234567"},
		{"79001234567", "+79001234567"},
		{"+7 (900) 123-45-67", "+79001234567"},
		{"+12025550123", "+12025550123"},
		// Too short, and a leading-zero country code.
		{"12345", ""},
		{"+0123456789", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePhone(tt.raw), tt.raw)
	}
}

func TestCleanSearchQuery(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"есть ли у вас сверло без керна?", "сверло без керна"},
		{"Я ищу подшипник 6205", "подшипник 6205"},
		{"хочу купить масло моторное", "масло моторное"},
		{"do you have drill bits?", "drill bits"},
		// Too little survives the cleaning: search the original text.
		{"есть ли у вас?", "есть ли у вас?"},
		{"DL001", "dl001"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanSearchQuery(tt.text), tt.text)
	}
}

func TestExtractLastNameSkipsStopWords(t *testing.T) {
	assert.Equal(t, "Сидоров", extractLastName("Моя фамилия Сидоров"))
	assert.Equal(t, "", extractLastName("позвоните мне завтра"))
	assert.Equal(t, "Smith", extractLastName("My name is John Smith"))
}
