package email

import (
	"context"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krapivin/consultbot/store"
)

func testConfig() *Config {
	return &Config{
		Host:       "smtp.example.com",
		Port:       587,
		Username:   "bot",
		Password:   "secret",
		From:       "bot@example.com",
		Recipients: []string{"m1@example.com", "m2@example.com"},
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, testConfig().Validate())

	broken := testConfig()
	broken.Host = ""
	assert.Error(t, broken.Validate())

	broken = testConfig()
	broken.Port = 0
	assert.Error(t, broken.Validate())

	broken = testConfig()
	broken.Recipients = nil
	assert.Error(t, broken.Validate())
}

func TestNotifyLead(t *testing.T) {
	n, err := NewNotifier(testConfig())
	require.NoError(t, err)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	n.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err = n.NotifyLead(context.Background(), &store.Lead{
		LastName: "Иванов",
		Phone:    "+79001234567",
		Question: "нужен ноутбук",
		Source:   store.LeadSourceTelegram,
	})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "bot@example.com", gotFrom)
	assert.Equal(t, []string{"m1@example.com", "m2@example.com"}, gotTo)
	body := string(gotMsg)
	assert.Contains(t, body, "Subject: Новый лид: Иванов")
	assert.Contains(t, body, "+79001234567")
}

func TestAlert(t *testing.T) {
	n, err := NewNotifier(testConfig())
	require.NoError(t, err)

	var gotMsg []byte
	n.send = func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		gotMsg = msg
		return nil
	}

	require.NoError(t, n.Alert(context.Background(), "CRM недоступен"))
	assert.Contains(t, string(gotMsg), "CRITICAL")
	assert.Contains(t, string(gotMsg), "CRM недоступен")
}
