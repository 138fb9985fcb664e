package telegram

import (
	"context"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krapivin/consultbot/store"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func TestNotifyLeadGoesToManagerChat(t *testing.T) {
	sender := &fakeSender{}
	n, err := NewNotifier(sender, "100500", []int64{1, 2})
	require.NoError(t, err)

	err = n.NotifyLead(context.Background(), &store.Lead{
		LastName: "Иванов",
		Phone:    "+79001234567",
		Question: "нужен ноутбук",
		Source:   store.LeadSourceTelegram,
	})
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(100500), sender.sent[0].ChatID)
	assert.Contains(t, sender.sent[0].Text, "Иванов")
	assert.Contains(t, sender.sent[0].Text, "+79001234567")
}

func TestNotifyBroadcastsToAllAdmins(t *testing.T) {
	sender := &fakeSender{}
	n, err := NewNotifier(sender, "", []int64{10, 20, 30})
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), "отчёт"))
	require.Len(t, sender.sent, 3)
	assert.Equal(t, int64(10), sender.sent[0].ChatID)
	assert.Equal(t, int64(30), sender.sent[2].ChatID)
}

func TestAlertPrefixesSeverity(t *testing.T) {
	sender := &fakeSender{}
	n, err := NewNotifier(sender, "", []int64{10})
	require.NoError(t, err)

	require.NoError(t, n.Alert(context.Background(), "CRM недоступен"))
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Text, "CRITICAL")
	assert.Contains(t, sender.sent[0].Text, "CRM недоступен")
}

func TestNotifierConfigErrors(t *testing.T) {
	_, err := NewNotifier(&fakeSender{}, "not-a-number", nil)
	require.Error(t, err)

	n, err := NewNotifier(&fakeSender{}, "", nil)
	require.NoError(t, err)
	assert.Error(t, n.NotifyLead(context.Background(), &store.Lead{LastName: "Иванов"}))
	assert.Error(t, n.Notify(context.Background(), "msg"))
}

func TestActionKeyboard(t *testing.T) {
	keyboard := actionKeyboard([]string{"contact_manager", "unknown_action", "search_more"})
	require.NotNil(t, keyboard)
	require.Len(t, keyboard.InlineKeyboard, 1)
	assert.Len(t, keyboard.InlineKeyboard[0], 2)

	assert.Nil(t, actionKeyboard(nil))
	assert.Nil(t, actionKeyboard([]string{"unknown"}))
}
