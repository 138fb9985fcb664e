// Package telegram is the Telegram transport: the long-polling bot loop
// that feeds user messages to the orchestrator, and the notifier that
// delivers manager and admin messages.
package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/krapivin/consultbot/ai/orchestrator"
)

// Telegram allows ~30 messages per second bot-wide; staying under that
// keeps the API from returning 429s under load.
const sendRatePerSecond = 25

// actionLabels maps suggested actions to the button captions users see.
var actionLabels = map[string]string{
	orchestrator.ActionContactManager:  "Связаться с менеджером",
	orchestrator.ActionSearchMore:      "Показать ещё",
	orchestrator.ActionRefineSearch:    "Уточнить запрос",
	orchestrator.ActionSearchProducts:  "Найти товар",
	orchestrator.ActionLearnMore:       "Подробнее",
	orchestrator.ActionLearnServices:   "Об услугах",
	orchestrator.ActionProvideContacts: "Оставить контакты",
}

// Turner processes one inbound message; *orchestrator.Orchestrator
// satisfies it.
type Turner interface {
	ProcessTurn(ctx context.Context, in *orchestrator.Incoming) *orchestrator.Reply
}

// Bot runs the long-polling update loop.
type Bot struct {
	api     *tgbotapi.BotAPI
	turner  Turner
	limiter *rate.Limiter
	turns   sync.WaitGroup
}

func NewBot(token string, turner Turner) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create telegram bot")
	}
	slog.Info("telegram bot authorized", "username", api.Self.UserName)
	return NewBotWithAPI(api, turner), nil
}

// NewBotWithAPI wraps an already-authorized client, so the server can
// share one client between the update loop and the notifier.
func NewBotWithAPI(api *tgbotapi.BotAPI, turner Turner) *Bot {
	return &Bot{
		api:     api,
		turner:  turner,
		limiter: rate.NewLimiter(rate.Limit(sendRatePerSecond), sendRatePerSecond),
	}
}

// Start consumes updates until ctx is cancelled. Each chat's turns are
// serialized inside the orchestrator, so updates fan out to goroutines.
func (b *Bot) Start(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)

	// Cancelling ctx stops the intake; turns already picked up run to
	// completion so the reply is not lost mid-shutdown.
	turnCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			b.turns.Add(1)
			go func(msg *tgbotapi.Message) {
				defer b.turns.Done()
				b.handle(turnCtx, msg)
			}(update.Message)
		}
	}
}

// Drain waits for in-flight turns to finish after the intake stopped.
func (b *Bot) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.turns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bot) handle(ctx context.Context, msg *tgbotapi.Message) {
	in := &orchestrator.Incoming{
		ChatID:   chatIDString(msg.Chat.ID),
		Platform: "TG",
		Text:     msg.Text,
	}
	if msg.From != nil {
		in.FirstName = msg.From.FirstName
		in.LastName = msg.From.LastName
		in.Username = msg.From.UserName
	}

	reply := b.turner.ProcessTurn(ctx, in)
	if err := b.send(ctx, msg.Chat.ID, reply.Text, reply.SuggestedActions); err != nil {
		slog.Error("failed to send telegram reply", "chat_id", msg.Chat.ID, "error", err)
	}
}

func (b *Bot) send(ctx context.Context, chatID int64, text string, actions []string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	out := tgbotapi.NewMessage(chatID, text)
	if keyboard := actionKeyboard(actions); keyboard != nil {
		out.ReplyMarkup = keyboard
	}
	_, err := b.api.Send(out)
	return errors.Wrap(err, "telegram send failed")
}

func chatIDString(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ActionKeyboard renders suggested actions as inline buttons; nil when
// none of them have a caption. The webhook handler uses it to attach the
// same keyboard the long-polling loop sends.
func ActionKeyboard(actions []string) *tgbotapi.InlineKeyboardMarkup {
	return actionKeyboard(actions)
}

func actionKeyboard(actions []string) *tgbotapi.InlineKeyboardMarkup {
	var buttons []tgbotapi.InlineKeyboardButton
	for _, action := range actions {
		label, ok := actionLabels[action]
		if !ok {
			continue
		}
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(label, action))
	}
	if len(buttons) == 0 {
		return nil
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(buttons)
	return &keyboard
}
