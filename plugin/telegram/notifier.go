package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/krapivin/consultbot/store"
)

// Sender is the outbound surface of the bot API the notifier needs;
// *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier delivers out-of-band messages: lead notifications to the
// manager chat, alerts and cost reports to the admins, re-engagement
// prompts to users. It satisfies lead.Notifier, costguard.Notifier,
// hybridlog.Alerter and lead.Reengager.
type Notifier struct {
	sender        Sender
	managerChatID int64
	adminIDs      []int64
	limiter       *rate.Limiter
}

func NewNotifier(sender Sender, managerChatID string, adminIDs []int64) (*Notifier, error) {
	var managerID int64
	if managerChatID != "" {
		var err error
		managerID, err = strconv.ParseInt(managerChatID, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid manager chat id %q", managerChatID)
		}
	}
	return &Notifier{
		sender:        sender,
		managerChatID: managerID,
		adminIDs:      adminIDs,
		limiter:       rate.NewLimiter(rate.Limit(sendRatePerSecond), sendRatePerSecond),
	}, nil
}

func (n *Notifier) Name() string { return "telegram" }

// NotifyLead tells the manager chat about a new or updated lead.
func (n *Notifier) NotifyLead(ctx context.Context, lead *store.Lead) error {
	if n.managerChatID == 0 {
		return errors.New("manager telegram chat is not configured")
	}
	return n.send(ctx, n.managerChatID, formatLead(lead))
}

// Notify broadcasts a message to every admin. Used for cost alerts and
// usage reports.
func (n *Notifier) Notify(ctx context.Context, message string) error {
	if len(n.adminIDs) == 0 {
		return errors.New("no admin telegram ids configured")
	}
	var firstErr error
	for _, id := range n.adminIDs {
		if err := n.send(ctx, id, message); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Alert delivers a critical system alert to the admins.
func (n *Notifier) Alert(ctx context.Context, message string) error {
	return n.Notify(ctx, "🚨 CRITICAL\n"+message)
}

// SendReengagement nudges an idle user who showed buying signals.
func (n *Notifier) SendReengagement(ctx context.Context, chatID string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid chat id %q", chatID)
	}
	return n.send(ctx, id,
		"Вы недавно интересовались нашими товарами. Если вопрос ещё актуален, "+
			"оставьте фамилию и телефон или email, и менеджер подберёт для вас лучший вариант.")
}

func (n *Notifier) send(ctx context.Context, chatID int64, text string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := n.sender.Send(tgbotapi.NewMessage(chatID, text))
	return errors.Wrap(err, "telegram notification failed")
}

func formatLead(lead *store.Lead) string {
	var b strings.Builder
	if lead.AutoCreated {
		b.WriteString("🔔 Новый лид (автоматически, по неактивности)\n")
	} else {
		b.WriteString("🔔 Новый лид\n")
	}
	fmt.Fprintf(&b, "Фамилия: %s\n", lead.LastName)
	if lead.Phone != "" {
		fmt.Fprintf(&b, "Телефон: %s\n", lead.Phone)
	}
	if lead.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", lead.Email)
	}
	if lead.Company != "" {
		fmt.Fprintf(&b, "Компания: %s\n", lead.Company)
	}
	if lead.Question != "" {
		fmt.Fprintf(&b, "Вопрос: %s\n", lead.Question)
	}
	fmt.Fprintf(&b, "Источник: %s", lead.Source)
	return b.String()
}
