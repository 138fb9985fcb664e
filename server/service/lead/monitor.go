package lead

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/internal/hybridlog"
	"github.com/krapivin/consultbot/internal/profile"
	"github.com/krapivin/consultbot/store"
)

// ScanSchedule is the cron spec the server registers Scan under.
const ScanSchedule = "@every 10m"

// MonitorStore is the conversation subset the idle scanner reads.
type MonitorStore interface {
	ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error)
	RecentWindow(ctx context.Context, conversationID int64, n int) ([]*store.Message, error)
	GetUser(ctx context.Context, find *store.FindUser) (*store.User, error)
	GetLead(ctx context.Context, find *store.FindLead) (*store.Lead, error)
}

// Reengager sends a "still there?" prompt when a qualifying user went idle
// but left too little contact data for a lead.
type Reengager interface {
	SendReengagement(ctx context.Context, chatID string) error
}

// Monitor scans open conversations for users who went quiet after showing
// buying signals and hands them to the pipeline.
type Monitor struct {
	profile   *profile.Profile
	store     MonitorStore
	pipeline  *Pipeline
	reengager Reengager
	logger    *hybridlog.Logger

	mu      sync.Mutex
	handled map[int64]time.Time // conversation id -> last activity already processed
}

func NewMonitor(p *profile.Profile, s MonitorStore, pipeline *Pipeline, r Reengager, logger *hybridlog.Logger) *Monitor {
	return &Monitor{
		profile:   p,
		store:     s,
		pipeline:  pipeline,
		reengager: r,
		logger:    logger,
		handled:   map[int64]time.Time{},
	}
}

// Scan processes every open conversation idle past the threshold. One idle
// episode is handled at most once: new activity starts a new episode.
func (m *Monitor) Scan(ctx context.Context) error {
	cutoff := time.Now().Add(-time.Duration(m.profile.LeadInactivityThreshold) * time.Minute)
	open := store.ConversationOpen
	conversations, err := m.store.ListConversations(ctx, &store.FindConversation{
		Status:             &open,
		LastActivityBefore: &cutoff,
	})
	if err != nil {
		return errors.Wrap(err, "failed to list idle conversations")
	}
	for _, conv := range conversations {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.process(ctx, conv)
	}
	return nil
}

func (m *Monitor) process(ctx context.Context, conv *store.Conversation) {
	if m.alreadyHandled(conv) {
		return
	}

	if _, err := m.store.GetLead(ctx, &store.FindLead{ConversationID: &conv.ID}); err == nil {
		m.markHandled(conv)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		m.logger.Error("failed to check conversation for existing lead",
			"conversation_id", conv.ID, "error", err)
		return
	}

	messages, err := m.store.RecentWindow(ctx, conv.ID, 20)
	if err != nil {
		m.logger.Error("failed to load conversation window",
			"conversation_id", conv.ID, "error", err)
		return
	}
	question, qualifying := qualifyingSignal(messages)
	if !qualifying {
		m.markHandled(conv)
		return
	}

	user, err := m.store.GetUser(ctx, &store.FindUser{ChatID: &conv.ChatID})
	if err != nil {
		m.logger.Error("failed to load user for idle capture",
			"chat_id", conv.ChatID, "error", err)
		return
	}

	_, err = m.pipeline.Capture(ctx, &Capture{
		ChatID:         conv.ChatID,
		UserID:         user.ID,
		ConversationID: &conv.ID,
		LastName:       user.LastName,
		Phone:          user.Phone,
		Email:          user.Email,
		Question:       question,
		Source:         store.LeadSource(conv.Platform),
		AutoCreated:    true,
	})
	switch {
	case err == nil:
		m.logger.Business("lead auto-created from idle conversation",
			"conversation_id", conv.ID, "chat_id", conv.ChatID)
	case IsValidation(err):
		// Not enough contact data for a valid lead: nudge instead.
		if m.reengager != nil {
			if sendErr := m.reengager.SendReengagement(ctx, conv.ChatID); sendErr != nil {
				m.logger.Error("re-engagement prompt failed",
					"chat_id", conv.ChatID, "error", sendErr)
			}
		}
		m.logger.Info("idle user lacks contact data, re-engagement scheduled",
			"conversation_id", conv.ID)
	default:
		m.logger.Error("idle lead capture failed",
			"conversation_id", conv.ID, "error", err)
		return
	}
	m.markHandled(conv)
}

// qualifyingSignal reports whether the window carries a PRODUCT or CONTACT
// intent, and returns the last user utterance as the lead question.
func qualifyingSignal(messages []*store.Message) (string, bool) {
	var question string
	qualifying := false
	for _, msg := range messages {
		if msg.Role == store.RoleUser && msg.Content != "" {
			question = msg.Content
		}
		if msg.Metadata == "" {
			continue
		}
		var meta struct {
			Intent string `json:"intent"`
		}
		if err := json.Unmarshal([]byte(msg.Metadata), &meta); err != nil {
			continue
		}
		if meta.Intent == "PRODUCT" || meta.Intent == "CONTACT" {
			qualifying = true
		}
	}
	return question, qualifying
}

func (m *Monitor) alreadyHandled(conv *store.Conversation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.handled[conv.ID]
	return ok && !conv.LastActivity.After(at)
}

func (m *Monitor) markHandled(conv *store.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handled[conv.ID] = conv.LastActivity
}
