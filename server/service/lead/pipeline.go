// Package lead owns the prospect lifecycle: capture and validation, durable
// queuing toward the CRM, the background delivery worker, and the
// inactivity-driven capture loop.
package lead

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/internal/hybridlog"
	"github.com/krapivin/consultbot/store"
)

// phonePattern is E.164 with an optional plus.
var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// ValidationError reports bad contact data. The orchestrator turns it into
// a clarifying question instead of failing the turn.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a contact-data problem.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Notifier is one manager notification channel. The Telegram and email
// notifiers are independent: one failing must not silence the other.
type Notifier interface {
	Name() string
	NotifyLead(ctx context.Context, lead *store.Lead) error
}

// Store is the subset of the data layer the pipeline needs.
type Store interface {
	GetLead(ctx context.Context, find *store.FindLead) (*store.Lead, error)
	CreateLead(ctx context.Context, create *store.Lead) (*store.Lead, error)
	UpdateLead(ctx context.Context, update *store.UpdateLead) (*store.Lead, error)
	ListLeads(ctx context.Context, find *store.FindLead) ([]*store.Lead, error)
}

// Capture is the contact data collected for one prospect.
type Capture struct {
	ChatID         string
	UserID         int64
	ConversationID *int64
	LastName       string
	Phone          string
	Email          string
	Whatsapp       string
	Company        string
	Question       string
	Source         store.LeadSource
	AutoCreated    bool
}

// Pipeline validates and persists leads, then fans out notifications.
type Pipeline struct {
	store     Store
	logger    *hybridlog.Logger
	notifiers []Notifier
}

func NewPipeline(s Store, logger *hybridlog.Logger, notifiers ...Notifier) *Pipeline {
	return &Pipeline{store: s, logger: logger, notifiers: notifiers}
}

// Capture creates a lead for chat_id, or augments the open pending one.
// The lead is durably persisted before any notification or CRM work so a
// crash after this call is recoverable by the delivery worker.
func (p *Pipeline) Capture(ctx context.Context, c *Capture) (*store.Lead, error) {
	normalize(c)

	pending := store.LeadPendingSync
	existing, err := p.store.GetLead(ctx, &store.FindLead{ChatID: &c.ChatID, Status: &pending})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, errors.Wrap(err, "failed to look up pending lead")
	}

	var lead *store.Lead
	if existing != nil {
		merged := mergeCapture(existing, c)
		if err := validate(merged); err != nil {
			return nil, err
		}
		lead, err = p.store.UpdateLead(ctx, &store.UpdateLead{
			ID:       existing.ID,
			LastName: &merged.LastName,
			Phone:    &merged.Phone,
			Email:    &merged.Email,
			Whatsapp: &merged.Whatsapp,
			Company:  &merged.Company,
			Question: &merged.Question,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to update lead")
		}
		p.logger.Business("lead updated", "lead_id", lead.ID, "chat_id", lead.ChatID)
	} else {
		candidate := &store.Lead{
			UserID:         c.UserID,
			ChatID:         c.ChatID,
			ConversationID: c.ConversationID,
			LastName:       c.LastName,
			Phone:          c.Phone,
			Email:          c.Email,
			Whatsapp:       c.Whatsapp,
			Company:        c.Company,
			Question:       c.Question,
			Source:         c.Source,
			Status:         store.LeadPendingSync,
			AutoCreated:    c.AutoCreated,
		}
		if err := validate(candidate); err != nil {
			return nil, err
		}
		lead, err = p.store.CreateLead(ctx, candidate)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create lead")
		}
		p.logger.Business("lead created",
			"lead_id", lead.ID, "chat_id", lead.ChatID, "auto_created", lead.AutoCreated)
	}

	p.notify(ctx, lead)
	return lead, nil
}

// notify fans out to every channel. Failures are logged per channel and
// never abort the others or the capture itself.
func (p *Pipeline) notify(ctx context.Context, lead *store.Lead) {
	for _, n := range p.notifiers {
		if err := n.NotifyLead(ctx, lead); err != nil {
			p.logger.Error("lead notification failed",
				"channel", n.Name(), "lead_id", lead.ID, "error", err)
		}
	}
}

func normalize(c *Capture) {
	c.LastName = strings.TrimSpace(c.LastName)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Email = strings.TrimSpace(c.Email)
	c.Whatsapp = strings.TrimSpace(c.Whatsapp)
	c.Company = strings.TrimSpace(c.Company)
	c.Question = strings.TrimSpace(c.Question)
	if c.Source == "" {
		c.Source = store.LeadSourceTelegram
	}
}

func validate(lead *store.Lead) error {
	if lead.LastName == "" {
		return &ValidationError{Field: "last_name", Reason: "must not be empty"}
	}
	if lead.Phone == "" && lead.Email == "" {
		return &ValidationError{Field: "contact", Reason: "phone or email is required"}
	}
	if lead.Phone != "" && !phonePattern.MatchString(lead.Phone) {
		return &ValidationError{Field: "phone", Reason: "must be an international number like +79001234567"}
	}
	if lead.Email != "" {
		if _, err := mail.ParseAddress(lead.Email); err != nil {
			return &ValidationError{Field: "email", Reason: "must be a valid address"}
		}
	}
	return nil
}

// mergeCapture overlays non-empty capture fields onto the stored lead.
func mergeCapture(existing *store.Lead, c *Capture) *store.Lead {
	merged := *existing
	if c.LastName != "" {
		merged.LastName = c.LastName
	}
	if c.Phone != "" {
		merged.Phone = c.Phone
	}
	if c.Email != "" {
		merged.Email = c.Email
	}
	if c.Whatsapp != "" {
		merged.Whatsapp = c.Whatsapp
	}
	if c.Company != "" {
		merged.Company = c.Company
	}
	if c.Question != "" {
		if merged.Question != "" && merged.Question != c.Question {
			merged.Question = merged.Question + "\n" + c.Question
		} else {
			merged.Question = c.Question
		}
	}
	return &merged
}
