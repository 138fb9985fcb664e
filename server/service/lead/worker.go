package lead

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/krapivin/consultbot/internal/hybridlog"
	"github.com/krapivin/consultbot/plugin/crm"
	"github.com/krapivin/consultbot/store"
)

const (
	// retryDelay is how long a lead waits after a transient failure.
	retryDelay = 30 * time.Minute
	// scanInterval is how often the worker looks for due leads.
	scanInterval = time.Minute
	// deliveryParallelism bounds concurrent CRM calls.
	deliveryParallelism = 4
)

// CRM is the delivery surface of the external CRM; *crm.Client satisfies it.
type CRM interface {
	SearchByContact(ctx context.Context, phone, email string) (*crm.Record, error)
	CreateLead(ctx context.Context, payload *crm.LeadPayload) (string, error)
	AddNote(ctx context.Context, leadID, text string) error
}

// Worker drains pending_sync leads toward the CRM. Deliveries for distinct
// leads run in parallel; the same lead is never delivered twice at once.
type Worker struct {
	store  Store
	crm    CRM
	logger *hybridlog.Logger

	mu       sync.Mutex
	inflight map[int64]struct{} // lead ids with a delivery in progress
}

func NewWorker(s Store, c CRM, logger *hybridlog.Logger) *Worker {
	return &Worker{store: s, crm: c, logger: logger, inflight: map[int64]struct{}{}}
}

// acquire claims a lead for delivery. It returns false when the lead is
// already in flight. The set holds at most deliveryParallelism entries.
func (w *Worker) acquire(leadID int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[leadID]; busy {
		return false
	}
	w.inflight[leadID] = struct{}{}
	return true
}

func (w *Worker) release(leadID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, leadID)
}

// Start runs the delivery loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("crm delivery scan failed", "error", err)
			}
		}
	}
}

// RunOnce delivers every lead that is due: pending_sync, under the attempt
// ceiling, and past the retry delay since its last attempt.
func (w *Worker) RunOnce(ctx context.Context) error {
	pending := store.LeadPendingSync
	below := store.MaxSyncAttempts
	cutoff := time.Now().Add(-retryDelay)
	leads, err := w.store.ListLeads(ctx, &store.FindLead{
		Status:            &pending,
		SyncAttemptsBelow: &below,
		LastAttemptBefore: &cutoff,
	})
	if err != nil {
		return errors.Wrap(err, "failed to list due leads")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(deliveryParallelism)
	for _, due := range leads {
		lead := due
		g.Go(func() error {
			w.Deliver(ctx, lead.ID)
			return nil
		})
	}
	return g.Wait()
}

// Deliver pushes one lead to the CRM. Safe to call concurrently: a lead
// already in flight is skipped, and the pending status is re-checked after
// the claim so a synced lead is never re-processed.
func (w *Worker) Deliver(ctx context.Context, leadID int64) {
	if !w.acquire(leadID) {
		return
	}
	defer w.release(leadID)

	lead, err := w.store.GetLead(ctx, &store.FindLead{ID: &leadID})
	if err != nil {
		w.logger.Error("failed to load lead for delivery", "lead_id", leadID, "error", err)
		return
	}
	if lead.Status != store.LeadPendingSync {
		return
	}

	crmID, err := w.push(ctx, lead)
	if err != nil {
		w.recordFailure(ctx, lead, err)
		return
	}

	// Success leaves the attempt counter untouched: it counts failures.
	synced := store.LeadSynced
	if _, err := w.store.UpdateLead(ctx, &store.UpdateLead{
		ID:     lead.ID,
		Status: &synced,
		CRMID:  &crmID,
	}); err != nil {
		w.logger.Error("failed to mark lead synced", "lead_id", lead.ID, "error", err)
		return
	}
	w.logger.Business("lead synced to crm", "lead_id", lead.ID, "crm_id", crmID)
}

// push dedupes by phone or email first: an existing CRM record gets the
// question as a note instead of a duplicate lead.
func (w *Worker) push(ctx context.Context, lead *store.Lead) (string, error) {
	record, err := w.crm.SearchByContact(ctx, lead.Phone, lead.Email)
	if err != nil {
		return "", errors.Wrap(err, "duplicate search failed")
	}
	if record != nil {
		if err := w.crm.AddNote(ctx, record.ID, noteText(lead)); err != nil {
			return "", errors.Wrap(err, "failed to attach note")
		}
		return record.ID, nil
	}
	crmID, err := w.crm.CreateLead(ctx, &crm.LeadPayload{
		LastName:                  lead.LastName,
		FirstCommunicationChannel: string(lead.Source),
		Phone:                     lead.Phone,
		Email:                     lead.Email,
		Whatsapp:                  lead.Whatsapp,
		Company:                   lead.Company,
		Description:               lead.Question,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to create crm lead")
	}
	return crmID, nil
}

func (w *Worker) recordFailure(ctx context.Context, lead *store.Lead, cause error) {
	attempts := lead.SyncAttempts + 1
	now := time.Now()
	update := &store.UpdateLead{
		ID:            lead.ID,
		SyncAttempts:  &attempts,
		LastAttemptAt: &now,
	}
	exhausted := attempts >= store.MaxSyncAttempts || !crm.IsTransient(cause)
	if exhausted {
		failed := store.LeadFailed
		update.Status = &failed
	}
	if _, err := w.store.UpdateLead(ctx, update); err != nil {
		w.logger.Error("failed to record delivery failure", "lead_id", lead.ID, "error", err)
		return
	}
	if exhausted {
		w.logger.Critical("crm delivery failed permanently",
			"lead_id", lead.ID, "attempts", attempts, "error", cause)
		return
	}
	w.logger.Warn("crm delivery failed, will retry",
		"lead_id", lead.ID, "attempts", attempts, "retry_in", retryDelay, "error", cause)
}

func noteText(lead *store.Lead) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Повторное обращение через %s от %s.", lead.Source, lead.LastName)
	if lead.Question != "" {
		b.WriteString("\nВопрос: ")
		b.WriteString(lead.Question)
	}
	return b.String()
}
