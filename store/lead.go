package store

import "time"

// LeadStatus is the CRM delivery state of a lead.
type LeadStatus string

const (
	LeadPendingSync LeadStatus = "pending_sync"
	LeadSynced      LeadStatus = "synced"
	LeadFailed      LeadStatus = "failed"
)

// LeadSource identifies the first communication channel.
type LeadSource string

const (
	LeadSourceTelegram LeadSource = "TG"
	LeadSourceSalesIQ  LeadSource = "SalesIQ Chat"
)

// MaxSyncAttempts is the delivery attempt ceiling. A lead whose counter
// reaches this value without success is marked failed.
const MaxSyncAttempts = 2

// Lead is a captured prospect carrying delivery state toward the CRM.
// Invariants: at least one of Phone/Email set; LastName non-empty;
// SyncAttempts <= MaxSyncAttempts; Status == synced implies CRMID != "".
type Lead struct {
	ID             int64
	UserID         int64
	ChatID         string
	ConversationID *int64
	LastName       string
	Phone          string
	Email          string
	Whatsapp       string
	Company        string
	Question       string
	Source         LeadSource
	Status         LeadStatus
	SyncAttempts   int
	LastAttemptAt  *time.Time
	CRMID          string
	AutoCreated    bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type FindLead struct {
	ID             *int64
	ChatID         *string
	ConversationID *int64
	Status         *LeadStatus
	AutoCreated    *bool
	// SyncAttemptsBelow selects leads still eligible for delivery.
	SyncAttemptsBelow *int
	// LastAttemptBefore selects leads whose retry backoff has elapsed
	// (leads with no attempt yet always match).
	LastAttemptBefore *time.Time
}

type UpdateLead struct {
	ID            int64
	LastName      *string
	Phone         *string
	Email         *string
	Whatsapp      *string
	Company       *string
	Question      *string
	Status        *LeadStatus
	SyncAttempts  *int
	LastAttemptAt *time.Time
	CRMID         *string
}
