package store

import "time"

// LogLevel is the severity of a durable log record.
type LogLevel string

const (
	LogWarning  LogLevel = "WARNING"
	LogError    LogLevel = "ERROR"
	LogCritical LogLevel = "CRITICAL"
	// LogBusiness records analytics events: lead created, CRM synced,
	// catalog reindexed.
	LogBusiness LogLevel = "BUSINESS"
)

// SystemLog is one durable log record.
type SystemLog struct {
	ID            int64
	Level         LogLevel
	Message       string
	Metadata      string // JSON
	CorrelationID string
	CreatedAt     time.Time
}

type FindSystemLog struct {
	Level *LogLevel
	Since *time.Time
	Limit int
}
