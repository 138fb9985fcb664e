// Package hybridlog routes log records by severity: DEBUG and INFO go to
// stdout only, WARNING/ERROR/BUSINESS are additionally persisted to the
// system_log table, and CRITICAL records are persisted and fanned out to
// the configured alerters. Persistence and alerting happen on a background
// worker so logging never blocks a conversation turn.
package hybridlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/krapivin/consultbot/store"
)

// Alerter delivers a critical notification to an operator channel.
type Alerter interface {
	Alert(ctx context.Context, message string) error
}

// Sink persists a log record. *store.Store satisfies it.
type Sink interface {
	CreateSystemLog(ctx context.Context, create *store.SystemLog) (*store.SystemLog, error)
}

const (
	// queueSize bounds the background buffer; records beyond it are
	// dropped (and counted) rather than blocking the caller.
	queueSize = 256
	// persistTimeout caps a single sink write.
	persistTimeout = 5 * time.Second
	// alertTimeout caps a single alerter call.
	alertTimeout = 10 * time.Second
)

type entry struct {
	level         store.LogLevel
	message       string
	metadata      string
	correlationID string
	alert         bool
}

// Logger is the hybrid logger. The zero value is not usable; construct
// with New.
type Logger struct {
	slog          *slog.Logger
	sink          Sink
	alerters      []Alerter
	correlationID string

	queue   chan entry
	done    chan struct{}
	wg      *sync.WaitGroup
	once    *sync.Once
	dropped *atomic.Int64
}

// Option configures a Logger.
type Option func(*Logger)

// WithHandler replaces the default stdout JSON handler.
func WithHandler(h slog.Handler) Option {
	return func(l *Logger) {
		l.slog = slog.New(h)
	}
}

// WithAlerters sets the channels notified on CRITICAL records.
func WithAlerters(alerters ...Alerter) Option {
	return func(l *Logger) {
		l.alerters = alerters
	}
}

// New creates a Logger and starts its background worker. Sink may be nil,
// in which case records are written to stdout only.
func New(sink Sink, opts ...Option) *Logger {
	l := &Logger{
		slog:    slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})),
		sink:    sink,
		queue:   make(chan entry, queueSize),
		done:    make(chan struct{}),
		wg:      &sync.WaitGroup{},
		once:    &sync.Once{},
		dropped: &atomic.Int64{},
	}
	for _, opt := range opts {
		opt(l)
	}

	l.wg.Add(1)
	go l.run()
	return l
}

// WithCorrelation returns a logger that stamps every persisted record with
// the given correlation id. The clone shares the worker and queue.
func (l *Logger) WithCorrelation(id string) *Logger {
	clone := *l
	clone.correlationID = id
	clone.slog = l.slog.With("correlation_id", id)
	return &clone
}

func (l *Logger) Debug(msg string, args ...any) {
	l.slog.Debug(msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.slog.Info(msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.slog.Warn(msg, args...)
	l.enqueue(store.LogWarning, msg, args, false)
}

func (l *Logger) Error(msg string, args ...any) {
	l.slog.Error(msg, args...)
	l.enqueue(store.LogError, msg, args, false)
}

// Critical persists the record and notifies every alerter.
func (l *Logger) Critical(msg string, args ...any) {
	l.slog.Error(msg, append([]any{"critical", true}, args...)...)
	l.enqueue(store.LogCritical, msg, args, true)
}

// Business records a domain event (lead created, search served, provider
// switched) for later analysis.
func (l *Logger) Business(msg string, args ...any) {
	l.slog.Info(msg, append([]any{"business", true}, args...)...)
	l.enqueue(store.LogBusiness, msg, args, false)
}

// Dropped reports how many records were discarded due to a full buffer.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Flush stops the worker and drains the remaining buffer, bounded by ctx.
// The logger keeps writing to stdout after Flush but no longer persists.
func (l *Logger) Flush(ctx context.Context) error {
	l.once.Do(func() { close(l.done) })

	finished := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Logger) enqueue(level store.LogLevel, msg string, args []any, alert bool) {
	if l.sink == nil && !alert {
		return
	}
	e := entry{
		level:         level,
		message:       msg,
		metadata:      metadataJSON(args),
		correlationID: l.correlationID,
		alert:         alert,
	}
	select {
	case l.queue <- e:
	default:
		l.dropped.Add(1)
	}
}

func (l *Logger) run() {
	defer l.wg.Done()
	for {
		select {
		case e := <-l.queue:
			l.deliver(e)
		case <-l.done:
			// Drain what is already buffered, then stop.
			for {
				select {
				case e := <-l.queue:
					l.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) deliver(e entry) {
	if l.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		_, err := l.sink.CreateSystemLog(ctx, &store.SystemLog{
			Level:         e.level,
			Message:       e.message,
			Metadata:      e.metadata,
			CorrelationID: e.correlationID,
		})
		cancel()
		if err != nil {
			// The record already went to stdout; losing the table row is
			// acceptable.
			l.slog.Warn("failed to persist log record", "error", err)
		}
	}
	if !e.alert {
		return
	}
	for _, a := range l.alerters {
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		if err := a.Alert(ctx, e.message); err != nil {
			l.slog.Warn("failed to deliver alert", "error", err)
		}
		cancel()
	}
}

// metadataJSON renders slog-style key-value args as a JSON object.
func metadataJSON(args []any) string {
	if len(args) == 0 {
		return "{}"
	}
	m := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		switch v := args[i+1].(type) {
		case error:
			m[key] = v.Error()
		default:
			m[key] = v
		}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
