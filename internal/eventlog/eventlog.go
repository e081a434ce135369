package eventlog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of fabric event
type EventType string

const (
	EventClientConnected       EventType = "client_connected"
	EventClientDisconnected    EventType = "client_disconnected"
	EventClientEvicted         EventType = "client_evicted"
	EventNotificationBroadcast EventType = "notification_broadcast"
	EventDeletionTracked       EventType = "deletion_tracked"
	EventDeletionCompleted     EventType = "deletion_completed"
	EventHistoryProcessed      EventType = "history_processed"
)

// Logger provides async event logging to the database
type Logger struct {
	db *pgxpool.Pool
	wg sync.WaitGroup
}

// New creates a new event logger. A nil pool turns every call into a no-op.
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, subject string, eventType EventType, data map[string]any) error {
	if l == nil || l.db == nil || subject == "" {
		return nil // Silently skip if no DB or subject
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO fabric_events (subject, event_type, event_data)
		VALUES ($1, $2, $3)
	`, subject, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(subject string, eventType EventType, data map[string]any) {
	if l == nil || l.db == nil || subject == "" {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, subject, eventType, data)
	}()
}

// Record is LogAsync with an untyped event name.
func (l *Logger) Record(subject, event string, data map[string]any) {
	l.LogAsync(subject, EventType(event), data)
}

// Wait blocks until in-flight async writes have finished.
func (l *Logger) Wait() {
	if l == nil {
		return
	}
	l.wg.Wait()
}
