// Package track records the engine's tracking events and grade
// publications. Events are appended to an event log; the problem module
// buffers them and flushes only after its state write succeeds.
package track

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"
)

// Event is one tracking record, e.g. problem_check or showanswer.
type Event struct {
	Type   string
	UserID string
	Key    string // problem location
	Data   map[string]any
}

// Tracker receives tracking events.
type Tracker interface {
	Emit(ctx context.Context, e Event) error
}

// GradePublisher receives grade changes on the "grade" channel.
type GradePublisher interface {
	PublishGrade(ctx context.Context, userID, problemID string, value, max float64) error
}

// SQLEventLog appends events to the event_log table.
type SQLEventLog struct {
	db *sql.DB
}

func NewSQLEventLog(db *sql.DB) *SQLEventLog { return &SQLEventLog{db: db} }

func (r *SQLEventLog) Emit(ctx context.Context, e Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO event_log (user_id, typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		e.UserID, e.Type, e.Key, string(data), time.Now().Unix())
	return err
}

// PublishGrade records the grade change on the same log under the "grade"
// channel.
func (r *SQLEventLog) PublishGrade(ctx context.Context, userID, problemID string, value, max float64) error {
	return r.Emit(ctx, Event{
		Type:   "grade",
		UserID: userID,
		Key:    problemID,
		Data:   map[string]any{"value": value, "max_value": max},
	})
}

// MemoryTracker collects events in memory; used in tests and as a fallback
// sink.
type MemoryTracker struct {
	mu     sync.Mutex
	Events []Event
	Grades []GradeRecord
}

type GradeRecord struct {
	UserID    string
	ProblemID string
	Value     float64
	Max       float64
}

func NewMemoryTracker() *MemoryTracker { return &MemoryTracker{} }

func (m *MemoryTracker) Emit(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, e)
	return nil
}

func (m *MemoryTracker) PublishGrade(_ context.Context, userID, problemID string, value, max float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Grades = append(m.Grades, GradeRecord{UserID: userID, ProblemID: problemID, Value: value, Max: max})
	return nil
}

// ByType returns the collected events with the given type.
func (m *MemoryTracker) ByType(typ string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.Events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
