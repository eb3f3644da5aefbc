package problem

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is the in-process Store used by tests and single-node dev
// runs.
type MemoryStore struct {
	mu       sync.RWMutex
	problems map[string]SourceRecord
	states   map[string][]byte // userID|problemID -> state JSON
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		problems: map[string]SourceRecord{},
		states:   map[string][]byte{},
	}
}

func stateKey(userID, problemID string) string { return userID + "|" + problemID }

func (m *MemoryStore) PutProblem(_ context.Context, rec SourceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.problems[rec.ID] = rec
	return nil
}

func (m *MemoryStore) GetProblem(_ context.Context, id string) (SourceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.problems[id]
	if !ok {
		return SourceRecord{}, &NotFoundError{Msg: fmt.Sprintf("problem %q not found", id)}
	}
	return rec, nil
}

func (m *MemoryStore) GetState(_ context.Context, userID, problemID string) (State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.states[stateKey(userID, problemID)]
	if !ok {
		return State{}, false, nil
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, false, &CorruptStateError{UserID: userID, ProblemID: problemID, Raw: raw, Err: err}
	}
	return st, true, nil
}

// SeedRawState plants a raw envelope, bypassing State marshalling. Tests
// use it to simulate legacy or damaged rows.
func (m *MemoryStore) SeedRawState(userID, problemID string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[stateKey(userID, problemID)] = raw
}

func (m *MemoryStore) PutState(_ context.Context, userID, problemID string, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[stateKey(userID, problemID)] = raw
	return nil
}

func (m *MemoryStore) DeleteState(_ context.Context, userID, problemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, stateKey(userID, problemID))
	return nil
}
