package problem

import "context"

// SourceRecord is one stored problem: its XML plus authored settings.
type SourceRecord struct {
	ID       string
	XML      []byte
	Settings []byte // JSON, see settingsJSON
}

// Store persists problem sources and per-learner state envelopes.
type Store interface {
	PutProblem(ctx context.Context, rec SourceRecord) error
	GetProblem(ctx context.Context, id string) (SourceRecord, error)

	// GetState returns the envelope and whether one exists yet.
	GetState(ctx context.Context, userID, problemID string) (State, bool, error)
	PutState(ctx context.Context, userID, problemID string, st State) error
	// DeleteState is the privileged course-reset path.
	DeleteState(ctx context.Context, userID, problemID string) error
}
