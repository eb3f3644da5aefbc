package problem

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLStore keeps problem sources and state envelopes in SQL, JSON-blob
// style. Driver-neutral statements; works against sqlite and postgres.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) PutProblem(ctx context.Context, rec SourceRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO problems (id, xml, settings_json, created_at)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (id) DO UPDATE SET xml=EXCLUDED.xml, settings_json=EXCLUDED.settings_json`,
		rec.ID, string(rec.XML), string(rec.Settings), time.Now().Unix())
	return err
}

func (s *SQLStore) GetProblem(ctx context.Context, id string) (SourceRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, xml, settings_json FROM problems WHERE id=$1`, id)
	var rec SourceRecord
	var xml, settings string
	if err := row.Scan(&rec.ID, &xml, &settings); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SourceRecord{}, &NotFoundError{Msg: fmt.Sprintf("problem %q not found", id)}
		}
		return SourceRecord{}, err
	}
	rec.XML = []byte(xml)
	rec.Settings = []byte(settings)
	return rec, nil
}

func (s *SQLStore) GetState(ctx context.Context, userID, problemID string) (State, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM problem_state WHERE user_id=$1 AND problem_id=$2`, userID, problemID)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return State{}, false, nil
		}
		return State{}, false, err
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return State{}, false, &CorruptStateError{UserID: userID, ProblemID: problemID, Raw: []byte(raw), Err: err}
	}
	return st, true, nil
}

func (s *SQLStore) PutState(ctx context.Context, userID, problemID string, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO problem_state (user_id, problem_id, state_json, attempts, updated_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (user_id, problem_id) DO UPDATE SET
		   state_json=EXCLUDED.state_json, attempts=EXCLUDED.attempts, updated_at=EXCLUDED.updated_at`,
		userID, problemID, string(raw), st.Attempts, time.Now().Unix())
	return err
}

func (s *SQLStore) DeleteState(ctx context.Context, userID, problemID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM problem_state WHERE user_id=$1 AND problem_id=$2`, userID, problemID)
	return err
}
