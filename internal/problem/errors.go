package problem

import (
	"encoding/json"
	"errors"
	"fmt"
)

// NotFoundError is the policy-denial error: the action is not available to
// the learner right now (closed, awaiting reset, answer hidden). Msg is
// localized and safe to show.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

// ErrRescoreUnsupported means the problem definition cannot re-grade
// stored answers.
var ErrRescoreUnsupported = errors.New("problem does not support rescoring")

// CorruptStateError is returned by a Store when a persisted envelope no
// longer decodes. The service recovers by resetting the state; Raw keeps
// the unreadable bytes for the recovery warning.
type CorruptStateError struct {
	UserID    string
	ProblemID string
	Raw       []byte
	Err       error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt state envelope for %s/%s: %v", e.UserID, e.ProblemID, e.Err)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }

// SalvagedAnswers best-effort decodes the student_answers subtree of the
// unreadable envelope. Nil when nothing can be recovered.
func (e *CorruptStateError) SalvagedAnswers() map[string]any {
	var loose struct {
		StudentAnswers map[string]any `json:"student_answers"`
	}
	_ = json.Unmarshal(e.Raw, &loose)
	return loose.StudentAnswers
}
