package capa

// Error taxonomy for the instance layer. The module layer decides how each
// kind surfaces to the learner: input errors become inline messages, the
// other two are logged and, outside debug mode, propagated.

// StudentInputError means the learner's answer failed per-response
// validation (e.g. an unparseable number). Safe to show to the learner.
type StudentInputError struct {
	Msg string
}

func (e *StudentInputError) Error() string { return e.Msg }

// ResponseError is an internal malfunction inside a responder while
// grading (bad grader payload, broken tolerance spec, ...).
type ResponseError struct {
	Msg string
	Err error
}

func (e *ResponseError) Error() string { return e.Msg }
func (e *ResponseError) Unwrap() error { return e.Err }

// ProblemError is a structural issue with the problem itself discovered at
// grade time (missing input, inconsistent state).
type ProblemError struct {
	Msg string
}

func (e *ProblemError) Error() string { return e.Msg }

// DefinitionError is raised while parsing problem XML: malformed markup or
// an unknown response type. The module substitutes a dummy problem that
// renders the error and preserves the original data for recovery.
type DefinitionError struct {
	Msg string
	Err error
}

func (e *DefinitionError) Error() string { return e.Msg }
func (e *DefinitionError) Unwrap() error { return e.Err }
