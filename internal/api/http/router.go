package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/capa-engine/internal/contentstore"
	"github.com/mind-engage/capa-engine/internal/problem"
)

// MountProblems wires the learner-facing problem surface plus the
// staff-only authoring and rescore routes. Callers are expected to have
// JWT auth applied already.
func MountProblems(r chi.Router, svc *problem.Service) {
	r.Get("/{problemID}", RenderProblemHandler(svc))
	r.Post("/{problemID}/submit", SubmitProblemHandler(svc))
	r.Post("/{problemID}/save", SaveProblemHandler(svc))
	r.Post("/{problemID}/reset", ResetProblemHandler(svc))
	r.Get("/{problemID}/answer", ShowAnswerHandler(svc))
	r.Get("/{problemID}/hint", HintHandler(svc))
	r.Post("/{problemID}/input-ajax", InputAjaxHandler(svc))

	r.Group(func(r chi.Router) {
		r.Use(RequireStaff)
		r.Put("/{problemID}", UpsertProblemHandler(svc))
		r.Post("/{problemID}/rescore", RescoreProblemHandler(svc))
		r.Delete("/{problemID}/state/{userID}", DeleteStateHandler(svc))
	})
}

// MountXQueue wires the external grader callback routes. These are
// unauthenticated; the queuekey match inside the payload is the check.
func MountXQueue(r chi.Router, svc *problem.Service) {
	r.Post("/{userID}/{problemID}/update", XQueueUpdateHandler(svc))
	r.Post("/{userID}/{problemID}/ungraded", XQueueUngradedHandler(svc))
}

// MountTranscripts wires transcript upload and retrieval.
func MountTranscripts(r chi.Router, store contentstore.Store) {
	r.Get("/{courseKey}/{subsID}", GetTranscriptHandler(store))
	r.Group(func(r chi.Router) {
		r.Use(RequireStaff)
		r.Put("/{courseKey}/{subsID}", UploadTranscriptHandler(store))
		r.Delete("/{courseKey}/{subsID}", DeleteTranscriptHandler(store))
	})
}
