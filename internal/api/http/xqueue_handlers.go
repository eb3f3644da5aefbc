package http

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/capa-engine/internal/problem"
	"github.com/mind-engage/capa-engine/internal/xqueue"
)

// XQueueUpdateHandler receives the external grader's result. The path
// carries the learner and problem the submission belongs to; the queuekey
// inside the payload must still match a pending slot, so stale or repeated
// callbacks are no-ops.
func XQueueUpdateHandler(svc *problem.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := readBody(r)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		queueKey, body, err := xqueue.ParseCallback(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id, problemID, ok := callbackTarget(r)
		if !ok {
			http.Error(w, "bad problem id", http.StatusBadRequest)
			return
		}
		if err := svc.UpdateScore(r.Context(), id, problemID, body, queueKey); err != nil {
			opError(w, err)
			return
		}
		writeJSON(w, map[string]any{"return_code": 0})
	}
}

// XQueueUngradedHandler stores a grader message on the queued slot without
// scoring it (e.g. a "submission received" notice).
func XQueueUngradedHandler(svc *problem.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := readBody(r)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		queueKey, body, err := xqueue.ParseCallback(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id, problemID, ok := callbackTarget(r)
		if !ok {
			http.Error(w, "bad problem id", http.StatusBadRequest)
			return
		}
		if err := svc.UngradedResponse(r.Context(), id, problemID, body, queueKey); err != nil {
			opError(w, err)
			return
		}
		writeJSON(w, map[string]any{"return_code": 0})
	}
}

func callbackTarget(r *http.Request) (problem.Identity, string, bool) {
	problemID, err := url.PathUnescape(chi.URLParam(r, "problemID"))
	if err != nil {
		return problem.Identity{}, "", false
	}
	return problem.Identity{UserID: chi.URLParam(r, "userID")}, problemID, true
}
