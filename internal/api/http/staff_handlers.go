package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/capa-engine/internal/auth/middleware"
	"github.com/mind-engage/capa-engine/internal/problem"
)

// RequireStaff guards the authoring and rescore surface.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsStaff(r.Context()) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UpsertProblemHandler stores (or replaces) a problem source.
// PUT /problems/{problemID}  { "xml": "...", "settings": { ... } }
func UpsertProblemHandler(svc *problem.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			XML      string          `json:"xml"`
			Settings json.RawMessage `json:"settings"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.XML == "" {
			http.Error(w, "xml required", http.StatusBadRequest)
			return
		}
		rec := problem.SourceRecord{
			ID:       chi.URLParam(r, "problemID"),
			XML:      []byte(req.XML),
			Settings: req.Settings,
		}
		if err := svc.UpsertProblem(r.Context(), rec); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]string{"id": rec.ID})
	}
}

func RescoreProblemHandler(svc *problem.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Rescore runs against the target learner's stored answers.
		userID := r.URL.Query().Get("user_id")
		id := identity(r)
		if userID != "" {
			id.UserID = userID
		}
		res, err := svc.Rescore(r.Context(), id, chi.URLParam(r, "problemID"))
		if err != nil {
			opError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

// DeleteStateHandler wipes a learner's envelope so the problem starts
// fresh on next render.
func DeleteStateHandler(svc *problem.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		err := svc.DeleteState(r.Context(), identity(r), userID, chi.URLParam(r, "problemID"))
		if err != nil {
			opError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// readBody caps request bodies from external graders.
func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, 1<<20))
}
