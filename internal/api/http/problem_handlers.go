package http

import (
	"encoding/json"
	"hash/fnv"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/capa-engine/internal/auth/middleware"
	"github.com/mind-engage/capa-engine/internal/problem"
)

// identity builds the caller identity from the request context. The
// anonymous seed feeding per_student randomization is derived from the
// subject so it stays stable across sessions.
func identity(r *http.Request) problem.Identity {
	ctx := r.Context()
	sub := auth.SubjectFromContext(ctx)
	h := fnv.New32a()
	_, _ = h.Write([]byte(sub))
	seed := int(h.Sum32())
	return problem.Identity{
		UserID:        sub,
		IsStaff:       auth.IsStaff(ctx),
		AnonymousSeed: &seed,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// opError maps service errors onto the wire: not-found style policy
// refusals become 404 with the user-facing message, everything else 500.
func opError(w http.ResponseWriter, err error) {
	if problem.IsNotFound(err) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func RenderProblemHandler(svc *problem.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Render(r.Context(), identity(r), chi.URLParam(r, "problemID"))
		if err != nil {
			opError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

// SubmitProblemHandler accepts the url-encoded answer form, e.g.
// input_1_2_1=blue&input_1_3_1%5B%5D=choice_0.
func SubmitProblemHandler(svc *problem.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		res, err := svc.Submit(r.Context(), identity(r), chi.URLParam(r, "problemID"), r.PostForm)
		if err != nil {
			opError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

func SaveProblemHandler(svc *problem.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		res, err := svc.Save(r.Context(), identity(r), chi.URLParam(r, "problemID"), r.PostForm)
		if err != nil {
			opError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

func ResetProblemHandler(svc *problem.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Reset(r.Context(), identity(r), chi.URLParam(r, "problemID"))
		if err != nil {
			opError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

func ShowAnswerHandler(svc *problem.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		answers, err := svc.ShowAnswer(r.Context(), identity(r), chi.URLParam(r, "problemID"))
		if err != nil {
			opError(w, err)
			return
		}
		writeJSON(w, map[string]any{"answers": answers})
	}
}

func HintHandler(svc *problem.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx, err := strconv.Atoi(r.URL.Query().Get("hint_index"))
		if err != nil {
			http.Error(w, "hint_index required", http.StatusBadRequest)
			return
		}
		res, err := svc.Hint(r.Context(), identity(r), chi.URLParam(r, "problemID"), idx)
		if err != nil {
			opError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

// InputAjaxHandler forwards input-scoped dispatches (e.g. a textbox
// save_user_state) to the named input.
func InputAjaxHandler(svc *problem.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			InputID  string         `json:"input_id"`
			Dispatch string         `json:"dispatch"`
			Data     map[string]any `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.InputID == "" || req.Dispatch == "" {
			http.Error(w, "input_id and dispatch required", http.StatusBadRequest)
			return
		}
		res, err := svc.InputAjax(r.Context(), identity(r), chi.URLParam(r, "problemID"), req.InputID, req.Dispatch, req.Data)
		if err != nil {
			opError(w, err)
			return
		}
		writeJSON(w, res)
	}
}
