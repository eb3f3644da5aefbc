package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/capa-engine/internal/contentstore"
	"github.com/mind-engage/capa-engine/internal/transcript"
)

// UploadTranscriptHandler ingests an SRT body and stores it in sjson form
// under the course's asset tree.
// PUT /transcripts/{courseKey}/{subsID}?lang=uk
func UploadTranscriptHandler(store contentstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := readBody(r)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		sj, err := transcript.SJSONFromSRT(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, err := json.Marshal(sj)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		loc := transcript.Locate(chi.URLParam(r, "courseKey"), chi.URLParam(r, "subsID"), r.URL.Query().Get("lang"))
		if err := store.Put(r.Context(), loc, data, "application/json"); err != nil {
			http.Error(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"location": string(loc)})
	}
}

// GetTranscriptHandler serves a stored transcript, converting from the
// stored sjson to the requested format (sjson, srt or txt).
// GET /transcripts/{courseKey}/{subsID}?lang=uk&format=srt
func GetTranscriptHandler(store contentstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loc := transcript.Locate(chi.URLParam(r, "courseKey"), chi.URLParam(r, "subsID"), r.URL.Query().Get("lang"))
		data, err := store.Get(r.Context(), loc)
		if err != nil {
			if errors.Is(err, contentstore.ErrNotFound) {
				http.Error(w, "transcript not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		format := r.URL.Query().Get("format")
		if format == "" {
			format = "sjson"
		}
		out, err := transcript.Convert(data, "sjson", format)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch format {
		case "sjson":
			w.Header().Set("Content-Type", "application/json")
		default:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		}
		_, _ = w.Write(out)
	}
}

func DeleteTranscriptHandler(store contentstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loc := transcript.Locate(chi.URLParam(r, "courseKey"), chi.URLParam(r, "subsID"), r.URL.Query().Get("lang"))
		if err := store.Delete(r.Context(), loc); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
