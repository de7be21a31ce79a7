package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"dpr/internal/api"
	"dpr/internal/dpr"
	"dpr/internal/pipeline"
	"dpr/internal/storage"
)

const maxInlineBody = 256 << 20

func defaultID() string {
	return "run-" + uuid.NewString()
}

type runResponse struct {
	storage.RunRecord
	Meta map[string]any `json:"meta,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "run history disabled", http.StatusServiceUnavailable)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.store.RecentRuns(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []storage.RunRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "run history disabled", http.StatusServiceUnavailable)
		return
	}
	id := mux.Vars(r)["id"]
	rec, err := s.store.Run(id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := runResponse{RunRecord: rec}
	if meta, err := s.store.RunMeta(id); err == nil {
		resp.Meta = meta
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		http.Error(w, "pipeline disabled", http.StatusServiceUnavailable)
		return
	}
	var req api.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	job, err := req.Job(s.newID(), "http")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.roots.Confine(&job); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.pipeline.Submit(job); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrQueueFull) || errors.Is(err, pipeline.ErrStopped) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.log.Info("run submitted", "id", job.ID, "input", job.InputPath)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleReconstruct(w http.ResponseWriter, r *http.Request) {
	var req api.ReconstructRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInlineBody)).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := api.Reconstruct(r.Context(), s.stack, req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case api.IsClientError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case dpr.IsCancelled(err):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	default:
		s.log.Error("inline reconstruction failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
