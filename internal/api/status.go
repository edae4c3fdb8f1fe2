package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/seantiz/xyfleet/internal/model"
	"github.com/seantiz/xyfleet/internal/store"
)

// workersResponse is the JSON response for GET /v1/workers.
type workersResponse struct {
	Self    string         `json:"self"`
	Live    int            `json:"live"`
	Workers []model.Worker `json:"workers"`
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	id := s.simulationID
	if v := r.URL.Query().Get("simulation_id"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "simulation_id must be an integer")
			return
		}
		id = parsed
	}

	p, err := s.source.Progress(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "simulation not found")
		return
	}
	if err != nil {
		s.logger.Error("get progress", "simulation_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get progress")
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := s.source.ListWorkers(r.Context())
	if err != nil {
		s.logger.Error("list workers", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list workers")
		return
	}

	resp := workersResponse{Self: s.source.WorkerID(), Workers: workers}
	if resp.Workers == nil {
		resp.Workers = []model.Worker{}
	}
	for _, wk := range workers {
		if wk.Live {
			resp.Live++
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListKernels(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.kernels.List())
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
