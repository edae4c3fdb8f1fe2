package api

import "net/http"

type healthResponse struct {
	Status   string `json:"status"`
	WorkerID string `json:"worker_id,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", WorkerID: s.source.WorkerID()})
}
