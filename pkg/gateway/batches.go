package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cuber-it/heinzel-gateway/pkg/canon"
)

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req canon.BatchCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.tr().CreateBatch(r.Context(), req)
	if err != nil {
		writeError(w, s.tr().Name(), "/batches", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	resp, err := s.tr().ListBatches(r.Context())
	if err != nil {
		writeError(w, s.tr().Name(), "/batches", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp, err := s.tr().GetBatch(r.Context(), id)
	if err != nil {
		writeError(w, s.tr().Name(), "/batches/{id}", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp, err := s.tr().CancelBatch(r.Context(), id)
	if err != nil {
		writeError(w, s.tr().Name(), "/batches/{id}/cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBatchResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp, err := s.tr().BatchResults(r.Context(), id)
	if err != nil {
		writeError(w, s.tr().Name(), "/batches/{id}/results", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
