package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	resp, err := s.tr().ListModels(r.Context())
	if err != nil {
		writeError(w, s.tr().Name(), "/models", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp, err := s.tr().GetModel(r.Context(), id)
	if err != nil {
		writeError(w, s.tr().Name(), "/models/{id}", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
