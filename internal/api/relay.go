package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joao-cbj/silo-watch-backend/internal/gateway"
)

// handleRelayCommand hands the polling gateway the pending command for an
// action, or 404 when there is none.
func (s *Server) handleRelayCommand(w http.ResponseWriter, r *http.Request) {
	acao := chi.URLParam(r, "acao")
	payload, err := s.relay.PendingCommand(r.Context(), acao)
	switch {
	case errors.Is(err, gateway.ErrUnknownAction):
		writeNotFound(w, "unknown action")
	case errors.Is(err, gateway.ErrPathNotFound):
		writeNotFound(w, "no pending command")
	case err != nil:
		s.logger.Error("relay command read failed", "acao", acao, "error", err)
		writeInternalError(w, "failed to read command")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(payload) //nolint:errcheck // Best-effort write to response
	}
}

// handleRelayResponse stores the polling gateway's answer for an action.
func (s *Server) handleRelayResponse(w http.ResponseWriter, r *http.Request) {
	acao := chi.URLParam(r, "acao")
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "could not read body")
		return
	}

	err = s.relay.StoreResponse(r.Context(), acao, payload)
	switch {
	case errors.Is(err, gateway.ErrUnknownAction):
		writeNotFound(w, "unknown action")
	case errors.Is(err, gateway.ErrMalformedResponse):
		s.metrics.IncResponseDropped(gateway.DropMalformed)
		writeBadRequest(w, err.Error())
	case err != nil:
		s.logger.Error("relay response write failed", "acao", acao, "error", err)
		writeInternalError(w, "failed to store response")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleRelayClear removes every relay path.
func (s *Server) handleRelayClear(w http.ResponseWriter, r *http.Request) {
	n, err := s.relay.ClearPaths(r.Context())
	if err != nil {
		s.logger.Error("clearing relay paths failed", "error", err)
		writeInternalError(w, "failed to clear paths")
		return
	}
	s.logger.Info("relay paths cleared", "removed", n)
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}
