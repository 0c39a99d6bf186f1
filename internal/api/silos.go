package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/joao-cbj/silo-watch-backend/internal/silo"
)

type createSiloRequest struct {
	Name string    `json:"name"`
	Kind silo.Kind `json:"kind"`
}

// updateSiloRequest carries the fields a PATCH may change. Integration
// fields are absent on purpose; only provisioning writes them.
type updateSiloRequest struct {
	Name *string    `json:"name,omitempty"`
	Kind *silo.Kind `json:"kind,omitempty"`
}

// handleListSilos returns silos filtered by ?kind= and ?integrated=, plus
// table-wide counts.
func (s *Server) handleListSilos(w http.ResponseWriter, r *http.Request) {
	var filter silo.Filter
	q := r.URL.Query()

	if v := q.Get("kind"); v != "" {
		kind := silo.Kind(v)
		if !kind.Valid() {
			writeValidationError(w, "unknown kind "+strconv.Quote(v))
			return
		}
		filter.Kind = kind
	}
	if v := q.Get("integrated"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "integrated must be true or false")
			return
		}
		filter.Integrated = &b
	}

	silos, err := s.silos.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list silos failed", "error", err)
		writeInternalError(w, "failed to list silos")
		return
	}
	counts, err := s.silos.Counts(r.Context())
	if err != nil {
		s.logger.Error("count silos failed", "error", err)
		writeInternalError(w, "failed to list silos")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"silos":  silos,
		"count":  len(silos),
		"counts": counts,
	})
}

// handleCreateSilo creates a silo that is not yet integrated.
func (s *Server) handleCreateSilo(w http.ResponseWriter, r *http.Request) {
	var req createSiloRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rec := &silo.Silo{Name: req.Name, Kind: req.Kind}
	if err := s.silos.Create(r.Context(), rec); err != nil {
		if isSiloValidationError(err) {
			writeValidationError(w, err.Error())
			return
		}
		s.logger.Error("create silo failed", "error", err)
		writeInternalError(w, "failed to create silo")
		return
	}

	s.logger.Info("silo created", "silo_id", rec.ID, "name", rec.Name, "kind", rec.Kind)
	writeJSON(w, http.StatusCreated, rec)
}

// handleGetSilo returns one silo.
func (s *Server) handleGetSilo(w http.ResponseWriter, r *http.Request) {
	rec, err := s.silos.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, silo.ErrNotFound) {
		writeNotFound(w, "silo not found")
		return
	}
	if err != nil {
		s.logger.Error("get silo failed", "error", err)
		writeInternalError(w, "failed to get silo")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleUpdateSilo changes a silo's kind, or its name while it is not
// integrated. An integrated silo is renamed through provisioning so the
// gateway and the readings follow.
func (s *Server) handleUpdateSilo(w http.ResponseWriter, r *http.Request) {
	var req updateSiloRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	// Held so the integration state read here cannot change under a
	// concurrent provision before the write.
	s.gatewayMu.Lock()
	defer s.gatewayMu.Unlock()

	rec, err := s.silos.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, silo.ErrNotFound) {
		writeNotFound(w, "silo not found")
		return
	}
	if err != nil {
		s.logger.Error("get silo failed", "error", err)
		writeInternalError(w, "failed to update silo")
		return
	}

	if req.Name != nil && strings.TrimSpace(*req.Name) != rec.Name {
		if rec.Integrated {
			writeConflict(w, "silo is integrated; use POST /api/v1/provisioning/rename to change its name")
			return
		}
		rec.Name = strings.TrimSpace(*req.Name)
	}
	if req.Kind != nil {
		rec.Kind = *req.Kind
	}

	if err := s.silos.Update(r.Context(), rec); err != nil {
		if isSiloValidationError(err) {
			writeValidationError(w, err.Error())
			return
		}
		s.logger.Error("update silo failed", "silo_id", rec.ID, "error", err)
		writeInternalError(w, "failed to update silo")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteSilo removes a silo and the readings tagged with its
// identifier.
func (s *Server) handleDeleteSilo(w http.ResponseWriter, r *http.Request) {
	s.gatewayMu.Lock()
	defer s.gatewayMu.Unlock()

	id := chi.URLParam(r, "id")
	rec, err := s.silos.GetByID(r.Context(), id)
	if errors.Is(err, silo.ErrNotFound) {
		writeNotFound(w, "silo not found")
		return
	}
	if err != nil {
		s.logger.Error("get silo failed", "error", err)
		writeInternalError(w, "failed to delete silo")
		return
	}

	if err := s.silos.Delete(r.Context(), id); err != nil {
		s.logger.Error("delete silo failed", "silo_id", id, "error", err)
		writeInternalError(w, "failed to delete silo")
		return
	}

	var removed int64
	if rec.Identifier != "" {
		removed, err = s.readings.DeleteByIdentifier(r.Context(), rec.Identifier)
		if err != nil {
			s.logger.Warn("deleting readings of removed silo failed", "silo_id", id, "identifier", rec.Identifier, "error", err)
		}
	}

	s.logger.Info("silo deleted", "silo_id", id, "readings_removed", removed)
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":          id,
		"readings_removed": removed,
	})
}

// handleSiloConfig is the lookup the sensor firmware does at boot to learn
// which silo it reports for.
func (s *Server) handleSiloConfig(w http.ResponseWriter, r *http.Request) {
	rec, err := s.silos.GetByIdentifier(r.Context(), chi.URLParam(r, "identifier"))
	if errors.Is(err, silo.ErrNotFound) {
		writeNotFound(w, "no silo is bound to this identifier")
		return
	}
	if err != nil {
		s.logger.Error("silo config lookup failed", "error", err)
		writeInternalError(w, "failed to look up silo")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"silo_id":    rec.ID,
		"name":       rec.Name,
		"kind":       rec.Kind,
		"identifier": rec.Identifier,
		"integrated": rec.Integrated,
	})
}

func isSiloValidationError(err error) bool {
	return errors.Is(err, silo.ErrInvalidSilo) ||
		errors.Is(err, silo.ErrInvalidName) ||
		errors.Is(err, silo.ErrInvalidKind)
}
