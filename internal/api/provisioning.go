package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/joao-cbj/silo-watch-backend/internal/audit"
	"github.com/joao-cbj/silo-watch-backend/internal/provisioning"
)

// WebSocket event types for provisioning changes.
const (
	EventSiloProvisioned   = "silo.provisioned"
	EventSiloDesintegrated = "silo.desintegrated"
	EventSiloRenamed       = "silo.renamed"
)

type provisionRequest struct {
	SiloID     string `json:"silo_id"`
	MAC        string `json:"mac"`
	Identifier string `json:"identifier,omitempty"`
}

type desintegrateRequest struct {
	SiloID string `json:"silo_id"`
}

type renameRequest struct {
	SiloID  string `json:"silo_id"`
	NewName string `json:"new_name"`
}

// handlePing asks the gateway whether it is reachable.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.Ping(r.Context())
	if err != nil {
		s.writeOrchestratorError(w, r, "ping", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"online":     res.Online,
		"command_id": res.CommandID,
		"latency_ms": res.Latency.Milliseconds(),
		"transport":  res.Transport,
	})
}

// handleScan lists BLE devices the gateway can see.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.Scan(r.Context())
	if err != nil {
		s.writeOrchestratorError(w, r, "scan", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":    res.Devices,
		"count":      len(res.Devices),
		"command_id": res.CommandID,
		"timed_out":  res.TimedOut,
	})
}

// handleProvision binds a sensor to a silo.
func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	s.gatewayMu.Lock()
	res, err := s.orch.Provision(r.Context(), provisioning.ProvisionRequest{
		SiloID:     req.SiloID,
		MAC:        req.MAC,
		Identifier: req.Identifier,
	})
	s.gatewayMu.Unlock()
	if err != nil {
		s.writeOrchestratorError(w, r, "provision", err)
		return
	}

	s.hub.Broadcast(EventSiloProvisioned, "", res.Silo)
	writeJSON(w, http.StatusOK, res)
}

// handleDesintegrate unbinds a silo's sensor.
func (s *Server) handleDesintegrate(w http.ResponseWriter, r *http.Request) {
	var req desintegrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	s.gatewayMu.Lock()
	res, err := s.orch.Desintegrate(r.Context(), req.SiloID)
	s.gatewayMu.Unlock()
	if err != nil {
		s.writeOrchestratorError(w, r, "desintegrate", err)
		return
	}

	s.hub.Broadcast(EventSiloDesintegrated, "", res.Silo)
	writeJSON(w, http.StatusOK, res)
}

// handleRename renames an integrated silo and re-tags its readings.
func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	s.gatewayMu.Lock()
	res, err := s.orch.Rename(r.Context(), req.SiloID, req.NewName)
	s.gatewayMu.Unlock()
	if err != nil {
		s.writeOrchestratorError(w, r, "rename", err)
		return
	}

	s.hub.Broadcast(EventSiloRenamed, "", res.Silo)
	writeJSON(w, http.StatusOK, res)
}

// relayPath is a stored relay path as the commands listing shows it.
type relayPath struct {
	Path      string    `json:"path"`
	Payload   string    `json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
}

// handleListCommands returns the command journal, the commands still
// awaiting a response and, on the relay transport, the stored paths.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		SiloID: q.Get("silo_id"),
		Result: audit.Result(q.Get("result")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	resp := map[string]any{
		"outstanding": s.registry.Snapshot(),
	}
	if s.journal != nil {
		page, err := s.journal.List(r.Context(), filter)
		if err != nil {
			s.logger.Error("listing command journal failed", "error", err)
			writeInternalError(w, "failed to list commands")
			return
		}
		resp["journal"] = page
	}
	if s.relay != nil {
		entries, err := s.relay.StoredPaths(r.Context())
		if err != nil {
			s.logger.Error("listing relay paths failed", "error", err)
			writeInternalError(w, "failed to list commands")
			return
		}
		paths := make([]relayPath, 0, len(entries))
		for _, e := range entries {
			paths = append(paths, relayPath{Path: e.Path, Payload: string(e.Payload), UpdatedAt: e.UpdatedAt})
		}
		resp["relay_paths"] = paths
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeOrchestratorError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Info("gateway operation abandoned by client", "op", op, "error", err)
		writeError(w, http.StatusRequestTimeout, ErrCodeGatewayTimeout, "request cancelled before the gateway answered")
		return
	}
	if writeProvisioningError(w, err) {
		s.logger.Debug("gateway operation rejected", "op", op, "error", err,
			"request_id", r.Context().Value(ctxKeyRequestID))
		return
	}
	s.logger.Error("gateway operation failed", "op", op, "error", err,
		"request_id", r.Context().Value(ctxKeyRequestID))
	writeInternalError(w, "gateway operation failed")
}
