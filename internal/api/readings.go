package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/joao-cbj/silo-watch-backend/internal/reading"
)

// EventReadingRecorded is broadcast for every ingested reading.
const EventReadingRecorded = "reading.recorded"

// maxHistoryHours bounds ?hours= on history queries.
const maxHistoryHours = 24 * 365

// indicatorWindow is the default window of the risk indicators.
const indicatorWindow = 7 * 24 * time.Hour

// ingestReadingRequest is the body the sensor firmware posts.
type ingestReadingRequest struct {
	Temperature *float64 `json:"temperatura"`
	Humidity    *float64 `json:"umidade"`
	Identifier  string   `json:"dispositivo"`
}

// handleIngestReading stores one sensor reading and mirrors it to the
// time-series store.
func (s *Server) handleIngestReading(w http.ResponseWriter, r *http.Request) {
	var req ingestReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.IncReadingIngested("invalid")
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Temperature == nil || req.Humidity == nil {
		s.metrics.IncReadingIngested("invalid")
		writeValidationError(w, "temperatura and umidade are required")
		return
	}

	rd := &reading.Reading{
		Identifier:  req.Identifier,
		Temperature: *req.Temperature,
		Humidity:    *req.Humidity,
	}
	if err := s.readings.Record(r.Context(), rd); err != nil {
		if errors.Is(err, reading.ErrInvalidReading) {
			s.metrics.IncReadingIngested("invalid")
			writeValidationError(w, err.Error())
			return
		}
		s.metrics.IncReadingIngested("error")
		s.logger.Error("recording reading failed", "identifier", req.Identifier, "error", err)
		writeInternalError(w, "failed to record reading")
		return
	}

	s.metrics.IncReadingIngested("stored")
	if s.mirror != nil {
		s.mirror.WriteReading(rd.Identifier, rd.Temperature, rd.Humidity, rd.RecordedAt)
	}
	s.hub.Broadcast(EventReadingRecorded, rd.Identifier, rd)
	writeJSON(w, http.StatusCreated, rd)
}

// handleReadingHistory returns readings of one device. The window is
// ?from=&to= (RFC 3339) or the last ?hours=, defaulting to 24 hours.
func (s *Server) handleReadingHistory(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	from, to, err := parseWindow(r, time.Now())
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	readings, err := s.readings.History(r.Context(), identifier, from, to)
	if err != nil {
		s.logger.Error("reading history failed", "identifier", identifier, "error", err)
		writeInternalError(w, "failed to load readings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"identifier": identifier,
		"from":       from,
		"to":         to,
		"readings":   readings,
		"count":      len(readings),
	})
}

// handleLatestReadings returns the newest reading of every device.
func (s *Server) handleLatestReadings(w http.ResponseWriter, r *http.Request) {
	readings, err := s.readings.LatestPerDevice(r.Context())
	if err != nil {
		s.logger.Error("latest readings failed", "error", err)
		writeInternalError(w, "failed to load readings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"readings": readings,
		"count":    len(readings),
	})
}

// handleListReadings pages through every stored reading, newest first.
// ?limit= defaults to 50 and is capped at 500; ?identifier= filters by device.
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := reading.ListOptions{Identifier: q.Get("identifier")}
	var err error
	if opts.Limit, err = queryInt(q.Get("limit"), reading.DefaultListLimit); err != nil || opts.Limit <= 0 {
		writeBadRequest(w, "limit must be a positive integer")
		return
	}
	if opts.Offset, err = queryInt(q.Get("offset"), 0); err != nil || opts.Offset < 0 {
		writeBadRequest(w, "offset must be a non-negative integer")
		return
	}
	opts.Limit = min(opts.Limit, reading.MaxListLimit)

	readings, total, err := s.readings.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("list readings failed", "error", err)
		writeInternalError(w, "failed to load readings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"readings": readings,
		"count":    len(readings),
		"total":    total,
		"limit":    opts.Limit,
		"offset":   opts.Offset,
	})
}

// handleReadingStats returns min, max and mean temperature and humidity of
// one device over the same window as the history endpoint.
func (s *Server) handleReadingStats(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	from, to, err := parseWindow(r, time.Now())
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	stats, err := s.readings.Stats(r.Context(), identifier, from, to)
	if err != nil {
		s.logger.Error("reading stats failed", "identifier", identifier, "error", err)
		writeInternalError(w, "failed to aggregate readings")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleReadingIndicators returns the storage-risk indicators of one device,
// by default over the last seven days.
func (s *Server) handleReadingIndicators(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	from, to, err := parseWindowDefault(r, time.Now(), indicatorWindow)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	readings, err := s.readings.History(r.Context(), identifier, from, to)
	if err != nil {
		s.logger.Error("reading indicators failed", "identifier", identifier, "error", err)
		writeInternalError(w, "failed to load readings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"from":       from,
		"to":         to,
		"indicators": reading.ComputeIndicators(identifier, readings),
	})
}

// handleReadingMetrics aggregates the newest reading of every device.
func (s *Server) handleReadingMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.readings.GlobalMetrics(r.Context())
	if err != nil {
		s.logger.Error("reading metrics failed", "error", err)
		writeInternalError(w, "failed to aggregate readings")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func queryInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// parseWindow reads the history window from the query string.
func parseWindow(r *http.Request, now time.Time) (from, to time.Time, err error) {
	return parseWindowDefault(r, now, reading.DefaultHistoryWindow)
}

// parseWindowDefault is parseWindow with def as the window when the query
// names no start.
func parseWindowDefault(r *http.Request, now time.Time, def time.Duration) (from, to time.Time, err error) {
	q := r.URL.Query()

	to = now
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be an RFC 3339 timestamp")
		}
	}

	switch {
	case q.Get("from") != "":
		if from, err = time.Parse(time.RFC3339, q.Get("from")); err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be an RFC 3339 timestamp")
		}
	case q.Get("hours") != "":
		hours, convErr := strconv.Atoi(q.Get("hours"))
		if convErr != nil || hours <= 0 || hours > maxHistoryHours {
			return time.Time{}, time.Time{}, errors.New("hours must be a positive integer up to 8760")
		}
		from = to.Add(-time.Duration(hours) * time.Hour)
	default:
		from = to.Add(-def)
	}

	if from.After(to) {
		return time.Time{}, time.Time{}, errors.New("from must not be after to")
	}
	return from, to, nil
}
