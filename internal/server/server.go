// Package server implements the admin HTTP/JSON API for admitd.
//
// The teacher's admin surface is a generated ConnectRPC service; without
// the generated stub code that isn't something this package can faithfully
// reproduce without fabricating it, so the same thin-adapter-over-a-manager
// shape is built here on plain net/http and encoding/json instead.
package server

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opnet-io/admitd/internal/aq"
	"github.com/opnet-io/admitd/internal/connmgr"
	"github.com/opnet-io/admitd/internal/ddf"
)

// Sentinel errors for the server package.
var (
	// ErrMissingEntry indicates the ddf/known lookup was called without an entry.
	ErrMissingEntry = errors.New("server: entry must be provided as a hex-encoded path segment")

	// ErrBadEntryEncoding indicates the entry path segment was not valid hex.
	ErrBadEntryEncoding = errors.New("server: entry must be hex-encoded")

	// ErrBadRequestBody indicates the request body could not be decoded.
	ErrBadRequestBody = errors.New("server: malformed request body")
)

// Server is a thin adapter between the admin HTTP API and the admission
// queue / duplicate filter / connection manager.
type Server struct {
	queue   *aq.Queue
	filter  *ddf.Filter
	connMgr *connmgr.Manager
	logger  *slog.Logger
}

// New constructs a Server and returns the path prefix and handler to mount.
func New(queue *aq.Queue, filter *ddf.Filter, connMgr *connmgr.Manager, logger *slog.Logger) (string, http.Handler) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		queue:   queue,
		filter:  filter,
		connMgr: connMgr,
		logger:  logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/queue/stats", s.handleQueueStats)
	mux.HandleFunc("POST /v1/queue/active", s.handleSetQueueActive)
	mux.HandleFunc("GET /v1/ddf/stats", s.handleDDFStats)
	mux.HandleFunc("GET /v1/ddf/known/{entry}", s.handleDDFKnown)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	return "/v1/", mux
}

// QueueStats is the response body for GET /v1/queue/stats.
type QueueStats struct {
	Active   bool `json:"active"`
	Depth    int  `json:"depth"`
	Capacity int  `json:"capacity"`
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	s.logger.DebugContext(r.Context(), "queue stats requested")
	writeJSON(w, http.StatusOK, QueueStats{
		Active:   s.queue.Active(),
		Depth:    s.queue.Depth(),
		Capacity: s.queue.Capacity(),
	})
}

// SetActiveRequest is the request body for POST /v1/queue/active.
type SetActiveRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleSetQueueActive(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrBadRequestBody, err))
		return
	}

	s.logger.InfoContext(r.Context(), "set queue active", "active", req.Active)
	s.queue.SetActive(req.Active)
	writeJSON(w, http.StatusOK, QueueStats{
		Active:   s.queue.Active(),
		Depth:    s.queue.Depth(),
		Capacity: s.queue.Capacity(),
	})
}

// DDFStats is the response body for GET /v1/ddf/stats.
type DDFStats struct {
	Size              int64   `json:"size"`
	CurrentDuplicates int64   `json:"current_duplicates"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
}

func (s *Server) handleDDFStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, DDFStats{
		Size:              s.filter.Size(),
		CurrentDuplicates: s.filter.CurrentDuplicateCount(),
		FalsePositiveRate: s.filter.FalsePositiveRate(),
	})
}

// DDFKnownResponse is the response body for GET /v1/ddf/known/{entry}.
type DDFKnownResponse struct {
	Known bool `json:"known"`
}

func (s *Server) handleDDFKnown(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("entry")
	if raw == "" {
		writeError(w, http.StatusBadRequest, ErrMissingEntry)
		return
	}
	entry, err := hex.DecodeString(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrBadEntryEncoding, err))
		return
	}

	known, err := s.filter.IsKnown(entry)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, DDFKnownResponse{Known: known})
}

// Event is one line of the /v1/events NDJSON stream.
type Event struct {
	Time  time.Time `json:"time"`
	Depth int       `json:"queue_depth"`
	Conns int       `json:"connections"`
}

// handleEvents streams a periodic snapshot of queue depth and connection
// count as newline-delimited JSON until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("server: streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	enc := json.NewEncoder(bw)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			ev := Event{
				Time:  time.Now(),
				Depth: s.queue.Depth(),
				Conns: s.connMgr.Count(),
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			if err := bw.Flush(); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorBody is the JSON shape of an error response.
type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}
