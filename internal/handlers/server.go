// Package handlers exposes the coordinator over a JSON HTTP API, together
// with the CSV/XLSX exports, the database backup download and the live
// event stream.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"zoneplane/internal/apperr"
	"zoneplane/internal/logging"
	"zoneplane/internal/metrics"
	"zoneplane/internal/models"
	"zoneplane/internal/notify"
	"zoneplane/internal/service"
)

const (
	actorHeader   = "X-Actor-ID"
	companyHeader = "X-Company-ID"

	maxRequestBodyBytes = 1 << 20
)

// Options configures a Server. Hub and Metrics are optional.
type Options struct {
	Hub     *notify.Hub
	Metrics *metrics.Collector
	Logger  logging.Logger
}

// Server routes API requests to the coordinator.
type Server struct {
	coord   *service.Coordinator
	hub     *notify.Hub
	metrics *metrics.Collector
	log     logging.Logger
	mux     *http.ServeMux
	handler http.Handler
}

// NewServer builds the API server with its middleware chain applied.
func NewServer(coord *service.Coordinator, opts Options) *Server {
	s := &Server{
		coord:   coord,
		hub:     opts.Hub,
		metrics: opts.Metrics,
		log:     opts.Logger,
		mux:     http.NewServeMux(),
	}
	if s.log == nil {
		s.log = logging.Noop()
	}
	s.registerRoutes()
	s.handler = s.applyMiddleware(s.mux)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.mux.HandleFunc("GET /api/v1/zones", s.handleListZones)
	s.mux.HandleFunc("POST /api/v1/zones", s.handleCreateZone)
	s.mux.HandleFunc("GET /api/v1/zones/{id}", s.handleGetZone)
	s.mux.HandleFunc("PATCH /api/v1/zones/{id}", s.handleRenameZone)
	s.mux.HandleFunc("DELETE /api/v1/zones/{id}", s.handleDeleteZone)
	s.mux.HandleFunc("GET /api/v1/zones/{id}/usage", s.handleZoneUsage)
	s.mux.HandleFunc("POST /api/v1/zones/{id}/workers/{worker}", s.handleAssignWorker)
	s.mux.HandleFunc("POST /api/v1/zones/{id}/portals/{portal}", s.handleAssignPortal)

	s.mux.HandleFunc("GET /api/v1/nodes", s.handleListNodes)
	s.mux.HandleFunc("GET /api/v1/nodes/{id}", s.handleGetNode)
	s.mux.HandleFunc("POST /api/v1/nodes/{id}/unassign", s.handleUnassignNode)
	s.mux.HandleFunc("DELETE /api/v1/nodes/{id}", s.handleDeleteNode)

	s.mux.HandleFunc("GET /api/v1/workers", s.handleListWorkers)
	s.mux.HandleFunc("POST /api/v1/workers", s.handleCreateWorker)
	s.mux.HandleFunc("GET /api/v1/workers/{id}", s.handleGetWorker)
	s.mux.HandleFunc("PATCH /api/v1/workers/{id}", s.handleUpdateWorker)
	s.mux.HandleFunc("POST /api/v1/workers/{id}/enable", s.handleEnableWorker)
	s.mux.HandleFunc("POST /api/v1/workers/{id}/disable", s.handleDisableWorker)
	s.mux.HandleFunc("DELETE /api/v1/workers/{id}", s.handleDeleteWorker)

	s.mux.HandleFunc("GET /api/v1/portals", s.handleListPortals)
	s.mux.HandleFunc("POST /api/v1/portals", s.handleCreatePortal)
	s.mux.HandleFunc("GET /api/v1/portals/{id}", s.handleGetPortal)
	s.mux.HandleFunc("PATCH /api/v1/portals/{id}", s.handleUpdatePortal)
	s.mux.HandleFunc("POST /api/v1/portals/{id}/enable", s.handleEnablePortal)
	s.mux.HandleFunc("POST /api/v1/portals/{id}/disable", s.handleDisablePortal)
	s.mux.HandleFunc("DELETE /api/v1/portals/{id}", s.handleDeletePortal)

	s.mux.HandleFunc("GET /api/v1/transponders", s.handleListTransponders)
	s.mux.HandleFunc("POST /api/v1/transponders", s.handleCreateTransponder)
	s.mux.HandleFunc("GET /api/v1/transponders/{id}", s.handleGetTransponder)
	s.mux.HandleFunc("PATCH /api/v1/transponders/{id}", s.handleUpdateTransponder)
	s.mux.HandleFunc("POST /api/v1/transponders/{id}/enable", s.handleEnableTransponder)
	s.mux.HandleFunc("POST /api/v1/transponders/{id}/disable", s.handleDisableTransponder)
	s.mux.HandleFunc("DELETE /api/v1/transponders/{id}", s.handleDeleteTransponder)

	s.mux.HandleFunc("GET /api/v1/events", s.handleListEvents)
	s.mux.HandleFunc("GET /api/v1/events/stream", s.handleEventStream)

	s.mux.HandleFunc("GET /api/v1/queued", s.handleListQueued)
	s.mux.HandleFunc("POST /api/v1/converge", s.handleConverge)

	s.mux.HandleFunc("GET /api/v1/export/{dataset}", s.handleExport)
	s.mux.HandleFunc("GET /admin/backup", s.handleBackup)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Store().DB.PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, code int, reason, msg string) {
	writeJSON(w, code, errorBody{Error: msg, Reason: reason})
}

// statusOf maps an error class to its HTTP status.
func statusOf(err error) int {
	switch apperr.ClassOf(err) {
	case apperr.ClassValidation:
		return http.StatusBadRequest
	case apperr.ClassConflict:
		return http.StatusConflict
	case apperr.ClassPrecondition:
		return http.StatusPreconditionFailed
	case apperr.ClassExhausted:
		return http.StatusInsufficientStorage
	case apperr.ClassNotFound:
		return http.StatusNotFound
	case apperr.ClassForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// fail reports err to the client. Unclassified errors are logged and
// hidden behind a generic message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		s.log.Error(r.Context(), "request failed", logging.String("path", r.URL.Path), logging.Err(err))
		writeError(w, code, "internal", "internal server error")
		return
	}
	writeError(w, code, apperr.ReasonOf(err), err.Error())
}

// reply writes v with code, or the error.
func (s *Server) reply(w http.ResponseWriter, r *http.Request, code int, v any, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, code, v)
}

func actor(r *http.Request) string   { return r.Header.Get(actorHeader) }
func company(r *http.Request) string { return r.Header.Get(companyHeader) }

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("request body exceeds %d bytes", tooLarge.Limit)
		}
		return apperr.Validation("invalid JSON: %v", err)
	}
	return nil
}

// listOptions reads the common listing query parameters.
func listOptions(r *http.Request) (service.ListOptions, error) {
	q := r.URL.Query()
	opts := service.ListOptions{CompanyID: company(r), Status: models.Status(q.Get("status"))}
	if opts.Status != "" && !opts.Status.Valid() {
		return opts, apperr.Validation("unknown status %q", opts.Status)
	}
	if v := q.Get("include_deleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, apperr.Validation("include_deleted must be a boolean")
		}
		opts.IncludeDeleted = b
	}
	return opts, nil
}
