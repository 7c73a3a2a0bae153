package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"zoneplane/internal/apperr"
	"zoneplane/internal/logging"
	"zoneplane/internal/models"
	"zoneplane/internal/service"
)

const streamKeepAlive = 15 * time.Second

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := service.EventQuery{
		CompanyID:    company(r),
		ResourceType: models.Kind(q.Get("resource_type")),
		ResourceID:   q.Get("resource_id"),
		Type:         models.EventType(q.Get("type")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.fail(w, r, apperr.Validation("limit must be an integer"))
			return
		}
		query.Limit = n
	}
	events, err := s.coord.ListEvents(r.Context(), actor(r), query)
	s.reply(w, r, http.StatusOK, events, err)
}

// handleEventStream pushes committed events of the caller's company as
// server-sent events until the client goes away.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotImplemented, "unavailable", "event stream is not enabled")
		return
	}
	// Authorize the subscription the same way a listing would be.
	if _, err := s.coord.ListEvents(r.Context(), actor(r), service.EventQuery{CompanyID: company(r), Limit: 1}); err != nil {
		s.fail(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	events, cancel := s.hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()
	want := company(r)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.CompanyID != want {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Warn(r.Context(), "encode streamed event", logging.Err(err))
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleListQueued(w http.ResponseWriter, r *http.Request) {
	if !s.coord.IsAdmin(actor(r)) {
		writeError(w, http.StatusForbidden, "forbidden", "listing the queue requires an admin actor")
		return
	}
	refs, err := s.coord.ListQueued(r.Context(), models.Kind(r.URL.Query().Get("kind")))
	s.reply(w, r, http.StatusOK, refs, err)
}

type convergeRequest struct {
	Kind    models.Kind `json:"kind"`
	ID      string      `json:"id"`
	Success *bool       `json:"success"`
}

// handleConverge is the reconciler's callback reporting the outcome of a
// queued change.
func (s *Server) handleConverge(w http.ResponseWriter, r *http.Request) {
	var req convergeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Success == nil {
		s.fail(w, r, apperr.Validation("success is required"))
		return
	}
	settled, err := s.coord.Converge(r.Context(), actor(r), req.Kind, req.ID, *req.Success)
	s.reply(w, r, http.StatusOK, settled, err)
}
