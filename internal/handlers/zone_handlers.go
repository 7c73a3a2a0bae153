package handlers

import (
	"net/http"

	"zoneplane/internal/apperr"
	"zoneplane/internal/service"
)

// bodyCompany reconciles the company named in a request body with the
// X-Company-ID header. Either may be omitted; if both are set they must
// agree.
func bodyCompany(r *http.Request, fromBody string) (string, error) {
	h := company(r)
	switch {
	case fromBody == "":
		return h, nil
	case h == "" || h == fromBody:
		return fromBody, nil
	}
	return "", apperr.Validation("company_id %q does not match %s %q", fromBody, companyHeader, h)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	zones, err := s.coord.ListZones(r.Context(), actor(r), opts)
	s.reply(w, r, http.StatusOK, zones, err)
}

func (s *Server) handleCreateZone(w http.ResponseWriter, r *http.Request) {
	var in service.ZoneInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	var err error
	if in.CompanyID, err = bodyCompany(r, in.CompanyID); err != nil {
		s.fail(w, r, err)
		return
	}
	zone, err := s.coord.CreateZone(r.Context(), actor(r), in)
	s.reply(w, r, http.StatusCreated, zone, err)
}

func (s *Server) handleGetZone(w http.ResponseWriter, r *http.Request) {
	zone, err := s.coord.GetZone(r.Context(), actor(r), r.PathValue("id"))
	s.reply(w, r, http.StatusOK, zone, err)
}

func (s *Server) handleRenameZone(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	zone, err := s.coord.RenameZone(r.Context(), actor(r), r.PathValue("id"), req.Name)
	s.reply(w, r, http.StatusOK, zone, err)
}

func (s *Server) handleDeleteZone(w http.ResponseWriter, r *http.Request) {
	zone, err := s.coord.DeleteZone(r.Context(), actor(r), r.PathValue("id"))
	s.reply(w, r, http.StatusAccepted, zone, err)
}

func (s *Server) handleZoneUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.coord.GetZoneUsage(r.Context(), actor(r), r.PathValue("id"))
	s.reply(w, r, http.StatusOK, usage, err)
}

func (s *Server) handleAssignWorker(w http.ResponseWriter, r *http.Request) {
	a, err := s.coord.AssignWorker(r.Context(), actor(r), r.PathValue("id"), r.PathValue("worker"))
	s.reply(w, r, http.StatusCreated, a, err)
}

func (s *Server) handleAssignPortal(w http.ResponseWriter, r *http.Request) {
	a, err := s.coord.AssignPortal(r.Context(), actor(r), r.PathValue("id"), r.PathValue("portal"))
	s.reply(w, r, http.StatusCreated, a, err)
}
