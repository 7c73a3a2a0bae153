package handlers

import (
	"net/http"

	"zoneplane/internal/service"
)

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	nodes, err := s.coord.ListNodes(r.Context(), actor(r), service.NodeQuery{
		ListOptions: opts,
		ZoneID:      q.Get("zone_id"),
		WorkerID:    q.Get("worker_id"),
		PortalID:    q.Get("portal_id"),
	})
	s.reply(w, r, http.StatusOK, nodes, err)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.coord.GetNode(r.Context(), actor(r), r.PathValue("id"))
	s.reply(w, r, http.StatusOK, node, err)
}

func (s *Server) handleUnassignNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.coord.UnassignNode(r.Context(), actor(r), r.PathValue("id"))
	s.reply(w, r, http.StatusAccepted, node, err)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.coord.DeleteNode(r.Context(), actor(r), r.PathValue("id"))
	s.reply(w, r, http.StatusAccepted, node, err)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	workers, err := s.coord.ListWorkers(r.Context(), actor(r), opts)
	s.reply(w, r, http.StatusOK, workers, err)
}

func (s *Server) handleCreateWorker(w http.ResponseWriter, r *http.Request) {
	var in service.WorkerInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	var err error
	if in.CompanyID, err = bodyCompany(r, in.CompanyID); err != nil {
		s.fail(w, r, err)
		return
	}
	worker, err := s.coord.CreateWorker(r.Context(), actor(r), in)
	s.reply(w, r, http.StatusCreated, worker, err)
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := s.coord.GetWorker(r.Context(), actor(r), r.PathValue("id"))
	s.reply(w, r, http.StatusOK, worker, err)
}

func (s *Server) handleUpdateWorker(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	worker, err := s.coord.UpdateWorker(r.Context(), actor(r), r.PathValue("id"), req.Name)
	s.reply(w, r, http.StatusOK, worker, err)
}

func (s *Server) handleEnableWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := s.coord.EnableWorker(r.Context(), actor(r), r.PathValue("id"))
	s.reply(w, r, http.StatusAccepted, worker, err)
}

func (s *Server) handleDisableWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := s.coord.DisableWorker(r.Context(), actor(r), r.PathValue("id"))
	s.reply(w, r, http.StatusAccepted, worker, err)
}

func (s *Server) handleDeleteWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := s.coord.DeleteWorker(r.Context(), actor(r), r.PathValue("id"))
	s.reply(w, r, http.StatusAccepted, worker, err)
}

func (s *Server) handleListPortals(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	portals, err := s.coord.ListPortals(r.Context(), actor(r), opts)
	s.reply(w, r, http.StatusOK, portals, err)
}

func (s *Server) handleCreatePortal(w http.ResponseWriter, r *http.Request) {
	var in service.PortalInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	var err error
	if in.CompanyID, err = bodyCompany(r, in.CompanyID); err != nil {
		s.fail(w, r, err)
		return
	}
	portal, err := s.coord.CreatePortal(r.Context(), actor(r), in)
	s.reply(w, r, http.StatusCreated, portal, err)
}

func (s *Server) handleGetPortal(w http.ResponseWriter, r *http.Request) {
	portal, err := s.coord.GetPortal(r.Context(), actor(r), r.PathValue("id"))
	s.reply(w, r, http.StatusOK, portal, err)
}

func (s *Server) handleUpdatePortal(w http.ResponseWriter, r *http.Request) {
	var patch service.PortalPatch
	if err := decode(r, &patch); err != nil {
		s.fail(w, r, err)
		return
	}
	portal, err := s.coord.UpdatePortal(r.Context(), actor(r), r.PathValue("id"), patch)
	s.reply(w, r, http.StatusOK, portal, err)
}

func (s *Server) handleEnablePortal(w http.ResponseWriter, r *http.Request) {
	portal, err := s.coord.EnablePortal(r.Context(), actor(r), r.PathValue("id"))
	s.reply(w, r, http.StatusAccepted, portal, err)
}

func (s *Server) handleDisablePortal(w http.ResponseWriter, r *http.Request) {
	portal, err := s.coord.DisablePortal(r.Context(), actor(r), r.PathValue("id"))
	s.reply(w, r, http.StatusAccepted, portal, err)
}

func (s *Server) handleDeletePortal(w http.ResponseWriter, r *http.Request) {
	portal, err := s.coord.DeletePortal(r.Context(), actor(r), r.PathValue("id"))
	s.reply(w, r, http.StatusAccepted, portal, err)
}

func (s *Server) handleListTransponders(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	trs, err := s.coord.ListTransponders(r.Context(), actor(r), service.TransponderQuery{
		ListOptions: opts,
		PortalID:    q.Get("portal_id"),
		WorkerID:    q.Get("worker_id"),
	})
	s.reply(w, r, http.StatusOK, trs, err)
}

func (s *Server) handleCreateTransponder(w http.ResponseWriter, r *http.Request) {
	var in service.TransponderInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	var err error
	if in.CompanyID, err = bodyCompany(r, in.CompanyID); err != nil {
		s.fail(w, r, err)
		return
	}
	tr, err := s.coord.CreateTransponder(r.Context(), actor(r), in)
	s.reply(w, r, http.StatusCreated, tr, err)
}

func (s *Server) handleGetTransponder(w http.ResponseWriter, r *http.Request) {
	tr, err := s.coord.GetTransponder(r.Context(), actor(r), r.PathValue("id"))
	s.reply(w, r, http.StatusOK, tr, err)
}

func (s *Server) handleUpdateTransponder(w http.ResponseWriter, r *http.Request) {
	var patch service.TransponderPatch
	if err := decode(r, &patch); err != nil {
		s.fail(w, r, err)
		return
	}
	tr, err := s.coord.UpdateTransponder(r.Context(), actor(r), r.PathValue("id"), patch)
	s.reply(w, r, http.StatusAccepted, tr, err)
}

func (s *Server) handleEnableTransponder(w http.ResponseWriter, r *http.Request) {
	tr, err := s.coord.EnableTransponder(r.Context(), actor(r), r.PathValue("id"))
	s.reply(w, r, http.StatusAccepted, tr, err)
}

func (s *Server) handleDisableTransponder(w http.ResponseWriter, r *http.Request) {
	tr, err := s.coord.DisableTransponder(r.Context(), actor(r), r.PathValue("id"))
	s.reply(w, r, http.StatusAccepted, tr, err)
}

func (s *Server) handleDeleteTransponder(w http.ResponseWriter, r *http.Request) {
	tr, err := s.coord.DeleteTransponder(r.Context(), actor(r), r.PathValue("id"))
	s.reply(w, r, http.StatusAccepted, tr, err)
}
