package handlers

import (
	"bytes"
	"net/http"
	"strconv"

	"zoneplane/internal/export"
	"zoneplane/internal/logging"
)

// handleExport downloads zones, nodes or events of the caller's company.
// ?format=csv (default) or ?format=xlsx.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	table, err := export.Build(r.Context(), s.coord, r.PathValue("dataset"), actor(r), company(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// Render fully before sending headers so a failure can still be a 500.
	var buf bytes.Buffer
	if err := export.Write(&buf, format, table); err != nil {
		s.log.Error(r.Context(), "render export", logging.String("dataset", table.Name), logging.Err(err))
		writeError(w, http.StatusInternalServerError, "internal", "could not render export")
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename="+table.Filename(format))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		s.log.Warn(r.Context(), "stream export", logging.Err(err))
	}
}
