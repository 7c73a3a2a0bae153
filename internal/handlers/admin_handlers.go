package handlers

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"zoneplane/internal/logging"
)

// handleBackup downloads a consistent snapshot of the database. Only actors
// that may act for every company (the admins) are allowed.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	if !s.coord.IsAdmin(actor(r)) {
		writeError(w, http.StatusForbidden, "forbidden", "backup requires an admin actor")
		return
	}

	dir, err := os.MkdirTemp("", "zoneplane-backup-")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer os.RemoveAll(dir)

	dst := filepath.Join(dir, "zoneplane.db")
	if err := s.coord.Store().Backup(r.Context(), dst); err != nil {
		s.fail(w, r, err)
		return
	}
	file, err := os.Open(dst)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer file.Close()

	name := "zoneplane-" + time.Now().UTC().Format("20060102-150405") + ".db"
	w.Header().Set("Content-Disposition", "attachment; filename="+name)
	w.Header().Set("Content-Type", "application/x-sqlite3")
	if _, err := io.Copy(w, file); err != nil {
		s.log.Warn(r.Context(), "stream backup", logging.Err(err))
	}
}
