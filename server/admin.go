package server

import (
	"net/http"

	"github.com/shhcash/Shh.Cash-Node/journal"
	"github.com/shhcash/Shh.Cash-Node/relay"
)

const adminJournalEntries = 20

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.node.Pause()
	s.logger.Info("server: admission paused via admin")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.node.Resume()
	s.logger.Info("server: admission resumed via admin")
	w.WriteHeader(http.StatusNoContent)
}

type adminStatusResponse struct {
	relay.Status
	Journal []journal.Entry `json:"journal,omitempty"`
}

func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	resp := adminStatusResponse{Status: s.node.Status()}
	if s.audit != nil {
		entries, err := s.audit.Recent(r.Context(), adminJournalEntries)
		if err != nil {
			s.logger.Warn("server: journal read failed", "error", err)
		} else {
			resp.Journal = entries
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
