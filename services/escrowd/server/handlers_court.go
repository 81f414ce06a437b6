package server

import (
	"fmt"
	"net/http"

	"escrowledger/native/access"
	"escrowledger/native/escrow"
)

// requireCourt checks that the in-process court is attached and that the
// caller is an arbitrator. The court signs with its own address on the
// engine, so the operator's role is checked here.
func (s *Server) requireCourt(w http.ResponseWriter, r *http.Request) bool {
	if s.court == nil {
		s.writeError(w, r, http.StatusNotFound, "CourtDisabled", nil)
		return false
	}
	ok, err := s.engine.HasRole(access.RoleArbitrator, callerOf(r.Context()))
	if err != nil {
		s.writeEngineError(w, r, err)
		return false
	}
	if !ok {
		s.writeEngineError(w, r, fmt.Errorf("%w: court operators must hold %s", escrow.ErrNotAuthorized, access.RoleArbitrator))
		return false
	}
	return true
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	if s.court == nil {
		s.writeError(w, r, http.StatusNotFound, "CourtDisabled", nil)
		return
	}
	id, err := uintParam(r, "caseId")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	entry, err := s.court.Case(id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCaseView(entry))
}

func (s *Server) handleReviewCase(w http.ResponseWriter, r *http.Request) {
	if !s.requireCourt(w, r) {
		return
	}
	id, err := uintParam(r, "caseId")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	if err := s.court.Review(id); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.handleGetCase(w, r)
}

func (s *Server) handleDecideCase(w http.ResponseWriter, r *http.Request) {
	if !s.requireCourt(w, r) {
		return
	}
	id, err := uintParam(r, "caseId")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	var req struct {
		Ruling    string `json:"ruling"`
		Reasoning string `json:"reasoning"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	ruling, err := parseRuling(req.Ruling)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	if err := s.court.Decide(id, ruling, req.Reasoning); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.handleGetCase(w, r)
}
