package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"escrowledger/crypto"
	"escrowledger/native/escrow"
	"escrowledger/services/escrowd/auth"
)

var errMilestoneIndex = errors.New("index must be a milestone position")

func callerOf(ctx context.Context) [20]byte {
	caller, _ := auth.CallerFromContext(ctx)
	return caller
}

func escrowAddressError(err error) error {
	return fmt.Errorf("%w: %v", escrow.ErrInvalidAddress, err)
}

type milestoneRequest struct {
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
	Upfront   bool   `json:"upfront"`
}

type createJobRequest struct {
	CategoryID uint64             `json:"categoryId"`
	Freelancer string             `json:"freelancer"`
	Asset      string             `json:"asset"`
	Amount     string             `json:"amount"`
	Reference  string             `json:"reference"`
	Deadline   int64              `json:"deadline"`
	Milestones []milestoneRequest `json:"milestones"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	freelancer, err := optionalAddress(req.Freelancer)
	if err != nil {
		s.writeEngineError(w, r, escrowAddressError(err))
		return
	}
	spec := escrow.JobSpec{
		CategoryID: req.CategoryID,
		Freelancer: freelancer,
		Asset:      req.Asset,
		Reference:  req.Reference,
		Deadline:   req.Deadline,
	}
	if req.Amount != "" {
		if spec.Amount, err = parseAmount(req.Amount); err != nil {
			s.badRequest(w, r, err)
			return
		}
	}
	for _, m := range req.Milestones {
		amount, err := parseAmount(m.Amount)
		if err != nil {
			s.badRequest(w, r, err)
			return
		}
		spec.Milestones = append(spec.Milestones, escrow.MilestoneSpec{Amount: amount, Reference: m.Reference, Upfront: m.Upfront})
	}
	id, err := s.engine.CreateJob(callerOf(r.Context()), spec)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJob(w, r, http.StatusCreated, id)
}

func (s *Server) writeJob(w http.ResponseWriter, r *http.Request, status int, id uint64) {
	job, err := s.engine.GetJob(id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, status, newJobView(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	s.writeJob(w, r, http.StatusOK, id)
}

// jobAction adapts an engine call that takes only the caller and job id.
func (s *Server) jobAction(fn func(caller [20]byte, id uint64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uintParam(r, "id")
		if err != nil {
			s.badRequest(w, r, err)
			return
		}
		if err := fn(callerOf(r.Context()), id); err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		s.writeJob(w, r, http.StatusOK, id)
	}
}

func (s *Server) handlePick(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	var req struct {
		Freelancer string `json:"freelancer"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	chosen, err := crypto.ParseAddress(req.Freelancer)
	if err != nil {
		s.writeEngineError(w, r, escrowAddressError(err))
		return
	}
	if err := s.engine.PickFreelancer(callerOf(r.Context()), id, chosen); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJob(w, r, http.StatusOK, id)
}

func (s *Server) handleSubmitWork(w http.ResponseWriter, r *http.Request) {
	s.referenceAction(w, r, s.engine.SubmitWork)
}

func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request) {
	s.referenceAction(w, r, s.engine.SubmitEvidence)
}

func (s *Server) referenceAction(w http.ResponseWriter, r *http.Request, fn func([20]byte, uint64, string) error) {
	id, err := uintParam(r, "id")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	var req struct {
		Reference string `json:"reference"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	if err := fn(callerOf(r.Context()), id, req.Reference); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJob(w, r, http.StatusOK, id)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	var req struct {
		Rating uint8 `json:"rating"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	if err := s.engine.CompleteJob(callerOf(r.Context()), id, req.Rating); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJob(w, r, http.StatusOK, id)
}

func (s *Server) handleReleaseMilestone(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	index, err := uintParam(r, "index")
	if err != nil || index > uint64(escrow.MaxMilestones) {
		s.badRequest(w, r, errMilestoneIndex)
		return
	}
	if err := s.engine.ReleaseMilestone(callerOf(r.Context()), id, int(index)); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJob(w, r, http.StatusOK, id)
}

func (s *Server) handleRaiseDispute(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	disputeID, err := s.engine.RaiseDispute(callerOf(r.Context()), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	job, err := s.engine.GetJob(id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.Header().Set("X-Dispute-Id", strconv.FormatUint(disputeID, 10))
	writeJSON(w, http.StatusOK, newJobView(job))
}

func (s *Server) handleResolveManual(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	var req struct {
		FreelancerBps uint32 `json:"freelancerBps"`
		Reasoning     string `json:"reasoning"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	if err := s.engine.ResolveDisputeManual(callerOf(r.Context()), id, req.FreelancerBps, req.Reasoning); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJob(w, r, http.StatusOK, id)
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	disputeID, err := uintParam(r, "disputeId")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	job, err := s.engine.JobForDispute(disputeID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

func (s *Server) handleBeginArbitration(w http.ResponseWriter, r *http.Request) {
	disputeID, err := uintParam(r, "disputeId")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	if err := s.engine.BeginArbitration(callerOf(r.Context()), disputeID); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.handleGetDispute(w, r)
}

func (s *Server) handleRule(w http.ResponseWriter, r *http.Request) {
	disputeID, err := uintParam(r, "disputeId")
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
	if err := s.engine.Rule(callerOf(r.Context()), disputeID, ruling, req.Reasoning); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.handleGetDispute(w, r)
}
