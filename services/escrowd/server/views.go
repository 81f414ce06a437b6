package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"escrowledger/crypto"
	"escrowledger/native/arbitration"
	"escrowledger/native/escrow"
)

type milestoneView struct {
	Amount     string `json:"amount"`
	Reference  string `json:"reference"`
	Released   bool   `json:"released"`
	Upfront    bool   `json:"upfront"`
	ReleasedAt int64  `json:"releasedAt,omitempty"`
}

type applicantView struct {
	Address string `json:"address"`
	Stake   string `json:"stake"`
}

type evidenceView struct {
	Submitter string `json:"submitter"`
	Reference string `json:"reference"`
	Timestamp int64  `json:"timestamp"`
	Digest    string `json:"digest"`
}

type disputeView struct {
	RaisedBy          string `json:"raisedBy"`
	RaisedAt          int64  `json:"raisedAt"`
	Arbitrator        string `json:"arbitrator,omitempty"`
	ExternalDisputeID uint64 `json:"disputeId,omitempty"`
	ArbitrationFee    string `json:"arbitrationFee"`
	Resolved          bool   `json:"resolved"`
	Manual            bool   `json:"manual"`
	Ruling            string `json:"ruling,omitempty"`
	Reasoning         string `json:"reasoning,omitempty"`
	ManualSplitBps    uint32 `json:"manualSplitBps,omitempty"`
	ResolvedAt        int64  `json:"resolvedAt,omitempty"`
}

type jobView struct {
	ID              uint64          `json:"id"`
	CategoryID      uint64          `json:"categoryId"`
	Client          string          `json:"client"`
	Freelancer      string          `json:"freelancer,omitempty"`
	Asset           string          `json:"asset"`
	Amount          string          `json:"amount"`
	Remaining       string          `json:"remaining"`
	FreelancerStake string          `json:"freelancerStake"`
	Status          string          `json:"status"`
	Reference       string          `json:"reference"`
	ResultReference string          `json:"resultReference,omitempty"`
	Paid            bool            `json:"paid"`
	Deadline        int64           `json:"deadline,omitempty"`
	CreatedAt       int64           `json:"createdAt"`
	Milestones      []milestoneView `json:"milestones"`
	Applicants      []applicantView `json:"applicants"`
	Evidence        []evidenceView  `json:"evidence"`
	EvidenceValid   bool            `json:"evidenceValid"`
	Dispute         *disputeView    `json:"dispute,omitempty"`
}

func newJobView(job *escrow.Job) jobView {
	view := jobView{
		ID:              job.ID,
		CategoryID:      job.CategoryID,
		Client:          crypto.HexAddress(job.Client),
		Asset:           job.Asset,
		Amount:          amountString(job.Amount),
		Remaining:       amountString(job.Remaining()),
		FreelancerStake: amountString(job.FreelancerStake),
		Status:          job.Status.String(),
		Reference:       job.Reference,
		ResultReference: job.ResultReference,
		Paid:            job.Paid,
		Deadline:        job.Deadline,
		CreatedAt:       job.CreatedAt,
		Milestones:      make([]milestoneView, 0, len(job.Milestones)),
		Applicants:      make([]applicantView, 0, len(job.Applicants)),
		Evidence:        make([]evidenceView, 0, len(job.Evidence)),
		EvidenceValid:   escrow.VerifyEvidence(job),
	}
	if job.HasFreelancer() {
		view.Freelancer = crypto.HexAddress(job.Freelancer)
	}
	for _, m := range job.Milestones {
		view.Milestones = append(view.Milestones, milestoneView{
			Amount:     amountString(m.Amount),
			Reference:  m.Reference,
			Released:   m.Released,
			Upfront:    m.Upfront,
			ReleasedAt: m.ReleasedAt,
		})
	}
	for _, a := range job.Applicants {
		view.Applicants = append(view.Applicants, applicantView{Address: crypto.HexAddress(a.Address), Stake: amountString(a.Stake)})
	}
	for _, e := range job.Evidence {
		view.Evidence = append(view.Evidence, evidenceView{
			Submitter: crypto.HexAddress(e.Submitter),
			Reference: e.Reference,
			Timestamp: e.Timestamp,
			Digest:    hex.EncodeToString(e.Digest[:]),
		})
	}
	if d := job.Dispute; d != nil {
		dv := &disputeView{
			RaisedBy:          crypto.HexAddress(d.RaisedBy),
			RaisedAt:          d.RaisedAt,
			ExternalDisputeID: d.ExternalDisputeID,
			ArbitrationFee:    amountString(d.ArbitrationFee),
			Resolved:          d.Resolved,
			Manual:            d.Manual,
			Reasoning:         d.ResolutionReasoning,
			ManualSplitBps:    d.ManualSplitBps,
			ResolvedAt:        d.ResolvedAt,
		}
		if d.Arbitrator != ([20]byte{}) {
			dv.Arbitrator = crypto.HexAddress(d.Arbitrator)
		}
		if d.Resolved && !d.Manual {
			dv.Ruling = d.Ruling.String()
		}
		view.Dispute = dv
	}
	return view
}

type policyView struct {
	Whitelist           []string `json:"whitelist"`
	FeeBps              uint32   `json:"feeBps"`
	Vault               string   `json:"vault"`
	ReputationThreshold uint64   `json:"reputationThreshold"`
	Supreme             []string `json:"supreme"`
	StakeBps            uint32   `json:"stakeBps"`
	ExternalArbitration bool     `json:"externalArbitration"`
}

func newPolicyView(p escrow.Policy) policyView {
	view := policyView{
		Whitelist:           append([]string{}, p.Whitelist...),
		FeeBps:              p.FeeBps,
		Vault:               crypto.HexAddress(p.Vault),
		ReputationThreshold: p.ReputationThreshold,
		Supreme:             make([]string, 0, len(p.Supreme)),
		StakeBps:            p.StakeBps,
		ExternalArbitration: p.ExternalArbitration,
	}
	for _, addr := range p.Supreme {
		view.Supreme = append(view.Supreme, crypto.HexAddress(addr))
	}
	return view
}

type caseView struct {
	ID        uint64 `json:"id"`
	JobID     uint64 `json:"jobId"`
	RaisedBy  string `json:"raisedBy"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	Fee       string `json:"fee"`
	Status    string `json:"status"`
	Ruling    string `json:"ruling,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	OpenedAt  uint64 `json:"openedAt"`
	DecidedAt uint64 `json:"decidedAt,omitempty"`
}

func newCaseView(c *arbitration.Case) caseView {
	view := caseView{
		ID:        c.ID,
		JobID:     c.JobID,
		RaisedBy:  crypto.HexAddress(c.RaisedBy),
		Asset:     c.Asset,
		Amount:    amountString(c.Amount),
		Fee:       amountString(c.Fee),
		Status:    arbitration.CaseStatus(c.Status).String(),
		Reasoning: c.Reasoning,
		OpenedAt:  c.OpenedAt,
		DecidedAt: c.DecidedAt,
	}
	if arbitration.CaseStatus(c.Status) == arbitration.CaseDecided {
		view.Ruling = escrow.Ruling(c.Ruling).String()
	}
	return view
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a decimal integer", raw)
	}
	return amount, nil
}

func parseRuling(raw string) (escrow.Ruling, error) {
	for _, r := range []escrow.Ruling{escrow.RulingSplit, escrow.RulingClient, escrow.RulingFreelancer} {
		if strings.EqualFold(strings.TrimSpace(raw), r.String()) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown ruling %q", raw)
}

func uintParam(r *http.Request, name string) (uint64, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an unsigned integer", name)
	}
	return v, nil
}

func decodeBody(r *http.Request, out interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

// optionalAddress returns the zero address for an empty string.
func optionalAddress(raw string) ([20]byte, error) {
	if strings.TrimSpace(raw) == "" {
		return [20]byte{}, nil
	}
	return crypto.ParseAddress(raw)
}
