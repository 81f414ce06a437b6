package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

const (
	// MaxApplicants bounds the applicant set so the refund sweep in
	// PickFreelancer stays bounded.
	MaxApplicants = 50
	// MaxMilestones bounds the milestone table of a single job.
	MaxMilestones = 20
	// MaxEvidence bounds the evidence log of a single dispute.
	MaxEvidence = 50
	// MaxReferenceLength bounds opaque metadata pointers in bytes.
	MaxReferenceLength = 256
)

// Ruling is the verdict an arbitrator hands down for a dispute.
type Ruling uint8

const (
	RulingSplit Ruling = iota
	RulingClient
	RulingFreelancer
)

func (r Ruling) String() string {
	switch r {
	case RulingSplit:
		return "split"
	case RulingClient:
		return "client"
	case RulingFreelancer:
		return "freelancer"
	default:
		return fmt.Sprintf("ruling(%d)", uint8(r))
	}
}

// Valid reports whether the ruling is one of the defined verdicts.
func (r Ruling) Valid() bool {
	return r <= RulingFreelancer
}

// Milestone is an independently releasable partition of a job's payment.
type Milestone struct {
	Amount     *big.Int
	Reference  string
	Released   bool
	Upfront    bool
	ReleasedAt int64
}

// Clone returns a deep copy of the milestone.
func (m *Milestone) Clone() *Milestone {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Amount = cloneBigInt(m.Amount)
	return &clone
}

// Applicant records a staked application for an open job.
type Applicant struct {
	Address [20]byte
	Stake   *big.Int
}

// Evidence is one entry of a dispute's append-only evidence log. Digest
// chains each entry to its predecessor.
type Evidence struct {
	Submitter [20]byte
	Reference string
	Timestamp int64
	Digest    [32]byte
}

// DisputeRecord captures who raised a dispute and how it was closed.
type DisputeRecord struct {
	RaisedBy            [20]byte
	RaisedAt            int64
	Arbitrator          [20]byte
	ExternalDisputeID   uint64
	ArbitrationFee      *big.Int
	Resolved            bool
	Manual              bool
	Ruling              Ruling
	ResolutionReasoning string
	ManualSplitBps      uint32
	ResolvedAt          int64
}

// Clone returns a deep copy of the dispute record.
func (d *DisputeRecord) Clone() *DisputeRecord {
	if d == nil {
		return nil
	}
	clone := *d
	clone.ArbitrationFee = cloneBigInt(d.ArbitrationFee)
	return &clone
}

// Job is one escrowed engagement between a client and a freelancer.
type Job struct {
	ID              uint64
	CategoryID      uint64
	Client          [20]byte
	Freelancer      [20]byte
	Asset           string
	Amount          *big.Int
	FreelancerStake *big.Int
	Status          Status
	Reference       string
	ResultReference string
	Paid            bool
	Deadline        int64
	CreatedAt       int64
	Milestones      []*Milestone
	Applicants      []Applicant
	Evidence        []Evidence
	Dispute         *DisputeRecord
}

// Clone returns a deep copy of the job so callers can safely mutate it.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	clone.Amount = cloneBigInt(j.Amount)
	clone.FreelancerStake = cloneBigInt(j.FreelancerStake)
	clone.Milestones = make([]*Milestone, len(j.Milestones))
	for i, m := range j.Milestones {
		clone.Milestones[i] = m.Clone()
	}
	clone.Applicants = make([]Applicant, len(j.Applicants))
	for i, a := range j.Applicants {
		clone.Applicants[i] = Applicant{Address: a.Address, Stake: cloneBigInt(a.Stake)}
	}
	clone.Evidence = append([]Evidence(nil), j.Evidence...)
	clone.Dispute = j.Dispute.Clone()
	return &clone
}

// HasFreelancer reports whether a freelancer is bound to the job.
func (j *Job) HasFreelancer() bool {
	return j.Freelancer != ([20]byte{})
}

// WorkSubmitted reports whether the freelancer delivered a result.
func (j *Job) WorkSubmitted() bool {
	return j.ResultReference != ""
}

// Released sums every released milestone.
func (j *Job) Released() *big.Int {
	total := big.NewInt(0)
	for _, m := range j.Milestones {
		if m.Released {
			total.Add(total, m.Amount)
		}
	}
	return total
}

// Remaining is the part of Amount not yet paid out through milestones.
func (j *Job) Remaining() *big.Int {
	return new(big.Int).Sub(cloneBigInt(j.Amount), j.Released())
}

// AllMilestonesReleased reports whether every declared milestone has been
// paid. Jobs without milestones report false.
func (j *Job) AllMilestonesReleased() bool {
	if len(j.Milestones) == 0 {
		return false
	}
	for _, m := range j.Milestones {
		if !m.Released {
			return false
		}
	}
	return true
}

func (j *Job) applicant(addr [20]byte) (int, bool) {
	for i, a := range j.Applicants {
		if a.Address == addr {
			return i, true
		}
	}
	return -1, false
}

func (j *Job) isParty(addr [20]byte) bool {
	return addr == j.Client || (j.HasFreelancer() && addr == j.Freelancer)
}

// MilestoneSpec declares one milestone at job creation.
type MilestoneSpec struct {
	Amount    *big.Int
	Reference string
	Upfront   bool
}

// JobSpec carries the caller supplied parameters of CreateJob.
type JobSpec struct {
	CategoryID uint64
	Freelancer [20]byte
	Asset      string
	Amount     *big.Int
	Reference  string
	Deadline   int64
	Milestones []MilestoneSpec
}

// NormalizeAsset returns the canonical uppercase form of an asset identifier.
func NormalizeAsset(asset string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(asset))
	if trimmed == "" {
		return "", fmt.Errorf("%w: asset required", ErrInvalidAmount)
	}
	return trimmed, nil
}

func validateReference(ref string, required bool) error {
	trimmed := strings.TrimSpace(ref)
	if required && trimmed == "" {
		return fmt.Errorf("%w: reference required", ErrInvalidReference)
	}
	if len(ref) > MaxReferenceLength {
		return fmt.Errorf("%w: reference exceeds %d bytes", ErrInvalidReference, MaxReferenceLength)
	}
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func bpsOf(amount *big.Int, bps uint32) *big.Int {
	out := new(big.Int).Mul(cloneBigInt(amount), new(big.Int).SetUint64(uint64(bps)))
	return out.Quo(out, big.NewInt(10_000))
}
