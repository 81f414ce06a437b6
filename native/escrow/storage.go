package escrow

import (
	"fmt"
	"math/big"

	"escrowledger/core/state"
)

type storedDispute struct {
	RaisedBy            [20]byte
	RaisedAt            uint64
	Arbitrator          [20]byte
	ExternalDisputeID   uint64
	ArbitrationFee      *big.Int
	Resolved            bool
	Manual              bool
	Ruling              uint8
	ResolutionReasoning string
	ManualSplitBps      uint32
	ResolvedAt          uint64
}

type storedJob struct {
	ID              uint64
	CategoryID      uint64
	Client          [20]byte
	Freelancer      [20]byte
	Asset           string
	Amount          *big.Int
	FreelancerStake *big.Int
	Status          uint8
	Reference       string
	ResultReference string
	Paid            bool
	Deadline        uint64
	CreatedAt       uint64
	MilestoneCount  uint64
	HasDispute      bool
	Dispute         storedDispute
}

type storedMilestone struct {
	Amount     *big.Int
	Reference  string
	Released   bool
	Upfront    bool
	ReleasedAt uint64
}

type storedApplicant struct {
	Address [20]byte
	Stake   *big.Int
}

type storedEvidence struct {
	Submitter [20]byte
	Reference string
	Timestamp uint64
	Digest    [32]byte
}

func toUnix(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func fromUnix(v uint64) int64 {
	return int64(v)
}

func newStoredJob(job *Job) *storedJob {
	stored := &storedJob{
		ID:              job.ID,
		CategoryID:      job.CategoryID,
		Client:          job.Client,
		Freelancer:      job.Freelancer,
		Asset:           job.Asset,
		Amount:          cloneBigInt(job.Amount),
		FreelancerStake: cloneBigInt(job.FreelancerStake),
		Status:          uint8(job.Status),
		Reference:       job.Reference,
		ResultReference: job.ResultReference,
		Paid:            job.Paid,
		Deadline:        toUnix(job.Deadline),
		CreatedAt:       toUnix(job.CreatedAt),
		MilestoneCount:  uint64(len(job.Milestones)),
		Dispute:         storedDispute{ArbitrationFee: big.NewInt(0)},
	}
	if d := job.Dispute; d != nil {
		stored.HasDispute = true
		stored.Dispute = storedDispute{
			RaisedBy:            d.RaisedBy,
			RaisedAt:            toUnix(d.RaisedAt),
			Arbitrator:          d.Arbitrator,
			ExternalDisputeID:   d.ExternalDisputeID,
			ArbitrationFee:      cloneBigInt(d.ArbitrationFee),
			Resolved:            d.Resolved,
			Manual:              d.Manual,
			Ruling:              uint8(d.Ruling),
			ResolutionReasoning: d.ResolutionReasoning,
			ManualSplitBps:      d.ManualSplitBps,
			ResolvedAt:          toUnix(d.ResolvedAt),
		}
	}
	return stored
}

func (s *storedJob) toJob() *Job {
	job := &Job{
		ID:              s.ID,
		CategoryID:      s.CategoryID,
		Client:          s.Client,
		Freelancer:      s.Freelancer,
		Asset:           s.Asset,
		Amount:          cloneBigInt(s.Amount),
		FreelancerStake: cloneBigInt(s.FreelancerStake),
		Status:          Status(s.Status),
		Reference:       s.Reference,
		ResultReference: s.ResultReference,
		Paid:            s.Paid,
		Deadline:        fromUnix(s.Deadline),
		CreatedAt:       fromUnix(s.CreatedAt),
	}
	if s.HasDispute {
		d := s.Dispute
		job.Dispute = &DisputeRecord{
			RaisedBy:            d.RaisedBy,
			RaisedAt:            fromUnix(d.RaisedAt),
			Arbitrator:          d.Arbitrator,
			ExternalDisputeID:   d.ExternalDisputeID,
			ArbitrationFee:      cloneBigInt(d.ArbitrationFee),
			Resolved:            d.Resolved,
			Manual:              d.Manual,
			Ruling:              Ruling(d.Ruling),
			ResolutionReasoning: d.ResolutionReasoning,
			ManualSplitBps:      d.ManualSplitBps,
			ResolvedAt:          fromUnix(d.ResolvedAt),
		}
	}
	return job
}

// loadJob reads a job together with its milestone table, applicant set and
// evidence log.
func loadJob(kv state.KV, id uint64) (*Job, error) {
	var stored storedJob
	ok, err := kv.KVGet(state.EscrowJobKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	job := stored.toJob()
	job.Milestones = make([]*Milestone, 0, stored.MilestoneCount)
	for i := 0; i < int(stored.MilestoneCount); i++ {
		var m storedMilestone
		ok, err := kv.KVGet(state.EscrowMilestoneKey(id, i), &m)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("escrow: job %d missing milestone %d", id, i)
		}
		job.Milestones = append(job.Milestones, &Milestone{
			Amount:     cloneBigInt(m.Amount),
			Reference:  m.Reference,
			Released:   m.Released,
			Upfront:    m.Upfront,
			ReleasedAt: fromUnix(m.ReleasedAt),
		})
	}
	var applicants []storedApplicant
	if _, err := kv.KVGet(state.EscrowApplicantsKey(id), &applicants); err != nil {
		return nil, err
	}
	for _, a := range applicants {
		job.Applicants = append(job.Applicants, Applicant{Address: a.Address, Stake: cloneBigInt(a.Stake)})
	}
	var evidence []storedEvidence
	if _, err := kv.KVGet(state.EscrowEvidenceKey(id), &evidence); err != nil {
		return nil, err
	}
	for _, ev := range evidence {
		job.Evidence = append(job.Evidence, Evidence{
			Submitter: ev.Submitter,
			Reference: ev.Reference,
			Timestamp: fromUnix(ev.Timestamp),
			Digest:    ev.Digest,
		})
	}
	return job, nil
}

func storeJob(kv state.KV, job *Job) error {
	if err := kv.KVPut(state.EscrowJobKey(job.ID), newStoredJob(job)); err != nil {
		return err
	}
	for i, m := range job.Milestones {
		stored := &storedMilestone{
			Amount:     cloneBigInt(m.Amount),
			Reference:  m.Reference,
			Released:   m.Released,
			Upfront:    m.Upfront,
			ReleasedAt: toUnix(m.ReleasedAt),
		}
		if err := kv.KVPut(state.EscrowMilestoneKey(job.ID, i), stored); err != nil {
			return err
		}
	}
	if len(job.Applicants) > 0 {
		applicants := make([]storedApplicant, len(job.Applicants))
		for i, a := range job.Applicants {
			applicants[i] = storedApplicant{Address: a.Address, Stake: cloneBigInt(a.Stake)}
		}
		if err := kv.KVPut(state.EscrowApplicantsKey(job.ID), applicants); err != nil {
			return err
		}
	}
	if len(job.Evidence) > 0 {
		evidence := make([]storedEvidence, len(job.Evidence))
		for i, ev := range job.Evidence {
			evidence[i] = storedEvidence{
				Submitter: ev.Submitter,
				Reference: ev.Reference,
				Timestamp: toUnix(ev.Timestamp),
				Digest:    ev.Digest,
			}
		}
		if err := kv.KVPut(state.EscrowEvidenceKey(job.ID), evidence); err != nil {
			return err
		}
	}
	return nil
}

func loadPolicy(kv state.KV) (Policy, bool, error) {
	var policy Policy
	ok, err := kv.KVGet(state.EscrowPolicyKey(), &policy)
	if err != nil {
		return Policy{}, false, err
	}
	return policy, ok, nil
}

func storePolicy(kv state.KV, policy Policy) error {
	return kv.KVPut(state.EscrowPolicyKey(), &policy)
}

func indexDispute(kv state.KV, externalID, jobID uint64) error {
	return kv.KVPut(state.EscrowDisputeKey(externalID), jobID)
}

func lookupDispute(kv state.KV, externalID uint64) (uint64, error) {
	var jobID uint64
	ok, err := kv.KVGet(state.EscrowDisputeKey(externalID), &jobID)
	if err != nil {
		return 0, err
	}
	if !ok || externalID == 0 {
		return 0, fmt.Errorf("%w: %d", ErrDisputeNotFound, externalID)
	}
	return jobID, nil
}
