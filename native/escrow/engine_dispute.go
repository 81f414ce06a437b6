package escrow

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"lukechampine.com/blake3"

	"escrowledger/native/access"
	"escrowledger/native/bank"
)

// RaiseDispute freezes an active job. When external arbitration is enabled
// the raiser pays the arbitrator's fee and the returned dispute id is
// indexed to the job; otherwise zero is returned and the dispute awaits
// manual resolution.
func (e *Engine) RaiseDispute(caller [20]byte, id uint64) (uint64, error) {
	var disputeID uint64
	err := e.execute("raise_dispute", true, func(c *call) error {
		policy, err := requirePolicy(c.tx)
		if err != nil {
			return err
		}
		job, err := loadJob(c.tx, id)
		if err != nil {
			return err
		}
		if !job.isParty(caller) {
			return fmt.Errorf("%w: only job parties may dispute", ErrNotAuthorized)
		}
		if err := requireStatus(job, StatusAccepted, StatusOngoing); err != nil {
			return err
		}
		record := &DisputeRecord{
			RaisedBy:       caller,
			RaisedAt:       c.now,
			ArbitrationFee: big.NewInt(0),
		}
		if policy.ExternalArbitration && e.arbitrator != nil {
			arbitrator := e.arbitrator.Address()
			fee := cloneBigInt(e.arbitrator.ArbitrationCost(job.Asset))
			if fee.Sign() < 0 {
				return fmt.Errorf("%w: negative arbitration cost", ErrInvalidAmount)
			}
			if err := bank.Move(c.tx, caller, arbitrator, job.Asset, fee); err != nil {
				return err
			}
			external, err := e.arbitrator.RequestResolution(ResolutionRequest{
				JobID:       job.ID,
				Client:      job.Client,
				Freelancer:  job.Freelancer,
				RaisedBy:    caller,
				Asset:       job.Asset,
				Amount:      job.Remaining(),
				Fee:         fee,
				Reference:   job.Reference,
				RequestedAt: c.now,
			})
			if err != nil {
				return fmt.Errorf("escrow: request resolution: %w", err)
			}
			if external == 0 {
				return fmt.Errorf("escrow: arbitrator returned an empty dispute id")
			}
			if _, err := lookupDispute(c.tx, external); err == nil {
				return fmt.Errorf("escrow: dispute id %d already bound", external)
			}
			if err := indexDispute(c.tx, external, job.ID); err != nil {
				return err
			}
			record.Arbitrator = arbitrator
			record.ExternalDisputeID = external
			record.ArbitrationFee = fee
			disputeID = external
		}
		job.Dispute = record
		if err := job.transition(StatusDisputed); err != nil {
			return err
		}
		c.emit(NewDisputeRaisedEvent(job))
		return storeJob(c.tx, job)
	})
	if err != nil {
		return 0, err
	}
	return disputeID, nil
}

// SubmitEvidence appends to the dispute's evidence log while it is still
// open for submissions.
func (e *Engine) SubmitEvidence(caller [20]byte, id uint64, reference string) error {
	return e.execute("submit_evidence", true, func(c *call) error {
		job, err := loadJob(c.tx, id)
		if err != nil {
			return err
		}
		if !job.isParty(caller) {
			return fmt.Errorf("%w: only job parties may submit evidence", ErrNotAuthorized)
		}
		if err := requireStatus(job, StatusDisputed); err != nil {
			return err
		}
		if len(job.Evidence) >= MaxEvidence {
			return fmt.Errorf("%w: job %d", ErrTooManyEvidence, id)
		}
		if err := validateReference(reference, true); err != nil {
			return err
		}
		var prev [32]byte
		if n := len(job.Evidence); n > 0 {
			prev = job.Evidence[n-1].Digest
		}
		entry := Evidence{Submitter: caller, Reference: reference, Timestamp: c.now}
		entry.Digest = EvidenceDigest(prev, entry)
		job.Evidence = append(job.Evidence, entry)
		c.emit(NewEvidenceEvent(job, entry))
		return storeJob(c.tx, job)
	})
}

// EvidenceDigest chains an evidence entry onto the digest of its predecessor.
func EvidenceDigest(prev [32]byte, entry Evidence) [32]byte {
	buf := make([]byte, 0, 32+20+8+len(entry.Reference))
	buf = append(buf, prev[:]...)
	buf = append(buf, entry.Submitter[:]...)
	buf = binary.BigEndian.AppendUint64(buf, toUnix(entry.Timestamp))
	buf = append(buf, entry.Reference...)
	return blake3.Sum256(buf)
}

// VerifyEvidence recomputes the digest chain of a job's evidence log.
func VerifyEvidence(job *Job) bool {
	var prev [32]byte
	for _, entry := range job.Evidence {
		if EvidenceDigest(prev, entry) != entry.Digest {
			return false
		}
		prev = entry.Digest
	}
	return true
}

// BeginArbitration records that the arbitrator took the case, closing the
// evidence window.
func (e *Engine) BeginArbitration(caller [20]byte, disputeID uint64) error {
	return e.execute("begin_arbitration", true, func(c *call) error {
		if err := access.Require(c.tx, access.RoleArbitrator, caller); err != nil {
			return err
		}
		jobID, err := lookupDispute(c.tx, disputeID)
		if err != nil {
			return err
		}
		job, err := loadJob(c.tx, jobID)
		if err != nil {
			return err
		}
		if err := requireStatus(job, StatusDisputed); err != nil {
			return err
		}
		if err := job.transition(StatusArbitration); err != nil {
			return err
		}
		c.emit(NewArbitrationEvent(job))
		return storeJob(c.tx, job)
	})
}

// Rule applies an arbitrator's verdict. A split or a client win cancels the
// job; a freelancer win runs the completion settlement.
func (e *Engine) Rule(caller [20]byte, disputeID uint64, ruling Ruling, reasoning string) error {
	return e.execute("rule", true, func(c *call) error {
		if err := access.Require(c.tx, access.RoleArbitrator, caller); err != nil {
			return err
		}
		if !ruling.Valid() {
			return fmt.Errorf("%w: unknown ruling %d", ErrInvalidAmount, ruling)
		}
		if err := validateReference(reasoning, false); err != nil {
			return err
		}
		jobID, err := lookupDispute(c.tx, disputeID)
		if err != nil {
			return err
		}
		job, err := loadJob(c.tx, jobID)
		if err != nil {
			return err
		}
		if err := requireStatus(job, StatusDisputed, StatusArbitration); err != nil {
			return err
		}
		d := job.Dispute
		d.Resolved = true
		d.Ruling = ruling
		d.ResolutionReasoning = reasoning
		d.ResolvedAt = c.now

		remaining := job.Remaining()
		stake := cloneBigInt(job.FreelancerStake)
		var toFreelancer, toClient *big.Int
		switch ruling {
		case RulingFreelancer:
			s, err := e.settle(c, job, 0)
			if err != nil {
				return err
			}
			toFreelancer = new(big.Int).Add(s.payout, s.stake)
			toClient = big.NewInt(0)
		case RulingClient:
			toFreelancer = big.NewInt(0)
			toClient = new(big.Int).Add(remaining, stake)
			if err := e.cancelWithSplit(c, job, toFreelancer, toClient); err != nil {
				return err
			}
		default:
			half := new(big.Int).Quo(remaining, big.NewInt(2))
			toFreelancer = new(big.Int).Add(half, stake)
			toClient = new(big.Int).Sub(remaining, half)
			if err := e.cancelWithSplit(c, job, toFreelancer, toClient); err != nil {
				return err
			}
		}
		c.emit(NewDisputeResolvedEvent(job, toFreelancer, toClient))
		return storeJob(c.tx, job)
	})
}

// ResolveDisputeManual lets an administrator split an open dispute that no
// arbitrator has taken. The freelancer receives freelancerBps of the
// remainder plus the stake; the job always ends Cancelled.
func (e *Engine) ResolveDisputeManual(caller [20]byte, id uint64, freelancerBps uint32, reasoning string) error {
	return e.execute("resolve_dispute_manual", true, func(c *call) error {
		if err := access.Require(c.tx, access.RoleAdministrator, caller); err != nil {
			return err
		}
		if freelancerBps > 10_000 {
			return fmt.Errorf("%w: split %d bps exceeds 10000", ErrInvalidAmount, freelancerBps)
		}
		if err := validateReference(reasoning, false); err != nil {
			return err
		}
		job, err := loadJob(c.tx, id)
		if err != nil {
			return err
		}
		if err := requireStatus(job, StatusDisputed); err != nil {
			return err
		}
		remaining := job.Remaining()
		share := bpsOf(remaining, freelancerBps)
		toFreelancer := new(big.Int).Add(share, job.FreelancerStake)
		toClient := new(big.Int).Sub(remaining, share)
		d := job.Dispute
		d.Resolved = true
		d.Manual = true
		d.ManualSplitBps = freelancerBps
		d.ResolutionReasoning = reasoning
		d.ResolvedAt = c.now
		if err := e.cancelWithSplit(c, job, toFreelancer, toClient); err != nil {
			return err
		}
		c.emit(NewDisputeResolvedEvent(job, toFreelancer, toClient))
		return storeJob(c.tx, job)
	})
}

func (e *Engine) cancelWithSplit(c *call, job *Job, toFreelancer, toClient *big.Int) error {
	if err := creditBalance(c.tx, job.Freelancer, job.Asset, toFreelancer); err != nil {
		return err
	}
	if err := creditBalance(c.tx, job.Client, job.Asset, toClient); err != nil {
		return err
	}
	return job.transition(StatusCancelled)
}
