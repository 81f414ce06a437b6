package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"escrowledger/core/types"
	"escrowledger/crypto"
)

const (
	EventTypeJobCreated          = "escrow.job.created"
	EventTypeJobApplied          = "escrow.job.applied"
	EventTypeFreelancerPicked    = "escrow.job.freelancer_picked"
	EventTypeJobAccepted         = "escrow.job.accepted"
	EventTypeWorkSubmitted       = "escrow.job.work_submitted"
	EventTypeFundsReleased       = "escrow.job.funds_released"
	EventTypeMilestoneReleased   = "escrow.job.milestone_released"
	EventTypeJobCancelled        = "escrow.job.cancelled"
	EventTypeDisputeRaised       = "escrow.dispute.raised"
	EventTypeDisputeEvidence     = "escrow.dispute.evidence"
	EventTypeDisputeArbitration  = "escrow.dispute.arbitration"
	EventTypeDisputeResolved     = "escrow.dispute.resolved"
	EventTypeLedgerWithdrawn     = "escrow.ledger.withdrawn"
	EventTypeLedgerRefundClaimed = "escrow.ledger.refund_claimed"
	EventTypeRoleGranted         = "escrow.access.role_granted"
	EventTypeRoleRevoked         = "escrow.access.role_revoked"
	EventTypePaused              = "escrow.access.paused"
	EventTypeUnpaused            = "escrow.access.unpaused"
	EventTypeConfigUpdated       = "escrow.config.updated"
)

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

func newJobEvent(eventType string, job *Job) *types.Event {
	attrs := make(map[string]string)
	if job == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["jobId"] = strconv.FormatUint(job.ID, 10)
	attrs["client"] = crypto.HexAddress(job.Client)
	if job.HasFreelancer() {
		attrs["freelancer"] = crypto.HexAddress(job.Freelancer)
	}
	attrs["asset"] = job.Asset
	attrs["amount"] = cloneBigInt(job.Amount).String()
	attrs["status"] = job.Status.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewJobCreatedEvent describes a freshly funded job.
func NewJobCreatedEvent(job *Job) *types.Event {
	evt := newJobEvent(EventTypeJobCreated, job)
	evt.Attributes["categoryId"] = strconv.FormatUint(job.CategoryID, 10)
	evt.Attributes["reference"] = job.Reference
	evt.Attributes["milestones"] = strconv.Itoa(len(job.Milestones))
	evt.Attributes["deadline"] = strconv.FormatInt(job.Deadline, 10)
	return evt
}

// NewJobAppliedEvent records a staked application.
func NewJobAppliedEvent(job *Job, applicant [20]byte, stake *big.Int) *types.Event {
	evt := newJobEvent(EventTypeJobApplied, job)
	evt.Attributes["applicant"] = crypto.HexAddress(applicant)
	evt.Attributes["stake"] = cloneBigInt(stake).String()
	return evt
}

// NewFreelancerPickedEvent records the client's choice among applicants.
func NewFreelancerPickedEvent(job *Job, refunded int) *types.Event {
	evt := newJobEvent(EventTypeFreelancerPicked, job)
	evt.Attributes["stake"] = cloneBigInt(job.FreelancerStake).String()
	evt.Attributes["refundedApplicants"] = strconv.Itoa(refunded)
	return evt
}

func NewJobAcceptedEvent(job *Job) *types.Event {
	evt := newJobEvent(EventTypeJobAccepted, job)
	evt.Attributes["stake"] = cloneBigInt(job.FreelancerStake).String()
	return evt
}

func NewWorkSubmittedEvent(job *Job) *types.Event {
	evt := newJobEvent(EventTypeWorkSubmitted, job)
	evt.Attributes["resultReference"] = job.ResultReference
	return evt
}

// NewFundsReleasedEvent describes a completion settlement.
func NewFundsReleasedEvent(job *Job, s settlement) *types.Event {
	evt := newJobEvent(EventTypeFundsReleased, job)
	evt.Attributes["payout"] = s.payout.String()
	evt.Attributes["fee"] = s.fee.String()
	evt.Attributes["stakeReturned"] = s.stake.String()
	evt.Attributes["supreme"] = strconv.FormatBool(s.supreme)
	if s.fee.Sign() > 0 {
		evt.Attributes["vault"] = crypto.HexAddress(s.vault)
	}
	if s.rating > 0 {
		evt.Attributes["rating"] = strconv.Itoa(int(s.rating))
	}
	return evt
}

func NewMilestoneReleasedEvent(job *Job, index int) *types.Event {
	evt := newJobEvent(EventTypeMilestoneReleased, job)
	evt.Attributes["index"] = strconv.Itoa(index)
	evt.Attributes["milestoneAmount"] = cloneBigInt(job.Milestones[index].Amount).String()
	evt.Attributes["upfront"] = strconv.FormatBool(job.Milestones[index].Upfront)
	return evt
}

// NewJobCancelledEvent describes a reclaim after the deadline passed.
func NewJobCancelledEvent(job *Job, refunded *big.Int, reason string) *types.Event {
	evt := newJobEvent(EventTypeJobCancelled, job)
	evt.Attributes["refunded"] = cloneBigInt(refunded).String()
	evt.Attributes["reason"] = reason
	return evt
}

func NewDisputeRaisedEvent(job *Job) *types.Event {
	evt := newJobEvent(EventTypeDisputeRaised, job)
	if d := job.Dispute; d != nil {
		evt.Attributes["raisedBy"] = crypto.HexAddress(d.RaisedBy)
		if d.ExternalDisputeID != 0 {
			evt.Attributes["disputeId"] = strconv.FormatUint(d.ExternalDisputeID, 10)
			evt.Attributes["arbitrator"] = crypto.HexAddress(d.Arbitrator)
			evt.Attributes["arbitrationFee"] = cloneBigInt(d.ArbitrationFee).String()
		}
	}
	return evt
}

func NewEvidenceEvent(job *Job, entry Evidence) *types.Event {
	evt := newJobEvent(EventTypeDisputeEvidence, job)
	evt.Attributes["submitter"] = crypto.HexAddress(entry.Submitter)
	evt.Attributes["reference"] = entry.Reference
	evt.Attributes["index"] = strconv.Itoa(len(job.Evidence) - 1)
	evt.Attributes["digest"] = hex.EncodeToString(entry.Digest[:])
	return evt
}

func NewArbitrationEvent(job *Job) *types.Event {
	evt := newJobEvent(EventTypeDisputeArbitration, job)
	if d := job.Dispute; d != nil {
		evt.Attributes["disputeId"] = strconv.FormatUint(d.ExternalDisputeID, 10)
	}
	return evt
}

// NewDisputeResolvedEvent describes the split applied when a dispute closes.
func NewDisputeResolvedEvent(job *Job, toFreelancer, toClient *big.Int) *types.Event {
	evt := newJobEvent(EventTypeDisputeResolved, job)
	evt.Attributes["freelancerAmount"] = cloneBigInt(toFreelancer).String()
	evt.Attributes["clientAmount"] = cloneBigInt(toClient).String()
	if d := job.Dispute; d != nil {
		if d.Manual {
			evt.Attributes["manualSplitBps"] = strconv.FormatUint(uint64(d.ManualSplitBps), 10)
		} else {
			evt.Attributes["ruling"] = d.Ruling.String()
			evt.Attributes["disputeId"] = strconv.FormatUint(d.ExternalDisputeID, 10)
		}
		evt.Attributes["reasoning"] = d.ResolutionReasoning
	}
	return evt
}

func newLedgerEvent(eventType string, account [20]byte, asset string, amount *big.Int) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"account": crypto.HexAddress(account),
		"asset":   asset,
		"amount":  cloneBigInt(amount).String(),
	}}
}

func newRoleEvent(eventType, role string, account, actor [20]byte) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"role":    role,
		"account": crypto.HexAddress(account),
		"actor":   crypto.HexAddress(actor),
	}}
}

func newPauseEvent(eventType string, actor [20]byte) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"actor": crypto.HexAddress(actor),
	}}
}

func newConfigEvent(actor [20]byte, field, value string) *types.Event {
	return &types.Event{Type: EventTypeConfigUpdated, Attributes: map[string]string{
		"actor": crypto.HexAddress(actor),
		"field": field,
		"value": value,
	}}
}
