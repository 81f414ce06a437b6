package escrow_test

import (
	"math/big"
	"strings"
	"testing"

	"escrowledger/native/access"
	"escrowledger/native/escrow"
)

type disputeFixture struct {
	*fixture
	arb     *stubArbitrator
	referee [20]byte
}

func newDisputeFixture(t *testing.T) *disputeFixture {
	t.Helper()
	f := newFixture(t)
	arb := &stubArbitrator{addr: addr(90), cost: big.NewInt(20)}
	f.engine.SetArbitrator(arb)
	if err := f.engine.SetExternalArbitration(f.admin, true); err != nil {
		t.Fatalf("enable arbitration: %v", err)
	}
	referee := addr(91)
	if err := f.engine.GrantRole(f.admin, access.RoleArbitrator, referee); err != nil {
		t.Fatalf("grant arbitrator: %v", err)
	}
	return &disputeFixture{fixture: f, arb: arb, referee: referee}
}

func (d *disputeFixture) raise(id uint64, by [20]byte) uint64 {
	d.t.Helper()
	disputeID, err := d.engine.RaiseDispute(by, id)
	if err != nil {
		d.t.Fatalf("raise dispute: %v", err)
	}
	return disputeID
}

func TestRaiseDisputeChargesArbitrationCost(t *testing.T) {
	d := newDisputeFixture(t)
	id := d.ongoingJob(1_000)
	before := d.wallet(d.client)
	disputeID := d.raise(id, d.client)
	if disputeID != 101 {
		t.Fatalf("unexpected dispute id %d", disputeID)
	}
	if got := before - d.wallet(d.client); got != 20 {
		t.Fatalf("raiser paid %d, want 20", got)
	}
	if got := d.wallet(d.arb.addr); got != 20 {
		t.Fatalf("arbitrator wallet = %d, want 20", got)
	}
	if len(d.arb.requests) != 1 || d.arb.requests[0].JobID != id || d.arb.requests[0].Fee.Int64() != 20 {
		t.Fatalf("unexpected resolution requests: %+v", d.arb.requests)
	}
	job := d.job(id)
	requireStatus(t, job, escrow.StatusDisputed)
	if job.Dispute == nil || job.Dispute.ExternalDisputeID != disputeID || job.Dispute.RaisedBy != d.client {
		t.Fatalf("dispute record not stored: %+v", job.Dispute)
	}
	bound, err := d.engine.JobForDispute(disputeID)
	if err != nil || bound.ID != id {
		t.Fatalf("dispute index: job=%v err=%v", bound, err)
	}
	_, err = d.engine.RaiseDispute(d.freelancer, id)
	requireErr(t, err, escrow.ErrInvalidStatus)
	d.requireSolvent()
}

func TestRaiseDisputeRules(t *testing.T) {
	d := newDisputeFixture(t)
	open := d.createJob([20]byte{}, 100)
	_, err := d.engine.RaiseDispute(d.client, open)
	requireErr(t, err, escrow.ErrInvalidStatus)

	id := d.ongoingJob(100)
	_, err = d.engine.RaiseDispute(addr(77), id)
	requireErr(t, err, escrow.ErrNotAuthorized)

	broke := addr(78)
	d.fund(broke, "NATIVE", 1_000)
	job, err := d.engine.CreateJob(broke, escrow.JobSpec{Freelancer: d.freelancer, Asset: "NATIVE", Amount: big.NewInt(995), Reference: "r"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d.engine.AcceptJob(d.freelancer, job); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, err = d.engine.RaiseDispute(broke, job)
	requireErr(t, err, escrow.ErrInsufficientFunds)
	requireStatus(t, d.job(job), escrow.StatusOngoing)
	if len(d.arb.requests) != 0 {
		t.Fatalf("failed raise must not reach the arbitrator")
	}
}

func TestRulings(t *testing.T) {
	cases := []struct {
		name           string
		ruling         escrow.Ruling
		wantStatus     escrow.Status
		wantFreelancer int64
		wantClient     int64
		wantVault      int64
	}{
		{"split", escrow.RulingSplit, escrow.StatusCancelled, 500 + 50, 500, 0},
		{"client", escrow.RulingClient, escrow.StatusCancelled, 0, 1_000 + 50, 0},
		{"freelancer", escrow.RulingFreelancer, escrow.StatusCompleted, 975 + 50, 0, 25},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := newDisputeFixture(t)
			id := d.ongoingJob(1_000)
			disputeID := d.raise(id, d.freelancer)

			requireErr(t, d.engine.Rule(d.client, disputeID, tc.ruling, "no"), escrow.ErrNotAuthorized)
			if err := d.engine.Rule(d.referee, disputeID, tc.ruling, "evidence reviewed"); err != nil {
				t.Fatalf("rule: %v", err)
			}
			job := d.job(id)
			requireStatus(t, job, tc.wantStatus)
			if !job.Dispute.Resolved || job.Dispute.Ruling != tc.ruling || job.Dispute.ResolutionReasoning != "evidence reviewed" {
				t.Fatalf("dispute record not updated: %+v", job.Dispute)
			}
			if got := d.balance(d.freelancer); got != tc.wantFreelancer {
				t.Fatalf("freelancer = %d, want %d", got, tc.wantFreelancer)
			}
			if got := d.balance(d.client); got != tc.wantClient {
				t.Fatalf("client = %d, want %d", got, tc.wantClient)
			}
			if got := d.balance(d.vault); got != tc.wantVault {
				t.Fatalf("vault = %d, want %d", got, tc.wantVault)
			}
			requireErr(t, d.engine.Rule(d.referee, disputeID, tc.ruling, "again"), escrow.ErrInvalidStatus)
			d.requireSolvent()
		})
	}
}

func TestRuleUnknownDispute(t *testing.T) {
	d := newDisputeFixture(t)
	requireErr(t, d.engine.Rule(d.referee, 4242, escrow.RulingClient, ""), escrow.ErrDisputeNotFound)
	requireErr(t, d.engine.BeginArbitration(d.referee, 4242), escrow.ErrDisputeNotFound)
	id := d.ongoingJob(100)
	disputeID := d.raise(id, d.client)
	requireErr(t, d.engine.Rule(d.referee, disputeID, escrow.Ruling(9), ""), escrow.ErrInvalidAmount)
}

func TestBeginArbitrationClosesEvidence(t *testing.T) {
	d := newDisputeFixture(t)
	id := d.ongoingJob(1_000)
	disputeID := d.raise(id, d.client)

	if err := d.engine.SubmitEvidence(d.client, id, "ipfs://chat-log"); err != nil {
		t.Fatalf("evidence: %v", err)
	}
	if err := d.engine.SubmitEvidence(d.freelancer, id, "ipfs://commits"); err != nil {
		t.Fatalf("evidence: %v", err)
	}
	requireErr(t, d.engine.SubmitEvidence(addr(66), id, "ipfs://noise"), escrow.ErrNotAuthorized)
	requireErr(t, d.engine.BeginArbitration(d.client, disputeID), escrow.ErrNotAuthorized)
	if err := d.engine.BeginArbitration(d.referee, disputeID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	requireStatus(t, d.job(id), escrow.StatusArbitration)
	requireErr(t, d.engine.SubmitEvidence(d.client, id, "ipfs://late"), escrow.ErrInvalidStatus)
	requireErr(t, d.engine.BeginArbitration(d.referee, disputeID), escrow.ErrInvalidStatus)
	requireErr(t, d.engine.ResolveDisputeManual(d.admin, id, 5_000, ""), escrow.ErrInvalidStatus)

	if err := d.engine.Rule(d.referee, disputeID, escrow.RulingFreelancer, "delivered"); err != nil {
		t.Fatalf("rule: %v", err)
	}
	requireStatus(t, d.job(id), escrow.StatusCompleted)
	d.requireSolvent()
}

func TestEvidenceLogIsChainedAndBounded(t *testing.T) {
	f := newFixture(t)
	id := f.ongoingJob(100)
	if _, err := f.engine.RaiseDispute(f.client, id); err != nil {
		t.Fatalf("raise: %v", err)
	}
	for i := 0; i < escrow.MaxEvidence; i++ {
		f.now++
		if err := f.engine.SubmitEvidence(f.client, id, "ipfs://e"+strings.Repeat("x", i)); err != nil {
			t.Fatalf("evidence %d: %v", i, err)
		}
	}
	requireErr(t, f.engine.SubmitEvidence(f.freelancer, id, "ipfs://overflow"), escrow.ErrTooManyEvidence)

	job := f.job(id)
	if len(job.Evidence) != escrow.MaxEvidence {
		t.Fatalf("evidence entries = %d", len(job.Evidence))
	}
	if !escrow.VerifyEvidence(job) {
		t.Fatalf("evidence chain does not verify")
	}
	job.Evidence[3].Reference = "ipfs://tampered"
	if escrow.VerifyEvidence(job) {
		t.Fatalf("tampering must break the chain")
	}
}

func TestResolveDisputeManualSplits(t *testing.T) {
	for _, bps := range []uint32{0, 2_500, 10_000} {
		f := newFixture(t)
		id := f.ongoingJob(1_000)
		disputeID, err := f.engine.RaiseDispute(f.freelancer, id)
		if err != nil {
			t.Fatalf("raise: %v", err)
		}
		if disputeID != 0 {
			t.Fatalf("no external arbitrator configured, got dispute id %d", disputeID)
		}
		requireErr(t, f.engine.ResolveDisputeManual(f.client, id, bps, ""), escrow.ErrNotAuthorized)
		requireErr(t, f.engine.ResolveDisputeManual(f.admin, id, 10_001, ""), escrow.ErrInvalidAmount)
		if err := f.engine.ResolveDisputeManual(f.admin, id, bps, "settled"); err != nil {
			t.Fatalf("resolve: %v", err)
		}
		share := int64(1_000) * int64(bps) / 10_000
		if got := f.balance(f.freelancer); got != share+50 {
			t.Fatalf("bps %d: freelancer = %d, want %d", bps, got, share+50)
		}
		if got := f.balance(f.client); got != 1_000-share {
			t.Fatalf("bps %d: client = %d, want %d", bps, got, 1_000-share)
		}
		job := f.job(id)
		requireStatus(t, job, escrow.StatusCancelled)
		if !job.Dispute.Manual || job.Dispute.ManualSplitBps != bps {
			t.Fatalf("manual record missing: %+v", job.Dispute)
		}
		requireErr(t, f.engine.ResolveDisputeManual(f.admin, id, bps, ""), escrow.ErrInvalidStatus)
		f.requireSolvent()
	}
}
