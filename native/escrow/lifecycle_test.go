package escrow_test

import (
	"math/big"
	"testing"

	"escrowledger/native/escrow"
)

func TestStatusTransitionsOnlyMoveForward(t *testing.T) {
	all := []escrow.Status{
		escrow.StatusCreated, escrow.StatusAccepted, escrow.StatusOngoing, escrow.StatusDisputed,
		escrow.StatusArbitration, escrow.StatusCompleted, escrow.StatusCancelled,
	}
	for _, from := range all {
		for _, to := range all {
			if escrow.CanTransition(from, to) && to <= from {
				t.Fatalf("edge %s -> %s moves backward", from, to)
			}
		}
		if from.Terminal() {
			for _, to := range all {
				if escrow.CanTransition(from, to) {
					t.Fatalf("terminal status %s must not transition to %s", from, to)
				}
			}
		}
	}
	if escrow.CanTransition(escrow.StatusOngoing, escrow.StatusCancelled) {
		t.Fatalf("ongoing jobs may only be cancelled through a dispute")
	}
}

func TestAcceptJobRules(t *testing.T) {
	f := newFixture(t)
	open := f.createJob([20]byte{}, 100)
	requireErr(t, f.engine.AcceptJob(f.freelancer, open), escrow.ErrNotAuthorized)

	bound := f.createJob(f.freelancer, 100)
	requireErr(t, f.engine.AcceptJob(f.client, bound), escrow.ErrNotAuthorized)
	requireErr(t, f.engine.SubmitWork(f.client, bound, "ipfs://x"), escrow.ErrNotAuthorized)
	requireErr(t, f.engine.SubmitWork(f.freelancer, bound, "ipfs://x"), escrow.ErrInvalidStatus)
	if err := f.engine.AcceptJob(f.freelancer, bound); err != nil {
		t.Fatalf("accept: %v", err)
	}
	requireStatus(t, f.job(bound), escrow.StatusOngoing)
	requireErr(t, f.engine.AcceptJob(f.freelancer, bound), escrow.ErrInvalidStatus)
	requireErr(t, f.engine.ReleaseFunds(f.client, bound), escrow.ErrInvalidStatus)
	requireErr(t, f.engine.SubmitWork(f.freelancer, bound, ""), escrow.ErrInvalidReference)
	f.requireSolvent()
}

func TestRefundExpiredJobReturnsFullAmount(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.CreateJob(f.client, escrow.JobSpec{
		Asset:     "NATIVE",
		Amount:    big.NewInt(1_000),
		Reference: "ipfs://job",
		Deadline:  f.now + 1,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	requireErr(t, f.engine.RefundExpiredJob(f.client, id), escrow.ErrDeadlineNotPassed)
	f.now++
	requireErr(t, f.engine.RefundExpiredJob(f.client, id), escrow.ErrDeadlineNotPassed)
	f.now++
	requireErr(t, f.engine.RefundExpiredJob(f.freelancer, id), escrow.ErrNotAuthorized)
	if err := f.engine.RefundExpiredJob(f.client, id); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if got := f.balance(f.client); got != 1_000 {
		t.Fatalf("client balance = %d, want 1000", got)
	}
	requireStatus(t, f.job(id), escrow.StatusCancelled)
	requireErr(t, f.engine.RefundExpiredJob(f.client, id), escrow.ErrInvalidStatus)
	f.requireSolvent()
}

func TestRefundExpiredJobReturnsStakes(t *testing.T) {
	f := newFixture(t)
	a, b := addr(50), addr(51)
	f.fund(a, "NATIVE", 100)
	f.fund(b, "NATIVE", 100)
	id, err := f.engine.CreateJob(f.client, escrow.JobSpec{
		Asset:     "NATIVE",
		Amount:    big.NewInt(1_000),
		Reference: "ipfs://job",
		Deadline:  f.now + 10,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, who := range [][20]byte{a, b} {
		if err := f.engine.ApplyForJob(who, id); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	if err := f.engine.PickFreelancer(f.client, id, a); err != nil {
		t.Fatalf("pick: %v", err)
	}
	f.now += 11
	if err := f.engine.RefundExpiredJob(f.client, id); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if f.refund(a) != 50 || f.refund(b) != 50 {
		t.Fatalf("stakes not refunded: a=%d b=%d", f.refund(a), f.refund(b))
	}
	if f.balance(f.client) != 1_000 {
		t.Fatalf("client balance = %d", f.balance(f.client))
	}
	f.requireSolvent()
}

func TestRefundExpiredJobBlockedOnceStarted(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.CreateJob(f.client, escrow.JobSpec{
		Freelancer: f.freelancer,
		Asset:      "NATIVE",
		Amount:     big.NewInt(100),
		Reference:  "ipfs://job",
		Deadline:   f.now + 5,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.engine.AcceptJob(f.freelancer, id); err != nil {
		t.Fatalf("accept: %v", err)
	}
	f.now += 10
	requireErr(t, f.engine.RefundExpiredJob(f.client, id), escrow.ErrInvalidStatus)
}

func TestAutoReleaseAfterDeadline(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.CreateJob(f.client, escrow.JobSpec{
		Freelancer: f.freelancer,
		Asset:      "NATIVE",
		Amount:     big.NewInt(1_000),
		Reference:  "ipfs://job",
		Deadline:   f.now + 100,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.engine.AcceptJob(f.freelancer, id); err != nil {
		t.Fatalf("accept: %v", err)
	}
	requireErr(t, f.engine.AutoRelease(f.freelancer, id), escrow.ErrInvalidStatus)
	if err := f.engine.SubmitWork(f.freelancer, id, "ipfs://result"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireErr(t, f.engine.AutoRelease(f.freelancer, id), escrow.ErrDeadlineNotPassed)
	f.now += 101
	requireErr(t, f.engine.AutoRelease(f.client, id), escrow.ErrNotAuthorized)
	if err := f.engine.AutoRelease(f.freelancer, id); err != nil {
		t.Fatalf("auto release: %v", err)
	}
	requireStatus(t, f.job(id), escrow.StatusCompleted)
	if got := f.balance(f.freelancer); got != 975+50 {
		t.Fatalf("freelancer balance = %d", got)
	}
	if len(f.rep.ratings) != 1 || f.rep.ratings[0] != 0 {
		t.Fatalf("auto release should signal without a rating: %+v", f.rep.ratings)
	}
	f.requireSolvent()
}

func TestPauseBlocksMutationButNotWithdrawal(t *testing.T) {
	f := newFixture(t)
	done := f.ongoingJob(100)
	if err := f.engine.ReleaseFunds(f.client, done); err != nil {
		t.Fatalf("release: %v", err)
	}
	active := f.ongoingJob(100, escrow.MilestoneSpec{Amount: big.NewInt(10)})
	disputed := f.ongoingJob(100)
	if _, err := f.engine.RaiseDispute(f.client, disputed); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	requireErr(t, f.engine.Pause(f.client), escrow.ErrNotAuthorized)
	if err := f.engine.Pause(f.admin); err != nil {
		t.Fatalf("pause: %v", err)
	}
	paused, err := f.engine.Paused()
	if err != nil || !paused {
		t.Fatalf("paused = %v, err = %v", paused, err)
	}

	_, err = f.engine.CreateJob(f.client, escrow.JobSpec{Asset: "NATIVE", Amount: big.NewInt(1), Reference: "r"})
	requireErr(t, err, escrow.ErrEnforcedPause)
	requireErr(t, f.engine.ReleaseFunds(f.client, active), escrow.ErrEnforcedPause)
	requireErr(t, f.engine.ReleaseMilestone(f.client, active, 0), escrow.ErrEnforcedPause)
	_, err = f.engine.RaiseDispute(f.client, active)
	requireErr(t, err, escrow.ErrEnforcedPause)
	requireErr(t, f.engine.ResolveDisputeManual(f.admin, disputed, 5_000, "split"), escrow.ErrEnforcedPause)

	owed := f.balance(f.freelancer)
	moved, err := f.engine.Withdraw(f.freelancer, "NATIVE")
	if err != nil {
		t.Fatalf("withdraw while paused: %v", err)
	}
	if moved.Int64() != owed || owed == 0 {
		t.Fatalf("withdraw moved %s, want %d", moved, owed)
	}
	if err := f.engine.SetPlatformFee(f.admin, 100); err != nil {
		t.Fatalf("config stays open while paused: %v", err)
	}
	if err := f.engine.Unpause(f.admin); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := f.engine.ReleaseFunds(f.client, active); err != nil {
		t.Fatalf("release after unpause: %v", err)
	}
	f.requireSolvent()
}

func TestReputationFailureDoesNotFailCompletion(t *testing.T) {
	f := newFixture(t)
	f.rep.failRecord = true
	id := f.ongoingJob(100)
	if err := f.engine.CompleteJob(f.client, id, 4); err != nil {
		t.Fatalf("complete should ignore collaborator failure: %v", err)
	}
	requireStatus(t, f.job(id), escrow.StatusCompleted)
}
