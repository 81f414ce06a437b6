package arbitration_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"escrowledger/core/state"
	"escrowledger/native/access"
	"escrowledger/native/arbitration"
	"escrowledger/native/escrow"
	"escrowledger/storage"
)

type harness struct {
	engine     *escrow.Engine
	court      *arbitration.Court
	admin      [20]byte
	client     [20]byte
	freelancer [20]byte
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	h := &harness{
		engine:     escrow.NewEngine(),
		admin:      [20]byte{1},
		client:     [20]byte{2},
		freelancer: [20]byte{3},
	}
	h.engine.SetState(mgr)
	h.court = arbitration.NewCourt(mgr, map[string]*big.Int{"native": big.NewInt(15)})
	h.court.SetRuler(h.engine)
	h.engine.SetArbitrator(h.court)

	policy := escrow.DefaultPolicy()
	policy.Vault = [20]byte{4}
	policy.ExternalArbitration = true
	require.NoError(t, h.engine.Initialize(h.admin, policy))
	require.NoError(t, h.engine.GrantRole(h.admin, access.RoleArbitrator, h.court.Address()))
	require.NoError(t, h.engine.Deposit(h.admin, h.client, "NATIVE", big.NewInt(5_000)))
	require.NoError(t, h.engine.Deposit(h.admin, h.freelancer, "NATIVE", big.NewInt(500)))
	return h
}

func (h *harness) disputedJob(t *testing.T) (uint64, uint64) {
	t.Helper()
	id, err := h.engine.CreateJob(h.client, escrow.JobSpec{
		Freelancer: h.freelancer,
		Asset:      "NATIVE",
		Amount:     big.NewInt(1_000),
		Reference:  "ipfs://job",
	})
	require.NoError(t, err)
	require.NoError(t, h.engine.AcceptJob(h.freelancer, id))
	disputeID, err := h.engine.RaiseDispute(h.client, id)
	require.NoError(t, err)
	return id, disputeID
}

func TestCourtDocketsDisputes(t *testing.T) {
	h := newHarness(t)
	jobID, disputeID := h.disputedJob(t)
	require.Equal(t, uint64(1), disputeID)

	entry, err := h.court.Case(disputeID)
	require.NoError(t, err)
	require.Equal(t, jobID, entry.JobID)
	require.Equal(t, h.client, entry.RaisedBy)
	require.Equal(t, "15", entry.Fee.String())
	require.Equal(t, arbitration.CaseOpen, arbitration.CaseStatus(entry.Status))

	fees, err := h.engine.WalletBalance(h.court.Address(), "NATIVE")
	require.NoError(t, err)
	require.Equal(t, "15", fees.String())
	require.Equal(t, "0", h.court.ArbitrationCost("USDC").String())
}

func TestCourtReviewAndDecide(t *testing.T) {
	h := newHarness(t)
	jobID, disputeID := h.disputedJob(t)

	require.NoError(t, h.court.Review(disputeID))
	job, err := h.engine.GetJob(jobID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusArbitration, job.Status)
	require.ErrorIs(t, h.court.Review(disputeID), arbitration.ErrCaseClosed)

	require.NoError(t, h.court.Decide(disputeID, escrow.RulingClient, "no delivery"))
	job, err = h.engine.GetJob(jobID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusCancelled, job.Status)

	bal, err := h.engine.Balance(h.client, "NATIVE")
	require.NoError(t, err)
	require.Equal(t, "1050", bal.String())

	entry, err := h.court.Case(disputeID)
	require.NoError(t, err)
	require.Equal(t, arbitration.CaseDecided, arbitration.CaseStatus(entry.Status))
	require.Equal(t, uint8(escrow.RulingClient), entry.Ruling)
	require.ErrorIs(t, h.court.Decide(disputeID, escrow.RulingClient, ""), arbitration.ErrCaseClosed)
}

func TestCourtRequiresArbitratorRole(t *testing.T) {
	h := newHarness(t)
	_, disputeID := h.disputedJob(t)
	require.NoError(t, h.engine.RevokeRole(h.admin, access.RoleArbitrator, h.court.Address()))
	err := h.court.Decide(disputeID, escrow.RulingSplit, "")
	require.True(t, errors.Is(err, escrow.ErrNotAuthorized), "got %v", err)

	entry, err := h.court.Case(disputeID)
	require.NoError(t, err)
	require.Equal(t, arbitration.CaseOpen, arbitration.CaseStatus(entry.Status))
}

func TestCourtUnknownCase(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.court.Decide(99, escrow.RulingSplit, ""), arbitration.ErrCaseNotFound)
	detached := arbitration.NewCourt(state.NewManager(storage.NewMemDB()), nil)
	require.ErrorIs(t, detached.Review(1), arbitration.ErrNoEngine)
}

func TestCourtDocketNumbersPersist(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	req := escrow.ResolutionRequest{
		JobID:     7,
		Client:    [20]byte{2},
		RaisedBy:  [20]byte{2},
		Asset:     "NATIVE",
		Amount:    big.NewInt(100),
		Fee:       big.NewInt(15),
		Reference: "ipfs://claim",
	}

	first := arbitration.NewCourt(mgr, nil)
	for want := uint64(1); want <= 2; want++ {
		id, err := first.RequestResolution(req)
		require.NoError(t, err)
		require.Equal(t, want, id)
	}

	reopened := arbitration.NewCourt(mgr, nil)
	id, err := reopened.RequestResolution(req)
	require.NoError(t, err)
	require.Equal(t, uint64(3), id)

	entry, err := reopened.Case(1)
	require.NoError(t, err)
	require.Equal(t, uint64(7), entry.JobID)
	require.Equal(t, "100", entry.Amount.String())
}
