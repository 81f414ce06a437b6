package escrow_test

import (
	"errors"
	"math/big"
	"testing"

	"escrowledger/core/events"
	"escrowledger/core/state"
	"escrowledger/native/escrow"
	"escrowledger/storage"
)

type stubReputation struct {
	scores     map[[20]byte]uint64
	recorded   []uint64
	ratings    []uint8
	failRecord bool
}

func (s *stubReputation) Score(addr [20]byte) (uint64, error) {
	return s.scores[addr], nil
}

func (s *stubReputation) RecordCompletion(freelancer [20]byte, jobID uint64, rating uint8) error {
	if s.failRecord {
		return errors.New("credential service offline")
	}
	s.recorded = append(s.recorded, jobID)
	s.ratings = append(s.ratings, rating)
	return nil
}

type stubArbitrator struct {
	addr     [20]byte
	cost     *big.Int
	next     uint64
	requests []escrow.ResolutionRequest
}

func (s *stubArbitrator) Address() [20]byte { return s.addr }

func (s *stubArbitrator) ArbitrationCost(string) *big.Int { return new(big.Int).Set(s.cost) }

func (s *stubArbitrator) RequestResolution(req escrow.ResolutionRequest) (uint64, error) {
	s.next++
	s.requests = append(s.requests, req)
	return 100 + s.next, nil
}

type fixture struct {
	t          *testing.T
	engine     *escrow.Engine
	rec        *events.Recorder
	rep        *stubReputation
	now        int64
	admin      [20]byte
	client     [20]byte
	freelancer [20]byte
	vault      [20]byte
}

func addr(b byte) [20]byte {
	var out [20]byte
	out[0] = 0xee
	out[19] = b
	return out
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

func newFixtureWith(t *testing.T, tweak func(*escrow.Policy)) *fixture {
	t.Helper()
	f := &fixture{
		t:          t,
		rec:        &events.Recorder{},
		rep:        &stubReputation{scores: make(map[[20]byte]uint64)},
		now:        1_700_000_000,
		admin:      addr(1),
		client:     addr(2),
		freelancer: addr(3),
		vault:      addr(4),
	}
	f.engine = escrow.NewEngine()
	f.engine.SetState(state.NewManager(storage.NewMemDB()))
	f.engine.SetEmitter(f.rec)
	f.engine.SetReputation(f.rep)
	f.engine.SetNowFunc(func() int64 { return f.now })

	policy := escrow.DefaultPolicy()
	policy.Vault = f.vault
	policy.Whitelist = []string{"USDC"}
	if tweak != nil {
		tweak(&policy)
	}
	if err := f.engine.Initialize(f.admin, policy); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	f.fund(f.client, "NATIVE", 10_000)
	f.fund(f.client, "USDC", 10_000)
	f.fund(f.freelancer, "NATIVE", 1_000)
	f.rec.Reset()
	return f
}

func (f *fixture) fund(who [20]byte, asset string, amount int64) {
	f.t.Helper()
	if err := f.engine.Deposit(f.admin, who, asset, big.NewInt(amount)); err != nil {
		f.t.Fatalf("deposit: %v", err)
	}
}

func (f *fixture) createJob(freelancer [20]byte, amount int64, milestones ...escrow.MilestoneSpec) uint64 {
	f.t.Helper()
	id, err := f.engine.CreateJob(f.client, escrow.JobSpec{
		CategoryID: 7,
		Freelancer: freelancer,
		Asset:      "NATIVE",
		Amount:     big.NewInt(amount),
		Reference:  "ipfs://job",
		Milestones: milestones,
	})
	if err != nil {
		f.t.Fatalf("create job: %v", err)
	}
	return id
}

// ongoingJob returns a job bound to the fixture freelancer, accepted and
// with submitted work.
func (f *fixture) ongoingJob(amount int64, milestones ...escrow.MilestoneSpec) uint64 {
	f.t.Helper()
	id := f.createJob(f.freelancer, amount, milestones...)
	if err := f.engine.AcceptJob(f.freelancer, id); err != nil {
		f.t.Fatalf("accept: %v", err)
	}
	if err := f.engine.SubmitWork(f.freelancer, id, "ipfs://result"); err != nil {
		f.t.Fatalf("submit: %v", err)
	}
	return id
}

func (f *fixture) job(id uint64) *escrow.Job {
	f.t.Helper()
	job, err := f.engine.GetJob(id)
	if err != nil {
		f.t.Fatalf("get job: %v", err)
	}
	return job
}

func (f *fixture) balance(who [20]byte) int64 {
	f.t.Helper()
	bal, err := f.engine.Balance(who, "NATIVE")
	if err != nil {
		f.t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func (f *fixture) refund(who [20]byte) int64 {
	f.t.Helper()
	bal, err := f.engine.PendingRefund(who, "NATIVE")
	if err != nil {
		f.t.Fatalf("pending refund: %v", err)
	}
	return bal.Int64()
}

func (f *fixture) wallet(who [20]byte) int64 {
	f.t.Helper()
	bal, err := f.engine.WalletBalance(who, "NATIVE")
	if err != nil {
		f.t.Fatalf("wallet: %v", err)
	}
	return bal.Int64()
}

func (f *fixture) requireSolvent(assets ...string) {
	f.t.Helper()
	if len(assets) == 0 {
		assets = []string{"NATIVE"}
	}
	for _, asset := range assets {
		report, err := f.engine.Solvency(asset)
		if err != nil {
			f.t.Fatalf("solvency: %v", err)
		}
		if !report.Holds() {
			f.t.Fatalf("custody invariant broken for %s: custody=%s locked=%s owed=%s",
				asset, report.Custody, report.Locked, report.Owed)
		}
	}
}

func requireErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func requireStatus(t *testing.T, job *escrow.Job, want escrow.Status) {
	t.Helper()
	if job.Status != want {
		t.Fatalf("expected status %s, got %s", want, job.Status)
	}
}
