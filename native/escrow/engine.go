package escrow

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"escrowledger/core/events"
	"escrowledger/core/state"
	"escrowledger/core/types"
	"escrowledger/native/access"
	"escrowledger/native/bank"
)

// Reputation is the collaborator that scores freelancers and mints
// completion credentials.
type Reputation interface {
	Score(addr [20]byte) (uint64, error)
	RecordCompletion(freelancer [20]byte, jobID uint64, rating uint8) error
}

// ResolutionRequest is forwarded to an external arbitrator when a dispute is
// raised.
type ResolutionRequest struct {
	JobID       uint64
	Client      [20]byte
	Freelancer  [20]byte
	RaisedBy    [20]byte
	Asset       string
	Amount      *big.Int
	Fee         *big.Int
	Reference   string
	RequestedAt int64
}

// Arbitrator is a pluggable external arbitration service. It answers with its
// own dispute identifier and later calls back through BeginArbitration and
// Rule.
type Arbitrator interface {
	Address() [20]byte
	ArbitrationCost(asset string) *big.Int
	RequestResolution(req ResolutionRequest) (uint64, error)
}

// OperationObserver receives the outcome of every engine call.
type OperationObserver interface {
	ObserveOperation(op, code string, elapsed time.Duration)
}

// Engine applies job lifecycle, milestone, dispute and configuration
// transitions against persisted state. Calls are serialised and either
// commit completely or leave state untouched.
type Engine struct {
	mu         sync.Mutex
	state      *state.Manager
	emitter    events.Emitter
	reputation Reputation
	arbitrator Arbitrator
	observer   OperationObserver
	logger     *slog.Logger
	nowFn      func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers attach the
// state backend and collaborators through the Set* methods.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(manager *state.Manager) { e.state = manager }

// SetReputation attaches the reputation collaborator. Nil disables
// threshold based fee waivers and completion signals.
func (e *Engine) SetReputation(rep Reputation) { e.reputation = rep }

// SetArbitrator attaches the external arbitrator. It is only consulted when
// external arbitration is enabled in the policy.
func (e *Engine) SetArbitrator(arb Arbitrator) { e.arbitrator = arb }

// SetObserver attaches an operation observer such as a metrics recorder.
func (e *Engine) SetObserver(observer OperationObserver) { e.observer = observer }

// SetLogger overrides the logger used for collaborator failures.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

type completion struct {
	freelancer [20]byte
	jobID      uint64
	rating     uint8
}

// call is the scratch space of a single mutating operation.
type call struct {
	tx          *state.Txn
	now         int64
	events      []*types.Event
	completions []completion
}

func (c *call) emit(evt *types.Event) {
	if evt != nil {
		c.events = append(c.events, evt)
	}
}

// execute runs fn inside a state transaction. Events and reputation signals
// are released only once the transaction committed.
func (e *Engine) execute(op string, guarded bool, fn func(*call) error) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	defer func() {
		if e.observer != nil {
			e.observer.ObserveOperation(op, ErrorCode(err), time.Since(start))
		}
	}()

	if e.state == nil {
		return errNilState
	}
	c := &call{tx: e.state.Begin(), now: e.now()}
	defer c.tx.Discard()

	if guarded {
		if err := access.Guard(c.tx); err != nil {
			return err
		}
	}
	if err := fn(c); err != nil {
		return err
	}
	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("escrow: commit %s: %w", op, err)
	}
	for _, evt := range c.events {
		e.emitter.Emit(escrowEvent{evt: evt})
	}
	for _, done := range c.completions {
		if e.reputation == nil {
			continue
		}
		if err := e.reputation.RecordCompletion(done.freelancer, done.jobID, done.rating); err != nil {
			e.logger.Warn("reputation signal failed",
				slog.Uint64("job_id", done.jobID),
				slog.String("freelancer", fmt.Sprintf("%x", done.freelancer)),
				slog.Any("error", err))
		}
	}
	return nil
}

func (e *Engine) read(fn func(kv state.KV) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	return fn(e.state)
}

func requirePolicy(kv state.KV) (Policy, error) {
	policy, ok, err := loadPolicy(kv)
	if err != nil {
		return Policy{}, err
	}
	if !ok {
		return Policy{}, ErrNotInitialized
	}
	return policy, nil
}

func deadlinePassed(job *Job, now int64) bool {
	return job.Deadline != 0 && now > job.Deadline
}

// CreateJob funds a new job from the caller's wallet and returns its id.
func (e *Engine) CreateJob(caller [20]byte, spec JobSpec) (uint64, error) {
	var id uint64
	err := e.execute("create_job", true, func(c *call) error {
		policy, err := requirePolicy(c.tx)
		if err != nil {
			return err
		}
		if caller == ([20]byte{}) {
			return fmt.Errorf("%w: zero caller", ErrInvalidAddress)
		}
		if spec.Freelancer == caller {
			return ErrSelfHiring
		}
		if spec.Amount == nil || spec.Amount.Sign() <= 0 {
			return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
		}
		asset, err := NormalizeAsset(spec.Asset)
		if err != nil {
			return err
		}
		if !policy.IsWhitelisted(asset) {
			return fmt.Errorf("%w: asset %s not whitelisted", ErrInvalidAmount, asset)
		}
		if spec.Deadline < 0 || (spec.Deadline != 0 && spec.Deadline <= c.now) {
			return fmt.Errorf("%w: deadline %d is not in the future", ErrInvalidDeadline, spec.Deadline)
		}
		if err := validateReference(spec.Reference, true); err != nil {
			return err
		}
		if len(spec.Milestones) > MaxMilestones {
			return fmt.Errorf("%w: %d milestones exceed %d", ErrInvalidAmount, len(spec.Milestones), MaxMilestones)
		}
		total := big.NewInt(0)
		milestones := make([]*Milestone, 0, len(spec.Milestones))
		for i, m := range spec.Milestones {
			if m.Amount == nil || m.Amount.Sign() <= 0 {
				return fmt.Errorf("%w: milestone %d amount must be positive", ErrInvalidAmount, i)
			}
			if err := validateReference(m.Reference, false); err != nil {
				return err
			}
			total.Add(total, m.Amount)
			milestones = append(milestones, &Milestone{
				Amount:    cloneBigInt(m.Amount),
				Reference: m.Reference,
				Upfront:   m.Upfront,
			})
		}
		if total.Cmp(spec.Amount) > 0 {
			return fmt.Errorf("%w: milestones total %s exceeds amount %s", ErrInvalidAmount, total, spec.Amount)
		}

		id, err = state.NextSequence(c.tx, state.EscrowJobSequenceKey())
		if err != nil {
			return err
		}
		job := &Job{
			ID:              id,
			CategoryID:      spec.CategoryID,
			Client:          caller,
			Freelancer:      spec.Freelancer,
			Asset:           asset,
			Amount:          cloneBigInt(spec.Amount),
			FreelancerStake: big.NewInt(0),
			Status:          StatusCreated,
			Reference:       spec.Reference,
			Deadline:        spec.Deadline,
			CreatedAt:       c.now,
			Milestones:      milestones,
		}
		if err := pullIn(c.tx, caller, asset, job.Amount); err != nil {
			return err
		}
		c.emit(NewJobCreatedEvent(job))
		if job.HasFreelancer() {
			if err := releaseUpfront(c, job); err != nil {
				return err
			}
		}
		return storeJob(c.tx, job)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ApplyForJob stakes a share of the job amount from the caller's wallet and
// adds the caller to the applicant set.
func (e *Engine) ApplyForJob(caller [20]byte, id uint64) error {
	return e.execute("apply_for_job", true, func(c *call) error {
		policy, err := requirePolicy(c.tx)
		if err != nil {
			return err
		}
		job, err := loadJob(c.tx, id)
		if err != nil {
			return err
		}
		if job.Status != StatusCreated || job.HasFreelancer() {
			return fmt.Errorf("%w: job %d is not open for applications", ErrInvalidStatus, id)
		}
		if caller == ([20]byte{}) {
			return fmt.Errorf("%w: zero caller", ErrInvalidAddress)
		}
		if caller == job.Client {
			return ErrSelfHiring
		}
		if _, applied := job.applicant(caller); applied {
			return ErrAlreadyApplied
		}
		if len(job.Applicants) >= MaxApplicants {
			return fmt.Errorf("%w: job %d has %d applicants", ErrTooManyApplicants, id, len(job.Applicants))
		}
		stake := bpsOf(job.Amount, policy.StakeBps)
		if err := pullIn(c.tx, caller, job.Asset, stake); err != nil {
			return err
		}
		job.Applicants = append(job.Applicants, Applicant{Address: caller, Stake: stake})
		c.emit(NewJobAppliedEvent(job, caller, stake))
		return storeJob(c.tx, job)
	})
}

// PickFreelancer binds one applicant to the job. Every other applicant's
// stake moves to their pending refund entry.
func (e *Engine) PickFreelancer(caller [20]byte, id uint64, chosen [20]byte) error {
	return e.execute("pick_freelancer", true, func(c *call) error {
		job, err := loadJob(c.tx, id)
		if err != nil {
			return err
		}
		if caller != job.Client {
			return fmt.Errorf("%w: only the client may pick", ErrNotAuthorized)
		}
		if job.Status != StatusCreated || job.HasFreelancer() {
			return fmt.Errorf("%w: job %d already has a freelancer", ErrInvalidStatus, id)
		}
		idx, ok := job.applicant(chosen)
		if !ok {
			return fmt.Errorf("%w: %x did not apply", ErrInvalidAddress, chosen)
		}
		refunded := 0
		for i := range job.Applicants {
			a := &job.Applicants[i]
			if i == idx || a.Stake.Sign() == 0 {
				continue
			}
			if err := creditRefund(c.tx, a.Address, job.Asset, a.Stake); err != nil {
				return err
			}
			a.Stake = big.NewInt(0)
			refunded++
		}
		job.FreelancerStake = cloneBigInt(job.Applicants[idx].Stake)
		job.Applicants[idx].Stake = big.NewInt(0)
		job.Freelancer = chosen
		if err := job.transition(StatusAccepted); err != nil {
			return err
		}
		c.emit(NewFreelancerPickedEvent(job, refunded))
		if err := releaseUpfront(c, job); err != nil {
			return err
		}
		return storeJob(c.tx, job)
	})
}

// AcceptJob starts work. A freelancer bound at creation posts the stake now.
func (e *Engine) AcceptJob(caller [20]byte, id uint64) error {
	return e.execute("accept_job", true, func(c *call) error {
		job, err := loadJob(c.tx, id)
		if err != nil {
			return err
		}
		if !job.HasFreelancer() || caller != job.Freelancer {
			return fmt.Errorf("%w: only the freelancer may accept", ErrNotAuthorized)
		}
		switch job.Status {
		case StatusCreated:
			policy, err := requirePolicy(c.tx)
			if err != nil {
				return err
			}
			stake := bpsOf(job.Amount, policy.StakeBps)
			if err := pullIn(c.tx, caller, job.Asset, stake); err != nil {
				return err
			}
			job.FreelancerStake = stake
		case StatusAccepted:
		default:
			return fmt.Errorf("%w: job %d is %s", ErrInvalidStatus, id, job.Status)
		}
		if err := job.transition(StatusOngoing); err != nil {
			return err
		}
		c.emit(NewJobAcceptedEvent(job))
		return storeJob(c.tx, job)
	})
}

// SubmitWork records the freelancer's delivery reference.
func (e *Engine) SubmitWork(caller [20]byte, id uint64, reference string) error {
	return e.execute("submit_work", true, func(c *call) error {
		job, err := loadJob(c.tx, id)
		if err != nil {
			return err
		}
		if !job.HasFreelancer() || caller != job.Freelancer {
			return fmt.Errorf("%w: only the freelancer may submit work", ErrNotAuthorized)
		}
		if err := requireStatus(job, StatusAccepted, StatusOngoing); err != nil {
			return err
		}
		if err := validateReference(reference, true); err != nil {
			return err
		}
		job.ResultReference = reference
		c.emit(NewWorkSubmittedEvent(job))
		return storeJob(c.tx, job)
	})
}

// ReleaseFunds settles a delivered job without a rating.
func (e *Engine) ReleaseFunds(caller [20]byte, id uint64) error {
	return e.execute("release_funds", true, func(c *call) error {
		return e.completeByClient(c, caller, id, 0)
	})
}

// CompleteJob settles a delivered job and forwards a 1-5 rating to the
// reputation collaborator.
func (e *Engine) CompleteJob(caller [20]byte, id uint64, rating uint8) error {
	return e.execute("complete_job", true, func(c *call) error {
		if rating < 1 || rating > 5 {
			return fmt.Errorf("%w: %d", ErrInvalidRating, rating)
		}
		return e.completeByClient(c, caller, id, rating)
	})
}

func (e *Engine) completeByClient(c *call, caller [20]byte, id uint64, rating uint8) error {
	job, err := loadJob(c.tx, id)
	if err != nil {
		return err
	}
	if caller != job.Client {
		return fmt.Errorf("%w: only the client may release funds", ErrNotAuthorized)
	}
	if err := requireStatus(job, StatusOngoing); err != nil {
		return err
	}
	if !job.WorkSubmitted() {
		return fmt.Errorf("%w: job %d has no submitted work", ErrInvalidStatus, id)
	}
	if _, err := e.settle(c, job, rating); err != nil {
		return err
	}
	return storeJob(c.tx, job)
}

// RefundExpiredJob cancels a job that was never started once its deadline
// passed. The client gets the unreleased amount; every posted stake moves
// to its owner's pending refunds.
func (e *Engine) RefundExpiredJob(caller [20]byte, id uint64) error {
	return e.execute("refund_expired_job", true, func(c *call) error {
		job, err := loadJob(c.tx, id)
		if err != nil {
			return err
		}
		if caller != job.Client {
			return fmt.Errorf("%w: only the client may reclaim", ErrNotAuthorized)
		}
		if err := requireStatus(job, StatusCreated, StatusAccepted); err != nil {
			return err
		}
		if !deadlinePassed(job, c.now) {
			return fmt.Errorf("%w: job %d", ErrDeadlineNotPassed, id)
		}
		refund := job.Remaining()
		if err := creditBalance(c.tx, job.Client, job.Asset, refund); err != nil {
			return err
		}
		for i := range job.Applicants {
			a := &job.Applicants[i]
			if a.Stake.Sign() == 0 {
				continue
			}
			if err := creditRefund(c.tx, a.Address, job.Asset, a.Stake); err != nil {
				return err
			}
			a.Stake = big.NewInt(0)
		}
		if job.FreelancerStake.Sign() > 0 {
			if err := creditRefund(c.tx, job.Freelancer, job.Asset, job.FreelancerStake); err != nil {
				return err
			}
		}
		if err := job.transition(StatusCancelled); err != nil {
			return err
		}
		c.emit(NewJobCancelledEvent(job, refund, "expired"))
		return storeJob(c.tx, job)
	})
}

// AutoRelease lets the freelancer settle delivered work once the deadline
// passed without the client acting.
func (e *Engine) AutoRelease(caller [20]byte, id uint64) error {
	return e.execute("auto_release", true, func(c *call) error {
		job, err := loadJob(c.tx, id)
		if err != nil {
			return err
		}
		if !job.HasFreelancer() || caller != job.Freelancer {
			return fmt.Errorf("%w: only the freelancer may auto release", ErrNotAuthorized)
		}
		if err := requireStatus(job, StatusOngoing); err != nil {
			return err
		}
		if !job.WorkSubmitted() {
			return fmt.Errorf("%w: job %d has no submitted work", ErrInvalidStatus, id)
		}
		if !deadlinePassed(job, c.now) {
			return fmt.Errorf("%w: job %d", ErrDeadlineNotPassed, id)
		}
		if _, err := e.settle(c, job, 0); err != nil {
			return err
		}
		return storeJob(c.tx, job)
	})
}

type settlement struct {
	payout  *big.Int
	fee     *big.Int
	stake   *big.Int
	vault   [20]byte
	supreme bool
	rating  uint8
}

// settle pays out the unreleased remainder minus the platform fee together
// with the freelancer's stake and marks the job completed.
func (e *Engine) settle(c *call, job *Job, rating uint8) (settlement, error) {
	policy, err := requirePolicy(c.tx)
	if err != nil {
		return settlement{}, err
	}
	remaining := job.Remaining()
	supreme := policy.IsSupreme(job.Freelancer)
	if !supreme && policy.ReputationThreshold > 0 && e.reputation != nil {
		score, err := e.reputation.Score(job.Freelancer)
		if err != nil {
			e.logger.Warn("reputation score unavailable",
				slog.Uint64("job_id", job.ID),
				slog.Any("error", err))
		} else if score >= policy.ReputationThreshold {
			supreme = true
		}
	}
	fee := big.NewInt(0)
	if !supreme {
		fee = bpsOf(remaining, policy.FeeBps)
	}
	if fee.Sign() > 0 && policy.Vault == ([20]byte{}) {
		return settlement{}, fmt.Errorf("%w: fee vault not configured", ErrInvalidAddress)
	}
	stake := cloneBigInt(job.FreelancerStake)
	payout := new(big.Int).Sub(remaining, fee)
	if err := creditBalance(c.tx, job.Freelancer, job.Asset, new(big.Int).Add(payout, stake)); err != nil {
		return settlement{}, err
	}
	if err := creditBalance(c.tx, policy.Vault, job.Asset, fee); err != nil {
		return settlement{}, err
	}
	job.Paid = true
	if err := job.transition(StatusCompleted); err != nil {
		return settlement{}, err
	}
	s := settlement{payout: payout, fee: fee, stake: stake, vault: policy.Vault, supreme: supreme, rating: rating}
	c.emit(NewFundsReleasedEvent(job, s))
	c.completions = append(c.completions, completion{freelancer: job.Freelancer, jobID: job.ID, rating: rating})
	return s, nil
}

// Withdraw drains the caller's balance entry for asset into its wallet and
// returns the amount moved. It stays available while paused.
func (e *Engine) Withdraw(caller [20]byte, asset string) (*big.Int, error) {
	return e.pull("withdraw", caller, asset, state.EscrowBalanceKey, EventTypeLedgerWithdrawn)
}

// ClaimRefund drains the caller's pending refund entry for asset. It stays
// available while paused.
func (e *Engine) ClaimRefund(caller [20]byte, asset string) (*big.Int, error) {
	return e.pull("claim_refund", caller, asset, state.EscrowRefundKey, EventTypeLedgerRefundClaimed)
}

func (e *Engine) pull(op string, caller [20]byte, asset string, keyFn func([20]byte, string) []byte, eventType string) (*big.Int, error) {
	amount := big.NewInt(0)
	err := e.execute(op, false, func(c *call) error {
		normalized, err := NormalizeAsset(asset)
		if err != nil {
			return err
		}
		moved, err := drain(c.tx, keyFn(caller, normalized), caller, normalized)
		if err != nil {
			return err
		}
		amount = moved
		if moved.Sign() > 0 {
			c.emit(newLedgerEvent(eventType, caller, normalized, moved))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// GetJob returns a copy of the stored job.
func (e *Engine) GetJob(id uint64) (*Job, error) {
	var job *Job
	err := e.read(func(kv state.KV) error {
		var err error
		job, err = loadJob(kv, id)
		return err
	})
	return job, err
}

// JobForDispute resolves an external dispute id to its job.
func (e *Engine) JobForDispute(disputeID uint64) (*Job, error) {
	var job *Job
	err := e.read(func(kv state.KV) error {
		id, err := lookupDispute(kv, disputeID)
		if err != nil {
			return err
		}
		job, err = loadJob(kv, id)
		return err
	})
	return job, err
}

// Balance returns the withdrawable ledger balance of addr.
func (e *Engine) Balance(addr [20]byte, asset string) (*big.Int, error) {
	return e.readAmount(state.EscrowBalanceKey, addr, asset)
}

// PendingRefund returns the claimable stake refund of addr.
func (e *Engine) PendingRefund(addr [20]byte, asset string) (*big.Int, error) {
	return e.readAmount(state.EscrowRefundKey, addr, asset)
}

func (e *Engine) readAmount(keyFn func([20]byte, string) []byte, addr [20]byte, asset string) (*big.Int, error) {
	var out *big.Int
	err := e.read(func(kv state.KV) error {
		normalized, err := NormalizeAsset(asset)
		if err != nil {
			return err
		}
		out, err = state.LoadBigInt(kv, keyFn(addr, normalized))
		return err
	})
	return out, err
}

// WalletBalance returns the balance of addr outside custody.
func (e *Engine) WalletBalance(addr [20]byte, asset string) (*big.Int, error) {
	var out *big.Int
	err := e.read(func(kv state.KV) error {
		var err error
		out, err = bank.Balance(kv, addr, asset)
		return err
	})
	return out, err
}

// Solvency reports custody accounting for asset.
func (e *Engine) Solvency(asset string) (Solvency, error) {
	var out Solvency
	err := e.read(func(kv state.KV) error {
		normalized, err := NormalizeAsset(asset)
		if err != nil {
			return err
		}
		out, err = solvency(kv, normalized)
		return err
	})
	return out, err
}

// Policy returns the active configuration.
func (e *Engine) Policy() (Policy, error) {
	var out Policy
	err := e.read(func(kv state.KV) error {
		var err error
		out, err = requirePolicy(kv)
		return err
	})
	return out.Clone(), err
}
