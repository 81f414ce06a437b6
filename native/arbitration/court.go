// Package arbitration provides an in-process arbitration service that the
// escrow engine can use as its external arbitrator. It charges a flat fee
// per asset, keeps a docket of cases and relays rulings back to the engine.
package arbitration

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"escrowledger/core/state"
	"escrowledger/crypto"
	"escrowledger/native/escrow"
)

var (
	ErrCaseNotFound = errors.New("arbitration: case not found")
	ErrCaseClosed   = errors.New("arbitration: case closed")
	ErrNoEngine     = errors.New("arbitration: engine not attached")
)

// CaseStatus tracks a case on the docket.
type CaseStatus uint8

const (
	CaseOpen CaseStatus = iota
	CaseInReview
	CaseDecided
)

func (s CaseStatus) String() string {
	switch s {
	case CaseOpen:
		return "open"
	case CaseInReview:
		return "in_review"
	case CaseDecided:
		return "decided"
	default:
		return fmt.Sprintf("case(%d)", uint8(s))
	}
}

// Case is a docket entry for one escrow dispute.
type Case struct {
	ID         uint64
	JobID      uint64
	Client     [20]byte
	Freelancer [20]byte
	RaisedBy   [20]byte
	Asset      string
	Amount     *big.Int
	Fee        *big.Int
	Reference  string
	Status     uint8
	Ruling     uint8
	Reasoning  string
	OpenedAt   uint64
	DecidedAt  uint64
}

// Ruler is the engine surface the court calls back into.
type Ruler interface {
	BeginArbitration(caller [20]byte, disputeID uint64) error
	Rule(caller [20]byte, disputeID uint64, ruling escrow.Ruling, reasoning string) error
}

// Court implements escrow.Arbitrator. The court's own address must hold the
// arbitrator role on the engine for its rulings to be accepted.
type Court struct {
	mu      sync.Mutex
	store   state.KV
	ruler   Ruler
	address [20]byte
	fees    map[string]*big.Int
	nowFn   func() int64
}

// NewCourt builds a court persisting its docket through store.
func NewCourt(store state.KV, fees map[string]*big.Int) *Court {
	normalized := make(map[string]*big.Int, len(fees))
	for asset, fee := range fees {
		if fee == nil || fee.Sign() < 0 {
			continue
		}
		normalized[strings.ToUpper(strings.TrimSpace(asset))] = new(big.Int).Set(fee)
	}
	return &Court{
		store:   store,
		address: crypto.ModuleAddress("arbitration/court"),
		fees:    normalized,
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetRuler attaches the engine that receives the court's decisions.
func (c *Court) SetRuler(r Ruler) { c.ruler = r }

// SetNowFunc overrides the clock used to stamp docket entries.
func (c *Court) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	c.nowFn = now
}

// Address is the court's fee-collecting account.
func (c *Court) Address() [20]byte { return c.address }

// ArbitrationCost returns the flat fee charged for disputes in asset.
func (c *Court) ArbitrationCost(asset string) *big.Int {
	fee, ok := c.fees[strings.ToUpper(strings.TrimSpace(asset))]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(fee)
}

// RequestResolution opens a case and returns its docket number.
func (c *Court) RequestResolution(req escrow.ResolutionRequest) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, err := state.NextSequence(c.store, state.ArbitrationSequenceKey())
	if err != nil {
		return 0, err
	}
	opened := c.nowFn()
	if opened < 0 {
		opened = 0
	}
	entry := &Case{
		ID:         id,
		JobID:      req.JobID,
		Client:     req.Client,
		Freelancer: req.Freelancer,
		RaisedBy:   req.RaisedBy,
		Asset:      req.Asset,
		Amount:     copyAmount(req.Amount),
		Fee:        copyAmount(req.Fee),
		Reference:  req.Reference,
		Status:     uint8(CaseOpen),
		OpenedAt:   uint64(opened),
	}
	if err := c.store.KVPut(state.ArbitrationCaseKey(id), entry); err != nil {
		return 0, err
	}
	return id, nil
}

// Case returns a docket entry.
func (c *Court) Case(id uint64) (*Case, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(id)
}

func (c *Court) load(id uint64) (*Case, error) {
	entry := new(Case)
	ok, err := c.store.KVGet(state.ArbitrationCaseKey(id), entry)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrCaseNotFound, id)
	}
	return entry, nil
}

// Review takes a case under review, closing the evidence window on the
// engine side.
func (c *Court) Review(id uint64) error {
	if c.ruler == nil {
		return ErrNoEngine
	}
	entry, err := c.Case(id)
	if err != nil {
		return err
	}
	if CaseStatus(entry.Status) != CaseOpen {
		return fmt.Errorf("%w: case %d is %s", ErrCaseClosed, id, CaseStatus(entry.Status))
	}
	// The engine lock is taken without holding the docket lock; RaiseDispute
	// acquires them in the opposite order.
	if err := c.ruler.BeginArbitration(c.address, id); err != nil {
		return err
	}
	return c.update(id, func(entry *Case) {
		entry.Status = uint8(CaseInReview)
	})
}

// Decide relays a ruling to the engine and closes the case.
func (c *Court) Decide(id uint64, ruling escrow.Ruling, reasoning string) error {
	if c.ruler == nil {
		return ErrNoEngine
	}
	entry, err := c.Case(id)
	if err != nil {
		return err
	}
	if CaseStatus(entry.Status) == CaseDecided {
		return fmt.Errorf("%w: case %d", ErrCaseClosed, id)
	}
	if err := c.ruler.Rule(c.address, id, ruling, reasoning); err != nil {
		return err
	}
	decided := c.nowFn()
	if decided < 0 {
		decided = 0
	}
	return c.update(id, func(entry *Case) {
		entry.Status = uint8(CaseDecided)
		entry.Ruling = uint8(ruling)
		entry.Reasoning = reasoning
		entry.DecidedAt = uint64(decided)
	})
}

func (c *Court) update(id uint64, mutate func(*Case)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, err := c.load(id)
	if err != nil {
		return err
	}
	mutate(entry)
	return c.store.KVPut(state.ArbitrationCaseKey(id), entry)
}

func copyAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
