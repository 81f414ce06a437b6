package reputation

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"escrowledger/core/events"
	"escrowledger/core/state"
)

// ledgerStore abstracts the subset of state manager functionality required by
// the reputation ledger.
type ledgerStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	// ErrCredentialNotFound marks missing credential records.
	ErrCredentialNotFound = errors.New("reputation: credential not found")
	// ErrInvalidRating marks ratings outside 0-5.
	ErrInvalidRating = errors.New("reputation: rating out of range")
)

// Ledger persists freelancer scores and the completion credentials minted by
// escrow settlements.
type Ledger struct {
	mu      sync.Mutex
	store   ledgerStore
	emitter events.Emitter
	nowFn   func() int64
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store ledgerStore) *Ledger {
	return &Ledger{
		store:   store,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the wall clock used to stamp credentials. Primarily
// leveraged in tests to provide deterministic timestamps.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

// SetEmitter configures where credential events are published.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

// CredentialID derives the deterministic credential identifier of a job.
func CredentialID(subject [20]byte, jobID uint64) [32]byte {
	buf := make([]byte, 0, 20+8)
	buf = append(buf, subject[:]...)
	buf = binary.BigEndian.AppendUint64(buf, jobID)
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256([]byte("escrow/completion/"), buf))
	return id
}

func (l *Ledger) loadProfile(subject [20]byte) (*Profile, error) {
	profile := &Profile{Subject: subject}
	if _, err := l.store.KVGet(state.ReputationScoreKey(subject), profile); err != nil {
		return nil, err
	}
	profile.Subject = subject
	return profile, nil
}

// Profile returns the stored profile of subject. Unknown accounts have an
// empty profile.
func (l *Ledger) Profile(subject [20]byte) (*Profile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadProfile(subject)
}

// Score returns the accumulated score of subject.
func (l *Ledger) Score(subject [20]byte) (uint64, error) {
	profile, err := l.Profile(subject)
	if err != nil {
		return 0, err
	}
	return profile.Score, nil
}

// Seed sets the score of subject directly. Genesis uses it to import
// existing reputation.
func (l *Ledger) Seed(subject [20]byte, score uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	profile, err := l.loadProfile(subject)
	if err != nil {
		return err
	}
	profile.Score = score
	return l.store.KVPut(state.ReputationScoreKey(subject), profile)
}

// RecordCompletion mints the completion credential of a job and bumps the
// freelancer's score. Repeated calls for the same job are no-ops.
func (l *Ledger) RecordCompletion(freelancer [20]byte, jobID uint64, rating uint8) error {
	if rating > 5 {
		return fmt.Errorf("%w: %d", ErrInvalidRating, rating)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	id := CredentialID(freelancer, jobID)
	key := state.ReputationCredentialKey(id)
	exists, err := l.store.KVGet(key, nil)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	now := l.nowFn()
	if now < 0 {
		now = 0
	}
	cred := &Credential{
		ID:       id,
		Subject:  freelancer,
		JobID:    jobID,
		Rating:   rating,
		Points:   pointsFor(rating),
		IssuedAt: uint64(now),
	}
	profile, err := l.loadProfile(freelancer)
	if err != nil {
		return err
	}
	profile.Score += cred.Points
	profile.Completions++
	if rating > 0 {
		profile.RatingSum += uint64(rating)
		profile.RatedJobs++
	}
	profile.LastCompletedAt = cred.IssuedAt
	if err := l.store.KVPut(key, cred); err != nil {
		return err
	}
	if err := l.store.KVPut(state.ReputationScoreKey(freelancer), profile); err != nil {
		return err
	}
	l.emitter.Emit(credentialEvent{evt: NewCredentialMintedEvent(cred, profile.Score)})
	return nil
}

// Credential fetches a minted credential by id.
func (l *Ledger) Credential(id [32]byte) (*Credential, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cred := new(Credential)
	ok, err := l.store.KVGet(state.ReputationCredentialKey(id), cred)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return cred, nil
}
