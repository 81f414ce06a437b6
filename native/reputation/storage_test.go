package reputation

import (
	"errors"
	"testing"

	"escrowledger/core/events"
	"escrowledger/core/state"
	"escrowledger/storage"
)

func newTestLedger() (*Ledger, *events.Recorder) {
	ledger := NewLedger(state.NewManager(storage.NewMemDB()))
	rec := &events.Recorder{}
	ledger.SetEmitter(rec)
	ledger.SetNowFunc(func() int64 { return 1_700_000_000 })
	return ledger, rec
}

func TestRecordCompletionMintsCredential(t *testing.T) {
	ledger, rec := newTestLedger()
	subject := [20]byte{0xaa}

	if err := ledger.RecordCompletion(subject, 7, 5); err != nil {
		t.Fatalf("record: %v", err)
	}
	score, err := ledger.Score(subject)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != pointsFor(5) {
		t.Fatalf("score = %d, want %d", score, pointsFor(5))
	}
	cred, err := ledger.Credential(CredentialID(subject, 7))
	if err != nil {
		t.Fatalf("credential: %v", err)
	}
	if cred.JobID != 7 || cred.Subject != subject || cred.Rating != 5 || cred.IssuedAt != 1_700_000_000 {
		t.Fatalf("unexpected credential: %+v", cred)
	}
	if types := rec.Types(); len(types) != 1 || types[0] != EventTypeCredentialMinted {
		t.Fatalf("unexpected events: %v", types)
	}
}

func TestRecordCompletionIsIdempotentPerJob(t *testing.T) {
	ledger, rec := newTestLedger()
	subject := [20]byte{0xbb}
	for i := 0; i < 3; i++ {
		if err := ledger.RecordCompletion(subject, 1, 3); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := ledger.RecordCompletion(subject, 2, 0); err != nil {
		t.Fatalf("record unrated: %v", err)
	}
	profile, err := ledger.Profile(subject)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.Completions != 2 || profile.Score != pointsFor(3)+pointsFor(0) {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if profile.AverageRating() != 300 {
		t.Fatalf("average rating = %d, want 300", profile.AverageRating())
	}
	if len(rec.Events()) != 2 {
		t.Fatalf("expected two credentials, got %d events", len(rec.Events()))
	}
}

func TestSeedAndValidation(t *testing.T) {
	ledger, _ := newTestLedger()
	subject := [20]byte{0xcc}
	if err := ledger.Seed(subject, 90); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if score, _ := ledger.Score(subject); score != 90 {
		t.Fatalf("seeded score = %d", score)
	}
	if err := ledger.RecordCompletion(subject, 1, 6); !errors.Is(err, ErrInvalidRating) {
		t.Fatalf("expected ErrInvalidRating, got %v", err)
	}
	if _, err := ledger.Credential([32]byte{1}); !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
	if CredentialID(subject, 1) == CredentialID(subject, 2) {
		t.Fatalf("credential ids must differ per job")
	}
}
