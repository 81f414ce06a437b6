package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"escrowledger/core/types"
	"escrowledger/native/escrow"
)

type wireEvent struct{ kind string }

func (e wireEvent) EventType() string { return e.kind }
func (e wireEvent) Event() *types.Event { return &types.Event{Type: e.kind} }

func TestEscrowObserveOperation(t *testing.T) {
	m := Escrow()
	ok := m.operations.WithLabelValues("create_job", "ok")
	denied := m.operations.WithLabelValues("create_job", "NotAuthorized")
	beforeOK := testutil.ToFloat64(ok)
	beforeDenied := testutil.ToFloat64(denied)

	m.ObserveOperation("create_job", "", time.Millisecond)
	m.ObserveOperation("create_job", "NotAuthorized", time.Millisecond)

	require.Equal(t, beforeOK+1, testutil.ToFloat64(ok))
	require.Equal(t, beforeDenied+1, testutil.ToFloat64(denied))

	var observer escrow.OperationObserver = m
	require.NotNil(t, observer)
}

func TestEscrowRecordSolvency(t *testing.T) {
	m := Escrow()
	m.RecordSolvency(escrow.Solvency{
		Asset:   "native",
		Custody: big.NewInt(150),
		Locked:  big.NewInt(100),
		Owed:    big.NewInt(50),
	})
	require.Equal(t, 150.0, testutil.ToFloat64(m.custody.WithLabelValues("NATIVE")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.solvent.WithLabelValues("NATIVE")))

	m.RecordSolvency(escrow.Solvency{Asset: "NATIVE", Custody: big.NewInt(149), Locked: big.NewInt(100), Owed: big.NewInt(50)})
	require.Equal(t, 0.0, testutil.ToFloat64(m.solvent.WithLabelValues("NATIVE")))
}

func TestGatewayObserve(t *testing.T) {
	m := Gateway()
	errs := m.errors.WithLabelValues("/v1/jobs/{id}", "404")
	before := testutil.ToFloat64(errs)
	m.Observe("/v1/jobs/{id}", 404, time.Millisecond)
	m.Observe("/v1/jobs/{id}", 200, time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(errs))

	throttled := m.throttles.WithLabelValues("rate_limit")
	before = testutil.ToFloat64(throttled)
	m.RecordThrottle("rate_limit")
	require.Equal(t, before+1, testutil.ToFloat64(throttled))
}

func TestEventsEmitter(t *testing.T) {
	m := Events()
	counter := m.emitted.WithLabelValues(escrow.EventTypeJobCreated)
	before := testutil.ToFloat64(counter)
	m.Emit(wireEvent{kind: escrow.EventTypeJobCreated})
	m.Emit(nil)
	require.Equal(t, before+1, testutil.ToFloat64(counter))
}
