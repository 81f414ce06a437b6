package eventlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"escrowledger/core/types"
)

type testEvent struct{ evt *types.Event }

func (e testEvent) EventType() string { return e.evt.Type }
func (e testEvent) Event() *types.Event { return e.evt }

func openLog(t *testing.T, path string) *Log {
	t.Helper()
	l, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendAndList(t *testing.T) {
	ctx := context.Background()
	l := openLog(t, filepath.Join(t.TempDir(), "events.db"))

	l.Emit(testEvent{&types.Event{Type: "escrow.job.created", Attributes: map[string]string{"id": "1"}}})
	l.Emit(testEvent{&types.Event{Type: "escrow.job.accepted", Attributes: map[string]string{"id": "1"}}})
	rec, err := l.Append(ctx, &types.Event{Type: "escrow.ledger.withdrawn"})
	require.NoError(t, err)
	require.Equal(t, uint64(3), rec.Seq)

	all, err := l.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "escrow.job.created", all[0].Type)
	require.Equal(t, "1", all[0].Attributes["id"])
	require.Empty(t, all[0].PrevHash)
	require.Equal(t, all[0].Hash, all[1].PrevHash)
	require.NotEqual(t, all[0].ID, all[1].ID)

	page, err := l.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, uint64(2), page[0].Seq)

	bad, err := l.Verify(ctx)
	require.NoError(t, err)
	require.Zero(t, bad)
}

func TestChainSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	first, err := Open(path, nil)
	require.NoError(t, err)
	head, err := first.Append(ctx, &types.Event{Type: "escrow.job.created"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := openLog(t, path)
	next, err := second.Append(ctx, &types.Event{Type: "escrow.job.cancelled"})
	require.NoError(t, err)
	require.Equal(t, head.Hash, next.PrevHash)
}

func TestVerifyDetectsTampering(t *testing.T) {
	ctx := context.Background()
	l := openLog(t, filepath.Join(t.TempDir(), "events.db"))
	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, &types.Event{Type: "escrow.job.created", Attributes: map[string]string{"amount": "100"}})
		require.NoError(t, err)
	}
	_, err := l.db.ExecContext(ctx, `UPDATE events SET attributes = ? WHERE seq = 2`, `{"amount":"900"}`)
	require.NoError(t, err)

	bad, err := l.Verify(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), bad)
}

func TestFileDSNRequiresPath(t *testing.T) {
	_, err := FileDSN("  ")
	require.ErrorIs(t, err, ErrPathRequired)
}
