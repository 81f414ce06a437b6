package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("escrow/job/1"), []byte("one")))
	require.NoError(t, db.Put([]byte("escrow/job/2"), []byte("two")))
	require.NoError(t, db.Put([]byte("bank/account/x"), []byte("acct")))

	got, err := db.Get([]byte("escrow/job/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), got)

	ok, err := db.Has([]byte("escrow/job/2"))
	require.NoError(t, err)
	require.True(t, ok)

	var seen []string
	require.NoError(t, db.IteratePrefix([]byte("escrow/job/"), func(key, value []byte) bool {
		seen = append(seen, string(key))
		return true
	}))
	require.Equal(t, []string{"escrow/job/1", "escrow/job/2"}, seen)

	batch := db.NewBatch()
	batch.Put([]byte("escrow/job/3"), []byte("three"))
	batch.Delete([]byte("escrow/job/1"))
	require.Equal(t, 2, batch.Len())

	ok, err = db.Has([]byte("escrow/job/3"))
	require.NoError(t, err)
	require.False(t, ok, "batch writes must not be visible before Write")

	require.NoError(t, batch.Write())
	ok, err = db.Has([]byte("escrow/job/1"))
	require.NoError(t, err)
	require.False(t, ok)
	got, err = db.Get([]byte("escrow/job/3"))
	require.NoError(t, err)
	require.Equal(t, []byte("three"), got)

	require.NoError(t, db.Delete([]byte("bank/account/x")))
	_, err = db.Get([]byte("bank/account/x"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestMemDBReturnsCopies(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'z'
	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got)
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	batch := db1.NewBatch()
	batch.Put([]byte("escrow/seq/job"), []byte{0x07})
	require.NoError(t, batch.Write())
	db1.Close()

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()
	got, err := db2.Get([]byte("escrow/seq/job"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x07}, got)
}
