package mem

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/store"
	"golang.org/x/xerrors"
)

func TestStore_Interface(t *testing.T) {
	var s store.Store = NewStore()

	s.Apply(map[account.Identity]account.Account{{1}: {Lamports: 3}})

	acc, found := s.Get(account.Identity{1})
	require.True(t, found)
	require.Equal(t, uint64(3), acc.Lamports)
}

func TestStore_Get(t *testing.T) {
	store := NewStore()

	_, found := store.Get(account.Identity{1})
	require.False(t, found)
	require.False(t, store.Has(account.Identity{1}))

	store.Set(account.Identity{1}, account.Account{Lamports: 5, Data: []byte{1}})

	acc, found := store.Get(account.Identity{1})
	require.True(t, found)
	require.Equal(t, uint64(5), acc.Lamports)
	require.True(t, store.Has(account.Identity{1}))

	// Altering the copy does not change the store.
	acc.Data[0] = 2
	again, _ := store.Get(account.Identity{1})
	require.Equal(t, []byte{1}, again.Data)
}

func TestStore_SetIfAbsent(t *testing.T) {
	store := NewStore()

	require.True(t, store.SetIfAbsent(account.Identity{1}, account.Account{Lamports: 1}))
	require.False(t, store.SetIfAbsent(account.Identity{1}, account.Account{Lamports: 2}))

	acc, _ := store.Get(account.Identity{1})
	require.Equal(t, uint64(1), acc.Lamports)
}

func TestStore_Apply(t *testing.T) {
	store := NewStore()
	store.Set(account.Identity{1}, account.Account{Lamports: 1})

	data := []byte{1, 2, 3}

	store.Apply(map[account.Identity]account.Account{
		{1}: {Lamports: 10},
		{2}: {Lamports: 20, Data: data},
	})

	data[0] = 9

	require.Equal(t, 2, store.Len())

	acc, _ := store.Get(account.Identity{1})
	require.Equal(t, uint64(10), acc.Lamports)

	acc, _ = store.Get(account.Identity{2})
	require.Equal(t, []byte{1, 2, 3}, acc.Data)
}

func TestStore_Keys(t *testing.T) {
	store := NewStore()
	store.Set(account.Identity{3}, account.Account{})
	store.Set(account.Identity{1}, account.Account{})
	store.Set(account.Identity{2}, account.Account{})

	require.Equal(t, []account.Identity{{1}, {2}, {3}}, store.Keys())
}

func TestStore_Fingerprint(t *testing.T) {
	a := NewStore()
	b := NewStore()

	a.Set(account.Identity{1}, account.Account{Lamports: 1})
	a.Set(account.Identity{2}, account.Account{Lamports: 2})

	b.Set(account.Identity{2}, account.Account{Lamports: 2})
	b.Set(account.Identity{1}, account.Account{Lamports: 1})

	bufA := new(bytes.Buffer)
	require.NoError(t, a.Fingerprint(bufA))

	bufB := new(bytes.Buffer)
	require.NoError(t, b.Fingerprint(bufB))

	require.Equal(t, bufA.Bytes(), bufB.Bytes())

	b.Apply(map[account.Identity]account.Account{{1}: {Lamports: 3}})

	bufB.Reset()
	require.NoError(t, b.Fingerprint(bufB))
	require.NotEqual(t, bufA.Bytes(), bufB.Bytes())

	err := a.Fingerprint(badWriter{})
	require.EqualError(t, err, "couldn't write identity: oops")
}

func TestStore_Concurrency(t *testing.T) {
	store := NewStore()

	wg := sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			store.SetIfAbsent(account.Identity{byte(i)}, account.Account{Lamports: uint64(i)})
			store.Get(account.Identity{byte(i)})
		}(i)
	}

	wg.Wait()
	require.Equal(t, 10, store.Len())
}

// -----------------------------------------------------------------------------
// Utility functions

type badWriter struct{}

func (badWriter) Write([]byte) (int, error) {
	return 0, errOops
}

var errOops = xerrors.New("oops")
