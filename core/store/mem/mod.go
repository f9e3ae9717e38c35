// Package mem implements an in-memory store of the accounts of a session.
//
// An account enters the store once, either from the genesis or from the
// remote loader, and is never evicted afterwards. The only way to change it is
// to apply the mutations of an execution.
package mem

import (
	"io"
	"sort"
	"sync"

	"go.dedis.ch/txsim/core/account"
	"golang.org/x/xerrors"
)

// Store is an in-memory store of accounts. Reads return copies so that the
// callers cannot alter the stored state.
//
// - implements store.Store
type Store struct {
	sync.RWMutex

	accounts map[account.Identity]account.Account
}

// NewStore returns a new empty store.
func NewStore() *Store {
	return &Store{
		accounts: make(map[account.Identity]account.Account),
	}
}

// Get implements store.Readable. It returns a copy of the account if it is
// present.
func (s *Store) Get(id account.Identity) (account.Account, bool) {
	s.RLock()
	defer s.RUnlock()

	acc, found := s.accounts[id]
	if !found {
		return account.Account{}, false
	}

	return acc.Clone(), true
}

// Has returns true if the account is present.
func (s *Store) Has(id account.Identity) bool {
	s.RLock()
	_, found := s.accounts[id]
	s.RUnlock()

	return found
}

// Set stores a copy of the account, overwriting any previous state. It is
// meant to seed the store before the first execution.
func (s *Store) Set(id account.Identity, acc account.Account) {
	s.Lock()
	s.accounts[id] = acc.Clone()
	s.Unlock()
}

// SetIfAbsent stores a copy of the account only if the identity is not yet
// present. It returns true if the account has been stored.
func (s *Store) SetIfAbsent(id account.Identity, acc account.Account) bool {
	s.Lock()
	defer s.Unlock()

	_, found := s.accounts[id]
	if found {
		return false
	}

	s.accounts[id] = acc.Clone()

	return true
}

// Apply implements store.Writable. It replaces the accounts wholesale in one
// step.
func (s *Store) Apply(mutations map[account.Identity]account.Account) {
	s.Lock()
	defer s.Unlock()

	for id, acc := range mutations {
		s.accounts[id] = acc.Clone()
	}
}

// Len returns the number of accounts in the store.
func (s *Store) Len() int {
	s.RLock()
	defer s.RUnlock()

	return len(s.accounts)
}

// Keys returns the identities of the store in ascending order.
func (s *Store) Keys() []account.Identity {
	s.RLock()

	keys := make([]account.Identity, 0, len(s.accounts))
	for id := range s.accounts {
		keys = append(keys, id)
	}

	s.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Compare(keys[j]) < 0
	})

	return keys
}

// Fingerprint writes a deterministic binary representation of the store. Two
// stores with the same accounts produce the same bytes.
func (s *Store) Fingerprint(w io.Writer) error {
	for _, id := range s.Keys() {
		acc, found := s.Get(id)
		if !found {
			continue
		}

		_, err := w.Write(id[:])
		if err != nil {
			return xerrors.Errorf("couldn't write identity: %v", err)
		}

		err = acc.Fingerprint(w)
		if err != nil {
			return xerrors.Errorf("couldn't fingerprint %v: %v", id, err)
		}
	}

	return nil
}
