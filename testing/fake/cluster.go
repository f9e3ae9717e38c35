package fake

import (
	"context"
	"sync"
	"sync/atomic"

	"go.dedis.ch/txsim/core/account"
)

// Source is a fake implementation of a cluster source that serves the accounts
// of a map and counts the fetches.
//
// - implements cluster.Source
type Source struct {
	sync.Mutex

	accounts map[account.Identity]account.Account
	calls    map[account.Identity]int
	total    int64

	// Gate blocks the fetches until it is closed when it is not nil.
	Gate chan struct{}

	// Err is returned by every fetch when it is not nil.
	Err error
}

// NewSource returns a new fake source with the accounts.
func NewSource(accounts map[account.Identity]account.Account) *Source {
	if accounts == nil {
		accounts = make(map[account.Identity]account.Account)
	}

	return &Source{
		accounts: accounts,
		calls:    make(map[account.Identity]int),
	}
}

// NewBadSource returns a fake source that always fails.
func NewBadSource() *Source {
	src := NewSource(nil)
	src.Err = fakeErr

	return src
}

// Put stores the account in the source.
func (s *Source) Put(id account.Identity, acc account.Account) {
	s.Lock()
	s.accounts[id] = acc
	s.Unlock()
}

// FetchAccount implements cluster.Source. It returns a copy of the account if
// it exists.
func (s *Source) FetchAccount(ctx context.Context, id account.Identity) (*account.Account, error) {
	atomic.AddInt64(&s.total, 1)

	s.Lock()
	s.calls[id]++
	s.Unlock()

	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if s.Err != nil {
		return nil, s.Err
	}

	s.Lock()
	defer s.Unlock()

	acc, found := s.accounts[id]
	if !found {
		return nil, nil
	}

	clone := acc.Clone()

	return &clone, nil
}

// Calls returns the number of fetches of the account.
func (s *Source) Calls(id account.Identity) int {
	s.Lock()
	defer s.Unlock()

	return s.calls[id]
}

// Total returns the number of fetches.
func (s *Source) Total() int {
	return int(atomic.LoadInt64(&s.total))
}
