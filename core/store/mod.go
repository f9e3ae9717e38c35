// Package store defines the primitives of the storage of the ledger accounts.
//
// Documentation Last Review: 12.10.2026
package store

import "go.dedis.ch/txsim/core/account"

// Readable is the interface for a readable store.
type Readable interface {
	// Get returns a copy of the account and true if it is present, otherwise
	// it returns false.
	Get(id account.Identity) (account.Account, bool)
}

// Writable is the interface for a writable store.
type Writable interface {
	// Apply replaces the accounts wholesale.
	Apply(mutations map[account.Identity]account.Account)
}

// Store is a state of the accounts that can be read and updated.
type Store interface {
	Readable
	Writable
}

// Transaction is a generic interface that store implementations can use to
// provide atomicity.
type Transaction interface {
	// OnCommit adds a callback to be executed after the transaction
	// successfully commits.
	OnCommit(func())
}
