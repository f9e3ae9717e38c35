package session

import (
	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/execution"
	"go.dedis.ch/txsim/core/store"
	"go.dedis.ch/txsim/core/txn"
)

// Snapshot is the state of the accounts of a transaction right after its
// execution.
type Snapshot struct {
	// Index is the position of the transaction in its batch.
	Index int

	Transaction *txn.Transaction
	Slot        uint64
	Outcome     execution.Outcome

	// Accounts holds the state of every account the transaction references,
	// the read-only ones included.
	Accounts map[account.Identity]account.Account

	// PreBalances and PostBalances are the lamports of the accounts in the
	// order of the account keys of the transaction.
	PreBalances  []uint64
	PostBalances []uint64
}

// Signature returns the identifier of the transaction.
func (s Snapshot) Signature() txn.Signature {
	return s.Transaction.ID()
}

// capture copies the state of every account key of the transaction. The
// snapshot owns the copies.
func capture(index int, tx *txn.Transaction, outcome execution.Outcome, state store.Readable, slot uint64) Snapshot {
	keys := tx.AccountKeys()

	snap := Snapshot{
		Index:        index,
		Transaction:  tx,
		Slot:         slot,
		Outcome:      outcome,
		Accounts:     make(map[account.Identity]account.Account, len(keys)),
		PostBalances: make([]uint64, len(keys)),
	}

	for i, key := range keys {
		acc, found := state.Get(key)
		if !found {
			acc = account.Default()
		}

		snap.Accounts[key] = acc.Clone()
		snap.PostBalances[i] = acc.Lamports
	}

	return snap
}
