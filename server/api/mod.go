// Package api defines the messages exchanged by the HTTP server and its
// clients, and their conversion from and to the domain types.
//
// Addresses, signatures and hashes are encoded in base58, account data and
// transactions in base64.
//
// Documentation Last Review: 12.10.2026
package api

import (
	"encoding/base64"

	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/session"
	"golang.org/x/xerrors"
)

// CreateSessionRequest is the message to create a session. The server
// defaults are used for the empty fields.
type CreateSessionRequest struct {
	RPCEndpoint string `json:"rpc_endpoint,omitempty"`
	Commitment  string `json:"commitment,omitempty"`
}

// CreateSessionResponse is the response to the creation of a session. The
// faucet is the base58 key pair of the funded account of the session.
type CreateSessionResponse struct {
	ID            string `json:"id"`
	Faucet        string `json:"faucet"`
	FaucetAddress string `json:"faucet_address"`
}

// ListSessionsResponse is the list of the identifiers of the sessions.
type ListSessionsResponse struct {
	Sessions []string `json:"sessions"`
}

// RPCConfigRequest is the message to change the cluster of a session.
type RPCConfigRequest struct {
	RPCEndpoint string `json:"rpc_endpoint"`
	Commitment  string `json:"commitment,omitempty"`
}

// BlockhashResponse is the latest blockhash of a session.
type BlockhashResponse struct {
	Blockhash string `json:"blockhash"`
	Slot      uint64 `json:"slot"`
}

// AdvanceBlockhashRequest is the message to move a session to the next slot.
// A new hash is derived when it is empty.
type AdvanceBlockhashRequest struct {
	Hash string `json:"hash,omitempty"`
}

// RentResponse is the minimum balance of an account.
type RentResponse struct {
	Lamports uint64 `json:"lamports"`
}

// Account is the state of an account.
type Account struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Data       string `json:"data"`
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rent_epoch"`
}

// ExecuteRequest is the message to execute a batch of transactions.
type ExecuteRequest struct {
	Transactions  []string `json:"transactions"`
	StopOnFailure bool     `json:"stop_on_failure"`
}

// Snapshot is the state of the accounts after a transaction.
type Snapshot struct {
	Index        int                `json:"index"`
	Signature    string             `json:"signature"`
	Slot         uint64             `json:"slot"`
	Status       string             `json:"status"`
	Error        string             `json:"error,omitempty"`
	Logs         []string           `json:"logs"`
	Fee          uint64             `json:"fee"`
	ComputeUnits uint64             `json:"compute_units"`
	Accounts     map[string]Account `json:"accounts"`
	PreBalances  []uint64           `json:"pre_balances"`
	PostBalances []uint64           `json:"post_balances"`
}

// ExecuteResponse is the result of a batch.
type ExecuteResponse struct {
	Snapshots []Snapshot `json:"snapshots"`
}

// ErrorResponse is the body of a failed request. The snapshots of the
// transactions executed before a batch is aborted are included.
type ErrorResponse struct {
	Error     string     `json:"error"`
	Index     *int       `json:"index,omitempty"`
	Snapshots []Snapshot `json:"snapshots,omitempty"`
}

// NewAccount returns the message of the account.
func NewAccount(acc account.Account) Account {
	return Account{
		Lamports:   acc.Lamports,
		Owner:      acc.Owner.String(),
		Data:       base64.StdEncoding.EncodeToString(acc.Data),
		Executable: acc.Executable,
		RentEpoch:  acc.RentEpoch,
	}
}

// Decode returns the account of the message.
func (a Account) Decode() (account.Account, error) {
	owner, err := account.ParseIdentity(a.Owner)
	if err != nil {
		return account.Account{}, xerrors.Errorf("invalid owner: %v", err)
	}

	data, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		return account.Account{}, xerrors.Errorf("invalid data: %v", err)
	}

	if len(data) == 0 {
		data = nil
	}

	return account.Account{
		Lamports:   a.Lamports,
		Owner:      owner,
		Data:       data,
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
	}, nil
}

// NewSnapshot returns the message of the snapshot.
func NewSnapshot(snap session.Snapshot) Snapshot {
	msg := Snapshot{
		Index:        snap.Index,
		Signature:    snap.Signature().String(),
		Slot:         snap.Slot,
		Status:       snap.Outcome.Status(),
		Logs:         snap.Outcome.Logs,
		Fee:          snap.Outcome.Fee,
		ComputeUnits: snap.Outcome.ComputeUnits,
		Accounts:     make(map[string]Account, len(snap.Accounts)),
		PreBalances:  snap.PreBalances,
		PostBalances: snap.PostBalances,
	}

	if msg.Logs == nil {
		msg.Logs = []string{}
	}

	err := snap.Outcome.Err()
	if err != nil {
		msg.Error = err.Error()
	}

	for id, acc := range snap.Accounts {
		msg.Accounts[id.String()] = NewAccount(acc)
	}

	return msg
}

// NewSnapshots returns the messages of the snapshots.
func NewSnapshots(snapshots []session.Snapshot) []Snapshot {
	msgs := make([]Snapshot, len(snapshots))
	for i, snap := range snapshots {
		msgs[i] = NewSnapshot(snap)
	}

	return msgs
}
