// Package cluster defines the primitives to read the accounts of a remote
// cluster.
//
// Documentation Last Review: 12.10.2026
package cluster

import (
	"context"

	"go.dedis.ch/txsim/core/account"
	"golang.org/x/xerrors"
)

// ErrTimeout is wrapped by the errors of the requests that did not complete
// in time.
var ErrTimeout = xerrors.New("request timed out")

// Source is the interface of a provider of the state of the accounts.
type Source interface {
	// FetchAccount returns the state of the account. It returns nil and no
	// error when the account does not exist.
	FetchAccount(ctx context.Context, id account.Identity) (*account.Account, error)
}

// TimeoutError is the error of a request that exceeded its deadline.
//
// - implements error
type TimeoutError struct {
	Err error
}

// Error implements error.
func (e TimeoutError) Error() string {
	return ErrTimeout.Error() + ": " + e.Err.Error()
}

// Is returns true for ErrTimeout so that callers can match the timeouts with
// errors.Is.
func (e TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Unwrap returns the cause of the timeout.
func (e TimeoutError) Unwrap() error {
	return e.Err
}
