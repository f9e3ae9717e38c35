package fake

import (
	"context"
	"sync"

	"go.dedis.ch/txsim/core/execution"
	"go.dedis.ch/txsim/core/txn"
)

// Runtime is a fake implementation of an execution runtime that returns the
// outcome of a callback.
//
// - implements execution.Runtime
type Runtime struct {
	sync.Mutex

	// Fn computes the outcome of a transaction. The transaction is accepted
	// without mutations when it is nil.
	Fn func(view execution.View, tx *txn.Transaction) execution.Outcome

	// Err is returned by every execution when it is not nil.
	Err error

	envs []execution.Env
}

// NewRuntime returns a new fake runtime with the callback.
func NewRuntime(fn func(execution.View, *txn.Transaction) execution.Outcome) *Runtime {
	return &Runtime{Fn: fn}
}

// NewBadRuntime returns a fake runtime that always fails.
func NewBadRuntime() *Runtime {
	return &Runtime{Err: fakeErr}
}

// Execute implements execution.Runtime.
func (r *Runtime) Execute(ctx context.Context, view execution.View, tx *txn.Transaction,
	env execution.Env) (execution.Outcome, error) {

	r.Lock()
	r.envs = append(r.envs, env)
	r.Unlock()

	if r.Err != nil {
		return execution.Outcome{}, r.Err
	}

	if r.Fn == nil {
		return execution.Outcome{Accepted: true}, nil
	}

	return r.Fn(view, tx), nil
}

// Calls returns the number of executions.
func (r *Runtime) Calls() int {
	r.Lock()
	defer r.Unlock()

	return len(r.envs)
}

// Envs returns the environment of every execution.
func (r *Runtime) Envs() []execution.Env {
	r.Lock()
	defer r.Unlock()

	return append([]execution.Env{}, r.envs...)
}
