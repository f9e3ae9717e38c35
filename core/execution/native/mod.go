// Package native implements a runtime that executes the programs built in the
// application.
//
// A native program is written in Go and registered by its identity. A
// transaction that calls a program that is not registered is rejected, which
// lets the runtime answer for the system and memo programs without loading
// any on-chain code.
//
// Documentation Last Review: 12.10.2026
package native

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"go.dedis.ch/txsim"
	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/execution"
	"go.dedis.ch/txsim/core/txn"
	"golang.org/x/xerrors"
)

// DefaultComputeBudget is the number of compute units an instruction can
// consume.
const DefaultComputeBudget = 200_000

// Program is the interface to implement to register a program that will be
// executed natively.
type Program interface {
	// Name returns the name stored in the program account.
	Name() string

	Execute(ctx *InvokeContext) error
}

// Runtime is a transaction processor for packaged programs.
//
// - implements execution.Runtime
type Runtime struct {
	programs map[account.Identity]Program
	budget   uint64
	logger   zerolog.Logger
}

// RuntimeOption is the type of option to set some fields of a runtime.
type RuntimeOption func(*Runtime)

// WithComputeBudget sets the compute budget of every instruction.
func WithComputeBudget(units uint64) RuntimeOption {
	return func(r *Runtime) {
		r.budget = units
	}
}

// WithoutBuiltins creates a runtime with no program registered.
func WithoutBuiltins() RuntimeOption {
	return func(r *Runtime) {
		r.programs = map[account.Identity]Program{}
	}
}

// NewRuntime returns a new native runtime with the system and memo programs
// registered.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		programs: map[account.Identity]Program{
			account.SystemProgram: systemProgram{},
			account.MemoV1:        memoProgram{requireSigners: false},
			account.MemoV3:        memoProgram{requireSigners: true},
		},
		budget: DefaultComputeBudget,
		logger: txsim.Logger.With().Str("component", "runtime").Logger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Set registers the program with the identity. It panics if the identity is
// already taken.
func (r *Runtime) Set(id account.Identity, program Program) {
	_, found := r.programs[id]
	if found {
		panic(xerrors.Errorf("program '%v' already registered", id))
	}

	r.programs[id] = program
}

// Genesis returns the accounts the runtime expects to find on the ledger: one
// executable account per registered program and the rent sysvar.
func (r *Runtime) Genesis(rent execution.Rent) map[account.Identity]account.Account {
	accounts := make(map[account.Identity]account.Account, len(r.programs)+1)

	for id, program := range r.programs {
		if id == account.SystemProgram {
			// The system program stays the owner of the default accounts and is
			// never loaded as an account itself.
			continue
		}

		data := []byte(program.Name())

		accounts[id] = account.Account{
			Lamports:   rent.MinimumBalance(len(data)),
			Owner:      account.NativeLoader,
			Data:       data,
			Executable: true,
		}
	}

	accounts[account.SysvarRent] = account.Account{
		Lamports: 1,
		Owner:    account.SysvarProgram,
		Data:     encodeRent(rent),
	}

	return accounts
}

// Execute implements execution.Runtime. It verifies the transaction, charges
// the fee, runs every instruction and returns the accounts that changed. The
// transaction is executed all or nothing.
func (r *Runtime) Execute(ctx context.Context, view execution.View,
	tx *txn.Transaction, env execution.Env) (execution.Outcome, error) {

	err := tx.Sanitize()
	if err != nil {
		return execution.Reject(execution.SanitizeFailure, execution.NoInstruction, "%v", err), nil
	}

	if env.Processed != nil && env.Processed(tx.ID()) {
		return execution.Reject(execution.AlreadyProcessed, execution.NoInstruction, ""), nil
	}

	msg := tx.Message()

	if env.KnownBlockhash != nil && !env.KnownBlockhash(msg.RecentBlockhash) {
		return execution.Reject(execution.BlockhashNotFound, execution.NoInstruction,
			"%v", msg.RecentBlockhash), nil
	}

	err = tx.Verify()
	if err != nil {
		return execution.Reject(execution.SignatureFailure, execution.NoInstruction, "%v", err), nil
	}

	pre := make([]account.Account, len(msg.AccountKeys))
	post := make([]account.Account, len(msg.AccountKeys))

	for i, key := range msg.AccountKeys {
		acc, found := view.Get(key)
		if !found {
			acc = account.Default()
		}

		pre[i] = acc
		post[i] = acc.Clone()
	}

	fee := env.LamportsPerSignature * uint64(len(tx.Signatures()))

	payer := &post[0]

	switch {
	case payer.Lamports == 0:
		return execution.Reject(execution.AccountNotFound, execution.NoInstruction,
			"fee payer %v", msg.AccountKeys[0]), nil
	case payer.Owner != account.SystemProgram || payer.Executable:
		return execution.Reject(execution.InvalidAccountForFee, execution.NoInstruction,
			"fee payer %v is owned by %v", msg.AccountKeys[0], payer.Owner), nil
	case payer.Lamports < fee:
		return execution.Reject(execution.InsufficientFundsForFee, execution.NoInstruction,
			"%d < %d", payer.Lamports, fee), nil
	}

	payer.Lamports -= fee

	logs := []string{}
	units := uint64(0)

	for i, ix := range msg.Instructions {
		err = ctx.Err()
		if err != nil {
			return execution.Outcome{}, xerrors.Errorf("interrupted: %v", err)
		}

		programID := msg.AccountKeys[ix.ProgramIndex]

		program := r.programs[programID]
		if program == nil {
			return execution.Outcome{
				Failure: &execution.Failure{
					Code:        execution.UnsupportedProgram,
					Instruction: i,
					Message:     programID.String(),
				},
				Logs:         logs,
				ComputeUnits: units,
			}, nil
		}

		consumed, err := r.invoke(tx, ix, program, programID, post, env, &logs)
		units += consumed

		if err != nil {
			r.logger.Debug().
				Str("tx", tx.ID().String()).
				Int("instruction", i).
				Err(err).
				Msg("instruction failed")

			return execution.Outcome{
				Failure: &execution.Failure{
					Code:        execution.InstructionError,
					Instruction: i,
					Message:     err.Error(),
				},
				Logs:         logs,
				ComputeUnits: units,
			}, nil
		}
	}

	for i := range post {
		if !msg.IsWritable(i) {
			continue
		}

		err = checkRent(env.Rent, pre[i], post[i])
		if err != nil {
			return execution.Outcome{
				Failure: &execution.Failure{
					Code:        execution.InsufficientFundsForRent,
					Instruction: execution.NoInstruction,
					Message:     fmt.Sprintf("account %v: %v", msg.AccountKeys[i], err),
				},
				Logs:         logs,
				ComputeUnits: units,
			}, nil
		}
	}

	mutations := make(map[account.Identity]account.Account)

	for i, key := range msg.AccountKeys {
		if !msg.IsWritable(i) {
			continue
		}

		if i != 0 && pre[i].Equal(post[i]) {
			continue
		}

		state := post[i]
		if state.Lamports == 0 {
			// An account without lamports is garbage collected at the end of
			// the transaction.
			state = account.Default()
		}

		mutations[key] = state
	}

	return execution.Outcome{
		Accepted:     true,
		Logs:         logs,
		Mutations:    mutations,
		Fee:          fee,
		ComputeUnits: units,
	}, nil
}

// invoke runs a single instruction on the working set of accounts and verifies
// that the program has respected the rules of ownership. The working set is
// restored when the instruction fails so that nothing leaks from it.
func (r *Runtime) invoke(tx *txn.Transaction, ix txn.CompiledInstruction, program Program,
	programID account.Identity, accounts []account.Account, env execution.Env,
	logs *[]string) (uint64, error) {

	*logs = append(*logs, fmt.Sprintf("Program %v invoke [1]", programID))

	touched := uniqueIndexes(ix.Accounts)

	before := make(map[int]account.Account, len(touched))
	for _, index := range touched {
		before[index] = accounts[index].Clone()
	}

	ictx := &InvokeContext{
		Program:   programID,
		Accounts:  make([]*AccountRef, len(ix.Accounts)),
		Data:      ix.Data,
		Env:       env,
		logs:      logs,
		remaining: r.budget,
	}

	for i, index := range ix.Accounts {
		ictx.Accounts[i] = &AccountRef{
			ID:       tx.Message().AccountKeys[index],
			Signer:   tx.IsSigner(int(index)),
			Writable: tx.IsWritable(int(index)),
			State:    &accounts[index],
			index:    int(index),
		}
	}

	err := program.Execute(ictx)
	if err == nil {
		err = verifyInstruction(tx, programID, touched, before, accounts)
	}

	if err != nil {
		for index, state := range before {
			accounts[index] = state
		}

		*logs = append(*logs, fmt.Sprintf("Program %v failed: %v", programID, err))

		return ictx.consumed, err
	}

	*logs = append(*logs,
		fmt.Sprintf("Program %v consumed %d of %d compute units", programID, ictx.consumed, r.budget),
		fmt.Sprintf("Program %v success", programID))

	return ictx.consumed, nil
}

func verifyInstruction(tx *txn.Transaction, programID account.Identity, touched []int,
	before map[int]account.Account, accounts []account.Account) error {

	sumBefore := uint64(0)
	sumAfter := uint64(0)

	for _, index := range touched {
		pre := before[index]
		post := accounts[index]

		sumBefore += pre.Lamports
		sumAfter += post.Lamports

		if pre.Equal(post) {
			continue
		}

		id := tx.Message().AccountKeys[index]

		if !tx.IsWritable(index) {
			return NewError(ReadonlyAccountModified, "%v", id)
		}

		if pre.Executable != post.Executable {
			return NewError(ExecutableModified, "%v", id)
		}

		if pre.Owner != post.Owner && pre.Owner != programID {
			return NewError(ModifiedProgramID, "%v", id)
		}

		if post.Lamports < pre.Lamports && pre.Owner != programID {
			return NewError(ExternalAccountLamportSpend, "%v", id)
		}

		if !bytes.Equal(pre.Data, post.Data) && pre.Owner != programID {
			return NewError(ExternalAccountDataModified, "%v", id)
		}
	}

	if sumBefore != sumAfter {
		return NewError(UnbalancedInstruction, "%d != %d", sumBefore, sumAfter)
	}

	return nil
}

// checkRent verifies that the account either has no lamports or is exempt
// from rent. An account that was already paying rent may stay so as long as it
// does not grow and does not gain lamports.
func checkRent(rent execution.Rent, pre, post account.Account) error {
	if post.Lamports == 0 {
		return nil
	}

	minimum := rent.MinimumBalance(len(post.Data))
	if post.Lamports >= minimum {
		return nil
	}

	wasPaying := pre.Lamports > 0 && pre.Lamports < rent.MinimumBalance(len(pre.Data))
	if wasPaying && len(post.Data) == len(pre.Data) && post.Lamports <= pre.Lamports {
		return nil
	}

	return xerrors.Errorf("balance %d is below the rent-exempt minimum %d", post.Lamports, minimum)
}

func uniqueIndexes(indexes []uint8) []int {
	seen := make(map[int]struct{}, len(indexes))
	unique := make([]int, 0, len(indexes))

	for _, index := range indexes {
		_, found := seen[int(index)]
		if found {
			continue
		}

		seen[int(index)] = struct{}{}
		unique = append(unique, int(index))
	}

	sort.Ints(unique)

	return unique
}
