package native

import (
	"fmt"

	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/execution"
)

// Reasons of the instruction errors returned by the built-in programs.
const (
	InvalidInstructionData   = "InvalidInstructionData"
	NotEnoughAccountKeys     = "NotEnoughAccountKeys"
	MissingRequiredSignature = "MissingRequiredSignature"
	InsufficientFunds        = "InsufficientFunds"
	AccountAlreadyInUse      = "AccountAlreadyInUse"
	InvalidAccountData       = "InvalidAccountData"
	InvalidRealloc           = "InvalidRealloc"
	ArithmeticOverflow       = "ArithmeticOverflow"
	ComputeBudgetExceeded    = "ComputationalBudgetExceeded"

	ReadonlyAccountModified     = "ReadonlyAccountModified"
	ModifiedProgramID           = "ModifiedProgramId"
	ExternalAccountLamportSpend = "ExternalAccountLamportSpend"
	ExternalAccountDataModified = "ExternalAccountDataModified"
	ExecutableModified          = "ExecutableModified"
	UnbalancedInstruction       = "UnbalancedInstruction"
)

// MaxPermittedDataLength is the maximum size of the data of an account.
const MaxPermittedDataLength = 10 * 1024 * 1024

// InstructionError is the error of a program.
//
// - implements error
type InstructionError struct {
	Reason string
	Detail string
}

// NewError returns an instruction error with the reason and an optional
// formatted detail.
func NewError(reason string, format string, args ...interface{}) *InstructionError {
	return &InstructionError{
		Reason: reason,
		Detail: fmt.Sprintf(format, args...),
	}
}

// Error implements error. It returns the reason followed by the detail.
func (e *InstructionError) Error() string {
	if e.Detail == "" {
		return e.Reason
	}

	return e.Reason + ": " + e.Detail
}

// AccountRef is an account passed to an instruction. A program updates the
// state in place and the runtime verifies afterwards that the rules of
// ownership have been respected.
type AccountRef struct {
	ID       account.Identity
	Signer   bool
	Writable bool
	State    *account.Account

	// index is the position of the account in the transaction.
	index int
}

// InvokeContext is the context of a single instruction.
type InvokeContext struct {
	Program  account.Identity
	Accounts []*AccountRef
	Data     []byte
	Env      execution.Env

	logs      *[]string
	remaining uint64
	consumed  uint64
}

// Log appends a program log.
func (ctx *InvokeContext) Log(format string, args ...interface{}) {
	*ctx.logs = append(*ctx.logs, "Program log: "+fmt.Sprintf(format, args...))
}

// Consume charges the compute units to the instruction. It returns an error
// when the budget is exhausted.
func (ctx *InvokeContext) Consume(units uint64) error {
	if units > ctx.remaining {
		ctx.consumed += ctx.remaining
		ctx.remaining = 0

		return NewError(ComputeBudgetExceeded, "")
	}

	ctx.remaining -= units
	ctx.consumed += units

	return nil
}

// Account returns the account at the index of the instruction.
func (ctx *InvokeContext) Account(index int) (*AccountRef, error) {
	if index >= len(ctx.Accounts) {
		return nil, NewError(NotEnoughAccountKeys, "expected at least %d accounts", index+1)
	}

	return ctx.Accounts[index], nil
}
