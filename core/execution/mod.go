// Package execution defines the primitives to run a transaction against a view
// of the ledger accounts.
//
// A runtime never writes to the accounts itself. It returns the new state of
// the accounts the transaction has modified and leaves the caller to decide
// whether they are applied.
package execution

import (
	"context"
	"fmt"
	"math"
	"math/bits"

	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/txn"
)

const (
	// DefaultLamportsPerSignature is the fee charged for every signature.
	DefaultLamportsPerSignature = 5000

	// DefaultLamportsPerByteYear is the rent price of a byte of storage.
	DefaultLamportsPerByteYear = 3480

	// DefaultExemptionThreshold is the number of years of rent an account must
	// hold to be exempt.
	DefaultExemptionThreshold = 2

	// AccountStorageOverhead is the number of bytes charged for an account on
	// top of its data.
	AccountStorageOverhead = 128
)

// View is a read-only access to the accounts. A runtime must not keep a
// reference to it after the execution has returned.
type View interface {
	// Get returns the state of the account and true if it is known, otherwise
	// it returns false.
	Get(id account.Identity) (account.Account, bool)
}

// Clock is the time at which a transaction is executed.
type Clock struct {
	Slot          uint64
	Epoch         uint64
	UnixTimestamp int64
}

// Rent are the parameters of the storage cost of the accounts.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  uint64
}

// DefaultRent returns the rent parameters of the main cluster.
func DefaultRent() Rent {
	return Rent{
		LamportsPerByteYear: DefaultLamportsPerByteYear,
		ExemptionThreshold:  DefaultExemptionThreshold,
	}
}

// MinimumBalance returns the number of lamports an account with the given data
// length must hold to be exempt from rent. The result saturates at the maximum
// of uint64 instead of wrapping around. A negative length counts as zero.
func (r Rent) MinimumBalance(dataLen int) uint64 {
	if dataLen < 0 {
		dataLen = 0
	}

	hi, perByte := bits.Mul64(r.LamportsPerByteYear, r.ExemptionThreshold)
	if hi != 0 {
		return math.MaxUint64
	}

	hi, total := bits.Mul64(AccountStorageOverhead+uint64(dataLen), perByte)
	if hi != 0 {
		return math.MaxUint64
	}

	return total
}

// Env is the environment of an execution.
type Env struct {
	Clock Clock
	Rent  Rent

	// LamportsPerSignature is the fee of a signature.
	LamportsPerSignature uint64

	// KnownBlockhash returns true if the blockhash is recent enough to be
	// accepted. The check is skipped when it is nil.
	KnownBlockhash func(txn.Hash) bool

	// Processed returns true if a transaction with the same signature has
	// already been executed. The check is skipped when it is nil.
	Processed func(txn.Signature) bool
}

// FailureCode is the reason a transaction has been rejected.
type FailureCode string

const (
	// SanitizeFailure is returned for malformed transactions.
	SanitizeFailure FailureCode = "SanitizeFailure"
	// AlreadyProcessed is returned for a transaction executed before.
	AlreadyProcessed FailureCode = "AlreadyProcessed"
	// BlockhashNotFound is returned when the blockhash is unknown or too old.
	BlockhashNotFound FailureCode = "BlockhashNotFound"
	// SignatureFailure is returned when a signature does not verify.
	SignatureFailure FailureCode = "SignatureFailure"
	// AccountNotFound is returned when the fee payer does not exist.
	AccountNotFound FailureCode = "AccountNotFound"
	// InvalidAccountForFee is returned when the fee payer cannot be debited.
	InvalidAccountForFee FailureCode = "InvalidAccountForFee"
	// InsufficientFundsForFee is returned when the fee payer cannot pay.
	InsufficientFundsForFee FailureCode = "InsufficientFundsForFee"
	// UnsupportedProgram is returned when a program is unknown to the runtime.
	UnsupportedProgram FailureCode = "UnsupportedProgram"
	// InstructionError is returned when a program fails.
	InstructionError FailureCode = "InstructionError"
	// InsufficientFundsForRent is returned when an account would be left
	// below the rent-exempt minimum.
	InsufficientFundsForRent FailureCode = "InsufficientFundsForRent"
)

// NoInstruction is the instruction index of a failure that is not caused by an
// instruction.
const NoInstruction = -1

// Failure explains why a transaction has been rejected.
//
// - implements error
type Failure struct {
	Code FailureCode

	// Instruction is the index of the failed instruction, or NoInstruction.
	Instruction int

	Message string
}

// Error implements error. It returns a description of the failure.
func (f *Failure) Error() string {
	text := string(f.Code)

	if f.Instruction != NoInstruction {
		text = fmt.Sprintf("%s: instruction %d", text, f.Instruction)
	}

	if f.Message != "" {
		text = fmt.Sprintf("%s: %s", text, f.Message)
	}

	return text
}

// Outcome is the result of an execution.
type Outcome struct {
	// Accepted is the success state of the transaction.
	Accepted bool

	// Failure gives the reason of the rejection of the transaction. It is nil
	// when it is accepted.
	Failure *Failure

	Logs []string

	// Mutations holds the new state of every account the transaction has
	// modified. It is empty when the transaction is rejected.
	Mutations map[account.Identity]account.Account

	Fee          uint64
	ComputeUnits uint64
}

// Reject returns the outcome of a rejected transaction.
func Reject(code FailureCode, instr int, format string, args ...interface{}) Outcome {
	return Outcome{
		Failure: &Failure{
			Code:        code,
			Instruction: instr,
			Message:     fmt.Sprintf(format, args...),
		},
	}
}

// Status returns the textual status of the outcome.
func (o Outcome) Status() string {
	if o.Accepted {
		return "success"
	}

	return "failure"
}

// Err returns the failure as an error, or nil if the transaction is accepted.
func (o Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}

	return o.Failure
}

// Runtime is the transaction processor that the executions are delegated to.
type Runtime interface {
	// Execute runs the transaction against the view and returns the outcome. A
	// rejected transaction is not an error. The error is reserved to the
	// defects of the runtime.
	Execute(ctx context.Context, view View, tx *txn.Transaction, env Env) (Outcome, error)
}
