package native

import (
	"encoding/binary"
	"math"

	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/execution"
	"go.dedis.ch/txsim/core/txn"
)

// Instruction tags of the system program.
const (
	SystemCreateAccount uint32 = 0
	SystemAssign        uint32 = 1
	SystemTransfer      uint32 = 2
	SystemAllocate      uint32 = 8
)

const systemCost = 150

// rentBurnPercent is the share of the collected rent that is burnt.
const rentBurnPercent = 50

// systemProgram creates accounts, assigns them to programs and moves lamports
// between them.
//
// - implements native.Program
type systemProgram struct{}

// Name implements native.Program.
func (systemProgram) Name() string {
	return "system_program"
}

// Execute implements native.Program. It decodes the instruction tag and runs
// the matching instruction.
func (p systemProgram) Execute(ctx *InvokeContext) error {
	err := ctx.Consume(systemCost)
	if err != nil {
		return err
	}

	data := ctx.Data
	if len(data) < 4 {
		return NewError(InvalidInstructionData, "missing instruction tag")
	}

	tag := binary.LittleEndian.Uint32(data)
	args := data[4:]

	switch tag {
	case SystemCreateAccount:
		if len(args) != 8+8+account.IdentitySize {
			return NewError(InvalidInstructionData, "create account: %d bytes", len(args))
		}

		var owner account.Identity
		copy(owner[:], args[16:])

		return p.createAccount(ctx,
			binary.LittleEndian.Uint64(args),
			binary.LittleEndian.Uint64(args[8:]),
			owner)
	case SystemAssign:
		if len(args) != account.IdentitySize {
			return NewError(InvalidInstructionData, "assign: %d bytes", len(args))
		}

		var owner account.Identity
		copy(owner[:], args)

		return p.assign(ctx, owner)
	case SystemTransfer:
		if len(args) != 8 {
			return NewError(InvalidInstructionData, "transfer: %d bytes", len(args))
		}

		return p.transfer(ctx, binary.LittleEndian.Uint64(args))
	case SystemAllocate:
		if len(args) != 8 {
			return NewError(InvalidInstructionData, "allocate: %d bytes", len(args))
		}

		return p.allocate(ctx, binary.LittleEndian.Uint64(args))
	default:
		return NewError(InvalidInstructionData, "unsupported system instruction %d", tag)
	}
}

func (p systemProgram) createAccount(ctx *InvokeContext, lamports, space uint64,
	owner account.Identity) error {

	from, err := ctx.Account(0)
	if err != nil {
		return err
	}

	to, err := ctx.Account(1)
	if err != nil {
		return err
	}

	if !to.State.IsDefault() {
		return NewError(AccountAlreadyInUse, "%v", to.ID)
	}

	err = p.allocateAndAssign(to, space, owner)
	if err != nil {
		return err
	}

	return p.move(from, to, lamports)
}

func (p systemProgram) assign(ctx *InvokeContext, owner account.Identity) error {
	acc, err := ctx.Account(0)
	if err != nil {
		return err
	}

	if acc.State.Owner == owner {
		return nil
	}

	if !acc.Signer {
		return NewError(MissingRequiredSignature, "assign %v", acc.ID)
	}

	acc.State.Owner = owner

	return nil
}

func (p systemProgram) transfer(ctx *InvokeContext, lamports uint64) error {
	from, err := ctx.Account(0)
	if err != nil {
		return err
	}

	to, err := ctx.Account(1)
	if err != nil {
		return err
	}

	return p.move(from, to, lamports)
}

func (p systemProgram) allocate(ctx *InvokeContext, space uint64) error {
	acc, err := ctx.Account(0)
	if err != nil {
		return err
	}

	if len(acc.State.Data) > 0 || acc.State.Owner != account.SystemProgram {
		return NewError(AccountAlreadyInUse, "%v", acc.ID)
	}

	return p.allocateAndAssign(acc, space, account.SystemProgram)
}

func (systemProgram) allocateAndAssign(acc *AccountRef, space uint64, owner account.Identity) error {
	if !acc.Signer {
		return NewError(MissingRequiredSignature, "allocate %v", acc.ID)
	}

	if space > MaxPermittedDataLength {
		return NewError(InvalidRealloc, "%d > %d", space, MaxPermittedDataLength)
	}

	acc.State.Data = make([]byte, space)
	acc.State.Owner = owner

	return nil
}

func (systemProgram) move(from, to *AccountRef, lamports uint64) error {
	if !from.Signer {
		return NewError(MissingRequiredSignature, "transfer from %v", from.ID)
	}

	if len(from.State.Data) > 0 {
		return NewError(InvalidAccountData, "transfer from %v which carries data", from.ID)
	}

	if from.State.Lamports < lamports {
		return NewError(InsufficientFunds, "%d < %d", from.State.Lamports, lamports)
	}

	if to.State.Lamports > math.MaxUint64-lamports {
		return NewError(ArithmeticOverflow, "%v", to.ID)
	}

	from.State.Lamports -= lamports
	to.State.Lamports += lamports

	return nil
}

// Transfer returns the instruction that moves lamports from one account to
// another.
func Transfer(from, to account.Identity, lamports uint64) txn.Instruction {
	data := systemData(SystemTransfer, 8)
	binary.LittleEndian.PutUint64(data[4:], lamports)

	return txn.Instruction{
		Program: account.SystemProgram,
		Accounts: []txn.AccountMeta{
			{ID: from, Signer: true, Writable: true},
			{ID: to, Writable: true},
		},
		Data: data,
	}
}

// CreateAccount returns the instruction that funds a new account, allocates
// its data and assigns it to the owner.
func CreateAccount(from, to account.Identity, lamports, space uint64,
	owner account.Identity) txn.Instruction {

	data := systemData(SystemCreateAccount, 8+8+account.IdentitySize)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	binary.LittleEndian.PutUint64(data[12:], space)
	copy(data[20:], owner[:])

	return txn.Instruction{
		Program: account.SystemProgram,
		Accounts: []txn.AccountMeta{
			{ID: from, Signer: true, Writable: true},
			{ID: to, Signer: true, Writable: true},
		},
		Data: data,
	}
}

// Assign returns the instruction that gives the account to another owner.
func Assign(id, owner account.Identity) txn.Instruction {
	data := systemData(SystemAssign, account.IdentitySize)
	copy(data[4:], owner[:])

	return txn.Instruction{
		Program:  account.SystemProgram,
		Accounts: []txn.AccountMeta{{ID: id, Signer: true, Writable: true}},
		Data:     data,
	}
}

// Allocate returns the instruction that allocates the data of an account.
func Allocate(id account.Identity, space uint64) txn.Instruction {
	data := systemData(SystemAllocate, 8)
	binary.LittleEndian.PutUint64(data[4:], space)

	return txn.Instruction{
		Program:  account.SystemProgram,
		Accounts: []txn.AccountMeta{{ID: id, Signer: true, Writable: true}},
		Data:     data,
	}
}

func systemData(tag uint32, size int) []byte {
	data := make([]byte, 4+size)
	binary.LittleEndian.PutUint32(data, tag)

	return data
}

// encodeRent returns the content of the rent sysvar.
func encodeRent(rent execution.Rent) []byte {
	data := make([]byte, 8+8+1)
	binary.LittleEndian.PutUint64(data, rent.LamportsPerByteYear)
	binary.LittleEndian.PutUint64(data[8:], math.Float64bits(float64(rent.ExemptionThreshold)))
	data[16] = rentBurnPercent

	return data
}
