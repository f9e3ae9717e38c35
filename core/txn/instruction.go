package txn

import (
	"sort"

	"go.dedis.ch/txsim/core/account"
	"golang.org/x/xerrors"
)

// AccountMeta describes how an instruction uses an account.
type AccountMeta struct {
	ID       account.Identity
	Signer   bool
	Writable bool
}

// Instruction is a call to a program before it is compiled into a message.
type Instruction struct {
	Program  account.Identity
	Accounts []AccountMeta
	Data     []byte
}

type keyUsage struct {
	id       account.Identity
	signer   bool
	writable bool
	order    int
}

func (k keyUsage) rank() int {
	switch {
	case k.signer && k.writable:
		return 0
	case k.signer:
		return 1
	case k.writable:
		return 2
	default:
		return 3
	}
}

// NewMessage compiles the instructions into a message paid by the payer. The
// accounts are deduplicated, their roles merged, and ordered as the header
// expects with the payer first. Inside a group, the order of first appearance
// is kept.
func NewMessage(payer account.Identity, blockhash Hash, instrs ...Instruction) (Message, error) {
	usages := map[account.Identity]*keyUsage{
		payer: {id: payer, signer: true, writable: true},
	}

	declare := func(id account.Identity, signer, writable bool) {
		usage, found := usages[id]
		if !found {
			usage = &keyUsage{id: id, order: len(usages)}
			usages[id] = usage
		}

		usage.signer = usage.signer || signer
		usage.writable = usage.writable || writable
	}

	for _, instr := range instrs {
		for _, meta := range instr.Accounts {
			declare(meta.ID, meta.Signer, meta.Writable)
		}

		declare(instr.Program, false, false)
	}

	list := make([]*keyUsage, 0, len(usages))
	for _, usage := range usages {
		list = append(list, usage)
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].id == payer {
			return true
		}
		if list[j].id == payer {
			return false
		}

		ri, rj := list[i].rank(), list[j].rank()
		if ri != rj {
			return ri < rj
		}

		return list[i].order < list[j].order
	})

	if len(list) > 256 {
		return Message{}, xerrors.Errorf("too many accounts: %d > 256", len(list))
	}

	msg := Message{
		AccountKeys:     make([]account.Identity, len(list)),
		RecentBlockhash: blockhash,
		Instructions:    make([]CompiledInstruction, len(instrs)),
	}

	index := make(map[account.Identity]uint8, len(list))

	for i, usage := range list {
		msg.AccountKeys[i] = usage.id
		index[usage.id] = uint8(i)

		switch usage.rank() {
		case 0:
			msg.Header.NumRequiredSignatures++
		case 1:
			msg.Header.NumRequiredSignatures++
			msg.Header.NumReadonlySignedAccounts++
		case 3:
			msg.Header.NumReadonlyUnsignedAccounts++
		}
	}

	for i, instr := range instrs {
		compiled := CompiledInstruction{
			ProgramIndex: index[instr.Program],
			Accounts:     make([]uint8, len(instr.Accounts)),
			Data:         append([]byte{}, instr.Data...),
		}

		for j, meta := range instr.Accounts {
			compiled.Accounts[j] = index[meta.ID]
		}

		msg.Instructions[i] = compiled
	}

	return msg, nil
}
