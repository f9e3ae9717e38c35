package native

import (
	"unicode/utf8"

	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/txn"
)

// memoProgram logs a text. The current version also requires every account
// passed to the instruction to be a signer.
//
// - implements native.Program
type memoProgram struct {
	requireSigners bool
}

// Name implements native.Program.
func (p memoProgram) Name() string {
	if p.requireSigners {
		return "spl_memo"
	}

	return "spl_memo_v1"
}

// Execute implements native.Program.
func (p memoProgram) Execute(ctx *InvokeContext) error {
	err := ctx.Consume(100 + uint64(len(ctx.Data)))
	if err != nil {
		return err
	}

	if p.requireSigners {
		for _, acc := range ctx.Accounts {
			if !acc.Signer {
				return NewError(MissingRequiredSignature, "%v", acc.ID)
			}

			ctx.Log("Signed by %v", acc.ID)
		}
	}

	if !utf8.Valid(ctx.Data) {
		return NewError(InvalidInstructionData, "invalid UTF-8")
	}

	ctx.Log("Memo (len %d): %q", len(ctx.Data), string(ctx.Data))

	return nil
}

// Memo returns the instruction that logs the memo with the current version of
// the program. The signers are checked by the program.
func Memo(text string, signers ...account.Identity) txn.Instruction {
	metas := make([]txn.AccountMeta, len(signers))
	for i, signer := range signers {
		metas[i] = txn.AccountMeta{ID: signer, Signer: true}
	}

	return txn.Instruction{
		Program:  account.MemoV3,
		Accounts: metas,
		Data:     []byte(text),
	}
}
