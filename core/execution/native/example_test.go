package native

import (
	"context"
	"fmt"

	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/execution"
	"go.dedis.ch/txsim/core/txn"
)

func ExampleRuntime_Execute() {
	runtime := NewRuntime()

	payer := txn.NewKeypair()
	recipient := txn.NewKeypair().Identity()

	view := exampleView{
		payer.Identity(): {Lamports: 2_000_000, Owner: account.SystemProgram},
	}

	env := execution.Env{
		Rent:                 execution.DefaultRent(),
		LamportsPerSignature: execution.DefaultLamportsPerSignature,
	}

	for i := 0; i < 2; i++ {
		tx, err := txn.Build(txn.Hash{byte(i)}, []txn.Instruction{
			Transfer(payer.Identity(), recipient, 900_000),
		}, payer)
		if err != nil {
			panic("failed to create transaction: " + err.Error())
		}

		out, err := runtime.Execute(context.Background(), view, tx, env)
		if err != nil {
			panic("failed to execute: " + err.Error())
		}

		if out.Accepted {
			fmt.Println("accepted")

			for id, state := range out.Mutations {
				view[id] = state
			}
		} else {
			fmt.Println(out.Failure.Code)
		}
	}

	fmt.Println(view[recipient].Lamports)

	// Output: accepted
	// InsufficientFundsForRent
	// 900000
}

// exampleView is a simple implementation of a view using an in-memory map.
//
// - implements execution.View
type exampleView map[account.Identity]account.Account

// Get implements execution.View. It returns the account if it exists.
func (v exampleView) Get(id account.Identity) (account.Account, bool) {
	acc, found := v[id]
	return acc, found
}
