package api

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/execution"
	"go.dedis.ch/txsim/core/session"
	"go.dedis.ch/txsim/core/txn"
)

func TestAccount_Decode(t *testing.T) {
	acc := account.Account{
		Lamports:   42,
		Owner:      account.Identity{1},
		Data:       []byte{1, 2, 3},
		Executable: true,
		RentEpoch:  7,
	}

	msg := NewAccount(acc)
	require.Equal(t, "AQID", msg.Data)

	decoded, err := msg.Decode()
	require.NoError(t, err)
	require.True(t, acc.Equal(decoded))

	decoded, err = NewAccount(account.Default()).Decode()
	require.NoError(t, err)
	require.True(t, decoded.IsDefault())
	require.Nil(t, decoded.Data)

	_, err = Account{Owner: "abc"}.Decode()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid owner: ")

	_, err = Account{Owner: account.SystemProgram.String(), Data: "???"}.Decode()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid data: ")
}

func TestNewSnapshot(t *testing.T) {
	kp := txn.NewKeypair()

	tx, err := txn.Build(txn.Hash{1}, nil, kp)
	require.NoError(t, err)

	snap := session.Snapshot{
		Index:       3,
		Transaction: tx,
		Slot:        12,
		Outcome:     execution.Reject(execution.BlockhashNotFound, execution.NoInstruction, ""),
		Accounts: map[account.Identity]account.Account{
			kp.Identity(): {Lamports: 10, Owner: account.SystemProgram},
		},
		PreBalances:  []uint64{10},
		PostBalances: []uint64{10},
	}

	msg := NewSnapshot(snap)
	require.Equal(t, 3, msg.Index)
	require.Equal(t, tx.ID().String(), msg.Signature)
	require.Equal(t, uint64(12), msg.Slot)
	require.Equal(t, "failure", msg.Status)
	require.Equal(t, "BlockhashNotFound", msg.Error)
	require.Equal(t, []string{}, msg.Logs)
	require.Equal(t, uint64(10), msg.Accounts[kp.Identity().String()].Lamports)

	require.Len(t, NewSnapshots([]session.Snapshot{snap, snap}), 2)
}
