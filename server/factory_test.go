package server

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/cluster/fixture"
	"go.dedis.ch/txsim/core/cluster/rpc"
	"go.dedis.ch/txsim/core/execution"
	"go.dedis.ch/txsim/core/genesis"
	"go.dedis.ch/txsim/core/store/kv"
	"go.dedis.ch/txsim/testing/fake"
)

func TestDefaultFactory_NewSource(t *testing.T) {
	factory := DefaultFactory{Endpoint: "http://node", Commitment: "confirmed"}

	source, err := factory.NewSource("", "")
	require.NoError(t, err)

	client, ok := source.(*rpc.Client)
	require.True(t, ok)
	require.Equal(t, "http://node", client.Endpoint())
	require.Equal(t, rpc.CommitmentConfirmed, client.Commitment())

	source, err = factory.NewSource("http://other", "finalized")
	require.NoError(t, err)
	require.Equal(t, "http://other", source.(*rpc.Client).Endpoint())
	require.Equal(t, rpc.CommitmentFinalized, source.(*rpc.Client).Commitment())

	source, err = DefaultFactory{}.NewSource("", "")
	require.NoError(t, err)
	require.Equal(t, rpc.DefaultEndpoint, source.(*rpc.Client).Endpoint())

	_, err = factory.NewSource("", "strong")
	require.EqualError(t, err, "invalid source: unknown commitment 'strong'")
}

func TestDefaultFactory_NewSource_Fixture(t *testing.T) {
	db, err := kv.New(filepath.Join(t.TempDir(), "fixture.db"))
	require.NoError(t, err)

	defer db.Close()

	factory := DefaultFactory{Fixture: db}

	source, err := factory.NewSource("http://ignored", "")
	require.NoError(t, err)
	require.IsType(t, &fixture.Source{}, source)

	factory.Record = true

	source, err = factory.NewSource("", "")
	require.NoError(t, err)
	require.IsType(t, &fixture.Recorder{}, source)
}

func TestDefaultFactory_NewSession(t *testing.T) {
	rt := fake.NewRuntime(nil)

	factory := DefaultFactory{
		Genesis: genesis.Accounts{
			account.Identity{5}: {Lamports: 12, Owner: account.SystemProgram},
		},
		Parallelism:  2,
		FetchTimeout: 1,
		Runtime: func() execution.Runtime {
			return rt
		},
	}

	sess, err := factory.NewSession(fake.NewSource(nil))
	require.NoError(t, err)

	acc, found := sess.Inspect(account.Identity{5})
	require.True(t, found)
	require.Equal(t, uint64(12), acc.Lamports)

	acc, found = sess.Inspect(sess.Faucet().Identity())
	require.True(t, found)
	require.Equal(t, genesis.FaucetLamports, acc.Lamports)

	_, err = factory.NewSession(nil)
	require.EqualError(t, err, "couldn't create session: missing cluster source")
}
