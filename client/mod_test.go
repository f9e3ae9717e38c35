package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/cluster/fixture"
	"go.dedis.ch/txsim/core/execution/native"
	"go.dedis.ch/txsim/core/genesis"
	"go.dedis.ch/txsim/core/store/kv"
	"go.dedis.ch/txsim/core/txn"
	proxyhttp "go.dedis.ch/txsim/proxy/http"
	"go.dedis.ch/txsim/server"
	"go.dedis.ch/txsim/server/api"
)

func TestClient_Scenario(t *testing.T) {
	recipient := account.Identity{2}

	db, err := kv.New(filepath.Join(t.TempDir(), "fixture.db"))
	require.NoError(t, err)

	defer db.Close()

	err = fixture.Put(db, recipient, &account.Account{Lamports: 5_000_000, Owner: account.SystemProgram})
	require.NoError(t, err)

	addr, stop := startServer(t, server.DefaultFactory{Fixture: db, AllowUnrecorded: true})
	defer stop()

	ctx := context.Background()
	client := NewClient(addr, WithLogger(zerolog.Nop()))

	sess, err := client.CreateSession(ctx, api.CreateSessionRequest{})
	require.NoError(t, err)

	faucet, ok := sess.Faucet()
	require.True(t, ok)

	ids, err := client.ListSessions(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{sess.ID()}, ids)

	hash, slot, err := sess.LatestBlockhash(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), slot)

	tx, err := txn.Build(hash, []txn.Instruction{
		native.Transfer(faucet.Identity(), recipient, 1_000_000),
	}, faucet)
	require.NoError(t, err)

	snap, err := sess.ExecuteOne(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, "success", snap.Status)
	require.Equal(t, []uint64{genesis.FaucetLamports, 5_000_000, 0}, snap.PreBalances)
	require.Equal(t, uint64(6_000_000), snap.PostBalances[1])

	acc, err := sess.Account(ctx, recipient)
	require.NoError(t, err)
	require.Equal(t, uint64(6_000_000), acc.Lamports)

	accounts, err := sess.Accounts(ctx, recipient, account.Identity{9})
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	require.Equal(t, uint64(6_000_000), accounts[0].Lamports)
	require.Nil(t, accounts[1])

	next, slot, err := sess.AdvanceBlockhash(ctx, nil)
	require.NoError(t, err)
	require.NotEqual(t, hash, next)
	require.Equal(t, uint64(1), slot)

	given := txn.Hash{3}
	next, _, err = sess.AdvanceBlockhash(ctx, &given)
	require.NoError(t, err)
	require.Equal(t, given, next)

	lamports, err := sess.MinimumBalance(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(890_880), lamports)

	snapshots, err := sess.Snapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)

	err = sess.SetRPCConfig(ctx, "http://127.0.0.1:1", "")
	require.NoError(t, err)

	err = sess.Close(ctx)
	require.NoError(t, err)

	_, _, err = sess.LatestBlockhash(ctx)
	requireCode(t, err, http.StatusNotFound)
}

func TestClient_ExecuteBatch_Aborted(t *testing.T) {
	db, err := kv.New(filepath.Join(t.TempDir(), "fixture.db"))
	require.NoError(t, err)

	defer db.Close()

	// Strict replay: the accounts that were never recorded fail to load.
	addr, stop := startServer(t, server.DefaultFactory{Fixture: db})
	defer stop()

	ctx := context.Background()
	sess, err := NewClient(addr, WithLogger(zerolog.Nop())).CreateSession(ctx, api.CreateSessionRequest{})
	require.NoError(t, err)

	faucet, _ := sess.Faucet()
	hash, _, err := sess.LatestBlockhash(ctx)
	require.NoError(t, err)

	tx, err := txn.Build(hash, []txn.Instruction{
		native.Transfer(faucet.Identity(), account.Identity{4}, 1_000_000),
	}, faucet)
	require.NoError(t, err)

	_, err = sess.ExecuteBatch(ctx, []*txn.Transaction{tx}, false)
	requireCode(t, err, http.StatusBadGateway)

	var srvErr *Error
	require.True(t, errors.As(err, &srvErr))
	require.NotNil(t, srvErr.Index)
	require.Equal(t, 0, *srvErr.Index)
	require.Contains(t, srvErr.Message, "not recorded")
}

func TestClient_Session_Unknown(t *testing.T) {
	addr, stop := startServer(t, server.DefaultFactory{})
	defer stop()

	sess := NewClient("http://"+addr+"/", WithLogger(zerolog.Nop())).Session("unknown")

	_, ok := sess.Faucet()
	require.False(t, ok)

	_, err := sess.MinimumBalance(context.Background(), 0)
	requireCode(t, err, http.StatusNotFound)
	require.EqualError(t, err,
		"couldn't get rent: server responded with 404: session 'unknown' not found")
}

func TestClient_BadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sessions":
			w.Write([]byte("not json"))
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithHTTPClient(srv.Client()), WithLogger(zerolog.Nop()))

	_, err := client.ListSessions(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid response: ")

	err = client.Session("abc").Close(context.Background())
	requireCode(t, err, http.StatusTeapot)
	require.Contains(t, err.Error(), "418 I'm a teapot")
}

// -----------------------------------------------------------------------------
// Utility functions

func startServer(t *testing.T, factory server.Factory) (string, func()) {
	proxy := proxyhttp.NewHTTP("127.0.0.1:0")

	srv := server.NewServer(factory)
	srv.Register(proxy)

	go proxy.Listen()

	for i := 0; i < 100; i++ {
		addr := proxy.GetAddr()
		if addr != nil {
			return addr.String(), proxy.Stop
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("server is not listening")

	return "", nil
}

func requireCode(t *testing.T, err error, code int) {
	var srvErr *Error
	require.True(t, errors.As(err, &srvErr), "unexpected error: %v", err)
	require.Equal(t, code, srvErr.Code)
}
