package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/txsim/client"
	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/cluster/fixture"
	"go.dedis.ch/txsim/core/execution/native"
	"go.dedis.ch/txsim/core/store/kv"
	"go.dedis.ch/txsim/core/txn"
	"go.dedis.ch/txsim/internal/config"
	"go.dedis.ch/txsim/server/api"
)

func TestApp_Serve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.db")

	stop := make(chan os.Signal, 1)
	ready := make(chan string, 1)

	serveActions := &actions{
		out:       new(bytes.Buffer),
		stop:      func() <-chan os.Signal { return stop },
		listening: func(addr string) { ready <- addr },
	}

	errs := make(chan error, 1)

	go func() {
		errs <- newApp(makeConfig(t), serveActions).Run([]string{"txsim", "serve",
			"--listen", "127.0.0.1:0", "--fixture", path, "--allow-unrecorded", "--metrics", ""})
	}()

	var addr string

	select {
	case addr = <-ready:
	case err := <-errs:
		t.Fatalf("server failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server is not listening")
	}

	ctx := context.Background()

	sess, err := client.NewClient(addr).CreateSession(ctx, api.CreateSessionRequest{})
	require.NoError(t, err)

	faucet, _ := sess.Faucet()
	hash, _, err := sess.LatestBlockhash(ctx)
	require.NoError(t, err)

	recipient := account.Identity{2}

	tx, err := txn.Build(hash, []txn.Instruction{native.Transfer(faucet.Identity(), recipient, 1_000_000)}, faucet)
	require.NoError(t, err)

	text, err := tx.EncodeBase64()
	require.NoError(t, err)

	out := new(bytes.Buffer)
	err = runCommand(t, out, "execute", "--server", addr, "--session", sess.ID(), "--tx", text)
	require.NoError(t, err)

	var res executeOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.Equal(t, sess.ID(), res.Session)
	require.Len(t, res.Snapshots, 1)
	require.Equal(t, "success", res.Snapshots[0].Status)

	out.Reset()
	err = runCommand(t, out, "inspect", "--server", addr, "--session", sess.ID(),
		"--address", recipient.String(), "--address", account.Identity{9}.String())
	require.NoError(t, err)

	var accounts map[string]*api.Account
	require.NoError(t, json.Unmarshal(out.Bytes(), &accounts))
	require.Len(t, accounts, 2)
	require.Equal(t, uint64(1_000_000), accounts[recipient.String()].Lamports)
	require.Nil(t, accounts[account.Identity{9}.String()])

	// Executing again the same transaction in a new session fails since the
	// blockhash is unknown there.
	out.Reset()
	err = runCommand(t, out, "execute", "--server", addr, "--tx", text)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.NotEqual(t, sess.ID(), res.Session)
	require.Equal(t, "failure", res.Snapshots[0].Status)
	require.Contains(t, res.Snapshots[0].Error, "BlockhashNotFound")

	stop <- os.Interrupt

	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestApp_Serve_Failures(t *testing.T) {
	err := runCommand(t, new(bytes.Buffer), "serve", "--commitment", "strong")
	require.EqualError(t, err, "invalid flag: unknown commitment 'strong'")

	err = runCommand(t, new(bytes.Buffer), "serve", "--rpc-retries", "-1")
	require.EqualError(t, err, "invalid flag: negative retries -1")

	err = runCommand(t, new(bytes.Buffer), "serve", "--record")
	require.EqualError(t, err, "record mode requires a fixture")

	err = runCommand(t, new(bytes.Buffer), "serve", "--genesis", filepath.Join(t.TempDir(), "none.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "couldn't load genesis: ")
}

func TestApp_Execute_InvalidTx(t *testing.T) {
	err := runCommand(t, new(bytes.Buffer), "execute", "--tx", "!!")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid transaction #0: ")

	err = runCommand(t, new(bytes.Buffer), "inspect", "--session", "abc", "--address", "xyz")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid address 'xyz': ")
}

func TestApp_FixtureExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.db")

	db, err := kv.New(path)
	require.NoError(t, err)

	present := account.Identity{1}
	absent := account.Identity{2}

	require.NoError(t, fixture.Put(db, present, &account.Account{Lamports: 42, Owner: account.SystemProgram}))
	require.NoError(t, fixture.Put(db, absent, nil))
	require.NoError(t, db.Close())

	out := new(bytes.Buffer)

	err = runCommand(t, out, "fixture", "export", "--path", path)
	require.NoError(t, err)
	require.Contains(t, out.String(), present.String())
	require.Contains(t, out.String(), "lamports: 42")
	require.NotContains(t, out.String(), absent.String())
}

func TestApp_Version(t *testing.T) {
	out := new(bytes.Buffer)

	err := runCommand(t, out, "--version")
	require.NoError(t, err)
	require.Contains(t, out.String(), Version)
}

// -----------------------------------------------------------------------------
// Utility functions

func makeConfig(t *testing.T) config.Config {
	cfg, err := config.Load()
	require.NoError(t, err)

	return cfg
}

func runCommand(t *testing.T, out *bytes.Buffer, args ...string) error {
	a := &actions{
		out:  out,
		stop: func() <-chan os.Signal { return make(chan os.Signal) },
	}

	return newApp(makeConfig(t), a).Run(append([]string{"txsim"}, args...))
}
