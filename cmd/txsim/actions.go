package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.dedis.ch/txsim"
	"go.dedis.ch/txsim/cli"
	"go.dedis.ch/txsim/client"
	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/cluster/fixture"
	"go.dedis.ch/txsim/core/cluster/rpc"
	"go.dedis.ch/txsim/core/execution"
	"go.dedis.ch/txsim/core/genesis"
	"go.dedis.ch/txsim/core/store/kv"
	"go.dedis.ch/txsim/core/txn"
	"go.dedis.ch/txsim/internal/tracing"
	proxyhttp "go.dedis.ch/txsim/proxy/http"
	"go.dedis.ch/txsim/server"
	"go.dedis.ch/txsim/server/api"
	"golang.org/x/xerrors"
)

const serviceName = "txsim"

type actions struct {
	out io.Writer

	// stop returns the channel that requests the server to stop.
	stop func() <-chan os.Signal

	// listening is notified with the address of the server once it is ready.
	listening func(addr string)
}

func newSignal() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	return ch
}

func (a *actions) serve(flags cli.Flags) error {
	commitment, err := rpc.ParseCommitment(flags.String("commitment"))
	if err != nil {
		return xerrors.Errorf("invalid flag: %v", err)
	}

	retries := flags.Int("rpc-retries")
	if retries < 0 {
		return xerrors.Errorf("invalid flag: negative retries %d", retries)
	}

	factory := server.DefaultFactory{
		Endpoint:        flags.String("rpc-endpoint"),
		Commitment:      commitment,
		Timeout:         flags.Duration("rpc-timeout"),
		Retries:         uint64(retries),
		Record:          flags.Bool("record"),
		AllowUnrecorded: flags.Bool("allow-unrecorded"),
		Parallelism:     flags.Int("parallelism"),
		FetchTimeout:    flags.Duration("fetch-timeout"),
	}

	path := flags.String("genesis")
	if path != "" {
		factory.Genesis, err = genesis.Load(path, execution.DefaultRent())
		if err != nil {
			return xerrors.Errorf("couldn't load genesis: %v", err)
		}
	}

	path = flags.String("fixture")
	if path != "" {
		db, err := kv.New(path)
		if err != nil {
			return xerrors.Errorf("couldn't open fixture: %v", err)
		}

		defer db.Close()

		factory.Fixture = db
	} else if factory.Record {
		return xerrors.New("record mode requires a fixture")
	}

	if flags.Bool("tracing") {
		err = tracing.Install(serviceName)
		if err != nil {
			return err
		}

		defer tracing.CloseAll()
	}

	proxy := proxyhttp.NewHTTP(flags.String("listen"))

	server.NewServer(factory).Register(proxy)

	metrics := flags.String("metrics")
	if metrics != "" {
		proxyhttp.RegisterMetrics(proxy, metrics, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	}

	stop := a.stop()
	done := make(chan struct{})

	go func() {
		proxy.Listen()
		close(done)
	}()

	if a.listening != nil {
		go a.notify(proxy, done)
	}

	select {
	case <-stop:
		txsim.Logger.Info().Msg("stopping the server")
		proxy.Stop()
		<-done
	case <-done:
	}

	return nil
}

func (a *actions) notify(proxy *proxyhttp.HTTP, done <-chan struct{}) {
	for {
		addr := proxy.GetAddr()
		if addr != nil {
			a.listening(addr.String())
			return
		}

		select {
		case <-done:
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

type executeOutput struct {
	Session   string         `json:"session"`
	Snapshots []api.Snapshot `json:"snapshots"`
	Error     string         `json:"error,omitempty"`
}

func (a *actions) execute(flags cli.Flags) error {
	ctx := context.Background()
	c := client.NewClient(flags.String("server"))

	raw := flags.StringSlice("tx")
	txs := make([]*txn.Transaction, len(raw))

	for i, text := range raw {
		tx, err := txn.DecodeBase64(text)
		if err != nil {
			return xerrors.Errorf("invalid transaction #%d: %v", i, err)
		}

		txs[i] = tx
	}

	var sess *client.Session

	id := flags.String("session")
	if id != "" {
		sess = c.Session(id)
	} else {
		var err error

		sess, err = c.CreateSession(ctx, api.CreateSessionRequest{})
		if err != nil {
			return err
		}
	}

	output := executeOutput{Session: sess.ID()}

	snapshots, err := sess.ExecuteBatch(ctx, txs, flags.Bool("stop-on-failure"))
	if err != nil {
		var srvErr *client.Error
		if !errors.As(err, &srvErr) {
			return err
		}

		output.Snapshots = srvErr.Snapshots
		output.Error = srvErr.Message

		printErr := a.print(output)
		if printErr != nil {
			return printErr
		}

		return err
	}

	output.Snapshots = snapshots

	return a.print(output)
}

func (a *actions) inspect(flags cli.Flags) error {
	addresses := flags.StringSlice("address")
	ids := make([]account.Identity, len(addresses))

	for i, addr := range addresses {
		id, err := account.ParseIdentity(addr)
		if err != nil {
			return xerrors.Errorf("invalid address '%s': %v", addr, err)
		}

		ids[i] = id
	}

	sess := client.NewClient(flags.String("server")).Session(flags.String("session"))

	accounts, err := sess.Accounts(context.Background(), ids...)
	if err != nil {
		return err
	}

	output := make(map[string]*api.Account, len(ids))

	for i, acc := range accounts {
		if acc == nil {
			output[addresses[i]] = nil
			continue
		}

		msg := api.NewAccount(*acc)
		output[addresses[i]] = &msg
	}

	return a.print(output)
}

func (a *actions) exportFixture(flags cli.Flags) error {
	db, err := kv.NewReadOnly(flags.String("path"))
	if err != nil {
		return xerrors.Errorf("couldn't open fixture: %v", err)
	}

	defer db.Close()

	entries, err := fixture.List(db)
	if err != nil {
		return err
	}

	accounts := make(genesis.Accounts, len(entries))

	for _, entry := range entries {
		// Absent accounts are absent from a genesis too.
		if entry.Account != nil {
			accounts[entry.ID] = *entry.Account
		}
	}

	data, err := genesis.Encode(accounts)
	if err != nil {
		return err
	}

	_, err = a.out.Write(data)
	if err != nil {
		return xerrors.Errorf("couldn't write: %v", err)
	}

	return nil
}

func (a *actions) print(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")

	err := enc.Encode(v)
	if err != nil {
		return xerrors.Errorf("couldn't print: %v", err)
	}

	return nil
}
