// Package main implements the command line of the simulator. It serves the
// sessions over HTTP and provides the commands to use a running server.
//
// The defaults of the flags are read from the TXSIM_* environment variables.
package main

import (
	"fmt"
	"io"
	"os"

	"go.dedis.ch/txsim/cli"
	"go.dedis.ch/txsim/cli/ucli"
	"go.dedis.ch/txsim/internal/config"
)

// Version is the version of the application.
var Version = "v0.1.0"

func main() {
	err := run(os.Args, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	return newApp(cfg, &actions{out: out, stop: newSignal}).Run(args)
}

func newApp(cfg config.Config, a *actions) cli.Application {
	builder := ucli.NewBuilder("txsim", nil)
	builder.SetUsage("execute transactions against a session copy of the ledger")
	builder.SetVersion(Version)
	builder.SetWriter(a.out)

	serve := builder.SetCommand("serve")
	serve.SetDescription("start the HTTP server of the sessions")
	serve.SetFlags(
		cli.StringFlag{
			Name:  "listen",
			Usage: "address of the server",
			Value: cfg.Listen,
		},
		cli.StringFlag{
			Name:  "metrics",
			Usage: "path of the Prometheus handler, empty to disable",
			Value: cfg.MetricsPath,
		},
		cli.StringFlag{
			Name:  "rpc-endpoint",
			Usage: "default JSON-RPC endpoint of the cluster",
			Value: cfg.RPCEndpoint,
		},
		cli.StringFlag{
			Name:  "commitment",
			Usage: "default commitment of the requests to the cluster",
			Value: cfg.Commitment,
		},
		cli.DurationFlag{
			Name:  "rpc-timeout",
			Usage: "time limit of a request to the cluster",
			Value: cfg.RPCTimeout,
		},
		cli.IntFlag{
			Name:  "rpc-retries",
			Usage: "number of retries of a failed request to the cluster",
			Value: int(cfg.RPCRetries),
		},
		cli.StringFlag{
			Name:  "fixture",
			Usage: "path of the database of the recorded accounts",
			Value: cfg.Fixture,
		},
		cli.BoolFlag{
			Name:  "record",
			Usage: "record the fetched accounts into the fixture instead of replaying it",
			Value: cfg.Record,
		},
		cli.BoolFlag{
			Name:  "allow-unrecorded",
			Usage: "replay the accounts missing from the fixture as absent",
			Value: cfg.AllowUnrecorded,
		},
		cli.StringFlag{
			Name:  "genesis",
			Usage: "path of the YAML file of the accounts installed in every session",
			Value: cfg.Genesis,
		},
		cli.IntFlag{
			Name:  "parallelism",
			Usage: "maximum number of concurrent fetches of a transaction",
			Value: cfg.Parallelism,
		},
		cli.DurationFlag{
			Name:  "fetch-timeout",
			Usage: "time limit of the load of an account",
			Value: cfg.FetchTimeout,
		},
		cli.BoolFlag{
			Name:  "tracing",
			Usage: "install a Jaeger tracer configured from the JAEGER_* variables",
			Value: cfg.Tracing,
		},
	)
	serve.SetAction(a.serve)

	serverFlag := cli.StringFlag{
		Name:  "server",
		Usage: "address of the server",
		Value: cfg.Listen,
	}

	execute := builder.SetCommand("execute")
	execute.SetDescription("execute a batch of base64 transactions and print the snapshots")
	execute.SetFlags(
		serverFlag,
		cli.StringFlag{
			Name:  "session",
			Usage: "identifier of the session, a new one is created when empty",
		},
		cli.StringSliceFlag{
			Name:     "tx",
			Usage:    "base64 transaction, in the order of execution",
			Required: true,
		},
		cli.BoolFlag{
			Name:  "stop-on-failure",
			Usage: "stop the batch after the first rejected transaction",
		},
	)
	execute.SetAction(a.execute)

	inspect := builder.SetCommand("inspect")
	inspect.SetDescription("print the state of accounts of a session")
	inspect.SetFlags(
		serverFlag,
		cli.StringFlag{
			Name:     "session",
			Usage:    "identifier of the session",
			Required: true,
		},
		cli.StringSliceFlag{
			Name:     "address",
			Usage:    "address of an account",
			Required: true,
		},
	)
	inspect.SetAction(a.inspect)

	fixture := builder.SetCommand("fixture")
	fixture.SetDescription("manage the recorded accounts")

	export := fixture.SetSubCommand("export")
	export.SetDescription("print the recorded accounts as a genesis file")
	export.SetFlags(
		cli.StringFlag{
			Name:     "path",
			Usage:    "path of the database",
			Required: true,
			Value:    cfg.Fixture,
		},
	)
	export.SetAction(a.exportFixture)

	return builder.Build()
}
