package server

import (
	"time"

	"go.dedis.ch/txsim/core/cluster"
	"go.dedis.ch/txsim/core/cluster/fixture"
	"go.dedis.ch/txsim/core/cluster/rpc"
	"go.dedis.ch/txsim/core/execution"
	"go.dedis.ch/txsim/core/execution/native"
	"go.dedis.ch/txsim/core/genesis"
	"go.dedis.ch/txsim/core/session"
	"go.dedis.ch/txsim/core/store/kv"
	"golang.org/x/xerrors"
)

// Factory creates the sessions of the server and the sources they load the
// accounts from.
type Factory interface {
	// NewSource returns the source of the cluster. The defaults of the factory
	// are used for the empty parameters.
	NewSource(endpoint, commitment string) (cluster.Source, error)

	// NewSession returns a new session that loads the accounts from the
	// source.
	NewSession(source cluster.Source) (*session.Session, error)
}

// DefaultFactory creates sessions that execute the transactions with the
// native runtime and fetch the accounts from a JSON-RPC node. When a fixture
// database is set, the accounts are either replayed from it or, in record
// mode, captured into it.
//
// - implements server.Factory
type DefaultFactory struct {
	Endpoint   string
	Commitment string
	Timeout    time.Duration
	Retries    uint64

	// Fixture is the database of recorded accounts, or nil.
	Fixture kv.DB
	Record  bool

	// AllowUnrecorded replays the accounts missing from the fixture as
	// accounts that do not exist instead of failing.
	AllowUnrecorded bool

	Genesis      genesis.Accounts
	Parallelism  int
	FetchTimeout time.Duration

	// Runtime creates the runtime of a session. The native runtime is used
	// when it is nil.
	Runtime func() execution.Runtime
}

// NewSource implements server.Factory.
func (f DefaultFactory) NewSource(endpoint, commitment string) (cluster.Source, error) {
	if f.Fixture != nil && !f.Record {
		var opts []fixture.Option
		if f.AllowUnrecorded {
			opts = append(opts, fixture.WithUnrecordedAsMissing())
		}

		return fixture.NewSource(f.Fixture, opts...), nil
	}

	if endpoint == "" {
		endpoint = f.Endpoint
	}

	if endpoint == "" {
		endpoint = rpc.DefaultEndpoint
	}

	if commitment == "" {
		commitment = f.Commitment
	}

	opts := []rpc.Option{rpc.WithRetries(f.Retries)}

	if commitment != "" {
		level, err := rpc.ParseCommitment(commitment)
		if err != nil {
			return nil, xerrors.Errorf("invalid source: %v", err)
		}

		opts = append(opts, rpc.WithCommitment(level))
	}

	if f.Timeout > 0 {
		opts = append(opts, rpc.WithTimeout(f.Timeout))
	}

	var source cluster.Source = rpc.NewClient(endpoint, opts...)

	if f.Fixture != nil {
		source = fixture.NewRecorder(source, f.Fixture)
	}

	return source, nil
}

// NewSession implements server.Factory.
func (f DefaultFactory) NewSession(source cluster.Source) (*session.Session, error) {
	var rt execution.Runtime
	if f.Runtime != nil {
		rt = f.Runtime()
	} else {
		rt = native.NewRuntime()
	}

	opts := []session.Option{
		session.WithRuntime(rt),
		session.WithSource(source),
		session.WithGenesis(f.Genesis),
	}

	if f.Parallelism > 0 {
		opts = append(opts, session.WithParallelism(f.Parallelism))
	}

	if f.FetchTimeout > 0 {
		opts = append(opts, session.WithFetchTimeout(f.FetchTimeout))
	}

	sess, err := session.NewSession(opts...)
	if err != nil {
		return nil, xerrors.Errorf("couldn't create session: %v", err)
	}

	return sess, nil
}
