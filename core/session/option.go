package session

import (
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/rs/zerolog"
	"go.dedis.ch/txsim"
	"go.dedis.ch/txsim/core/cluster"
	"go.dedis.ch/txsim/core/execution"
	"go.dedis.ch/txsim/core/genesis"
	"go.dedis.ch/txsim/core/store/loader"
	"go.dedis.ch/txsim/core/txn"
)

type settings struct {
	runtime              execution.Runtime
	source               cluster.Source
	genesis              genesis.Accounts
	parallelism          int
	fetchTimeout         time.Duration
	clock                execution.Clock
	rent                 execution.Rent
	lamportsPerSignature uint64
	faucet               txn.Keypair
	seed                 *txn.Hash
	tracer               opentracing.Tracer
	logger               zerolog.Logger
}

func newSettings() settings {
	return settings{
		parallelism:          loader.DefaultParallelism,
		fetchTimeout:         loader.DefaultTimeout,
		clock:                execution.Clock{UnixTimestamp: time.Now().Unix()},
		rent:                 execution.DefaultRent(),
		lamportsPerSignature: execution.DefaultLamportsPerSignature,
		faucet:               txn.NewKeypair(),
		tracer:               opentracing.GlobalTracer(),
		logger:               txsim.Logger.With().Str("component", "session").Logger(),
	}
}

// Option is the type of option to set some fields of a session.
type Option func(*settings)

// WithRuntime sets the runtime the transactions are executed with.
func WithRuntime(rt execution.Runtime) Option {
	return func(s *settings) {
		s.runtime = rt
	}
}

// WithSource sets the cluster source the accounts are loaded from.
func WithSource(source cluster.Source) Option {
	return func(s *settings) {
		s.source = source
	}
}

// WithGenesis sets the accounts the session holds before loading anything.
// They take precedence over the accounts of the cluster.
func WithGenesis(accounts genesis.Accounts) Option {
	return func(s *settings) {
		s.genesis = accounts
	}
}

// WithParallelism sets the maximum number of concurrent fetches when the
// accounts of a transaction are loaded.
func WithParallelism(n int) Option {
	return func(s *settings) {
		s.parallelism = n
	}
}

// WithFetchTimeout sets the time limit of a single fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.fetchTimeout = d
	}
}

// WithClock sets the initial clock of the session.
func WithClock(clock execution.Clock) Option {
	return func(s *settings) {
		s.clock = clock
	}
}

// WithRent sets the rent parameters.
func WithRent(rent execution.Rent) Option {
	return func(s *settings) {
		s.rent = rent
	}
}

// WithLamportsPerSignature sets the fee of a signature.
func WithLamportsPerSignature(fee uint64) Option {
	return func(s *settings) {
		s.lamportsPerSignature = fee
	}
}

// WithFaucet sets the key pair of the faucet account.
func WithFaucet(kp txn.Keypair) Option {
	return func(s *settings) {
		s.faucet = kp
	}
}

// WithSeed sets the hash the blockhashes of the session are derived from.
func WithSeed(seed txn.Hash) Option {
	return func(s *settings) {
		s.seed = &seed
	}
}

// WithTracer sets the tracer of the executions.
func WithTracer(tracer opentracing.Tracer) Option {
	return func(s *settings) {
		s.tracer = tracer
	}
}

// WithLogger sets the logger of the session.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}
