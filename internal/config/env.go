// Package config loads the defaults of the command line from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"go.dedis.ch/txsim/core/cluster/rpc"
	"golang.org/x/xerrors"
)

// Config holds the settings of the server and the cluster source.
type Config struct {
	Listen      string `env:"TXSIM_LISTEN" envDefault:"127.0.0.1:8899"`
	MetricsPath string `env:"TXSIM_METRICS_PATH" envDefault:"/metrics"`

	RPCEndpoint string        `env:"TXSIM_RPC_ENDPOINT" envDefault:"https://api.mainnet-beta.solana.com/"`
	Commitment  string        `env:"TXSIM_COMMITMENT" envDefault:"processed"`
	RPCTimeout  time.Duration `env:"TXSIM_RPC_TIMEOUT" envDefault:"10s"`
	RPCRetries  uint64        `env:"TXSIM_RPC_RETRIES" envDefault:"0"`

	// Fixture is the path of the database of the recorded accounts.
	Fixture         string `env:"TXSIM_FIXTURE"`
	Record          bool   `env:"TXSIM_RECORD"`
	AllowUnrecorded bool   `env:"TXSIM_ALLOW_UNRECORDED"`

	// Genesis is the path of the YAML file of the accounts installed in every
	// session.
	Genesis string `env:"TXSIM_GENESIS"`

	Parallelism  int           `env:"TXSIM_PARALLELISM" envDefault:"8"`
	FetchTimeout time.Duration `env:"TXSIM_FETCH_TIMEOUT" envDefault:"30s"`

	Tracing bool `env:"TXSIM_TRACING"`
}

// ParseEnv loads the configuration from the environment variables into the
// target.
func ParseEnv(target interface{}) error {
	err := env.Parse(target)
	if err != nil {
		return xerrors.Errorf("parse env: %w", err)
	}

	return nil
}

// Load returns the configuration of the environment after validating it.
func Load() (Config, error) {
	var cfg Config

	err := ParseEnv(&cfg)
	if err != nil {
		return cfg, err
	}

	err = cfg.Validate()
	if err != nil {
		return cfg, xerrors.Errorf("invalid configuration: %v", err)
	}

	return cfg, nil
}

// Validate returns an error if the settings are inconsistent.
func (c Config) Validate() error {
	if c.Commitment != "" {
		_, err := rpc.ParseCommitment(c.Commitment)
		if err != nil {
			return err
		}
	}

	if c.Parallelism <= 0 {
		return xerrors.Errorf("parallelism must be positive: %d", c.Parallelism)
	}

	if c.Record && c.Fixture == "" {
		return xerrors.New("record mode requires a fixture")
	}

	if c.Record && c.AllowUnrecorded {
		return xerrors.New("record mode and unrecorded accounts are exclusive")
	}

	return nil
}
