// Package loader implements the lazy loading of the accounts of a session from
// a remote cluster.
//
// An account is fetched the first time it is referenced and it stays in the
// store afterwards. Concurrent requests for the same account share a single
// fetch, and every caller observes the same stored state once it returns.
//
// Documentation Last Review: 12.10.2026
package loader

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.dedis.ch/txsim"
	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/cluster"
	"go.dedis.ch/txsim/core/store"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultParallelism is the maximum number of fetches in flight for a
	// single call.
	DefaultParallelism = 8

	// DefaultTimeout is the time limit of a single fetch.
	DefaultTimeout = 30 * time.Second
)

// defines prometheus metrics
var (
	promFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txsim_loader_fetches_total",
		Help: "total number of account fetches by outcome",
	}, []string{"outcome"})

	promCoalesced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "txsim_loader_coalesced_total",
		Help: "total number of loads that shared an in-flight fetch",
	})
)

func init() {
	txsim.PromCollectors = append(txsim.PromCollectors, promFetches, promCoalesced)
}

// Store is the store the loader inserts the accounts into.
type Store interface {
	store.Readable

	Has(id account.Identity) bool

	// SetIfAbsent stores the account unless the identity is already present.
	SetIfAbsent(id account.Identity, acc account.Account) bool
}

// LoadError is returned when the state of an account could not be fetched.
//
// - implements error
type LoadError struct {
	ID  account.Identity
	Err error
}

// Error implements error. It returns the identity and the cause.
func (e *LoadError) Error() string {
	return "couldn't load account " + e.ID.String() + ": " + e.Err.Error()
}

// Unwrap returns the cause of the failure.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// Loader fetches the missing accounts from the cluster and inserts them into
// the store.
type Loader struct {
	store       Store
	source      cluster.Source
	group       singleflight.Group
	parallelism int
	timeout     time.Duration
	programData bool
	logger      zerolog.Logger
}

// Option is the type of option to set some fields of a loader.
type Option func(*Loader)

// WithParallelism sets the maximum number of concurrent fetches of a call.
func WithParallelism(n int) Option {
	return func(l *Loader) {
		l.parallelism = n
	}
}

// WithTimeout sets the time limit of a single fetch.
func WithTimeout(d time.Duration) Option {
	return func(l *Loader) {
		l.timeout = d
	}
}

// WithoutProgramData disables the loading of the program data accounts of the
// upgradeable programs.
func WithoutProgramData() Option {
	return func(l *Loader) {
		l.programData = false
	}
}

// WithLogger sets the logger of the loader.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader returns a new loader that fills the store from the source.
func NewLoader(store Store, source cluster.Source, opts ...Option) *Loader {
	l := &Loader{
		store:       store,
		source:      source,
		parallelism: DefaultParallelism,
		timeout:     DefaultTimeout,
		programData: true,
		logger:      txsim.Logger.With().Str("component", "loader").Logger(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// EnsureLoaded makes sure that every account of the list is in the store. The
// missing ones are fetched concurrently. An account that does not exist on
// the cluster is stored in its default state. It returns a *LoadError for the
// first fetch that fails.
func (l *Loader) EnsureLoaded(ctx context.Context, ids ...account.Identity) error {
	err := l.loadAll(ctx, ids)
	if err != nil {
		return err
	}

	if !l.programData {
		return nil
	}

	var extra []account.Identity

	for _, id := range ids {
		acc, found := l.store.Get(id)
		if !found || !acc.Executable || acc.Owner != account.BPFLoaderUpgradeable {
			continue
		}

		dataID, err := account.ProgramDataAddress(id)
		if err != nil {
			return &LoadError{ID: id, Err: err}
		}

		extra = append(extra, dataID)
	}

	return l.loadAll(ctx, extra)
}

func (l *Loader) loadAll(ctx context.Context, ids []account.Identity) error {
	missing := l.missing(ids)
	if len(missing) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if l.parallelism > 0 {
		g.SetLimit(l.parallelism)
	}

	for _, id := range missing {
		id := id

		g.Go(func() error {
			return l.load(gctx, id)
		})
	}

	return g.Wait()
}

// missing returns the unique identities that are not in the store yet.
func (l *Loader) missing(ids []account.Identity) []account.Identity {
	seen := make(map[account.Identity]struct{}, len(ids))
	missing := make([]account.Identity, 0, len(ids))

	for _, id := range ids {
		_, found := seen[id]
		if found {
			continue
		}

		seen[id] = struct{}{}

		if !l.store.Has(id) {
			missing = append(missing, id)
		}
	}

	return missing
}

// load waits for the shared fetch of the account. The fetch itself is not
// interrupted when a waiter gives up so that the other waiters still get the
// result.
func (l *Loader) load(ctx context.Context, id account.Identity) error {
	ch := l.group.DoChan(id.String(), func() (interface{}, error) {
		if l.store.Has(id) {
			return nil, nil
		}

		fetchCtx := context.WithoutCancel(ctx)

		if l.timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, l.timeout)
			defer cancel()
		}

		acc, err := l.source.FetchAccount(fetchCtx, id)
		if err != nil {
			promFetches.WithLabelValues("error").Inc()

			if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, cluster.ErrTimeout) {
				err = cluster.TimeoutError{Err: err}
			}

			return nil, &LoadError{ID: id, Err: err}
		}

		if acc == nil {
			promFetches.WithLabelValues("missing").Inc()

			l.logger.Trace().Str("account", id.String()).Msg("account not found")

			def := account.Default()
			acc = &def
		} else {
			promFetches.WithLabelValues("found").Inc()

			l.logger.Trace().
				Str("account", id.String()).
				Uint64("lamports", acc.Lamports).
				Int("size", len(acc.Data)).
				Msg("account fetched")
		}

		l.store.SetIfAbsent(id, *acc)

		return nil, nil
	})

	select {
	case <-ctx.Done():
		return &LoadError{ID: id, Err: ctx.Err()}
	case res := <-ch:
		if res.Shared {
			promCoalesced.Inc()
		}

		return res.Err
	}
}
