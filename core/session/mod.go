// Package session implements the execution session: a private ledger state
// seeded on demand from a cluster, against which transactions are executed
// one after the other.
//
// A session serves one call at a time. The accounts a transaction references
// are loaded before it is executed, the outcome of the runtime is validated
// and its mutations are applied, then the state of every referenced account is
// captured in a snapshot. The next transaction observes the mutated state.
//
// A batch is not transactional: the mutations of the transactions that
// succeeded stay applied when a later one fails.
//
// Documentation Last Review: 12.10.2026
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.dedis.ch/txsim"
	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/cluster"
	"go.dedis.ch/txsim/core/execution"
	"go.dedis.ch/txsim/core/store/loader"
	"go.dedis.ch/txsim/core/store/mem"
	"go.dedis.ch/txsim/core/txn"
	"golang.org/x/xerrors"
)

const (
	// MaxRecentBlockhashes is the number of blockhashes a transaction can
	// refer to.
	MaxRecentBlockhashes = 300

	// SlotsPerEpoch is the number of slots of an epoch.
	SlotsPerEpoch = 432_000

	// SlotDuration is the time that elapses on the clock for every slot.
	SlotDuration = 400 * time.Millisecond
)

// defines prometheus metrics
var (
	promTransactions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txsim_session_transactions_total",
		Help: "total number of executed transactions by status",
	}, []string{"status"})

	promBatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "txsim_session_batch_duration_seconds",
		Help: "duration of the execution of a batch",
	})
)

func init() {
	txsim.PromCollectors = append(txsim.PromCollectors, promTransactions, promBatchDuration)
}

// GenesisProvider is implemented by the runtimes that expect some accounts to
// be present on the ledger, such as their programs.
type GenesisProvider interface {
	Genesis(rent execution.Rent) map[account.Identity]account.Account
}

// StepError is returned when the execution of a batch is aborted by the
// transaction at the index.
//
// - implements error
type StepError struct {
	Index int
	Err   error
}

// Error implements error. It returns the index and the cause.
func (e *StepError) Error() string {
	return fmt.Sprintf("transaction %d: %v", e.Index, e.Err)
}

// Unwrap returns the cause of the failure.
func (e *StepError) Unwrap() error {
	return e.Err
}

// InvariantViolation is returned when the outcome of the runtime would break
// the consistency of the ledger state. It indicates a defect of the runtime.
//
// - implements error
type InvariantViolation struct {
	ID     account.Identity
	Reason string
}

// Error implements error. It returns the account and the broken invariant.
func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violated on %v: %s", e.ID, e.Reason)
}

// Session is a private ledger state and the history of the transactions
// executed against it.
type Session struct {
	sync.Mutex

	store    *mem.Store
	loader   *loader.Loader
	runtime  execution.Runtime
	settings settings

	clock       execution.Clock
	startSlot   uint64
	startTime   int64
	blockhashes []txn.Hash
	known       map[txn.Hash]struct{}
	counter     uint64

	// processed maps the signature of the successful transactions to their
	// blockhash, so that they can be forgotten when it expires.
	processed map[txn.Signature]txn.Hash

	snapshots []Snapshot
	logger    zerolog.Logger
}

// NewSession returns a new session. The runtime and the genesis accounts are
// installed, the faucet is funded and a first blockhash is registered.
func NewSession(opts ...Option) (*Session, error) {
	tmpl := newSettings()

	for _, opt := range opts {
		opt(&tmpl)
	}

	if tmpl.runtime == nil {
		return nil, xerrors.New("missing runtime")
	}

	if tmpl.source == nil {
		return nil, xerrors.New("missing cluster source")
	}

	s := &Session{
		store:     mem.NewStore(),
		runtime:   tmpl.runtime,
		settings:  tmpl,
		clock:     tmpl.clock,
		startSlot: tmpl.clock.Slot,
		startTime: tmpl.clock.UnixTimestamp,
		known:     make(map[txn.Hash]struct{}),
		processed: make(map[txn.Signature]txn.Hash),
		logger:    tmpl.logger,
	}

	s.clock.Epoch = s.clock.Slot / SlotsPerEpoch

	s.loader = s.newLoader(tmpl.source)

	provider, ok := tmpl.runtime.(GenesisProvider)
	if ok {
		for id, acc := range provider.Genesis(tmpl.rent) {
			s.store.Set(id, acc)
		}
	}

	for id, acc := range tmpl.genesis.WithFaucet(tmpl.faucet.Identity()) {
		s.store.Set(id, acc)
	}

	seed := tmpl.seed
	if seed == nil {
		var h txn.Hash
		copy(h[:], tmpl.faucet.Identity().Bytes())
		seed = &h
	}

	s.pushBlockhash(txn.NextHash(*seed, 0))

	return s, nil
}

// Faucet returns the key pair of the account funded at the creation of the
// session.
func (s *Session) Faucet() txn.Keypair {
	return s.settings.faucet
}

// SetSource replaces the cluster source of the accounts that are not loaded
// yet. The accounts already in the session are kept.
func (s *Session) SetSource(source cluster.Source) {
	s.Lock()
	defer s.Unlock()

	s.loader = s.newLoader(source)
}

// ExecuteOne executes a single transaction and returns its snapshot. A
// rejected transaction is not an error: the failure is reported by the
// outcome of the snapshot.
func (s *Session) ExecuteOne(ctx context.Context, tx *txn.Transaction) (Snapshot, error) {
	snapshots, err := s.ExecuteBatch(ctx, []*txn.Transaction{tx}, true)
	if err != nil {
		return Snapshot{}, err
	}

	return snapshots[0], nil
}

// ExecuteBatch executes the transactions in order and returns one snapshot per
// executed transaction. When stopOnFailure is true, the batch stops after the
// first rejected transaction, otherwise the rejected transactions are
// reported and the execution continues.
//
// The context is checked between the transactions. A canceled batch returns
// the snapshots of the transactions executed so far and the error of the
// context. A failure to load an account or an invariant violation aborts the
// batch with a *StepError.
func (s *Session) ExecuteBatch(ctx context.Context, txs []*txn.Transaction,
	stopOnFailure bool) ([]Snapshot, error) {

	s.Lock()
	defer s.Unlock()

	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, s.settings.tracer, "batch")
	span.SetTag("size", len(txs))
	defer span.Finish()

	start := time.Now()
	defer func() {
		promBatchDuration.Observe(time.Since(start).Seconds())
	}()

	snapshots := make([]Snapshot, 0, len(txs))

	for i, tx := range txs {
		err := ctx.Err()
		if err != nil {
			return snapshots, err
		}

		snap, err := s.step(ctx, i, tx)
		if err != nil {
			span.SetTag("error", true)
			return snapshots, &StepError{Index: i, Err: err}
		}

		snapshots = append(snapshots, snap)

		if stopOnFailure && !snap.Outcome.Accepted {
			s.logger.Debug().Int("index", i).Msg("batch stopped on failure")
			break
		}
	}

	return snapshots, nil
}

func (s *Session) step(ctx context.Context, index int, tx *txn.Transaction) (Snapshot, error) {
	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, s.settings.tracer, "transaction")
	span.SetTag("index", index)
	span.SetTag("signature", tx.ID().String())
	defer span.Finish()

	keys := tx.AccountKeys()

	err := s.loader.EnsureLoaded(ctx, keys...)
	if err != nil {
		return Snapshot{}, err
	}

	pre := s.balances(keys)

	outcome, err := s.runtime.Execute(ctx, s.store, tx, s.env())
	if err != nil {
		if ctx.Err() != nil {
			return Snapshot{}, ctx.Err()
		}

		return Snapshot{}, xerrors.Errorf("runtime failed: %v", err)
	}

	err = s.validate(tx, outcome)
	if err != nil {
		return Snapshot{}, err
	}

	if outcome.Accepted {
		s.store.Apply(outcome.Mutations)
		s.processed[tx.ID()] = tx.Message().RecentBlockhash
	}

	promTransactions.WithLabelValues(outcome.Status()).Inc()
	span.SetTag("status", outcome.Status())

	s.logger.Debug().
		Int("index", index).
		Str("signature", tx.ID().String()).
		Str("status", outcome.Status()).
		Err(outcome.Err()).
		Uint64("fee", outcome.Fee).
		Int("mutations", len(outcome.Mutations)).
		Msg("transaction executed")

	snap := capture(index, tx, outcome, s.store, s.clock.Slot)
	snap.PreBalances = pre

	s.snapshots = append(s.snapshots, snap)

	return snap, nil
}

// validate makes sure that the mutations of the outcome are limited to the
// writable accounts of the transaction and that no lamport is created.
func (s *Session) validate(tx *txn.Transaction, outcome execution.Outcome) error {
	if !outcome.Accepted {
		for id := range outcome.Mutations {
			return &InvariantViolation{ID: id, Reason: "rejected transaction with mutations"}
		}

		return nil
	}

	if outcome.Failure != nil {
		return &InvariantViolation{ID: tx.FeePayer(), Reason: "accepted transaction with a failure"}
	}

	writable := make(map[account.Identity]struct{})
	for i, key := range tx.AccountKeys() {
		if tx.IsWritable(i) {
			writable[key] = struct{}{}
		}
	}

	var before, after uint64

	for id, acc := range outcome.Mutations {
		_, ok := writable[id]
		if !ok {
			return &InvariantViolation{ID: id, Reason: "mutation of an account that is not writable"}
		}

		prev, _ := s.store.Get(id)

		before += prev.Lamports
		after += acc.Lamports

		if before < prev.Lamports || after < acc.Lamports {
			return &InvariantViolation{ID: id, Reason: "lamports overflow"}
		}
	}

	if after+outcome.Fee != before {
		return &InvariantViolation{
			ID:     tx.FeePayer(),
			Reason: fmt.Sprintf("unbalanced lamports: %d + fee %d != %d", after, outcome.Fee, before),
		}
	}

	return nil
}

// Inspect returns the state of the account if it is in the session. It never
// reaches the cluster.
func (s *Session) Inspect(id account.Identity) (account.Account, bool) {
	return s.store.Get(id)
}

// Accounts returns the state of the accounts in the order of the identities.
// An account that is not in the session is nil.
func (s *Session) Accounts(ids ...account.Identity) []*account.Account {
	res := make([]*account.Account, len(ids))

	for i, id := range ids {
		acc, found := s.store.Get(id)
		if found {
			res[i] = &acc
		}
	}

	return res
}

// Snapshots returns the snapshots of every transaction executed by the
// session. The snapshots must not be modified.
func (s *Session) Snapshots() []Snapshot {
	s.Lock()
	defer s.Unlock()

	return append([]Snapshot{}, s.snapshots...)
}

// Slot returns the current slot.
func (s *Session) Slot() uint64 {
	s.Lock()
	defer s.Unlock()

	return s.clock.Slot
}

// Clock returns the current clock.
func (s *Session) Clock() execution.Clock {
	s.Lock()
	defer s.Unlock()

	return s.clock
}

// MinimumBalance returns the number of lamports an account with the given
// data length must hold to be exempt from rent.
func (s *Session) MinimumBalance(dataLen int) uint64 {
	return s.settings.rent.MinimumBalance(dataLen)
}

// LatestBlockhash returns the last registered blockhash.
func (s *Session) LatestBlockhash() txn.Hash {
	s.Lock()
	defer s.Unlock()

	return s.blockhashes[len(s.blockhashes)-1]
}

// AdvanceBlockhash moves the session to the next slot and registers a new
// blockhash. The given hash is used unless it is nil or equal to the latest
// one, in which case a unique hash is derived. It returns the new latest
// blockhash.
func (s *Session) AdvanceBlockhash(hash *txn.Hash) txn.Hash {
	s.Lock()
	defer s.Unlock()

	latest := s.blockhashes[len(s.blockhashes)-1]

	var next txn.Hash
	if hash != nil && *hash != latest {
		next = *hash
	} else {
		s.counter++
		next = txn.NextHash(latest, s.counter)
	}

	s.clock.Slot++
	s.clock.Epoch = s.clock.Slot / SlotsPerEpoch
	s.clock.UnixTimestamp = s.startTime +
		int64(time.Duration(s.clock.Slot-s.startSlot)*SlotDuration/time.Second)

	s.pushBlockhash(next)

	s.logger.Debug().
		Uint64("slot", s.clock.Slot).
		Str("blockhash", next.String()).
		Msg("blockhash advanced")

	return next
}

func (s *Session) pushBlockhash(hash txn.Hash) {
	s.blockhashes = append(s.blockhashes, hash)
	s.known[hash] = struct{}{}

	for len(s.blockhashes) > MaxRecentBlockhashes {
		expired := s.blockhashes[0]
		s.blockhashes = s.blockhashes[1:]

		if s.isRecent(expired) {
			// The same hash has been registered again.
			continue
		}

		delete(s.known, expired)

		for sig, h := range s.processed {
			if h == expired {
				delete(s.processed, sig)
			}
		}
	}
}

func (s *Session) isRecent(hash txn.Hash) bool {
	for _, h := range s.blockhashes {
		if h == hash {
			return true
		}
	}

	return false
}

func (s *Session) env() execution.Env {
	return execution.Env{
		Clock:                s.clock,
		Rent:                 s.settings.rent,
		LamportsPerSignature: s.settings.lamportsPerSignature,
		KnownBlockhash: func(h txn.Hash) bool {
			_, found := s.known[h]
			return found
		},
		Processed: func(sig txn.Signature) bool {
			_, found := s.processed[sig]
			return found
		},
	}
}

func (s *Session) balances(keys []account.Identity) []uint64 {
	res := make([]uint64, len(keys))

	for i, key := range keys {
		acc, _ := s.store.Get(key)
		res[i] = acc.Lamports
	}

	return res
}

func (s *Session) newLoader(source cluster.Source) *loader.Loader {
	return loader.NewLoader(s.store, source,
		loader.WithParallelism(s.settings.parallelism),
		loader.WithTimeout(s.settings.fetchTimeout),
		loader.WithLogger(s.logger))
}
