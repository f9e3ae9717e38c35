// Package fixture implements the cluster sources that capture and replay the
// accounts of a cluster with a key/value database.
//
// A recorder stores whatever another source returns, including the accounts
// that do not exist, so that a fixture source can later serve the same
// bundle without any network access.
//
// Documentation Last Review: 12.10.2026
package fixture

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.dedis.ch/txsim"
	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/cluster"
	"go.dedis.ch/txsim/core/store/kv"
	"golang.org/x/xerrors"
)

// bucketName is the name of the bucket of the accounts.
var bucketName = []byte("accounts")

const (
	entryMissing byte = iota
	entryPresent
)

// defines prometheus metrics
var (
	promRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "txsim_fixture_recorded_total",
		Help: "total number of accounts written to a fixture",
	})

	promReplayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txsim_fixture_replayed_total",
		Help: "total number of accounts read from a fixture by result",
	}, []string{"result"})
)

func init() {
	txsim.PromCollectors = append(txsim.PromCollectors, promRecorded, promReplayed)
}

// ErrNotRecorded is returned by a fixture source for an account that was
// never captured.
var ErrNotRecorded = xerrors.New("account not recorded")

// Source is a cluster source that reads the accounts captured in a database.
//
// - implements cluster.Source
type Source struct {
	db     kv.DB
	strict bool
}

// Option is the type of option to set some fields of a fixture source.
type Option func(*Source)

// WithUnrecordedAsMissing makes the source report the accounts that were never
// captured as missing instead of failing.
func WithUnrecordedAsMissing() Option {
	return func(s *Source) {
		s.strict = false
	}
}

// NewSource returns a new fixture source on top of the database.
func NewSource(db kv.DB, opts ...Option) *Source {
	s := &Source{
		db:     db,
		strict: true,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// FetchAccount implements cluster.Source. It returns the captured state of the
// account, or nil if it was captured as missing.
func (s *Source) FetchAccount(ctx context.Context, id account.Identity) (*account.Account, error) {
	var acc *account.Account
	recorded := false

	err := s.db.View(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(bucketName)
		if bucket == nil {
			return nil
		}

		value := bucket.Get(id.Bytes())
		if value == nil {
			return nil
		}

		recorded = true

		var err error
		acc, err = decodeEntry(value)

		return err
	})
	if err != nil {
		return nil, xerrors.Errorf("couldn't read fixture: %v", err)
	}

	if !recorded {
		promReplayed.WithLabelValues("unrecorded").Inc()

		if s.strict {
			return nil, xerrors.Errorf("%v: %w", id, ErrNotRecorded)
		}

		return nil, nil
	}

	promReplayed.WithLabelValues("recorded").Inc()

	return acc, nil
}

// Put captures the state of the account. A nil account is captured as
// missing.
func Put(db kv.DB, id account.Identity, acc *account.Account) error {
	value, err := encodeEntry(acc)
	if err != nil {
		return err
	}

	err = db.Update(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(bucketName)
		if err != nil {
			return err
		}

		tx.OnCommit(promRecorded.Inc)

		return bucket.Set(id.Bytes(), value)
	})
	if err != nil {
		return xerrors.Errorf("couldn't write fixture: %v", err)
	}

	return nil
}

// Entry is a captured account. The account is nil when it was captured as
// missing.
type Entry struct {
	ID      account.Identity
	Account *account.Account
}

// List returns the captured accounts in the order of the identities.
func List(db kv.DB) ([]Entry, error) {
	var entries []Entry

	err := db.View(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(bucketName)
		if bucket == nil {
			return nil
		}

		entries = make([]Entry, 0, bucket.Len())

		return bucket.ForEach(func(k, v []byte) error {
			id, err := account.NewIdentity(k)
			if err != nil {
				return err
			}

			acc, err := decodeEntry(v)
			if err != nil {
				return xerrors.Errorf("%v: %v", id, err)
			}

			entries = append(entries, Entry{ID: id, Account: acc})

			return nil
		})
	})
	if err != nil {
		return nil, xerrors.Errorf("couldn't read fixture: %v", err)
	}

	return entries, nil
}

// Recorder is a cluster source that captures the accounts returned by another
// source.
//
// - implements cluster.Source
type Recorder struct {
	source cluster.Source
	db     kv.DB
}

// NewRecorder returns a new recorder of the source into the database.
func NewRecorder(source cluster.Source, db kv.DB) *Recorder {
	return &Recorder{
		source: source,
		db:     db,
	}
}

// FetchAccount implements cluster.Source. It fetches the account from the
// inner source and captures the result. The failures are not captured.
func (r *Recorder) FetchAccount(ctx context.Context, id account.Identity) (*account.Account, error) {
	acc, err := r.source.FetchAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	err = Put(r.db, id, acc)
	if err != nil {
		return nil, xerrors.Errorf("couldn't record %v: %v", id, err)
	}

	return acc, nil
}

func encodeEntry(acc *account.Account) ([]byte, error) {
	if acc == nil {
		return []byte{entryMissing}, nil
	}

	data, err := acc.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal account: %v", err)
	}

	return append([]byte{entryPresent}, data...), nil
}

func decodeEntry(value []byte) (*account.Account, error) {
	if len(value) == 0 {
		return nil, xerrors.New("empty entry")
	}

	switch value[0] {
	case entryMissing:
		return nil, nil
	case entryPresent:
		acc := new(account.Account)

		err := acc.UnmarshalBinary(value[1:])
		if err != nil {
			return nil, xerrors.Errorf("couldn't unmarshal account: %v", err)
		}

		return acc, nil
	default:
		return nil, xerrors.Errorf("unknown entry tag %d", value[0])
	}
}
