// Package kv defines the key/value database that holds the fixtures of
// captured accounts.
//
// The default implementation is backed by bbolt
// (https://github.com/etcd-io/bbolt). A fixture file is locked by the process
// that opens it for writing, while many processes can replay it read-only.
//
// Documentation Last Review: 12.10.2026
package kv

import "go.dedis.ch/txsim/core/store"

// Bucket is a named collection of keys inside the database.
type Bucket interface {
	// Get returns the value of the key, or nil if it is absent. The value is
	// only valid during the transaction.
	Get(key []byte) []byte

	// Set stores the value for the key.
	Set(key, value []byte) error

	// ForEach calls the function for each pair in the ascending order of the
	// keys and stops at the first error.
	ForEach(fn func(k, v []byte) error) error

	// Len returns the number of keys.
	Len() int
}

// ReadableTx is a read-only transaction over the database.
type ReadableTx interface {
	// GetBucket returns the bucket if it exists, otherwise nil.
	GetBucket(name []byte) Bucket
}

// WritableTx is a read-write transaction over the database. It is applied
// atomically when the function that received it returns without error.
type WritableTx interface {
	store.Transaction

	ReadableTx

	// GetBucketOrCreate returns the bucket, creating it when needed.
	GetBucketOrCreate(name []byte) (Bucket, error)
}

// DB is a key/value database.
type DB interface {
	// View runs the function in a read-only transaction.
	View(fn func(ReadableTx) error) error

	// Update runs the function in a writable transaction that is rolled back
	// when the function returns an error.
	Update(fn func(WritableTx) error) error

	// Close releases the file of the database.
	Close() error
}
