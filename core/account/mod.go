// Package account defines the identity and the state of a ledger account.
//
// An identity is a 32-byte key, usually an Ed25519 public key, printed in
// base58. The state is replaced wholesale every time it changes so that a
// value can be shared without worrying about later updates.
package account

import (
	"bytes"

	"github.com/mr-tron/base58"
	"golang.org/x/xerrors"
)

// IdentitySize is the size in bytes of an account identity.
const IdentitySize = 32

// Identity is the unique key of an account.
type Identity [IdentitySize]byte

var (
	// SystemProgram owns every account that has not been assigned to another
	// program.
	SystemProgram = MustParse("11111111111111111111111111111111")

	// NativeLoader owns the programs that are built in the runtime.
	NativeLoader = MustParse("NativeLoader1111111111111111111111111111111")

	// BPFLoader2 is the loader of the legacy on-chain programs.
	BPFLoader2 = MustParse("BPFLoader2111111111111111111111111111111111")

	// BPFLoaderUpgradeable is the loader of the upgradeable programs. The code
	// of those programs lives in a separate program data account.
	BPFLoaderUpgradeable = MustParse("BPFLoaderUpgradeab1e11111111111111111111111")

	// SysvarProgram owns the sysvar accounts.
	SysvarProgram = MustParse("Sysvar1111111111111111111111111111111111111")

	// SysvarRent is the address of the rent sysvar.
	SysvarRent = MustParse("SysvarRent111111111111111111111111111111111")

	// MemoV1 is the address of the first version of the memo program.
	MemoV1 = MustParse("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")

	// MemoV3 is the address of the current memo program.
	MemoV3 = MustParse("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")
)

// NewIdentity returns the identity of the given bytes. It returns an error if
// the length does not match.
func NewIdentity(data []byte) (Identity, error) {
	var id Identity

	if len(data) != IdentitySize {
		return id, xerrors.Errorf("invalid identity length: %d != %d", len(data), IdentitySize)
	}

	copy(id[:], data)

	return id, nil
}

// ParseIdentity returns the identity of the base58 text.
func ParseIdentity(text string) (Identity, error) {
	data, err := base58.Decode(text)
	if err != nil {
		return Identity{}, xerrors.Errorf("invalid base58 '%s': %v", text, err)
	}

	id, err := NewIdentity(data)
	if err != nil {
		return Identity{}, xerrors.Errorf("identity '%s': %v", text, err)
	}

	return id, nil
}

// MustParse is the same as ParseIdentity but it panics on error.
func MustParse(text string) Identity {
	id, err := ParseIdentity(text)
	if err != nil {
		panic(err)
	}

	return id
}

// Bytes returns a copy of the identity as a slice.
func (id Identity) Bytes() []byte {
	return append([]byte{}, id[:]...)
}

// IsZero returns true if every byte is zero.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

// Compare returns an integer comparing two identities lexicographically.
func (id Identity) Compare(other Identity) int {
	return bytes.Compare(id[:], other[:])
}

// String implements fmt.Stringer. It returns the base58 text of the identity.
func (id Identity) String() string {
	return base58.Encode(id[:])
}

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}

	*id = parsed

	return nil
}
