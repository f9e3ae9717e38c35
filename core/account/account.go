package account

import (
	"bytes"
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
)

// headerSize is the size of the fixed part of the binary form: lamports,
// owner, executable flag and rent epoch.
const headerSize = 8 + IdentitySize + 1 + 8

// Account is the state of a ledger account.
type Account struct {
	// Lamports is the balance of the account.
	Lamports uint64

	// Owner is the program allowed to modify the data and debit the account.
	Owner Identity

	// Data is the opaque state of the owner program.
	Data []byte

	// Executable is true when the account holds a program.
	Executable bool

	// RentEpoch is the epoch at which rent is due next.
	RentEpoch uint64
}

// Default returns the state of an account that does not exist on the ledger.
// It is owned by the system program and holds nothing.
func Default() Account {
	return Account{Owner: SystemProgram}
}

// IsDefault returns true if the account has no balance, no data and belongs to
// the system program, which is indistinguishable from a missing account.
func (a Account) IsDefault() bool {
	return a.Lamports == 0 && len(a.Data) == 0 && !a.Executable && a.Owner == SystemProgram
}

// Clone returns a deep copy of the account.
func (a Account) Clone() Account {
	clone := a
	if a.Data != nil {
		clone.Data = append([]byte{}, a.Data...)
	}

	return clone
}

// Equal returns true when both accounts hold the same state.
func (a Account) Equal(other Account) bool {
	return a.Lamports == other.Lamports &&
		a.Owner == other.Owner &&
		a.Executable == other.Executable &&
		a.RentEpoch == other.RentEpoch &&
		bytes.Equal(a.Data, other.Data)
}

// MarshalBinary implements encoding.BinaryMarshaler. The layout is the
// lamports, the owner, the executable flag and the rent epoch followed by the
// data.
func (a Account) MarshalBinary() ([]byte, error) {
	buffer := make([]byte, headerSize, headerSize+len(a.Data))

	binary.LittleEndian.PutUint64(buffer, a.Lamports)
	copy(buffer[8:], a.Owner[:])

	if a.Executable {
		buffer[8+IdentitySize] = 1
	}

	binary.LittleEndian.PutUint64(buffer[8+IdentitySize+1:], a.RentEpoch)

	return append(buffer, a.Data...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (a *Account) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize {
		return xerrors.Errorf("account too short: %d < %d", len(data), headerSize)
	}

	flag := data[8+IdentitySize]
	if flag > 1 {
		return xerrors.Errorf("invalid executable flag %d", flag)
	}

	a.Lamports = binary.LittleEndian.Uint64(data)
	copy(a.Owner[:], data[8:])
	a.Executable = flag == 1
	a.RentEpoch = binary.LittleEndian.Uint64(data[8+IdentitySize+1:])
	a.Data = append([]byte{}, data[headerSize:]...)

	return nil
}

// Fingerprint writes a deterministic binary representation of the account.
func (a Account) Fingerprint(w io.Writer) error {
	buffer, err := a.MarshalBinary()
	if err != nil {
		return xerrors.Errorf("couldn't marshal: %v", err)
	}

	length := make([]byte, 8)
	binary.LittleEndian.PutUint64(length, uint64(len(buffer)))

	_, err = w.Write(append(length, buffer...))
	if err != nil {
		return xerrors.Errorf("couldn't write account: %v", err)
	}

	return nil
}
