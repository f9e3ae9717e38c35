// Package txn implements the legacy transaction format of the ledger.
//
// A transaction is a message signed by one or more identities. The message
// declares every account it references in a single list, ordered so that the
// header is enough to tell which accounts sign and which ones are writable:
//
//	[ writable signers | read-only signers | writable | read-only ]
//
// The instructions reference the accounts and the program by their index in
// that list. Lengths are encoded as compact-u16 values.
//
// The first signature identifies the transaction.
package txn

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/mr-tron/base58"
	"go.dedis.ch/txsim/core/account"
	"golang.org/x/xerrors"
)

const (
	// SignatureSize is the size in bytes of an Ed25519 signature.
	SignatureSize = 64

	// HashSize is the size in bytes of a blockhash.
	HashSize = 32

	// PacketDataSize is the maximum size of a serialized transaction.
	PacketDataSize = 1232
)

// Signature is an Ed25519 signature of a message.
type Signature [SignatureSize]byte

// String implements fmt.Stringer. It returns the base58 text of the signature.
func (sig Signature) String() string {
	return base58.Encode(sig[:])
}

// IsZero returns true for a signature that has not been filled.
func (sig Signature) IsZero() bool {
	return sig == Signature{}
}

// MarshalText implements encoding.TextMarshaler.
func (sig Signature) MarshalText() ([]byte, error) {
	return []byte(sig.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (sig *Signature) UnmarshalText(text []byte) error {
	data, err := base58.Decode(string(text))
	if err != nil {
		return xerrors.Errorf("invalid base58: %v", err)
	}

	if len(data) != SignatureSize {
		return xerrors.Errorf("invalid signature length: %d != %d", len(data), SignatureSize)
	}

	copy(sig[:], data)

	return nil
}

// Hash is a blockhash that a message commits to.
type Hash [HashSize]byte

// ParseHash returns the hash of the base58 text.
func ParseHash(text string) (Hash, error) {
	var h Hash

	err := h.UnmarshalText([]byte(text))
	if err != nil {
		return h, err
	}

	return h, nil
}

// NextHash derives a new hash from the previous one and a counter. It is used
// to produce the blockhashes of a simulated slot.
func NextHash(prev Hash, counter uint64) Hash {
	buffer := make([]byte, 8)
	binary.LittleEndian.PutUint64(buffer, counter)

	h := sha256.New()
	h.Write(prev[:])
	h.Write(buffer)

	var next Hash
	copy(next[:], h.Sum(nil))

	return next
}

// String implements fmt.Stringer. It returns the base58 text of the hash.
func (h Hash) String() string {
	return base58.Encode(h[:])
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	data, err := base58.Decode(string(text))
	if err != nil {
		return xerrors.Errorf("invalid base58: %v", err)
	}

	if len(data) != HashSize {
		return xerrors.Errorf("invalid hash length: %d != %d", len(data), HashSize)
	}

	copy(h[:], data)

	return nil
}

// Header tells how many accounts of the message sign it and how many of them
// are read-only.
type Header struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction is an instruction where the program and the accounts are
// indexes in the account list of the message.
type CompiledInstruction struct {
	ProgramIndex uint8
	Accounts     []uint8
	Data         []byte
}

// Message is the signed part of a transaction.
type Message struct {
	Header          Header
	AccountKeys     []account.Identity
	RecentBlockhash Hash
	Instructions    []CompiledInstruction
}

// IsSigner returns true if the account at the index must sign the message.
func (m Message) IsSigner(index int) bool {
	return index >= 0 && index < int(m.Header.NumRequiredSignatures)
}

// IsWritable returns true if the account at the index can be modified by the
// transaction.
func (m Message) IsWritable(index int) bool {
	if index < 0 || index >= len(m.AccountKeys) {
		return false
	}

	numSigned := int(m.Header.NumRequiredSignatures)

	if index < numSigned {
		return index < numSigned-int(m.Header.NumReadonlySignedAccounts)
	}

	return index < len(m.AccountKeys)-int(m.Header.NumReadonlyUnsignedAccounts)
}

// Sanitize verifies that the header and the indexes are consistent with the
// account list.
func (m Message) Sanitize() error {
	numKeys := len(m.AccountKeys)
	h := m.Header

	if h.NumRequiredSignatures == 0 {
		return xerrors.New("message requires at least one signature")
	}

	if int(h.NumRequiredSignatures)+int(h.NumReadonlyUnsignedAccounts) > numKeys {
		return xerrors.Errorf("header references %d accounts but only %d are declared",
			int(h.NumRequiredSignatures)+int(h.NumReadonlyUnsignedAccounts), numKeys)
	}

	if h.NumReadonlySignedAccounts >= h.NumRequiredSignatures {
		return xerrors.New("fee payer must be a writable signer")
	}

	seen := make(map[account.Identity]struct{}, numKeys)
	for _, key := range m.AccountKeys {
		_, found := seen[key]
		if found {
			return xerrors.Errorf("account %v is declared twice", key)
		}

		seen[key] = struct{}{}
	}

	for i, ix := range m.Instructions {
		if int(ix.ProgramIndex) >= numKeys {
			return xerrors.Errorf("instruction %d: program index %d out of range", i, ix.ProgramIndex)
		}

		if ix.ProgramIndex == 0 {
			return xerrors.Errorf("instruction %d: fee payer cannot be a program", i)
		}

		for _, index := range ix.Accounts {
			if int(index) >= numKeys {
				return xerrors.Errorf("instruction %d: account index %d out of range", i, index)
			}
		}
	}

	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler. It returns the bytes that
// the signatures are computed over.
func (m Message) MarshalBinary() ([]byte, error) {
	buffer := []byte{
		m.Header.NumRequiredSignatures,
		m.Header.NumReadonlySignedAccounts,
		m.Header.NumReadonlyUnsignedAccounts,
	}

	buffer, err := appendShortVec(buffer, len(m.AccountKeys))
	if err != nil {
		return nil, xerrors.Errorf("account keys: %v", err)
	}

	for _, key := range m.AccountKeys {
		buffer = append(buffer, key[:]...)
	}

	buffer = append(buffer, m.RecentBlockhash[:]...)

	buffer, err = appendShortVec(buffer, len(m.Instructions))
	if err != nil {
		return nil, xerrors.Errorf("instructions: %v", err)
	}

	for i, ix := range m.Instructions {
		buffer = append(buffer, ix.ProgramIndex)

		buffer, err = appendShortVec(buffer, len(ix.Accounts))
		if err != nil {
			return nil, xerrors.Errorf("instruction %d accounts: %v", i, err)
		}

		buffer = append(buffer, ix.Accounts...)

		buffer, err = appendShortVec(buffer, len(ix.Data))
		if err != nil {
			return nil, xerrors.Errorf("instruction %d data: %v", i, err)
		}

		buffer = append(buffer, ix.Data...)
	}

	return buffer, nil
}

func readMessage(r *reader) (Message, error) {
	var m Message

	header, err := r.readBytes(3)
	if err != nil {
		return m, xerrors.Errorf("header: %v", err)
	}

	if header[0]&0x80 != 0 {
		return m, xerrors.New("versioned messages are not supported")
	}

	m.Header = Header{
		NumRequiredSignatures:       header[0],
		NumReadonlySignedAccounts:   header[1],
		NumReadonlyUnsignedAccounts: header[2],
	}

	numKeys, err := r.readShortVec()
	if err != nil {
		return m, xerrors.Errorf("account keys: %v", err)
	}

	m.AccountKeys = make([]account.Identity, numKeys)
	for i := range m.AccountKeys {
		key, err := r.readBytes(account.IdentitySize)
		if err != nil {
			return m, xerrors.Errorf("account key %d: %v", i, err)
		}

		copy(m.AccountKeys[i][:], key)
	}

	blockhash, err := r.readBytes(HashSize)
	if err != nil {
		return m, xerrors.Errorf("blockhash: %v", err)
	}

	copy(m.RecentBlockhash[:], blockhash)

	numInstructions, err := r.readShortVec()
	if err != nil {
		return m, xerrors.Errorf("instructions: %v", err)
	}

	m.Instructions = make([]CompiledInstruction, numInstructions)
	for i := range m.Instructions {
		ix, err := readInstruction(r)
		if err != nil {
			return m, xerrors.Errorf("instruction %d: %v", i, err)
		}

		m.Instructions[i] = ix
	}

	return m, nil
}

func readInstruction(r *reader) (CompiledInstruction, error) {
	var ix CompiledInstruction

	program, err := r.readByte()
	if err != nil {
		return ix, xerrors.Errorf("program: %v", err)
	}

	ix.ProgramIndex = program

	numAccounts, err := r.readShortVec()
	if err != nil {
		return ix, xerrors.Errorf("accounts: %v", err)
	}

	accounts, err := r.readBytes(numAccounts)
	if err != nil {
		return ix, xerrors.Errorf("accounts: %v", err)
	}

	ix.Accounts = append([]uint8{}, accounts...)

	dataLen, err := r.readShortVec()
	if err != nil {
		return ix, xerrors.Errorf("data: %v", err)
	}

	data, err := r.readBytes(dataLen)
	if err != nil {
		return ix, xerrors.Errorf("data: %v", err)
	}

	ix.Data = append([]byte{}, data...)

	return ix, nil
}
