package txn

import (
	"encoding/base64"

	"go.dedis.ch/txsim/core/account"
	"golang.org/x/xerrors"
)

// Transaction is a message with the signatures of its required signers. It
// must be considered immutable once created.
type Transaction struct {
	signatures []Signature
	message    Message
}

// NewTransaction returns an unsigned transaction for the message. The
// signatures are zero until the transaction is signed.
func NewTransaction(msg Message) *Transaction {
	return &Transaction{
		signatures: make([]Signature, msg.Header.NumRequiredSignatures),
		message:    msg,
	}
}

// Decode returns the transaction of the binary wire form.
func Decode(data []byte) (*Transaction, error) {
	if len(data) > PacketDataSize {
		return nil, xerrors.Errorf("transaction too large: %d > %d", len(data), PacketDataSize)
	}

	r := &reader{data: data}

	numSigs, err := r.readShortVec()
	if err != nil {
		return nil, xerrors.Errorf("signatures: %v", err)
	}

	tx := &Transaction{
		signatures: make([]Signature, numSigs),
	}

	for i := range tx.signatures {
		sig, err := r.readBytes(SignatureSize)
		if err != nil {
			return nil, xerrors.Errorf("signature %d: %v", i, err)
		}

		copy(tx.signatures[i][:], sig)
	}

	tx.message, err = readMessage(r)
	if err != nil {
		return nil, xerrors.Errorf("message: %v", err)
	}

	if r.remaining() > 0 {
		return nil, xerrors.Errorf("%d trailing bytes", r.remaining())
	}

	return tx, nil
}

// DecodeBase64 returns the transaction of the base64 text of the wire form.
func DecodeBase64(text string) (*Transaction, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, xerrors.Errorf("invalid base64: %v", err)
	}

	tx, err := Decode(data)
	if err != nil {
		return nil, xerrors.Errorf("couldn't decode transaction: %v", err)
	}

	return tx, nil
}

// MarshalBinary implements encoding.BinaryMarshaler. It returns the wire form
// of the transaction.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	buffer, err := appendShortVec(nil, len(tx.signatures))
	if err != nil {
		return nil, xerrors.Errorf("signatures: %v", err)
	}

	for _, sig := range tx.signatures {
		buffer = append(buffer, sig[:]...)
	}

	msg, err := tx.message.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("message: %v", err)
	}

	return append(buffer, msg...), nil
}

// EncodeBase64 returns the base64 text of the wire form.
func (tx *Transaction) EncodeBase64() (string, error) {
	data, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// ID returns the first signature, which identifies the transaction.
func (tx *Transaction) ID() Signature {
	if len(tx.signatures) == 0 {
		return Signature{}
	}

	return tx.signatures[0]
}

// Signatures returns the signatures in the order of the signer keys.
func (tx *Transaction) Signatures() []Signature {
	return append([]Signature{}, tx.signatures...)
}

// Message returns the signed message.
func (tx *Transaction) Message() Message {
	return tx.message
}

// AccountKeys returns the identities declared by the message.
func (tx *Transaction) AccountKeys() []account.Identity {
	return append([]account.Identity{}, tx.message.AccountKeys...)
}

// FeePayer returns the identity paying for the transaction, or the zero
// identity if the message has no account.
func (tx *Transaction) FeePayer() account.Identity {
	if len(tx.message.AccountKeys) == 0 {
		return account.Identity{}
	}

	return tx.message.AccountKeys[0]
}

// IsWritable returns true if the account at the index can be modified.
func (tx *Transaction) IsWritable(index int) bool {
	return tx.message.IsWritable(index)
}

// IsSigner returns true if the account at the index signs the transaction.
func (tx *Transaction) IsSigner(index int) bool {
	return tx.message.IsSigner(index)
}

// Sign fills the signatures of the key pairs. Every key pair must belong to one
// of the required signers.
func (tx *Transaction) Sign(keypairs ...Keypair) error {
	msg, err := tx.message.MarshalBinary()
	if err != nil {
		return xerrors.Errorf("couldn't marshal message: %v", err)
	}

	numSigners := int(tx.message.Header.NumRequiredSignatures)

	for _, kp := range keypairs {
		index := -1
		for i := 0; i < numSigners && i < len(tx.message.AccountKeys); i++ {
			if tx.message.AccountKeys[i] == kp.Identity() {
				index = i
				break
			}
		}

		if index < 0 {
			return xerrors.Errorf("key pair %v is not a signer", kp.Identity())
		}

		sig, err := kp.Sign(msg)
		if err != nil {
			return xerrors.Errorf("signer %d: %v", index, err)
		}

		tx.signatures[index] = sig
	}

	return nil
}

// Sanitize verifies that the transaction is well-formed without looking at
// the signatures themselves.
func (tx *Transaction) Sanitize() error {
	if len(tx.signatures) == 0 {
		return xerrors.New("transaction has no signature")
	}

	if len(tx.signatures) != int(tx.message.Header.NumRequiredSignatures) {
		return xerrors.Errorf("signature count mismatch: %d != %d",
			len(tx.signatures), tx.message.Header.NumRequiredSignatures)
	}

	err := tx.message.Sanitize()
	if err != nil {
		return xerrors.Errorf("invalid message: %v", err)
	}

	return nil
}

// Verify verifies every signature against the key of its signer.
func (tx *Transaction) Verify() error {
	msg, err := tx.message.MarshalBinary()
	if err != nil {
		return xerrors.Errorf("couldn't marshal message: %v", err)
	}

	for i, sig := range tx.signatures {
		if i >= len(tx.message.AccountKeys) {
			return xerrors.Errorf("signature %d has no signer", i)
		}

		err = Verify(tx.message.AccountKeys[i], msg, sig)
		if err != nil {
			return xerrors.Errorf("signature %d: %v", i, err)
		}
	}

	return nil
}

// Build compiles the instructions, signs the message with the key pairs and
// returns the transaction. The first key pair pays the fee.
func Build(blockhash Hash, instrs []Instruction, payer Keypair, signers ...Keypair) (*Transaction, error) {
	msg, err := NewMessage(payer.Identity(), blockhash, instrs...)
	if err != nil {
		return nil, xerrors.Errorf("couldn't compile message: %v", err)
	}

	tx := NewTransaction(msg)

	err = tx.Sign(append([]Keypair{payer}, signers...)...)
	if err != nil {
		return nil, xerrors.Errorf("couldn't sign: %v", err)
	}

	return tx, nil
}
