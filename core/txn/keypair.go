package txn

import (
	"crypto/cipher"

	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/sign/eddsa"
	"go.dedis.ch/kyber/v3/util/random"
	"go.dedis.ch/txsim/core/account"
	"golang.org/x/xerrors"
)

var curve = new(edwards25519.Curve)

// Keypair is an Ed25519 key pair that can sign messages for an identity.
type Keypair struct {
	signer *eddsa.EdDSA
	id     account.Identity
}

// NewKeypair generates a random key pair.
func NewKeypair() Keypair {
	return newKeypairFrom(random.New())
}

// NewKeypairFromStream generates a key pair from the given randomness. It is
// mostly useful to produce deterministic keys.
func NewKeypairFromStream(stream cipher.Stream) Keypair {
	return newKeypairFrom(stream)
}

func newKeypairFrom(stream cipher.Stream) Keypair {
	signer := eddsa.NewEdDSA(stream)

	kp, err := keypairOf(signer)
	if err != nil {
		// The public key of a fresh key pair is always 32 bytes.
		panic(err)
	}

	return kp
}

// KeypairFromBytes returns the key pair of the 64-byte binary form, which is the
// seed followed by the public key.
func KeypairFromBytes(data []byte) (Keypair, error) {
	signer := &eddsa.EdDSA{}

	err := signer.UnmarshalBinary(data)
	if err != nil {
		return Keypair{}, xerrors.Errorf("couldn't unmarshal key pair: %v", err)
	}

	return keypairOf(signer)
}

func keypairOf(signer *eddsa.EdDSA) (Keypair, error) {
	data, err := signer.Public.MarshalBinary()
	if err != nil {
		return Keypair{}, xerrors.Errorf("couldn't marshal public key: %v", err)
	}

	id, err := account.NewIdentity(data)
	if err != nil {
		return Keypair{}, xerrors.Errorf("public key: %v", err)
	}

	return Keypair{signer: signer, id: id}, nil
}

// Identity returns the identity of the public key.
func (kp Keypair) Identity() account.Identity {
	return kp.id
}

// Sign returns the signature of the message.
func (kp Keypair) Sign(msg []byte) (Signature, error) {
	var sig Signature

	data, err := kp.signer.Sign(msg)
	if err != nil {
		return sig, xerrors.Errorf("couldn't sign: %v", err)
	}

	copy(sig[:], data)

	return sig, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (kp Keypair) MarshalBinary() ([]byte, error) {
	data, err := kp.signer.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal key pair: %v", err)
	}

	return data, nil
}

// Verify returns nil if the signature of the message is valid for the
// identity.
func Verify(id account.Identity, msg []byte, sig Signature) error {
	point := curve.Point()

	err := point.UnmarshalBinary(id[:])
	if err != nil {
		return xerrors.Errorf("identity is not a public key: %v", err)
	}

	err = eddsa.Verify(point, msg, sig[:])
	if err != nil {
		return xerrors.Errorf("invalid signature: %v", err)
	}

	return nil
}
