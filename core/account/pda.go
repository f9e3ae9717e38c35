package account

import (
	"crypto/sha256"

	"go.dedis.ch/kyber/v3/group/edwards25519"
	"golang.org/x/xerrors"
)

const (
	// MaxSeeds is the maximum number of seeds to derive a program address.
	MaxSeeds = 16

	// MaxSeedLength is the maximum length of a single seed.
	MaxSeedLength = 32

	pdaMarker = "ProgramDerivedAddress"
)

var curve = edwards25519.NewBlakeSHA256Ed25519()

// ErrOnCurve is returned when a derived address is a valid public key, which
// means a private key could sign for it.
var ErrOnCurve = xerrors.New("derived address is on the curve")

// IsOnCurve returns true if the identity decodes to a point of the Ed25519
// curve.
func (id Identity) IsOnCurve() bool {
	return curve.Point().UnmarshalBinary(id[:]) == nil
}

// CreateProgramAddress derives the address of the seeds for the program. It
// returns ErrOnCurve if the address is a valid public key.
func CreateProgramAddress(seeds [][]byte, program Identity) (Identity, error) {
	if len(seeds) > MaxSeeds {
		return Identity{}, xerrors.Errorf("too many seeds: %d > %d", len(seeds), MaxSeeds)
	}

	h := sha256.New()

	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return Identity{}, xerrors.Errorf("seed too long: %d > %d", len(seed), MaxSeedLength)
		}

		h.Write(seed)
	}

	h.Write(program[:])
	h.Write([]byte(pdaMarker))

	var id Identity
	copy(id[:], h.Sum(nil))

	if id.IsOnCurve() {
		return Identity{}, ErrOnCurve
	}

	return id, nil
}

// FindProgramAddress looks for the first bump seed, starting from 255, that
// derives an address off the curve. It returns the address and the bump.
func FindProgramAddress(seeds [][]byte, program Identity) (Identity, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return Identity{}, 0, xerrors.Errorf("too many seeds: %d >= %d", len(seeds), MaxSeeds)
	}

	for bump := 255; bump >= 0; bump-- {
		withBump := append(append([][]byte{}, seeds...), []byte{byte(bump)})

		id, err := CreateProgramAddress(withBump, program)
		if err == ErrOnCurve {
			continue
		}
		if err != nil {
			return Identity{}, 0, xerrors.Errorf("bump %d: %v", bump, err)
		}

		return id, uint8(bump), nil
	}

	return Identity{}, 0, xerrors.New("no viable bump seed")
}

// ProgramDataAddress returns the address of the account holding the code of an
// upgradeable program.
func ProgramDataAddress(program Identity) (Identity, error) {
	id, _, err := FindProgramAddress([][]byte{program[:]}, BPFLoaderUpgradeable)
	if err != nil {
		return Identity{}, xerrors.Errorf("program data of %v: %v", program, err)
	}

	return id, nil
}
