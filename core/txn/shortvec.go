package txn

import (
	"golang.org/x/xerrors"
)

// maxShortVec is the maximum value of a compact length.
const maxShortVec = 1<<16 - 1

// appendShortVec appends the compact-u16 form of the length, which uses seven
// bits per byte and the high bit as a continuation flag.
func appendShortVec(buffer []byte, length int) ([]byte, error) {
	if length < 0 || length > maxShortVec {
		return nil, xerrors.Errorf("length %d out of range", length)
	}

	rem := uint16(length)
	for {
		elem := byte(rem & 0x7f)
		rem >>= 7

		if rem == 0 {
			return append(buffer, elem), nil
		}

		buffer = append(buffer, elem|0x80)
	}
}

// reader is a cursor over a serialized transaction.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, xerrors.New("unexpected end of data")
	}

	b := r.data[r.pos]
	r.pos++

	return b, nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, xerrors.Errorf("unexpected end of data: need %d, have %d", n, r.remaining())
	}

	buffer := r.data[r.pos : r.pos+n]
	r.pos += n

	return buffer, nil
}

// readShortVec reads a compact-u16 length. It refuses the encodings that are
// not the shortest.
func (r *reader) readShortVec() (int, error) {
	value := 0

	for i := 0; i < 3; i++ {
		elem, err := r.readByte()
		if err != nil {
			return 0, xerrors.Errorf("compact length: %v", err)
		}

		value |= int(elem&0x7f) << (7 * i)

		if elem&0x80 == 0 {
			if i > 0 && elem == 0 {
				return 0, xerrors.New("compact length: alias encoding")
			}

			if value > maxShortVec {
				return 0, xerrors.New("compact length: overflow")
			}

			return value, nil
		}
	}

	return 0, xerrors.New("compact length: too long")
}
