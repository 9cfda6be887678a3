package cursor

import (
	"math"

	"github.com/droidscope/apkparser/apkerr"
)

const maxLebLen = 5

// leb128 accumulates up to five 7-bit groups starting at off and returns the
// raw value, the byte count and the last byte read.
func leb128(data []byte, off int) (uint64, int, byte, error) {
	var result uint64
	for i := 0; i < maxLebLen; i++ {
		if off < 0 || off+i >= len(data) {
			return 0, 0, 0, apkerr.Errorf("", int64(off+i), "%w: truncated LEB128", apkerr.ErrOutOfBounds)
		}
		b := data[off+i]
		result |= uint64(b&0x7f) << (7 * uint(i))
		if b&0x80 == 0 {
			return result, i + 1, b, nil
		}
	}
	return 0, 0, 0, apkerr.Errorf("", int64(off), "%w: LEB128 longer than %d bytes", apkerr.ErrMalformedHeader, maxLebLen)
}

// Uleb128 decodes an unsigned LEB128 value at off, returning it with its
// encoded length.
func Uleb128(data []byte, off int) (uint32, int, error) {
	v, n, _, err := leb128(data, off)
	if err != nil {
		return 0, 0, err
	}
	if v > math.MaxUint32 {
		return 0, 0, overflow(off)
	}
	return uint32(v), n, nil
}

// Uleb128p1 decodes a ULEB128 value and subtracts one.
func Uleb128p1(data []byte, off int) (int64, int, error) {
	v, n, err := Uleb128(data, off)
	if err != nil {
		return 0, 0, err
	}
	return int64(v) - 1, n, nil
}

// Sleb128 decodes a signed LEB128 value, sign-extending from bit 6 of the
// terminating byte.
func Sleb128(data []byte, off int) (int32, int, error) {
	v, n, last, err := leb128(data, off)
	if err != nil {
		return 0, 0, err
	}
	shift := uint(7 * n)
	if last&0x40 != 0 && shift < 64 {
		v |= ^uint64(0) << shift
	}
	if sv := int64(v); sv < math.MinInt32 || sv > math.MaxInt32 {
		return 0, 0, overflow(off)
	}
	return int32(int64(v)), n, nil
}

func overflow(off int) error {
	return apkerr.Errorf("", int64(off), "%w: LEB128 overflows 32 bits", apkerr.ErrMalformedHeader)
}
