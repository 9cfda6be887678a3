package dex

import (
	"strings"
	"unicode/utf16"

	"github.com/droidscope/apkparser/apkerr"
	"github.com/droidscope/apkparser/internal/cursor"
)

// DecodeMUTF8 decodes a string_data_item at off: a ULEB128 UTF-16 length
// followed by modified UTF-8 bytes. Surrogate pairs encoded as two 3-byte
// sequences are combined. Encoded NUL characters are dropped.
func DecodeMUTF8(data []byte, off int) (string, error) {
	r := cursor.NewAt(data, off)
	units, err := r.Uleb128()
	if err != nil {
		return "", err
	}
	return readMUTF8(r, units)
}

func readMUTF8(r *cursor.Reader, units uint32) (string, error) {
	var sb strings.Builder
	var pendingHigh rune = -1

	flush := func() {
		if pendingHigh >= 0 {
			sb.WriteRune(utf16.DecodeRune(pendingHigh, 0))
			pendingHigh = -1
		}
	}

	for n := uint32(0); n < units; n++ {
		start := r.Pos()
		b0, err := r.U8()
		if err != nil {
			return "", err
		}

		var c rune
		switch {
		case b0 < 0x80:
			c = rune(b0)
		case b0&0xe0 == 0xc0:
			b1, err := r.U8()
			if err != nil {
				return "", err
			}
			if b1&0xc0 != 0x80 {
				return "", badMUTF8(start)
			}
			c = rune(b0&0x1f)<<6 | rune(b1&0x3f)
		case b0&0xf0 == 0xe0:
			b1, err := r.U8()
			if err != nil {
				return "", err
			}
			b2, err := r.U8()
			if err != nil {
				return "", err
			}
			if b1&0xc0 != 0x80 || b2&0xc0 != 0x80 {
				return "", badMUTF8(start)
			}
			c = rune(b0&0x0f)<<12 | rune(b1&0x3f)<<6 | rune(b2&0x3f)
		default:
			return "", badMUTF8(start)
		}

		switch {
		case utf16.IsSurrogate(c) && c < 0xdc00:
			flush()
			pendingHigh = c
		case utf16.IsSurrogate(c):
			if pendingHigh >= 0 {
				sb.WriteRune(utf16.DecodeRune(pendingHigh, c))
				pendingHigh = -1
			} else {
				sb.WriteRune(utf16.DecodeRune(0, c))
			}
		default:
			flush()
			if c != 0 {
				sb.WriteRune(c)
			}
		}
	}
	flush()
	return sb.String(), nil
}

func badMUTF8(off int) error {
	return apkerr.Errorf("", int64(off), "%w: invalid modified UTF-8 sequence", apkerr.ErrMalformedHeader)
}
