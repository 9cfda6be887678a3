package apkparser

import (
	"fmt"

	"golang.org/x/text/encoding/unicode"

	"github.com/droidscope/apkparser/apkerr"
	"github.com/droidscope/apkparser/internal/cursor"
)

const (
	stringFlagSorted = 0x00000001
	stringFlagUtf8   = 0x00000100

	maxStringCount = 2 * 1024 * 1024
)

// StringPool is a decoded string pool chunk, shared by AXML and ARSC files.
type StringPool struct {
	isUtf8     bool
	styleCount uint32
	strings    []string
}

// DecodeStringPool decodes the string pool chunk starting at off in data.
func DecodeStringPool(data []byte, off int) (*StringPool, error) {
	pool, _, err := parseStringPool(cursor.NewAt(data, off))
	if err != nil {
		return nil, apkerr.WithFormat("stringpool", err)
	}
	return pool, nil
}

// parseStringPool decodes the chunk at the cursor and leaves the cursor at its end.
func parseStringPool(r *cursor.Reader) (*StringPool, ChunkHeader, error) {
	h, err := parseChunkHeader(r)
	if err != nil {
		return nil, h, err
	}
	if h.Type != chunkStringTable {
		return nil, h, apkerr.Errorf("", int64(h.Offset), "%w: chunk 0x%04x, expected string pool",
			apkerr.ErrMalformedHeader, h.Type)
	}

	var stringCnt, styleCnt, flags, stringsStart uint32
	for _, v := range []*uint32{&stringCnt, &styleCnt, &flags, &stringsStart} {
		if *v, err = r.U32(); err != nil {
			return nil, h, err
		}
	}
	// styles offset
	if err := r.Skip(4); err != nil {
		return nil, h, err
	}

	if stringCnt >= maxStringCount {
		return nil, h, apkerr.Errorf("", int64(h.Offset), "%w: too many strings (%d)", apkerr.ErrMalformedHeader, stringCnt)
	}

	pool := &StringPool{
		isUtf8:     flags&stringFlagUtf8 != 0,
		styleCount: styleCnt,
		strings:    make([]string, stringCnt),
	}

	// string data must stay inside the chunk
	chunk := r.Data()[:h.End()]
	r.Seek(h.Body())
	base := h.Offset + int(stringsStart)
	for i := range pool.strings {
		rel, err := r.U32()
		if err != nil {
			return nil, h, err
		}
		if r.Pos() > h.End() {
			return nil, h, apkerr.Errorf("", int64(r.Pos()), "%w: string offsets overrun chunk", apkerr.ErrOutOfBounds)
		}

		sr := cursor.NewAt(chunk, base+int(rel))
		if pool.isUtf8 {
			pool.strings[i], err = parseString8(sr)
		} else {
			pool.strings[i], err = parseString16(sr)
		}
		if err != nil {
			return nil, h, fmt.Errorf("string %d: %w", i, err)
		}
	}

	r.Seek(h.End())
	return pool, h, nil
}

func parseString8Len(r *cursor.Reader) (int, error) {
	first, err := r.U8()
	if err != nil {
		return 0, err
	}
	if first&0x80 == 0 {
		return int(first), nil
	}
	second, err := r.U8()
	if err != nil {
		return 0, err
	}
	return int(first&0x7f)<<8 | int(second), nil
}

func parseString8(r *cursor.Reader) (string, error) {
	// UTF-16 length, unused
	if _, err := parseString8Len(r); err != nil {
		return "", err
	}
	n, err := parseString8Len(r)
	if err != nil {
		return "", err
	}
	b, err := r.Bytes(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var utf16Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func parseString16(r *cursor.Reader) (string, error) {
	first, err := r.U16()
	if err != nil {
		return "", err
	}
	n := int(first)
	if first&0x8000 != 0 {
		second, err := r.U16()
		if err != nil {
			return "", err
		}
		n = int(first&0x7fff)<<16 | int(second)
	}
	b, err := r.Bytes(n * 2)
	if err != nil {
		return "", err
	}
	return decodeUTF16(b)
}

func decodeUTF16(b []byte) (string, error) {
	out, err := utf16Decoder.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: %s", apkerr.ErrMalformedHeader, err.Error())
	}
	return string(out), nil
}

// Get returns the string at idx. NO_INDEX and out-of-range indices yield ok == false.
func (t *StringPool) Get(idx uint32) (string, bool) {
	if t == nil || idx == NoIndex || idx >= uint32(len(t.strings)) {
		return "", false
	}
	return t.strings[idx], true
}

// Lookup is Get with an error describing why the index is unusable.
func (t *StringPool) Lookup(idx uint32) (string, error) {
	s, ok := t.Get(idx)
	if !ok {
		return "", fmt.Errorf("%w: string %#x of %d", apkerr.ErrInvalidIndex, idx, t.Len())
	}
	return s, nil
}

// get is the decoder's shorthand where absent references render as "".
func (t *StringPool) get(idx uint32) string {
	s, _ := t.Get(idx)
	return s
}

func (t *StringPool) Len() int {
	if t == nil {
		return 0
	}
	return len(t.strings)
}

func (t *StringPool) IsUTF8() bool      { return t.isUtf8 }
func (t *StringPool) StyleCount() uint32 { return t.styleCount }

// Strings returns a copy of the pool contents.
func (t *StringPool) Strings() []string {
	return append([]string(nil), t.strings...)
}
