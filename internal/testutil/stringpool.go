package testutil

import "unicode/utf16"

const (
	NoIndex = 0xFFFFFFFF

	stringPoolUTF8 = 1 << 8
)

// StringPool encodes strs as a string pool chunk (type 0x0001).
func StringPool(strs []string, utf8 bool) []byte {
	var data []byte
	offsets := make([]uint32, len(strs))
	for i, s := range strs {
		offsets[i] = uint32(len(data))
		if utf8 {
			data = appendLen8(data, len(utf16.Encode([]rune(s))))
			data = appendLen8(data, len(s))
			data = append(data, s...)
			data = append(data, 0)
		} else {
			units := utf16.Encode([]rune(s))
			data = appendLen16(data, len(units))
			for _, u := range units {
				data = appendU16(data, u)
			}
			data = appendU16(data, 0)
		}
	}
	data = pad4(data)

	const headerSize = 28
	stringsStart := headerSize + 4*len(strs)

	var flags uint32
	if utf8 {
		flags |= stringPoolUTF8
	}

	b := appendU16(nil, 0x0001)
	b = appendU16(b, headerSize)
	b = appendU32(b, uint32(stringsStart+len(data)))
	b = appendU32(b, uint32(len(strs)))
	b = appendU32(b, 0) // styles
	b = appendU32(b, flags)
	b = appendU32(b, uint32(stringsStart))
	b = appendU32(b, 0)
	for _, off := range offsets {
		b = appendU32(b, off)
	}
	return append(b, data...)
}

func appendLen8(b []byte, n int) []byte {
	if n > 0x7f {
		return append(b, byte(n>>8)|0x80, byte(n))
	}
	return append(b, byte(n))
}

func appendLen16(b []byte, n int) []byte {
	if n > 0x7fff {
		b = appendU16(b, uint16(n>>16)|0x8000)
		return appendU16(b, uint16(n))
	}
	return appendU16(b, uint16(n))
}

// Interner assigns stable pool indices to strings in insertion order.
type Interner struct {
	list  []string
	index map[string]uint32
}

func (in *Interner) Index(s string) uint32 {
	if in.index == nil {
		in.index = make(map[string]uint32)
	}
	if idx, ok := in.index[s]; ok {
		return idx
	}
	idx := uint32(len(in.list))
	in.list = append(in.list, s)
	in.index[s] = idx
	return idx
}

func (in *Interner) Strings() []string {
	return in.list
}
