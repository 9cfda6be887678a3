package dex

import (
	"bytes"
	"encoding/binary"
	"hash/adler32"

	"github.com/droidscope/apkparser/apkerr"
)

const (
	// https://source.android.com/devices/tech/dalvik/dex-format.html#endian-constant
	endianConstant     = 0x12345678
	reverseEndianConst = 0x78563412
	headerSize         = 0x70
)

// Header is the header_item. Field order matches the file layout so it can
// be filled with binary.Read.
type Header struct {
	Magic         [8]byte
	Checksum      uint32
	Signature     [20]byte
	FileSize      uint32
	HeaderSize    uint32
	EndianTag     uint32
	LinkSize      uint32
	LinkOff       uint32
	MapOff        uint32
	StringIDsSize uint32
	StringIDsOff  uint32
	TypeIDsSize   uint32
	TypeIDsOff    uint32
	ProtoIDsSize  uint32
	ProtoIDsOff   uint32
	FieldIDsSize  uint32
	FieldIDsOff   uint32
	MethodIDsSize uint32
	MethodIDsOff  uint32
	ClassDefsSize uint32
	ClassDefsOff  uint32
	DataSize      uint32
	DataOff       uint32
}

// Version returns the three digit format version from the magic, e.g. "035".
func (h *Header) Version() string {
	return string(h.Magic[4:7])
}

// IsDex reports whether data starts with a DEX magic this package accepts.
func IsDex(data []byte) bool {
	return len(data) >= 8 && validMagic(data[:8])
}

func validMagic(m []byte) bool {
	return bytes.HasPrefix(m, []byte("dex\n03")) && m[6] >= '5' && m[6] <= '9' && m[7] == 0
}

// ParseHeader decodes the 0x70 byte header. Only the header itself is
// validated; offsets are checked by Decode.
func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < headerSize {
		return h, apkerr.Errorf("dex", 0, "%w: header needs %d bytes, have %d", apkerr.ErrOutOfBounds, headerSize, len(data))
	}
	if err := binary.Read(bytes.NewReader(data[:headerSize]), binary.LittleEndian, &h); err != nil {
		return h, apkerr.Errorf("dex", 0, "%w: %s", apkerr.ErrMalformedHeader, err.Error())
	}

	if !validMagic(h.Magic[:]) {
		return h, apkerr.Errorf("dex", 0, "%w: bad magic %q", apkerr.ErrMalformedHeader, h.Magic[:])
	}
	switch h.EndianTag {
	case endianConstant:
	case reverseEndianConst:
		return h, apkerr.Errorf("dex", 0x28, "%w: big endian files are not supported", apkerr.ErrMalformedHeader)
	default:
		return h, apkerr.Errorf("dex", 0x28, "%w: endian tag 0x%08x", apkerr.ErrMalformedHeader, h.EndianTag)
	}
	if h.HeaderSize != headerSize {
		return h, apkerr.Errorf("dex", 0x24, "%w: header size 0x%x", apkerr.ErrMalformedHeader, h.HeaderSize)
	}
	return h, nil
}

// VerifyChecksum compares the header checksum with the adler32 of the rest of the file.
func VerifyChecksum(data []byte) bool {
	if len(data) < headerSize {
		return false
	}
	return adler32.Checksum(data[12:]) == binary.LittleEndian.Uint32(data[8:])
}
