package apkparser

import (
	"github.com/droidscope/apkparser/apkerr"
	"github.com/droidscope/apkparser/internal/cursor"
)

const (
	chunkStringTable   = 0x0001
	chunkTable         = 0x0002
	chunkAxmlFile      = 0x0003
	chunkResourceIds   = 0x0180
	chunkTablePackage  = 0x0200
	chunkTableType     = 0x0201
	chunkTableTypeSpec = 0x0202

	// AXML tag words: chunk type in the low half, header size 0x10 in the high half.
	tagStartDocument = 0x00100100
	tagEndDocument   = 0x00100101
	tagStartTag      = 0x00100102
	tagEndTag        = 0x00100103
	tagText          = 0x00100104
	tagCdata         = 0x00100105
	tagEntityRef     = 0x00100106

	attrTypeNull      = 0x00
	attrTypeReference = 0x01
	attrTypeAttribute = 0x02
	attrTypeString    = 0x03
	attrTypeFloat     = 0x04
	attrTypeDimension = 0x05
	attrTypeFraction  = 0x06
	attrTypeIntDec    = 0x10
	attrTypeIntHex    = 0x11
	attrTypeIntBool   = 0x12

	attrTypeIntColorArgb8 = 0x1c
	attrTypeIntColorRgb8  = 0x1d
	attrTypeIntColorArgb4 = 0x1e
	attrTypeIntColorRgb4  = 0x1f

	chunkHeaderSize = (2 + 2 + 4)

	// NoIndex marks an absent string or table reference.
	NoIndex = 0xFFFFFFFF
	// NoEntry marks an absent entry in a type chunk.
	NoEntry = 0xFFFFFFFF
)

// ChunkHeader is the {type, header_size, size} prefix shared by every AXML and ARSC record.
type ChunkHeader struct {
	Type       uint16
	HeaderSize uint16
	Size       uint32

	// Offset of the chunk in the buffer it was read from.
	Offset int
}

// End is the offset just past the chunk.
func (h ChunkHeader) End() int {
	return h.Offset + int(h.Size)
}

// Body is the offset just past the chunk header.
func (h ChunkHeader) Body() int {
	return h.Offset + int(h.HeaderSize)
}

// parseChunkHeader reads a chunk header at the cursor and checks that the
// whole chunk fits in the buffer. The cursor is left after the 8 header bytes.
func parseChunkHeader(r *cursor.Reader) (ChunkHeader, error) {
	h := ChunkHeader{Offset: r.Pos()}

	var err error
	if h.Type, err = r.U16(); err != nil {
		return h, err
	}
	if h.HeaderSize, err = r.U16(); err != nil {
		return h, err
	}
	if h.Size, err = r.U32(); err != nil {
		return h, err
	}

	if h.HeaderSize < chunkHeaderSize || h.Size < uint32(h.HeaderSize) {
		return h, apkerr.Errorf("", int64(h.Offset), "%w: chunk 0x%04x header size %d, size %d",
			apkerr.ErrMalformedHeader, h.Type, h.HeaderSize, h.Size)
	}
	if uint64(h.Offset)+uint64(h.Size) > uint64(r.Len()) {
		return h, apkerr.Errorf("", int64(h.Offset), "%w: chunk 0x%04x of size %d overruns buffer of %d",
			apkerr.ErrOutOfBounds, h.Type, h.Size, r.Len())
	}
	return h, nil
}
