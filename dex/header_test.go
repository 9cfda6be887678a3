package dex_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droidscope/apkparser/apkerr"
	"github.com/droidscope/apkparser/dex"
)

var headerSample = []byte("" +
	"\x64\x65\x78\x0A\x30\x33\x35\x00\x3F\x14\x98\x2C\x25\x77\x9B\x8D" +
	"\x7C\xF0\x0B\xFA\x4D\x7B\x03\xAD\x4C\x15\xBC\x31\x4F\xD3\x4B\x71" +
	"\x58\x18\x00\x00\x70\x00\x00\x00\x78\x56\x34\x12\x00\x00\x00\x00" +
	"\x00\x00\x00\x00\x88\x17\x00\x00\x7A\x00\x00\x00\x70\x00\x00\x00" +
	"\x23\x00\x00\x00\x58\x02\x00\x00\x0E\x00\x00\x00\xE4\x02\x00\x00" +
	"\x10\x00\x00\x00\x8C\x03\x00\x00\x2C\x00\x00\x00\x0C\x04\x00\x00" +
	"\x0A\x00\x00\x00\x6C\x05\x00\x00\xAC\x11\x00\x00\xAC\x06\x00\x00")

func TestParseHeader(t *testing.T) {
	t.Parallel()

	h, err := dex.ParseHeader(headerSample)
	require.NoError(t, err)

	assert.Equal(t, "dex\n035\x00", string(h.Magic[:]))
	assert.Equal(t, "035", h.Version())
	assert.Equal(t, uint32(748164159), h.Checksum)
	assert.Len(t, h.Signature, 20)
	assert.Equal(t, uint32(6232), h.FileSize)
	assert.Equal(t, uint32(0x70), h.HeaderSize)
	assert.Equal(t, uint32(0x12345678), h.EndianTag)

	want := dex.Header{
		Magic:         h.Magic,
		Checksum:      748164159,
		Signature:     h.Signature,
		FileSize:      6232,
		HeaderSize:    0x70,
		EndianTag:     0x12345678,
		LinkSize:      0,
		LinkOff:       0,
		MapOff:        0x1788,
		StringIDsSize: 0x7a,
		StringIDsOff:  0x70,
		TypeIDsSize:   0x23,
		TypeIDsOff:    0x258,
		ProtoIDsSize:  0x0e,
		ProtoIDsOff:   0x2e4,
		FieldIDsSize:  0x10,
		FieldIDsOff:   0x38c,
		MethodIDsSize: 0x2c,
		MethodIDsOff:  0x40c,
		ClassDefsSize: 0x0a,
		ClassDefsOff:  0x56c,
		DataSize:      0x11ac,
		DataOff:       0x6ac,
	}
	assert.Equal(t, want, h)
}

func TestParseHeaderErrors(t *testing.T) {
	t.Parallel()

	patch := func(off int, b ...byte) []byte {
		res := append([]byte(nil), headerSample...)
		copy(res[off:], b)
		return res
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", headerSample[:0x40], apkerr.ErrOutOfBounds},
		{"bad magic", patch(0, 'd', 'e', 'y'), apkerr.ErrMalformedHeader},
		{"old version", patch(6, '4'), apkerr.ErrMalformedHeader},
		{"reverse endian", patch(0x28, 0x12, 0x34, 0x56, 0x78), apkerr.ErrMalformedHeader},
		{"header size", patch(0x24, 0x78), apkerr.ErrMalformedHeader},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := dex.ParseHeader(tc.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	for _, v := range []byte("56789") {
		assert.True(t, dex.IsDex(patch(6, v)), "version 03%c", v)
	}
	assert.False(t, dex.IsDex(headerSample[:4]))
}

func TestDecodeMUTF8(t *testing.T) {
	t.Parallel()

	sample := []byte("\x0b\x61\x62\x63\xc0\x80\xc8\x85\xe3\x81\x82\xe3\x81\x84\xe3\x81\x86\xed\xa0\x81\xed\xb0\x80\xc0\x80")
	s, err := dex.DecodeMUTF8(sample, 0)
	require.NoError(t, err)
	assert.Equal(t, "abcȅあいう\U00010400", s)

	_, err = dex.DecodeMUTF8(sample[:10], 0)
	assert.True(t, errors.Is(err, apkerr.ErrOutOfBounds))

	_, err = dex.DecodeMUTF8([]byte{0x01, 0xc8, 0x05}, 0)
	assert.True(t, errors.Is(err, apkerr.ErrMalformedHeader))
}
