package cursor_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droidscope/apkparser/apkerr"
	"github.com/droidscope/apkparser/internal/cursor"
	"github.com/droidscope/apkparser/internal/testutil"
)

func TestUleb128(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
		want uint32
		size int
	}{
		{"zero", []byte{0x00}, 0, 1},
		{"one", []byte{0x01}, 1, 1},
		{"max single byte", []byte{0x7f}, 127, 1},
		{"two bytes", []byte{0x80, 0x7f}, 16256, 2},
		{"three bytes", []byte{0xe5, 0x8e, 0x26}, 624485, 3},
		{"trailing data ignored", []byte{0x01, 0xff}, 1, 1},
		{"max uint32", []byte{0xff, 0xff, 0xff, 0xff, 0x0f}, math.MaxUint32, 5},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			v, n, err := cursor.Uleb128(tc.in, 0)
			require.NoError(t, err)
			assert.Equal(t, tc.want, v)
			assert.Equal(t, tc.size, n)
		})
	}
}

func TestUleb128p1(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
		want int64
	}{
		{"no index", []byte{0x00}, -1},
		{"zero", []byte{0x01}, 0},
		{"single byte", []byte{0x7f}, 126},
		{"two bytes", []byte{0x80, 0x7f}, 16255},
		{"max", []byte{0xff, 0xff, 0xff, 0xff, 0x0f}, math.MaxUint32 - 1},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			v, _, err := cursor.Uleb128p1(tc.in, 0)
			require.NoError(t, err)
			assert.Equal(t, tc.want, v)
		})
	}
}

func TestSleb128(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
		want int32
	}{
		{"zero", []byte{0x00}, 0},
		{"one", []byte{0x01}, 1},
		{"minus one", []byte{0x7f}, -1},
		{"minus 128", []byte{0x80, 0x7f}, -128},
		{"positive with bit 6 clear", []byte{0x80, 0x01}, 128},
		{"min int32", []byte{0x80, 0x80, 0x80, 0x80, 0x78}, math.MinInt32},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			v, n, err := cursor.Sleb128(tc.in, 0)
			require.NoError(t, err)
			assert.Equal(t, tc.want, v)
			assert.Equal(t, len(tc.in), n)
		})
	}
}

func TestLeb128RoundTrip(t *testing.T) {
	t.Parallel()

	for _, v := range []uint32{0, 1, 127, 128, 300, 16383, 16384, 1 << 21, 1<<28 - 1, 1 << 28, math.MaxUint32} {
		b := testutil.AppendUleb128(nil, v)
		got, n, err := cursor.Uleb128(b, 0)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(b), n)
	}
	for _, v := range []int32{0, 1, -1, 63, -64, 64, -65, 8191, -8192, math.MaxInt32, math.MinInt32} {
		b := testutil.AppendSleb128(nil, v)
		got, n, err := cursor.Sleb128(b, 0)
		require.NoError(t, err)
		assert.Equal(t, v, got, "value %d", v)
		assert.Equal(t, len(b), n)
	}
}

func TestLeb128Errors(t *testing.T) {
	t.Parallel()

	_, _, err := cursor.Uleb128([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}, 0)
	assert.True(t, errors.Is(err, apkerr.ErrMalformedHeader), "got %v", err)

	_, _, err = cursor.Uleb128([]byte{0x80, 0x80}, 0)
	assert.True(t, errors.Is(err, apkerr.ErrOutOfBounds), "got %v", err)

	var de *apkerr.DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, int64(2), de.Offset)

	_, _, err = cursor.Sleb128(nil, 0)
	assert.True(t, errors.Is(err, apkerr.ErrOutOfBounds))
}

func TestLeb128Overflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     []byte
		signed bool
	}{
		{"unsigned bit 32", []byte{0xff, 0xff, 0xff, 0xff, 0x1f}, false},
		{"unsigned bit 34", []byte{0x80, 0x80, 0x80, 0x80, 0x40}, false},
		{"signed above max int32", []byte{0x80, 0x80, 0x80, 0x80, 0x08}, true},
		{"signed below min int32", []byte{0xff, 0xff, 0xff, 0xff, 0x77}, true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var err error
			if tc.signed {
				_, _, err = cursor.Sleb128(tc.in, 0)
			} else {
				_, _, err = cursor.Uleb128(tc.in, 0)
			}
			assert.True(t, errors.Is(err, apkerr.ErrMalformedHeader), "got %v", err)
		})
	}

	r := cursor.New([]byte{0xff, 0xff, 0xff, 0xff, 0x1f})
	_, err := r.Uleb128()
	assert.True(t, errors.Is(err, apkerr.ErrMalformedHeader), "got %v", err)
}

func TestReader(t *testing.T) {
	t.Parallel()

	r := cursor.New([]byte{0x01, 0x34, 0x12, 0x78, 0x56, 0x34, 0x12, 0xe5, 0x8e, 0x26, 0xaa})

	b, err := r.U8()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), b)

	h, err := r.U16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), h)

	w, err := r.U32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), w)

	v, err := r.Uleb128()
	require.NoError(t, err)
	assert.Equal(t, uint32(624485), v)
	assert.Equal(t, 10, r.Pos())
	assert.Equal(t, 1, r.Remaining())

	_, err = r.U16()
	assert.True(t, errors.Is(err, apkerr.ErrOutOfBounds))
	assert.Equal(t, 10, r.Pos(), "failed reads must not move the cursor")

	at, err := r.U32At(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), at)

	r.Seek(1)
	sub, err := r.Bytes(2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x34, 0x12}, sub)

	assert.Error(t, r.Skip(100))
}
