package apkparser_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droidscope/apkparser"
	"github.com/droidscope/apkparser/apkerr"
	"github.com/droidscope/apkparser/internal/testutil"
)

func TestStringPoolEncodings(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 300)
	strs := []string{"", "manifest", "versionCode", "日本語", "\U00010400 surrogate", long}

	for _, utf8 := range []bool{true, false} {
		pool, err := apkparser.DecodeStringPool(testutil.StringPool(strs, utf8), 0)
		require.NoError(t, err)
		assert.Equal(t, utf8, pool.IsUTF8())
		assert.Equal(t, len(strs), pool.Len())
		assert.Zero(t, pool.StyleCount())
		if diff := cmp.Diff(strs, pool.Strings()); diff != "" {
			t.Errorf("utf8=%v strings mismatch (-want +got):\n%s", utf8, diff)
		}
	}
}

func TestStringPoolAtOffset(t *testing.T) {
	t.Parallel()

	data := append([]byte{0xde, 0xad, 0xbe, 0xef}, testutil.StringPool([]string{"a", "b"}, false)...)
	pool, err := apkparser.DecodeStringPool(data, 4)
	require.NoError(t, err)

	s, ok := pool.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "b", s)
}

func TestStringPoolIndex(t *testing.T) {
	t.Parallel()

	pool, err := apkparser.DecodeStringPool(testutil.StringPool([]string{"a"}, true), 0)
	require.NoError(t, err)

	_, ok := pool.Get(apkparser.NoIndex)
	assert.False(t, ok)

	_, err = pool.Lookup(1)
	assert.True(t, errors.Is(err, apkerr.ErrInvalidIndex))
	assert.True(t, apkerr.IsLookup(err))

	s, err := pool.Lookup(0)
	require.NoError(t, err)
	assert.Equal(t, "a", s)
}

func TestStringPoolMalformed(t *testing.T) {
	t.Parallel()

	valid := testutil.StringPool([]string{"hello", "world"}, true)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"truncated header", valid[:6], apkerr.ErrOutOfBounds},
		{"truncated chunk", valid[:len(valid)-4], apkerr.ErrOutOfBounds},
		{"wrong chunk type", append([]byte{0x03, 0x00}, valid[2:]...), apkerr.ErrMalformedHeader},
		{"string past chunk end", func() []byte {
			b := append([]byte(nil), valid...)
			// second string offset
			b[32] = 0xf0
			return b
		}(), apkerr.ErrOutOfBounds},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := apkparser.DecodeStringPool(tc.data, 0)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)

			var de *apkerr.DecodeError
			assert.True(t, errors.As(err, &de))
			assert.False(t, apkerr.IsLookup(err))
		})
	}
}
