package dex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/droidscope/apkparser/dex"
)

func TestAccessFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		flags  dex.AccessFlags
		class  string
		method string
	}{
		{0x19, "public static final", "public static final"},
		{0xc0, "volatile transient", "bridge varargs"},
		{0x22, "private synchronized", "private synchronized"},
		{0x10001, "public constructor", "public constructor"},
		{0x601, "public interface abstract", "public interface abstract"},
		{0x20100, "native declared-synchronized", "native declared-synchronized"},
		{0, "", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.class, tc.flags.ClassString(), "class flags 0x%x", uint32(tc.flags))
		assert.Equal(t, tc.method, tc.flags.MethodString(), "method flags 0x%x", uint32(tc.flags))
	}
}

func TestTypeName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"V":                   "void",
		"Z":                   "boolean",
		"B":                   "byte",
		"S":                   "short",
		"C":                   "short",
		"I":                   "int",
		"J":                   "long",
		"F":                   "float",
		"D":                   "double",
		"[I":                  "int[]",
		"[[J":                 "long[][]",
		"Ljava/lang/String;":  "Ljava/lang/String;",
		"[Ljava/lang/Object;": "Ljava/lang/Object;[]",
	}
	for desc, want := range tests {
		assert.Equal(t, want, dex.TypeName(desc), desc)
	}
}
