package apkparser_test

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droidscope/apkparser"
)

type zipEntry struct {
	name   string
	data   []byte
	method uint16
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		fw, err := w.CreateHeader(&zip.FileHeader{Name: e.name, Method: e.method})
		require.NoError(t, err)
		_, err = fw.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestArchive(t *testing.T) {
	t.Parallel()

	big := []byte(strings.Repeat("compressible ", 1000))
	data := buildZip(t,
		zipEntry{"AndroidManifest.xml", big, zip.Deflate},
		zipEntry{"resources.arsc", []byte("stored"), zip.Store},
		zipEntry{"classes2.dex", []byte("two"), zip.Deflate},
		zipEntry{"classes.dex", []byte("one"), zip.Deflate},
		zipEntry{"res/", nil, zip.Store},
		zipEntry{"res/layout/main.xml", []byte("main"), zip.Deflate},
		zipEntry{"res/layout-land/main.xml", []byte("land"), zip.Deflate},
		zipEntry{"res/raw/blob.xml", []byte("raw"), zip.Deflate},
	)

	a, err := apkparser.OpenArchiveBytes(data)
	require.NoError(t, err)
	defer a.Close()

	assert.Len(t, a.Ordered, 8)
	require.NotNil(t, a.Entries["res"])
	assert.True(t, a.Entries["res"].IsDir)

	got, err := a.Entries["AndroidManifest.xml"].ReadAll(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, big, got)
	require.NotNil(t, a.Entries["AndroidManifest.xml"].Header())

	got, err = a.Entries["resources.arsc"].ReadAll(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, []byte("stored"), got)

	// entries can be read more than once
	got, err = a.Entries["AndroidManifest.xml"].ReadAll(10)
	require.NoError(t, err)
	assert.Equal(t, big[:10], got)

	var names []string
	for _, f := range a.Glob("classes*.dex") {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"classes.dex", "classes2.dex"}, names)

	names = nil
	for _, f := range a.Glob("res/layout*/*.xml") {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"res/layout-land/main.xml", "res/layout/main.xml"}, names)

	require.NoError(t, a.Close())
}

func TestArchiveBrokenCentralDirectory(t *testing.T) {
	t.Parallel()

	data := buildZip(t,
		zipEntry{"AndroidManifest.xml", []byte("manifest data"), zip.Deflate},
		zipEntry{"classes.dex", []byte("dex data"), zip.Deflate},
	)
	// drop the end of central directory record
	data = data[:len(data)-22]

	a, err := apkparser.OpenArchiveBytes(data)
	require.NoError(t, err)
	defer a.Close()

	f := a.Entries["AndroidManifest.xml"]
	require.NotNil(t, f)
	assert.Nil(t, f.Header())

	got, err := f.ReadAll(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, []byte("manifest data"), got)

	got, err = a.Entries["classes.dex"].ReadAll(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, []byte("dex data"), got)
}

func TestArchiveNotAZip(t *testing.T) {
	t.Parallel()

	_, err := apkparser.OpenArchiveBytes([]byte("definitely not a zip file"))
	assert.Error(t, err)
}

func TestArchiveDuplicateEntries(t *testing.T) {
	t.Parallel()

	data := buildZip(t,
		zipEntry{"classes.dex", []byte("first"), zip.Deflate},
		zipEntry{"classes.dex", []byte("second"), zip.Deflate},
	)

	a, err := apkparser.OpenArchiveBytes(data)
	require.NoError(t, err)
	assert.Len(t, a.Ordered, 1)
	got, err := a.ReadEntry("classes.dex", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)

	// without a central directory the last local entry wins
	a, err = apkparser.OpenArchiveBytes(data[:len(data)-22])
	require.NoError(t, err)
	assert.Len(t, a.Ordered, 2)
	assert.Same(t, a.Ordered[0], a.Ordered[1])
	got, err = a.ReadEntry("classes.dex", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestArchiveReadEntry(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sample.apk")
	require.NoError(t, os.WriteFile(path, buildZip(t,
		zipEntry{"res/", nil, zip.Store},
		zipEntry{"resources.arsc", []byte("table"), zip.Store},
	), 0o644))

	a, err := apkparser.OpenArchive(path)
	require.NoError(t, err)

	got, err := a.ReadEntry("resources.arsc", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, []byte("table"), got)

	_, err = a.ReadEntry("AndroidManifest.xml", 1<<20)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = a.ReadEntry("res", 1<<20)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err = apkparser.OpenArchive(filepath.Join(t.TempDir(), "missing.apk"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
