package apkparser

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/flate"
)

const (
	localHeaderSize    = 30
	flagDataDescriptor = 0x8
	scanChunkSize      = 64 * 1024
)

var localHeaderMagic = []byte{0x50, 0x4B, 0x03, 0x04}

var errReadAfterClose = errors.New("read after close")

// Archive is a read-only view of the entries of an APK. Archives Android
// accepts but archive/zip rejects are read by scanning the local file headers.
type Archive struct {
	// Entries by cleaned name.
	Entries map[string]*ArchiveEntry

	// Ordered lists the entries as they were found. A crafted archive may
	// list the same entry more than once.
	Ordered []*ArchiveEntry

	closer io.Closer
}

// ArchiveEntry is one named entry. It may be backed by several local entries
// sharing the name; ReadAll uses the first one that reads cleanly.
type ArchiveEntry struct {
	Name  string
	IsDir bool

	header  *zip.FileHeader
	sources []entrySource
}

type entrySource func() (io.ReadCloser, error)

// OpenArchive opens the APK at path.
func OpenArchive(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	a, err := NewArchive(f, fi.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	a.closer = f
	return a, nil
}

// OpenArchiveBytes opens an APK held in memory.
func OpenArchiveBytes(data []byte) (*Archive, error) {
	return NewArchive(bytes.NewReader(data), int64(len(data)))
}

// NewArchive reads the archive of the given size from r.
func NewArchive(r io.ReaderAt, size int64) (*Archive, error) {
	a := &Archive{Entries: make(map[string]*ArchiveEntry)}

	zr, cdErr := readCentralDirectory(r, size)
	if cdErr == nil {
		a.addCentralDirectory(zr)
		return a, nil
	}

	if err := a.scanLocalHeaders(r, size); err != nil {
		return nil, err
	}
	if len(a.Entries) == 0 {
		return nil, fmt.Errorf("no zip entries found: %w", cdErr)
	}
	return a, nil
}

func readCentralDirectory(r io.ReaderAt, size int64) (zr *zip.Reader, err error) {
	defer func() {
		if pn := recover(); pn != nil {
			zr, err = nil, fmt.Errorf("archive/zip: %v", pn)
		}
	}()

	zr, err = zip.NewReader(r, size)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, err
	}
	zr.RegisterDecompressor(zip.Deflate, newFlateReader)
	return zr, nil
}

func (a *Archive) entry(name string, isDir bool) *ArchiveEntry {
	e := a.Entries[name]
	if e == nil {
		e = &ArchiveEntry{Name: name, IsDir: isDir}
		a.Entries[name] = e
	}
	return e
}

func (a *Archive) addCentralDirectory(zr *zip.Reader) {
	for _, zf := range zr.File {
		if zf.Method != zip.Store && zf.Method != zip.Deflate {
			// Android inflates unknown methods, except for the entries it
			// maps directly, which it reads stored.
			switch zf.Name {
			case manifestEntry, resourcesEntry:
				zf.Method = zip.Store
				zf.CompressedSize64 = zf.UncompressedSize64
			default:
				zf.Method = zip.Deflate
			}
		}

		name := path.Clean(zf.Name)
		if _, dup := a.Entries[name]; dup {
			// the first entry wins, later ones are fallbacks
			a.Entries[name].sources = append(a.Entries[name].sources, zf.Open)
			continue
		}

		e := a.entry(name, zf.FileInfo().IsDir())
		e.header = &zf.FileHeader
		e.sources = append(e.sources, zf.Open)
		a.Ordered = append(a.Ordered, e)
	}
}

// scanLocalHeaders walks every local file header signature. Later entries
// with the same name take precedence, as they do on Android.
func (a *Archive) scanLocalHeaders(r io.ReaderAt, size int64) error {
	buf := make([]byte, scanChunkSize)
	for off := int64(0); ; off += int64(len(localHeaderMagic)) {
		var err error
		off, err = findLocalHeader(r, buf, off, size)
		if off < 0 || err != nil {
			return err
		}

		var hdr [localHeaderSize]byte
		if _, err := r.ReadAt(hdr[:], off); err != nil {
			return ignoreEOF(err)
		}
		flags := binary.LittleEndian.Uint16(hdr[6:])
		method := binary.LittleEndian.Uint16(hdr[8:])
		compressed := int64(binary.LittleEndian.Uint32(hdr[18:]))
		nameLen := int64(binary.LittleEndian.Uint16(hdr[26:]))
		extraLen := int64(binary.LittleEndian.Uint16(hdr[28:]))

		raw := make([]byte, nameLen)
		if _, err := r.ReadAt(raw, off+localHeaderSize); err != nil {
			return ignoreEOF(err)
		}

		dataOff := off + localHeaderSize + nameLen + extraLen
		n := max(size-dataOff, 0)
		if flags&flagDataDescriptor == 0 && compressed > 0 && compressed < n {
			n = compressed
		}

		name := string(raw)
		e := a.entry(path.Clean(name), strings.HasSuffix(name, "/"))
		e.sources = append([]entrySource{localSource(r, dataOff, n, method)}, e.sources...)
		a.Ordered = append(a.Ordered, e)
	}
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}
	return err
}

// findLocalHeader returns the offset of the next signature at or after from, -1 if none.
func findLocalHeader(r io.ReaderAt, buf []byte, from, size int64) (int64, error) {
	for off := from; off < size; {
		n, err := r.ReadAt(buf, off)
		if err != nil && !errors.Is(err, io.EOF) {
			return -1, err
		}
		if i := bytes.Index(buf[:n], localHeaderMagic); i >= 0 {
			return off + int64(i), nil
		}
		if n < len(localHeaderMagic) {
			break
		}
		// keep a partial signature at the chunk boundary in the next read
		off += int64(n - len(localHeaderMagic) + 1)
	}
	return -1, nil
}

func localSource(r io.ReaderAt, off, n int64, method uint16) entrySource {
	return func() (io.ReadCloser, error) {
		sr := io.NewSectionReader(r, off, n)
		// Android inflates everything that isn't stored
		if method == zip.Store {
			return io.NopCloser(sr), nil
		}
		return newFlateReader(sr), nil
	}
}

// Header returns the central directory header, nil for scanned entries.
func (e *ArchiveEntry) Header() *zip.FileHeader {
	return e.header
}

// ReadAll returns the content of the first candidate that reads cleanly,
// cut at limit bytes.
func (e *ArchiveEntry) ReadAll(limit int64) ([]byte, error) {
	if len(e.sources) == 0 {
		return nil, fmt.Errorf("%s: %w", e.Name, io.ErrUnexpectedEOF)
	}

	var lastErr error
	for _, open := range e.sources {
		data, err := readSource(open, limit)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func readSource(open entrySource, limit int64) ([]byte, error) {
	rc, err := open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, limit))
}

// ReadEntry reads the named entry. A missing entry is os.ErrNotExist.
func (a *Archive) ReadEntry(name string, limit int64) ([]byte, error) {
	e := a.Entries[name]
	if e == nil || e.IsDir {
		return nil, fmt.Errorf("%s: %w", name, os.ErrNotExist)
	}
	return e.ReadAll(limit)
}

// Glob returns the file entries whose name matches pattern (path.Match syntax), sorted by name.
func (a *Archive) Glob(pattern string) []*ArchiveEntry {
	var res []*ArchiveEntry
	for name, e := range a.Entries {
		if ok, _ := path.Match(pattern, name); ok && !e.IsDir {
			res = append(res, e)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// Close releases the file opened by OpenArchive.
func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

var flateReaderPool sync.Pool

func newFlateReader(r io.Reader) io.ReadCloser {
	fr, ok := flateReaderPool.Get().(io.ReadCloser)
	if ok {
		fr.(flate.Resetter).Reset(r, nil)
	} else {
		fr = flate.NewReader(r)
	}
	return &pooledFlateReader{fr: fr}
}

type pooledFlateReader struct {
	mu sync.Mutex // guards Close and Read
	fr io.ReadCloser
}

func (r *pooledFlateReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fr == nil {
		return 0, errReadAfterClose
	}
	return r.fr.Read(p)
}

func (r *pooledFlateReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.fr != nil {
		err = r.fr.Close()
		flateReaderPool.Put(r.fr)
		r.fr = nil
	}
	return err
}
