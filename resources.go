package apkparser

import (
	"fmt"
	"strings"

	"github.com/droidscope/apkparser/apkerr"
	"github.com/droidscope/apkparser/internal/cursor"
)

const (
	packageNameSize = 256

	entryFlagComplex = 0x0001
)

// ResourceTable is a decoded resources.arsc file.
type ResourceTable struct {
	Strings  *StringPool
	Packages []*Package

	packageCount uint32
}

// Package is one package chunk with its type and key pools.
type Package struct {
	ID             uint32
	Name           string
	TypeStrings    *StringPool
	KeyStrings     *StringPool
	LastPublicType uint32
	LastPublicKey  uint32

	Specs map[uint8]*TypeSpec
	// Types holds every configuration chunk of a type id, in file order.
	Types map[uint8][]*TypeChunk

	typeIDs    map[string]uint8
	keyIDs     map[string]uint32
	entryIDs   map[uint8]map[string]uint16
	strings    localeStrings
	stringType uint8
}

type TypeSpec struct {
	ID         uint8
	EntryCount uint32
	Flags      []uint32
}

// TypeChunk holds the entries of one type for one configuration.
type TypeChunk struct {
	ID      uint8
	Config  Config
	Entries []*Entry // nil for NO_ENTRY
}

// Config is the part of ResTable_config the decoder extracts. Language and
// Country are "" when unset.
type Config struct {
	Size       uint32
	Language   string
	Country    string
	Density    uint16
	SdkVersion uint16
}

// Entry is a ResTable_entry. Complex entries have Value == nil and carry
// Parent and Count instead.
type Entry struct {
	Key    uint32
	Flags  uint16
	Value  *ResValue
	Parent uint32
	Count  uint32
}

func (e *Entry) IsComplex() bool {
	return e.Flags&entryFlagComplex != 0
}

// ResValue is a Res_value.
type ResValue struct {
	Size uint16
	Type uint8
	Data uint32
}

// Entry returns the entry at idx, nil when absent or out of range.
func (c *TypeChunk) Entry(idx uint16) *Entry {
	if int(idx) >= len(c.Entries) {
		return nil
	}
	return c.Entries[idx]
}

// DecodeResourceTable decodes a resources.arsc file. The chunk stream must
// contain only the global string pool, the table header and packages.
func DecodeResourceTable(data []byte) (*ResourceTable, error) {
	t, err := decodeResourceTable(data)
	if err != nil {
		return nil, apkerr.WithFormat("arsc", err)
	}
	return t, nil
}

func decodeResourceTable(data []byte) (*ResourceTable, error) {
	t := &ResourceTable{}
	r := cursor.New(data)

	if len(data) < chunkHeaderSize {
		return nil, apkerr.Errorf("arsc", 0, "%w: file of %d bytes", apkerr.ErrMalformedHeader, len(data))
	}

	for r.Remaining() > 0 {
		h, err := parseChunkHeader(r)
		if err != nil {
			return nil, err
		}

		switch h.Type {
		case chunkStringTable:
			r.Seek(h.Offset)
			if t.Strings, _, err = parseStringPool(r); err != nil {
				return nil, err
			}
		case chunkTable:
			if t.packageCount, err = r.U32(); err != nil {
				return nil, err
			}
			// packages and the pool are nested, continue right after the header
			r.Seek(h.Body())
		case chunkTablePackage:
			pkg, err := parsePackage(r.Data()[h.Offset:h.End()])
			if err != nil {
				return nil, apkerr.Rebase(err, int64(h.Offset), "arsc")
			}
			t.Packages = append(t.Packages, pkg)
			r.Seek(h.End())
		default:
			return nil, apkerr.Errorf("arsc", int64(h.Offset), "%w: 0x%04x", apkerr.ErrUnknownChunkType, h.Type)
		}
	}

	if t.Strings == nil {
		return nil, apkerr.Errorf("arsc", 0, "%w: no global string pool", apkerr.ErrMalformedHeader)
	}
	if int(t.packageCount) != len(t.Packages) {
		return nil, apkerr.Errorf("arsc", 0, "%w: header declares %d packages, found %d",
			apkerr.ErrMalformedHeader, t.packageCount, len(t.Packages))
	}

	for _, pkg := range t.Packages {
		pkg.buildIndexes(t)
	}
	return t, nil
}

// parsePackage decodes a package chunk. Offsets in errors are relative to it.
func parsePackage(data []byte) (*Package, error) {
	r := cursor.New(data)
	if _, err := parseChunkHeader(r); err != nil {
		return nil, err
	}

	var err error
	pkg := &Package{
		Specs: make(map[uint8]*TypeSpec),
		Types: make(map[uint8][]*TypeChunk),
	}

	if pkg.ID, err = r.U32(); err != nil {
		return nil, err
	}
	rawName, err := r.Bytes(packageNameSize)
	if err != nil {
		return nil, err
	}
	if pkg.Name, err = decodeUTF16(rawName); err != nil {
		return nil, err
	}
	if i := strings.IndexByte(pkg.Name, 0); i >= 0 {
		pkg.Name = pkg.Name[:i]
	}
	pkg.Name = strings.TrimSpace(pkg.Name)

	var typeStrings, keyStrings uint32
	for _, v := range []*uint32{&typeStrings, &pkg.LastPublicType, &keyStrings, &pkg.LastPublicKey} {
		if *v, err = r.U32(); err != nil {
			return nil, err
		}
	}

	if pkg.TypeStrings, _, err = parseStringPool(cursor.NewAt(data, int(typeStrings))); err != nil {
		return nil, fmt.Errorf("type strings: %w", err)
	}
	kr := cursor.NewAt(data, int(keyStrings))
	if pkg.KeyStrings, _, err = parseStringPool(kr); err != nil {
		return nil, fmt.Errorf("key strings: %w", err)
	}

	// type and type spec chunks follow the key pool
	for r := kr; r.Remaining() > 0; {
		ch, err := parseChunkHeader(r)
		if err != nil {
			return nil, err
		}
		chunk := data[ch.Offset:ch.End()]

		switch ch.Type {
		case chunkTableType:
			tc, err := parseTypeChunk(chunk)
			if err != nil {
				return nil, apkerr.Rebase(err, int64(ch.Offset), "")
			}
			pkg.Types[tc.ID] = append(pkg.Types[tc.ID], tc)
		case chunkTableTypeSpec:
			spec, err := parseTypeSpec(chunk)
			if err != nil {
				return nil, apkerr.Rebase(err, int64(ch.Offset), "")
			}
			pkg.Specs[spec.ID] = spec
		default:
			return nil, apkerr.Errorf("", int64(ch.Offset), "%w: 0x%04x in package %q",
				apkerr.ErrUnknownChunkType, ch.Type, pkg.Name)
		}
		r.Seek(ch.End())
	}
	return pkg, nil
}

func parseTypeSpec(data []byte) (*TypeSpec, error) {
	r := cursor.New(data)
	h, err := parseChunkHeader(r)
	if err != nil {
		return nil, err
	}

	spec := &TypeSpec{}
	if spec.ID, err = r.U8(); err != nil {
		return nil, err
	}
	if err := r.Skip(3); err != nil {
		return nil, err
	}
	if spec.EntryCount, err = r.U32(); err != nil {
		return nil, err
	}
	if spec.ID == 0 {
		return nil, apkerr.Errorf("", 8, "%w: type spec id 0", apkerr.ErrMalformedHeader)
	}

	r.Seek(h.Body())
	if uint64(spec.EntryCount)*4 > uint64(r.Remaining()) {
		return nil, apkerr.Errorf("", int64(h.Body()), "%w: %d spec flags", apkerr.ErrOutOfBounds, spec.EntryCount)
	}
	spec.Flags = make([]uint32, spec.EntryCount)
	for i := range spec.Flags {
		if spec.Flags[i], err = r.U32(); err != nil {
			return nil, err
		}
	}
	return spec, nil
}

func parseTypeChunk(data []byte) (*TypeChunk, error) {
	r := cursor.New(data)
	if _, err := parseChunkHeader(r); err != nil {
		return nil, err
	}

	tc := &TypeChunk{}
	var err error
	var entryCount, entriesStart uint32
	if tc.ID, err = r.U8(); err != nil {
		return nil, err
	}
	if err := r.Skip(3); err != nil {
		return nil, err
	}
	if entryCount, err = r.U32(); err != nil {
		return nil, err
	}
	if entriesStart, err = r.U32(); err != nil {
		return nil, err
	}
	if tc.ID == 0 {
		return nil, apkerr.Errorf("", 8, "%w: type id 0", apkerr.ErrMalformedHeader)
	}

	if tc.Config, err = parseConfig(r); err != nil {
		return nil, err
	}

	if uint64(entryCount)*4 > uint64(r.Remaining()) {
		return nil, apkerr.Errorf("", int64(r.Pos()), "%w: %d entry offsets", apkerr.ErrOutOfBounds, entryCount)
	}
	tc.Entries = make([]*Entry, entryCount)
	for i := range tc.Entries {
		off, err := r.U32()
		if err != nil {
			return nil, err
		}
		if off == NoEntry {
			continue
		}
		if tc.Entries[i], err = parseEntry(cursor.NewAt(data, int(entriesStart)+int(off))); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return tc, nil
}

// parseConfig reads a size-prefixed ResTable_config and leaves the cursor after it.
func parseConfig(r *cursor.Reader) (Config, error) {
	start := r.Pos()
	var c Config
	var err error
	if c.Size, err = r.U32(); err != nil {
		return c, err
	}
	if c.Size < 4 {
		return c, apkerr.Errorf("", int64(start), "%w: config size %d", apkerr.ErrMalformedHeader, c.Size)
	}
	r.Seek(start)
	raw, err := r.Bytes(int(c.Size))
	if err != nil {
		return c, err
	}

	if len(raw) >= 12 {
		c.Language = locale(raw[8:10])
		c.Country = locale(raw[10:12])
	}
	if len(raw) >= 16 {
		c.Density = uint16(raw[14]) | uint16(raw[15])<<8
	}
	if len(raw) >= 26 {
		c.SdkVersion = uint16(raw[24]) | uint16(raw[25])<<8
	}
	return c, nil
}

func locale(b []byte) string {
	if b[0] == 0 && b[1] == 0 {
		return ""
	}
	return string(b)
}

func parseEntry(r *cursor.Reader) (*Entry, error) {
	e := &Entry{}
	var err error
	// entry size
	if _, err = r.U16(); err != nil {
		return nil, err
	}
	if e.Flags, err = r.U16(); err != nil {
		return nil, err
	}
	if e.Key, err = r.U32(); err != nil {
		return nil, err
	}

	if e.IsComplex() {
		if e.Parent, err = r.U32(); err != nil {
			return nil, err
		}
		if e.Count, err = r.U32(); err != nil {
			return nil, err
		}
		return e, nil
	}

	v := &ResValue{}
	if v.Size, err = r.U16(); err != nil {
		return nil, err
	}
	// res0
	if err := r.Skip(1); err != nil {
		return nil, err
	}
	if v.Type, err = r.U8(); err != nil {
		return nil, err
	}
	if v.Data, err = r.U32(); err != nil {
		return nil, err
	}
	e.Value = v
	return e, nil
}

// Package returns the package with the given name.
func (t *ResourceTable) Package(name string) *Package {
	for _, p := range t.Packages {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// PackageByID returns the package with the given id.
func (t *ResourceTable) PackageByID(id uint32) *Package {
	for _, p := range t.Packages {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// ValueString renders a simple value. Strings resolve through the global pool,
// other types render like AXML attribute values.
func (t *ResourceTable) ValueString(v *ResValue) (string, bool) {
	if v == nil {
		return "", false
	}
	switch v.Type {
	case attrTypeString:
		return t.Strings.Get(v.Data)
	case attrTypeNull:
		return "", false
	default:
		return typedValue(uint32(v.Type)<<24, v.Data).String(), true
	}
}
