package testutil

import "unicode/utf16"

const (
	NoEntry = 0xFFFFFFFF

	configSize = 0x40
)

// Table describes a resources.arsc file.
type Table struct {
	Pool     Interner
	Packages []*Package
}

// Package describes one package chunk. Chunks are written in order.
type Package struct {
	ID     uint32
	Name   string
	Types  []string
	Keys   []string
	Chunks []Chunk
}

// Chunk is either a TypeSpec or a Type.
type Chunk interface {
	bytes() []byte
}

type TypeSpec struct {
	ID    uint8
	Count uint32
}

type Type struct {
	ID      uint8
	Lang    string
	Country string
	Density uint16
	Entries []*Entry // nil means NO_ENTRY
}

type Entry struct {
	Key     uint32
	Complex bool
	Type    uint8
	Data    uint32
}

// RawChunk is written verbatim, for unknown chunk tests.
type RawChunk []byte

func (c RawChunk) bytes() []byte { return c }

func (s *TypeSpec) bytes() []byte {
	b := appendU16(nil, 0x0202)
	b = appendU16(b, 16)
	b = appendU32(b, 16+4*s.Count)
	b = append(b, s.ID, 0)
	b = appendU16(b, 0)
	b = appendU32(b, s.Count)
	for i := uint32(0); i < s.Count; i++ {
		b = appendU32(b, 0)
	}
	return b
}

func (t *Type) bytes() []byte {
	headerSize := 20 + configSize
	entriesStart := headerSize + 4*len(t.Entries)

	var offsets []uint32
	var entries []byte
	for _, e := range t.Entries {
		if e == nil {
			offsets = append(offsets, NoEntry)
			continue
		}
		offsets = append(offsets, uint32(len(entries)))
		if e.Complex {
			entries = appendU16(entries, 16)
			entries = appendU16(entries, 0x0001)
			entries = appendU32(entries, e.Key)
			entries = appendU32(entries, 0) // parent
			entries = appendU32(entries, 0) // count
		} else {
			entries = appendU16(entries, 8)
			entries = appendU16(entries, 0)
			entries = appendU32(entries, e.Key)
			entries = appendU16(entries, 8)
			entries = append(entries, 0, e.Type)
			entries = appendU32(entries, e.Data)
		}
	}

	b := appendU16(nil, 0x0201)
	b = appendU16(b, uint16(headerSize))
	b = appendU32(b, uint32(entriesStart+len(entries)))
	b = append(b, t.ID, 0)
	b = appendU16(b, 0)
	b = appendU32(b, uint32(len(t.Entries)))
	b = appendU32(b, uint32(entriesStart))

	cfg := make([]byte, configSize)
	putU32(cfg, 0, configSize)
	copy(cfg[8:10], t.Lang)
	copy(cfg[10:12], t.Country)
	cfg[14] = byte(t.Density)
	cfg[15] = byte(t.Density >> 8)
	b = append(b, cfg...)

	for _, off := range offsets {
		b = appendU32(b, off)
	}
	return append(b, entries...)
}

func (p *Package) bytes() []byte {
	const headerSize = 288

	typePool := StringPool(p.Types, false)
	keyPool := StringPool(p.Keys, true)

	var body []byte
	for _, c := range p.Chunks {
		body = append(body, c.bytes()...)
	}

	b := appendU16(nil, 0x0200)
	b = appendU16(b, headerSize)
	b = appendU32(b, uint32(headerSize+len(typePool)+len(keyPool)+len(body)))
	b = appendU32(b, p.ID)
	name := make([]byte, 256)
	for i, u := range utf16.Encode([]rune(p.Name)) {
		if 2*i+1 >= len(name) {
			break
		}
		name[2*i] = byte(u)
		name[2*i+1] = byte(u >> 8)
	}
	b = append(b, name...)
	b = appendU32(b, headerSize)
	b = appendU32(b, uint32(len(p.Types)))
	b = appendU32(b, uint32(headerSize+len(typePool)))
	b = appendU32(b, uint32(len(p.Keys)))
	b = appendU32(b, 0) // typeIdOffset
	b = append(b, typePool...)
	b = append(b, keyPool...)
	return append(b, body...)
}

// Bytes returns the resource table file.
func (t *Table) Bytes() []byte {
	var pkgs []byte
	for _, p := range t.Packages {
		pkgs = append(pkgs, p.bytes()...)
	}
	pool := StringPool(t.Pool.Strings(), true)

	b := appendU16(nil, 0x0002)
	b = appendU16(b, 12)
	b = appendU32(b, uint32(12+len(pool)+len(pkgs)))
	b = appendU32(b, uint32(len(t.Packages)))
	b = append(b, pool...)
	return append(b, pkgs...)
}

// StringEntry is a simple entry pointing at a global pool string.
func (t *Table) StringEntry(key uint32, value string) *Entry {
	return &Entry{Key: key, Type: TypeString, Data: t.Pool.Index(value)}
}
