// Package dex decodes Dalvik executable files into an immutable model of
// their classes, fields and methods.
package dex

import (
	"fmt"

	"github.com/droidscope/apkparser/apkerr"
	"github.com/droidscope/apkparser/internal/cursor"
)

// NoIndex marks an absent index in class_def and debug info items.
const NoIndex = 0xFFFFFFFF

const (
	stringIDSize = 4
	typeIDSize   = 4
	protoIDSize  = 12
	fieldIDSize  = 8
	methodIDSize = 8
	classDefSize = 32
	mapItemSize  = 12
)

type ProtoID struct {
	ShortyIdx     uint32
	ReturnTypeIdx uint32
	ParametersOff uint32
}

type FieldID struct {
	ClassIdx uint16
	TypeIdx  uint16
	NameIdx  uint32
}

type MethodID struct {
	ClassIdx uint16
	ProtoIdx uint16
	NameIdx  uint32
}

type ClassDef struct {
	ClassIdx        uint32
	AccessFlags     uint32
	SuperclassIdx   uint32
	InterfacesOff   uint32
	SourceFileIdx   uint32
	AnnotationsOff  uint32
	ClassDataOff    uint32
	StaticValuesOff uint32
}

type MapItem struct {
	Type   uint16
	Size   uint32
	Offset uint32
}

// File is a decoded DEX file. It is fully built by Decode and never changes.
type File struct {
	Header  Header
	MapList []MapItem

	Strings []string
	// Types holds the type descriptors, e.g. "Ljava/lang/String;".
	Types     []string
	Protos    []ProtoID
	FieldIDs  []FieldID
	MethodIDs []MethodID
	ClassDefs []ClassDef

	Classes []*Class
	byName  map[string]*Class
}

type decoder struct {
	data []byte
	f    *File
}

// Decode decodes data as a DEX file. Every table index and offset is checked;
// any inconsistency fails the whole decode.
func Decode(data []byte) (*File, error) {
	f, err := decode(data)
	if err != nil {
		return nil, apkerr.WithFormat("dex", err)
	}
	return f, nil
}

func decode(data []byte) (*File, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if uint64(h.FileSize) > uint64(len(data)) {
		return nil, apkerr.Errorf("dex", 0x20, "%w: file size %d, have %d bytes", apkerr.ErrOutOfBounds, h.FileSize, len(data))
	}

	d := &decoder{
		data: data[:h.FileSize],
		f:    &File{Header: h, byName: make(map[string]*Class)},
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"map list", d.readMapList},
		{"string ids", d.readStrings},
		{"type ids", d.readTypes},
		{"proto ids", d.readProtos},
		{"field ids", d.readFieldIDs},
		{"method ids", d.readMethodIDs},
		{"class defs", d.readClassDefs},
		{"classes", d.readClasses},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return d.f, nil
}

// table returns a reader over count items of size bytes at off.
func (d *decoder) table(off, count uint32, size int) (*cursor.Reader, error) {
	end := uint64(off) + uint64(count)*uint64(size)
	if count > 0 && (off < headerSize || end > uint64(len(d.data))) {
		return nil, apkerr.Errorf("", int64(off), "%w: table of %d items overruns file", apkerr.ErrOutOfBounds, count)
	}
	return cursor.NewAt(d.data, int(off)), nil
}

func (d *decoder) readMapList() error {
	if d.f.Header.MapOff == 0 {
		return nil
	}
	r := cursor.NewAt(d.data, int(d.f.Header.MapOff))
	count, err := r.U32()
	if err != nil {
		return err
	}
	if _, err := d.table(d.f.Header.MapOff+4, count, mapItemSize); err != nil {
		return err
	}
	d.f.MapList = make([]MapItem, count)
	for i := range d.f.MapList {
		it := &d.f.MapList[i]
		if it.Type, err = r.U16(); err != nil {
			return err
		}
		if err := r.Skip(2); err != nil {
			return err
		}
		if it.Size, err = r.U32(); err != nil {
			return err
		}
		if it.Offset, err = r.U32(); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) readStrings() error {
	h := &d.f.Header
	r, err := d.table(h.StringIDsOff, h.StringIDsSize, stringIDSize)
	if err != nil {
		return err
	}
	d.f.Strings = make([]string, h.StringIDsSize)
	for i := range d.f.Strings {
		off, err := r.U32()
		if err != nil {
			return err
		}
		if d.f.Strings[i], err = DecodeMUTF8(d.data, int(off)); err != nil {
			return fmt.Errorf("string %d: %w", i, err)
		}
	}
	return nil
}

func (d *decoder) str(idx uint32) (string, error) {
	if idx >= uint32(len(d.f.Strings)) {
		return "", fmt.Errorf("%w: string %d of %d", apkerr.ErrInvalidIndex, idx, len(d.f.Strings))
	}
	return d.f.Strings[idx], nil
}

func (d *decoder) typ(idx uint32) (string, error) {
	if idx >= uint32(len(d.f.Types)) {
		return "", fmt.Errorf("%w: type %d of %d", apkerr.ErrInvalidIndex, idx, len(d.f.Types))
	}
	return d.f.Types[idx], nil
}

func (d *decoder) readTypes() error {
	h := &d.f.Header
	r, err := d.table(h.TypeIDsOff, h.TypeIDsSize, typeIDSize)
	if err != nil {
		return err
	}
	d.f.Types = make([]string, h.TypeIDsSize)
	for i := range d.f.Types {
		idx, err := r.U32()
		if err != nil {
			return err
		}
		if d.f.Types[i], err = d.str(idx); err != nil {
			return fmt.Errorf("type %d: %w", i, err)
		}
	}
	return nil
}

func (d *decoder) readProtos() error {
	h := &d.f.Header
	r, err := d.table(h.ProtoIDsOff, h.ProtoIDsSize, protoIDSize)
	if err != nil {
		return err
	}
	d.f.Protos = make([]ProtoID, h.ProtoIDsSize)
	for i := range d.f.Protos {
		p := &d.f.Protos[i]
		for _, v := range []*uint32{&p.ShortyIdx, &p.ReturnTypeIdx, &p.ParametersOff} {
			if *v, err = r.U32(); err != nil {
				return err
			}
		}
		if _, err := d.str(p.ShortyIdx); err != nil {
			return fmt.Errorf("proto %d: %w", i, err)
		}
		if _, err := d.typ(p.ReturnTypeIdx); err != nil {
			return fmt.Errorf("proto %d: %w", i, err)
		}
	}
	return nil
}

func (d *decoder) readMemberIDs(off, count uint32) ([][3]uint32, error) {
	r, err := d.table(off, count, fieldIDSize)
	if err != nil {
		return nil, err
	}
	res := make([][3]uint32, count)
	for i := range res {
		a, err := r.U16()
		if err != nil {
			return nil, err
		}
		b, err := r.U16()
		if err != nil {
			return nil, err
		}
		c, err := r.U32()
		if err != nil {
			return nil, err
		}
		res[i] = [3]uint32{uint32(a), uint32(b), c}
	}
	return res, nil
}

func (d *decoder) readFieldIDs() error {
	ids, err := d.readMemberIDs(d.f.Header.FieldIDsOff, d.f.Header.FieldIDsSize)
	if err != nil {
		return err
	}
	d.f.FieldIDs = make([]FieldID, len(ids))
	for i, id := range ids {
		d.f.FieldIDs[i] = FieldID{ClassIdx: uint16(id[0]), TypeIdx: uint16(id[1]), NameIdx: id[2]}
		if _, err := d.typ(id[0]); err != nil {
			return fmt.Errorf("field %d: %w", i, err)
		}
		if _, err := d.typ(id[1]); err != nil {
			return fmt.Errorf("field %d: %w", i, err)
		}
		if _, err := d.str(id[2]); err != nil {
			return fmt.Errorf("field %d: %w", i, err)
		}
	}
	return nil
}

func (d *decoder) readMethodIDs() error {
	ids, err := d.readMemberIDs(d.f.Header.MethodIDsOff, d.f.Header.MethodIDsSize)
	if err != nil {
		return err
	}
	d.f.MethodIDs = make([]MethodID, len(ids))
	for i, id := range ids {
		d.f.MethodIDs[i] = MethodID{ClassIdx: uint16(id[0]), ProtoIdx: uint16(id[1]), NameIdx: id[2]}
		if _, err := d.typ(id[0]); err != nil {
			return fmt.Errorf("method %d: %w", i, err)
		}
		if id[1] >= uint32(len(d.f.Protos)) {
			return fmt.Errorf("method %d: %w: proto %d of %d", i, apkerr.ErrInvalidIndex, id[1], len(d.f.Protos))
		}
		if _, err := d.str(id[2]); err != nil {
			return fmt.Errorf("method %d: %w", i, err)
		}
	}
	return nil
}

func (d *decoder) readClassDefs() error {
	h := &d.f.Header
	r, err := d.table(h.ClassDefsOff, h.ClassDefsSize, classDefSize)
	if err != nil {
		return err
	}
	d.f.ClassDefs = make([]ClassDef, h.ClassDefsSize)
	for i := range d.f.ClassDefs {
		c := &d.f.ClassDefs[i]
		for _, v := range []*uint32{&c.ClassIdx, &c.AccessFlags, &c.SuperclassIdx, &c.InterfacesOff,
			&c.SourceFileIdx, &c.AnnotationsOff, &c.ClassDataOff, &c.StaticValuesOff} {
			if *v, err = r.U32(); err != nil {
				return err
			}
		}
	}
	return nil
}

// typeList reads a type_list item. Offset 0 is the empty list.
func (d *decoder) typeList(off uint32) ([]string, error) {
	if off == 0 {
		return nil, nil
	}
	r := cursor.NewAt(d.data, int(off))
	size, err := r.U32()
	if err != nil {
		return nil, err
	}
	if uint64(size)*2 > uint64(r.Remaining()) {
		return nil, apkerr.Errorf("", int64(off), "%w: type list of %d items", apkerr.ErrOutOfBounds, size)
	}
	res := make([]string, size)
	for i := range res {
		idx, err := r.U16()
		if err != nil {
			return nil, err
		}
		if res[i], err = d.typ(uint32(idx)); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Class returns the class with the given descriptor, e.g. "Lcom/example/Main;".
func (f *File) Class(name string) *Class {
	return f.byName[name]
}
