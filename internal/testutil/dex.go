package testutil

import (
	"hash/adler32"
	"unicode/utf16"
)

// Dex builds a minimal but well-formed DEX file. Strings, types, protos,
// fields and methods are interned in first-use order.
type Dex struct {
	strings Interner
	types   []uint32
	typeIdx map[string]uint32
	protos  []proto
	protoIx map[string]uint32
	fields  []memberRef
	fieldIx map[string]uint32
	methods []memberRef
	methIx  map[string]uint32
	classes []*Class
}

type proto struct {
	shorty uint32
	ret    uint32
	params []uint32
}

type memberRef struct {
	class uint16
	typ   uint16 // type for fields, proto for methods
	name  uint32
}

// Class is a class_def plus its class data.
type Class struct {
	Name           string
	Super          string
	Flags          uint32
	Interfaces     []string
	SourceFile     string
	StaticFields   []EncodedField
	InstanceFields []EncodedField
	DirectMethods  []EncodedMethod
	VirtualMethods []EncodedMethod
}

type EncodedField struct {
	Field uint32
	Flags uint32
}

type EncodedMethod struct {
	Method uint32
	Flags  uint32
	Code   *Code
}

// Code is a code_item. Tries reference Handlers by position.
type Code struct {
	Registers, Ins, Outs uint16
	Insns                []uint16
	Tries                []Try
	Handlers             []Handler
	Debug                *Debug
}

type Try struct {
	Start   uint32
	Count   uint16
	Handler int
}

type Handler struct {
	Catches  []Catch
	CatchAll int64 // -1 when absent
}

type Catch struct {
	Type string
	Addr uint32
}

type Debug struct {
	LineStart  uint32
	ParamNames []string // "" encodes NO_INDEX
}

func NewDex() *Dex {
	return &Dex{
		typeIdx: make(map[string]uint32),
		protoIx: make(map[string]uint32),
		fieldIx: make(map[string]uint32),
		methIx:  make(map[string]uint32),
	}
}

func (d *Dex) String(s string) uint32 {
	return d.strings.Index(s)
}

func (d *Dex) Type(desc string) uint32 {
	if idx, ok := d.typeIdx[desc]; ok {
		return idx
	}
	idx := uint32(len(d.types))
	d.types = append(d.types, d.String(desc))
	d.typeIdx[desc] = idx
	return idx
}

func shortyOf(desc string) byte {
	if desc[0] == '[' {
		return 'L'
	}
	return desc[0]
}

func (d *Dex) Proto(ret string, params ...string) uint32 {
	key := ret + "(" + joinDesc(params) + ")"
	if idx, ok := d.protoIx[key]; ok {
		return idx
	}
	shorty := []byte{shortyOf(ret)}
	p := proto{ret: d.Type(ret)}
	for _, pt := range params {
		shorty = append(shorty, shortyOf(pt))
		p.params = append(p.params, d.Type(pt))
	}
	p.shorty = d.String(string(shorty))
	idx := uint32(len(d.protos))
	d.protos = append(d.protos, p)
	d.protoIx[key] = idx
	return idx
}

func joinDesc(ds []string) string {
	var s string
	for _, d := range ds {
		s += d
	}
	return s
}

func (d *Dex) Field(class, typ, name string) uint32 {
	key := class + "->" + name + ":" + typ
	if idx, ok := d.fieldIx[key]; ok {
		return idx
	}
	idx := uint32(len(d.fields))
	d.fields = append(d.fields, memberRef{
		class: uint16(d.Type(class)),
		typ:   uint16(d.Type(typ)),
		name:  d.String(name),
	})
	d.fieldIx[key] = idx
	return idx
}

func (d *Dex) Method(class, name, ret string, params ...string) uint32 {
	key := class + "->" + name + ret + "(" + joinDesc(params) + ")"
	if idx, ok := d.methIx[key]; ok {
		return idx
	}
	idx := uint32(len(d.methods))
	d.methods = append(d.methods, memberRef{
		class: uint16(d.Type(class)),
		typ:   uint16(d.Proto(ret, params...)),
		name:  d.String(name),
	})
	d.methIx[key] = idx
	return idx
}

func (d *Dex) AddClass(c *Class) {
	d.Type(c.Name)
	if c.Super != "" {
		d.Type(c.Super)
	}
	for _, it := range c.Interfaces {
		d.Type(it)
	}
	if c.SourceFile != "" {
		d.String(c.SourceFile)
	}
	for _, m := range append(append([]EncodedMethod{}, c.DirectMethods...), c.VirtualMethods...) {
		if m.Code == nil {
			continue
		}
		for _, h := range m.Code.Handlers {
			for _, ct := range h.Catches {
				d.Type(ct.Type)
			}
		}
		if m.Code.Debug != nil {
			for _, n := range m.Code.Debug.ParamNames {
				if n != "" {
					d.String(n)
				}
			}
		}
	}
	d.classes = append(d.classes, c)
}

// MUTF8 encodes s the way string_data_item does: ULEB128 UTF-16 length,
// modified UTF-8 bytes, NUL terminator.
func MUTF8(s string) []byte {
	units := utf16.Encode([]rune(s))
	b := AppendUleb128(nil, uint32(len(units)))
	for _, u := range units {
		switch {
		case u != 0 && u < 0x80:
			b = append(b, byte(u))
		case u < 0x800:
			b = append(b, 0xc0|byte(u>>6), 0x80|byte(u&0x3f))
		default:
			b = append(b, 0xe0|byte(u>>12), 0x80|byte((u>>6)&0x3f), 0x80|byte(u&0x3f))
		}
	}
	return append(b, 0)
}

type dexLayout struct {
	buf  []byte
	base int
}

func (l *dexLayout) off() uint32 {
	return uint32(l.base + len(l.buf))
}

func (l *dexLayout) align() {
	for (l.base+len(l.buf))%4 != 0 {
		l.buf = append(l.buf, 0)
	}
}

// Bytes lays the file out: header, id tables, class defs, then the data
// section (string data, type lists, debug info, code, class data, map list).
func (d *Dex) Bytes() []byte {
	const headerSize = 0x70
	nStr := len(d.strings.Strings())

	stringIDsOff := headerSize
	typeIDsOff := stringIDsOff + 4*nStr
	protoIDsOff := typeIDsOff + 4*len(d.types)
	fieldIDsOff := protoIDsOff + 12*len(d.protos)
	methodIDsOff := fieldIDsOff + 8*len(d.fields)
	classDefsOff := methodIDsOff + 8*len(d.methods)
	dataOff := classDefsOff + 32*len(d.classes)

	l := &dexLayout{base: dataOff}

	strOffs := make([]uint32, nStr)
	for i, s := range d.strings.Strings() {
		strOffs[i] = l.off()
		l.buf = append(l.buf, MUTF8(s)...)
	}

	typeList := func(items []uint32) uint32 {
		if len(items) == 0 {
			return 0
		}
		l.align()
		off := l.off()
		l.buf = appendU32(l.buf, uint32(len(items)))
		for _, it := range items {
			l.buf = appendU16(l.buf, uint16(it))
		}
		return off
	}

	protoParams := make([]uint32, len(d.protos))
	for i, p := range d.protos {
		protoParams[i] = typeList(p.params)
	}

	interfaces := make([]uint32, len(d.classes))
	for i, c := range d.classes {
		var items []uint32
		for _, it := range c.Interfaces {
			items = append(items, d.typeIdx[it])
		}
		interfaces[i] = typeList(items)
	}

	codeOffs := make(map[*Code]uint32)
	for _, c := range d.classes {
		for _, m := range append(append([]EncodedMethod{}, c.DirectMethods...), c.VirtualMethods...) {
			if m.Code != nil {
				codeOffs[m.Code] = d.writeCode(l, m.Code)
			}
		}
	}

	classData := make([]uint32, len(d.classes))
	for i, c := range d.classes {
		if len(c.StaticFields)+len(c.InstanceFields)+len(c.DirectMethods)+len(c.VirtualMethods) == 0 {
			continue
		}
		classData[i] = l.off()
		l.buf = AppendUleb128(l.buf, uint32(len(c.StaticFields)))
		l.buf = AppendUleb128(l.buf, uint32(len(c.InstanceFields)))
		l.buf = AppendUleb128(l.buf, uint32(len(c.DirectMethods)))
		l.buf = AppendUleb128(l.buf, uint32(len(c.VirtualMethods)))
		for _, list := range [][]EncodedField{c.StaticFields, c.InstanceFields} {
			prev := uint32(0)
			for _, f := range list {
				l.buf = AppendUleb128(l.buf, f.Field-prev)
				l.buf = AppendUleb128(l.buf, f.Flags)
				prev = f.Field
			}
		}
		for _, list := range [][]EncodedMethod{c.DirectMethods, c.VirtualMethods} {
			prev := uint32(0)
			for _, m := range list {
				l.buf = AppendUleb128(l.buf, m.Method-prev)
				l.buf = AppendUleb128(l.buf, m.Flags)
				l.buf = AppendUleb128(l.buf, codeOffs[m.Code])
				prev = m.Method
			}
		}
	}

	l.align()
	mapOff := l.off()
	mapItems := [][3]uint32{
		{0x0000, 1, 0},
		{0x0001, uint32(nStr), uint32(stringIDsOff)},
		{0x0002, uint32(len(d.types)), uint32(typeIDsOff)},
		{0x0003, uint32(len(d.protos)), uint32(protoIDsOff)},
		{0x0004, uint32(len(d.fields)), uint32(fieldIDsOff)},
		{0x0005, uint32(len(d.methods)), uint32(methodIDsOff)},
		{0x0006, uint32(len(d.classes)), uint32(classDefsOff)},
		{0x1000, 1, mapOff},
	}
	l.buf = appendU32(l.buf, uint32(len(mapItems)))
	for _, it := range mapItems {
		l.buf = appendU16(l.buf, uint16(it[0]))
		l.buf = appendU16(l.buf, 0)
		l.buf = appendU32(l.buf, it[1])
		l.buf = appendU32(l.buf, it[2])
	}

	b := make([]byte, 0, dataOff+len(l.buf))
	b = append(b, "dex\n035\x00"...)
	// checksum is patched once the file is complete; signature stays zero
	b = appendU32(b, 0)
	b = append(b, make([]byte, 20)...)
	b = appendU32(b, uint32(dataOff+len(l.buf)))
	b = appendU32(b, headerSize)
	b = appendU32(b, 0x12345678)
	b = appendU32(b, 0) // link_size
	b = appendU32(b, 0) // link_off
	b = appendU32(b, mapOff)
	for _, p := range [][2]int{
		{nStr, stringIDsOff},
		{len(d.types), typeIDsOff},
		{len(d.protos), protoIDsOff},
		{len(d.fields), fieldIDsOff},
		{len(d.methods), methodIDsOff},
		{len(d.classes), classDefsOff},
		{len(l.buf), dataOff},
	} {
		b = appendU32(b, uint32(p[0]))
		b = appendU32(b, uint32(p[1]))
	}

	for _, off := range strOffs {
		b = appendU32(b, off)
	}
	for _, t := range d.types {
		b = appendU32(b, t)
	}
	for i, p := range d.protos {
		b = appendU32(b, p.shorty)
		b = appendU32(b, p.ret)
		b = appendU32(b, protoParams[i])
	}
	for _, f := range append(append([]memberRef{}, d.fields...), d.methods...) {
		b = appendU16(b, f.class)
		b = appendU16(b, f.typ)
		b = appendU32(b, f.name)
	}
	for i, c := range d.classes {
		b = appendU32(b, d.typeIdx[c.Name])
		b = appendU32(b, c.Flags)
		if c.Super == "" {
			b = appendU32(b, NoIndex)
		} else {
			b = appendU32(b, d.typeIdx[c.Super])
		}
		b = appendU32(b, interfaces[i])
		if c.SourceFile == "" {
			b = appendU32(b, NoIndex)
		} else {
			b = appendU32(b, d.strings.Index(c.SourceFile))
		}
		b = appendU32(b, 0) // annotations
		b = appendU32(b, classData[i])
		b = appendU32(b, 0) // static values
	}
	b = append(b, l.buf...)

	putU32(b, 8, adler32.Checksum(b[12:]))
	return b
}

func (d *Dex) writeCode(l *dexLayout, c *Code) uint32 {
	var debugOff uint32
	if c.Debug != nil {
		debugOff = l.off()
		l.buf = AppendUleb128(l.buf, c.Debug.LineStart)
		l.buf = AppendUleb128(l.buf, uint32(len(c.Debug.ParamNames)))
		for _, n := range c.Debug.ParamNames {
			if n == "" {
				l.buf = AppendUleb128(l.buf, 0)
			} else {
				l.buf = AppendUleb128(l.buf, d.strings.Index(n)+1)
			}
		}
		l.buf = append(l.buf, 0x00) // DBG_END_SEQUENCE
	}

	l.align()
	off := l.off()
	l.buf = appendU16(l.buf, c.Registers)
	l.buf = appendU16(l.buf, c.Ins)
	l.buf = appendU16(l.buf, c.Outs)
	l.buf = appendU16(l.buf, uint16(len(c.Tries)))
	l.buf = appendU32(l.buf, debugOff)
	l.buf = appendU32(l.buf, uint32(len(c.Insns)))
	for _, in := range c.Insns {
		l.buf = appendU16(l.buf, in)
	}
	if len(c.Tries) == 0 {
		return off
	}
	if len(c.Insns)%2 == 1 {
		l.buf = appendU16(l.buf, 0)
	}

	var handlers []byte
	handlers = AppendUleb128(handlers, uint32(len(c.Handlers)))
	handlerOffs := make([]uint16, len(c.Handlers))
	for i, h := range c.Handlers {
		handlerOffs[i] = uint16(len(handlers))
		size := int32(len(h.Catches))
		if h.CatchAll >= 0 {
			size = -size
		}
		handlers = AppendSleb128(handlers, size)
		for _, ct := range h.Catches {
			handlers = AppendUleb128(handlers, d.typeIdx[ct.Type])
			handlers = AppendUleb128(handlers, ct.Addr)
		}
		if h.CatchAll >= 0 {
			handlers = AppendUleb128(handlers, uint32(h.CatchAll))
		}
	}

	for _, t := range c.Tries {
		l.buf = appendU32(l.buf, t.Start)
		l.buf = appendU16(l.buf, t.Count)
		l.buf = appendU16(l.buf, handlerOffs[t.Handler])
	}
	l.buf = append(l.buf, handlers...)
	return off
}
