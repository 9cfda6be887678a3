package testutil

// Attribute value types used by the builders.
const (
	TypeNull      = 0x00
	TypeReference = 0x01
	TypeString    = 0x03
	TypeFloat     = 0x04
	TypeIntDec    = 0x10
	TypeIntHex    = 0x11
	TypeIntBool   = 0x12
)

// Attr describes one attribute of a START_TAG record. An empty NS means no
// namespace. When HasRaw is set the raw value string is stored in the pool.
type Attr struct {
	NS     string
	Name   string
	Raw    string
	HasRaw bool
	Type   uint8
	Data   uint32
}

// Axml builds a binary XML document one record at a time.
type Axml struct {
	Pool        Interner
	UTF8        bool
	ResourceIDs []uint32

	body []byte
	line uint32
}

func (a *Axml) ns(s string) uint32 {
	if s == "" {
		return NoIndex
	}
	return a.Pool.Index(s)
}

func (a *Axml) header(tag uint16, size uint32) {
	a.line++
	a.body = appendU16(a.body, tag)
	a.body = appendU16(a.body, 0x10)
	a.body = appendU32(a.body, size)
	a.body = appendU32(a.body, a.line)
	a.body = appendU32(a.body, NoIndex)
}

func (a *Axml) StartNamespace(prefix, uri string) *Axml {
	a.header(0x0100, 0x18)
	a.body = appendU32(a.body, a.Pool.Index(prefix))
	a.body = appendU32(a.body, a.Pool.Index(uri))
	return a
}

func (a *Axml) EndNamespace(prefix, uri string) *Axml {
	a.header(0x0101, 0x18)
	a.body = appendU32(a.body, a.Pool.Index(prefix))
	a.body = appendU32(a.body, a.Pool.Index(uri))
	return a
}

func (a *Axml) StartTag(ns, name string, attrs ...Attr) *Axml {
	a.header(0x0102, uint32(0x24+20*len(attrs)))
	a.body = appendU32(a.body, a.ns(ns))
	a.body = appendU32(a.body, a.Pool.Index(name))
	a.body = appendU16(a.body, 0x14)
	a.body = appendU16(a.body, 0x14)
	a.body = appendU16(a.body, uint16(len(attrs)))
	a.body = appendU16(a.body, 0)
	a.body = appendU16(a.body, 0)
	a.body = appendU16(a.body, 0)
	for _, at := range attrs {
		a.body = appendU32(a.body, a.ns(at.NS))
		a.body = appendU32(a.body, a.Pool.Index(at.Name))
		raw := uint32(NoIndex)
		if at.HasRaw {
			raw = a.Pool.Index(at.Raw)
		}
		a.body = appendU32(a.body, raw)
		a.body = appendU16(a.body, 8)
		a.body = append(a.body, 0, at.Type)
		a.body = appendU32(a.body, at.Data)
	}
	return a
}

func (a *Axml) EndTag(ns, name string) *Axml {
	a.header(0x0103, 0x18)
	a.body = appendU32(a.body, a.ns(ns))
	a.body = appendU32(a.body, a.Pool.Index(name))
	return a
}

func (a *Axml) Text(s string) *Axml {
	a.header(0x0104, 0x1c)
	a.body = appendU32(a.body, a.Pool.Index(s))
	a.body = appendU16(a.body, 8)
	a.body = append(a.body, 0, TypeNull)
	a.body = appendU32(a.body, 0)
	return a
}

// Raw appends arbitrary record bytes, e.g. an unknown tag.
func (a *Axml) Raw(b []byte) *Axml {
	a.body = append(a.body, b...)
	return a
}

// BodyOffset is the file offset the next record will be written at.
func (a *Axml) BodyOffset() int {
	return len(a.prefix()) + len(a.body)
}

func (a *Axml) prefix() []byte {
	b := []byte{0x03, 0x00, 0x08, 0x00, 0, 0, 0, 0}
	b = append(b, StringPool(a.Pool.Strings(), a.UTF8)...)
	if len(a.ResourceIDs) > 0 {
		b = appendU16(b, 0x0180)
		b = appendU16(b, 8)
		b = appendU32(b, uint32(8+4*len(a.ResourceIDs)))
		for _, id := range a.ResourceIDs {
			b = appendU32(b, id)
		}
	}
	return b
}

// Bytes returns the complete document.
func (a *Axml) Bytes() []byte {
	b := append(a.prefix(), a.body...)
	putU32(b, 4, uint32(len(b)))
	return b
}

// AttrString is an attribute whose value is a raw pool string.
func AttrString(ns, name, value string) Attr {
	return Attr{NS: ns, Name: name, Raw: value, HasRaw: true, Type: TypeString}
}

// AttrTyped is an attribute carrying only a typed value.
func AttrTyped(ns, name string, typ uint8, data uint32) Attr {
	return Attr{NS: ns, Name: name, Type: typ, Data: data}
}
