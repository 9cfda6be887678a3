package apkparser

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind tells which variant an AttrValue holds.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueNull
	ValueReference
	ValueIntDec
	ValueIntHex
	ValueBool
	ValueRaw
)

// AttrValue is a decoded attribute value.
//
// ValueString carries Str. ValueReference, ValueIntDec, ValueIntHex and
// ValueBool carry Data. ValueRaw keeps Data plus the undecoded type word in Flags.
type AttrValue struct {
	Kind  ValueKind
	Str   string
	Data  uint32
	Flags uint32
}

// Bool reports the value of a ValueBool. Android writes true as 1 or 0xFFFFFFFF.
func (v AttrValue) Bool() bool {
	return v.Data == 1 || v.Data == 0xFFFFFFFF
}

func (v AttrValue) String() string {
	switch v.Kind {
	case ValueString:
		return v.Str
	case ValueNull:
		return ""
	case ValueReference:
		return fmt.Sprintf("@0x%08x", v.Data)
	case ValueIntDec:
		return strconv.FormatUint(uint64(v.Data), 10)
	case ValueIntHex:
		return fmt.Sprintf("0x%x", v.Data)
	case ValueBool:
		return strconv.FormatBool(v.Bool())
	default:
		return fmt.Sprintf("[0x%x, flag=0x%x]", v.Data, v.Flags)
	}
}

// Node is either an *Element or a *Text.
type Node interface {
	node()
}

// Namespace is a prefix/URI pair declared on the root element.
type Namespace struct {
	Prefix string
	URI    string
}

// Attr is one element attribute. Name carries the "prefix:" when namespaced.
type Attr struct {
	Name      string
	Namespace string
	Value     AttrValue
}

type Element struct {
	Name      string
	Namespace string
	Line      uint32
	Attrs     []Attr
	Children  []Node

	// Namespaces is only populated on the document root.
	Namespaces []Namespace
}

type Text struct {
	Content string
}

func (*Element) node() {}
func (*Text) node()    {}

// Attr returns the attribute with the given (possibly prefixed) name.
func (e *Element) Attr(name string) (AttrValue, bool) {
	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return AttrValue{}, false
}

// AttrString is Attr rendered as a string, "" when missing.
func (e *Element) AttrString(name string) string {
	v, _ := e.Attr(name)
	return v.String()
}

// Elements returns the child elements, skipping text.
func (e *Element) Elements() []*Element {
	var res []*Element
	for _, c := range e.Children {
		if el, ok := c.(*Element); ok {
			res = append(res, el)
		}
	}
	return res
}

func (e *Element) ChildrenNamed(name string) []*Element {
	var res []*Element
	for _, el := range e.Elements() {
		if el.Name == name {
			res = append(res, el)
		}
	}
	return res
}

// Text returns the element's text content, "" if it has none.
func (e *Element) Text() string {
	for _, c := range e.Children {
		if t, ok := c.(*Text); ok {
			return t.Content
		}
	}
	return ""
}

// setText replaces the first text child, or appends one.
func (e *Element) setText(s string) {
	for _, c := range e.Children {
		if t, ok := c.(*Text); ok {
			t.Content = s
			return
		}
	}
	e.Children = append(e.Children, &Text{Content: s})
}

func (e *Element) registerNamespace(prefix, uri string) {
	for _, ns := range e.Namespaces {
		if ns.URI == uri {
			return
		}
	}
	e.Namespaces = append(e.Namespaces, Namespace{Prefix: prefix, URI: uri})
}

// Document is a decoded binary XML file.
type Document struct {
	Root        *Element
	Strings     *StringPool
	ResourceIDs []uint32
}

// FindAll resolves a slash separated element path such as
// "/manifest/application/activity". The first segment must name the root.
func (d *Document) FindAll(path string) []*Element {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if d.Root == nil || len(parts) == 0 || parts[0] != d.Root.Name {
		return nil
	}

	cur := []*Element{d.Root}
	for _, p := range parts[1:] {
		var next []*Element
		for _, el := range cur {
			next = append(next, el.ChildrenNamed(p)...)
		}
		cur = next
	}
	return cur
}

// ManifestEncoder is satisfied by *xml.Encoder.
type ManifestEncoder interface {
	EncodeToken(t xml.Token) error
	Flush() error
}

// Encode writes the tree as XML tokens. Namespaced names are written with
// their prefix and the root carries the xmlns declarations.
//
// With a non-nil res, reference attributes are replaced by the value Find
// returns for loc: the string for string resources, the first file name for
// drawables and mipmaps. Anything that does not resolve is written as
// "@0xPPTTEEEE".
func (d *Document) Encode(enc ManifestEncoder, res *ResourceTable, loc Locale) error {
	if d.Root != nil {
		if err := encodeElement(enc, d.Root, res, loc); err != nil {
			return err
		}
	}
	return enc.Flush()
}

func encodeElement(enc ManifestEncoder, e *Element, res *ResourceTable, loc Locale) error {
	tok := xml.StartElement{Name: xml.Name{Local: e.Name}}
	for _, ns := range e.Namespaces {
		tok.Attr = append(tok.Attr, xml.Attr{Name: xml.Name{Local: "xmlns:" + ns.Prefix}, Value: ns.URI})
	}
	for _, a := range e.Attrs {
		tok.Attr = append(tok.Attr, xml.Attr{Name: xml.Name{Local: a.Name}, Value: res.resolve(a.Value, loc)})
	}

	if err := enc.EncodeToken(tok); err != nil {
		return err
	}
	for _, c := range e.Children {
		var err error
		switch c := c.(type) {
		case *Element:
			err = encodeElement(enc, c, res, loc)
		case *Text:
			err = enc.EncodeToken(xml.CharData(c.Content))
		}
		if err != nil {
			return err
		}
	}
	return enc.EncodeToken(tok.End())
}

// resolve renders v, looking references up in t when it is non-nil.
func (t *ResourceTable) resolve(v AttrValue, loc Locale) string {
	if t == nil || v.Kind != ValueReference {
		return v.String()
	}
	l, err := t.Find(ResID(v.Data).String(), loc)
	if err != nil || l == nil {
		return v.String()
	}
	if l.Value != nil {
		return *l.Value
	}
	if len(l.Values) > 0 {
		return l.Values[0]
	}
	return v.String()
}
