package apkparser

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/droidscope/apkparser/apkerr"
	"github.com/droidscope/apkparser/internal/cursor"
)

// Some samples have manifest in plaintext, this is an error.
// 2c882a2376034ed401be082a42a21f0ac837689e7d3ab6be0afb82f44ca0b859
var ErrPlainTextManifest = fmt.Errorf("%w: xml is in plaintext, binary form expected", apkerr.ErrMalformedHeader)

var axmlMagic = []byte{0x03, 0x00, 0x08, 0x00}

const (
	xmlNodeHeaderSize = 4 * 4
	tagRecordSize     = 6 * 4
	attrRecordSize    = 5 * 4
	textRecordSize    = 7 * 4
	startTagMinSize   = tagRecordSize + 3*4
)

type binxmlParseInfo struct {
	r     *cursor.Reader
	doc   *Document
	stack []*Element
}

// IsAxml reports whether data starts with the binary XML magic.
func IsAxml(data []byte) bool {
	return bytes.HasPrefix(data, axmlMagic)
}

// ParseXml reads at most limit bytes from r and decodes them as binary XML.
func ParseXml(r io.Reader, limit int64) (*Document, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return nil, err
	}
	return DecodeAxml(data)
}

// DecodeAxml decodes a binary XML document into an element tree. Any
// structural problem fails the whole decode with an *apkerr.ReadError.
func DecodeAxml(data []byte) (*Document, error) {
	doc, err := decodeAxml(data)
	if err != nil {
		return nil, apkerr.WithFormat("axml", err)
	}
	return doc, nil
}

func decodeAxml(data []byte) (*Document, error) {
	if !IsAxml(data) {
		if s := string(data[:min(len(data), 8)]); strings.HasPrefix(s, "<?xml ") || strings.HasPrefix(s, "<manif") {
			return nil, ErrPlainTextManifest
		}
		return nil, apkerr.Errorf("axml", 0, "%w: bad magic", apkerr.ErrMalformedHeader)
	}

	r := cursor.New(data)
	if err := r.Skip(4); err != nil {
		return nil, err
	}
	totalLen, err := r.U32()
	if err != nil {
		return nil, err
	}
	if uint64(totalLen) > uint64(len(data)) {
		return nil, apkerr.Errorf("axml", 4, "%w: declared size %d, have %d", apkerr.ErrOutOfBounds, totalLen, len(data))
	}

	x := binxmlParseInfo{
		r:   cursor.New(data[:totalLen]),
		doc: &Document{},
	}
	x.r.Seek(chunkHeaderSize)

	pool, _, err := parseStringPool(x.r)
	if err != nil {
		return nil, err
	}
	x.doc.Strings = pool

	if err := x.parseTags(); err != nil {
		return nil, err
	}
	return x.doc, nil
}

func (x *binxmlParseInfo) parseTags() error {
	for x.r.Remaining() > 0 {
		start := x.r.Pos()

		tag, err := x.r.U32()
		if err != nil {
			return err
		}
		size, err := x.r.U32()
		if err != nil {
			return err
		}
		if size < chunkHeaderSize || uint64(start)+uint64(size) > uint64(x.r.Len()) {
			return apkerr.Errorf("axml", int64(start), "%w: record 0x%08x of size %d", apkerr.ErrOutOfBounds, tag, size)
		}
		rec := cursor.New(x.r.Data()[start : start+int(size)])
		rec.Seek(chunkHeaderSize)

		switch {
		case tag&0xFFFF == chunkResourceIds:
			err = x.parseResourceIds(rec)
		case tag == tagStartTag:
			err = x.parseTagStart(rec)
		case tag == tagEndTag:
			if len(x.stack) > 0 {
				x.stack = x.stack[:len(x.stack)-1]
			}
		case tag == tagText:
			err = x.parseText(rec)
		case tag == tagEndDocument:
			return nil
		case tag == tagStartDocument, tag == tagCdata, tag == tagEntityRef:
			// not expanded
		default:
			return apkerr.Errorf("axml", int64(start), "%w: tag 0x%08x", apkerr.ErrUnknownChunkType, tag)
		}

		if err != nil {
			// offsets inside a record are relative to it
			return apkerr.Rebase(fmt.Errorf("tag 0x%08x: %w", tag, err), int64(start), "axml")
		}
		x.r.Seek(start + int(size))
	}
	return nil
}

func (x *binxmlParseInfo) parseResourceIds(r *cursor.Reader) error {
	if (r.Len()-chunkHeaderSize)%4 != 0 {
		return fmt.Errorf("%w: resource id chunk size %d", apkerr.ErrMalformedHeader, r.Len())
	}
	for r.Remaining() > 0 {
		id, err := r.U32()
		if err != nil {
			return err
		}
		x.doc.ResourceIDs = append(x.doc.ResourceIDs, id)
	}
	return nil
}

// qualify applies the namespace prefix to name and registers the namespace on the root.
func (x *binxmlParseInfo) qualify(nsIdx uint32, name string) (string, string) {
	if nsIdx == NoIndex {
		return name, ""
	}
	uri := x.doc.Strings.get(nsIdx)
	prefix := uri[strings.LastIndex(uri, "/")+1:]
	if x.doc.Root != nil {
		x.doc.Root.registerNamespace(prefix, uri)
	}
	return prefix + ":" + name, uri
}

func (x *binxmlParseInfo) parseTagStart(r *cursor.Reader) error {
	if r.Len() < startTagMinSize {
		return fmt.Errorf("%w: start tag of %d bytes", apkerr.ErrOutOfBounds, r.Len())
	}
	// line number and comment
	if err := r.Skip(8); err != nil {
		return err
	}

	var namespaceIdx, nameIdx uint32
	var attrStart, attrSize, attrCount uint16
	var err error
	if namespaceIdx, err = r.U32(); err != nil {
		return err
	}
	if nameIdx, err = r.U32(); err != nil {
		return err
	}
	if attrStart, err = r.U16(); err != nil {
		return err
	}
	if attrSize, err = r.U16(); err != nil {
		return err
	}
	if attrCount, err = r.U16(); err != nil {
		return err
	}
	if attrSize < attrRecordSize {
		return fmt.Errorf("%w: attribute size %d", apkerr.ErrMalformedHeader, attrSize)
	}

	line, _ := r.U32At(8)
	name, err := x.doc.Strings.Lookup(nameIdx)
	if err != nil {
		return err
	}

	elem := &Element{Line: line}
	if len(x.stack) == 0 {
		if x.doc.Root != nil {
			return fmt.Errorf("%w: second root element %q", apkerr.ErrMalformedHeader, name)
		}
		x.doc.Root = elem
	} else {
		parent := x.stack[len(x.stack)-1]
		parent.Children = append(parent.Children, elem)
	}
	elem.Name, elem.Namespace = x.qualify(namespaceIdx, name)

	// attrStart is relative to the end of the 16 byte node header
	for i := 0; i < int(attrCount); i++ {
		r.Seek(xmlNodeHeaderSize + int(attrStart) + i*int(attrSize))
		attr, err := x.parseAttribute(r)
		if err != nil {
			return fmt.Errorf("attribute %d: %w", i, err)
		}
		elem.Attrs = append(elem.Attrs, attr)
	}

	x.stack = append(x.stack, elem)
	return nil
}

func (x *binxmlParseInfo) parseAttribute(r *cursor.Reader) (Attr, error) {
	var fields [5]uint32
	for i := range fields {
		v, err := r.U32()
		if err != nil {
			return Attr{}, err
		}
		fields[i] = v
	}
	nsIdx, nameIdx, rawIdx, typeFlags, data := fields[0], fields[1], fields[2], fields[3], fields[4]

	name, err := x.doc.Strings.Lookup(nameIdx)
	if err != nil {
		return Attr{}, err
	}

	var attr Attr
	attr.Name, attr.Namespace = x.qualify(nsIdx, name)
	attr.Value, err = x.convertValue(rawIdx, typeFlags, data)
	return attr, err
}

func (x *binxmlParseInfo) convertValue(rawIdx, typeFlags, data uint32) (AttrValue, error) {
	if rawIdx != NoIndex {
		s, err := x.doc.Strings.Lookup(rawIdx)
		return AttrValue{Kind: ValueString, Str: s}, err
	}
	return typedValue(typeFlags, data), nil
}

// typedValue converts a Res_value whose type sits in the high byte of typeFlags.
func typedValue(typeFlags, data uint32) AttrValue {
	switch typeFlags >> 24 {
	case attrTypeNull:
		return AttrValue{Kind: ValueNull}
	case attrTypeReference:
		return AttrValue{Kind: ValueReference, Data: data}
	case attrTypeIntDec:
		return AttrValue{Kind: ValueIntDec, Data: data}
	case attrTypeIntHex:
		return AttrValue{Kind: ValueIntHex, Data: data}
	case attrTypeIntBool:
		return AttrValue{Kind: ValueBool, Data: data}
	default:
		return AttrValue{Kind: ValueRaw, Data: data, Flags: typeFlags}
	}
}

func (x *binxmlParseInfo) parseText(r *cursor.Reader) error {
	if r.Len() < textRecordSize {
		return fmt.Errorf("%w: text record of %d bytes", apkerr.ErrOutOfBounds, r.Len())
	}
	idx, err := r.U32At(16)
	if err != nil {
		return err
	}
	text, err := x.doc.Strings.Lookup(idx)
	if err != nil {
		return err
	}

	if len(x.stack) > 0 {
		x.stack[len(x.stack)-1].setText(text)
	}
	return nil
}
