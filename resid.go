package apkparser

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/droidscope/apkparser/apkerr"
)

// ResID is a packed resource identifier: 0xPPTTEEEE.
type ResID uint32

func NewResID(pkg, typ uint8, entry uint16) ResID {
	return ResID(uint32(pkg)<<24 | uint32(typ)<<16 | uint32(entry))
}

func (id ResID) Package() uint8 { return uint8(id >> 24) }
func (id ResID) Type() uint8    { return uint8(id >> 16) }
func (id ResID) Entry() uint16  { return uint16(id) }

// String formats the id as "@0xPPTTEEEE".
func (id ResID) String() string {
	return fmt.Sprintf("@0x%08x", uint32(id))
}

var (
	hexIDRe      = regexp.MustCompile(`^@?0x([0-9a-fA-F]{8})$`)
	readableIDRe = regexp.MustCompile(`^@?(\w+)/(\w+)$`)
)

// IsHexID reports whether s has the "@0xPPTTEEEE" form.
func IsHexID(s string) bool {
	return hexIDRe.MatchString(s)
}

// IsReadableID reports whether s has the "@type/key" form.
func IsReadableID(s string) bool {
	return readableIDRe.MatchString(s)
}

// ParseResID parses the hex form of a resource identifier.
func ParseResID(s string) (ResID, error) {
	m := hexIDRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", apkerr.ErrInvalidIdentifier, s)
	}
	v, err := strconv.ParseUint(m[1], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", apkerr.ErrInvalidIdentifier, s)
	}
	return ResID(v), nil
}

// parseReadableID splits "@type/key" into its parts.
func parseReadableID(s string) (typ, key string, err error) {
	m := readableIDRe.FindStringSubmatch(s)
	if m == nil {
		return "", "", fmt.Errorf("%w: %q", apkerr.ErrInvalidIdentifier, s)
	}
	return m[1], m[2], nil
}

// ResolveID turns either identifier form into a package and a packed id.
// The readable form is looked up in the first package.
func (t *ResourceTable) ResolveID(s string) (*Package, ResID, error) {
	switch {
	case IsHexID(s):
		id, err := ParseResID(s)
		if err != nil {
			return nil, 0, err
		}
		pkg := t.PackageByID(uint32(id.Package()))
		if pkg == nil {
			return nil, 0, fmt.Errorf("%w: package 0x%02x", apkerr.ErrNotFound, id.Package())
		}
		return pkg, id, nil
	case IsReadableID(s):
		if len(t.Packages) == 0 {
			return nil, 0, fmt.Errorf("%w: no packages", apkerr.ErrNotFound)
		}
		pkg := t.Packages[0]
		typ, key, _ := parseReadableID(s)
		id, err := pkg.ResID(typ, key)
		return pkg, id, err
	default:
		return nil, 0, fmt.Errorf("%w: %q", apkerr.ErrInvalidIdentifier, s)
	}
}

// HexID converts "@type/key" into "@0xPPTTEEEE".
func (t *ResourceTable) HexID(readable string) (string, error) {
	if !IsReadableID(readable) {
		return "", fmt.Errorf("%w: %q", apkerr.ErrInvalidIdentifier, readable)
	}
	_, id, err := t.ResolveID(readable)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ReadableID converts "@0xPPTTEEEE" into "@type/key".
func (t *ResourceTable) ReadableID(hex string) (string, error) {
	if !IsHexID(hex) {
		return "", fmt.Errorf("%w: %q", apkerr.ErrInvalidIdentifier, hex)
	}
	pkg, id, err := t.ResolveID(hex)
	if err != nil {
		return "", err
	}
	return pkg.ReadableID(id)
}

// ResID packs the id of type/key in this package.
func (p *Package) ResID(typ, key string) (ResID, error) {
	tid, ok := p.TypeID(typ)
	if !ok {
		return 0, fmt.Errorf("%w: type %q", apkerr.ErrNotFound, typ)
	}
	entry, ok := p.entryIDs[tid][key]
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", apkerr.ErrNotFound, typ, key)
	}
	return NewResID(uint8(p.ID), tid, entry), nil
}

// ReadableID renders id as "@type/key" using the first configuration that has the entry.
func (p *Package) ReadableID(id ResID) (string, error) {
	typ, ok := p.TypeName(id.Type())
	if !ok {
		return "", fmt.Errorf("%w: type 0x%02x", apkerr.ErrNotFound, id.Type())
	}
	e := p.firstEntry(id.Type(), id.Entry())
	if e == nil {
		return "", fmt.Errorf("%w: %s", apkerr.ErrNotFound, id)
	}
	key, ok := p.KeyStrings.Get(e.Key)
	if !ok {
		return "", fmt.Errorf("%w: key %d of %s", apkerr.ErrInvalidIndex, e.Key, id)
	}
	return "@" + typ + "/" + key, nil
}
