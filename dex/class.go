package dex

import (
	"fmt"
	"strings"

	"github.com/droidscope/apkparser/apkerr"
	"github.com/droidscope/apkparser/internal/cursor"
)

type Class struct {
	Def  ClassDef
	Name string
	// Superclass is "" for classes without one, e.g. java.lang.Object.
	Superclass  string
	Interfaces  []string
	SourceFile  string
	AccessFlags AccessFlags

	StaticFields   []*Field
	InstanceFields []*Field
	DirectMethods  []*Method
	VirtualMethods []*Method
}

// Definition renders the class as "<flags> class <name>[ extends <super>]".
func (c *Class) Definition() string {
	def := c.AccessFlags.ClassString() + " class " + c.Name
	if c.Superclass != "" {
		def += " extends " + c.Superclass
	}
	return def
}

// Fields returns static fields followed by instance fields.
func (c *Class) Fields() []*Field {
	res := make([]*Field, 0, len(c.StaticFields)+len(c.InstanceFields))
	res = append(res, c.StaticFields...)
	return append(res, c.InstanceFields...)
}

// Methods returns direct methods followed by virtual methods.
func (c *Class) Methods() []*Method {
	res := make([]*Method, 0, len(c.DirectMethods)+len(c.VirtualMethods))
	res = append(res, c.DirectMethods...)
	return append(res, c.VirtualMethods...)
}

type Field struct {
	Index uint32
	Name  string
	// Type is the resolved type name, e.g. "int[]"; Descriptor the raw "[I".
	Type        string
	Descriptor  string
	AccessFlags AccessFlags
}

func (f *Field) Definition() string {
	return f.AccessFlags.ClassString() + " " + f.Type + " " + f.Name
}

// Method types are resolved with TypeName. The raw descriptors are kept in
// ReturnDescriptor and ParameterDescriptors.
type Method struct {
	Index                uint32
	Name                 string
	ReturnType           string
	Parameters           []string
	ReturnDescriptor     string
	ParameterDescriptors []string
	AccessFlags          AccessFlags
	Code                 *CodeItem
}

// ParameterNames returns the debug info parameter names, or nil when the
// method has no code or no debug info.
func (m *Method) ParameterNames() []string {
	if m.Code == nil || m.Code.DebugInfo == nil {
		return nil
	}
	return m.Code.DebugInfo.ParameterNames
}

func (m *Method) Definition() string {
	return fmt.Sprintf("%s %s %s(%s);", m.AccessFlags.MethodString(), m.ReturnType,
		m.Name, strings.Join(m.Parameters, ", "))
}

func (d *decoder) readClasses() error {
	d.f.Classes = make([]*Class, 0, len(d.f.ClassDefs))
	for i, def := range d.f.ClassDefs {
		c, err := d.readClass(def)
		if err != nil {
			return fmt.Errorf("class %d: %w", i, err)
		}
		d.f.Classes = append(d.f.Classes, c)
		d.f.byName[c.Name] = c
	}
	return nil
}

func (d *decoder) readClass(def ClassDef) (*Class, error) {
	c := &Class{Def: def, AccessFlags: AccessFlags(def.AccessFlags)}
	var err error
	if c.Name, err = d.typ(def.ClassIdx); err != nil {
		return nil, err
	}
	if def.SuperclassIdx != NoIndex {
		if c.Superclass, err = d.typ(def.SuperclassIdx); err != nil {
			return nil, err
		}
	}
	if c.Interfaces, err = d.typeList(def.InterfacesOff); err != nil {
		return nil, fmt.Errorf("interfaces: %w", err)
	}
	if def.SourceFileIdx != NoIndex {
		if c.SourceFile, err = d.str(def.SourceFileIdx); err != nil {
			return nil, err
		}
	}
	if def.ClassDataOff == 0 {
		return c, nil
	}
	if def.ClassDataOff >= uint32(len(d.data)) {
		return nil, apkerr.Errorf("", int64(def.ClassDataOff), "%w: class data", apkerr.ErrOutOfBounds)
	}

	r := cursor.NewAt(d.data, int(def.ClassDataOff))
	var counts [4]uint32
	for i := range counts {
		if counts[i], err = r.Uleb128(); err != nil {
			return nil, err
		}
	}
	if c.StaticFields, err = d.readFields(r, counts[0]); err != nil {
		return nil, fmt.Errorf("static fields: %w", err)
	}
	if c.InstanceFields, err = d.readFields(r, counts[1]); err != nil {
		return nil, fmt.Errorf("instance fields: %w", err)
	}
	if c.DirectMethods, err = d.readMethods(r, counts[2]); err != nil {
		return nil, fmt.Errorf("direct methods: %w", err)
	}
	if c.VirtualMethods, err = d.readMethods(r, counts[3]); err != nil {
		return nil, fmt.Errorf("virtual methods: %w", err)
	}
	return c, nil
}

// readFields folds field_idx_diff values into absolute indices, starting
// from 0 for every list.
func (d *decoder) readFields(r *cursor.Reader, count uint32) ([]*Field, error) {
	if uint64(count)*2 > uint64(r.Remaining()) {
		return nil, apkerr.Errorf("", int64(r.Pos()), "%w: %d encoded fields", apkerr.ErrOutOfBounds, count)
	}
	res := make([]*Field, 0, count)
	var idx uint32
	for i := uint32(0); i < count; i++ {
		diff, err := r.Uleb128()
		if err != nil {
			return nil, err
		}
		flags, err := r.Uleb128()
		if err != nil {
			return nil, err
		}
		idx += diff
		if idx >= uint32(len(d.f.FieldIDs)) {
			return nil, fmt.Errorf("%w: field %d of %d", apkerr.ErrInvalidIndex, idx, len(d.f.FieldIDs))
		}
		id := d.f.FieldIDs[idx]
		desc := d.f.Types[id.TypeIdx]
		res = append(res, &Field{
			Index:       idx,
			Name:        d.f.Strings[id.NameIdx],
			Type:        TypeName(desc),
			Descriptor:  desc,
			AccessFlags: AccessFlags(flags),
		})
	}
	return res, nil
}

func (d *decoder) readMethods(r *cursor.Reader, count uint32) ([]*Method, error) {
	if uint64(count)*3 > uint64(r.Remaining()) {
		return nil, apkerr.Errorf("", int64(r.Pos()), "%w: %d encoded methods", apkerr.ErrOutOfBounds, count)
	}
	res := make([]*Method, 0, count)
	var idx uint32
	for i := uint32(0); i < count; i++ {
		diff, err := r.Uleb128()
		if err != nil {
			return nil, err
		}
		flags, err := r.Uleb128()
		if err != nil {
			return nil, err
		}
		codeOff, err := r.Uleb128()
		if err != nil {
			return nil, err
		}
		idx += diff
		if idx >= uint32(len(d.f.MethodIDs)) {
			return nil, fmt.Errorf("%w: method %d of %d", apkerr.ErrInvalidIndex, idx, len(d.f.MethodIDs))
		}
		id := d.f.MethodIDs[idx]
		proto := d.f.Protos[id.ProtoIdx]
		ret := d.f.Types[proto.ReturnTypeIdx]
		m := &Method{
			Index:            idx,
			Name:             d.f.Strings[id.NameIdx],
			ReturnType:       TypeName(ret),
			ReturnDescriptor: ret,
			AccessFlags:      AccessFlags(flags),
		}
		if m.ParameterDescriptors, err = d.typeList(proto.ParametersOff); err != nil {
			return nil, fmt.Errorf("method %s parameters: %w", m.Name, err)
		}
		m.Parameters = make([]string, len(m.ParameterDescriptors))
		for i, p := range m.ParameterDescriptors {
			m.Parameters[i] = TypeName(p)
		}
		if codeOff != 0 {
			if m.Code, err = d.readCode(codeOff); err != nil {
				return nil, fmt.Errorf("method %s code: %w", m.Name, err)
			}
		}
		res = append(res, m)
	}
	return res, nil
}
