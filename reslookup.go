package apkparser

import (
	"fmt"
	"sort"

	"github.com/droidscope/apkparser/apkerr"
)

// Locale selects a configuration for string lookups. Empty fields mean "unset".
type Locale struct {
	Lang    string
	Country string
}

// Lookup is the result of ResourceTable.Find.
type Lookup struct {
	Type string
	// Value is set for "string" resources; nil when the selected locale has no value.
	Value *string
	// Values lists the file names of "drawable" and "mipmap" resources, one per configuration.
	Values []string
}

// stringBucket maps an entry index to its value. A present key with a nil
// value means the entry slot exists but holds nothing usable.
type stringBucket map[uint16]*string

type localeStrings struct {
	def     stringBucket
	lang    map[string]stringBucket
	country map[string]stringBucket
}

// merge keeps the first non-nil value per key.
func (b stringBucket) merge(src stringBucket) {
	for k, v := range src {
		if old, ok := b[k]; !ok || old == nil {
			b[k] = v
		}
	}
}

func (p *Package) buildIndexes(t *ResourceTable) {
	p.typeIDs = make(map[string]uint8)
	for i := p.TypeStrings.Len() - 1; i >= 0; i-- {
		p.typeIDs[p.TypeStrings.get(uint32(i))] = uint8(i + 1)
	}
	p.keyIDs = make(map[string]uint32)
	for i := p.KeyStrings.Len() - 1; i >= 0; i-- {
		p.keyIDs[p.KeyStrings.get(uint32(i))] = uint32(i)
	}

	p.entryIDs = make(map[uint8]map[string]uint16)
	for tid, chunks := range p.Types {
		ids := make(map[string]uint16)
		for _, c := range chunks {
			for i, e := range c.Entries {
				if e == nil {
					continue
				}
				key, ok := p.KeyStrings.Get(e.Key)
				if _, seen := ids[key]; ok && !seen {
					ids[key] = uint16(i)
				}
			}
		}
		p.entryIDs[tid] = ids
	}

	p.strings = localeStrings{
		def:     stringBucket{},
		lang:    make(map[string]stringBucket),
		country: make(map[string]stringBucket),
	}
	tid, ok := p.TypeID("string")
	if !ok {
		return
	}
	p.stringType = tid
	for _, c := range p.Types[tid] {
		chunk := make(stringBucket, len(c.Entries))
		for i, e := range c.Entries {
			chunk[uint16(i)] = nil
			if e != nil {
				if s, ok := t.ValueString(e.Value); ok {
					chunk[uint16(i)] = &s
				}
			}
		}

		if c.Config.Language == "" && c.Config.Country == "" {
			p.strings.def.merge(chunk)
		}
		if l := c.Config.Language; l != "" {
			if p.strings.lang[l] == nil {
				p.strings.lang[l] = stringBucket{}
			}
			p.strings.lang[l].merge(chunk)
		}
		if cn := c.Config.Country; cn != "" {
			if p.strings.country[cn] == nil {
				p.strings.country[cn] = stringBucket{}
			}
			p.strings.country[cn].merge(chunk)
		}
	}
}

// TypeID returns the 1-based id of a type name.
func (p *Package) TypeID(name string) (uint8, bool) {
	id, ok := p.typeIDs[name]
	return id, ok
}

func (p *Package) TypeName(id uint8) (string, bool) {
	if id == 0 {
		return "", false
	}
	return p.TypeStrings.Get(uint32(id) - 1)
}

// KeyID returns the index of a key name in the key pool.
func (p *Package) KeyID(name string) (uint32, bool) {
	id, ok := p.keyIDs[name]
	return id, ok
}

func (p *Package) KeyName(id uint32) (string, bool) {
	return p.KeyStrings.Get(id)
}

func (p *Package) firstEntry(tid uint8, idx uint16) *Entry {
	for _, c := range p.Types[tid] {
		if e := c.Entry(idx); e != nil {
			return e
		}
	}
	return nil
}

func (p *Package) bucket(loc Locale) stringBucket {
	var b stringBucket
	switch {
	case loc.Lang != "":
		b = p.strings.lang[loc.Lang]
	case loc.Country != "":
		b = p.strings.country[loc.Country]
	}
	if b == nil {
		b = p.strings.def
	}
	return b
}

// Strings returns the string resources visible for loc, keyed by name.
func (p *Package) Strings(loc Locale) map[string]string {
	res := make(map[string]string)
	for idx, v := range p.bucket(loc) {
		if v == nil {
			continue
		}
		if e := p.firstEntry(p.stringType, idx); e != nil {
			if key, ok := p.KeyStrings.Get(e.Key); ok {
				res[key] = *v
			}
		}
	}
	return res
}

// Locales lists the languages and countries that have string overrides.
func (p *Package) Locales() (langs, countries []string) {
	for l := range p.strings.lang {
		langs = append(langs, l)
	}
	for c := range p.strings.country {
		countries = append(countries, c)
	}
	sort.Strings(langs)
	sort.Strings(countries)
	return langs, countries
}

// Find looks a resource up by "@0xPPTTEEEE" or "@type/key".
//
// "string" resources resolve through the locale buckets: an id unknown to the
// table is ErrNotFound, one missing from the selected locale gives a nil Value.
// "drawable" and "mipmap" resources list the file name of every configuration
// that holds a string value; references and colors are skipped.
// Other types return a nil Lookup without error.
func (t *ResourceTable) Find(id string, loc Locale) (*Lookup, error) {
	pkg, rid, err := t.ResolveID(id)
	if err != nil {
		return nil, err
	}

	typ, ok := pkg.TypeName(rid.Type())
	if !ok {
		return nil, nil
	}

	switch typ {
	case "string":
		if pkg.firstEntry(rid.Type(), rid.Entry()) == nil {
			return nil, fmt.Errorf("%w: %s", apkerr.ErrNotFound, id)
		}
		l := &Lookup{Type: typ}
		if v := pkg.bucket(loc)[rid.Entry()]; v != nil {
			s := *v
			l.Value = &s
		}
		return l, nil
	case "drawable", "mipmap":
		l := &Lookup{Type: typ, Values: []string{}}
		for _, c := range pkg.Types[rid.Type()] {
			e := c.Entry(rid.Entry())
			if e == nil || e.Value == nil || e.Value.Type != attrTypeString {
				continue
			}
			if s, ok := t.Strings.Get(e.Value.Data); ok {
				l.Values = append(l.Values, s)
			}
		}
		return l, nil
	default:
		return nil, nil
	}
}
