// Package apkparser decodes the binary formats inside Android APKs: binary
// XML (AndroidManifest.xml, layouts) and the compiled resource table
// (resources.arsc). DEX decoding lives in the dex subpackage.
package apkparser

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/droidscope/apkparser/dex"
)

// DefaultMaxEntrySize caps how much of a single archive entry is read.
const DefaultMaxEntrySize = 128 * 1024 * 1024

const (
	manifestEntry  = "AndroidManifest.xml"
	resourcesEntry = "resources.arsc"
	dexPattern     = "classes*.dex"
	layoutPattern  = "res/layout*/*.xml"
)

type Options struct {
	MaxEntrySize int64
	Logger       *logrus.Logger
}

func (o *Options) withDefaults() Options {
	res := Options{}
	if o != nil {
		res = *o
	}
	if res.MaxEntrySize <= 0 {
		res.MaxEntrySize = DefaultMaxEntrySize
	}
	if res.Logger == nil {
		res.Logger = logrus.StandardLogger()
	}
	return res
}

// Apk holds everything that could be decoded from an APK. An artifact that
// failed to decode is nil and its error is kept in Errors.
type Apk struct {
	Manifest  *Document
	Resources *ResourceTable
	// Dex files in name order: classes.dex, classes2.dex, ...
	Dex []*dex.File
	// Layouts by entry name, e.g. "res/layout/main.xml".
	Layouts map[string]*Document
	// Icons holds the application icon files by entry name, one per
	// configuration that has one.
	Icons  map[string][]byte
	Errors map[string]error
}

// OpenApk opens the archive at path and decodes its artifacts.
// The error is only non-nil when the archive itself can't be opened.
func OpenApk(path string, opts *Options) (*Apk, error) {
	a, err := OpenArchive(path)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	return NewApk(a, opts), nil
}

// NewApk decodes the artifacts of an already opened archive. It does not close it.
func NewApk(archive *Archive, opts *Options) *Apk {
	o := opts.withDefaults()
	p := apkParser{
		archive: archive,
		opts:    o,
		apk: &Apk{
			Layouts: make(map[string]*Document),
			Icons:   make(map[string][]byte),
			Errors:  make(map[string]error),
		},
	}

	p.parseResources()
	p.parseManifest()
	p.parseDex()
	p.parseLayouts()
	p.parseIcons()
	return p.apk
}

type apkParser struct {
	archive *Archive
	opts    Options
	apk     *Apk
}

// decodeEntry reads the entry and runs decode on it, recording failures.
// Panics from a decoder are turned into errors, the other artifacts still get parsed.
func (p *apkParser) decodeEntry(name string, decode func([]byte) error) (ok bool) {
	log := p.opts.Logger.WithField("entry", name)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v\n%s", r, string(debug.Stack()))
			p.apk.Errors[name] = err
			log.WithError(err).Error("decoder panicked")
			ok = false
		}
	}()

	data, err := p.archive.ReadEntry(name, p.opts.MaxEntrySize)
	switch {
	case errors.Is(err, os.ErrNotExist):
		p.apk.Errors[name] = os.ErrNotExist
		log.Debug("entry not present")
		return false
	case err != nil:
		p.apk.Errors[name] = fmt.Errorf("failed to read %s: %w", name, err)
		log.WithError(err).Warn("failed to read entry")
		return false
	}

	if err := decode(data); err != nil {
		p.apk.Errors[name] = err
		log.WithError(err).Warn("failed to decode entry")
		return false
	}

	log.WithField("size", len(data)).Debug("decoded")
	return true
}

func (p *apkParser) parseResources() {
	p.decodeEntry(resourcesEntry, func(data []byte) (err error) {
		p.apk.Resources, err = DecodeResourceTable(data)
		return
	})
}

func (p *apkParser) parseManifest() {
	p.decodeEntry(manifestEntry, func(data []byte) (err error) {
		p.apk.Manifest, err = DecodeAxml(data)
		return
	})
}

func (p *apkParser) parseDex() {
	for _, f := range p.archive.Glob(dexPattern) {
		p.decodeEntry(f.Name, func(data []byte) error {
			d, err := dex.Decode(data)
			if err != nil {
				return err
			}
			p.apk.Dex = append(p.apk.Dex, d)
			return nil
		})
	}
}

func (p *apkParser) parseLayouts() {
	for _, f := range p.archive.Glob(layoutPattern) {
		p.decodeEntry(f.Name, func(data []byte) error {
			doc, err := DecodeAxml(data)
			if err != nil {
				return err
			}
			p.apk.Layouts[f.Name] = doc
			return nil
		})
	}
}

func (p *apkParser) parseIcons() {
	if p.apk.Manifest == nil {
		return
	}
	names, err := p.apk.IconFiles(Locale{})
	if err != nil {
		p.opts.Logger.WithError(err).Warn("failed to resolve the application icon")
		return
	}
	for _, name := range names {
		p.decodeEntry(name, func(data []byte) error {
			p.apk.Icons[name] = data
			return nil
		})
	}
}

// missing explains why an artifact is nil.
func (a *Apk) missing(name string) error {
	if err := a.Errors[name]; err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return fmt.Errorf("%s: %w", name, os.ErrNotExist)
}

// application returns the value of an attribute of /manifest/application.
func (a *Apk) application(attr string) (AttrValue, bool, error) {
	if a.Manifest == nil {
		return AttrValue{}, false, a.missing(manifestEntry)
	}
	apps := a.Manifest.FindAll("/manifest/application")
	if len(apps) == 0 {
		return AttrValue{}, false, nil
	}
	v, ok := apps[0].Attr(attr)
	return v, ok, nil
}

// IconFiles lists the entry names of the application icon. A reference is
// looked up with Find and gives one file per drawable or mipmap
// configuration; a plain string is taken as the file name.
func (a *Apk) IconFiles(loc Locale) ([]string, error) {
	v, ok, err := a.application("android:icon")
	if err != nil || !ok {
		return nil, err
	}

	switch v.Kind {
	case ValueString:
		if v.Str == "" {
			return nil, nil
		}
		return []string{v.Str}, nil
	case ValueReference:
		if a.Resources == nil {
			return nil, fmt.Errorf("icon %s: %w", ResID(v.Data), a.missing(resourcesEntry))
		}
		l, err := a.Resources.Find(ResID(v.Data).String(), loc)
		if err != nil || l == nil {
			return nil, err
		}
		if l.Value != nil {
			return []string{*l.Value}, nil
		}
		return l.Values, nil
	default:
		return nil, nil
	}
}

// Label resolves the application label, following a string reference
// through the resource table when there is one.
func (a *Apk) Label(loc Locale) (string, error) {
	v, _, err := a.application("android:label")
	if err != nil {
		return "", err
	}
	if v.Kind != ValueReference {
		return v.String(), nil
	}
	if a.Resources == nil {
		return v.String(), nil
	}

	l, err := a.Resources.Find(ResID(v.Data).String(), loc)
	if err != nil {
		return "", err
	}
	if l == nil || l.Value == nil {
		return v.String(), nil
	}
	return *l.Value, nil
}
