package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/droidscope/apkparser"
)

var zipMagic = []byte{0x50, 0x4B, 0x03, 0x04}

type artifact struct {
	name string
	data []byte
}

// input is the INPUT argument, read whole.
type input struct {
	name string
	data []byte
	// archive is nil when INPUT is a single file.
	archive *apkparser.Archive
}

// open reads the INPUT argument, "-" being stdin, and opens it as an archive
// when it looks like one.
func (r *runner) open(c *cli.Context) (*input, error) {
	if c.NArg() < 1 {
		return nil, fmt.Errorf("%w: missing INPUT argument", ErrFlagParse)
	}
	in := &input{name: c.Args().First()}

	var err error
	if in.name == "-" {
		in.data, err = io.ReadAll(c.App.Reader)
	} else {
		in.data, err = os.ReadFile(in.name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrApkdump, err)
	}

	if bytes.HasPrefix(in.data, zipMagic) {
		if in.archive, err = apkparser.OpenArchiveBytes(in.data); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrApkdump, in.name, err)
		}
	}
	return in, nil
}

// entries returns the input itself for a plain file, or every archive entry
// matching pattern.
func (r *runner) entries(in *input, pattern string) ([]artifact, error) {
	limit := r.cfg.Limits.MaxEntrySize

	if in.archive == nil {
		if int64(len(in.data)) > limit {
			return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrApkdump, in.name, limit)
		}
		return []artifact{{name: in.name, data: in.data}}, nil
	}

	files := in.archive.Glob(pattern)
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s has no entry matching %q: %w", ErrApkdump, in.name, pattern, os.ErrNotExist)
	}

	res := make([]artifact, 0, len(files))
	for _, f := range files {
		b, err := f.ReadAll(limit)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrApkdump, f.Name, err)
		}
		r.log.WithField("entry", f.Name).WithField("size", len(b)).Debug("read archive entry")
		res = append(res, artifact{name: f.Name, data: b})
	}
	return res, nil
}

// load reads the INPUT argument. A plain file (or "-" for stdin) is returned
// as a single artifact; an APK yields every entry matching pattern.
func (r *runner) load(c *cli.Context, pattern string) ([]artifact, error) {
	in, err := r.open(c)
	if err != nil {
		return nil, err
	}
	return r.entries(in, pattern)
}

// resources decodes the resource table of an APK input. It is optional:
// nil is returned for plain files and for tables that fail to decode.
func (r *runner) resources(in *input) *apkparser.ResourceTable {
	if in.archive == nil {
		return nil
	}
	log := r.log.WithField("entry", resourcesEntry)

	arts, err := r.entries(in, resourcesEntry)
	if err != nil {
		log.WithError(err).Debug("references left unresolved")
		return nil
	}
	tbl, err := apkparser.DecodeResourceTable(arts[0].data)
	if err != nil {
		log.WithError(err).Warn("failed to decode, references left unresolved")
		return nil
	}
	return tbl
}

// decodeError tags err as a decoder failure for exit code selection.
func decodeError(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDecode, name, err)
}
