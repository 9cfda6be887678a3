package main

import (
	"encoding/xml"
	"fmt"

	"github.com/rodaine/table"
	"github.com/urfave/cli/v2"

	"github.com/droidscope/apkparser"
	"github.com/droidscope/apkparser/dex"
)

const (
	manifestEntry  = "AndroidManifest.xml"
	resourcesEntry = "resources.arsc"
	dexPattern     = "classes*.dex"
)

func (r *runner) xmlCommand() *cli.Command {
	return &cli.Command{
		Name:      "xml",
		Usage:     "print a binary XML file as text",
		ArgsUsage: "INPUT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "entry",
				Usage: "archive `ENTRY` to print when INPUT is an APK",
				Value: manifestEntry,
			},
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "print references as @0xPPTTEEEE instead of resolving them through resources.arsc",
			},
			&cli.StringFlag{
				Name:  "lang",
				Usage: "two letter `LANGUAGE` code for resolved strings",
			},
			&cli.StringFlag{
				Name:  "country",
				Usage: "two letter `COUNTRY` code for resolved strings",
			},
		},
		OnUsageError: usageError,
		Action:       r.printXml,
	}
}

// locale is the configured locale with the --lang and --country overrides.
func (r *runner) locale(c *cli.Context) apkparser.Locale {
	loc := r.cfg.Locale.locale()
	if c.IsSet("lang") {
		loc.Lang = c.String("lang")
	}
	if c.IsSet("country") {
		loc.Country = c.String("country")
	}
	return loc
}

func (r *runner) printXml(c *cli.Context) error {
	in, err := r.open(c)
	if err != nil {
		return err
	}
	arts, err := r.entries(in, c.String("entry"))
	if err != nil {
		return err
	}

	var res *apkparser.ResourceTable
	if !c.Bool("raw") {
		res = r.resources(in)
	}
	loc := r.locale(c)

	for _, a := range arts {
		doc, err := apkparser.DecodeAxml(a.data)
		if err != nil {
			return decodeError(a.name, err)
		}

		enc := xml.NewEncoder(c.App.Writer)
		enc.Indent("", "    ")
		if err := doc.Encode(enc, res, loc); err != nil {
			return fmt.Errorf("%w: %w", ErrApkdump, err)
		}
		fmt.Fprintln(c.App.Writer)
	}
	return nil
}

func (r *runner) classesCommand() *cli.Command {
	return &cli.Command{
		Name:      "classes",
		Usage:     "list the classes of a DEX file",
		ArgsUsage: "INPUT",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "members",
				Usage:   "print field and method definitions",
				Aliases: []string{"m"},
			},
		},
		OnUsageError: usageError,
		Action:       r.printClasses,
	}
}

func (r *runner) printClasses(c *cli.Context) error {
	arts, err := r.load(c, dexPattern)
	if err != nil {
		return err
	}

	var files []*dex.File
	for _, a := range arts {
		f, err := dex.Decode(a.data)
		if err != nil {
			return decodeError(a.name, err)
		}
		r.log.WithField("entry", a.name).WithField("classes", len(f.Classes)).Info("decoded dex")
		files = append(files, f)
	}

	w := c.App.Writer
	if c.Bool("members") {
		for _, f := range files {
			for _, cls := range f.Classes {
				fmt.Fprintln(w, cls.Definition())
				for _, fld := range cls.Fields() {
					fmt.Fprintf(w, "    %s;\n", fld.Definition())
				}
				for _, m := range cls.Methods() {
					fmt.Fprintf(w, "    %s\n", m.Definition())
				}
				fmt.Fprintln(w)
			}
		}
		return nil
	}

	tbl := table.New("Class", "Fields", "Methods").WithWriter(w)
	for _, f := range files {
		for _, cls := range f.Classes {
			tbl.AddRow(cls.Definition(), len(cls.Fields()), len(cls.Methods()))
		}
	}
	tbl.Print()
	return nil
}

func (r *runner) resCommand() *cli.Command {
	return &cli.Command{
		Name:      "res",
		Usage:     "look a resource up by @0xPPTTEEEE or @type/name",
		ArgsUsage: "INPUT ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "lang",
				Usage: "two letter `LANGUAGE` code",
			},
			&cli.StringFlag{
				Name:  "country",
				Usage: "two letter `COUNTRY` code",
			},
		},
		OnUsageError: usageError,
		Action:       r.printResource,
	}
}

func (r *runner) loadTable(c *cli.Context) (*apkparser.ResourceTable, error) {
	arts, err := r.load(c, resourcesEntry)
	if err != nil {
		return nil, err
	}
	tbl, err := apkparser.DecodeResourceTable(arts[0].data)
	if err != nil {
		return nil, decodeError(arts[0].name, err)
	}
	return tbl, nil
}

func (r *runner) printResource(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("%w: expected INPUT and ID arguments", ErrFlagParse)
	}
	id := c.Args().Get(1)
	loc := r.locale(c)

	tbl, err := r.loadTable(c)
	if err != nil {
		return err
	}

	pkg, rid, err := tbl.ResolveID(id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrApkdump, err)
	}
	readable, err := pkg.ReadableID(rid)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrApkdump, err)
	}
	l, err := tbl.Find(id, loc)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrApkdump, err)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "%s %s\n", rid, readable)
	switch {
	case l == nil || (l.Type == "string" && l.Value == nil):
		r.log.WithField("id", id).WithField("lang", loc.Lang).WithField("country", loc.Country).Warn("resource has no printable value")
	case l.Value != nil:
		fmt.Fprintln(w, *l.Value)
	default:
		for _, v := range l.Values {
			fmt.Fprintln(w, v)
		}
	}
	return nil
}

func (r *runner) stringsCommand() *cli.Command {
	return &cli.Command{
		Name:      "strings",
		Usage:     "dump a string pool of a resource table",
		ArgsUsage: "INPUT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "pool",
				Usage: "`POOL` to dump: global, types or keys",
				Value: "global",
			},
			&cli.StringFlag{
				Name:  "package",
				Usage: "package `NAME` for the types and keys pools (default: first package)",
			},
		},
		OnUsageError: usageError,
		Action:       r.printStrings,
	}
}

func (r *runner) printStrings(c *cli.Context) error {
	tbl, err := r.loadTable(c)
	if err != nil {
		return err
	}

	pool := tbl.Strings
	if name := c.String("pool"); name != "global" {
		var pkg *apkparser.Package
		switch {
		case c.IsSet("package"):
			pkg = tbl.Package(c.String("package"))
		case len(tbl.Packages) > 0:
			pkg = tbl.Packages[0]
		}
		if pkg == nil {
			return fmt.Errorf("%w: package %q not found", ErrApkdump, c.String("package"))
		}

		switch name {
		case "types":
			pool = pkg.TypeStrings
		case "keys":
			pool = pkg.KeyStrings
		default:
			return fmt.Errorf("%w: unknown pool %q", ErrFlagParse, name)
		}
	}

	out := table.New("Index", "String").WithWriter(c.App.Writer)
	for i, s := range pool.Strings() {
		out.AddRow(i, s)
	}
	out.Print()
	return nil
}
