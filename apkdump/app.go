package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const (
	// ExitCodeSuccess is successful error code.
	ExitCodeSuccess int = iota

	// ExitCodeFlagParseError is the exit code for a flag parsing error.
	ExitCodeFlagParseError

	// ExitCodeDecodeError is the exit code when an input could not be decoded.
	ExitCodeDecodeError

	// ExitCodeUnknownError is the exit code for an unknown error.
	ExitCodeUnknownError
)

// ErrApkdump is a parent error for all command errors.
var ErrApkdump = errors.New("apkdump")

// ErrFlagParse is a flag parsing error.
var ErrFlagParse = fmt.Errorf("%w: parsing flags", ErrApkdump)

// ErrDecode wraps failures of the underlying decoders.
var ErrDecode = fmt.Errorf("%w: decoding", ErrApkdump)

var version = "devel"

// runner carries the state shared by all commands once Before has run.
type runner struct {
	cfg *Config
	log *logrus.Logger
}

func usageError(_ *cli.Context, err error, _ bool) error {
	return fmt.Errorf("%w: %w", ErrFlagParse, err)
}

func newApp() *cli.App {
	r := &runner{}
	return &cli.App{
		Name:  "apkdump",
		Usage: "Dump the binary formats inside Android APKs.",
		Description: strings.Join([]string{
			"Decodes binary XML, resources.arsc and classes.dex files,",
			"either standalone or straight from an APK.",
		}, "\n"),
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "read settings from `FILE` (yaml, json or toml)",
				Aliases: []string{"c"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log `LEVEL` (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log `FORMAT` (text or json)",
			},
		},
		Before:       r.setup,
		OnUsageError: usageError,
		Commands: []*cli.Command{
			r.xmlCommand(),
			r.classesCommand(),
			r.resCommand(),
			r.stringsCommand(),
		},
	}
}

// setup loads the configuration, applies the global flag overrides and
// builds the logger.
func (r *runner) setup(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}

	r.cfg = cfg
	r.log = newLogger(cfg.Log, c.App.ErrWriter)
	r.log.WithField("config", c.String("config")).Debug("configuration loaded")
	return nil
}

// exitCode maps an error returned by the app to a process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.Is(err, ErrFlagParse):
		return ExitCodeFlagParseError
	case errors.Is(err, ErrDecode):
		return ExitCodeDecodeError
	default:
		return ExitCodeUnknownError
	}
}
