package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/options"
	"github.com/rastercache/rastercache/internal/store"
)

// TimeFormat is the format used for all timestamps printed by rastercache.
const TimeFormat = "2006-01-02 15:04:05"

// GlobalOptions hold all global options for rastercache.
type GlobalOptions struct {
	Quiet        bool
	Verbose      int
	CacheDir     string
	CleanupCache bool

	Options []string

	stdout io.Writer
	stderr io.Writer

	// verbosity is 0 with --quiet, 1 by default and 2 with --verbose
	verbosity uint

	extended options.Options
}

func (opts *GlobalOptions) AddFlags(f *pflag.FlagSet) {
	f.BoolVarP(&opts.Quiet, "quiet", "q", false, "only print errors")
	f.CountVarP(&opts.Verbose, "verbose", "v", "be verbose")
	f.StringVar(&opts.CacheDir, "cache-dir", "", "set the cache base `directory` (default: $RASTERCACHE_CACHE_DIR or the OS cache directory)")
	f.BoolVar(&opts.CleanupCache, "cleanup-cache", false, "auto remove old cache stores")
	f.StringSliceVarP(&opts.Options, "option", "o", []string{}, "set extended option (`key=value`, can be specified multiple times)")
}

func (opts *GlobalOptions) PreRun() error {
	opts.verbosity = 1
	if opts.Quiet && opts.Verbose > 0 {
		return errors.Fatal("--quiet and --verbose cannot be specified at the same time")
	}

	switch {
	case opts.Verbose > 0:
		opts.verbosity = 2
	case opts.Quiet:
		opts.verbosity = 0
	}

	extendedOpts, err := options.Parse(opts.Options)
	if err != nil {
		return err
	}
	opts.extended = extendedOpts
	return nil
}

// StoreConfig returns the store configuration with the extended options
// and --cache-dir applied.
func (opts *GlobalOptions) StoreConfig() (store.Config, error) {
	cfg := store.NewConfig()
	if err := opts.extended.Extract("store").Apply("store", &cfg); err != nil {
		return store.Config{}, err
	}

	if opts.CacheDir != "" {
		cfg.Dir = opts.CacheDir
	}

	return cfg, nil
}

// BaseDir returns the cache base directory to operate on.
func (opts *GlobalOptions) BaseDir() (string, error) {
	cfg, err := opts.StoreConfig()
	if err != nil {
		return "", err
	}

	if cfg.Dir != "" {
		return cfg.Dir, nil
	}

	return store.DefaultDir()
}

var globalOptions = GlobalOptions{
	stdout: os.Stdout,
	stderr: os.Stderr,
}

// Printf writes the message to the configured stdout stream.
func Printf(format string, args ...interface{}) {
	_, err := fmt.Fprintf(globalOptions.stdout, format, args...)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "unable to write to stdout: %v\n", err)
	}
}

// Verbosef calls Printf to write the message unless --quiet is set.
func Verbosef(format string, args ...interface{}) {
	if globalOptions.verbosity >= 1 {
		Printf(format, args...)
	}
}

// Verboseff calls Printf to write the message when --verbose is set.
func Verboseff(format string, args ...interface{}) {
	if globalOptions.verbosity >= 2 {
		Printf(format, args...)
	}
}

// Warnf writes the message to the configured stderr stream.
func Warnf(format string, args ...interface{}) {
	_, err := fmt.Fprintf(globalOptions.stderr, format, args...)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "unable to write to stderr: %v\n", err)
	}
}
