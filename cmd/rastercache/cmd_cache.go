package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/store"
)

func newCacheCommand() *cobra.Command {
	var opts CacheOptions

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Operate on cache stores",
		Long: `
The "cache" command allows listing and cleaning the cache stores below the
cache base directory.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if there was any error.
`,
		DisableAutoGenTag: true,
		RunE: func(_ *cobra.Command, args []string) error {
			return runCache(opts, globalOptions, args)
		},
	}

	opts.AddFlags(cmd.Flags())
	return cmd
}

// removeWorkers limits the number of stores removed concurrently.
const removeWorkers = 4

// CacheOptions bundles all options for the cache command.
type CacheOptions struct {
	Cleanup bool
	MaxAge  uint
}

func (opts *CacheOptions) AddFlags(f *pflag.FlagSet) {
	f.BoolVar(&opts.Cleanup, "cleanup", false, "remove old cache stores")
	f.UintVar(&opts.MaxAge, "max-age", 30, "max age in `days` for cache stores to be considered old")
}

func runCache(opts CacheOptions, gopts GlobalOptions, args []string) error {
	if len(args) > 0 {
		return errors.Fatal("the cache command has no arguments")
	}

	basedir, err := gopts.BaseDir()
	if err != nil {
		return err
	}

	maxAge := time.Duration(opts.MaxAge) * 24 * time.Hour

	if opts.Cleanup || gopts.CleanupCache {
		old, err := store.OlderThan(basedir, maxAge)
		if err != nil {
			return err
		}

		if len(old) == 0 {
			Verbosef("no old cache stores found\n")
			return nil
		}

		Verbosef("remove %d old cache stores\n", len(old))

		var (
			wg     errgroup.Group
			mu     sync.Mutex
			failed = make(map[string]error)
		)
		wg.SetLimit(removeWorkers)

		for _, item := range old {
			dir := filepath.Join(basedir, item.Name)
			Verboseff("removing %v\n", dir)
			wg.Go(func() error {
				if err := os.RemoveAll(dir); err != nil {
					mu.Lock()
					failed[dir] = err
					mu.Unlock()
				}
				return nil
			})
		}
		_ = wg.Wait()

		for dir, err := range failed {
			Warnf("unable to remove %v: %v\n", dir, err)
		}

		return nil
	}

	entries, err := store.All(basedir)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		Printf("no cache stores found, basedir is %v\n", basedir)
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime.Before(entries[j].ModTime)
	})

	rowFormat := "%-24s  %-19s  %-14s  %s\n"
	Printf(rowFormat, "Store", "Modified", "Age", "Old")
	for _, entry := range entries {
		var old string
		if store.IsOld(entry.ModTime, maxAge) {
			old = "yes"
		}

		Printf(rowFormat,
			entry.Name,
			entry.ModTime.Format(TimeFormat),
			fmt.Sprintf("%d days ago", uint(time.Since(entry.ModTime).Hours()/24)),
			old)
	}
	Printf("%d cache stores in %v\n", len(entries), basedir)

	return nil
}
