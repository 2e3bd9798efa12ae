package main

import (
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/raster"
	"github.com/rastercache/rastercache/internal/store"
)

func newInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect store",
		Short: "Print the contents of a cache store",
		Long: `
The "inspect" command prints the pages, resolutions, block states and tags
of a cache store. The store is given by its name as printed by the "cache"
command.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if there was any error.
`,
		DisableAutoGenTag: true,
		RunE: func(_ *cobra.Command, args []string) error {
			return runInspect(globalOptions, args)
		},
	}

	return cmd
}

func runInspect(gopts GlobalOptions, args []string) error {
	if len(args) != 1 {
		return errors.Fatal("the inspect command expects exactly one store name")
	}

	basedir, err := gopts.BaseDir()
	if err != nil {
		return err
	}

	path := filepath.Join(basedir, args[0])
	s, err := store.Open(path, 0)
	if err != nil {
		return errors.Fatalf("unable to open store %v: %v", args[0], err)
	}
	defer func() { _ = s.Close() }()

	modTime, err := s.ModTime()
	if err != nil {
		return err
	}

	Printf("store %v\n", path)
	Printf("  modified: %v\n", modTime.Format(TimeFormat))

	tags := s.Tags()
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		Printf("  %v: %v\n", k, tags[k])
	}

	for i := 0; i < s.PageCount(); i++ {
		p := s.Page(i)
		Printf("page %d\n", i)
		for j, r := range p.Resolutions {
			Printf("  resolution %d: %v, codec %v\n", j, r, r.Codec)
			if r.Flags != nil {
				Printf("    %d blocks: %d %v, %d %v, %d %v\n", r.BlockCount(),
					r.Flags.Count(raster.Empty), raster.Empty,
					r.Flags.Count(raster.Loaded), raster.Loaded,
					r.Flags.Count(raster.Overwritten), raster.Overwritten)
			}
		}

		kinds := make([]string, 0, len(p.Attributes))
		for kind := range p.Attributes {
			kinds = append(kinds, string(kind))
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			Verboseff("  attribute %v: %d bytes\n", kind, len(p.Attributes[raster.AttributeKind(kind)].Value))
		}
	}

	return nil
}
