package main

import (
	"github.com/spf13/cobra"

	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/feature"
)

func newFeaturesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "features",
		Short: "Print list of feature flags",
		Long: `
The "features" command prints a list of supported feature flags.

To pass feature flags to rastercache, set the RASTERCACHE_FEATURES environment
variable to "featureA=true,featureB=false". Specifying an unknown feature flag
is an error.

A feature can either be in alpha, beta, stable or deprecated state.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if there was any error.
`,
		Hidden:            true,
		DisableAutoGenTag: true,
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) != 0 {
				return errors.Fatal("the feature command expects no arguments")
			}

			Printf("All Feature Flags:\n")
			rowFormat := "%-28s  %-10s  %-7v  %s\n"
			Printf(rowFormat, "Name", "Type", "Default", "Description")
			for _, flag := range feature.Flag.List() {
				Printf(rowFormat, flag.Name, flag.Type, flag.Default, flag.Description)
			}
			return nil
		},
	}

	return cmd
}
