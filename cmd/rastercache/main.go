package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/rastercache/rastercache/internal/debug"
	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/feature"
)

var version = "0.1.0-dev (compiled manually)"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rastercache",
		Short: "Manage block caches of tiled raster files",
		Long: `
rastercache inspects and cleans the on-disk block caches kept for tiled
raster files. Every cache store lives in its own directory below the cache
base directory.
`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		DisableAutoGenTag: true,

		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return globalOptions.PreRun()
		},
	}

	globalOptions.AddFlags(cmd.PersistentFlags())

	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(
		newCacheCommand(),
		newFeaturesCommand(),
		newInspectCommand(),
		newOptionsCommand(),
		newVersionCommand(),
	)

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Print version information",
		DisableAutoGenTag: true,
		Run: func(_ *cobra.Command, _ []string) {
			Printf("rastercache %s compiled with %v on %v/%v\n",
				version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

func main() {
	// install custom global logger into a buffer, if an error occurs
	// we can show the logs
	logBuffer := bytes.NewBuffer(nil)
	log.SetOutput(logBuffer)

	err := feature.Flag.Apply(os.Getenv("RASTERCACHE_FEATURES"), func(s string) {
		_, _ = fmt.Fprintln(os.Stderr, s)
	})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		Exit(1)
	}

	debug.Log("main %#v", os.Args)
	debug.Log("rastercache %s compiled with %v on %v/%v",
		version, runtime.Version(), runtime.GOOS, runtime.GOARCH)

	ctx := createGlobalContext()
	err = newRootCommand().ExecuteContext(ctx)
	if err == nil {
		err = ctx.Err()
	}

	var exitMessage string
	switch {
	case errors.IsFatal(err):
		exitMessage = err.Error()
	case err != nil:
		exitMessage = fmt.Sprintf("%+v", err)

		if logBuffer.Len() > 0 {
			exitMessage += "also, the following messages were logged by a library:\n"
			sc := bufio.NewScanner(logBuffer)
			for sc.Scan() {
				exitMessage += fmt.Sprintln(sc.Text())
			}
		}
	}

	var exitCode int
	switch {
	case err == nil:
		exitCode = 0
	case errors.Is(err, context.Canceled):
		exitCode = 130
	default:
		exitCode = 1
	}

	if exitCode != 0 {
		_, _ = fmt.Fprintf(globalOptions.stderr, "%v\n", exitMessage)
	}
	Exit(exitCode)
}
