/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Command dexkit is the thin command-line front end over the analysis
// library: load one APK, run a regex-driven evidence scan over it, and
// print what matched. Richer CLI UX (subcommands, output formats,
// interactive JDWP sessions) is deliberately left out -- this is a
// one-command driver, not a CLI framework exercise.
package main

import (
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/spf13/cobra"

	"dexkit/archive"
	"dexkit/internal/globals"
	"dexkit/internal/shutdown"
	"dexkit/internal/trace"
	"dexkit/search"
)

const version = "0.1.0"

var (
	pattern     string
	maxDepth    int
	constrained bool
	copyright   bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dexkit <apk-path>",
		Short:   "Scan an Android APK for regex-matched evidence",
		Version: version,
		Args:    cobra.MaximumNArgs(1),
		RunE:    runScan,
	}
	cmd.Flags().StringVarP(&pattern, "pattern", "p", "", "regular expression to search strings, classes, methods and fields for")
	cmd.Flags().IntVarP(&maxDepth, "max-depth", "d", 0, "maximum nested-ZIP recursion depth (0 = unbounded)")
	cmd.Flags().BoolVarP(&constrained, "constrained", "c", false, "force the serial scan path instead of one goroutine per DEX group")
	cmd.Flags().BoolVar(&copyright, "copyright", false, "print license information and exit")
	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	if copyright {
		showCopyright(cmd.OutOrStdout())
		return nil
	}
	if len(args) != 1 {
		return cmd.Usage()
	}
	trace.Init()
	globals.Get().ConstrainedHost = constrained
	globals.Get().MaxArchiveDepth = maxDepth

	apkPath := args[0]
	f, err := os.Open(apkPath)
	if err != nil {
		return fmt.Errorf("dexkit: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("dexkit: %w", err)
	}

	files, err := archive.Open(f, info.Size(), maxDepth)
	if err != nil {
		trace.Error(fmt.Sprintf("dexkit: loading %q: %v", apkPath, err))
		shutdown.Exit(shutdown.ARCHIVE_ERROR)
	}

	if pattern == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "loaded %d multi-dex group(s), %d raw binary entries\n", len(files.MultiDex), len(files.Binaries))
		return nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("dexkit: invalid pattern: %w", err)
	}

	evidence, err := search.Search(files, re, nil)
	if err != nil {
		return fmt.Errorf("dexkit: scan failed: %w", err)
	}
	for _, e := range evidence {
		fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", e)
	}
	return nil
}

func showCopyright(w io.Writer) {
	fmt.Fprintln(w, "dexkit - Android APK static/dynamic analysis toolkit")
	fmt.Fprintln(w, "Licensed under the Mozilla Public License 2.0 (MPL 2.0).")
	fmt.Fprintln(w, "See https://www.mozilla.org/en-US/MPL/2.0/ for the license text.")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		shutdown.Exit(shutdown.USAGE_ERROR)
	}
}
