// Package cmd wires the precache CLI.
package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dsmmcken/precache/internal/config"
	"github.com/dsmmcken/precache/internal/encfs"
	"github.com/dsmmcken/precache/internal/extent"
	"github.com/dsmmcken/precache/internal/output"
	"github.com/dsmmcken/precache/internal/precache"
)

var Version = "dev"

var (
	jsonFlag    bool
	verboseFlag bool
	quietFlag   bool
	limitFlag   int64
	noSyncFlag  bool
	configDir   string
)

func NewRootCmd() *cobra.Command {
	cmd := newRootCmd()
	addDirCommand(cmd)
	addMountsCommand(cmd)
	return cmd
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "precache [FILE]...",
		Short: "Warm the page cache for files in disk order",
		Long: `precache reads the on-disk extents of the given files in ascending
physical order so the kernel caches them, turning a later random-access
pass over the same files into RAM reads.

Files are taken from the arguments and, when stdin is not a terminal,
also one per line from stdin.`,
		Version:       fmt.Sprintf("precache v%s", Version),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := output.SetMode(output.Mode{JSON: jsonFlag, Quiet: quietFlag, Verbose: verboseFlag}); err != nil {
				return err
			}
			switch {
			case verboseFlag:
				log.SetLevel(log.DebugLevel)
			case quietFlag:
				log.SetLevel(log.ErrorLevel)
			default:
				log.SetLevel(log.WarnLevel)
			}
			config.SetConfigDir(configDir)
			return nil
		},
		Args: cobra.ArbitraryArgs,
		RunE: runFiles,
	}

	rootCmd.SetVersionTemplate("{{.Version}}\n")

	pflags := rootCmd.PersistentFlags()
	pflags.BoolVarP(&jsonFlag, "json", "j", false, "Output stats as JSON")
	pflags.BoolVarP(&verboseFlag, "verbose", "v", false, "Extra detail to stderr")
	pflags.BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
	pflags.Int64Var(&limitFlag, "limit", 0, "Byte budget per event (default from PRECACHE_LIMIT or 1 GiB)")
	pflags.BoolVar(&noSyncFlag, "no-sync", false, "Skip the sync() before reading")
	pflags.StringVar(&configDir, "config-dir", "", "Override config directory (default: ~/.precache)")

	return rootCmd
}

// settings resolves the effective budget and sync knobs: config file, then
// environment, then flags.
func settings() config.Settings {
	s := config.Resolve()
	if limitFlag > 0 {
		s.Limit = limitFlag
	}
	if noSyncFlag {
		s.Sync = false
	}
	return s
}

func runFiles(cmd *cobra.Command, args []string) error {
	files := args
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		stdinFiles, err := readPathLinesFrom(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		files = append(files, stdinFiles...)
	}
	if len(files) == 0 {
		return output.Usagef("no files given")
	}

	resolver := encfs.NewResolver()
	driver := precache.New(extent.NewQuery(resolver), settings())
	stats := driver.Precache(files)
	return printStats(cmd, stats)
}

// readPathLinesFrom collects one path per non-empty line.
func readPathLinesFrom(r io.Reader) ([]string, error) {
	var paths []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, sc.Err()
}

func printStats(cmd *cobra.Command, stats precache.Stats) error {
	if output.IsJSON() {
		return output.PrintJSON(cmd.OutOrStdout(), stats)
	}
	if !output.IsQuiet() {
		fmt.Fprintf(cmd.OutOrStdout(), "queued %d files, read %d segments (%d bytes)\n",
			stats.FilesQueued, stats.Segments, stats.BytesRead)
	}
	return nil
}

func Execute() error {
	return NewRootCmd().Execute()
}

// ExitCode maps an Execute error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return output.ExitSuccess
	}
	if errors.Is(err, output.ErrUsage) {
		return output.ExitUsage
	}
	return output.ExitError
}
