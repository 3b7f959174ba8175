package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dsmmcken/precache/internal/encfs"
	"github.com/dsmmcken/precache/internal/output"
	"github.com/dsmmcken/precache/internal/walk"
)

func addDirCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "dir ROOT [RAW-DEVICE]",
		Short: "Precache a directory tree via the raw block device",
		Long: `Walk the tree under ROOT level by level, staying on a single
filesystem, and stream each level's extents in disk order from the raw
block device. The device is guessed from the mount table when not given.

Examples:
  precache dir /var/lib/mail
  precache dir /mnt/data/photos /dev/sdb1`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return output.Usagef("expected ROOT [RAW-DEVICE], got %d arguments", len(args))
			}
			return nil
		},
		RunE: runDir,
	}
	parent.AddCommand(cmd)
}

func runDir(cmd *cobra.Command, args []string) error {
	root := args[0]

	device := ""
	if len(args) == 2 {
		device = args[1]
	} else {
		var err error
		device, err = walk.GuessDevice(root)
		if err != nil {
			return fmt.Errorf("guessing device for %s: %w", root, err)
		}
		if output.IsVerbose() {
			fmt.Fprintf(cmd.ErrOrStderr(), "using device %s\n", device)
		}
	}

	walker, err := walk.New(device, encfs.NewResolver())
	if err != nil {
		return err
	}
	defer walker.Close()

	stats, err := walker.Precache(root)
	if err != nil {
		return err
	}
	return printStats(cmd, stats)
}
