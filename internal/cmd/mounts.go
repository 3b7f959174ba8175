package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dsmmcken/precache/internal/encfs"
	"github.com/dsmmcken/precache/internal/output"
)

func addMountsCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "mounts",
		Short: "List detected EncFS mounts",
		Long:  "Scan running processes for encfs mounts and print the front → back table the resolver would use.",
		Args:  cobra.NoArgs,
		RunE:  runMounts,
	}
	parent.AddCommand(cmd)
}

func runMounts(cmd *cobra.Command, args []string) error {
	r := encfs.NewResolver()
	if err := r.ForceRefresh(); err != nil {
		return fmt.Errorf("scanning processes: %w", err)
	}

	mounts := r.Mounts()
	if output.IsJSON() {
		return output.PrintJSON(cmd.OutOrStdout(), mounts)
	}
	if len(mounts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no encfs mounts found")
		return nil
	}
	for _, m := range mounts {
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (pid %d)\n", m.Front, m.Back, m.PID)
	}
	return nil
}
