package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/globalid/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "globalidd",
		Short:   "Global ID service for multi-camera tracking",
		Version: cli.Version(),
		Long: `globalidd assigns one global identity to a person seen by many cameras.
Zone pipelines post (camera, track, embedding) observations to /assign_id and
receive a stable global id back.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cli.ServeCmd())
	rootCmd.AddCommand(cli.TopologyCmd())
	rootCmd.AddCommand(cli.VersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
