package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "jellyfin-tui",
		Short: "Offline cache and sync engine for a Jellyfin music library",
		Long: `jellyfin-tui keeps a local SQLite mirror of a Jellyfin music library,
reconciles it against the server in the background and manages
downloaded audio for offline playback.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newResyncCmd(&configPath))
	root.AddCommand(newStatusCmd(&configPath))
	return root
}
