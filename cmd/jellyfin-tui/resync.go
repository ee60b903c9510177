package main

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	appsync "github.com/dhonus/jellyfin-tui/internal/sync"
)

func newResyncCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resync [library-id]",
		Short: "Run one reconciliation pass and exit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if a.cfg.Offline {
				return fmt.Errorf("cannot resync while sync.offline is set")
			}

			if len(args) == 1 {
				if err := a.engine.SyncLibrary(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("synced library %s\n", args[0])
				return nil
			}

			libs, err := a.client.FetchLibraries(ctx)
			if err != nil {
				return err
			}

			// One tick per library pass plus one for the playlist phase.
			total := int64(len(libs) + 1)
			bar := progressbar.Default(total, "syncing")

			done := make(chan error, 1)
			go func() { done <- a.engine.SyncAll(ctx) }()

			for {
				select {
				case n := <-a.engine.Notifications():
					switch n.Kind {
					case appsync.KindLibraryUpdated, appsync.KindPlaylistsUpdated:
						_ = bar.Add(1)
					case appsync.KindSyncFailed:
						// SyncAll reports it; keep draining.
					}
				case err := <-done:
					_ = bar.Finish()
					if err != nil {
						return err
					}
					fmt.Printf("synced %d libraries\n", len(libs))
					return nil
				}
			}
		},
	}
}
