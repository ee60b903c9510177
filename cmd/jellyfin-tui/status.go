package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cached libraries and download usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			libs, err := a.store.ListLibraries(ctx)
			if err != nil {
				return err
			}
			if len(libs) == 0 {
				fmt.Println("no libraries cached yet; run `jellyfin-tui resync` first")
				return nil
			}

			for _, lib := range libs {
				trackIDs, err := a.store.ListTrackIDsByLibrary(ctx, lib.ID)
				if err != nil {
					return err
				}
				albumIDs, err := a.store.ListAlbumIDsByLibrary(ctx, lib.ID)
				if err != nil {
					return err
				}
				selected := " "
				if lib.Selected {
					selected = "*"
				}
				fmt.Printf("[%s] %s (%s): %d albums, %d tracks, last seen %s\n",
					selected, lib.Name, lib.ID, len(albumIDs), len(trackIDs),
					humanize.Time(lib.LastSeen))
			}

			downloaded, err := a.store.ListDownloaded(ctx)
			if err != nil {
				return err
			}
			var totalBytes int64
			for _, track := range downloaded {
				if track.DownloadSizeBytes != nil {
					totalBytes += *track.DownloadSizeBytes
				}
			}
			fmt.Printf("\n%d downloaded tracks, %s on disk (%s)\n",
				len(downloaded), humanize.Bytes(uint64(totalBytes)), a.cfg.DownloadsDir)
			return nil
		},
	}
}
