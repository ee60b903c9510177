package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the background sync engine and download worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a.engine.Run(ctx)
			a.manager.Run(ctx)
			a.log.Info("running",
				"db", a.cfg.DBPath,
				"downloads", a.cfg.DownloadsDir,
				"interval", a.cfg.SyncInterval,
				"offline", a.cfg.Offline)

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			a.log.Info("shutting down")
			cancel()
			a.engine.Wait()
			a.manager.Wait()
			return nil
		},
	}
}
