package main

import (
	"path/filepath"

	"github.com/dhonus/jellyfin-tui/internal/client"
	"github.com/dhonus/jellyfin-tui/internal/config"
	"github.com/dhonus/jellyfin-tui/internal/downloader"
	"github.com/dhonus/jellyfin-tui/internal/filesystem"
	"github.com/dhonus/jellyfin-tui/internal/logger"
	"github.com/dhonus/jellyfin-tui/internal/store"
	appsync "github.com/dhonus/jellyfin-tui/internal/sync"
)

// app wires the long-lived components together for one command invocation.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	store    *store.Store
	client   client.Client
	manager  *downloader.Manager
	engine   *appsync.Engine
}

func buildApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	if err := filesystem.EnsureDir(filepath.Dir(cfg.DBPath)); err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	cl := client.NewJellyfin(cfg.ServerURL, cfg.ServerToken)
	layout := filesystem.NewLayout(cfg.DownloadsDir)
	manager := downloader.NewManager(st, cl, layout, log, cfg.PreferTrackArt)
	engine := appsync.New(st, cl, manager, log, appsync.Options{
		Interval:       cfg.SyncInterval,
		PurgeThreshold: cfg.PurgeThreshold,
		PreferTrackArt: cfg.PreferTrackArt,
		Offline:        cfg.Offline,
	})

	return &app{
		cfg:     cfg,
		log:     log,
		store:   st,
		client:  cl,
		manager: manager,
		engine:  engine,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
