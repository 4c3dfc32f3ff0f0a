// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/torrentdeck/internal/backend"
	"github.com/autobrr/torrentdeck/internal/config"
	"github.com/autobrr/torrentdeck/internal/controller"
	"github.com/autobrr/torrentdeck/internal/database"
	"github.com/autobrr/torrentdeck/internal/dispatch"
	"github.com/autobrr/torrentdeck/internal/domain"
	"github.com/autobrr/torrentdeck/internal/host"
	"github.com/autobrr/torrentdeck/internal/metrics"
	"github.com/autobrr/torrentdeck/internal/models"
	"github.com/autobrr/torrentdeck/internal/qbittorrent"
)

// Application holds the flags shared by every command
type Application struct {
	version   string
	configDir string
	dataDir   string
	logPath   string
	backend   string
}

func NewApplication(version string) *Application {
	return &Application{version: version}
}

func (app *Application) bindFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&app.configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/torrentdeck/ or %APPDATA%\\torrentdeck\\). Can also be a direct path to a .toml file")
	flags.StringVar(&app.dataDir, "data-dir", "", "data directory for the activity database (default is next to config file)")
	flags.StringVar(&app.logPath, "log-path", "", "log file path (default is stderr)")
	flags.StringVar(&app.backend, "backend-url", "", "torrent engine URL, overrides backend.url")
}

// loadConfig reads the config and applies the CLI overrides. quiet keeps
// log output off the terminal.
func (app *Application) loadConfig(quiet bool) (*config.AppConfig, error) {
	cfg, err := config.New(app.configDir, app.version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}

	if app.dataDir != "" {
		cfg.SetDataDir(app.dataDir)
	}
	cfg.Update(func(c *domain.Config) {
		if app.logPath != "" {
			c.LogPath = app.logPath
		}
		if app.backend != "" {
			c.Backend.URL = app.backend
		}
	})

	if quiet {
		cfg.ApplyQuietLogConfig()
	} else {
		cfg.ApplyLogConfig()
	}

	return cfg, nil
}

// openBackend connects to the configured torrent engine. The returned func
// releases whatever the backend holds.
func openBackend(ctx context.Context, cfg *config.AppConfig) (backend.Backend, func(), error) {
	bc := cfg.Current().Backend

	switch bc.Kind {
	case domain.BackendQBittorrent:
		client, err := qbittorrent.NewClient(ctx, qbittorrent.ClientConfig{
			Host:          bc.URL,
			Username:      bc.Username,
			Password:      bc.Password,
			BasicUser:     bc.BasicUser,
			BasicPassword: bc.BasicPass,
			Timeout:       cfg.RequestTimeout(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to qBittorrent at %s: %w", bc.URL, err)
		}

		b, err := qbittorrent.NewBackend(client)
		if err != nil {
			return nil, nil, err
		}

		log.Debug().Str("url", bc.URL).Str("webAPIVersion", client.WebAPIVersion()).Msg("Using qBittorrent backend")
		return b, b.Close, nil

	default:
		log.Debug().Str("url", bc.URL).Msg("Using native backend")
		return backend.NewClient(backend.ClientConfig{
			BaseURL:       bc.URL,
			Timeout:       cfg.RequestTimeout(),
			StatusRetries: bc.StatusRetries,
		}), func() {}, nil
	}
}

func openActivityStore(cfg *config.AppConfig) (*database.DB, *models.ActivityStore, error) {
	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, models.NewActivityStore(db.Conn()), nil
}

// stack is everything a long running command needs
type stack struct {
	db         *database.DB
	activity   *models.ActivityStore
	dispatcher *dispatch.Dispatcher
	controller *controller.Controller
	host       *host.System
	metrics    *metrics.Manager
	closers    []func()
}

// reloadTimeout bounds handing reloaded settings to the controller loop
const reloadTimeout = 5 * time.Second

func (app *Application) openStack(ctx context.Context, cfg *config.AppConfig) (*stack, error) {
	st := &stack{}

	db, activity, err := openActivityStore(cfg)
	if err != nil {
		return nil, err
	}
	st.db = db
	st.activity = activity
	st.closers = append(st.closers, func() { _ = db.Close() })

	b, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, err
	}
	st.closers = append(st.closers, closeBackend)

	d, err := dispatch.New(b)
	if err != nil {
		st.Close()
		return nil, err
	}
	st.dispatcher = d
	st.closers = append(st.closers, d.Close)

	desktop := cfg.Current().Desktop
	st.host = host.NewSystem(desktop)

	ctrlCfg := controller.Config{
		RefreshInterval: cfg.RefreshInterval(),
		RequestTimeout:  cfg.RequestTimeout(),
		DownloadDir:     desktop.DownloadDir,
		Recorder:        activity,
	}
	if cfg.Config.MetricsEnabled {
		st.metrics = metrics.NewManager(nil)
		ctrlCfg.Observer = st.metrics
	}

	st.controller = controller.New(ctrlCfg, b, d, st.host)
	if st.metrics != nil {
		st.metrics.SetSource(st.controller)
	}

	st.closers = append(st.closers, cfg.RegisterReloadListener(st.applyDesktop))

	return st, nil
}

// applyDesktop hands reloaded desktop settings to the running host and controller
func (st *stack) applyDesktop(next *domain.Config) {
	st.host.SetConfig(next.Desktop)

	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()

	if err := st.controller.SetDefaultDownloadDir(ctx, next.Desktop.DownloadDir); err != nil {
		if !errors.Is(err, controller.ErrStopped) {
			log.Warn().Err(err).Msg("Failed to apply reloaded download directory")
		}
		return
	}

	log.Info().Str("downloadDir", next.Desktop.DownloadDir).Msg("Applied reloaded desktop settings")
}

// Close releases resources in reverse order of acquisition
func (st *stack) Close() {
	for i := len(st.closers) - 1; i >= 0; i-- {
		st.closers[i]()
	}
	st.closers = nil
}
