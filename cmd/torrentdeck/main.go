// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/autobrr/torrentdeck/internal/api"
	"github.com/autobrr/torrentdeck/internal/config"
	"github.com/autobrr/torrentdeck/internal/tui"
)

var Version = "dev"

func main() {
	config.InitDefaultLogger(Version)

	rootCmd := NewRootCommand(Version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree. Without a subcommand an
// interactive terminal gets the TUI and anything else gets help.
func NewRootCommand(version string) *cobra.Command {
	app := NewApplication(version)

	var rootCmd = &cobra.Command{
		Use:   "torrentdeck",
		Short: "A terminal and local API front end for a torrent engine",
		Long: `torrentdeck - browse, filter and control the torrents of a running
torrent engine, and add new torrents with per-file selection.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return cmd.Help()
			}
			return app.runTUI(cmd.Context())
		},
	}

	rootCmd.Version = version
	app.bindFlags(rootCmd)

	rootCmd.AddCommand(RunServeCommand(app))
	rootCmd.AddCommand(RunTUICommand(app))
	rootCmd.AddCommand(RunStatusCommand(app))
	rootCmd.AddCommand(RunAddCommand(app))
	rootCmd.AddCommand(RunInspectCommand())
	for _, cmd := range RunActionCommands(app) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(RunHistoryCommand(app))
	rootCmd.AddCommand(RunVersionCommand(version))
	rootCmd.AddCommand(RunGenerateConfigCommand())

	return rootCmd
}

func RunServeCommand(app *Application) *cobra.Command {
	var pprofFlag bool

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the local HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runServer(cmd.Context(), pprofFlag)
		},
	}

	command.Flags().BoolVar(&pprofFlag, "pprof", false, "enable pprof server on localhost:6060")

	return command
}

func RunTUICommand(app *Application) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Start the interactive terminal UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.New("the terminal UI needs an interactive terminal")
			}
			return app.runTUI(cmd.Context())
		},
	}
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of torrentdeck",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/torrentdeck/config.toml
- Windows: %APPDATA%\torrentdeck\config.toml

You can specify either a directory path or a direct file path:
- Directory: torrentdeck generate-config --config-dir /path/to/config/
- File: torrentdeck generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				configPath = filepath.Join(config.GetDefaultConfigDir(), "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func (app *Application) runServer(parent context.Context, pprofFlag bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.loadConfig(false)
	if err != nil {
		return err
	}

	log.Info().Str("version", app.version).Msg("Starting torrentdeck")

	st, err := app.openStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if st.metrics != nil {
		log.Info().Msg("Prometheus metrics enabled at /metrics endpoint")
	}

	srv := api.NewServer(&api.Dependencies{
		Config:         cfg,
		Version:        app.version,
		Controller:     st.controller,
		ActivityStore:  st.activity,
		MetricsManager: st.metrics,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return st.controller.Run(gctx)
	})

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if pprofFlag {
		go func() {
			log.Info().Msg("Starting pprof server on localhost:6060")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				log.Error().Err(err).Msg("Profiling server failed")
			}
		}()
	}

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}

func (app *Application) runTUI(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM)
	defer stop()

	cfg, err := app.loadConfig(true)
	if err != nil {
		return err
	}

	st, err := app.openStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return st.controller.Run(gctx)
	})

	g.Go(func() error {
		// leaving the UI stops the controller
		defer cancel()
		return tui.Run(gctx, st.controller)
	})

	return g.Wait()
}
