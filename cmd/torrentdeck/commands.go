// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/autobrr/torrentdeck/internal/backend"
	"github.com/autobrr/torrentdeck/internal/config"
	"github.com/autobrr/torrentdeck/internal/dispatch"
	"github.com/autobrr/torrentdeck/internal/domain"
	"github.com/autobrr/torrentdeck/internal/host"
	"github.com/autobrr/torrentdeck/internal/models"
	"github.com/autobrr/torrentdeck/internal/session"
	"github.com/autobrr/torrentdeck/internal/torrentfile"
)

type statusRow struct {
	ID       string  `json:"id" yaml:"id"`
	Name     string  `json:"name" yaml:"name"`
	Size     string  `json:"size" yaml:"size"`
	Progress float64 `json:"progress" yaml:"progress"`
	Status   string  `json:"status" yaml:"status"`
	Speed    string  `json:"speed" yaml:"speed"`
	Peers    int     `json:"peers" yaml:"peers"`
	Seeds    int     `json:"seeds" yaml:"seeds"`
	ETA      string  `json:"eta" yaml:"eta"`
}

func RunStatusCommand(app *Application) *cobra.Command {
	var (
		filter string
		search string
		where  string
		sortBy string
		order  string
		output string
	)

	command := &cobra.Command{
		Use:   "status",
		Short: "List torrents once and exit",
		Long: `List the torrents of the engine once.

--filter takes a status filter (All, Downloading, Seeding, Done, Stalled,
Paused, Checking, Queued, Errored). --search matches names by glob or fuzzy
text. --where takes an expression such as 'progress > 50 && seeds == 0'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			if order != "" && order != "asc" && order != "desc" {
				return fmt.Errorf("order must be asc or desc")
			}

			var query *session.Query
			if where != "" {
				if query, err = session.CompileQuery(where); err != nil {
					return err
				}
			}

			cfg, err := app.loadConfig(false)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout()+5*time.Second)
			defer cancel()

			b, closeBackend, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeBackend()

			torrents, err := b.Status(ctx)
			if err != nil {
				return err
			}

			s := session.New()
			if err := s.Apply(s.Begin(), torrents); err != nil {
				return err
			}
			s.SetFilter(filter)
			s.SetSearch(search)
			s.SetSort(sortBy, order)

			view := s.View()
			shown := view.Torrents
			if query != nil {
				shown = query.Filter(shown)
			}

			rows := make([]statusRow, 0, len(shown))
			for _, t := range shown {
				rows = append(rows, statusRow{
					ID:       t.ID.String(),
					Name:     t.Name,
					Size:     t.Size,
					Progress: t.Progress,
					Status:   t.Status,
					Speed:    t.Speed,
					Peers:    t.Peers,
					Seeds:    t.Seeds,
					ETA:      t.ETA,
				})
			}

			out := cmd.OutOrStdout()
			if format != outputTable {
				return writeStructured(out, format, rows)
			}

			tw := newTabWriter(out)
			fmt.Fprintln(tw, "ID\tNAME\tSIZE\tPROGRESS\tSTATUS\tSPEED\tPEERS\tSEEDS\tETA")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f%%\t%s\t%s\t%d\t%d\t%s\n",
					r.ID, r.Name, r.Size, r.Progress, r.Status, dash(r.Speed), r.Peers, r.Seeds, dash(r.ETA))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(out, "\n%d of %d torrents (%s)  downloading %d  seeding %d  avg %.1f%%\n",
				len(rows), view.Stats.Total, view.Filter,
				view.Stats.Downloading, view.Stats.Seeding, view.Stats.AverageProgress)
			return nil
		},
	}

	command.Flags().StringVar(&filter, "filter", session.FilterAll, "status filter")
	command.Flags().StringVar(&search, "search", "", "name search (glob or fuzzy)")
	command.Flags().StringVar(&where, "where", "", "query expression")
	command.Flags().StringVar(&sortBy, "sort", "", "sort field (name, progress, status, peers, seeds, size)")
	command.Flags().StringVar(&order, "order", "asc", "sort order (asc or desc)")
	command.Flags().StringVarP(&output, "output", "o", "table", "output format (table, json, yaml)")

	return command
}

func RunAddCommand(app *Application) *cobra.Command {
	var (
		downloadPath string
		skip         []string
		dryRun       bool
	)

	command := &cobra.Command{
		Use:   "add FILE",
		Short: "Add a .torrent file to the engine",
		Long: `Add a .torrent file to the engine.

Every file is selected by default. Use --skip with a path inside the torrent
(e.g. "Season 1/extras") to leave a file or folder out; repeat it as needed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read torrent file: %w", err)
			}
			file := backend.TorrentFile{Name: filepath.Base(args[0]), Data: data}

			cfg, err := app.loadConfig(false)
			if err != nil {
				return err
			}

			if downloadPath == "" {
				downloadPath = host.NewSystem(cfg.Current().Desktop).DefaultDownloadsDir()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.RequestTimeout()+5*time.Second)
			defer cancel()

			b, closeBackend, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeBackend()

			d, err := dispatch.New(b)
			if err != nil {
				return err
			}
			defer d.Close()

			flow := dispatch.NewAddFlow()
			generation := flow.Begin(file, downloadPath)

			meta, parseErr := d.Parse(ctx, file)
			if err := flow.ResolveParse(generation, meta, parseErr); err != nil {
				return err
			}

			for _, path := range skip {
				if err := flow.TogglePath(path, false); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			view := flow.View()

			if dryRun {
				printFlow(out, view)
				return nil
			}

			generation, req, err := flow.PrepareUpload()
			if err != nil {
				return err
			}

			history, closeHistory := openHistory(cfg)
			defer closeHistory()

			ack, uploadErr := d.ConfirmAdd(ctx, req)
			recordActivity(history, &models.Activity{
				Action:      "add",
				TorrentName: file.Name,
			}, uploadErr)
			if err := flow.ResolveUpload(generation, ack, uploadErr); err != nil {
				return err
			}

			fmt.Fprintf(out, "Added %s to %s (%d/%d files, %s)\n",
				meta.Name, view.DownloadPath, view.SelectedFiles, view.TotalFiles, session.FormatBytes(view.SelectedSize))
			return nil
		},
	}

	command.Flags().StringVarP(&downloadPath, "path", "p", "", "download directory (default desktop.downloadDir or ~/Downloads)")
	command.Flags().StringArrayVar(&skip, "skip", nil, "path inside the torrent to leave out")
	command.Flags().BoolVar(&dryRun, "dry-run", false, "show the selection without adding")

	return command
}

func RunInspectCommand() *cobra.Command {
	var output string

	command := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Show the metadata and file tree of a .torrent file",
		Long:  "Show the metadata and file tree of a .torrent file. Parsing is local; no engine is contacted.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read torrent file: %w", err)
			}

			meta, err := torrentfile.Parse(data)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format != outputTable {
				return writeStructured(out, format, meta)
			}

			flow := dispatch.NewAddFlow()
			generation := flow.Begin(backend.TorrentFile{Name: filepath.Base(args[0]), Data: data}, "")
			if err := flow.ResolveParse(generation, meta, nil); err != nil {
				return err
			}

			tw := newTabWriter(out)
			fmt.Fprintf(tw, "Name:\t%s\n", meta.Name)
			fmt.Fprintf(tw, "Info hash:\t%s\n", meta.InfoHash)
			fmt.Fprintf(tw, "Size:\t%s\n", session.FormatBytes(meta.TotalSize))
			fmt.Fprintf(tw, "Piece length:\t%s\n", session.FormatBytes(meta.PieceLength))
			fmt.Fprintf(tw, "Files:\t%d\n", len(meta.Files))
			for _, field := range []struct {
				label string
				value *string
			}{
				{"Comment:", meta.Comment},
				{"Created by:", meta.CreatedBy},
				{"Created:", meta.CreationDate},
			} {
				if field.value != nil {
					fmt.Fprintf(tw, "%s\t%s\n", field.label, *field.value)
				}
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Fprintln(out)
			printTree(out, flow.View().Nodes)
			return nil
		},
	}

	command.Flags().StringVarP(&output, "output", "o", "table", "output format (table, json, yaml)")

	return command
}

// RunActionCommands builds pause, resume, remove and reannounce
func RunActionCommands(app *Application) []*cobra.Command {
	commands := make([]*cobra.Command, 0, len(backend.Actions))
	for _, action := range backend.Actions {
		commands = append(commands, newActionCommand(app, action))
	}
	return commands
}

func newActionCommand(app *Application, action backend.Action) *cobra.Command {
	var yes bool

	command := &cobra.Command{
		Use:   string(action) + " ID...",
		Short: actionDescriptions[action],
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if action == backend.ActionRemove && !yes {
				if !isInteractive(cmd) {
					return fmt.Errorf("refusing to remove without --yes")
				}
				ok, err := confirm(cmd, fmt.Sprintf("Remove %d torrent(s)? [y/N] ", len(args)))
				if err != nil {
					return err
				}
				if !ok {
					cmd.Println("Aborted")
					return nil
				}
			}

			cfg, err := app.loadConfig(false)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(len(args))*cfg.RequestTimeout()+5*time.Second)
			defer cancel()

			b, closeBackend, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeBackend()

			d, err := dispatch.New(b)
			if err != nil {
				return err
			}
			defer d.Close()

			history, closeHistory := openHistory(cfg)
			defer closeHistory()

			var failed int
			for _, arg := range args {
				id := backend.TorrentID(arg)
				_, err := d.Do(ctx, action, id)
				recordActivity(history, &models.Activity{Action: string(action), TorrentID: id.String()}, err)

				switch {
				case err == nil:
					cmd.Printf("%s %s: ok\n", action, id)
				case domain.IsNotFound(err):
					failed++
					cmd.Printf("%s %s: torrent no longer exists\n", action, id)
				default:
					failed++
					cmd.Printf("%s %s: %v\n", action, id, err)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%s failed for %d of %d torrents", action, failed, len(args))
			}
			return nil
		},
	}

	if action == backend.ActionRemove {
		command.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	}

	return command
}

var actionDescriptions = map[backend.Action]string{
	backend.ActionPause:      "Pause torrents",
	backend.ActionResume:     "Resume torrents",
	backend.ActionRemove:     "Remove torrents from the engine",
	backend.ActionReannounce: "Force a tracker reannounce",
}

func RunHistoryCommand(app *Application) *cobra.Command {
	var (
		torrentID string
		action    string
		limit     int
		prune     time.Duration
		output    string
	)

	command := &cobra.Command{
		Use:   "history",
		Short: "Show recently sent commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			if limit <= 0 {
				return fmt.Errorf("limit must be positive")
			}

			cfg, err := app.loadConfig(false)
			if err != nil {
				return err
			}

			db, store, err := openActivityStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()

			if prune > 0 {
				removed, err := store.Prune(ctx, time.Now().Add(-prune))
				if err != nil {
					return err
				}
				cmd.Printf("Pruned %d entries older than %s\n", removed, prune)
				return nil
			}

			entries, err := store.List(ctx, models.ActivityFilter{TorrentID: torrentID, Action: action, Limit: limit})
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []*models.Activity{}
			}

			out := cmd.OutOrStdout()
			if format != outputTable {
				return writeStructured(out, format, entries)
			}

			tw := newTabWriter(out)
			fmt.Fprintln(tw, "TIME\tACTION\tTORRENT\tOUTCOME\tMESSAGE")
			for _, a := range entries {
				torrent := a.TorrentName
				if torrent == "" {
					torrent = a.TorrentID
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					a.CreatedAt.Local().Format(time.DateTime), a.Action, dash(torrent), a.Outcome, a.Message)
			}
			return tw.Flush()
		},
	}

	command.Flags().StringVar(&torrentID, "torrent", "", "only entries for this torrent id")
	command.Flags().StringVar(&action, "action", "", "only entries for this action")
	command.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")
	command.Flags().DurationVar(&prune, "prune", 0, "delete entries older than this duration instead of listing")
	command.Flags().StringVarP(&output, "output", "o", "table", "output format (table, json, yaml)")

	return command
}

// openHistory opens the activity store for a one-shot command. History is
// best effort; a broken database never fails the command.
func openHistory(cfg *config.AppConfig) (*models.ActivityStore, func()) {
	db, store, err := openActivityStore(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Activity history unavailable")
		return nil, func() {}
	}
	return store, func() { _ = db.Close() }
}

func recordActivity(store *models.ActivityStore, a *models.Activity, err error) {
	switch {
	case err == nil:
		a.Outcome = models.OutcomeOK
	case domain.IsNotFound(err):
		a.Outcome = models.OutcomeNotFound
	default:
		a.Outcome = models.OutcomeFailed
		a.Message = err.Error()
	}

	if store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Record(ctx, a); err != nil {
		log.Warn().Err(err).Str("action", a.Action).Msg("Failed to record activity")
	}
}

func isInteractive(cmd *cobra.Command) bool {
	f, ok := cmd.InOrStdin().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	cmd.Print(prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
