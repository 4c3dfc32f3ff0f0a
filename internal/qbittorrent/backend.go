// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"fmt"
	"sync"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/torrentdeck/internal/backend"
	"github.com/autobrr/torrentdeck/internal/domain"
	"github.com/autobrr/torrentdeck/internal/torrentfile"
)

const (
	// the file list of a torrent never changes once its metadata is known
	filesCacheTTL      = 10 * time.Minute
	fileLookupParallel = 4
)

// Backend serves the backend contract from a qBittorrent instance. Parsing
// happens locally since qBittorrent has no parse endpoint.
type Backend struct {
	client *Client
	cache  *ristretto.Cache

	// keeps the selection warning to once per process
	warnSelection sync.Once
}

var _ backend.Backend = (*Backend)(nil)

// NewBackend wraps a logged in client
func NewBackend(client *Client) (*Backend, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1e4,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &Backend{
		client: client,
		cache:  cache,
	}, nil
}

// Close releases the file list cache
func (b *Backend) Close() {
	b.cache.Close()
}

// Status lists every torrent. The multi-file flag needs one files lookup per
// torrent the first time it is seen; later cycles hit the cache.
func (b *Backend) Status(ctx context.Context) ([]backend.TorrentSnapshot, error) {
	torrents, err := b.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		if healthErr := b.client.HealthCheck(ctx); healthErr != nil {
			return nil, &domain.NetworkError{Op: "status", Err: errors.Wrap(err, "failed to get torrents")}
		}
		// the session cookie had expired; one more try with the fresh login
		if torrents, err = b.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{}); err != nil {
			return nil, &domain.NetworkError{Op: "status", Err: errors.Wrap(err, "failed to get torrents")}
		}
	}

	multiFile, err := b.multiFileFlags(ctx, torrents)
	if err != nil {
		return nil, &domain.NetworkError{Op: "status", Err: err}
	}

	snapshots := make([]backend.TorrentSnapshot, 0, len(torrents))
	for _, torrent := range torrents {
		snapshots = append(snapshots, ConvertTorrent(torrent, multiFile[torrent.Hash]))
	}

	log.Trace().Int("torrents", len(snapshots)).Msg("qBittorrent status fetched")

	return snapshots, nil
}

func (b *Backend) multiFileFlags(ctx context.Context, torrents []qbt.Torrent) (map[string]bool, error) {
	flags := make(map[string]bool, len(torrents))
	var missing []string

	for _, torrent := range torrents {
		if cached, found := b.cache.Get(filesCacheKey(torrent.Hash)); found {
			if multi, ok := cached.(bool); ok {
				flags[torrent.Hash] = multi
				continue
			}
		}
		missing = append(missing, torrent.Hash)
	}

	if len(missing) == 0 {
		return flags, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fileLookupParallel)

	for _, hash := range missing {
		g.Go(func() error {
			files, err := b.client.GetFilesInformationCtx(gctx, hash)
			if err != nil {
				return errors.Wrapf(err, "failed to get files for %s", hash)
			}

			multi := files != nil && len(*files) > 1
			// metadata of magnet links is not known yet, so do not cache it
			if files != nil && len(*files) > 0 {
				b.cache.SetWithTTL(filesCacheKey(hash), multi, 1, filesCacheTTL)
			}

			mu.Lock()
			flags[hash] = multi
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	b.cache.Wait()

	return flags, nil
}

// Parse reads the metadata locally
func (b *Backend) Parse(ctx context.Context, file backend.TorrentFile) (*backend.Metadata, error) {
	return torrentfile.Parse(file.Data)
}

// Upload adds the torrent with DownloadPath as its save path. qBittorrent cannot
// take a file selection at add time, so a partial selection is dropped with
// a warning and every file is downloaded.
func (b *Backend) Upload(ctx context.Context, req backend.UploadRequest) (*backend.UploadAck, error) {
	if req.Selection != nil {
		b.warnSelection.Do(func() {
			log.Warn().Msg("qBittorrent backend ignores file selection; all files will be downloaded")
		})
		log.Debug().Int("selected", len(req.Selection)).Str("file", req.File.Name).Msg("Dropping file selection for qBittorrent upload")
	}

	options := map[string]string{
		"savepath": req.DownloadPath,
	}

	if err := b.client.AddTorrentFromMemoryCtx(ctx, req.File.Data, options); err != nil {
		return nil, &domain.NetworkError{Op: "upload", Err: errors.Wrap(err, "failed to add torrent")}
	}

	log.Info().Str("file", req.File.Name).Str("savepath", req.DownloadPath).Msg("Torrent added to qBittorrent")

	return &backend.UploadAck{Status: "ok", Torrent: req.File.Name}, nil
}

// Do runs a single-torrent command. qBittorrent silently accepts unknown
// hashes, so the hash is looked up first.
func (b *Backend) Do(ctx context.Context, action backend.Action, id backend.TorrentID) (*backend.ActionAck, error) {
	hash := id.String()

	existing, err := b.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{hash}})
	if err != nil {
		return nil, &domain.NetworkError{Op: string(action), Err: errors.Wrap(err, "failed to look up torrent")}
	}
	if len(existing) == 0 {
		return nil, &domain.NotFoundError{ID: hash}
	}

	hashes := []string{hash}
	verb := string(action)

	switch action {
	case backend.ActionPause:
		err = b.client.PauseCtx(ctx, hashes)
		if b.client.SupportsStopStart() {
			verb = "stop"
		}
	case backend.ActionResume:
		err = b.client.ResumeCtx(ctx, hashes)
		if b.client.SupportsStopStart() {
			verb = "start"
		}
	case backend.ActionRemove:
		err = b.client.DeleteTorrentsCtx(ctx, hashes, false)
		if err == nil {
			b.cache.Del(filesCacheKey(hash))
		}
	case backend.ActionReannounce:
		err = b.client.ReAnnounceTorrentsCtx(ctx, hashes)
	default:
		return nil, fmt.Errorf("unknown action: %s", action)
	}

	if err != nil {
		return nil, &domain.NetworkError{Op: string(action), Err: errors.Wrapf(err, "failed to %s torrent", verb)}
	}

	log.Debug().Str("hash", hash).Str("action", string(action)).Msg("qBittorrent command sent")

	return &backend.ActionAck{Status: "ok", Detail: verb}, nil
}

func filesCacheKey(hash string) string {
	return "torrent:files:" + hash
}
