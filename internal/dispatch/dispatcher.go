// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dispatch sends user commands to the backend: single-torrent actions
// and the two-phase add-torrent flow.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/torrentdeck/internal/backend"
	"github.com/autobrr/torrentdeck/internal/domain"
)

const parseCacheTTL = 10 * time.Minute

// Dispatcher issues exactly one backend request per command. It never
// retries and never touches session state; the next refresh shows the effect.
type Dispatcher struct {
	backend backend.Backend
	cache   *ristretto.Cache
}

// New creates a dispatcher. Parse results are cached by file content.
func New(b backend.Backend) (*Dispatcher, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        1e4,
		MaxCost:            256, // entries, not bytes
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create parse cache: %w", err)
	}

	return &Dispatcher{
		backend: b,
		cache:   cache,
	}, nil
}

// Close releases the parse cache
func (d *Dispatcher) Close() {
	d.cache.Close()
}

// Pause stops a torrent
func (d *Dispatcher) Pause(ctx context.Context, id backend.TorrentID) error {
	_, err := d.Do(ctx, backend.ActionPause, id)
	return err
}

// Resume restarts a paused torrent
func (d *Dispatcher) Resume(ctx context.Context, id backend.TorrentID) error {
	_, err := d.Do(ctx, backend.ActionResume, id)
	return err
}

// Remove deletes a torrent from the engine, keeping its data
func (d *Dispatcher) Remove(ctx context.Context, id backend.TorrentID) error {
	_, err := d.Do(ctx, backend.ActionRemove, id)
	return err
}

// ForceReannounce asks the trackers for peers immediately
func (d *Dispatcher) ForceReannounce(ctx context.Context, id backend.TorrentID) error {
	_, err := d.Do(ctx, backend.ActionReannounce, id)
	return err
}

// Do sends a single-torrent command. A *domain.NotFoundError means the torrent
// vanished and is safe to ignore.
func (d *Dispatcher) Do(ctx context.Context, action backend.Action, id backend.TorrentID) (*backend.ActionAck, error) {
	start := time.Now()
	ack, err := d.backend.Do(ctx, action, id)
	if err != nil {
		if domain.IsNotFound(err) {
			log.Debug().Str("action", string(action)).Str("id", id.String()).Msg("Action target no longer exists")
			return nil, err
		}
		log.Error().Err(err).Str("action", string(action)).Str("id", id.String()).Msg("Action failed")
		return nil, err
	}

	log.Debug().
		Str("action", string(action)).
		Str("id", id.String()).
		Str("status", ack.Status).
		Dur("duration", time.Since(start)).
		Msg("Action completed")

	return ack, nil
}

// Parse extracts metadata from a .torrent file. Identical file contents are
// served from cache.
func (d *Dispatcher) Parse(ctx context.Context, file backend.TorrentFile) (*backend.Metadata, error) {
	cacheKey := fmt.Sprintf("parse:%016x", xxhash.Sum64(file.Data))
	if cached, found := d.cache.Get(cacheKey); found {
		if meta, ok := cached.(*backend.Metadata); ok {
			log.Trace().Str("file", file.Name).Msg("Parse served from cache")
			return meta, nil
		}
	}

	meta, err := d.backend.Parse(ctx, file)
	if err != nil {
		log.Error().Err(err).Str("file", file.Name).Msg("Failed to parse torrent")
		return nil, err
	}

	d.cache.SetWithTTL(cacheKey, meta, 1, parseCacheTTL)
	d.cache.Wait()

	log.Debug().
		Str("file", file.Name).
		Str("name", meta.Name).
		Int("files", len(meta.Files)).
		Msg("Torrent parsed")

	return meta, nil
}

// ConfirmAdd uploads the torrent to start downloading
func (d *Dispatcher) ConfirmAdd(ctx context.Context, req backend.UploadRequest) (*backend.UploadAck, error) {
	ack, err := d.backend.Upload(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("file", req.File.Name).Str("downloadPath", req.DownloadPath).Msg("Failed to add torrent")
		return nil, err
	}

	log.Info().
		Str("file", req.File.Name).
		Str("downloadPath", req.DownloadPath).
		Int("selected", len(req.Selection)).
		Msg("Torrent added")

	return ack, nil
}
