// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package session

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/torrentdeck/internal/backend"
	"github.com/autobrr/torrentdeck/internal/domain"
)

// Begin tags a new refresh. The returned generation must be passed back to
// Apply or Fail with the fetch result.
func (s *Session) Begin() uint64 {
	s.issued++
	return s.issued
}

// Generation returns the generation of the last applied refresh
func (s *Session) Generation() uint64 { return s.applied }

// Apply merges a refresh result. Results are applied in issue order: a
// result whose generation is not newer than the last applied one is
// discarded with a *domain.StaleResponseError. Otherwise the collection is
// replaced wholesale, the selection is re-resolved by id and the filtered
// view is re-derived. The context menu binding is left alone.
func (s *Session) Apply(generation uint64, torrents []backend.TorrentSnapshot) error {
	if generation <= s.applied {
		log.Trace().
			Uint64("generation", generation).
			Uint64("applied", s.applied).
			Msg("Discarding stale refresh")
		return &domain.StaleResponseError{Generation: generation, Current: s.applied}
	}

	s.applied = generation
	s.torrents = torrents
	s.resolveSelection()
	s.recompute()

	s.lastUpdated = s.now()
	s.lastError = ""
	s.failures = 0

	log.Trace().
		Uint64("generation", generation).
		Int("torrents", len(torrents)).
		Int("filtered", len(s.filtered)).
		Msg("Refresh applied")

	return nil
}

// Fail records a failed refresh. The previous collection stays in place and
// the next tick retries. Failures older than the applied state are stale.
func (s *Session) Fail(generation uint64, err error) error {
	if generation <= s.applied {
		return &domain.StaleResponseError{Generation: generation, Current: s.applied}
	}

	var netErr *domain.NetworkError
	if !errors.As(err, &netErr) {
		netErr = &domain.NetworkError{Op: "status", Err: err}
	}

	s.failures++
	s.lastError = netErr.Error()

	event := log.Warn()
	if s.failures > 1 {
		event = log.Debug()
	}
	event.Err(netErr).
		Uint64("generation", generation).
		Int("consecutiveFailures", s.failures).
		Msg("Refresh failed, keeping previous state")

	return netErr
}
