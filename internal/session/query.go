// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package session

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/torrentdeck/internal/backend"
)

// QueryEnv is the set of fields a query expression can reference
type QueryEnv struct {
	ID                string  `expr:"id"`
	Name              string  `expr:"name"`
	Status            string  `expr:"status"`
	Progress          float64 `expr:"progress"`
	Size              int64   `expr:"size"`
	Peers             int     `expr:"peers"`
	Seeds             int     `expr:"seeds"`
	TransmittingPeers int     `expr:"transmittingPeers"`
	TransmittingSeeds int     `expr:"transmittingSeeds"`
	DownloadPath      string  `expr:"downloadPath"`
	InfoHash          string  `expr:"infoHash"`
	IsMultiFile       bool    `expr:"isMultiFile"`
	Trackers          int     `expr:"trackers"`
}

func envFor(t backend.TorrentSnapshot) QueryEnv {
	return QueryEnv{
		ID:                t.ID.String(),
		Name:              t.Name,
		Status:            strings.ToLower(t.Status),
		Progress:          t.Progress,
		Size:              ParseSize(t.Size),
		Peers:             t.Peers,
		Seeds:             t.Seeds,
		TransmittingPeers: t.TransmittingPeers,
		TransmittingSeeds: t.TransmittingSeeds,
		DownloadPath:      t.DownloadPath,
		InfoHash:          t.InfoHash,
		IsMultiFile:       t.IsMultiFile,
		Trackers:          len(t.Details.Trackers),
	}
}

// Query is a compiled boolean expression over torrent fields, for example
// `progress > 50 && status == "downloading"`
type Query struct {
	source  string
	program *vm.Program
}

// CompileQuery compiles a boolean query expression
func CompileQuery(source string) (*Query, error) {
	program, err := expr.Compile(source, expr.Env(QueryEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid query %q: %w", source, err)
	}
	return &Query{source: source, program: program}, nil
}

// String returns the query source
func (q *Query) String() string { return q.source }

// Match evaluates the query against one torrent. Evaluation errors count as
// no match.
func (q *Query) Match(t backend.TorrentSnapshot) bool {
	result, err := expr.Run(q.program, envFor(t))
	if err != nil {
		log.Debug().Err(err).Str("query", q.source).Str("id", t.ID.String()).Msg("Query evaluation failed")
		return false
	}
	matched, ok := result.(bool)
	return ok && matched
}

// Filter returns the torrents matching the query in input order
func (q *Query) Filter(torrents []backend.TorrentSnapshot) []backend.TorrentSnapshot {
	filtered := make([]backend.TorrentSnapshot, 0, len(torrents))
	for _, t := range torrents {
		if q.Match(t) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}
