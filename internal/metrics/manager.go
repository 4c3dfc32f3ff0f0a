// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

// Manager owns the registry. It also implements controller.Observer so the
// event loop can count refreshes and commands.
type Manager struct {
	registry         *prometheus.Registry
	torrentCollector *TorrentCollector

	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	actions         *prometheus.CounterVec
}

func NewManager(source SnapshotSource) *Manager {
	registry := prometheus.NewRegistry()

	torrentCollector := NewTorrentCollector(source)
	registry.MustRegister(torrentCollector)

	m := &Manager{
		registry:         registry,
		torrentCollector: torrentCollector,
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "torrentdeck_refreshes_total",
			Help: "Refresh results by outcome (applied, stale, failed)",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "torrentdeck_refresh_duration_seconds",
			Help:    "Time from issuing a refresh to applying it",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "torrentdeck_actions_total",
			Help: "User commands sent to the backend by action and outcome",
		}, []string{"action", "outcome"}),
	}

	registry.MustRegister(
		m.refreshes,
		m.refreshDuration,
		m.actions,
		collectors.NewGoCollector(),
	)

	log.Info().Msg("Metrics manager initialized with torrent collector")

	return m
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// SetSource points the torrent collector at the controller once it exists
func (m *Manager) SetSource(source SnapshotSource) {
	m.torrentCollector.source = source
}

func (m *Manager) RefreshApplied(torrents int, took time.Duration) {
	m.refreshes.WithLabelValues("applied").Inc()
	m.refreshDuration.Observe(took.Seconds())
}

func (m *Manager) RefreshDiscarded() {
	m.refreshes.WithLabelValues("stale").Inc()
}

func (m *Manager) RefreshFailed() {
	m.refreshes.WithLabelValues("failed").Inc()
}

func (m *Manager) ActionCompleted(action, outcome string) {
	m.actions.WithLabelValues(action, outcome).Inc()
}
