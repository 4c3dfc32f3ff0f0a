// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/torrentdeck/internal/controller"
	"github.com/autobrr/torrentdeck/internal/session"
)

// SnapshotSource is anything that can hand out the current session
type SnapshotSource interface {
	Snapshot() controller.Snapshot
}

// TorrentCollector turns the latest published snapshot into gauges at scrape time
type TorrentCollector struct {
	source SnapshotSource
	now    func() time.Time

	torrentsDesc            *prometheus.Desc
	torrentsTotalDesc       *prometheus.Desc
	peersDesc               *prometheus.Desc
	seedsDesc               *prometheus.Desc
	averageProgressDesc     *prometheus.Desc
	backendUpDesc           *prometheus.Desc
	consecutiveFailuresDesc *prometheus.Desc
	lastRefreshAgeDesc      *prometheus.Desc
	generationDesc          *prometheus.Desc
}

func NewTorrentCollector(source SnapshotSource) *TorrentCollector {
	return &TorrentCollector{
		source: source,
		now:    time.Now,

		torrentsDesc: prometheus.NewDesc(
			"torrentdeck_torrents",
			"Number of torrents by status",
			[]string{"status"},
			nil,
		),
		torrentsTotalDesc: prometheus.NewDesc(
			"torrentdeck_torrents_total",
			"Number of torrents in the last applied refresh",
			nil,
			nil,
		),
		peersDesc: prometheus.NewDesc(
			"torrentdeck_peers",
			"Connected peers summed over all torrents",
			[]string{"kind"},
			nil,
		),
		seedsDesc: prometheus.NewDesc(
			"torrentdeck_seeds",
			"Connected seeds summed over all torrents",
			[]string{"kind"},
			nil,
		),
		averageProgressDesc: prometheus.NewDesc(
			"torrentdeck_average_progress_percent",
			"Mean progress over all torrents",
			nil,
			nil,
		),
		backendUpDesc: prometheus.NewDesc(
			"torrentdeck_backend_up",
			"Whether the last refresh succeeded (1=up, 0=down)",
			nil,
			nil,
		),
		consecutiveFailuresDesc: prometheus.NewDesc(
			"torrentdeck_refresh_consecutive_failures",
			"Refreshes failed in a row since the last success",
			nil,
			nil,
		),
		lastRefreshAgeDesc: prometheus.NewDesc(
			"torrentdeck_last_refresh_age_seconds",
			"Seconds since the last applied refresh",
			nil,
			nil,
		),
		generationDesc: prometheus.NewDesc(
			"torrentdeck_refresh_generation",
			"Generation of the last applied refresh",
			nil,
			nil,
		),
	}
}

func (c *TorrentCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.torrentsDesc
	ch <- c.torrentsTotalDesc
	ch <- c.peersDesc
	ch <- c.seedsDesc
	ch <- c.averageProgressDesc
	ch <- c.backendUpDesc
	ch <- c.consecutiveFailuresDesc
	ch <- c.lastRefreshAgeDesc
	ch <- c.generationDesc
}

func (c *TorrentCollector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		log.Debug().Msg("No snapshot source, skipping metrics collection")
		return
	}

	view := c.source.Snapshot().Session

	up := 0.0
	if !view.LastUpdated.IsZero() && view.ConsecutiveFailures == 0 {
		up = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.backendUpDesc, prometheus.GaugeValue, up)
	ch <- prometheus.MustNewConstMetric(c.consecutiveFailuresDesc, prometheus.GaugeValue, float64(view.ConsecutiveFailures))
	ch <- prometheus.MustNewConstMetric(c.generationDesc, prometheus.CounterValue, float64(view.Generation))

	// nothing has been applied yet
	if view.LastUpdated.IsZero() {
		return
	}

	ch <- prometheus.MustNewConstMetric(c.lastRefreshAgeDesc, prometheus.GaugeValue, c.now().Sub(view.LastUpdated).Seconds())
	ch <- prometheus.MustNewConstMetric(c.torrentsTotalDesc, prometheus.GaugeValue, float64(view.Total))

	statuses := make([]string, 0, len(view.Counts))
	for name := range view.Counts {
		if name == session.FilterAll {
			continue
		}
		statuses = append(statuses, name)
	}
	sort.Strings(statuses)
	for _, name := range statuses {
		ch <- prometheus.MustNewConstMetric(
			c.torrentsDesc,
			prometheus.GaugeValue,
			float64(view.Counts[name]),
			strings.ToLower(name),
		)
	}

	stats := view.Stats
	ch <- prometheus.MustNewConstMetric(c.peersDesc, prometheus.GaugeValue, float64(stats.Peers), "connected")
	ch <- prometheus.MustNewConstMetric(c.peersDesc, prometheus.GaugeValue, float64(stats.TransmittingPeers), "transmitting")
	ch <- prometheus.MustNewConstMetric(c.seedsDesc, prometheus.GaugeValue, float64(stats.Seeds), "connected")
	ch <- prometheus.MustNewConstMetric(c.seedsDesc, prometheus.GaugeValue, float64(stats.TransmittingSeeds), "transmitting")
	ch <- prometheus.MustNewConstMetric(c.averageProgressDesc, prometheus.GaugeValue, stats.AverageProgress)
}
