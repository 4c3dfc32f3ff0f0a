// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/torrentdeck/internal/metrics"
)

// MetricsHandler serves the Prometheus registry. Without a manager it answers
// every scrape with a hint on how to enable metrics.
type MetricsHandler struct {
	handler http.Handler
}

// promLogger routes promhttp collection errors to zerolog
type promLogger struct{}

func (promLogger) Println(v ...any) {
	log.Warn().Str("component", "metrics").Msg(fmt.Sprint(v...))
}

func NewMetricsHandler(manager *metrics.Manager) *MetricsHandler {
	if manager == nil {
		return &MetricsHandler{}
	}

	registry := manager.GetRegistry()
	handler := promhttp.InstrumentMetricHandler(registry, promhttp.HandlerFor(
		registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorLog:          promLogger{},
			ErrorHandling:     promhttp.ContinueOnError,
		},
	))

	return &MetricsHandler{
		handler: handler,
	}
}

func (h *MetricsHandler) ServeMetrics(w http.ResponseWriter, r *http.Request) {
	if h.handler == nil {
		RespondError(w, http.StatusNotFound, "Metrics are disabled; set metricsEnabled = true in config.toml")
		return
	}

	log.Trace().Msg("Serving Prometheus metrics")
	h.handler.ServeHTTP(w, r)
}
