// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"time"
)

type HealthHandler struct {
	ctrl    Controller
	version string
}

func NewHealthHandler(ctrl Controller, version string) *HealthHandler {
	return &HealthHandler{ctrl: ctrl, version: version}
}

type healthResponse struct {
	Status              string     `json:"status"`
	Version             string     `json:"version"`
	Backend             string     `json:"backend"`
	LastUpdated         *time.Time `json:"lastUpdated,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
}

// Health always answers 200 while the process is up; the backend field says
// whether the last refresh succeeded.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	view := h.ctrl.Snapshot().Session

	resp := healthResponse{
		Status:              "ok",
		Version:             h.version,
		Backend:             "up",
		LastError:           view.LastError,
		ConsecutiveFailures: view.ConsecutiveFailures,
	}
	if !view.LastUpdated.IsZero() {
		updated := view.LastUpdated
		resp.LastUpdated = &updated
	} else if view.ConsecutiveFailures == 0 {
		resp.Backend = "unknown"
	}
	if view.ConsecutiveFailures > 0 {
		resp.Backend = "down"
	}

	RespondJSON(w, http.StatusOK, resp)
}
