// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/autobrr/torrentdeck/internal/models"
)

// ActivityLister reads the command history
type ActivityLister interface {
	List(ctx context.Context, filter models.ActivityFilter) ([]*models.Activity, error)
}

type ActivityHandler struct {
	store ActivityLister
}

func NewActivityHandler(store ActivityLister) *ActivityHandler {
	return &ActivityHandler{store: store}
}

// ListActivity returns recorded commands, newest first. Optional query
// parameters: torrent, action, limit.
func (h *ActivityHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := models.ActivityFilter{
		TorrentID: query.Get("torrent"),
		Action:    query.Get("action"),
	}
	if l := query.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit <= 0 {
			RespondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = limit
	}

	activity, err := h.store.List(r.Context(), filter)
	if err != nil {
		RespondControllerError(w, r, err)
		return
	}
	if activity == nil {
		activity = []*models.Activity{}
	}

	RespondJSON(w, http.StatusOK, activity)
}
