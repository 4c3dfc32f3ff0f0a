// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/autobrr/torrentdeck/internal/backend"
	"github.com/autobrr/torrentdeck/internal/domain"
)

type TorrentsHandler struct {
	ctrl Controller
}

func NewTorrentsHandler(ctrl Controller) *TorrentsHandler {
	return &TorrentsHandler{ctrl: ctrl}
}

// GetTorrent returns one row of the current table
func (h *TorrentsHandler) GetTorrent(w http.ResponseWriter, r *http.Request) {
	id := backend.TorrentID(chi.URLParam(r, "id"))

	for _, t := range h.ctrl.Snapshot().Session.Torrents {
		if t.ID == id {
			RespondJSON(w, http.StatusOK, t)
			return
		}
	}

	RespondControllerError(w, r, &domain.NotFoundError{ID: id.String()})
}

// Action sends pause, resume, remove or reannounce for one torrent and waits
// for the backend's answer. A torrent that vanished is reported as 404 and
// nothing is sent.
func (h *TorrentsHandler) Action(w http.ResponseWriter, r *http.Request) {
	id := backend.TorrentID(chi.URLParam(r, "id"))

	action, err := backend.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.ctrl.Dispatch(r.Context(), action, id)
	if err != nil {
		RespondControllerError(w, r, err)
		return
	}

	if err := await(r.Context(), result); err != nil {
		RespondControllerError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"action": string(action),
		"id":     id.String(),
	})
}

// OpenFolder reveals the torrent's download location on the host
func (h *TorrentsHandler) OpenFolder(w http.ResponseWriter, r *http.Request) {
	id := backend.TorrentID(chi.URLParam(r, "id"))

	if err := h.ctrl.OpenDownloadFolder(r.Context(), id); err != nil {
		RespondControllerError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
