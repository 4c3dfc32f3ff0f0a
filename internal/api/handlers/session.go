// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/torrentdeck/internal/backend"
	"github.com/autobrr/torrentdeck/internal/domain"
	"github.com/autobrr/torrentdeck/internal/session"
)

type SessionHandler struct {
	ctrl Controller
}

func NewSessionHandler(ctrl Controller) *SessionHandler {
	return &SessionHandler{ctrl: ctrl}
}

// TorrentsResponse is the filtered table
type TorrentsResponse struct {
	Torrents []backend.TorrentSnapshot `json:"torrents"`
	Total    int                       `json:"total"`
	Filter   string                    `json:"filter"`
	Search   string                    `json:"search,omitempty"`
	Where    string                    `json:"where,omitempty"`
	Counts   map[string]int            `json:"counts"`
	Stats    session.Stats             `json:"stats"`
}

type filterRequest struct {
	Filter string `json:"filter"`
}

type searchRequest struct {
	Search string `json:"search"`
}

type sortRequest struct {
	Field string `json:"field"`
	Order string `json:"order"`
}

type idRequest struct {
	ID backend.TorrentID `json:"id"`
}

// GetSession returns the full published snapshot
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

// Refresh asks for a status fetch without waiting for the next tick
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Refresh(r.Context()); err != nil {
		RespondControllerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// DismissNotice clears the last command outcome
func (h *SessionHandler) DismissNotice(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.DismissNotice(r.Context()); err != nil {
		RespondControllerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTorrents returns the filtered table. The optional where parameter is a
// query expression applied on top, e.g. where=progress>50.
func (h *SessionHandler) ListTorrents(w http.ResponseWriter, r *http.Request) {
	view := h.ctrl.Snapshot().Session
	torrents := view.Torrents

	where := strings.TrimSpace(r.URL.Query().Get("where"))
	if where != "" {
		query, err := session.CompileQuery(where)
		if err != nil {
			RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		torrents = query.Filter(torrents)
	}
	if torrents == nil {
		torrents = []backend.TorrentSnapshot{}
	}

	RespondJSON(w, http.StatusOK, TorrentsResponse{
		Torrents: torrents,
		Total:    len(torrents),
		Filter:   view.Filter,
		Search:   view.Search,
		Where:    where,
		Counts:   view.Counts,
		Stats:    view.Stats,
	})
}

// SetFilter switches the status filter
func (h *SessionHandler) SetFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondControllerError(w, r, err)
		return
	}
	if err := h.ctrl.SetFilter(r.Context(), req.Filter); err != nil {
		RespondControllerError(w, r, err)
		return
	}
	h.ListTorrents(w, r)
}

// SetSearch narrows the table by free text
func (h *SessionHandler) SetSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondControllerError(w, r, err)
		return
	}
	if err := h.ctrl.SetSearch(r.Context(), req.Search); err != nil {
		RespondControllerError(w, r, err)
		return
	}
	h.ListTorrents(w, r)
}

// SetSort orders the table
func (h *SessionHandler) SetSort(w http.ResponseWriter, r *http.Request) {
	var req sortRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondControllerError(w, r, err)
		return
	}
	if req.Order != "" && req.Order != "asc" && req.Order != "desc" {
		RespondError(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}
	if err := h.ctrl.SetSort(r.Context(), req.Field, req.Order); err != nil {
		RespondControllerError(w, r, err)
		return
	}
	h.ListTorrents(w, r)
}

// SetSelection picks the torrent shown in the detail panel
func (h *SessionHandler) SetSelection(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondControllerError(w, r, err)
		return
	}
	if req.ID == "" {
		RespondError(w, http.StatusBadRequest, "id is required")
		return
	}

	found, err := h.ctrl.Select(r.Context(), req.ID)
	if err != nil {
		RespondControllerError(w, r, err)
		return
	}
	if !found {
		RespondControllerError(w, r, &domain.NotFoundError{ID: req.ID.String()})
		return
	}

	RespondJSON(w, http.StatusOK, h.ctrl.Snapshot().Session.Selected)
}

// ClearSelection closes the detail panel
func (h *SessionHandler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.ClearSelection(r.Context()); err != nil {
		RespondControllerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OpenMenu binds the context menu to a torrent
func (h *SessionHandler) OpenMenu(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondControllerError(w, r, err)
		return
	}

	binding, err := h.ctrl.OpenMenu(r.Context(), req.ID)
	if err != nil {
		RespondControllerError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, binding)
}

// CloseMenu dismisses the context menu
func (h *SessionHandler) CloseMenu(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.CloseMenu(r.Context()); err != nil {
		RespondControllerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MenuAction runs an action against the torrent the menu was opened on
func (h *SessionHandler) MenuAction(w http.ResponseWriter, r *http.Request) {
	action, err := backend.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.ctrl.DispatchMenu(r.Context(), action)
	if err != nil {
		RespondControllerError(w, r, err)
		return
	}

	if err := await(r.Context(), result); err != nil {
		RespondControllerError(w, r, err)
		return
	}

	log.Debug().Str("action", string(action)).Msg("Menu action completed")
	RespondJSON(w, http.StatusOK, map[string]string{"status": "ok", "action": string(action)})
}
