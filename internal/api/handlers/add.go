// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/torrentdeck/internal/backend"
	"github.com/autobrr/torrentdeck/internal/dispatch"
	"github.com/autobrr/torrentdeck/internal/filetree"
)

const maxTorrentFileSize = 32 << 20

type AddHandler struct {
	ctrl Controller
}

func NewAddHandler(ctrl Controller) *AddHandler {
	return &AddHandler{ctrl: ctrl}
}

type toggleRequest struct {
	ID      *filetree.NodeID `json:"id,omitempty"`
	Path    string           `json:"path,omitempty"`
	Checked bool             `json:"checked"`
}

type downloadPathRequest struct {
	Path string `json:"path"`
}

// AddResponse is the add dialog plus the free space at its download path
type AddResponse struct {
	Flow      dispatch.FlowView `json:"flow"`
	FreeSpace uint64            `json:"freeSpace"`
}

func (h *AddHandler) current() AddResponse {
	snap := h.ctrl.Snapshot()
	return AddResponse{Flow: snap.Add, FreeSpace: snap.FreeSpace}
}

// Get returns the add dialog
func (h *AddHandler) Get(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.current())
}

// Begin opens the add dialog for an uploaded .torrent file (multipart field
// "file") and waits for the parse result
func (h *AddHandler) Begin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxTorrentFileSize)
	if err := r.ParseMultipartForm(maxTorrentFileSize); err != nil {
		RespondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "A .torrent file is required in the file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		log.Error().Err(err).Str("filename", header.Filename).Msg("Failed to read torrent file")
		RespondError(w, http.StatusBadRequest, "Failed to read torrent file")
		return
	}

	result, err := h.ctrl.BeginAdd(r.Context(), backend.TorrentFile{Name: header.Filename, Data: data})
	if err != nil {
		RespondControllerError(w, r, err)
		return
	}

	if path := strings.TrimSpace(r.FormValue("downloadPath")); path != "" {
		if err := h.ctrl.SetAddDownloadPath(r.Context(), path); err != nil {
			RespondControllerError(w, r, err)
			return
		}
	}

	if err := await(r.Context(), result); err != nil {
		RespondControllerError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, h.current())
}

// Toggle checks or unchecks a node of the file tree, by id or by path
func (h *AddHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondControllerError(w, r, err)
		return
	}

	var err error
	switch {
	case req.ID != nil:
		err = h.ctrl.ToggleAdd(r.Context(), *req.ID, req.Checked)
	case req.Path != "":
		err = h.ctrl.ToggleAddPath(r.Context(), req.Path, req.Checked)
	default:
		RespondError(w, http.StatusBadRequest, "id or path is required")
		return
	}
	if err != nil {
		RespondControllerError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, h.current())
}

// SetDownloadPath changes where the torrent will be saved
func (h *AddHandler) SetDownloadPath(w http.ResponseWriter, r *http.Request) {
	var req downloadPathRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondControllerError(w, r, err)
		return
	}

	if err := h.ctrl.SetAddDownloadPath(r.Context(), strings.TrimSpace(req.Path)); err != nil {
		RespondControllerError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, h.current())
}

// Confirm uploads the torrent with the current selection and waits for the
// backend
func (h *AddHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	result, err := h.ctrl.ConfirmAdd(r.Context())
	if err != nil {
		RespondControllerError(w, r, err)
		return
	}

	if err := await(r.Context(), result); err != nil {
		RespondControllerError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, h.current())
}

// Cancel closes the add dialog
func (h *AddHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.CancelAdd(r.Context()); err != nil {
		RespondControllerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
