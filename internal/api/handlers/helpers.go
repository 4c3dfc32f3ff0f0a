// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/torrentdeck/internal/backend"
	"github.com/autobrr/torrentdeck/internal/controller"
	"github.com/autobrr/torrentdeck/internal/dispatch"
	"github.com/autobrr/torrentdeck/internal/domain"
	"github.com/autobrr/torrentdeck/internal/filetree"
	"github.com/autobrr/torrentdeck/internal/session"
)

// Controller is the part of the session controller the HTTP API drives
type Controller interface {
	Snapshot() controller.Snapshot
	Subscribe() (<-chan controller.Snapshot, func())
	Refresh(ctx context.Context) error

	SetFilter(ctx context.Context, name string) error
	SetSearch(ctx context.Context, query string) error
	SetSort(ctx context.Context, field, order string) error
	Select(ctx context.Context, id backend.TorrentID) (bool, error)
	ClearSelection(ctx context.Context) error
	OpenMenu(ctx context.Context, id backend.TorrentID) (*session.MenuBinding, error)
	CloseMenu(ctx context.Context) error
	DismissNotice(ctx context.Context) error

	Dispatch(ctx context.Context, action backend.Action, id backend.TorrentID) (<-chan error, error)
	DispatchMenu(ctx context.Context, action backend.Action) (<-chan error, error)
	OpenDownloadFolder(ctx context.Context, id backend.TorrentID) error

	BeginAdd(ctx context.Context, file backend.TorrentFile) (<-chan error, error)
	ToggleAdd(ctx context.Context, id filetree.NodeID, checked bool) error
	ToggleAddPath(ctx context.Context, path string, checked bool) error
	SetAddDownloadPath(ctx context.Context, path string) error
	ConfirmAdd(ctx context.Context) (<-chan error, error)
	CancelAdd(ctx context.Context) error
}

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusFor maps controller and backend errors onto HTTP status codes
func statusFor(err error) int {
	var (
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		network    *domain.NetworkError
		stale      *domain.StaleResponseError
	)

	switch {
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &network):
		return http.StatusBadGateway
	case errors.As(err, &stale):
		return http.StatusConflict
	case errors.Is(err, controller.ErrNoMenu), errors.Is(err, dispatch.ErrNoFlow):
		return http.StatusConflict
	case errors.Is(err, controller.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// RespondControllerError logs err and sends it with a matching status
func RespondControllerError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	evt := log.Debug()
	if status >= http.StatusInternalServerError {
		evt = log.Warn()
	}
	evt.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request failed")

	RespondError(w, status, err.Error())
}

// await blocks until an async controller result arrives or the client leaves
func await(ctx context.Context, result <-chan error) error {
	if result == nil {
		return nil
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}
