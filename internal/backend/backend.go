// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package backend describes the torrent engine service and implements its
// native HTTP contract.
package backend

import (
	"context"
	"fmt"
)

// Action is a single-torrent command
type Action string

const (
	ActionPause      Action = "pause"
	ActionResume     Action = "resume"
	ActionRemove     Action = "remove"
	ActionReannounce Action = "reannounce"
)

// Actions lists every single-torrent command
var Actions = []Action{ActionPause, ActionResume, ActionRemove, ActionReannounce}

// ParseAction validates a command name
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action: %s", s)
}

// Backend is the torrent engine service. Implementations return
// *domain.NetworkError for transport failures and *domain.NotFoundError when
// an action targets a torrent the engine does not know.
type Backend interface {
	Status(ctx context.Context) ([]TorrentSnapshot, error)
	Parse(ctx context.Context, file TorrentFile) (*Metadata, error)
	Upload(ctx context.Context, req UploadRequest) (*UploadAck, error)
	Do(ctx context.Context, action Action, id TorrentID) (*ActionAck, error)
}
