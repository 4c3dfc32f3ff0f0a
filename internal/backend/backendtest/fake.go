// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package backendtest provides an in-memory backend for tests.
package backendtest

import (
	"context"
	"errors"
	"sync"

	"github.com/autobrr/torrentdeck/internal/backend"
	"github.com/autobrr/torrentdeck/internal/domain"
)

// Call records one request made to the fake
type Call struct {
	Op     string
	ID     backend.TorrentID
	Upload *backend.UploadRequest
}

// Fake is a scriptable Backend. Hooks, when set, override the default
// behaviour for their operation.
type Fake struct {
	mu       sync.Mutex
	torrents []backend.TorrentSnapshot
	metadata *backend.Metadata
	calls    []Call

	StatusHook func(ctx context.Context) ([]backend.TorrentSnapshot, error)
	ParseHook  func(ctx context.Context, file backend.TorrentFile) (*backend.Metadata, error)
	UploadHook func(ctx context.Context, req backend.UploadRequest) (*backend.UploadAck, error)
	DoHook     func(ctx context.Context, action backend.Action, id backend.TorrentID) (*backend.ActionAck, error)
}

// New returns a fake serving torrents and answering every parse with meta
func New(torrents []backend.TorrentSnapshot, meta *backend.Metadata) *Fake {
	return &Fake{torrents: torrents, metadata: meta}
}

// SetTorrents replaces what Status returns
func (f *Fake) SetTorrents(torrents []backend.TorrentSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.torrents = torrents
}

// Calls returns a copy of the recorded calls
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount counts calls for one operation
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *Fake) Status(ctx context.Context) ([]backend.TorrentSnapshot, error) {
	f.record(Call{Op: "status"})
	if f.StatusHook != nil {
		return f.StatusHook(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.TorrentSnapshot(nil), f.torrents...), nil
}

func (f *Fake) Parse(ctx context.Context, file backend.TorrentFile) (*backend.Metadata, error) {
	f.record(Call{Op: "parse"})
	if f.ParseHook != nil {
		return f.ParseHook(ctx, file)
	}
	if f.metadata == nil {
		return nil, &domain.NetworkError{Op: "parse", Status: 400, Err: errors.New("not a torrent file")}
	}
	meta := *f.metadata
	return &meta, nil
}

func (f *Fake) Upload(ctx context.Context, req backend.UploadRequest) (*backend.UploadAck, error) {
	f.record(Call{Op: "upload", Upload: &req})
	if f.UploadHook != nil {
		return f.UploadHook(ctx, req)
	}
	return &backend.UploadAck{Status: "started", Torrent: req.File.Name}, nil
}

func (f *Fake) Do(ctx context.Context, action backend.Action, id backend.TorrentID) (*backend.ActionAck, error) {
	f.record(Call{Op: string(action), ID: id})
	if f.DoHook != nil {
		return f.DoHook(ctx, action, id)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.torrents {
		if t.ID != id {
			continue
		}
		switch action {
		case backend.ActionPause:
			f.torrents[i].Status = backend.StatusPaused
			return &backend.ActionAck{Status: "paused"}, nil
		case backend.ActionResume:
			f.torrents[i].Status = backend.StatusDownloading
			return &backend.ActionAck{Status: "resumed"}, nil
		case backend.ActionRemove:
			f.torrents = append(f.torrents[:i:i], f.torrents[i+1:]...)
			return &backend.ActionAck{Status: "removed"}, nil
		default:
			return &backend.ActionAck{Status: "reannounced"}, nil
		}
	}
	return nil, &domain.NotFoundError{ID: id.String()}
}

var _ backend.Backend = (*Fake)(nil)
