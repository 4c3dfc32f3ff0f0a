// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/torrentdeck/internal/backend"
	"github.com/autobrr/torrentdeck/internal/backend/backendtest"
	"github.com/autobrr/torrentdeck/internal/domain"
	"github.com/autobrr/torrentdeck/internal/filetree"
)

func testMetadata() *backend.Metadata {
	return &backend.Metadata{
		Name:      "Show",
		TotalSize: 30,
		Files: []backend.FileEntry{
			{Path: []string{"Season 1", "e01.mkv"}, Length: 10},
			{Path: []string{"Season 1", "e02.mkv"}, Length: 10},
			{Path: []string{"notes.txt"}, Length: 10},
		},
		InfoHash: "abc",
	}
}

func newDispatcher(t *testing.T, fake *backendtest.Fake) *Dispatcher {
	t.Helper()
	d, err := New(fake)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func TestDispatcher_Actions(t *testing.T) {
	fake := backendtest.New([]backend.TorrentSnapshot{{ID: "1", Status: "downloading"}}, nil)
	d := newDispatcher(t, fake)
	ctx := context.Background()

	require.NoError(t, d.Pause(ctx, "1"))
	require.NoError(t, d.Resume(ctx, "1"))
	require.NoError(t, d.ForceReannounce(ctx, "1"))
	require.NoError(t, d.Remove(ctx, "1"))

	ops := []string{}
	for _, c := range fake.Calls() {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []string{"pause", "resume", "reannounce", "remove"}, ops)
}

func TestDispatcher_NotFoundIsNotRetried(t *testing.T) {
	fake := backendtest.New(nil, nil)
	d := newDispatcher(t, fake)

	err := d.Pause(context.Background(), "42")
	assert.True(t, domain.IsNotFound(err))
	assert.Equal(t, 1, fake.CallCount("pause"))
}

func TestDispatcher_NetworkErrorIsNotRetried(t *testing.T) {
	fake := backendtest.New(nil, nil)
	fake.DoHook = func(ctx context.Context, action backend.Action, id backend.TorrentID) (*backend.ActionAck, error) {
		return nil, &domain.NetworkError{Op: string(action), Err: errors.New("connection reset")}
	}
	d := newDispatcher(t, fake)

	err := d.Remove(context.Background(), "1")
	assert.True(t, domain.IsNetwork(err))
	assert.Equal(t, 1, fake.CallCount("remove"))
}

func TestDispatcher_ParseCachedByContent(t *testing.T) {
	fake := backendtest.New(nil, testMetadata())
	d := newDispatcher(t, fake)
	ctx := context.Background()

	file := backend.TorrentFile{Name: "show.torrent", Data: []byte("d4:infod4:name4:Showee")}
	meta, err := d.Parse(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, "Show", meta.Name)

	renamed := backend.TorrentFile{Name: "copy.torrent", Data: file.Data}
	_, err = d.Parse(ctx, renamed)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.CallCount("parse"))

	_, err = d.Parse(ctx, backend.TorrentFile{Name: "other.torrent", Data: []byte("different")})
	require.NoError(t, err)
	assert.Equal(t, 2, fake.CallCount("parse"))
}

func TestDispatcher_ParseErrorNotCached(t *testing.T) {
	fake := backendtest.New(nil, nil)
	d := newDispatcher(t, fake)
	file := backend.TorrentFile{Name: "bad.torrent", Data: []byte("garbage")}

	_, err := d.Parse(context.Background(), file)
	require.Error(t, err)
	_, err = d.Parse(context.Background(), file)
	require.Error(t, err)
	assert.Equal(t, 2, fake.CallCount("parse"))
}

func TestAddFlow_HappyPath(t *testing.T) {
	flow := NewAddFlow()
	assert.Equal(t, PhaseIdle, flow.Phase())

	gen := flow.Begin(backend.TorrentFile{Name: "show.torrent", Data: []byte("x")}, "/downloads")
	assert.Equal(t, PhaseParsing, flow.Phase())

	require.NoError(t, flow.ResolveParse(gen, testMetadata(), nil))
	assert.Equal(t, PhaseReady, flow.Phase())

	view := flow.View()
	assert.Equal(t, "show.torrent", view.FileName)
	assert.Equal(t, 3, view.TotalFiles)
	assert.Equal(t, 3, view.SelectedFiles)
	require.Len(t, view.Nodes, 4)
	assert.Equal(t, "Season 1", view.Nodes[0].Name)
	assert.Equal(t, 0, view.Nodes[0].Depth)
	assert.Equal(t, "Season 1/e01.mkv", view.Nodes[1].Path)
	assert.Equal(t, 1, view.Nodes[1].Depth)

	// everything selected: no selection list is sent
	upGen, req, err := flow.PrepareUpload()
	require.NoError(t, err)
	assert.Equal(t, gen, upGen)
	assert.Nil(t, req.Selection)
	assert.Equal(t, "/downloads", req.DownloadPath)
	assert.Equal(t, PhaseUploading, flow.Phase())

	require.NoError(t, flow.ResolveUpload(upGen, &backend.UploadAck{Status: "started"}, nil))
	assert.Equal(t, PhaseDone, flow.Phase())
	assert.Equal(t, "started", flow.View().Ack.Status)
	assert.Nil(t, flow.Tree())
	assert.Equal(t, "show.torrent", flow.View().FileName)
}

func TestAddFlow_PartialSelection(t *testing.T) {
	flow := NewAddFlow()
	gen := flow.Begin(backend.TorrentFile{Name: "show.torrent"}, "/downloads")
	require.NoError(t, flow.ResolveParse(gen, testMetadata(), nil))

	require.NoError(t, flow.TogglePath("Season 1/e02.mkv", false))
	require.NoError(t, flow.TogglePath("notes.txt", false))

	view := flow.View()
	assert.Equal(t, filetree.Partial, view.Nodes[0].State)
	assert.Equal(t, int64(10), view.SelectedSize)

	_, req, err := flow.PrepareUpload()
	require.NoError(t, err)
	assert.Equal(t, []string{"Season 1/e01.mkv"}, req.Selection)
}

func TestAddFlow_Validation(t *testing.T) {
	t.Run("nothing selected", func(t *testing.T) {
		flow := NewAddFlow()
		gen := flow.Begin(backend.TorrentFile{Name: "show.torrent"}, "/downloads")
		require.NoError(t, flow.ResolveParse(gen, testMetadata(), nil))
		require.NoError(t, flow.TogglePath("", false))

		_, _, err := flow.PrepareUpload()
		assert.True(t, domain.IsValidation(err))
		assert.Equal(t, PhaseReady, flow.Phase())
	})

	t.Run("missing download path", func(t *testing.T) {
		flow := NewAddFlow()
		gen := flow.Begin(backend.TorrentFile{Name: "show.torrent"}, " ")
		require.NoError(t, flow.ResolveParse(gen, testMetadata(), nil))

		_, _, err := flow.PrepareUpload()
		assert.True(t, domain.IsValidation(err))

		flow.SetDownloadPath("/data")
		_, _, err = flow.PrepareUpload()
		assert.NoError(t, err)
	})

	t.Run("unknown path", func(t *testing.T) {
		flow := NewAddFlow()
		gen := flow.Begin(backend.TorrentFile{Name: "show.torrent"}, "/downloads")
		require.NoError(t, flow.ResolveParse(gen, testMetadata(), nil))
		assert.True(t, domain.IsValidation(flow.TogglePath("nope", false)))
		assert.True(t, domain.IsValidation(flow.Toggle(filetree.NodeID(999), false)))
	})

	t.Run("duplicate paths fail the parse", func(t *testing.T) {
		flow := NewAddFlow()
		gen := flow.Begin(backend.TorrentFile{Name: "dup.torrent"}, "/downloads")
		meta := testMetadata()
		meta.Files = append(meta.Files, backend.FileEntry{Path: []string{"notes.txt"}, Length: 1})

		err := flow.ResolveParse(gen, meta, nil)
		assert.True(t, domain.IsValidation(err))
		assert.Equal(t, PhaseFailed, flow.Phase())
		assert.Nil(t, flow.Tree())
		assert.NotEmpty(t, flow.View().Error)

		_, _, err = flow.PrepareUpload()
		assert.ErrorIs(t, err, ErrNoFlow)
	})

	t.Run("no flow", func(t *testing.T) {
		flow := NewAddFlow()
		assert.ErrorIs(t, flow.TogglePath("a", true), ErrNoFlow)
		_, _, err := flow.PrepareUpload()
		assert.ErrorIs(t, err, ErrNoFlow)
	})
}

func TestAddFlow_StaleResponses(t *testing.T) {
	t.Run("parse for a superseded file", func(t *testing.T) {
		flow := NewAddFlow()
		first := flow.Begin(backend.TorrentFile{Name: "first.torrent"}, "/d")
		second := flow.Begin(backend.TorrentFile{Name: "second.torrent"}, "/d")

		err := flow.ResolveParse(first, testMetadata(), nil)
		assert.True(t, domain.IsStale(err))
		assert.Equal(t, PhaseParsing, flow.Phase())
		assert.Nil(t, flow.Tree())

		require.NoError(t, flow.ResolveParse(second, testMetadata(), nil))
		assert.Equal(t, "second.torrent", flow.View().FileName)
	})

	t.Run("parse after cancel", func(t *testing.T) {
		flow := NewAddFlow()
		gen := flow.Begin(backend.TorrentFile{Name: "a.torrent"}, "/d")
		flow.Cancel()

		assert.True(t, domain.IsStale(flow.ResolveParse(gen, testMetadata(), nil)))
		assert.Equal(t, PhaseIdle, flow.Phase())
	})

	t.Run("upload after a new file was opened", func(t *testing.T) {
		flow := NewAddFlow()
		gen := flow.Begin(backend.TorrentFile{Name: "a.torrent"}, "/d")
		require.NoError(t, flow.ResolveParse(gen, testMetadata(), nil))
		upGen, _, err := flow.PrepareUpload()
		require.NoError(t, err)

		next := flow.Begin(backend.TorrentFile{Name: "b.torrent"}, "/d")
		assert.True(t, domain.IsStale(flow.ResolveUpload(upGen, &backend.UploadAck{Status: "started"}, nil)))
		assert.Equal(t, PhaseParsing, flow.Phase())
		assert.Equal(t, next, flow.Generation())
	})

	t.Run("duplicate parse response", func(t *testing.T) {
		flow := NewAddFlow()
		gen := flow.Begin(backend.TorrentFile{Name: "a.torrent"}, "/d")
		require.NoError(t, flow.ResolveParse(gen, testMetadata(), nil))
		assert.True(t, domain.IsStale(flow.ResolveParse(gen, testMetadata(), nil)))
	})
}

func TestAddFlow_FailedUploadCanRetry(t *testing.T) {
	flow := NewAddFlow()
	gen := flow.Begin(backend.TorrentFile{Name: "a.torrent"}, "/d")
	require.NoError(t, flow.ResolveParse(gen, testMetadata(), nil))

	upGen, _, err := flow.PrepareUpload()
	require.NoError(t, err)
	uploadErr := &domain.NetworkError{Op: "upload", Status: 500, Err: errors.New("disk full")}
	assert.ErrorIs(t, flow.ResolveUpload(upGen, nil, uploadErr), uploadErr)
	assert.Equal(t, PhaseFailed, flow.Phase())
	assert.Contains(t, flow.View().Error, "disk full")

	upGen, _, err = flow.PrepareUpload()
	require.NoError(t, err)
	require.NoError(t, flow.ResolveUpload(upGen, &backend.UploadAck{Status: "started"}, nil))
	assert.Equal(t, PhaseDone, flow.Phase())
}

func TestAddFlow_FailedParse(t *testing.T) {
	flow := NewAddFlow()
	gen := flow.Begin(backend.TorrentFile{Name: "a.torrent"}, "/d")
	parseErr := &domain.NetworkError{Op: "parse", Status: 400, Err: errors.New("invalid torrent")}

	assert.ErrorIs(t, flow.ResolveParse(gen, nil, parseErr), parseErr)
	assert.Equal(t, PhaseFailed, flow.Phase())
	assert.Nil(t, flow.Tree())
}
