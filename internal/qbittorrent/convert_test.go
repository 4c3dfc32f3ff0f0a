// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"fmt"
	"testing"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/torrentdeck/internal/backend"
)

// Helper function to create test torrents
func createTestTorrents(count int) []qbt.Torrent {
	torrents := make([]qbt.Torrent, count)
	for i := range count {
		torrents[i] = qbt.Torrent{
			Hash:      fmt.Sprintf("hash%d", i),
			Name:      fmt.Sprintf("test-torrent-%d", i),
			Size:      int64(1000000 + i*100000),
			TotalSize: int64(1000000 + i*100000),
			Progress:  float64(i) / float64(count),
			DlSpeed:   int64(i * 1000),
			UpSpeed:   int64(i * 500),
			State:     qbt.TorrentStateDownloading,
			Category:  fmt.Sprintf("category%d", i%3),
			AddedOn:   int64(1600000000 + i*3600),
			Ratio:     float64(i) * 0.1,
			ETA:       int64(3600 * (count - i)),
			Tracker:   fmt.Sprintf("http://tracker%d.example.com/announce", i%2),
			SavePath:  "/downloads",
		}
	}
	return torrents
}

func TestMapState(t *testing.T) {
	tests := []struct {
		state    qbt.TorrentState
		expected string
	}{
		{qbt.TorrentStateDownloading, backend.StatusDownloading},
		{qbt.TorrentStateMetaDl, backend.StatusDownloading},
		{qbt.TorrentStateForcedDl, backend.StatusDownloading},
		{"allocating", backend.StatusDownloading},
		{qbt.TorrentStateStalledDl, backend.StatusStalled},
		{qbt.TorrentStateQueuedDl, backend.StatusQueued},
		{qbt.TorrentStateQueuedUp, backend.StatusQueued},
		{qbt.TorrentStateUploading, backend.StatusSeeding},
		{qbt.TorrentStateForcedUp, backend.StatusSeeding},
		{qbt.TorrentStateStalledUp, backend.StatusDone},
		{qbt.TorrentStatePausedDl, backend.StatusPaused},
		{qbt.TorrentStatePausedUp, backend.StatusPaused},
		{qbt.TorrentStateStoppedDl, backend.StatusPaused},
		{qbt.TorrentStateStoppedUp, backend.StatusPaused},
		{qbt.TorrentStateCheckingDl, backend.StatusChecking},
		{qbt.TorrentStateCheckingResumeData, backend.StatusChecking},
		{"moving", backend.StatusChecking},
		{qbt.TorrentStateError, backend.StatusErrored},
		{qbt.TorrentStateMissingFiles, backend.StatusErrored},
		{"SomethingNew", "somethingnew"},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.expected, mapState(qbt.Torrent{State: tt.state}))
		})
	}
}

func TestConvertTorrent(t *testing.T) {
	torrent := createTestTorrents(4)[2]
	torrent.NumSeeds = 5
	torrent.NumLeechs = 7
	torrent.ETA = 3725
	torrent.DlSpeed = 2_500_000
	torrent.UpSpeed = 0

	snap := ConvertTorrent(torrent, true)

	assert.Equal(t, backend.TorrentID("hash2"), snap.ID)
	assert.Equal(t, "hash2", snap.InfoHash)
	assert.Equal(t, "test-torrent-2", snap.Name)
	assert.Equal(t, "1.2 MB", snap.Size)
	assert.Equal(t, 50.0, snap.Progress)
	assert.Equal(t, backend.StatusDownloading, snap.Status)
	assert.Equal(t, "20.00 Mbps", snap.Speed)
	assert.Equal(t, "01h 02m 05s", snap.ETA)
	assert.Equal(t, 5, snap.Seeds)
	assert.Equal(t, 7, snap.Peers)
	assert.Equal(t, 5, snap.TransmittingSeeds)
	assert.Equal(t, 0, snap.TransmittingPeers)
	assert.Equal(t, "/downloads", snap.DownloadPath)
	assert.True(t, snap.IsMultiFile)
	assert.Nil(t, snap.ReannounceIn)

	require.NotNil(t, snap.Details.General["Hash"])
	assert.Equal(t, "hash2", *snap.Details.General["Hash"])
	require.NotNil(t, snap.Details.General["Category"])
	assert.Equal(t, "category2", *snap.Details.General["Category"])
	assert.Nil(t, snap.Details.General["Completed On"])
	assert.NotNil(t, snap.Details.Trackers)
	assert.NotNil(t, snap.Details.Peers)
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		name     string
		torrent  qbt.Torrent
		paused   bool
		expected string
	}{
		{name: "paused", torrent: qbt.Torrent{ETA: 60, DlSpeed: 10}, paused: true, expected: "∞"},
		{name: "complete", torrent: qbt.Torrent{Progress: 1}, expected: "Done"},
		{name: "no speed", torrent: qbt.Torrent{ETA: 60}, expected: "Stalled"},
		{name: "infinity", torrent: qbt.Torrent{ETA: infinityETA, DlSpeed: 10}, expected: "Stalled"},
		{name: "running", torrent: qbt.Torrent{ETA: 59, DlSpeed: 10}, expected: "00h 00m 59s"},
		{name: "over a day", torrent: qbt.Torrent{ETA: 90000, DlSpeed: 10}, expected: "25h 00m 00s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatETA(tt.torrent, tt.paused))
		})
	}
}

func TestConvertTorrent_PausedHasNoSpeed(t *testing.T) {
	torrent := createTestTorrents(2)[1]
	torrent.State = qbt.TorrentStatePausedDl

	snap := ConvertTorrent(torrent, false)

	assert.Equal(t, backend.StatusPaused, snap.Status)
	assert.Equal(t, "0 B/s", snap.Speed)
	assert.Equal(t, "∞", snap.ETA)
	assert.False(t, snap.IsMultiFile)
}

func TestIsBanError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "IP banned error", err: fmt.Errorf("User's IP is banned for too many failed login attempts"), expected: true},
		{name: "HTTP 403 error", err: fmt.Errorf("HTTP 403 Forbidden"), expected: true},
		{name: "Connection refused", err: fmt.Errorf("connection refused"), expected: false},
		{name: "Timeout error", err: fmt.Errorf("context deadline exceeded"), expected: false},
		{name: "Mixed case banned error", err: fmt.Errorf("IP IS BANNED"), expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isBanError(tt.err), "Ban error detection mismatch for error: %v", tt.err)
		})
	}
}
