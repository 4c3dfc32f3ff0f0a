// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"

	"github.com/autobrr/torrentdeck/internal/backend"
)

const (
	// qBittorrent reports this eta for torrents that will never finish
	infinityETA = 8640000
	dateLayout  = "2006-01-02 15:04:05"

	stateAllocating qbt.TorrentState = "allocating"
	stateMoving     qbt.TorrentState = "moving"
)

// mapState folds qBittorrent's states into the native backend's vocabulary
// so the status filters work the same against either backend.
func mapState(torrent qbt.Torrent) string {
	switch torrent.State {
	case qbt.TorrentStateDownloading, qbt.TorrentStateMetaDl, qbt.TorrentStateForcedDl, stateAllocating:
		return backend.StatusDownloading
	case qbt.TorrentStateStalledDl:
		return backend.StatusStalled
	case qbt.TorrentStateQueuedDl, qbt.TorrentStateQueuedUp:
		return backend.StatusQueued
	case qbt.TorrentStateUploading, qbt.TorrentStateForcedUp:
		return backend.StatusSeeding
	case qbt.TorrentStateStalledUp:
		return backend.StatusDone
	case qbt.TorrentStatePausedDl, qbt.TorrentStatePausedUp, qbt.TorrentStateStoppedDl, qbt.TorrentStateStoppedUp:
		return backend.StatusPaused
	case qbt.TorrentStateCheckingDl, qbt.TorrentStateCheckingUp, qbt.TorrentStateCheckingResumeData, stateMoving:
		return backend.StatusChecking
	case qbt.TorrentStateError, qbt.TorrentStateMissingFiles:
		return backend.StatusErrored
	default:
		return strings.ToLower(string(torrent.State))
	}
}

// ConvertTorrent turns a qBittorrent torrent into a status row. Display
// fields use the same formats as the native backend.
func ConvertTorrent(torrent qbt.Torrent, multiFile bool) backend.TorrentSnapshot {
	status := mapState(torrent)
	paused := status == backend.StatusPaused

	progress := torrent.Progress * 100
	if progress > 100 {
		progress = 100
	}

	speed := fmt.Sprintf("%.2f Mbps", float64(torrent.DlSpeed)*8/1_000_000)
	if paused {
		speed = "0 B/s"
	}

	transmittingSeeds, transmittingPeers := 0, 0
	if torrent.DlSpeed > 0 {
		transmittingSeeds = int(torrent.NumSeeds)
	}
	if torrent.UpSpeed > 0 {
		transmittingPeers = int(torrent.NumLeechs)
	}

	return backend.TorrentSnapshot{
		ID:                backend.TorrentID(torrent.Hash),
		Name:              torrent.Name,
		Size:              formatSize(torrent.Size),
		Progress:          roundTo(progress, 2),
		Status:            status,
		Speed:             speed,
		TransmittingPeers: transmittingPeers,
		TransmittingSeeds: transmittingSeeds,
		Peers:             int(torrent.NumLeechs),
		Seeds:             int(torrent.NumSeeds),
		ETA:               formatETA(torrent, paused),
		InfoHash:          torrent.Hash,
		DownloadPath:      torrent.SavePath,
		IsMultiFile:       multiFile,
		Details: backend.Details{
			General:  generalDetails(torrent),
			Trackers: []backend.TrackerRow{},
			Peers:    []backend.PeerRow{},
		},
	}
}

func generalDetails(torrent qbt.Torrent) map[string]*string {
	general := map[string]*string{
		"Total Size":   stringPtr(formatSize(torrent.TotalSize)),
		"Hash":         stringPtr(torrent.Hash),
		"Saved at":     stringPtr(torrent.SavePath),
		"Added On":     formatUnix(torrent.AddedOn),
		"Completed On": formatUnix(torrent.CompletionOn),
		"Ratio":        stringPtr(strconv.FormatFloat(torrent.Ratio, 'f', 2, 64)),
		"Category":     nil,
		"Tracker":      nil,
	}
	if torrent.Category != "" {
		general["Category"] = stringPtr(torrent.Category)
	}
	if torrent.Tracker != "" {
		general["Tracker"] = stringPtr(torrent.Tracker)
	}
	return general
}

func formatSize(bytes int64) string {
	return fmt.Sprintf("%.1f MB", float64(bytes)/1_000_000)
}

func formatETA(torrent qbt.Torrent, paused bool) string {
	switch {
	case paused:
		return "∞"
	case torrent.Progress >= 1:
		return "Done"
	case torrent.ETA <= 0 || torrent.ETA >= infinityETA || torrent.DlSpeed == 0:
		return "Stalled"
	}

	d := time.Duration(torrent.ETA) * time.Second
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02dh %02dm %02ds", hours, minutes, seconds)
}

func formatUnix(ts int64) *string {
	if ts <= 0 {
		return nil
	}
	return stringPtr(time.Unix(ts, 0).Format(dateLayout))
}

func roundTo(v float64, places int) float64 {
	f, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', places, 64), 64)
	return f
}

func stringPtr(s string) *string {
	return &s
}
