// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/autobrr/torrentdeck/internal/filetree"
)

// TorrentID is the backend's key for a torrent. The native backend sends
// integers, adapters may use info hashes; both decode into a string.
type TorrentID string

func (id *TorrentID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = TorrentID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("torrent id: %w", err)
	}
	*id = TorrentID(n.String())
	return nil
}

func (id TorrentID) MarshalJSON() ([]byte, error) {
	if n, ok := id.Int(); ok {
		return []byte(strconv.Itoa(n)), nil
	}
	return json.Marshal(string(id))
}

// Int returns the numeric form of the id if it has one
func (id TorrentID) Int() (int, bool) {
	n, err := strconv.Atoi(string(id))
	if err != nil {
		return 0, false
	}
	return n, true
}

func (id TorrentID) String() string { return string(id) }

// Status values reported by the native backend
const (
	StatusDone        = "done"
	StatusDownloading = "downloading"
	StatusStalled     = "stalled"
	StatusPaused      = "paused"
	StatusSeeding     = "seeding"
	StatusChecking    = "checking"
	StatusErrored     = "errored"
	StatusQueued      = "queued"
)

// TorrentSnapshot is one row of a status response. Display fields (size,
// speed, eta) are preformatted by the backend.
type TorrentSnapshot struct {
	ID                TorrentID `json:"id"`
	Name              string    `json:"name"`
	Size              string    `json:"size"`
	Progress          float64   `json:"progress"`
	Status            string    `json:"status"`
	Speed             string    `json:"speed"`
	TransmittingPeers int       `json:"transmitting_peers"`
	TransmittingSeeds int       `json:"transmitting_seeds"`
	Peers             int       `json:"peers"`
	Seeds             int       `json:"seeds"`
	ETA               string    `json:"eta"`
	InfoHash          string    `json:"infoHash"`
	DownloadPath      string    `json:"downloadPath"`
	IsMultiFile       bool      `json:"isMultiFile"`
	ReannounceIn      *int      `json:"reannounceIn"`
	Details           Details   `json:"details"`
}

// Details holds the per-torrent tabs shown in the detail panel
type Details struct {
	General  map[string]*string `json:"general"`
	Trackers []TrackerRow       `json:"trackers"`
	Peers    []PeerRow          `json:"peers"`
}

type TrackerRow struct {
	URL          string `json:"url"`
	Tier         int    `json:"tier"`
	Status       string `json:"status"`
	Peers        int    `json:"peers"`
	Seeds        int    `json:"seeds"`
	Message      string `json:"message"`
	NextAnnounce int    `json:"nextAnnounce"`
}

type PeerRow struct {
	IP         string  `json:"ip"`
	Port       int     `json:"port"`
	Client     string  `json:"client"`
	Progress   float64 `json:"progress"`
	Flags      string  `json:"flags"`
	DownSpeed  float64 `json:"downSpeed"` // KiB/s
	UpSpeed    float64 `json:"upSpeed"`   // KiB/s
	Downloaded int64   `json:"downloaded"`
	Uploaded   int64   `json:"uploaded"`
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Torrents []TorrentSnapshot `json:"torrents"`
}

// FileEntry is one file of a parsed torrent. Path arrives as a slash joined
// string from the native backend but a segment list is accepted too.
type FileEntry struct {
	Path   []string `json:"-"`
	Length int64    `json:"length"`
}

type fileEntryWire struct {
	Path   json.RawMessage `json:"path"`
	Length int64           `json:"length"`
}

func (f *FileEntry) UnmarshalJSON(data []byte) error {
	var wire fileEntryWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	f.Length = wire.Length

	raw := bytes.TrimSpace(wire.Path)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		f.Path = nil
	case raw[0] == '[':
		return json.Unmarshal(raw, &f.Path)
	default:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("file path: %w", err)
		}
		f.Path = filetree.SplitPath(s)
	}
	return nil
}

func (f FileEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Path   string `json:"path"`
		Length int64  `json:"length"`
	}{
		Path:   strings.Join(f.Path, "/"),
		Length: f.Length,
	})
}

// Metadata is the result of parsing a .torrent file
type Metadata struct {
	Name         string      `json:"name"`
	PieceLength  int64       `json:"piece_length"`
	TotalSize    int64       `json:"total_size"`
	Files        []FileEntry `json:"files"`
	Comment      *string     `json:"comment"`
	CreatedBy    *string     `json:"created_by"`
	CreationDate *string     `json:"creation_date"`
	InfoHash     string      `json:"info_hash"`
}

// Entries converts the file list for the tree builder
func (m *Metadata) Entries() []filetree.Entry {
	entries := make([]filetree.Entry, len(m.Files))
	for i, f := range m.Files {
		entries[i] = filetree.Entry{Path: f.Path, Length: f.Length}
	}
	return entries
}

// TorrentFile is a .torrent file picked by the user
type TorrentFile struct {
	Name string
	Data []byte
}

// UploadRequest starts a download. Selection lists the chosen file paths;
// nil means every file.
type UploadRequest struct {
	File         TorrentFile
	DownloadPath string
	Selection    []string
}

// UploadAck is the backend's confirmation of an upload
type UploadAck struct {
	Status  string `json:"status"`
	Torrent string `json:"torrent"`
}

// ActionAck is the backend's confirmation of pause/resume/remove/reannounce
type ActionAck struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}
