// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torrentfile reads .torrent metadata locally. It backs the
// qBittorrent adapter, which has no parse endpoint, and the inspect command.
package torrentfile

import (
	"bytes"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/pkg/errors"

	"github.com/autobrr/torrentdeck/internal/backend"
	"github.com/autobrr/torrentdeck/internal/domain"
)

// CreationDateLayout is how creation dates are rendered
const CreationDateLayout = "2006-01-02 15:04:05"

// Parse decodes a .torrent file into the same metadata the native backend's
// /parse returns. Multi-file torrents list paths relative to the torrent
// directory; a single-file torrent lists one file named after the torrent.
func Parse(data []byte) (*backend.Metadata, error) {
	if len(data) == 0 {
		return nil, &domain.ValidationError{Field: "file", Reason: "empty torrent file"}
	}

	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return nil, &domain.ValidationError{Field: "file", Reason: errors.Wrap(err, "decode torrent").Error()}
	}

	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, &domain.ValidationError{Field: "info", Reason: errors.Wrap(err, "decode info dictionary").Error()}
	}

	name := info.BestName()
	if name == "" {
		return nil, &domain.ValidationError{Field: "info.name", Reason: "missing torrent name"}
	}

	meta := &backend.Metadata{
		Name:        name,
		PieceLength: info.PieceLength,
		InfoHash:    mi.HashInfoBytes().HexString(),
	}

	if info.IsDir() {
		meta.Files = make([]backend.FileEntry, 0, len(info.Files))
		for _, f := range info.Files {
			if f.Length < 0 {
				return nil, &domain.ValidationError{Field: "info.files", Reason: "negative file length"}
			}
			meta.Files = append(meta.Files, backend.FileEntry{
				Path:   append([]string(nil), f.BestPath()...),
				Length: f.Length,
			})
			meta.TotalSize += f.Length
		}
	} else {
		meta.Files = []backend.FileEntry{{Path: []string{name}, Length: info.Length}}
		meta.TotalSize = info.Length
	}

	if mi.Comment != "" {
		meta.Comment = stringPtr(strings.ToValidUTF8(mi.Comment, ""))
	}
	if mi.CreatedBy != "" {
		meta.CreatedBy = stringPtr(strings.ToValidUTF8(mi.CreatedBy, ""))
	}
	if mi.CreationDate > 0 {
		meta.CreationDate = stringPtr(time.Unix(mi.CreationDate, 0).Format(CreationDateLayout))
	}

	return meta, nil
}

func stringPtr(s string) *string {
	return &s
}
