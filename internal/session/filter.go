// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package session

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/torrentdeck/internal/backend"
)

// FilterAll accepts every torrent
const FilterAll = "All"

// FilterNames are the filters offered in the UI, in display order
var FilterNames = []string{FilterAll, "Downloading", "Seeding", "Done", "Stalled", "Paused", "Checking", "Queued", "Errored"}

// MatchesFilter reports whether a torrent passes the named filter. All
// accepts everything; any other name matches the lowercased status.
func MatchesFilter(t backend.TorrentSnapshot, filter string) bool {
	if filter == "" || strings.EqualFold(filter, FilterAll) {
		return true
	}
	return strings.ToLower(t.Status) == strings.ToLower(filter)
}

// ApplyFilter returns the torrents passing the filter in their original order
func ApplyFilter(torrents []backend.TorrentSnapshot, filter string) []backend.TorrentSnapshot {
	if filter == "" || strings.EqualFold(filter, FilterAll) {
		return torrents
	}

	filtered := make([]backend.TorrentSnapshot, 0, len(torrents))
	for _, t := range torrents {
		if MatchesFilter(t, filter) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// calculateCounts counts torrents per filter for the filter tabs. Statuses the
// backend reports outside FilterNames get their own entry.
func calculateCounts(torrents []backend.TorrentSnapshot) map[string]int {
	counts := make(map[string]int, len(FilterNames))
	for _, name := range FilterNames {
		counts[name] = 0
	}
	counts[FilterAll] = len(torrents)

	for _, t := range torrents {
		status := strings.ToLower(t.Status)
		matched := false
		for _, name := range FilterNames[1:] {
			if strings.ToLower(name) == status {
				counts[name]++
				matched = true
				break
			}
		}
		if !matched && status != "" {
			counts[status]++
		}
	}

	return counts
}

// Stats represents aggregated torrent statistics
type Stats struct {
	Total             int     `json:"total"`
	Downloading       int     `json:"downloading"`
	Seeding           int     `json:"seeding"`
	Done              int     `json:"done"`
	Paused            int     `json:"paused"`
	Stalled           int     `json:"stalled"`
	Errored           int     `json:"errored"`
	Peers             int     `json:"peers"`
	Seeds             int     `json:"seeds"`
	TransmittingPeers int     `json:"transmittingPeers"`
	TransmittingSeeds int     `json:"transmittingSeeds"`
	AverageProgress   float64 `json:"averageProgress"`
}

func calculateStats(torrents []backend.TorrentSnapshot) Stats {
	stats := Stats{Total: len(torrents)}

	var progress float64
	for _, t := range torrents {
		stats.Peers += t.Peers
		stats.Seeds += t.Seeds
		stats.TransmittingPeers += t.TransmittingPeers
		stats.TransmittingSeeds += t.TransmittingSeeds
		progress += t.Progress

		switch strings.ToLower(t.Status) {
		case backend.StatusDownloading:
			stats.Downloading++
		case backend.StatusSeeding:
			stats.Seeding++
		case backend.StatusDone:
			stats.Done++
		case backend.StatusPaused:
			stats.Paused++
		case backend.StatusStalled:
			stats.Stalled++
		case backend.StatusErrored:
			stats.Errored++
		}
	}

	if len(torrents) > 0 {
		stats.AverageProgress = progress / float64(len(torrents))
	}

	return stats
}

// normalizeForSearch normalizes text for searching by replacing common separators
func normalizeForSearch(text string) string {
	replacers := []string{".", "_", "-", "[", "]", "(", ")", "{", "}"}
	normalized := strings.ToLower(text)
	for _, r := range replacers {
		normalized = strings.ReplaceAll(normalized, r, " ")
	}
	return strings.Join(strings.Fields(normalized), " ")
}

// FilterBySearch narrows torrents by free text. Glob patterns match the name;
// otherwise exact, normalized, all-words and fuzzy name matches are tried in
// that order and results are ranked by match quality.
func FilterBySearch(torrents []backend.TorrentSnapshot, search string) []backend.TorrentSnapshot {
	if search == "" {
		return torrents
	}

	if strings.ContainsAny(search, "*?[") {
		return filterByGlob(torrents, search)
	}

	type torrentMatch struct {
		torrent backend.TorrentSnapshot
		score   int
		method  string
	}

	var matches []torrentMatch
	searchLower := strings.ToLower(search)
	searchNormalized := normalizeForSearch(search)
	searchWords := strings.Fields(searchNormalized)

	for _, t := range torrents {
		nameLower := strings.ToLower(t.Name)
		pathLower := strings.ToLower(t.DownloadPath)

		if strings.Contains(nameLower, searchLower) ||
			strings.Contains(pathLower, searchLower) ||
			strings.EqualFold(t.InfoHash, search) {
			matches = append(matches, torrentMatch{torrent: t, score: 0, method: "exact"})
			continue
		}

		nameNormalized := normalizeForSearch(t.Name)
		if strings.Contains(nameNormalized, searchNormalized) {
			matches = append(matches, torrentMatch{torrent: t, score: 1, method: "normalized"})
			continue
		}

		if len(searchWords) > 1 {
			allFields := fmt.Sprintf("%s %s", nameNormalized, normalizeForSearch(t.DownloadPath))
			allWordsFound := true
			for _, word := range searchWords {
				if !strings.Contains(allFields, word) {
					allWordsFound = false
					break
				}
			}
			if allWordsFound {
				matches = append(matches, torrentMatch{torrent: t, score: 2, method: "all-words"})
				continue
			}
		}

		if fuzzy.MatchNormalizedFold(searchNormalized, nameNormalized) {
			score := fuzzy.RankMatchNormalizedFold(searchNormalized, nameNormalized)
			// only accept close fuzzy matches
			if score < 10 {
				matches = append(matches, torrentMatch{torrent: t, score: 3 + score, method: "fuzzy"})
			}
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score < matches[j].score
	})

	filtered := make([]backend.TorrentSnapshot, len(matches))
	for i, match := range matches {
		filtered[i] = match.torrent
		if i < 5 {
			log.Trace().
				Str("name", match.torrent.Name).
				Int("score", match.score).
				Str("method", match.method).
				Msg("Search match")
		}
	}

	return filtered
}

func filterByGlob(torrents []backend.TorrentSnapshot, pattern string) []backend.TorrentSnapshot {
	var filtered []backend.TorrentSnapshot
	patternLower := strings.ToLower(pattern)

	for _, t := range torrents {
		matched, err := filepath.Match(patternLower, strings.ToLower(t.Name))
		if err != nil {
			log.Debug().Str("pattern", pattern).Err(err).Msg("Invalid glob pattern")
			return nil
		}
		if matched {
			filtered = append(filtered, t)
		}
	}

	return filtered
}

// SortTorrents sorts torrents in place. Unknown fields keep the input order.
func SortTorrents(torrents []backend.TorrentSnapshot, field, order string) {
	if order != "asc" && order != "desc" {
		order = "asc"
	}

	sort.SliceStable(torrents, func(i, j int) bool {
		a, b := torrents[i], torrents[j]
		var less, greater bool

		switch field {
		case "name":
			less = strings.ToLower(a.Name) < strings.ToLower(b.Name)
			greater = strings.ToLower(a.Name) > strings.ToLower(b.Name)
		case "progress":
			less, greater = a.Progress < b.Progress, a.Progress > b.Progress
		case "status":
			less, greater = a.Status < b.Status, a.Status > b.Status
		case "peers":
			less, greater = a.Peers < b.Peers, a.Peers > b.Peers
		case "seeds":
			less, greater = a.Seeds < b.Seeds, a.Seeds > b.Seeds
		case "size":
			sa, sb := ParseSize(a.Size), ParseSize(b.Size)
			less, greater = sa < sb, sa > sb
		default:
			return false
		}

		if order == "desc" {
			return greater
		}
		return less
	})
}

var sizeUnits = map[string]float64{
	"b":   1,
	"kb":  1e3,
	"mb":  1e6,
	"gb":  1e9,
	"tb":  1e12,
	"kib": 1 << 10,
	"mib": 1 << 20,
	"gib": 1 << 30,
	"tib": 1 << 40,
}

// ParseSize converts a display size such as "650.0 MB" into bytes. Unknown
// formats parse as zero.
func ParseSize(s string) int64 {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return 0
	}

	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}

	unit := 1.0
	if len(fields) > 1 {
		u, ok := sizeUnits[strings.ToLower(fields[1])]
		if !ok {
			return 0
		}
		unit = u
	}

	return int64(value * unit)
}

// FormatBytes renders a byte count in the backend's decimal style
func FormatBytes(n int64) string {
	switch {
	case n >= 1e12:
		return fmt.Sprintf("%.1f TB", float64(n)/1e12)
	case n >= 1e9:
		return fmt.Sprintf("%.1f GB", float64(n)/1e9)
	case n >= 1e6:
		return fmt.Sprintf("%.1f MB", float64(n)/1e6)
	case n >= 1e3:
		return fmt.Sprintf("%.1f KB", float64(n)/1e3)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
