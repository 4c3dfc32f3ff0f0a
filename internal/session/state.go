// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package session holds the locally mirrored torrent collection and the user
// intent layered on top of it (filter, search, selection, context menu).
package session

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/torrentdeck/internal/backend"
)

// MenuBinding is the torrent an open context menu acts on. It is bound once
// when the menu opens and is never re-resolved by a refresh.
type MenuBinding struct {
	ID       backend.TorrentID `json:"id"`
	Name     string            `json:"name"`
	OpenedAt time.Time         `json:"openedAt"`
}

// View is an immutable copy of the session for rendering
type View struct {
	Generation          uint64                    `json:"generation"`
	Filter              string                    `json:"filter"`
	Search              string                    `json:"search,omitempty"`
	Sort                string                    `json:"sort,omitempty"`
	Order               string                    `json:"order,omitempty"`
	Torrents            []backend.TorrentSnapshot `json:"torrents"`
	Total               int                       `json:"total"`
	Selected            *backend.TorrentSnapshot  `json:"selected"`
	Menu                *MenuBinding              `json:"menu"`
	Counts              map[string]int            `json:"counts"`
	Stats               Stats                     `json:"stats"`
	LastUpdated         time.Time                 `json:"lastUpdated"`
	LastError           string                    `json:"lastError,omitempty"`
	ConsecutiveFailures int                       `json:"consecutiveFailures"`
}

// Session is the single-owner session state. It is not safe for concurrent
// use; the controller's event loop is its only mutator.
type Session struct {
	torrents []backend.TorrentSnapshot
	filtered []backend.TorrentSnapshot

	filter string
	search string
	sort   string
	order  string

	selectedID backend.TorrentID
	selected   *backend.TorrentSnapshot
	menu       *MenuBinding

	// generation of the most recently issued and applied refresh
	issued  uint64
	applied uint64

	lastUpdated time.Time
	lastError   string
	failures    int

	now func() time.Time
}

// New creates an empty session with the All filter active
func New() *Session {
	return &Session{
		filter: FilterAll,
		now:    time.Now,
	}
}

// Torrents returns the full collection from the last applied refresh
func (s *Session) Torrents() []backend.TorrentSnapshot {
	return s.torrents
}

// Filtered returns the filtered (and searched, sorted) collection
func (s *Session) Filtered() []backend.TorrentSnapshot {
	return s.filtered
}

// Lookup finds a torrent in the current collection
func (s *Session) Lookup(id backend.TorrentID) (backend.TorrentSnapshot, bool) {
	for _, t := range s.torrents {
		if t.ID == id {
			return t, true
		}
	}
	return backend.TorrentSnapshot{}, false
}

// Filter returns the active filter name
func (s *Session) Filter() string { return s.filter }

// SetFilter changes the active filter and re-derives the filtered view
func (s *Session) SetFilter(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = FilterAll
	}
	s.filter = name
	s.recompute()
}

// SetSearch narrows the filtered view by free text; empty clears it
func (s *Session) SetSearch(search string) {
	s.search = strings.TrimSpace(search)
	s.recompute()
}

// SetSort orders the filtered view. An empty field keeps backend order.
func (s *Session) SetSort(field, order string) {
	s.sort = field
	s.order = order
	s.recompute()
}

// Select marks a torrent as the detail target. Selecting an id that is not in
// the collection clears the selection.
func (s *Session) Select(id backend.TorrentID) bool {
	s.selectedID = id
	s.resolveSelection()
	return s.selected != nil
}

// ClearSelection removes the detail target
func (s *Session) ClearSelection() {
	s.selectedID = ""
	s.selected = nil
}

// Selected returns the selected torrent, if any
func (s *Session) Selected() (backend.TorrentSnapshot, bool) {
	if s.selected == nil {
		return backend.TorrentSnapshot{}, false
	}
	return *s.selected, true
}

// OpenMenu binds the context menu to a torrent in the current collection
func (s *Session) OpenMenu(id backend.TorrentID) (*MenuBinding, bool) {
	t, ok := s.Lookup(id)
	if !ok {
		return nil, false
	}
	s.menu = &MenuBinding{ID: t.ID, Name: t.Name, OpenedAt: s.now()}
	return s.menu, true
}

// CloseMenu dismisses the context menu and returns what it was bound to
func (s *Session) CloseMenu() *MenuBinding {
	m := s.menu
	s.menu = nil
	return m
}

// Menu returns the current context menu binding
func (s *Session) Menu() *MenuBinding { return s.menu }

// View copies the session for rendering
func (s *Session) View() View {
	v := View{
		Generation:          s.applied,
		Filter:              s.filter,
		Search:              s.search,
		Sort:                s.sort,
		Order:               s.order,
		Torrents:            s.filtered,
		Total:               len(s.torrents),
		Counts:              calculateCounts(s.torrents),
		Stats:               calculateStats(s.torrents),
		LastUpdated:         s.lastUpdated,
		LastError:           s.lastError,
		ConsecutiveFailures: s.failures,
	}
	if v.Torrents == nil {
		v.Torrents = []backend.TorrentSnapshot{}
	}
	if s.selected != nil {
		selected := *s.selected
		v.Selected = &selected
	}
	if s.menu != nil {
		menu := *s.menu
		v.Menu = &menu
	}
	return v
}

func (s *Session) resolveSelection() {
	if s.selectedID == "" {
		s.selected = nil
		return
	}

	t, ok := s.Lookup(s.selectedID)
	if !ok {
		log.Debug().Str("id", s.selectedID.String()).Msg("Selected torrent disappeared, clearing selection")
		s.selectedID = ""
		s.selected = nil
		return
	}
	s.selected = &t
}

func (s *Session) recompute() {
	filtered := ApplyFilter(s.torrents, s.filter)
	if s.search != "" {
		filtered = FilterBySearch(filtered, s.search)
	}
	if s.sort != "" {
		filtered = append([]backend.TorrentSnapshot(nil), filtered...)
		SortTorrents(filtered, s.sort, s.order)
	}
	s.filtered = filtered
}
