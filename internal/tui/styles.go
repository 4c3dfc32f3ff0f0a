// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tui

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/autobrr/torrentdeck/internal/backend"
)

type styles struct {
	container   lipgloss.Style
	panel       lipgloss.Style
	title       lipgloss.Style
	muted       lipgloss.Style
	tabActive   lipgloss.Style
	tabInactive lipgloss.Style
	label       lipgloss.Style
	info        lipgloss.Style
	danger      lipgloss.Style
	warning     lipgloss.Style
	menu        lipgloss.Style
	menuCursor  lipgloss.Style
	cursor      lipgloss.Style
}

var ui = styles{
	container:   lipgloss.NewStyle().Padding(0, 1),
	panel:       lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1),
	title:       lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true),
	muted:       lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
	tabActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(lipgloss.Color("62")).Bold(true).Padding(0, 1),
	tabInactive: lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1),
	label:       lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14),
	info:        lipgloss.NewStyle().Foreground(lipgloss.Color("86")),
	danger:      lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
	warning:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	menu:        lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1),
	menuCursor:  lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57")).Bold(true),
	cursor:      lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Bold(true),
}

var statusColors = map[string]lipgloss.Color{
	backend.StatusDownloading: lipgloss.Color("39"),
	backend.StatusSeeding:     lipgloss.Color("42"),
	backend.StatusDone:        lipgloss.Color("34"),
	backend.StatusPaused:      lipgloss.Color("244"),
	backend.StatusStalled:     lipgloss.Color("214"),
	backend.StatusChecking:    lipgloss.Color("141"),
	backend.StatusQueued:      lipgloss.Color("110"),
	backend.StatusErrored:     lipgloss.Color("203"),
}

func statusStyle(status string) lipgloss.Style {
	if c, ok := statusColors[status]; ok {
		return lipgloss.NewStyle().Foreground(c)
	}
	return lipgloss.NewStyle()
}

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("238")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(true)
	return s
}
