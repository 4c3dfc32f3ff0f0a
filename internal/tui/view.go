// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tui

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/autobrr/torrentdeck/internal/backend"
	"github.com/autobrr/torrentdeck/internal/dispatch"
	"github.com/autobrr/torrentdeck/internal/filetree"
	"github.com/autobrr/torrentdeck/internal/session"
)

const detailHeight = 10

func columnsFor(width int) []table.Column {
	fixed := []table.Column{
		{Title: "Size", Width: 10},
		{Title: "Progress", Width: 9},
		{Title: "Status", Width: 12},
		{Title: "Speed", Width: 11},
		{Title: "Peers", Width: 6},
		{Title: "Seeds", Width: 6},
		{Title: "ETA", Width: 9},
	}
	used := 0
	for _, c := range fixed {
		// cells are padded by one on each side
		used += c.Width + 2
	}
	name := max(width-used-2, 16)
	return append([]table.Column{{Title: "Name", Width: name}}, fixed...)
}

func rowsFor(torrents []backend.TorrentSnapshot) []table.Row {
	rows := make([]table.Row, 0, len(torrents))
	for _, t := range torrents {
		rows = append(rows, table.Row{
			t.Name,
			t.Size,
			fmt.Sprintf("%.1f%%", t.Progress),
			t.Status,
			orDash(t.Speed),
			fmt.Sprintf("%d/%d", t.TransmittingPeers, t.Peers),
			fmt.Sprintf("%d/%d", t.TransmittingSeeds, t.Seeds),
			orDash(t.ETA),
		})
	}
	return rows
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func (m Model) View() string {
	var sections []string

	sections = append(sections, m.headerView())

	switch {
	case m.snap.Add.Phase != dispatch.PhaseIdle:
		sections = append(sections, m.addView())
	default:
		sections = append(sections, m.table.View())
		if m.snap.Session.Menu != nil {
			sections = append(sections, m.menuView())
		} else if sel := m.snap.Session.Selected; sel != nil {
			sections = append(sections, m.detailView(*sel))
		}
	}

	sections = append(sections, m.footerView())
	return ui.container.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m Model) headerView() string {
	view := m.snap.Session
	stats := view.Stats

	title := ui.title.Render("torrentdeck")
	summary := ui.muted.Render(fmt.Sprintf("%d torrents  ↓ %d  ↑ %d  peers %d/%d  seeds %d/%d  avg %.1f%%",
		stats.Total, stats.Downloading, stats.Seeding,
		stats.TransmittingPeers, stats.Peers, stats.TransmittingSeeds, stats.Seeds,
		stats.AverageProgress))

	var health string
	switch {
	case view.ConsecutiveFailures > 0:
		health = ui.danger.Render(fmt.Sprintf("backend down (%d): %s", view.ConsecutiveFailures, view.LastError))
	case view.LastUpdated.IsZero():
		health = m.spin.View() + ui.muted.Render(" connecting")
	default:
		health = ui.info.Render("updated " + view.LastUpdated.Format(time.TimeOnly))
	}

	tabs := make([]string, 0, len(session.FilterNames))
	for _, name := range session.FilterNames {
		label := fmt.Sprintf("%s %d", name, view.Counts[name])
		if name == view.Filter {
			tabs = append(tabs, ui.tabActive.Render(label))
		} else {
			tabs = append(tabs, ui.tabInactive.Render(label))
		}
	}

	lines := []string{
		lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", summary, "  ", health),
		lipgloss.JoinHorizontal(lipgloss.Top, tabs...),
	}

	if m.mode == inputSearch {
		lines = append(lines, m.input.View())
	} else {
		var parts []string
		if view.Search != "" {
			parts = append(parts, "search: "+view.Search)
		}
		if view.Sort != "" {
			parts = append(parts, fmt.Sprintf("sort: %s %s", view.Sort, view.Order))
		}
		parts = append(parts, fmt.Sprintf("showing %d of %d", len(view.Torrents), view.Total))
		lines = append(lines, ui.muted.Render(strings.Join(parts, "  ·  ")))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) footerView() string {
	var lines []string

	if m.confirmRemove != nil {
		lines = append(lines, ui.danger.Render(fmt.Sprintf("Remove %q? y/N", m.confirmRemove.Name)))
	}
	if n := m.snap.Notice; n != nil {
		style := ui.info
		switch n.Level {
		case "error":
			style = ui.danger
		case "warning":
			style = ui.warning
		}
		lines = append(lines, style.Render(n.Message))
	}
	if m.status != "" {
		lines = append(lines, ui.warning.Render(m.status))
	}

	if m.snap.Add.Phase != dispatch.PhaseIdle {
		lines = append(lines, m.help.View(m.add))
	} else {
		lines = append(lines, m.help.View(m.keys))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) detailView(t backend.TorrentSnapshot) string {
	tabs := make([]string, 0, len(detailTabNames))
	for i, name := range detailTabNames {
		if detailTab(i) == m.detailTab {
			tabs = append(tabs, ui.tabActive.Render(name))
		} else {
			tabs = append(tabs, ui.tabInactive.Render(name))
		}
	}

	var body []string
	switch m.detailTab {
	case tabGeneral:
		body = generalLines(t)
	case tabTrackers:
		body = trackerLines(t.Details.Trackers)
	case tabPeers:
		body = peerLines(t.Details.Peers)
	}
	if len(body) > detailHeight-2 {
		body = append(body[:detailHeight-3], ui.muted.Render(fmt.Sprintf("… %d more", len(body)-(detailHeight-3))))
	}

	head := lipgloss.JoinHorizontal(lipgloss.Top,
		ui.title.Render(t.Name), "  ", statusStyle(t.Status).Render(t.Status), "  ",
		lipgloss.JoinHorizontal(lipgloss.Top, tabs...))

	return ui.panel.Render(lipgloss.JoinVertical(lipgloss.Left, append([]string{head}, body...)...))
}

func generalLines(t backend.TorrentSnapshot) []string {
	keys := make([]string, 0, len(t.Details.General))
	for k := range t.Details.General {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	lines := []string{
		ui.label.Render("Info hash") + orDash(t.InfoHash),
		ui.label.Render("Save path") + orDash(t.DownloadPath),
	}
	for _, k := range keys {
		value := "-"
		if v := t.Details.General[k]; v != nil {
			value = orDash(*v)
		}
		lines = append(lines, ui.label.Render(k)+value)
	}
	return lines
}

func trackerLines(trackers []backend.TrackerRow) []string {
	if len(trackers) == 0 {
		return []string{ui.muted.Render("No trackers")}
	}
	lines := make([]string, 0, len(trackers))
	for _, tr := range trackers {
		line := fmt.Sprintf("[%d] %s  %s  peers %d  seeds %d", tr.Tier, tr.URL, tr.Status, tr.Peers, tr.Seeds)
		if tr.Message != "" {
			line += "  " + ui.muted.Render(tr.Message)
		}
		lines = append(lines, line)
	}
	return lines
}

func peerLines(peers []backend.PeerRow) []string {
	if len(peers) == 0 {
		return []string{ui.muted.Render("No peers")}
	}
	lines := make([]string, 0, len(peers))
	for _, p := range peers {
		lines = append(lines, fmt.Sprintf("%s:%d  %-20s %5.1f%%  ↓ %.1f KiB/s  ↑ %.1f KiB/s  %s",
			p.IP, p.Port, p.Client, p.Progress*100, p.DownSpeed, p.UpSpeed, p.Flags))
	}
	return lines
}

func (m Model) menuView() string {
	binding := m.snap.Session.Menu

	name := binding.Name
	if name == "" {
		name = binding.ID.String()
	}

	lines := []string{ui.title.Render(name)}
	for i, item := range menuItems {
		if i == m.menuCursor {
			lines = append(lines, ui.menuCursor.Render("> "+item.label))
		} else {
			lines = append(lines, "  "+item.label)
		}
	}
	return ui.menu.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m Model) addView() string {
	flow := m.snap.Add

	name := flow.FileName
	if flow.Metadata != nil && flow.Metadata.Name != "" {
		name = flow.Metadata.Name
	}
	lines := []string{ui.title.Render("Add torrent: " + name)}

	switch flow.Phase {
	case dispatch.PhaseParsing:
		lines = append(lines, m.spin.View()+" Reading torrent…")
		return ui.panel.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	case dispatch.PhaseUploading:
		lines = append(lines, m.spin.View()+" Uploading…")
	case dispatch.PhaseDone:
		lines = append(lines, ui.info.Render("Added. Press enter to close."))
		return ui.panel.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	}

	if flow.Error != "" {
		lines = append(lines, ui.danger.Render(flow.Error))
	}

	if m.mode == inputDownloadPath {
		lines = append(lines, m.input.View())
	} else {
		lines = append(lines, ui.label.Render("Save to")+orDash(flow.DownloadPath))
	}
	if m.snap.FreeSpace > 0 {
		lines = append(lines, ui.label.Render("Free space")+session.FormatBytes(int64(m.snap.FreeSpace)))
	}
	lines = append(lines, ui.label.Render("Selected")+fmt.Sprintf("%d/%d files, %s",
		flow.SelectedFiles, flow.TotalFiles, session.FormatBytes(flow.SelectedSize)))

	lines = append(lines, "")
	lines = append(lines, m.treeLines(flow.Nodes)...)

	return ui.panel.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// treeLines renders a window of the file tree around the cursor
func (m Model) treeLines(nodes []dispatch.FlowNode) []string {
	visible := max(m.height-14, 5)
	start := 0
	if m.addCursor >= visible {
		start = m.addCursor - visible + 1
	}
	end := min(start+visible, len(nodes))

	lines := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		n := nodes[i]
		name := n.Name
		if !n.IsLeaf {
			name += "/"
		}
		line := fmt.Sprintf("%s%s %s  %s", strings.Repeat("  ", n.Depth), checkbox(n.State), name,
			ui.muted.Render(session.FormatBytes(n.Size)))
		if i == m.addCursor {
			line = ui.cursor.Render("> ") + line
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	return lines
}

func checkbox(state filetree.CheckState) string {
	switch state {
	case filetree.Checked:
		return "[x]"
	case filetree.Partial:
		return "[-]"
	default:
		return "[ ]"
	}
}
