// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package tui is the terminal front end. It renders controller snapshots and
// turns key presses into controller calls; it never mutates session state
// itself.
package tui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/torrentdeck/internal/backend"
	"github.com/autobrr/torrentdeck/internal/controller"
	"github.com/autobrr/torrentdeck/internal/dispatch"
	"github.com/autobrr/torrentdeck/internal/domain"
	"github.com/autobrr/torrentdeck/internal/filetree"
	"github.com/autobrr/torrentdeck/internal/session"
)

// Controller is the part of the session controller the terminal UI drives
type Controller interface {
	Snapshot() controller.Snapshot
	Subscribe() (<-chan controller.Snapshot, func())
	Refresh(ctx context.Context) error

	SetFilter(ctx context.Context, name string) error
	SetSearch(ctx context.Context, query string) error
	SetSort(ctx context.Context, field, order string) error
	Select(ctx context.Context, id backend.TorrentID) (bool, error)
	ClearSelection(ctx context.Context) error
	OpenMenu(ctx context.Context, id backend.TorrentID) (*session.MenuBinding, error)
	CloseMenu(ctx context.Context) error
	DismissNotice(ctx context.Context) error

	Dispatch(ctx context.Context, action backend.Action, id backend.TorrentID) (<-chan error, error)
	DispatchMenu(ctx context.Context, action backend.Action) (<-chan error, error)
	OpenDownloadFolder(ctx context.Context, id backend.TorrentID) error

	PickAndAdd(ctx context.Context) (<-chan error, error)
	ToggleAdd(ctx context.Context, id filetree.NodeID, checked bool) error
	ToggleAddPath(ctx context.Context, path string, checked bool) error
	SetAddDownloadPath(ctx context.Context, path string) error
	PickAddDownloadPath(ctx context.Context) (string, error)
	ConfirmAdd(ctx context.Context) (<-chan error, error)
	CancelAdd(ctx context.Context) error
}

type inputMode int

const (
	inputNone inputMode = iota
	inputSearch
	inputDownloadPath
)

type detailTab int

const (
	tabGeneral detailTab = iota
	tabTrackers
	tabPeers
)

var detailTabNames = []string{"General", "Trackers", "Peers"}

// sortFields is the cycle order of the sort key; "" keeps backend order
var sortFields = []string{"", "name", "progress", "status", "peers", "seeds", "size"}

type menuItem struct {
	label  string
	action backend.Action
	open   bool
}

var menuItems = []menuItem{
	{label: "Pause", action: backend.ActionPause},
	{label: "Resume", action: backend.ActionResume},
	{label: "Remove", action: backend.ActionRemove},
	{label: "Force reannounce", action: backend.ActionReannounce},
	{label: "Open download folder", open: true},
}

// snapshotMsg carries a published snapshot; closed is set once the
// controller stopped
type snapshotMsg struct {
	snap   controller.Snapshot
	closed bool
}

// resultMsg reports the outcome of a controller call
type resultMsg struct {
	op  string
	err error
}

type Model struct {
	ctx  context.Context
	ctrl Controller

	snapshots   <-chan controller.Snapshot
	unsubscribe func()

	snap  controller.Snapshot
	table table.Model
	input textinput.Model
	spin  spinner.Model
	help  help.Model
	keys  keyMap
	add   addKeyMap

	mode          inputMode
	detailTab     detailTab
	menuCursor    int
	addCursor     int
	confirmRemove *backend.TorrentSnapshot
	status        string

	width  int
	height int
}

// New builds the model and subscribes to ctrl. The subscription ends when
// the program exits or the controller stops.
func New(ctx context.Context, ctrl Controller) Model {
	t := table.New(
		table.WithColumns(columnsFor(100)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(tableStyles())

	in := textinput.New()
	in.CharLimit = 256
	in.Width = 40

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = ui.info

	snapshots, unsubscribe := ctrl.Subscribe()

	m := Model{
		ctx:         ctx,
		ctrl:        ctrl,
		snapshots:   snapshots,
		unsubscribe: unsubscribe,
		table:       t,
		input:       in,
		spin:        sp,
		help:        help.New(),
		keys:        newKeyMap(),
		add:         newAddKeyMap(),
	}
	m.applySnapshot(ctrl.Snapshot())
	return m
}

// Run starts the program and blocks until the user quits or ctx ends
func Run(ctx context.Context, ctrl Controller, opts ...tea.ProgramOption) error {
	m := New(ctx, ctrl)
	defer m.unsubscribe()

	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	if _, err := tea.NewProgram(m, opts...).Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitSnapshot(m.snapshots), m.spin.Tick)
}

func waitSnapshot(ch <-chan controller.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		return snapshotMsg{snap: snap, closed: !ok}
	}
}

// call runs a blocking controller method off the update loop
func (m Model) call(op string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return resultMsg{op: op, err: fn(ctx)}
	}
}

// callAsync runs a controller method that hands back a result channel and
// waits for the outcome
func (m Model) callAsync(op string, fn func(ctx context.Context) (<-chan error, error)) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		result, err := fn(ctx)
		if err != nil || result == nil {
			return resultMsg{op: op, err: err}
		}
		select {
		case err = <-result:
		case <-ctx.Done():
			err = ctx.Err()
		}
		return resultMsg{op: op, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.updateLayout(msg.Width, msg.Height)
		return m, nil

	case snapshotMsg:
		if msg.closed {
			return m, tea.Quit
		}
		m.applySnapshot(msg.snap)
		return m, waitSnapshot(m.snapshots)

	case resultMsg:
		m.applyResult(msg)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m *Model) applySnapshot(snap controller.Snapshot) {
	var cursorID backend.TorrentID
	if row, ok := m.cursorRow(); ok {
		cursorID = row.ID
	}

	m.snap = snap
	m.table.SetRows(rowsFor(snap.Session.Torrents))

	// keep the cursor on the same torrent across refreshes
	cursor := m.table.Cursor()
	for i, t := range snap.Session.Torrents {
		if t.ID == cursorID {
			cursor = i
			break
		}
	}
	if n := len(snap.Session.Torrents); cursor >= n {
		cursor = n - 1
	}
	m.table.SetCursor(max(cursor, 0))

	if n := len(snap.Add.Nodes); m.addCursor >= n {
		m.addCursor = max(n-1, 0)
	}
	if snap.Session.Menu == nil {
		m.menuCursor = 0
	}
}

func (m *Model) applyResult(msg resultMsg) {
	switch {
	case msg.err == nil:
		if msg.op == "refresh" {
			m.status = "Refreshing…"
		} else {
			m.status = ""
		}
	case domain.IsStale(msg.err), errors.Is(msg.err, context.Canceled):
	case domain.IsNotFound(msg.err), domain.IsNetwork(msg.err):
		// the controller reports these through the notice
		m.status = ""
	default:
		m.status = fmt.Sprintf("%s: %v", msg.op, msg.err)
		log.Debug().Err(msg.err).Str("op", msg.op).Msg("Command failed")
	}
}

func (m Model) cursorRow() (backend.TorrentSnapshot, bool) {
	rows := m.snap.Session.Torrents
	i := m.table.Cursor()
	if i < 0 || i >= len(rows) {
		return backend.TorrentSnapshot{}, false
	}
	return rows[i], true
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	switch {
	case m.mode != inputNone:
		return m.handleInputKey(msg)
	case m.confirmRemove != nil:
		return m.handleConfirmKey(msg)
	case m.snap.Add.Phase != dispatch.PhaseIdle:
		return m.handleAddKey(msg)
	case m.snap.Session.Menu != nil:
		return m.handleMenuKey(msg)
	}

	return m.handleTableKey(msg)
}

func (m Model) handleTableKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	view := m.snap.Session
	row, hasRow := m.cursorRow()

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.updateLayout(m.width, m.height)
		return m, nil

	case key.Matches(msg, m.keys.NextFilter):
		name := cycle(session.FilterNames, view.Filter, 1)
		return m, m.call("filter", func(ctx context.Context) error { return m.ctrl.SetFilter(ctx, name) })

	case key.Matches(msg, m.keys.PrevFilter):
		name := cycle(session.FilterNames, view.Filter, -1)
		return m, m.call("filter", func(ctx context.Context) error { return m.ctrl.SetFilter(ctx, name) })

	case key.Matches(msg, m.keys.Search):
		m.mode = inputSearch
		m.input.Prompt = "/ "
		m.input.Placeholder = "name, glob or text"
		m.input.SetValue(view.Search)
		m.input.CursorEnd()
		return m, m.input.Focus()

	case key.Matches(msg, m.keys.Sort):
		field := cycle(sortFields, view.Sort, 1)
		order := view.Order
		if order == "" {
			order = "asc"
		}
		return m, m.call("sort", func(ctx context.Context) error { return m.ctrl.SetSort(ctx, field, order) })

	case key.Matches(msg, m.keys.Order):
		order := "desc"
		if view.Order == "desc" {
			order = "asc"
		}
		field := view.Sort
		return m, m.call("sort", func(ctx context.Context) error { return m.ctrl.SetSort(ctx, field, order) })

	case key.Matches(msg, m.keys.Refresh):
		return m, m.call("refresh", m.ctrl.Refresh)

	case key.Matches(msg, m.keys.Add):
		return m, m.callAsync("add", m.ctrl.PickAndAdd)

	case key.Matches(msg, m.keys.DetailTab):
		m.detailTab = (m.detailTab + 1) % detailTab(len(detailTabNames))
		return m, nil

	case key.Matches(msg, m.keys.Back):
		switch {
		case view.Selected != nil:
			return m, m.call("select", m.ctrl.ClearSelection)
		case view.Search != "":
			return m, m.call("search", func(ctx context.Context) error { return m.ctrl.SetSearch(ctx, "") })
		case m.snap.Notice != nil:
			return m, m.call("notice", m.ctrl.DismissNotice)
		}
		return m, nil
	}

	if hasRow {
		id := row.ID
		switch {
		case key.Matches(msg, m.keys.Details):
			return m, m.call("select", func(ctx context.Context) error {
				_, err := m.ctrl.Select(ctx, id)
				return err
			})
		case key.Matches(msg, m.keys.Menu):
			return m, m.call("menu", func(ctx context.Context) error {
				_, err := m.ctrl.OpenMenu(ctx, id)
				return err
			})
		case key.Matches(msg, m.keys.Pause):
			return m, m.dispatch(backend.ActionPause, id)
		case key.Matches(msg, m.keys.Resume):
			return m, m.dispatch(backend.ActionResume, id)
		case key.Matches(msg, m.keys.Reannounce):
			return m, m.dispatch(backend.ActionReannounce, id)
		case key.Matches(msg, m.keys.Remove):
			r := row
			m.confirmRemove = &r
			return m, nil
		case key.Matches(msg, m.keys.Open):
			return m, m.call("open", func(ctx context.Context) error { return m.ctrl.OpenDownloadFolder(ctx, id) })
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) dispatch(action backend.Action, id backend.TorrentID) tea.Cmd {
	return m.callAsync(string(action), func(ctx context.Context) (<-chan error, error) {
		return m.ctrl.Dispatch(ctx, action, id)
	})
}

func (m Model) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	target := m.confirmRemove
	m.confirmRemove = nil

	switch msg.String() {
	case "y", "Y", "enter":
		return m, m.dispatch(backend.ActionRemove, target.ID)
	}
	return m, nil
}

func (m Model) handleMenuKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	binding := m.snap.Session.Menu

	run := func(item menuItem) tea.Cmd {
		if item.open {
			id := binding.ID
			return m.call("open", func(ctx context.Context) error { return m.ctrl.OpenDownloadFolder(ctx, id) })
		}
		action := item.action
		return m.callAsync(string(action), func(ctx context.Context) (<-chan error, error) {
			return m.ctrl.DispatchMenu(ctx, action)
		})
	}

	switch {
	case key.Matches(msg, m.keys.Back), key.Matches(msg, m.keys.Quit), key.Matches(msg, m.keys.Menu):
		return m, m.call("menu", m.ctrl.CloseMenu)
	case key.Matches(msg, m.keys.Up):
		if m.menuCursor > 0 {
			m.menuCursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.menuCursor < len(menuItems)-1 {
			m.menuCursor++
		}
	case key.Matches(msg, m.keys.Details):
		return m, run(menuItems[m.menuCursor])
	case key.Matches(msg, m.keys.Pause):
		return m, run(menuItems[0])
	case key.Matches(msg, m.keys.Resume):
		return m, run(menuItems[1])
	case key.Matches(msg, m.keys.Remove):
		return m, run(menuItems[2])
	case key.Matches(msg, m.keys.Reannounce):
		return m, run(menuItems[3])
	case key.Matches(msg, m.keys.Open):
		return m, run(menuItems[4])
	}
	return m, nil
}

func (m Model) handleAddKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	flow := m.snap.Add

	if key.Matches(msg, m.add.Cancel) {
		return m, m.call("add", m.ctrl.CancelAdd)
	}

	switch flow.Phase {
	case dispatch.PhaseDone:
		if key.Matches(msg, m.add.Confirm) {
			return m, m.call("add", m.ctrl.CancelAdd)
		}
		return m, nil
	case dispatch.PhaseReady, dispatch.PhaseFailed:
	default:
		return m, nil
	}

	switch {
	case key.Matches(msg, m.add.Up):
		if m.addCursor > 0 {
			m.addCursor--
		}
	case key.Matches(msg, m.add.Down):
		if m.addCursor < len(flow.Nodes)-1 {
			m.addCursor++
		}
	case key.Matches(msg, m.add.Toggle):
		if m.addCursor < len(flow.Nodes) {
			node := flow.Nodes[m.addCursor]
			checked := node.State != filetree.Checked
			return m, m.call("toggle", func(ctx context.Context) error { return m.ctrl.ToggleAdd(ctx, node.ID, checked) })
		}
	case key.Matches(msg, m.add.All):
		checked := flow.SelectedFiles < flow.TotalFiles
		return m, m.call("toggle", func(ctx context.Context) error { return m.ctrl.ToggleAddPath(ctx, "", checked) })
	case key.Matches(msg, m.add.Path):
		m.mode = inputDownloadPath
		m.input.Prompt = "Save to: "
		m.input.Placeholder = "/path/to/downloads"
		m.input.SetValue(flow.DownloadPath)
		m.input.CursorEnd()
		return m, m.input.Focus()
	case key.Matches(msg, m.add.PickPath):
		return m, m.call("path", func(ctx context.Context) error {
			_, err := m.ctrl.PickAddDownloadPath(ctx)
			return err
		})
	case key.Matches(msg, m.add.Confirm):
		return m, m.callAsync("add", m.ctrl.ConfirmAdd)
	}
	return m, nil
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	mode := m.mode

	switch msg.Type {
	case tea.KeyEsc:
		m.mode = inputNone
		m.input.Blur()
		if mode == inputSearch && m.snap.Session.Search != "" {
			return m, m.call("search", func(ctx context.Context) error { return m.ctrl.SetSearch(ctx, "") })
		}
		return m, nil
	case tea.KeyEnter:
		m.mode = inputNone
		m.input.Blur()
		value := m.input.Value()
		if mode == inputDownloadPath {
			return m, m.call("path", func(ctx context.Context) error { return m.ctrl.SetAddDownloadPath(ctx, value) })
		}
		return m, m.call("search", func(ctx context.Context) error { return m.ctrl.SetSearch(ctx, value) })
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)

	// search narrows the table while typing
	if after := m.input.Value(); mode == inputSearch && after != before {
		return m, tea.Batch(cmd, m.call("search", func(ctx context.Context) error { return m.ctrl.SetSearch(ctx, after) }))
	}
	return m, cmd
}

func (m *Model) updateLayout(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	m.width = width
	m.height = height
	m.help.Width = width
	m.input.Width = max(width-20, 10)
	m.table.SetColumns(columnsFor(width - 4))

	used := lipgloss.Height(m.headerView()) + lipgloss.Height(m.footerView()) + 4
	if m.snap.Session.Selected != nil {
		used += detailHeight + 2
	}
	m.table.SetHeight(max(height-used, 3))
}

// cycle returns the element step positions after current, wrapping around
func cycle(values []string, current string, step int) string {
	idx := 0
	for i, v := range values {
		if v == current {
			idx = i
			break
		}
	}
	n := len(values)
	return values[((idx+step)%n+n)%n]
}
