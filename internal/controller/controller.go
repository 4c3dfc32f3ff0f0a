// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package controller owns the session. A single event loop goroutine is the
// only mutator of the torrent collection, the selection, the context menu and
// the add-torrent flow; every public method posts a closure into that loop.
package controller

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/torrentdeck/internal/backend"
	"github.com/autobrr/torrentdeck/internal/dispatch"
	"github.com/autobrr/torrentdeck/internal/domain"
	"github.com/autobrr/torrentdeck/internal/filetree"
	"github.com/autobrr/torrentdeck/internal/host"
	"github.com/autobrr/torrentdeck/internal/models"
	"github.com/autobrr/torrentdeck/internal/session"
)

const (
	defaultRefreshInterval = time.Second
	defaultRequestTimeout  = 10 * time.Second
	recordTimeout          = 5 * time.Second
)

var (
	ErrStopped        = errors.New("controller stopped")
	ErrAlreadyRunning = errors.New("controller already running")
	ErrNoMenu         = errors.New("no context menu is open")
)

// Notice levels
const (
	NoticeInfo  = "info"
	NoticeError = "error"
)

// Notice is the outcome of the last user command, shown once by the UI
type Notice struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Snapshot is what the UI renders. It is never mutated after publication.
type Snapshot struct {
	Session   session.View      `json:"session"`
	Add       dispatch.FlowView `json:"add"`
	FreeSpace uint64            `json:"freeSpace,omitempty"`
	Notice    *Notice           `json:"notice,omitempty"`
}

// Observer receives loop events, typically for metrics
type Observer interface {
	RefreshApplied(torrents int, took time.Duration)
	RefreshDiscarded()
	RefreshFailed()
	ActionCompleted(action, outcome string)
}

// ActivityRecorder persists completed commands
type ActivityRecorder interface {
	Record(ctx context.Context, a *models.Activity) error
}

type nopObserver struct{}

func (nopObserver) RefreshApplied(int, time.Duration) {}
func (nopObserver) RefreshDiscarded()                 {}
func (nopObserver) RefreshFailed()                    {}
func (nopObserver) ActionCompleted(string, string)    {}

type Config struct {
	RefreshInterval time.Duration
	RequestTimeout  time.Duration
	// DownloadDir overrides the host's default download directory
	DownloadDir string
	Observer    Observer
	Recorder    ActivityRecorder
}

type event struct {
	fn   func()
	then func()
}

type Controller struct {
	cfg        Config
	backend    backend.Backend
	dispatcher *dispatch.Dispatcher
	host       host.Host
	observer   Observer
	recorder   ActivityRecorder

	events      chan event
	done        chan struct{}
	running     atomic.Bool
	inflight    sync.WaitGroup
	baseCtx     context.Context
	latest      atomic.Pointer[Snapshot]
	broadcaster *broadcaster

	// loop-owned state
	session         *session.Session
	flow            *dispatch.AddFlow
	notice          *Notice
	refreshing      int
	freeSpace       uint64
	freeSpacePath   string
	defaultDownload string

	now func() time.Time
}

// New creates a controller. Run must be called to start the event loop.
func New(cfg Config, b backend.Backend, d *dispatch.Dispatcher, h host.Host) *Controller {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	c := &Controller{
		cfg:         cfg,
		backend:     b,
		dispatcher:  d,
		host:        h,
		observer:    cfg.Observer,
		recorder:    cfg.Recorder,
		events:      make(chan event),
		done:        make(chan struct{}),
		baseCtx:     context.Background(),
		broadcaster: newBroadcaster(),
		session:     session.New(),
		flow:        dispatch.NewAddFlow(),
		now:         time.Now,
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}

	c.defaultDownload = cfg.DownloadDir
	if c.defaultDownload == "" {
		c.defaultDownload = h.DefaultDownloadsDir()
	}

	c.publish()
	return c
}

// Run drives the event loop until ctx is cancelled. A refresh is issued
// immediately and then every RefreshInterval.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	c.baseCtx = ctx
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	defer func() {
		close(c.done)
		c.inflight.Wait()
		c.broadcaster.close()
		log.Debug().Msg("Controller stopped")
	}()

	log.Debug().
		Dur("refreshInterval", c.cfg.RefreshInterval).
		Dur("requestTimeout", c.cfg.RequestTimeout).
		Msg("Controller started")

	c.startRefresh()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if c.refreshing > 0 {
				log.Trace().Int("inflight", c.refreshing).Msg("Skipping refresh tick, previous fetch still running")
				continue
			}
			c.startRefresh()
		case ev := <-c.events:
			ev.fn()
			c.publish()
			if ev.then != nil {
				ev.then()
			}
		}
	}
}

// Snapshot returns the most recently published state
func (c *Controller) Snapshot() Snapshot {
	return *c.latest.Load()
}

// Subscribe returns a channel carrying every published snapshot, starting
// with the current one. Slow readers only see the newest. The returned
// function unsubscribes.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := c.broadcaster.subscribe(c.Snapshot)
	return ch, func() { c.broadcaster.unsubscribe(ch) }
}

// call runs fn on the loop and waits until the resulting snapshot is published
func (c *Controller) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case c.events <- event{fn: fn, then: func() { close(finished) }}:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// post hands a continuation to the loop. It reports false once the loop exited.
func (c *Controller) post(fn func(), then func()) bool {
	select {
	case c.events <- event{fn: fn, then: then}:
		return true
	case <-c.done:
		return false
	}
}

// goAsync runs fn off the loop. Only the loop goroutine may call it.
func (c *Controller) goAsync(fn func()) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		fn()
	}()
}

func (c *Controller) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.baseCtx, c.cfg.RequestTimeout)
}

func (c *Controller) publish() {
	snap := Snapshot{
		Session:   c.session.View(),
		Add:       c.flow.View(),
		FreeSpace: c.freeSpace,
	}
	if c.notice != nil {
		n := *c.notice
		snap.Notice = &n
	}
	// latest is stored before fanning out; subscribe relies on that order
	c.latest.Store(&snap)
	c.broadcaster.publish(snap)
}

func (c *Controller) setNotice(level, format string, args ...any) {
	c.notice = &Notice{Level: level, Message: fmt.Sprintf(format, args...), At: c.now()}
}

// Refresh issues a fetch now, independent of the ticker
func (c *Controller) Refresh(ctx context.Context) error {
	return c.call(ctx, c.startRefresh)
}

func (c *Controller) startRefresh() {
	generation := c.session.Begin()
	started := c.now()
	c.refreshing++

	c.goAsync(func() {
		ctx, cancel := c.requestContext()
		defer cancel()

		torrents, err := c.backend.Status(ctx)
		c.post(func() { c.finishRefresh(generation, started, torrents, err) }, nil)
	})
}

func (c *Controller) finishRefresh(generation uint64, started time.Time, torrents []backend.TorrentSnapshot, err error) {
	c.refreshing--

	if err != nil {
		if failErr := c.session.Fail(generation, err); domain.IsStale(failErr) {
			c.observer.RefreshDiscarded()
			return
		}
		c.observer.RefreshFailed()
		return
	}

	if applyErr := c.session.Apply(generation, torrents); applyErr != nil {
		c.observer.RefreshDiscarded()
		return
	}
	c.observer.RefreshApplied(len(torrents), c.now().Sub(started))
}

// SetFilter switches the status filter; "" and any casing of "All" show everything
func (c *Controller) SetFilter(ctx context.Context, name string) error {
	return c.call(ctx, func() { c.session.SetFilter(name) })
}

// SetSearch narrows the table by free text
func (c *Controller) SetSearch(ctx context.Context, query string) error {
	return c.call(ctx, func() { c.session.SetSearch(query) })
}

// SetSort orders the table; an empty field restores backend order
func (c *Controller) SetSort(ctx context.Context, field, order string) error {
	return c.call(ctx, func() { c.session.SetSort(field, order) })
}

// Select makes id the detail target. It reports whether the id exists; an
// unknown id clears the selection.
func (c *Controller) Select(ctx context.Context, id backend.TorrentID) (bool, error) {
	var found bool
	err := c.call(ctx, func() { found = c.session.Select(id) })
	return found, err
}

// ClearSelection closes the detail view
func (c *Controller) ClearSelection(ctx context.Context) error {
	return c.call(ctx, c.session.ClearSelection)
}

// OpenMenu binds the context menu to id
func (c *Controller) OpenMenu(ctx context.Context, id backend.TorrentID) (*session.MenuBinding, error) {
	var (
		binding *session.MenuBinding
		ok      bool
	)
	if err := c.call(ctx, func() { binding, ok = c.session.OpenMenu(id) }); err != nil {
		return nil, err
	}
	if !ok {
		return nil, &domain.NotFoundError{ID: id.String()}
	}
	m := *binding
	return &m, nil
}

// CloseMenu dismisses the context menu without acting
func (c *Controller) CloseMenu(ctx context.Context) error {
	return c.call(ctx, func() { c.session.CloseMenu() })
}

// Dispatch sends action for id. Any open context menu is closed before the
// request goes out. The returned channel yields the backend outcome once it
// has been reflected in a published snapshot; a *domain.NotFoundError there
// means the torrent vanished and nothing happened.
func (c *Controller) Dispatch(ctx context.Context, action backend.Action, id backend.TorrentID) (<-chan error, error) {
	var result <-chan error
	err := c.call(ctx, func() {
		c.session.CloseMenu()
		result = c.dispatch(action, id)
	})
	return result, err
}

// DispatchMenu sends action for the torrent the open context menu was bound
// to. The binding is used as is, even if the torrent vanished since.
func (c *Controller) DispatchMenu(ctx context.Context, action backend.Action) (<-chan error, error) {
	var (
		result <-chan error
		noMenu bool
	)
	err := c.call(ctx, func() {
		binding := c.session.CloseMenu()
		if binding == nil {
			noMenu = true
			return
		}
		result = c.dispatch(action, binding.ID)
	})
	if err != nil {
		return nil, err
	}
	if noMenu {
		return nil, ErrNoMenu
	}
	return result, nil
}

func (c *Controller) dispatch(action backend.Action, id backend.TorrentID) <-chan error {
	out := make(chan error, 1)

	t, ok := c.session.Lookup(id)
	if !ok {
		err := &domain.NotFoundError{ID: id.String()}
		c.completeAction(action, id, "", err)
		out <- err
		return out
	}

	c.goAsync(func() {
		ctx, cancel := c.requestContext()
		defer cancel()

		_, err := c.dispatcher.Do(ctx, action, t.ID)
		if !c.post(func() { c.completeAction(action, t.ID, t.Name, err) }, func() { out <- err }) {
			out <- err
		}
	})

	return out
}

func (c *Controller) completeAction(action backend.Action, id backend.TorrentID, name string, err error) {
	a := &models.Activity{
		Action:      string(action),
		TorrentID:   id.String(),
		TorrentName: name,
		Outcome:     models.OutcomeOK,
	}

	label := name
	if label == "" {
		label = id.String()
	}

	switch {
	case err == nil:
		c.setNotice(NoticeInfo, "%s: %s", action, label)
	case domain.IsNotFound(err):
		a.Outcome = models.OutcomeNotFound
		c.setNotice(NoticeInfo, "%s: torrent %s no longer exists", action, label)
	default:
		a.Outcome = models.OutcomeFailed
		a.Message = err.Error()
		c.setNotice(NoticeError, "%s failed for %s: %v", action, label, err)
	}

	c.observer.ActionCompleted(string(action), a.Outcome)
	c.record(a)
}

func (c *Controller) record(a *models.Activity) {
	if c.recorder == nil {
		return
	}
	a.CreatedAt = c.now()

	c.goAsync(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.baseCtx), recordTimeout)
		defer cancel()
		if err := c.recorder.Record(ctx, a); err != nil {
			log.Warn().Err(err).Str("action", a.Action).Msg("Failed to record activity")
		}
	})
}

// OpenDownloadFolder reveals the download location of id in the file manager
// and closes any open context menu
func (c *Controller) OpenDownloadFolder(ctx context.Context, id backend.TorrentID) error {
	var (
		path  string
		found bool
	)
	err := c.call(ctx, func() {
		c.session.CloseMenu()
		var t backend.TorrentSnapshot
		if t, found = c.session.Lookup(id); found {
			path = t.DownloadPath
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return &domain.NotFoundError{ID: id.String()}
	}
	if path == "" {
		return &domain.ValidationError{Field: "downloadPath", Reason: "torrent has no download path"}
	}

	if !c.host.OpenInFileManager(path) {
		log.Debug().Str("path", path).Msg("File manager did not open")
	}
	return nil
}

// BeginAdd opens the add dialog for file and starts parsing it. Any earlier
// add flow is superseded. The returned channel yields the parse outcome once
// it has been published; a *domain.StaleResponseError there means the flow
// was cancelled or replaced first.
func (c *Controller) BeginAdd(ctx context.Context, file backend.TorrentFile) (<-chan error, error) {
	if len(file.Data) == 0 {
		return nil, &domain.ValidationError{Field: "file", Reason: "torrent file is empty"}
	}

	var result <-chan error
	err := c.call(ctx, func() {
		generation := c.flow.Begin(file, c.defaultDownload)
		c.updateFreeSpace()
		result = c.parse(generation, file)
	})
	return result, err
}

// BeginAddFromPath reads a .torrent file from disk and starts the add flow
func (c *Controller) BeginAddFromPath(ctx context.Context, path string) (<-chan error, error) {
	data, ok := c.host.ReadFile(path)
	if !ok {
		return nil, &domain.ValidationError{Field: "file", Reason: fmt.Sprintf("cannot read %s", path)}
	}
	return c.BeginAdd(ctx, backend.TorrentFile{Name: filepath.Base(path), Data: data})
}

// PickAndAdd asks the user for a .torrent file and starts the add flow. A
// cancelled picker returns a nil channel and a nil error.
func (c *Controller) PickAndAdd(ctx context.Context) (<-chan error, error) {
	path := c.host.ChooseFile(ctx, ".torrent")
	if path == "" {
		return nil, nil
	}
	return c.BeginAddFromPath(ctx, path)
}

func (c *Controller) parse(generation uint64, file backend.TorrentFile) <-chan error {
	out := make(chan error, 1)

	c.goAsync(func() {
		ctx, cancel := c.requestContext()
		defer cancel()

		meta, err := c.dispatcher.Parse(ctx, file)

		var resolved error
		apply := func() {
			resolved = c.flow.ResolveParse(generation, meta, err)
			switch {
			case resolved == nil:
			case domain.IsStale(resolved):
				log.Trace().Uint64("generation", generation).Msg("Discarding stale parse result")
			default:
				c.setNotice(NoticeError, "could not read %s: %v", file.Name, resolved)
			}
		}
		if !c.post(apply, func() { out <- resolved }) {
			out <- ErrStopped
		}
	})

	return out
}

// ToggleAdd checks or unchecks a node of the add dialog's file tree
func (c *Controller) ToggleAdd(ctx context.Context, id filetree.NodeID, checked bool) error {
	var toggleErr error
	if err := c.call(ctx, func() { toggleErr = c.flow.Toggle(id, checked) }); err != nil {
		return err
	}
	return toggleErr
}

// ToggleAddPath checks or unchecks the node at a slash separated path
func (c *Controller) ToggleAddPath(ctx context.Context, path string, checked bool) error {
	var toggleErr error
	if err := c.call(ctx, func() { toggleErr = c.flow.TogglePath(path, checked) }); err != nil {
		return err
	}
	return toggleErr
}

// SetDefaultDownloadDir changes the download path offered to new add flows.
// An empty dir falls back to the host default. An open flow keeps its path.
func (c *Controller) SetDefaultDownloadDir(ctx context.Context, dir string) error {
	return c.call(ctx, func() {
		if dir == "" {
			dir = c.host.DefaultDownloadsDir()
		}
		c.defaultDownload = dir
	})
}

// SetAddDownloadPath changes where the new torrent will be saved
func (c *Controller) SetAddDownloadPath(ctx context.Context, path string) error {
	return c.call(ctx, func() {
		c.flow.SetDownloadPath(path)
		c.updateFreeSpace()
	})
}

// PickAddDownloadPath asks the user for a directory. A cancelled picker
// leaves the path unchanged and returns "".
func (c *Controller) PickAddDownloadPath(ctx context.Context) (string, error) {
	dir := c.host.ChooseDirectory(ctx)
	if dir == "" {
		return "", nil
	}
	return dir, c.SetAddDownloadPath(ctx, dir)
}

func (c *Controller) updateFreeSpace() {
	path := c.flow.DownloadPath()
	if path == c.freeSpacePath {
		return
	}
	c.freeSpacePath = path
	c.freeSpace = 0
	if path == "" {
		return
	}
	if free, ok := c.host.FreeSpace(path); ok {
		c.freeSpace = free
	}
}

// ConfirmAdd uploads the torrent with the current selection and download
// path. Validation problems are returned directly; the channel yields the
// upload outcome once published.
func (c *Controller) ConfirmAdd(ctx context.Context) (<-chan error, error) {
	var (
		result     <-chan error
		prepareErr error
	)
	err := c.call(ctx, func() {
		var (
			generation uint64
			req        backend.UploadRequest
		)
		generation, req, prepareErr = c.flow.PrepareUpload()
		if prepareErr != nil {
			return
		}
		result = c.upload(generation, req)
	})
	if err != nil {
		return nil, err
	}
	if prepareErr != nil {
		return nil, prepareErr
	}
	return result, nil
}

func (c *Controller) upload(generation uint64, req backend.UploadRequest) <-chan error {
	out := make(chan error, 1)

	c.goAsync(func() {
		ctx, cancel := c.requestContext()
		defer cancel()

		ack, err := c.dispatcher.ConfirmAdd(ctx, req)

		var resolved error
		apply := func() {
			resolved = c.flow.ResolveUpload(generation, ack, err)
			if domain.IsStale(resolved) {
				log.Trace().Uint64("generation", generation).Msg("Discarding stale upload result")
				return
			}

			a := &models.Activity{Action: "add", TorrentName: req.File.Name, Outcome: models.OutcomeOK}
			if resolved != nil {
				a.Outcome = models.OutcomeFailed
				a.Message = resolved.Error()
				c.setNotice(NoticeError, "could not add %s: %v", req.File.Name, resolved)
			} else {
				c.setNotice(NoticeInfo, "added %s", req.File.Name)
				// show the new torrent without waiting for the next tick
				c.startRefresh()
			}
			c.observer.ActionCompleted(a.Action, a.Outcome)
			c.record(a)
		}
		if !c.post(apply, func() { out <- resolved }) {
			out <- ErrStopped
		}
	})

	return out
}

// CancelAdd closes the add dialog. Responses still in flight are discarded.
func (c *Controller) CancelAdd(ctx context.Context) error {
	return c.call(ctx, func() {
		c.flow.Cancel()
		c.freeSpacePath = ""
		c.freeSpace = 0
	})
}

// DismissNotice clears the last command outcome
func (c *Controller) DismissNotice(ctx context.Context) error {
	return c.call(ctx, func() { c.notice = nil })
}
