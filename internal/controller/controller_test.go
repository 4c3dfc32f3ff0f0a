// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/torrentdeck/internal/backend"
	"github.com/autobrr/torrentdeck/internal/backend/backendtest"
	"github.com/autobrr/torrentdeck/internal/dispatch"
	"github.com/autobrr/torrentdeck/internal/domain"
	"github.com/autobrr/torrentdeck/internal/models"
)

const waitTimeout = 2 * time.Second

type fakeHost struct {
	mu     sync.Mutex
	file   string
	dir    string
	files  map[string][]byte
	opened []string
}

func (h *fakeHost) ChooseFile(ctx context.Context, ext string) string { return h.file }
func (h *fakeHost) ChooseDirectory(ctx context.Context) string       { return h.dir }
func (h *fakeHost) DefaultDownloadsDir() string                      { return "/home/user/Downloads" }

func (h *fakeHost) ReadFile(path string) ([]byte, bool) {
	data, ok := h.files[path]
	return data, ok
}

func (h *fakeHost) OpenInFileManager(path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened = append(h.opened, path)
	return true
}

func (h *fakeHost) FreeSpace(path string) (uint64, bool) {
	if path == "" {
		return 0, false
	}
	return 1 << 30, true
}

func (h *fakeHost) Opened() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.opened...)
}

type countingObserver struct {
	applied   atomic.Int32
	discarded atomic.Int32
	failed    atomic.Int32

	mu       sync.Mutex
	outcomes []string
}

func (o *countingObserver) RefreshApplied(int, time.Duration) { o.applied.Add(1) }
func (o *countingObserver) RefreshDiscarded()                 { o.discarded.Add(1) }
func (o *countingObserver) RefreshFailed()                    { o.failed.Add(1) }

func (o *countingObserver) ActionCompleted(action, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, action+":"+outcome)
}

func (o *countingObserver) Outcomes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.outcomes...)
}

type memoryRecorder struct {
	mu         sync.Mutex
	activities []models.Activity
}

func (r *memoryRecorder) Record(ctx context.Context, a *models.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities = append(r.activities, *a)
	return nil
}

func (r *memoryRecorder) All() []models.Activity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Activity(nil), r.activities...)
}

type harness struct {
	ctrl     *Controller
	fake     *backendtest.Fake
	host     *fakeHost
	observer *countingObserver
	recorder *memoryRecorder
	cancel   context.CancelFunc
	stopped  chan struct{}
}

func torrents(ids ...string) []backend.TorrentSnapshot {
	out := make([]backend.TorrentSnapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, backend.TorrentSnapshot{
			ID:           backend.TorrentID(id),
			Name:         "torrent-" + id,
			Status:       backend.StatusDownloading,
			DownloadPath: "/data/" + id,
		})
	}
	return out
}

func testMetadata() *backend.Metadata {
	return &backend.Metadata{
		Name:      "Show",
		TotalSize: 30,
		Files: []backend.FileEntry{
			{Path: []string{"Season 1", "e01.mkv"}, Length: 10},
			{Path: []string{"Season 1", "e02.mkv"}, Length: 10},
			{Path: []string{"notes.txt"}, Length: 10},
		},
	}
}

// newHarness starts a controller whose ticker never fires during a test;
// refreshes happen at start and on demand.
func newHarness(t *testing.T, fake *backendtest.Fake, downloadDir string) *harness {
	t.Helper()

	d, err := dispatch.New(fake)
	require.NoError(t, err)
	t.Cleanup(d.Close)

	h := &harness{
		fake:     fake,
		host:     &fakeHost{files: map[string][]byte{}},
		observer: &countingObserver{},
		recorder: &memoryRecorder{},
		stopped:  make(chan struct{}),
	}
	h.ctrl = New(Config{
		RefreshInterval: time.Hour,
		RequestTimeout:  time.Second,
		DownloadDir:     downloadDir,
		Observer:        h.observer,
		Recorder:        h.recorder,
	}, fake, d, h.host)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.stopped)
		_ = h.ctrl.Run(ctx)
	}()
	t.Cleanup(h.stop)

	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.stopped
}

func (h *harness) waitFor(t *testing.T, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return cond(h.ctrl.Snapshot()) }, waitTimeout, 5*time.Millisecond)
	return h.ctrl.Snapshot()
}

func (h *harness) waitForGeneration(t *testing.T, generation uint64) Snapshot {
	t.Helper()
	return h.waitFor(t, func(s Snapshot) bool { return s.Session.Generation >= generation })
}

func awaitResult(t *testing.T, ch <-chan error) error {
	t.Helper()
	require.NotNil(t, ch)
	select {
	case err := <-ch:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for result")
		return nil
	}
}

func ids(snaps []backend.TorrentSnapshot) []string {
	out := make([]string, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, s.ID.String())
	}
	return out
}

func TestController_InitialRefresh(t *testing.T) {
	h := newHarness(t, backendtest.New(torrents("1", "2"), nil), "")

	snap := h.waitForGeneration(t, 1)
	assert.Equal(t, []string{"1", "2"}, ids(snap.Session.Torrents))
	assert.Equal(t, 2, snap.Session.Total)
	assert.Equal(t, int32(1), h.observer.applied.Load())
	assert.Equal(t, dispatch.PhaseIdle, snap.Add.Phase)
	assert.Nil(t, snap.Session.Selected)
}

func TestController_RefreshAppliesInIssueOrder(t *testing.T) {
	fake := backendtest.New(nil, nil)
	release := make(chan struct{})
	var calls atomic.Int32
	fake.StatusHook = func(ctx context.Context) ([]backend.TorrentSnapshot, error) {
		switch calls.Add(1) {
		case 1:
			return torrents("0"), nil
		case 2:
			// A: issued first, answers last
			<-release
			return torrents("A"), nil
		default:
			return torrents("B"), nil
		}
	}
	h := newHarness(t, fake, "")
	h.waitForGeneration(t, 1)

	ctx := context.Background()
	require.NoError(t, h.ctrl.Refresh(ctx))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, waitTimeout, time.Millisecond)
	require.NoError(t, h.ctrl.Refresh(ctx))

	snap := h.waitForGeneration(t, 3)
	assert.Equal(t, []string{"B"}, ids(snap.Session.Torrents))

	close(release)
	require.Eventually(t, func() bool { return h.observer.discarded.Load() == 1 }, waitTimeout, time.Millisecond)

	snap = h.ctrl.Snapshot()
	assert.Equal(t, uint64(3), snap.Session.Generation)
	assert.Equal(t, []string{"B"}, ids(snap.Session.Torrents))
}

func TestController_SelectionFollowsRefresh(t *testing.T) {
	tests := []struct {
		name     string
		selected string
		want     string
	}{
		{name: "vanished id clears selection", selected: "2", want: ""},
		{name: "surviving id is rebound", selected: "1", want: "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := backendtest.New(torrents("1", "2", "3"), nil)
			h := newHarness(t, fake, "")
			h.waitForGeneration(t, 1)
			ctx := context.Background()

			found, err := h.ctrl.Select(ctx, backend.TorrentID(tt.selected))
			require.NoError(t, err)
			require.True(t, found)

			next := torrents("1", "3", "4")
			next[0].Progress = 75
			fake.SetTorrents(next)
			require.NoError(t, h.ctrl.Refresh(ctx))

			snap := h.waitForGeneration(t, 2)
			if tt.want == "" {
				assert.Nil(t, snap.Session.Selected)
				return
			}
			require.NotNil(t, snap.Session.Selected)
			assert.Equal(t, tt.want, snap.Session.Selected.ID.String())
			assert.Equal(t, 75.0, snap.Session.Selected.Progress)
		})
	}
}

func TestController_FailedRefreshKeepsState(t *testing.T) {
	fake := backendtest.New(torrents("1"), nil)
	h := newHarness(t, fake, "")
	h.waitForGeneration(t, 1)

	fake.StatusHook = func(ctx context.Context) ([]backend.TorrentSnapshot, error) {
		return nil, &domain.NetworkError{Op: "status", Err: errors.New("connection refused")}
	}
	require.NoError(t, h.ctrl.Refresh(context.Background()))

	snap := h.waitFor(t, func(s Snapshot) bool { return s.Session.ConsecutiveFailures == 1 })
	assert.Equal(t, []string{"1"}, ids(snap.Session.Torrents))
	assert.Contains(t, snap.Session.LastError, "connection refused")
	assert.Equal(t, int32(1), h.observer.failed.Load())
}

func TestController_FilterAndSearch(t *testing.T) {
	list := torrents("1", "2", "3")
	list[1].Status = backend.StatusSeeding
	list[2].Name = "ubuntu-24.04.iso"
	h := newHarness(t, backendtest.New(list, nil), "")
	h.waitForGeneration(t, 1)
	ctx := context.Background()

	require.NoError(t, h.ctrl.SetFilter(ctx, "seeding"))
	assert.Equal(t, []string{"2"}, ids(h.ctrl.Snapshot().Session.Torrents))

	require.NoError(t, h.ctrl.SetFilter(ctx, "ALL"))
	require.NoError(t, h.ctrl.SetSearch(ctx, "ubuntu"))
	assert.Equal(t, []string{"3"}, ids(h.ctrl.Snapshot().Session.Torrents))
}

func TestController_Dispatch(t *testing.T) {
	fake := backendtest.New(torrents("1", "2"), nil)
	h := newHarness(t, fake, "")
	h.waitForGeneration(t, 1)
	ctx := context.Background()

	_, err := h.ctrl.OpenMenu(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, h.ctrl.Snapshot().Session.Menu)

	result, err := h.ctrl.Dispatch(ctx, backend.ActionPause, "1")
	require.NoError(t, err)
	assert.Nil(t, h.ctrl.Snapshot().Session.Menu, "menu closes at dispatch time")

	require.NoError(t, awaitResult(t, result))
	assert.Equal(t, 1, fake.CallCount("pause"))

	snap := h.ctrl.Snapshot()
	require.NotNil(t, snap.Notice)
	assert.Equal(t, NoticeInfo, snap.Notice.Level)
	// no optimistic update: the status changes on the next refresh
	assert.Equal(t, backend.StatusDownloading, snap.Session.Torrents[0].Status)

	require.NoError(t, h.ctrl.Refresh(ctx))
	snap = h.waitForGeneration(t, 2)
	assert.Equal(t, backend.StatusPaused, snap.Session.Torrents[0].Status)

	assert.Equal(t, []string{"pause:ok"}, h.observer.Outcomes())
	require.Eventually(t, func() bool { return len(h.recorder.All()) == 1 }, waitTimeout, time.Millisecond)
	activity := h.recorder.All()[0]
	assert.Equal(t, "pause", activity.Action)
	assert.Equal(t, "1", activity.TorrentID)
	assert.Equal(t, "torrent-1", activity.TorrentName)
	assert.Equal(t, models.OutcomeOK, activity.Outcome)
}

func TestController_DispatchVanishedTorrent(t *testing.T) {
	fake := backendtest.New(torrents("1", "2"), nil)
	h := newHarness(t, fake, "")
	h.waitForGeneration(t, 1)
	ctx := context.Background()

	_, err := h.ctrl.OpenMenu(ctx, "2")
	require.NoError(t, err)

	fake.SetTorrents(torrents("1"))
	require.NoError(t, h.ctrl.Refresh(ctx))
	snap := h.waitForGeneration(t, 2)
	require.NotNil(t, snap.Session.Menu, "refresh does not touch the menu binding")
	assert.Equal(t, "2", snap.Session.Menu.ID.String())

	result, err := h.ctrl.DispatchMenu(ctx, backend.ActionRemove)
	require.NoError(t, err)
	assert.True(t, domain.IsNotFound(awaitResult(t, result)))
	assert.Equal(t, 0, fake.CallCount("remove"))

	snap = h.ctrl.Snapshot()
	assert.Nil(t, snap.Session.Menu)
	assert.Equal(t, []string{"1"}, ids(snap.Session.Torrents))
	assert.Equal(t, []string{"remove:not_found"}, h.observer.Outcomes())
}

func TestController_DispatchBackendFailure(t *testing.T) {
	fake := backendtest.New(torrents("1", "2"), nil)
	fake.DoHook = func(ctx context.Context, action backend.Action, id backend.TorrentID) (*backend.ActionAck, error) {
		if id == "1" {
			return nil, &domain.NetworkError{Op: string(action), Status: 500, Err: errors.New("engine busy")}
		}
		return &backend.ActionAck{Status: "ok"}, nil
	}
	h := newHarness(t, fake, "")
	h.waitForGeneration(t, 1)
	ctx := context.Background()

	first, err := h.ctrl.Dispatch(ctx, backend.ActionResume, "1")
	require.NoError(t, err)
	second, err := h.ctrl.Dispatch(ctx, backend.ActionResume, "2")
	require.NoError(t, err)

	assert.True(t, domain.IsNetwork(awaitResult(t, first)))
	assert.NoError(t, awaitResult(t, second))

	snap := h.ctrl.Snapshot()
	assert.Equal(t, []string{"1", "2"}, ids(snap.Session.Torrents), "failed actions leave the collection alone")
	assert.ElementsMatch(t, []string{"resume:failed", "resume:ok"}, h.observer.Outcomes())
}

func TestController_DispatchMenuWithoutMenu(t *testing.T) {
	h := newHarness(t, backendtest.New(torrents("1"), nil), "")
	h.waitForGeneration(t, 1)

	_, err := h.ctrl.DispatchMenu(context.Background(), backend.ActionPause)
	assert.ErrorIs(t, err, ErrNoMenu)
}

func TestController_OpenMenuUnknownTorrent(t *testing.T) {
	h := newHarness(t, backendtest.New(torrents("1"), nil), "")
	h.waitForGeneration(t, 1)

	_, err := h.ctrl.OpenMenu(context.Background(), "9")
	assert.True(t, domain.IsNotFound(err))
}

func TestController_OpenDownloadFolder(t *testing.T) {
	h := newHarness(t, backendtest.New(torrents("1"), nil), "")
	h.waitForGeneration(t, 1)
	ctx := context.Background()

	require.NoError(t, h.ctrl.OpenDownloadFolder(ctx, "1"))
	assert.Equal(t, []string{"/data/1"}, h.host.Opened())

	assert.True(t, domain.IsNotFound(h.ctrl.OpenDownloadFolder(ctx, "7")))
}

func TestController_AddFlow(t *testing.T) {
	fake := backendtest.New(torrents("1"), testMetadata())
	h := newHarness(t, fake, "/downloads")
	h.waitForGeneration(t, 1)
	ctx := context.Background()

	parsed, err := h.ctrl.BeginAdd(ctx, backend.TorrentFile{Name: "show.torrent", Data: []byte("d4:infod")})
	require.NoError(t, err)
	require.NoError(t, awaitResult(t, parsed))

	snap := h.ctrl.Snapshot()
	assert.Equal(t, dispatch.PhaseReady, snap.Add.Phase)
	assert.Equal(t, "/downloads", snap.Add.DownloadPath)
	assert.Equal(t, uint64(1<<30), snap.FreeSpace)
	assert.Equal(t, 3, snap.Add.TotalFiles)

	require.NoError(t, h.ctrl.ToggleAddPath(ctx, "notes.txt", false))
	assert.Equal(t, int64(20), h.ctrl.Snapshot().Add.SelectedSize)

	fake.SetTorrents(torrents("1", "2"))
	uploaded, err := h.ctrl.ConfirmAdd(ctx)
	require.NoError(t, err)
	require.NoError(t, awaitResult(t, uploaded))

	snap = h.ctrl.Snapshot()
	assert.Equal(t, dispatch.PhaseDone, snap.Add.Phase)
	assert.Empty(t, snap.Add.Nodes)

	var upload *backend.UploadRequest
	for _, c := range fake.Calls() {
		if c.Op == "upload" {
			upload = c.Upload
		}
	}
	require.NotNil(t, upload)
	assert.Equal(t, "/downloads", upload.DownloadPath)
	assert.Equal(t, []string{"Season 1/e01.mkv", "Season 1/e02.mkv"}, upload.Selection)

	// a successful add triggers a refresh
	snap = h.waitForGeneration(t, 2)
	assert.Equal(t, []string{"1", "2"}, ids(snap.Session.Torrents))

	require.NoError(t, h.ctrl.CancelAdd(ctx))
	assert.Equal(t, dispatch.PhaseIdle, h.ctrl.Snapshot().Add.Phase)
}

func TestController_SetDefaultDownloadDir(t *testing.T) {
	fake := backendtest.New(nil, testMetadata())
	h := newHarness(t, fake, "/downloads")
	h.waitForGeneration(t, 1)
	ctx := context.Background()

	parsed, err := h.ctrl.BeginAdd(ctx, backend.TorrentFile{Name: "a.torrent", Data: []byte("d4:infod")})
	require.NoError(t, err)
	require.NoError(t, awaitResult(t, parsed))

	require.NoError(t, h.ctrl.SetDefaultDownloadDir(ctx, "/srv/media"))
	assert.Equal(t, "/downloads", h.ctrl.Snapshot().Add.DownloadPath, "open flow keeps its path")

	require.NoError(t, h.ctrl.CancelAdd(ctx))
	parsed, err = h.ctrl.BeginAdd(ctx, backend.TorrentFile{Name: "b.torrent", Data: []byte("d4:infoe")})
	require.NoError(t, err)
	require.NoError(t, awaitResult(t, parsed))
	assert.Equal(t, "/srv/media", h.ctrl.Snapshot().Add.DownloadPath)

	require.NoError(t, h.ctrl.SetDefaultDownloadDir(ctx, ""))
	require.NoError(t, h.ctrl.CancelAdd(ctx))
	parsed, err = h.ctrl.BeginAdd(ctx, backend.TorrentFile{Name: "c.torrent", Data: []byte("d4:infof")})
	require.NoError(t, err)
	require.NoError(t, awaitResult(t, parsed))
	assert.Equal(t, "/home/user/Downloads", h.ctrl.Snapshot().Add.DownloadPath)
}

func TestController_AddFlowRejectsEmptySelection(t *testing.T) {
	fake := backendtest.New(nil, testMetadata())
	h := newHarness(t, fake, "/downloads")
	h.waitForGeneration(t, 1)
	ctx := context.Background()

	parsed, err := h.ctrl.BeginAdd(ctx, backend.TorrentFile{Name: "show.torrent", Data: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, awaitResult(t, parsed))

	for _, path := range []string{"Season 1", "notes.txt"} {
		require.NoError(t, h.ctrl.ToggleAddPath(ctx, path, false))
	}

	_, err = h.ctrl.ConfirmAdd(ctx)
	assert.True(t, domain.IsValidation(err))

	require.NoError(t, h.ctrl.ToggleAddPath(ctx, "notes.txt", true))
	require.NoError(t, h.ctrl.SetAddDownloadPath(ctx, "  "))
	_, err = h.ctrl.ConfirmAdd(ctx)
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, 0, fake.CallCount("upload"))
}

func TestController_CancelledAddDiscardsParse(t *testing.T) {
	fake := backendtest.New(nil, nil)
	release := make(chan struct{})
	fake.ParseHook = func(ctx context.Context, file backend.TorrentFile) (*backend.Metadata, error) {
		<-release
		return testMetadata(), nil
	}
	h := newHarness(t, fake, "/downloads")
	h.waitForGeneration(t, 1)
	ctx := context.Background()

	parsed, err := h.ctrl.BeginAdd(ctx, backend.TorrentFile{Name: "slow.torrent", Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, dispatch.PhaseParsing, h.ctrl.Snapshot().Add.Phase)

	require.NoError(t, h.ctrl.CancelAdd(ctx))
	close(release)

	assert.True(t, domain.IsStale(awaitResult(t, parsed)))
	snap := h.ctrl.Snapshot()
	assert.Equal(t, dispatch.PhaseIdle, snap.Add.Phase)
	assert.Empty(t, snap.Add.Nodes)
}

func TestController_PickAndAdd(t *testing.T) {
	fake := backendtest.New(nil, testMetadata())
	h := newHarness(t, fake, "")
	h.waitForGeneration(t, 1)
	ctx := context.Background()

	// cancelled picker
	result, err := h.ctrl.PickAndAdd(ctx)
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 0, fake.CallCount("parse"))

	h.host.file = "/tmp/show.torrent"
	h.host.files["/tmp/show.torrent"] = []byte("d4:info")
	result, err = h.ctrl.PickAndAdd(ctx)
	require.NoError(t, err)
	require.NoError(t, awaitResult(t, result))

	snap := h.ctrl.Snapshot()
	assert.Equal(t, "show.torrent", snap.Add.FileName)
	assert.Equal(t, "/home/user/Downloads", snap.Add.DownloadPath)

	h.host.dir = "/mnt/media"
	dir, err := h.ctrl.PickAddDownloadPath(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/media", dir)
	assert.Equal(t, "/mnt/media", h.ctrl.Snapshot().Add.DownloadPath)
}

func TestController_BeginAddFromUnreadablePath(t *testing.T) {
	h := newHarness(t, backendtest.New(nil, testMetadata()), "")
	h.waitForGeneration(t, 1)

	_, err := h.ctrl.BeginAddFromPath(context.Background(), "/missing.torrent")
	assert.True(t, domain.IsValidation(err))
}

func TestController_Subscribe(t *testing.T) {
	fake := backendtest.New(torrents("1"), nil)
	h := newHarness(t, fake, "")
	h.waitForGeneration(t, 1)

	updates, unsubscribe := h.ctrl.Subscribe()
	defer unsubscribe()

	first := <-updates
	assert.Equal(t, uint64(1), first.Session.Generation)

	require.NoError(t, h.ctrl.SetFilter(context.Background(), "paused"))
	select {
	case snap := <-updates:
		assert.Equal(t, "paused", snap.Session.Filter)
	case <-time.After(waitTimeout):
		t.Fatal("no snapshot published")
	}
}

func TestController_Lifecycle(t *testing.T) {
	h := newHarness(t, backendtest.New(nil, nil), "")
	h.waitForGeneration(t, 1)

	assert.ErrorIs(t, h.ctrl.Run(context.Background()), ErrAlreadyRunning)

	updates, _ := h.ctrl.Subscribe()
	h.stop()

	assert.ErrorIs(t, h.ctrl.Refresh(context.Background()), ErrStopped)
	for range updates {
		// drains until the broadcaster closes the channel
	}
}
