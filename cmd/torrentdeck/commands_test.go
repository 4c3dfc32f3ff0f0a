// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/torrentdeck/internal/models"
)

const fakeStatus = `{"torrents":[
	{"id": 0, "name": "debian.iso", "size": "650.0 MB", "progress": 42.5, "status": "downloading",
	 "speed": "1.23 Mbps", "transmitting_peers": 2, "transmitting_seeds": 1, "peers": 10, "seeds": 4,
	 "eta": "00h 01m 02s", "infoHash": "abc", "downloadPath": "/downloads", "isMultiFile": false,
	 "reannounceIn": null, "details": {"general": {}, "trackers": [], "peers": []}},
	{"id": 1, "name": "arch.iso", "size": "1.1 GB", "progress": 100, "status": "seeding",
	 "speed": "", "transmitting_peers": 0, "transmitting_seeds": 0, "peers": 3, "seeds": 0,
	 "eta": "", "infoHash": "def", "downloadPath": "/downloads", "isMultiFile": false,
	 "reannounceIn": 12, "details": {"general": {}, "trackers": [], "peers": []}}
]}`

const fakeMetadata = `{
	"name": "Show",
	"piece_length": 262144,
	"total_size": 600,
	"files": [
		{"path": "Season 1/e01.mkv", "length": 100},
		{"path": "Season 1/e02.mkv", "length": 200},
		{"path": "extras/a.txt", "length": 300}
	],
	"comment": null,
	"created_by": null,
	"creation_date": null,
	"info_hash": "feed"
}`

// fakeEngine speaks the native backend contract
type fakeEngine struct {
	mu        sync.Mutex
	calls     map[string]int
	selection []string
	savePath  string
}

func (f *fakeEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[r.URL.Path]++

	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/status":
		_, _ = io.WriteString(w, fakeStatus)
	case "/parse":
		_, _ = io.WriteString(w, fakeMetadata)
	case "/upload":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.savePath = r.FormValue("downloadPath")
		if sel := r.FormValue("selectedFiles"); sel != "" {
			_ = json.Unmarshal([]byte(sel), &f.selection)
		}
		_, _ = io.WriteString(w, `{"status":"started","torrent":"show.torrent"}`)
	case "/pause", "/resume", "/remove", "/reannounce":
		var body struct {
			ID int `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.ID > 1 {
			_, _ = io.WriteString(w, `{"status":"error","detail":"Torrent not found"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeEngine) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

type cliEnv struct {
	engine    *fakeEngine
	configDir string
	url       string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	engine := &fakeEngine{}
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	return &cliEnv{engine: engine, configDir: t.TempDir(), url: srv.URL}
}

// run executes the root command with the env's config and backend
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand("test")
	var output bytes.Buffer
	root.SetOut(&output)
	root.SetErr(&output)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(append([]string{"--config-dir", e.configDir, "--backend-url", e.url}, args...))

	err := root.Execute()
	return output.String(), err
}

func TestStatusCommand(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantNames []string
		wantErr   string
	}{
		{name: "all", args: nil, wantNames: []string{"debian.iso", "arch.iso"}},
		{name: "filter", args: []string{"--filter", "Seeding"}, wantNames: []string{"arch.iso"}},
		{name: "search", args: []string{"--search", "deb"}, wantNames: []string{"debian.iso"}},
		{name: "where", args: []string{"--where", "progress >= 100"}, wantNames: []string{"arch.iso"}},
		{name: "sort", args: []string{"--sort", "name"}, wantNames: []string{"arch.iso", "debian.iso"}},
		{name: "sort desc", args: []string{"--sort", "progress", "--order", "desc"}, wantNames: []string{"arch.iso", "debian.iso"}},
		{name: "bad query", args: []string{"--where", "progress >"}, wantErr: "query"},
		{name: "bad order", args: []string{"--order", "up"}, wantErr: "order must be asc or desc"},
		{name: "bad output", args: []string{"--output", "xml"}, wantErr: "unknown output format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newCLIEnv(t)

			out, err := env.run(t, append([]string{"status", "-o", "json"}, tt.args...)...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, strings.ToLower(err.Error()), tt.wantErr)
				return
			}
			require.NoError(t, err)

			var rows []statusRow
			require.NoError(t, json.Unmarshal([]byte(out[strings.Index(out, "["):]), &rows))

			names := make([]string, 0, len(rows))
			for _, r := range rows {
				names = append(names, r.Name)
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}
}

func TestStatusCommand_Table(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "status")
	require.NoError(t, err)

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "debian.iso")
	assert.Contains(t, out, "42.5%")
	assert.Contains(t, out, "2 of 2 torrents (All)")

	out, err = env.run(t, "status", "-o", "yaml", "--filter", "Downloading")
	require.NoError(t, err)
	assert.Contains(t, out, "name: debian.iso")
	assert.NotContains(t, out, "arch.iso")
}

func writeTorrent(t *testing.T, dir string) string {
	t.Helper()

	infoBytes, err := bencode.Marshal(metainfo.Info{
		Name:        "Show",
		PieceLength: 262144,
		Files: []metainfo.FileInfo{
			{Path: []string{"Season 1", "e01.mkv"}, Length: 700},
			{Path: []string{"Season 1", "e02.mkv"}, Length: 300},
		},
	})
	require.NoError(t, err)

	mi := metainfo.MetaInfo{InfoBytes: infoBytes, Comment: "weekly release"}

	var buf bytes.Buffer
	require.NoError(t, mi.Write(&buf))

	path := filepath.Join(dir, "show.torrent")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func TestInspectCommand(t *testing.T) {
	env := newCLIEnv(t)
	path := writeTorrent(t, t.TempDir())

	out, err := env.run(t, "inspect", path)
	require.NoError(t, err)

	assert.Contains(t, out, "Show")
	assert.Contains(t, out, "weekly release")
	assert.Contains(t, out, "[x] Season 1/")
	assert.Contains(t, out, "  [x] e01.mkv")
	assert.Zero(t, env.engine.count("/parse"), "inspect must not contact the engine")

	out, err = env.run(t, "inspect", "-o", "json", path)
	require.NoError(t, err)

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(out[strings.Index(out, "{"):]), &meta))
	assert.Equal(t, "Show", meta["name"])
	assert.Len(t, meta["info_hash"], 40)

	_, err = env.run(t, "inspect", filepath.Join(t.TempDir(), "missing.torrent"))
	assert.Error(t, err)
}

func TestAddCommand(t *testing.T) {
	env := newCLIEnv(t)
	path := filepath.Join(t.TempDir(), "show.torrent")
	require.NoError(t, os.WriteFile(path, []byte("d4:infode"), 0644))

	out, err := env.run(t, "add", path, "--path", "/srv/media", "--skip", "extras", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Show -> /srv/media")
	assert.Contains(t, out, "Selected 2/3 files")
	assert.Contains(t, out, "[ ] extras/")
	assert.Zero(t, env.engine.count("/upload"))

	out, err = env.run(t, "add", path, "--path", "/srv/media", "--skip", "Season 1/e02.mkv")
	require.NoError(t, err)
	assert.Contains(t, out, "Added Show to /srv/media (2/3 files")

	env.engine.mu.Lock()
	assert.Equal(t, "/srv/media", env.engine.savePath)
	assert.Equal(t, []string{"Season 1/e01.mkv", "extras/a.txt"}, env.engine.selection)
	env.engine.mu.Unlock()

	_, err = env.run(t, "add", path, "--skip", "nope/missing.mkv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not part of this torrent")
}

func TestActionCommandsAndHistory(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "pause", "0", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "pause 0: ok")
	assert.Contains(t, out, "pause 1: ok")
	assert.Equal(t, 2, env.engine.count("/pause"))

	out, err = env.run(t, "reannounce", "7")
	require.Error(t, err)
	assert.Contains(t, out, "reannounce 7: torrent no longer exists")

	_, err = env.run(t, "remove", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
	assert.Zero(t, env.engine.count("/remove"))

	out, err = env.run(t, "remove", "--yes", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "remove 1: ok")

	out, err = env.run(t, "history", "-o", "json")
	require.NoError(t, err)

	var entries []models.Activity
	require.NoError(t, json.Unmarshal([]byte(out[strings.Index(out, "["):]), &entries))
	require.Len(t, entries, 4)

	outcomes := map[string]int{}
	for _, e := range entries {
		outcomes[e.Action+":"+e.Outcome]++
	}
	assert.Equal(t, map[string]int{
		"pause:ok":             2,
		"reannounce:not_found": 1,
		"remove:ok":            1,
	}, outcomes)

	out, err = env.run(t, "history", "--action", "pause")
	require.NoError(t, err)
	assert.Contains(t, out, "ACTION")
	assert.Equal(t, 2, strings.Count(out, "pause"))

	out, err = env.run(t, "history", "--prune", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 0 entries")

	_, err = env.run(t, "history", "--limit", "0")
	assert.Error(t, err)
}
