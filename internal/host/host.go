// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package host integrates with the desktop environment: file pickers, reading
// local files and revealing download folders. Every operation degrades to an
// empty result instead of an error.
package host

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	shellquote "github.com/Hellseher/go-shellquote"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/autobrr/torrentdeck/internal/domain"
)

// maxTorrentFileSize bounds ReadFile; real .torrent files are far smaller
const maxTorrentFileSize = 16 << 20

const pickerTimeout = 5 * time.Minute

// Host is the desktop environment as seen by the controller
type Host interface {
	// ChooseFile asks the user for a file with the given extension. Cancel
	// or failure returns "".
	ChooseFile(ctx context.Context, ext string) string
	// ChooseDirectory asks the user for a directory. Cancel or failure returns "".
	ChooseDirectory(ctx context.Context) string
	// ReadFile returns the file contents, or false if it cannot be read
	ReadFile(path string) ([]byte, bool)
	// OpenInFileManager reveals path in the platform file manager
	OpenInFileManager(path string) bool
	// DefaultDownloadsDir is the initial download path for new torrents
	DefaultDownloadsDir() string
	// FreeSpace reports available bytes on the volume holding path
	FreeSpace(path string) (uint64, bool)
}

type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// System is the Host backed by the local machine
type System struct {
	mu     sync.RWMutex
	cfg    domain.DesktopConfig
	run    runner
	start  func(name string, args ...string) error
	goos   string
	homeFn func() (string, error)
}

// NewSystem creates a host using the configured commands
func NewSystem(cfg domain.DesktopConfig) *System {
	return &System{
		cfg: cfg,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
		start: func(name string, args ...string) error {
			cmd := exec.Command(name, args...)
			if err := cmd.Start(); err != nil {
				return err
			}
			go func() { _ = cmd.Wait() }()
			return nil
		},
		goos:   runtime.GOOS,
		homeFn: os.UserHomeDir,
	}
}

// SetConfig replaces the desktop commands and download directory. Calls
// already running keep the commands they started with.
func (s *System) SetConfig(cfg domain.DesktopConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Config returns the active desktop settings
func (s *System) Config() domain.DesktopConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *System) ChooseFile(ctx context.Context, ext string) string {
	command := strings.ReplaceAll(s.Config().FilePickerCommand, "{ext}", strings.TrimPrefix(ext, "."))
	path := s.pick(ctx, command)
	if path != "" && ext != "" && !strings.EqualFold(filepath.Ext(path), ext) {
		log.Debug().Str("path", path).Str("ext", ext).Msg("Picked file has unexpected extension")
	}
	return path
}

func (s *System) ChooseDirectory(ctx context.Context) string {
	return s.pick(ctx, s.Config().DirectoryPickerCommand)
}

func (s *System) pick(ctx context.Context, command string) string {
	if strings.TrimSpace(command) == "" {
		return ""
	}

	args, err := shellquote.Split(command)
	if err != nil || len(args) == 0 {
		log.Warn().Err(err).Str("command", command).Msg("Invalid picker command")
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, pickerTimeout)
	defer cancel()

	out, err := s.run(ctx, args[0], args[1:]...)
	if err != nil {
		// pickers exit non-zero on cancel
		log.Debug().Err(err).Str("command", args[0]).Msg("Picker returned no selection")
		return ""
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}

func (s *System) ReadFile(path string) ([]byte, bool) {
	if path == "" {
		return nil, false
	}

	f, err := os.Open(path)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("Failed to open file")
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxTorrentFileSize+1))
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("Failed to read file")
		return nil, false
	}
	if len(data) > maxTorrentFileSize {
		log.Warn().Str("path", path).Msg("File too large to be a torrent")
		return nil, false
	}
	return data, true
}

func (s *System) OpenInFileManager(path string) bool {
	if path == "" {
		return false
	}

	command := s.Config().OpenCommand
	if command == "" {
		command = defaultOpenCommand(s.goos)
	}

	args, err := shellquote.Split(command)
	if err != nil || len(args) == 0 {
		log.Warn().Err(err).Str("command", command).Msg("Invalid open command")
		return false
	}
	args = append(args, path)

	if err := s.start(args[0], args[1:]...); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to open file manager")
		return false
	}

	log.Debug().Str("path", path).Str("command", args[0]).Msg("Opened in file manager")
	return true
}

func defaultOpenCommand(goos string) string {
	switch goos {
	case "darwin":
		return "open"
	case "windows":
		return "explorer"
	default:
		return "xdg-open"
	}
}

func (s *System) DefaultDownloadsDir() string {
	if dir := s.Config().DownloadDir; dir != "" {
		return dir
	}

	home, err := s.homeFn()
	if err != nil || home == "" {
		return "."
	}

	downloads := filepath.Join(home, "Downloads")
	if info, err := os.Stat(downloads); err == nil && info.IsDir() {
		return downloads
	}
	return home
}

func (s *System) FreeSpace(path string) (uint64, bool) {
	// walk up to the nearest existing directory; the download dir may not exist yet
	for dir := filepath.Clean(path); ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(dir); err == nil {
			usage, err := disk.Usage(dir)
			if err != nil {
				log.Debug().Err(err).Str("path", dir).Msg("Failed to read disk usage")
				return 0, false
			}
			return usage.Free, true
		}
		if parent := filepath.Dir(dir); parent == dir {
			return 0, false
		}
	}
}

var _ Host = (*System)(nil)
