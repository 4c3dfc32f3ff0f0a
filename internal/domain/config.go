// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config represents the application configuration
type Config struct {
	Host            string        `toml:"host" mapstructure:"host"`
	Port            int           `toml:"port" mapstructure:"port"`
	BaseURL         string        `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel        string        `toml:"logLevel" mapstructure:"logLevel"`
	LogPath         string        `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize      int           `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups   int           `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir         string        `toml:"dataDir" mapstructure:"dataDir"`
	MetricsEnabled  bool          `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	RefreshInterval int           `toml:"refreshInterval" mapstructure:"refreshInterval"` // milliseconds
	RequestTimeout  int           `toml:"requestTimeout" mapstructure:"requestTimeout"`   // seconds
	Backend         BackendConfig `toml:"backend" mapstructure:"backend"`
	Desktop         DesktopConfig `toml:"desktop" mapstructure:"desktop"`
	HTTPTimeouts    HTTPTimeouts  `toml:"httpTimeouts" mapstructure:"httpTimeouts"`
	Version         string        `toml:"-" mapstructure:"-"`
}

// BackendKind selects the torrent backend implementation
type BackendKind string

const (
	BackendHTTP        BackendKind = "http"
	BackendQBittorrent BackendKind = "qbittorrent"
)

// BackendConfig describes how to reach the torrent backend
type BackendConfig struct {
	Kind          BackendKind `toml:"kind" mapstructure:"kind"`
	URL           string      `toml:"url" mapstructure:"url"`
	Username      string      `toml:"username" mapstructure:"username"`
	Password      string      `toml:"password" mapstructure:"password"`
	BasicUser     string      `toml:"basicUser" mapstructure:"basicUser"`
	BasicPass     string      `toml:"basicPass" mapstructure:"basicPass"`
	StatusRetries int         `toml:"statusRetries" mapstructure:"statusRetries"`
}

// DesktopConfig configures the host environment integration (pickers, file manager)
type DesktopConfig struct {
	OpenCommand            string `toml:"openCommand" mapstructure:"openCommand"`
	FilePickerCommand      string `toml:"filePickerCommand" mapstructure:"filePickerCommand"`
	DirectoryPickerCommand string `toml:"directoryPickerCommand" mapstructure:"directoryPickerCommand"`
	DownloadDir            string `toml:"downloadDir" mapstructure:"downloadDir"`
}

// HTTPTimeouts represents HTTP server timeout configuration
type HTTPTimeouts struct {
	ReadTimeout  int `toml:"readTimeout" mapstructure:"readTimeout"`   // seconds
	WriteTimeout int `toml:"writeTimeout" mapstructure:"writeTimeout"` // seconds
	IdleTimeout  int `toml:"idleTimeout" mapstructure:"idleTimeout"`   // seconds
}
