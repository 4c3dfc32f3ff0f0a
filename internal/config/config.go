// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/torrentdeck/internal/domain"
)

var envPrefix = "TORRENTDECK__"

const (
	appName          = "torrentdeck"
	databaseFileName = "torrentdeck.db"

	minRefreshInterval = 100 // milliseconds
)

type AppConfig struct {
	// Config may be read directly for settings that need a restart. Settings
	// the watcher reloads go through Current and Update.
	Config  *domain.Config
	mu      sync.RWMutex
	viper   *viper.Viper
	dataDir string
	version string

	logMu    sync.Mutex
	logQuiet bool

	listenersMu  sync.RWMutex
	listeners    []reloadListener
	nextListener int
}

type reloadListener struct {
	id int
	fn func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version

	if err := Validate(c.Config); err != nil {
		return nil, err
	}

	c.resolveDataDir()
	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	host := "localhost"
	if detectContainer() {
		host = "0.0.0.0"
	}

	c.viper.SetDefault("host", host)
	c.viper.SetDefault("port", 7480)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("refreshInterval", 1000)
	c.viper.SetDefault("requestTimeout", 10)

	c.viper.SetDefault("backend.kind", string(domain.BackendHTTP))
	c.viper.SetDefault("backend.url", "http://localhost:8000")
	c.viper.SetDefault("backend.username", "")
	c.viper.SetDefault("backend.password", "")
	c.viper.SetDefault("backend.basicUser", "")
	c.viper.SetDefault("backend.basicPass", "")
	c.viper.SetDefault("backend.statusRetries", 2)

	c.viper.SetDefault("desktop.openCommand", "")
	c.viper.SetDefault("desktop.filePickerCommand", "")
	c.viper.SetDefault("desktop.directoryPickerCommand", "")
	c.viper.SetDefault("desktop.downloadDir", "")

	c.viper.SetDefault("httpTimeouts.readTimeout", 60)
	c.viper.SetDefault("httpTimeouts.writeTimeout", 120)
	c.viper.SetDefault("httpTimeouts.idleTimeout", 180)
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			if !isNotFound(err) {
				return fmt.Errorf("failed to read config: %w", err)
			}
			if err := c.writeDefaultConfig(configPath); err != nil {
				return err
			}
			if err := c.viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read newly created config: %w", err)
			}
		}
		return nil
	}

	c.viper.SetConfigName("config")
	c.viper.AddConfigPath(".")
	c.viper.AddConfigPath(GetDefaultConfigDir())

	if err := c.viper.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
		if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
			return err
		}
		c.viper.SetConfigFile(defaultConfigPath)
		if err := c.viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read newly created config: %w", err)
		}
	}

	return nil
}

// viper reports a missing explicit config file as a plain fs error
func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}

func (c *AppConfig) loadFromEnv() {
	// explicit bindings only; AutomaticEnv would pick up unrelated variables
	c.viper.BindEnv("host", envPrefix+"HOST")
	c.viper.BindEnv("port", envPrefix+"PORT")
	c.viper.BindEnv("baseUrl", envPrefix+"BASE_URL")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")
	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")
	c.viper.BindEnv("refreshInterval", envPrefix+"REFRESH_INTERVAL")
	c.viper.BindEnv("requestTimeout", envPrefix+"REQUEST_TIMEOUT")

	c.viper.BindEnv("backend.kind", envPrefix+"BACKEND__KIND")
	c.viper.BindEnv("backend.url", envPrefix+"BACKEND__URL")
	c.viper.BindEnv("backend.username", envPrefix+"BACKEND__USERNAME")
	c.bindOrReadFromFile("backend.password", envPrefix+"BACKEND__PASSWORD")
	c.viper.BindEnv("backend.basicUser", envPrefix+"BACKEND__BASIC_USER")
	c.bindOrReadFromFile("backend.basicPass", envPrefix+"BACKEND__BASIC_PASS")
	c.viper.BindEnv("backend.statusRetries", envPrefix+"BACKEND__STATUS_RETRIES")

	c.viper.BindEnv("desktop.openCommand", envPrefix+"DESKTOP__OPEN_COMMAND")
	c.viper.BindEnv("desktop.filePickerCommand", envPrefix+"DESKTOP__FILE_PICKER_COMMAND")
	c.viper.BindEnv("desktop.directoryPickerCommand", envPrefix+"DESKTOP__DIRECTORY_PICKER_COMMAND")
	c.viper.BindEnv("desktop.downloadDir", envPrefix+"DESKTOP__DOWNLOAD_DIR")
}

// bindOrReadFromFile reads a secret from the file named by envVar_FILE when
// that is set, and binds envVar otherwise
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) {
	if filePath := os.Getenv(envVar + "_FILE"); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Error().Err(err).Str("path", filePath).Msgf("Could not read %s_FILE", envVar)
			c.viper.BindEnv(viperVar, envVar)
			return
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
		return
	}
	c.viper.BindEnv(viperVar, envVar)
}

// Validate rejects configurations the application cannot start with
func Validate(cfg *domain.Config) error {
	switch cfg.Backend.Kind {
	case domain.BackendHTTP, domain.BackendQBittorrent:
	default:
		return fmt.Errorf("invalid config: backend.kind %q must be %q or %q", cfg.Backend.Kind, domain.BackendHTTP, domain.BackendQBittorrent)
	}

	u, err := url.Parse(cfg.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid config: backend.url %q is not an absolute URL", cfg.Backend.URL)
	}

	if cfg.RefreshInterval < minRefreshInterval {
		return fmt.Errorf("invalid config: refreshInterval must be at least %dms", minRefreshInterval)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("invalid config: requestTimeout must be positive")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid config: port %d out of range", cfg.Port)
	}
	if cfg.Backend.StatusRetries < 0 {
		return fmt.Errorf("invalid config: backend.statusRetries must not be negative")
	}

	return nil
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		next := &domain.Config{}
		if err := c.viper.Unmarshal(next); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}
		if err := Validate(next); err != nil {
			log.Error().Err(err).Msg("Ignoring invalid configuration change")
			return
		}

		c.applyDynamicChanges(next)
	})
}

// applyDynamicChanges takes over settings that are safe to change while
// running. Backend and listener settings need a restart.
func (c *AppConfig) applyDynamicChanges(next *domain.Config) {
	c.Update(func(cfg *domain.Config) {
		cfg.LogLevel = next.LogLevel
		cfg.LogPath = next.LogPath
		cfg.LogMaxSize = next.LogMaxSize
		cfg.LogMaxBackups = next.LogMaxBackups
		cfg.Desktop = next.Desktop
	})

	c.logMu.Lock()
	quiet := c.logQuiet
	c.logMu.Unlock()
	if quiet {
		c.ApplyQuietLogConfig()
	} else {
		c.ApplyLogConfig()
	}

	c.notifyListeners()
}

// Current returns a copy of the configuration
func (c *AppConfig) Current() domain.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.Config
}

// Update changes the configuration in place under the config lock
func (c *AppConfig) Update(fn func(cfg *domain.Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.Config)
}

// RegisterReloadListener registers a callback invoked on the watcher goroutine
// after the config file is reloaded. The returned func removes it.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) func() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.nextListener++
	id := c.nextListener
	c.listeners = append(c.listeners, reloadListener{id: id, fn: fn})

	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		c.listeners = slices.DeleteFunc(c.listeners, func(l reloadListener) bool { return l.id == id })
	}
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := slices.Clone(c.listeners)
	c.listenersMu.RUnlock()

	for _, listener := range listeners {
		copied := c.Current()
		listener.fn(&copied)
	}
}

const configTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP for the local API (torrentdeck serve)
# Default: "localhost" (or "0.0.0.0" in containers)
host = "{{ .host }}"

# Port
# Default: 7480
port = {{ .port }}

# Base URL
# Set custom baseUrl eg /torrentdeck/ to serve in subdirectory.
# Optional
#baseUrl = "/torrentdeck/"

# Log file path
# If not defined, logs to stderr (the terminal UI discards them)
# Optional
#logPath = "log/torrentdeck.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: {{ .logMaxSize }}
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
# Default: {{ .logMaxBackups }}
#logMaxBackups = {{ .logMaxBackups }}

# Data directory (default: next to config file)
# The activity history (torrentdeck.db) is created inside this directory
#dataDir = "/var/db/torrentdeck"

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Expose Prometheus metrics on /metrics of the local API
# Default: false
#metricsEnabled = false

# How often the torrent list is refreshed, in milliseconds
# Default: {{ .refreshInterval }}
refreshInterval = {{ .refreshInterval }}

# Timeout for a single backend request, in seconds
# Default: {{ .requestTimeout }}
#requestTimeout = {{ .requestTimeout }}

[backend]
# "http" for the native torrent service, "qbittorrent" for a qBittorrent WebUI
kind = "{{ .backendKind }}"
url = "{{ .backendUrl }}"

# qBittorrent credentials
#username = "admin"
#password = ""

# HTTP basic auth in front of qBittorrent
#basicUser = ""
#basicPass = ""

# Extra attempts for a failed status fetch within one refresh
#statusRetries = {{ .statusRetries }}

[desktop]
# Command that reveals a folder; the path is appended
# Default: xdg-open (Linux), open (macOS), explorer (Windows)
#openCommand = "xdg-open"

# Commands printing the chosen path on stdout. {ext} is replaced by the
# wanted file extension.
#filePickerCommand = "zenity --file-selection --file-filter=*{ext}"
#directoryPickerCommand = "zenity --file-selection --directory"

# Initial download location for new torrents (default: ~/Downloads)
#downloadDir = ""

[httpTimeouts]
# Seconds
#readTimeout = 60
#writeTimeout = 120
#idleTimeout = 180
`

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	data := map[string]any{
		"host":            c.viper.GetString("host"),
		"port":            c.viper.GetInt("port"),
		"logLevel":        c.viper.GetString("logLevel"),
		"logMaxSize":      c.viper.GetInt("logMaxSize"),
		"logMaxBackups":   c.viper.GetInt("logMaxBackups"),
		"refreshInterval": c.viper.GetInt("refreshInterval"),
		"requestTimeout":  c.viper.GetInt("requestTimeout"),
		"backendKind":     c.viper.GetString("backend.kind"),
		"backendUrl":      c.viper.GetString("backend.url"),
		"statusRetries":   c.viper.GetInt("backend.statusRetries"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// WriteDefaultConfig writes a commented default config to path unless a file exists there
func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}
	c.defaults()
	return c.writeDefaultConfig(path)
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		// containers mount the config volume at /config
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, appName)
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", appName)
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", appName)
	}
}

func detectContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/dev/.lxc-boot-id"); err == nil {
		return true
	}
	return os.Getpid() == 1
}

// ApplyLogConfig sets the level and writes logs to stderr plus the optional log file
func (c *AppConfig) ApplyLogConfig() {
	c.logMu.Lock()
	c.logQuiet = false
	c.logMu.Unlock()
	c.applyLogConfig(baseLogWriter(c.version))
}

// ApplyQuietLogConfig keeps stderr clean for the terminal UI; logs only go
// to the log file, if one is configured
func (c *AppConfig) ApplyQuietLogConfig() {
	c.logMu.Lock()
	c.logQuiet = true
	c.logMu.Unlock()
	c.applyLogConfig(io.Discard)
}

func (c *AppConfig) applyLogConfig(writer io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339

	cfg := c.Current()
	setLogLevel(cfg.LogLevel)

	if cfg.LogPath != "" {
		multiWriter, err := setupLogFile(cfg.LogPath, writer, cfg.LogMaxSize, cfg.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}
	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	if base == io.Discard {
		return rotator, nil
	}
	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		return writer
	}
	return os.Stderr
}

// InitDefaultLogger configures zerolog before a config file is loaded
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(baseLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath accepts either a config file or the directory holding config.toml
func resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}
}

// GetDatabasePath returns the path of the activity history database
func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.dataDir, databaseFileName)
}

func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir overrides the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// GetConfigPath returns the config file in use
func (c *AppConfig) GetConfigPath() string {
	return c.viper.ConfigFileUsed()
}

// RefreshInterval is the configured refresh period
func (c *AppConfig) RefreshInterval() time.Duration {
	return time.Duration(c.Config.RefreshInterval) * time.Millisecond
}

// RequestTimeout bounds a single backend request
func (c *AppConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Config.RequestTimeout) * time.Second
}

// ListenAddr is the local API listen address
func (c *AppConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Config.Host, c.Config.Port)
}
