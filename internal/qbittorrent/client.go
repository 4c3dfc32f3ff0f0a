// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/avast/retry-go"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	// WebAPI 2.0 is qBittorrent 4.1, the first release with the v2 API
	minWebAPIVersion = semver.MustParse("2.0.0")
	// WebAPI 2.11 renamed pause/resume to stop/start
	stopStartMinVersion = semver.MustParse("2.11.0")

	ErrUnsupportedVersion = errors.New("unsupported qBittorrent WebAPI version")
)

const loginAttempts = 3

// ClientConfig holds the connection settings for one qBittorrent instance
type ClientConfig struct {
	Host          string
	Username      string
	Password      string
	BasicUser     string
	BasicPassword string
	Timeout       time.Duration
}

// Client wraps the qBittorrent client with login retries and capability flags
type Client struct {
	*qbt.Client
	host              string
	webAPIVersion     string
	supportsStopStart bool
	lastHealthCheck   time.Time
	isHealthy         bool
	mu                sync.RWMutex
}

// NewClient logs in and reads the WebAPI version
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	qcfg := qbt.Config{
		Host:     cfg.Host,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  int(timeout.Seconds()),
	}
	if cfg.BasicUser != "" {
		qcfg.BasicUser = cfg.BasicUser
		qcfg.BasicPass = cfg.BasicPassword
	}

	client := &Client{
		Client: qbt.NewClient(qcfg),
		host:   cfg.Host,
	}

	if err := client.login(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to connect to qBittorrent instance")
	}

	if err := client.refreshCapabilities(ctx); err != nil {
		return nil, err
	}

	client.markHealthy(true)

	return client, nil
}

func (c *Client) login(ctx context.Context) error {
	return retry.Do(
		func() error {
			return c.Client.LoginCtx(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(loginAttempts),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !isBanError(err) && !isCredentialError(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Uint("attempt", n+1).Str("host", c.host).Msg("qBittorrent login failed, retrying")
		}),
	)
}

// isBanError reports errors that mean qBittorrent has banned our IP after
// too many failed logins. Retrying only extends the ban.
func isBanError(err error) bool {
	if err == nil {
		return false
	}

	errorStr := strings.ToLower(err.Error())

	return strings.Contains(errorStr, "ip is banned") ||
		strings.Contains(errorStr, "too many failed login attempts") ||
		strings.Contains(errorStr, "banned") ||
		strings.Contains(errorStr, "403") ||
		strings.Contains(errorStr, "forbidden")
}

func isCredentialError(err error) bool {
	if err == nil {
		return false
	}

	errorStr := strings.ToLower(err.Error())
	return strings.Contains(errorStr, "bad credentials") || strings.Contains(errorStr, "fails.")
}

func (c *Client) refreshCapabilities(ctx context.Context) error {
	version, err := c.Client.GetWebAPIVersionCtx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get WebAPI version")
	}

	v, err := semver.NewVersion(strings.TrimSpace(version))
	if err != nil {
		return errors.Wrapf(err, "failed to parse WebAPI version %q", version)
	}
	if v.LessThan(minWebAPIVersion) {
		return errors.Wrapf(ErrUnsupportedVersion, "%s is older than %s", v, minWebAPIVersion)
	}

	c.mu.Lock()
	c.webAPIVersion = v.String()
	c.supportsStopStart = !v.LessThan(stopStartMinVersion)
	c.mu.Unlock()

	log.Debug().
		Str("host", c.host).
		Str("webAPIVersion", v.String()).
		Bool("supportsStopStart", c.SupportsStopStart()).
		Msg("qBittorrent capabilities detected")

	return nil
}

// WebAPIVersion returns the version read at login
func (c *Client) WebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

func (c *Client) SupportsStopStart() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsStopStart
}

// GetLastHealthCheck returns the time of the last health check
func (c *Client) GetLastHealthCheck() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHealthCheck
}

// IsHealthy returns whether the client connection is healthy
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isHealthy
}

// HealthCheck probes the WebAPI and logs in again once if the probe fails,
// which is how an expired session cookie shows up.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.Client.GetWebAPIVersionCtx(ctx); err == nil {
		c.markHealthy(true)
		return nil
	}

	if err := c.Client.LoginCtx(ctx); err != nil {
		c.markHealthy(false)
		return errors.Wrap(err, "health check failed: login error")
	}

	if _, err := c.Client.GetWebAPIVersionCtx(ctx); err != nil {
		c.markHealthy(false)
		return errors.Wrap(err, "health check failed: api error")
	}

	c.markHealthy(true)
	return nil
}

func (c *Client) markHealthy(healthy bool) {
	c.mu.Lock()
	c.isHealthy = healthy
	c.lastHealthCheck = time.Now()
	c.mu.Unlock()
}
