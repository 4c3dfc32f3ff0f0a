// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/torrentdeck/internal/domain"
)

const maxErrorBody = 4 << 10

// retryLogger routes retryablehttp output through zerolog
type retryLogger struct{}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	log.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	log.Trace().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	log.Warn().Fields(keysAndValues).Msg(msg)
}

// ClientConfig configures the native HTTP backend client
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// StatusRetries bounds retries of GET /status. Commands are never retried.
	StatusRetries int
}

// Client talks to the native backend over HTTP
type Client struct {
	baseURL string
	status  *retryablehttp.Client
	http    *http.Client
}

// NewClient creates a native backend client
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.StatusRetries < 0 {
		cfg.StatusRetries = 0
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	retryClient.RetryMax = cfg.StatusRetries
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 400 * time.Millisecond
	retryClient.Logger = &retryLogger{}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		status:  retryClient,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Status fetches the current snapshot of every torrent
func (c *Client) Status(ctx context.Context) ([]TorrentSnapshot, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, &domain.NetworkError{Op: "status", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.status.Do(req)
	if err != nil {
		return nil, &domain.NetworkError{Op: "status", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.NetworkError{Op: "status", Status: resp.StatusCode, Err: readErrorBody(resp)}
	}

	var body StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &domain.NetworkError{Op: "status", Err: fmt.Errorf("decode response: %w", err)}
	}

	log.Trace().Int("torrents", len(body.Torrents)).Msg("Status fetched")

	return body.Torrents, nil
}

// Parse uploads a .torrent file for metadata extraction
func (c *Client) Parse(ctx context.Context, file TorrentFile) (*Metadata, error) {
	body, contentType, err := multipartBody(file, nil)
	if err != nil {
		return nil, err
	}

	var meta Metadata
	if err := c.post(ctx, "parse", "/parse", contentType, body, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

// Upload starts downloading a torrent into downloadPath. A partial selection
// is sent as a JSON list in the selectedFiles form field.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (*UploadAck, error) {
	fields := map[string]string{"downloadPath": req.DownloadPath}
	if req.Selection != nil {
		selection, err := json.Marshal(req.Selection)
		if err != nil {
			return nil, fmt.Errorf("encode selection: %w", err)
		}
		fields["selectedFiles"] = string(selection)
	}

	body, contentType, err := multipartBody(req.File, fields)
	if err != nil {
		return nil, err
	}

	var ack UploadAck
	if err := c.post(ctx, "upload", "/upload", contentType, body, &ack); err != nil {
		return nil, err
	}

	return &ack, nil
}

// Do sends a single-torrent command
func (c *Client) Do(ctx context.Context, action Action, id TorrentID) (*ActionAck, error) {
	n, ok := id.Int()
	if !ok {
		return nil, &domain.NotFoundError{ID: id.String()}
	}

	payload, err := json.Marshal(map[string]int{"id": n})
	if err != nil {
		return nil, err
	}

	var ack ActionAck
	err = c.post(ctx, string(action), "/"+string(action), "application/json", bytes.NewReader(payload), &ack)
	if err != nil {
		var netErr *domain.NetworkError
		if errors.As(err, &netErr) && netErr.Status == http.StatusNotFound {
			return nil, &domain.NotFoundError{ID: id.String()}
		}
		return nil, err
	}

	// the native backend reports unknown ids as a 200 with an error status
	if ack.Status == "error" {
		log.Debug().Str("id", id.String()).Str("action", string(action)).Str("detail", ack.Detail).Msg("Backend rejected torrent id")
		return nil, &domain.NotFoundError{ID: id.String()}
	}

	return &ack, nil
}

func (c *Client) post(ctx context.Context, op, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return &domain.NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.NetworkError{Op: op, Status: resp.StatusCode, Err: readErrorBody(resp)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return &domain.NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func multipartBody(file TorrentFile, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	name := file.Name
	if name == "" {
		name = "upload.torrent"
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", err
	}

	for key, value := range fields {
		if err := w.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// readErrorBody turns a failed response body into an error, preferring the
// FastAPI style {"detail": ...} message when present
func readErrorBody(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var detail struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(raw, &detail) == nil && detail.Detail != nil {
		return fmt.Errorf("%v", detail.Detail)
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return errors.New(text)
}
