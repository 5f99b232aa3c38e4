// Package client is the HTTP client of the remote project store, with retry
// and online tracking.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/vibecode/vibecode/internal/logging"
	"github.com/vibecode/vibecode/internal/models"
	"github.com/vibecode/vibecode/internal/protocol"
	"github.com/vibecode/vibecode/internal/retry"
)

// Request bodies at least this large are sent gzip-encoded.
const compressThreshold = 64 * 1024

// Client talks to the remote store API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
	authToken   string

	mu       sync.RWMutex
	online   bool
	lastPing time.Time
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
}

// StatusError is returned for any non-success response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		online:      true,
		authToken:   cfg.AuthToken,
	}
}

func (c *Client) applyAuth(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// IsOnline returns true if the server answered the last request.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			logging.Info("remote store is back online", logging.String("url", c.baseURL))
		} else {
			logging.Warn("remote store is offline", logging.String("url", c.baseURL))
		}
	}
	c.online = online
	c.lastPing = time.Now()
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setOnline(false)
		return &StatusError{StatusCode: resp.StatusCode}
	}

	c.setOnline(true)
	return nil
}

// ListProjects returns the remote project registry.
func (c *Client) ListProjects(ctx context.Context) ([]models.ProjectMetadata, error) {
	var out []models.ProjectMetadata
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/projects", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateProject registers a project on the server.
func (c *Client) CreateProject(ctx context.Context, id, name string, description *string) (*models.ProjectMetadata, error) {
	var out models.ProjectMetadata
	req := protocol.CreateProjectRequest{ID: id, Name: name, Description: description}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/projects", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteProject removes a project and everything stored under it.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, projectPath(id), nil, nil)
}

// SaveState submits a full project snapshot.
func (c *Client) SaveState(ctx context.Context, id string, req *protocol.SaveStateRequest) error {
	body := *req
	if body.RootNodes == nil {
		body.RootNodes = []*models.FileNode{}
	}
	return c.doJSON(ctx, http.MethodPost, projectPath(id)+"/state", &body, nil)
}

// LoadState fetches the stored snapshot of a project.
func (c *Client) LoadState(ctx context.Context, id string) (*protocol.StateResponse, error) {
	var out protocol.StateResponse
	if err := c.doJSON(ctx, http.MethodGet, projectPath(id)+"/state", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveChat appends messages and returns how many were new.
func (c *Client) SaveChat(ctx context.Context, id string, messages []models.ChatMessage) (int, error) {
	var out protocol.ChatSaveResponse
	if err := c.doJSON(ctx, http.MethodPost, projectPath(id)+"/chat", protocol.ChatRequest{Messages: messages}, &out); err != nil {
		return 0, err
	}
	return out.Inserted, nil
}

// LoadChat fetches a project's chat log.
func (c *Client) LoadChat(ctx context.Context, id string) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	if err := c.doJSON(ctx, http.MethodGet, projectPath(id)+"/chat", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PutArchive uploads the raw zip a project was imported from.
func (c *Client) PutArchive(ctx context.Context, id string, data []byte) (*protocol.ArchiveResponse, error) {
	var out protocol.ArchiveResponse
	err := c.do(ctx, http.MethodPut, projectPath(id)+"/archive", data, "application/zip", func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetArchive downloads a project's stored zip.
func (c *Client) GetArchive(ctx context.Context, id string) ([]byte, error) {
	var out []byte
	err := c.do(ctx, http.MethodGet, projectPath(id)+"/archive", nil, "", func(r io.Reader) error {
		var err error
		out, err = io.ReadAll(r)
		return err
	})
	return out, err
}

func projectPath(id string) string {
	return "/api/v1/projects/" + url.PathEscape(id)
}

// doJSON sends in as a JSON body (when non-nil) and decodes the response
// into out (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	return c.do(ctx, method, path, body, "application/json", func(r io.Reader) error {
		if out == nil {
			return nil
		}
		return json.NewDecoder(r).Decode(out)
	})
}

// do runs one request with retries. Transport errors and 5xx responses are
// retried; every other failure is returned at once.
func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string, read func(io.Reader) error) error {
	encoding := ""
	if len(body) >= compressThreshold && contentType == "application/json" {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		gw.Write(body)
		if err := gw.Close(); err != nil {
			return fmt.Errorf("compress request: %w", err)
		}
		body, encoding = buf.Bytes(), "gzip"
	}

	return retry.Do(ctx, c.retryConfig, func() error {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", contentType)
		}
		if encoding != "" {
			req.Header.Set("Content-Encoding", encoding)
		}
		req.Header.Set("Accept-Encoding", "gzip")
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			c.setOnline(false)
			return retry.Retryable(statusError(resp))
		}
		c.setOnline(true)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return statusError(resp)
		}

		var reader io.Reader = resp.Body
		if resp.Header.Get("Content-Encoding") == "gzip" {
			gr, err := gzip.NewReader(resp.Body)
			if err != nil {
				return err
			}
			defer gr.Close()
			reader = gr
		}
		if err := read(reader); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

func statusError(resp *http.Response) *StatusError {
	se := &StatusError{StatusCode: resp.StatusCode}

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		if gr, err := gzip.NewReader(resp.Body); err == nil {
			defer gr.Close()
			reader = gr
		}
	}
	var errResp protocol.ErrorResponse
	if json.NewDecoder(reader).Decode(&errResp) == nil {
		se.Message = errResp.Error
	}
	return se
}
