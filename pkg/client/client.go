package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aurbuild/aurbuild/pkg/types"
)

// requestTimeout bounds every call. add-url gets a longer budget because
// the coordinator clones the repository before answering.
const (
	requestTimeout = 10 * time.Second
	probeTimeout   = 2 * time.Minute
)

// Client wraps the coordinator's HTTP API for CLI usage.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the coordinator at baseURL, for example
// "http://localhost:3200".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    http.DefaultClient,
	}
}

// Status returns the list of tracked packages.
func (c *Client) Status(ctx context.Context) (types.Status, error) {
	var status types.Status
	err := c.getJSON(ctx, "/status", &status)
	return status, err
}

// AddPackages asks the coordinator to track the named AUR packages.
func (c *Client) AddPackages(ctx context.Context, packages []string) (types.AddPackagesResponse, error) {
	var response types.AddPackagesResponse
	err := c.postJSON(ctx, "/packages/add", types.AddPackages{Packages: packages}, &response, requestTimeout)
	return response, err
}

// AddPackageURL asks the coordinator to track a package living at a
// clonable PKGBUILD repository URL.
func (c *Client) AddPackageURL(ctx context.Context, url string) (types.AddPackageURLResponse, error) {
	var response types.AddPackageURLResponse
	err := c.postJSON(ctx, "/packages/add-url", types.AddPackageURL{URL: url}, &response, probeTimeout)
	return response, err
}

// RemovePackages asks the coordinator to stop tracking the named packages.
func (c *Client) RemovePackages(ctx context.Context, packages []string) (types.RemovePackagesResponse, error) {
	var response types.RemovePackagesResponse
	err := c.postJSON(ctx, "/packages/remove", types.RemovePackages{Packages: packages}, &response, requestTimeout)
	return response, err
}

// ForceRebuild queues fresh builds for already-tracked packages.
func (c *Client) ForceRebuild(ctx context.Context, packages []string) (types.ForceRebuildResponse, error) {
	var response types.ForceRebuildResponse
	err := c.postJSON(ctx, "/packages/rebuild", types.ForceRebuild{Packages: packages}, &response, requestTimeout)
	return response, err
}

// Logs lists the archived failed-build logs, oldest first.
func (c *Client) Logs(ctx context.Context) ([]types.LogInfo, error) {
	var logs []types.LogInfo
	err := c.getJSON(ctx, "/logs", &logs)
	return logs, err
}

// Log fetches one archived build log by its index in the Logs listing.
func (c *Client) Log(ctx context.Context, index int) (string, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/logs/%d", index), nil, requestTimeout)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	body, err := c.do(ctx, http.MethodGet, path, nil, requestTimeout)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func (c *Client) postJSON(ctx context.Context, path string, request, response any, timeout time.Duration) error {
	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, path, payload, timeout)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, response)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach the coordinator: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coordinator returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
