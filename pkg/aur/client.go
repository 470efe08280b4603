package aur

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aurbuild/aurbuild/pkg/log"
)

const (
	// DefaultBaseURL is the AUR RPC info endpoint.
	DefaultBaseURL = "https://aur.archlinux.org/rpc/v5/info"

	// repoURLFormat synthesizes the clonable source URL for an AUR package.
	repoURLFormat = "https://aur.archlinux.org/%s.git"
)

// RepoURL returns the clonable source URL for an AUR package name.
func RepoURL(pkg string) string {
	return fmt.Sprintf(repoURLFormat, pkg)
}

// rpcResponse is the wire shape of the AUR info endpoint.
type rpcResponse struct {
	Results []rpcPackage `json:"results"`
}

type rpcPackage struct {
	Name         string   `json:"Name"`
	LastModified int64    `json:"LastModified"`
	Depends      []string `json:"Depends"`
}

// Client queries AUR package metadata. Names known to the official
// repositories and version-bounded virtuals are filtered out of every
// dependency list it returns.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *NameCache
	log     zerolog.Logger
}

// NewClient creates an AUR metadata client. baseURL falls back to the
// public AUR RPC endpoint when empty.
func NewClient(baseURL string, cache *NameCache) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    http.DefaultClient,
		cache:   cache,
		log:     log.WithComponent("aur"),
	}
}

// info fetches metadata for all names in one batch. Names the AUR does not
// know are simply absent from the result.
func (c *Client) info(ctx context.Context, packages []string) ([]rpcPackage, error) {
	query := url.Values{}
	for _, pkg := range packages {
		query.Add("arg[]", pkg)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build AUR request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach the AUR: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("AUR returned status %d", resp.StatusCode)
	}

	var rpc rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return nil, fmt.Errorf("failed to decode AUR response: %w", err)
	}
	return rpc.Results, nil
}

// LastModified returns the upstream commit time for each known name.
func (c *Client) LastModified(ctx context.Context, packages []string) (map[string]int64, error) {
	results, err := c.info(ctx, packages)
	if err != nil {
		return nil, err
	}

	lastModified := make(map[string]int64, len(results))
	for _, pkg := range results {
		lastModified[pkg.Name] = pkg.LastModified
	}
	return lastModified, nil
}

// Exists returns the subset of names the AUR knows about.
func (c *Client) Exists(ctx context.Context, packages []string) ([]string, error) {
	results, err := c.info(ctx, packages)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(results))
	for _, pkg := range results {
		names = append(names, pkg.Name)
	}
	return names, nil
}

// Dependencies returns the filtered build-time dependency list for each
// known name.
func (c *Client) Dependencies(ctx context.Context, packages []string) (map[string][]string, error) {
	results, err := c.info(ctx, packages)
	if err != nil {
		return nil, err
	}

	dependencies := make(map[string][]string, len(results))
	for _, pkg := range results {
		dependencies[pkg.Name] = c.filterDependencies(pkg.Depends)
	}
	return dependencies, nil
}

// filterDependencies drops names served by the official repositories and
// version-bounded virtuals like "glibc>=2.38".
func (c *Client) filterDependencies(depends []string) []string {
	filtered := make([]string, 0, len(depends))
	for _, dep := range depends {
		if strings.ContainsAny(dep, "<>=") {
			continue
		}
		if c.cache != nil && c.cache.Contains(dep) {
			continue
		}
		filtered = append(filtered, dep)
	}
	return filtered
}
