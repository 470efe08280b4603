package aur

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aurbuild/aurbuild/pkg/log"
)

// refreshInterval is how often the official-repository name list is pulled.
const refreshInterval = time.Hour

// NameCache holds the set of package names served by the official
// repositories. Dependencies on these names are satisfied by pacman and
// must not be resolved through the AUR.
type NameCache struct {
	mu    sync.RWMutex
	names map[string]struct{}
	log   zerolog.Logger

	// listNames is swapped out in tests.
	listNames func(ctx context.Context) ([]byte, error)
}

// NewNameCache creates an empty cache.
func NewNameCache() *NameCache {
	return &NameCache{
		names:     make(map[string]struct{}),
		log:       log.WithComponent("pacman-cache"),
		listNames: runPacman,
	}
}

// Contains reports whether name is served by the official repositories.
func (c *NameCache) Contains(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.names[name]
	return ok
}

// Refresh syncs the pacman databases and atomically replaces the cached
// name set.
func (c *NameCache) Refresh(ctx context.Context) error {
	out, err := c.listNames(ctx)
	if err != nil {
		return err
	}

	names := make(map[string]struct{})
	for _, name := range strings.Split(string(out), "\n") {
		names[name] = struct{}{}
	}

	c.mu.Lock()
	c.names = names
	c.mu.Unlock()
	c.log.Debug().Int("names", len(names)).Msg("Updated package cache")
	return nil
}

// Run refreshes the cache immediately and then hourly until ctx is done.
func (c *NameCache) Run(ctx context.Context) {
	for {
		if err := c.Refresh(ctx); err != nil {
			c.log.Error().Err(err).Msg("Failed to update package cache")
		}

		select {
		case <-time.After(refreshInterval):
		case <-ctx.Done():
			return
		}
	}
}

func runPacman(ctx context.Context) ([]byte, error) {
	if out, err := exec.CommandContext(ctx, "pacman", "-Syy").CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pacman -Syy failed: %w: %s", err, out)
	}

	out, err := exec.CommandContext(ctx, "pacman", "-Slq").Output()
	if err != nil {
		return nil, fmt.Errorf("pacman -Slq failed: %w", err)
	}
	return out, nil
}
