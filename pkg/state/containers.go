package state

import "sync"

// shortIDLength is how many characters of a container ID Docker exposes as
// the container's hostname.
const shortIDLength = 12

// ShortID truncates a full container ID to its short form.
func ShortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength]
}

// Containers is the in-memory registry of build containers currently
// supervised by the orchestrator. The orchestrator is the only writer;
// the HTTP ingress reads it to authenticate workers.
type Containers struct {
	mu     sync.RWMutex
	active map[string]string // package -> short container ID
}

// NewContainers creates an empty registry.
func NewContainers() *Containers {
	return &Containers{active: make(map[string]string)}
}

// Set records the container built for pkg.
func (c *Containers) Set(pkg, containerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[pkg] = ShortID(containerID)
}

// Delete forgets the container built for pkg.
func (c *Containers) Delete(pkg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, pkg)
}

// IsActive reports whether shortID belongs to a supervised container.
func (c *Containers) IsActive(shortID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, id := range c.active {
		if id == shortID {
			return true
		}
	}
	return false
}

// Count returns the number of supervised containers.
func (c *Containers) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.active)
}
