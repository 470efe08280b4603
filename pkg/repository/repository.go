package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/aurbuild/aurbuild/pkg/bus"
	"github.com/aurbuild/aurbuild/pkg/config"
	"github.com/aurbuild/aurbuild/pkg/log"
	"github.com/aurbuild/aurbuild/pkg/metrics"
	"github.com/aurbuild/aurbuild/pkg/state"
)

const (
	repoAdd    = "repo-add"
	repoRemove = "repo-remove"
)

// Suffixes of the index files repo-add maintains.
var indexSuffixes = []string{".db", ".db.tar.zst", ".files", ".files.tar.zst"}

// Manager owns the on-disk repository directory. It is the only component
// that invokes repo-add and repo-remove, so the index is never mutated
// concurrently.
type Manager struct {
	cfg    *config.Config
	state  *state.State
	broker *bus.Broker
	sub    *bus.Subscriber
	log    zerolog.Logger

	// runCommand is swapped out in tests.
	runCommand func(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// NewManager creates the repository manager and subscribes it to the bus.
func NewManager(cfg *config.Config, st *state.State, broker *bus.Broker) *Manager {
	return &Manager{
		cfg:        cfg,
		state:      st,
		broker:     broker,
		sub:        broker.Subscribe("repository"),
		log:        log.WithComponent("repository"),
		runCommand: runCommand,
	}
}

func runCommand(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Recreate deletes the index files and rebuilds them from every artifact
// recorded in state. A failing rebuild is fatal: the coordinator must not
// serve a repository that disagrees with its state.
func (m *Manager) Recreate(ctx context.Context) error {
	m.log.Info().Msg("Recreating repository")

	for _, suffix := range indexSuffixes {
		path := filepath.Join(m.cfg.RepoDir, m.cfg.RepoName+suffix)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.log.Error().Err(err).Str("file", path).Msg("Failed to delete index file")
		}
	}

	files := m.state.AllFiles()
	if len(files) == 0 {
		return nil
	}
	if !m.addToRepo(ctx, files) {
		return fmt.Errorf("failed to recreate the repository index")
	}
	return nil
}

// Run processes bus messages until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	m.log.Info().Msg("Starting")
	for {
		select {
		case message, ok := <-m.sub.C():
			if !ok {
				m.log.Error().Msg("Message channel closed")
				return
			}
			m.handle(ctx, message)
		case <-ctx.Done():
			m.log.Info().Msg("Stopped repository")
			return
		}
	}
}

func (m *Manager) handle(ctx context.Context, message bus.Message) {
	switch msg := message.(type) {
	case bus.ArtifactsUploaded:
		m.handleArtifacts(ctx, msg)
	case bus.RemovePackages:
		m.handleRemove(ctx, msg)
	}
}

// handleArtifacts indexes freshly uploaded artifact files. The ingress has
// written them to the repository directory before emitting the message.
func (m *Manager) handleArtifacts(ctx context.Context, msg bus.ArtifactsUploaded) {
	m.log.Info().Str("package", msg.Package).Msg("Successfully built")

	if !m.addToRepo(ctx, msg.Files) {
		// No BuildSuccess: the scheduler rediscovers the package on its
		// next update sweep.
		return
	}

	m.state.SetBuild(msg.Package, msg.BuildTime, msg.Files)
	metrics.BuildsSucceeded.Inc()
	m.broker.Publish(bus.BuildSuccess{Package: msg.Package})
}

// handleRemove drops the named packages from the index and deletes their
// artifact files. The file list travels with the message: the scheduler
// has usually dropped the state records by the time it arrives here.
func (m *Manager) handleRemove(ctx context.Context, msg bus.RemovePackages) {
	dbFile := m.cfg.RepoName + ".db.tar.zst"
	if _, err := os.Stat(filepath.Join(m.cfg.RepoDir, dbFile)); err == nil {
		args := append([]string{dbFile}, msg.Packages...)
		out, err := m.runCommand(ctx, m.cfg.RepoDir, repoRemove, args...)
		if err != nil {
			m.log.Error().Err(err).Str("output", string(out)).Msg("repo-remove failed")
		}
	}

	for _, file := range msg.Files {
		path := filepath.Join(m.cfg.RepoDir, file)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.log.Error().Err(err).Str("file", path).Msg("Failed to delete artifact")
		}
	}
}

// addToRepo runs repo-add for the given artifact files and reports whether
// it succeeded.
func (m *Manager) addToRepo(ctx context.Context, files []string) bool {
	args := []string{"--new", "--remove", "--prevent-downgrade", "--verify", m.cfg.RepoName + ".db.tar.zst"}
	args = append(args, files...)

	out, err := m.runCommand(ctx, m.cfg.RepoDir, repoAdd, args...)
	if err != nil {
		m.log.Error().Err(err).Str("output", string(out)).Msg("repo-add failed")
		return false
	}
	return true
}
