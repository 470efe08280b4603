package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/renameio"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aurbuild/aurbuild/pkg/log"
	"github.com/aurbuild/aurbuild/pkg/types"
)

// document is the on-disk shape of the state file.
type document struct {
	PackageStatus map[string]*types.PackageInfo `json:"package_status"`
}

// State is the single source of truth for tracked packages. All mutations
// take the write lock, commit in memory, release the lock and then persist
// the serialized document atomically (write to temp, rename). Persistence
// failures are logged and the in-memory commit stands.
type State struct {
	mu       sync.RWMutex
	packages map[string]*types.PackageInfo
	path     string
	log      zerolog.Logger
}

// Load reads the state file at path, or starts empty if it does not exist.
func Load(path string) (*State, error) {
	s := &State{
		packages: make(map[string]*types.PackageInfo),
		path:     path,
		log:      log.WithComponent("state"),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if doc.PackageStatus != nil {
		s.packages = doc.PackageStatus
	}
	return s, nil
}

// persist writes the serialized document to disk. Must not be called with
// the write lock held.
func (s *State) persist() {
	s.mu.RLock()
	data, err := json.Marshal(document{PackageStatus: s.packages})
	s.mu.RUnlock()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to serialize state")
		return
	}

	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		s.log.Error().Err(err).Msg("Failed to write state file")
	}
}

// Track inserts or replaces a package record. An empty url means the
// package is resolved by name against the AUR.
func (s *State) Track(pkg, url string, dependencies []string, isDependency bool) {
	s.mu.Lock()
	s.packages[pkg] = &types.PackageInfo{
		URL:          url,
		IsDependency: isDependency,
		Dependencies: lo.Uniq(dependencies),
	}
	s.mu.Unlock()
	s.persist()
}

// SetBuild records a successful build. The state file is on disk before
// this returns, so a BuildSuccess emitted afterwards never races a crash.
func (s *State) SetBuild(pkg string, buildTime int64, files []string) {
	s.mu.Lock()
	if info, ok := s.packages[pkg]; ok {
		info.Build = &types.Build{Time: buildTime, Files: files}
	}
	s.mu.Unlock()
	s.persist()
}

// Remove deletes the named packages from the tracking set.
func (s *State) Remove(pkgs []string) {
	s.mu.Lock()
	for _, pkg := range pkgs {
		delete(s.packages, pkg)
	}
	s.mu.Unlock()
	s.persist()
}

// IsTracked reports whether pkg has a record.
func (s *State) IsTracked(pkg string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.packages[pkg]
	return ok
}

// TrackedPackages returns the sorted tracking set.
func (s *State) TrackedPackages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	packages := lo.Keys(s.packages)
	sort.Strings(packages)
	return packages
}

// SourceURL returns the stored source URL for pkg. The second return is
// false when pkg is not tracked; an empty URL means AUR-resolved.
func (s *State) SourceURL(pkg string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.packages[pkg]
	if !ok {
		return "", false
	}
	return info.URL, true
}

// RegistryPackages returns the sorted names resolved against the AUR.
func (s *State) RegistryPackages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var packages []string
	for pkg, info := range s.packages {
		if info.URL == "" {
			packages = append(packages, pkg)
		}
	}
	sort.Strings(packages)
	return packages
}

// URLPackages returns the package-to-URL mapping for external packages.
func (s *State) URLPackages() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	urls := make(map[string]string)
	for pkg, info := range s.packages {
		if info.URL != "" {
			urls[pkg] = info.URL
		}
	}
	return urls
}

// BuildTime returns the recorded build time for pkg, or false if it was
// never built.
func (s *State) BuildTime(pkg string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.packages[pkg]
	if !ok || info.Build == nil {
		return 0, false
	}
	return info.Build.Time, true
}

// DependenciesBuilt reports whether every dependency of pkg has a recorded
// build. A package with no record is not buildable.
func (s *State) DependenciesBuilt(pkg string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.packages[pkg]
	if !ok {
		return false
	}
	for _, dep := range info.Dependencies {
		depInfo, ok := s.packages[dep]
		if !ok || depInfo.Build == nil {
			return false
		}
	}
	return true
}

// Files returns the artifact filenames recorded for pkg.
func (s *State) Files(pkg string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.packages[pkg]
	if !ok || info.Build == nil {
		return nil
	}
	return append([]string(nil), info.Build.Files...)
}

// AllFiles returns every artifact filename recorded in state.
func (s *State) AllFiles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var files []string
	for _, info := range s.packages {
		if info.Build != nil {
			files = append(files, info.Build.Files...)
		}
	}
	sort.Strings(files)
	return files
}

// UnneededDependencies returns packages that were added as dependencies
// but are no longer listed by any tracked package.
func (s *State) UnneededDependencies() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var dependencies []string
	var required []string
	for pkg, info := range s.packages {
		if info.IsDependency {
			dependencies = append(dependencies, pkg)
		}
		required = append(required, info.Dependencies...)
	}
	return lo.Without(dependencies, required...)
}
