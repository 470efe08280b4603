package aur

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aurbuild/aurbuild/pkg/types"
)

// Distinct failure kinds of a PKGBUILD probe. Callers report these to the
// requesting user instead of retrying.
var (
	ErrPkgbuildMissing = errors.New("could not find a PKGBUILD file")
	ErrNameMissing     = errors.New("could not find a name in the PKGBUILD file")
	ErrBadTimestamp    = errors.New("could not parse the commit timestamp")
)

// CloneError reports a failed git clone with the tool's stderr attached.
type CloneError struct {
	Stderr string
}

func (e *CloneError) Error() string {
	return "failed to clone repository: " + e.Stderr
}

// pkgbuildScript sources the recipe and prints the package name followed
// by the merged depends and makedepends arrays.
const pkgbuildScript = `
source PKGBUILD
echo $pkgname
echo "${depends[@]} ${makedepends[@]}"
`

// ProbePkgbuild clones url into a temp directory, sources its PKGBUILD to
// extract the package name and dependency list, and reads the HEAD commit
// time as the upstream last-modified timestamp.
func (c *Client) ProbePkgbuild(ctx context.Context, url string) (types.PackageData, error) {
	dir, err := os.MkdirTemp("", "pkgbuild-probe-*")
	if err != nil {
		return types.PackageData{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	c.log.Debug().Str("url", url).Msg("Cloning git repository")
	clone := exec.CommandContext(ctx, "git", "clone", url, dir)
	if out, err := clone.CombinedOutput(); err != nil {
		return types.PackageData{}, &CloneError{Stderr: strings.TrimSpace(string(out))}
	}

	if _, err := os.Stat(filepath.Join(dir, "PKGBUILD")); err != nil {
		return types.PackageData{}, ErrPkgbuildMissing
	}

	c.log.Debug().Str("url", url).Msg("Reading package build")
	read := exec.CommandContext(ctx, "bash", "-c", pkgbuildScript)
	read.Dir = dir
	out, err := read.Output()
	if err != nil {
		return types.PackageData{}, fmt.Errorf("failed to source PKGBUILD: %w", err)
	}

	name, depends, err := c.parsePkgbuildOutput(string(out))
	if err != nil {
		return types.PackageData{}, err
	}

	c.log.Debug().Str("url", url).Msg("Fetching timestamp")
	show := exec.CommandContext(ctx, "git", "show", "-s", "--format=%ct", "HEAD")
	show.Dir = dir
	out, err = show.Output()
	if err != nil {
		return types.PackageData{}, fmt.Errorf("failed to read HEAD commit time: %w", err)
	}

	lastModified, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return types.PackageData{}, ErrBadTimestamp
	}

	return types.PackageData{
		Name:         name,
		LastModified: lastModified,
		Depends:      depends,
	}, nil
}

// parsePkgbuildOutput splits the probe script output into the package name
// and its filtered dependency list.
func (c *Client) parsePkgbuildOutput(out string) (string, []string, error) {
	lines := strings.Split(out, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return "", nil, ErrNameMissing
	}
	name := strings.TrimSpace(lines[0])

	var depends []string
	if len(lines) > 1 {
		depends = c.filterDependencies(strings.Fields(lines[1]))
	}
	return name, depends, nil
}
