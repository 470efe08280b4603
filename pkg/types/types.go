package types

import "strings"

// PackageInfo is the persisted record for one tracked package.
type PackageInfo struct {
	// URL is the clonable source-tree URL for packages added by URL.
	// Empty means the package is resolved by name against the AUR.
	URL          string   `json:"url,omitempty"`
	IsDependency bool     `json:"is_dependency"`
	Dependencies []string `json:"dependencies"`
	Build        *Build   `json:"build"`
}

// Build records the outcome of the last successful build.
type Build struct {
	Time  int64    `json:"time"`
	Files []string `json:"files"`
}

// PackageData is the result of probing a package's build recipe,
// either via the AUR RPC or by cloning a PKGBUILD repository.
type PackageData struct {
	Name         string
	LastModified int64
	Depends      []string
}

// Artifacts is the payload a worker uploads after a successful build.
type Artifacts struct {
	PackageName string            `json:"package_name"`
	BuildTime   int64             `json:"build_time"`
	Files       map[string][]byte `json:"files"`
}

// Status is the response body of GET /status.
type Status struct {
	Packages []string `json:"packages"`
}

// AddPackages is the request body of POST /packages/add.
type AddPackages struct {
	Packages []string `json:"packages"`
}

// AddPackagesResponse reports the outcome of a batch add.
type AddPackagesResponse struct {
	Added          []string `json:"added"`
	AlreadyTracked []string `json:"already_tracked"`
	NotFound       []string `json:"not_found"`
}

// AddPackageURL is the request body of POST /packages/add-url.
type AddPackageURL struct {
	URL string `json:"url"`
}

// Add-url outcome statuses.
const (
	AddURLOk           = "ok"
	AddURLAlreadyAdded = "already_added"
	AddURLError        = "error"
)

// AddPackageURLResponse reports the outcome of an add by URL.
type AddPackageURLResponse struct {
	Status string `json:"status"`
	Name   string `json:"name,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RemovePackages is the request body of POST /packages/remove.
type RemovePackages struct {
	Packages []string `json:"packages"`
}

// RemovePackagesResponse reports the outcome of a batch remove.
type RemovePackagesResponse struct {
	Removed    []string `json:"removed"`
	NotTracked []string `json:"not_tracked"`
}

// ForceRebuild is the request body of POST /packages/rebuild.
type ForceRebuild struct {
	Packages []string `json:"packages"`
}

// ForceRebuildResponse reports names that were not tracked.
type ForceRebuildResponse struct {
	NotFound []string `json:"not_found"`
}

// LogInfo describes one archived build log.
type LogInfo struct {
	Package string `json:"package"`
	Time    string `json:"time"`
}

// JoinForDisplay renders a name list as English prose: "a", "a and b",
// "a, b and c".
func JoinForDisplay(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}
