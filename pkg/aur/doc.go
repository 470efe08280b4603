/*
Package aur resolves package metadata.

The Client queries the AUR RPC endpoint in batches for existence,
last-modified timestamps and dependency lists. For packages that live
at an arbitrary git URL instead, ProbePkgbuild clones the repository
and sources its PKGBUILD to extract the same data.

Dependency lists are filtered before they leave this package: names
served by the official repositories (tracked by NameCache, refreshed
hourly via pacman) are satisfied inside the build container and
version-bounded virtuals like "glibc>=2.38" cannot be resolved as AUR
packages. What remains is exactly the set the coordinator has to build
itself.
*/
package aur
