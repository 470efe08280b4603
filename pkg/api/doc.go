/*
Package api implements the coordinator's HTTP ingress.

The ingress translates external requests into bus messages and is the
only surface workers and users talk to:

	GET  /status              tracked package names
	POST /packages/add        track AUR packages
	POST /packages/add-url    track a package from a clonable URL
	POST /packages/remove     stop tracking packages
	POST /packages/rebuild    force rebuilds of tracked packages
	POST /artifacts           worker artifact upload (authenticated)
	GET  /key                 private signing key (authenticated)
	GET  /logs                archived failed-build logs
	GET  /logs/{index}        one archived log
	GET  /metrics             Prometheus metrics
	GET  /repo/               the pacman repository, served read-only

# Worker Authentication

Workers authenticate with a "hostname" header. Inside a container the
hostname defaults to the container's own short ID, and the ingress
accepts it only while that container is an active build. The window in
which the key and artifact endpoints answer a given worker is exactly
the lifetime of its build.

Artifact uploads are written to the repository directory (file names
reduced to their base name first) before ArtifactsUploaded is emitted;
the repository manager relies on the files being on disk when it runs
repo-add.
*/
package api
