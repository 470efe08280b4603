/*
Package orchestrator runs build containers.

The orchestrator consumes BuildPackage messages, starts one ephemeral
Docker container per package up to the configured builder cap, and
supervises the containers until they exit. It is the only component
that talks to the container runtime.

# Architecture

	        every 100ms
	┌──────────────────────────────┐
	│  drain bus messages           │  BuildPackage → queue
	│                               │  RemovePackages → stop + drop
	│  dispatch                     │  free slot? start the first
	│                               │  queued build whose deps are built
	│  supervise                    │  inspect active containers,
	│                               │  reap exited ones
	└──────────────────────────────┘

A container that exits zero is simply removed: the worker inside it has
already uploaded its artifacts through the ingress, and BuildSuccess
comes from the repository manager once they are indexed. A non-zero
exit captures the container's output into the build log archive and
publishes BuildFailure.

Builds whose dependencies have no recorded build yet stay queued; the
queue is scanned in order so dependency chains drain front to back.

# Worker Contract

Each build container receives its assignment via environment:

	PACKAGE  package name (also the container name)
	URL      clonable source repository
	REPO     pacman repository name
	PORT     coordinator port for uploads and key fetch

The container's hostname is its own short ID, which is what the ingress
checks when the worker calls back.

On shutdown every active container is stopped and removed in parallel
under a fresh 30-second deadline.
*/
package orchestrator
