/*
Package state holds the coordinator's persistent and runtime state.

State is the single source of truth for tracked packages. Every
mutation commits in memory first and then writes the whole document to
the state file atomically (serialize, write to a temp file, rename), so
the on-disk file is always a complete, parseable snapshot. Persistence
failures are logged; the in-memory commit stands.

The on-disk document:

	{
	  "package_status": {
	    "yay": {
	      "is_dependency": false,
	      "dependencies": ["go-git"],
	      "build": {"time": 1700000000, "files": ["yay-12.0.5-1.pkg.tar.zst"]}
	    }
	  }
	}

SetBuild guarantees the file is on disk before it returns, which lets
the repository manager publish BuildSuccess without racing a crash.

Containers is the separate, non-persisted registry of active build
containers. The orchestrator writes it, the web ingress reads it to
authenticate workers by their container short ID.
*/
package state
