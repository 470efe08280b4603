/*
Package repository maintains the pacman repository index.

The manager is the only component that invokes repo-add and
repo-remove, so the index files are never mutated concurrently. It
consumes ArtifactsUploaded messages from the ingress, indexes the new
files, records the build in state and only then publishes BuildSuccess.
That ordering means a BuildSuccess on the bus implies both the index
and the state file agree.

If repo-add fails the build is dropped without a BuildSuccess; the
scheduler rediscovers the package on its next update pass.

# Startup

Recreate deletes the index files and rebuilds them from every artifact
recorded in state. This keeps the served repository consistent with
state after unclean shutdowns or manual edits of the output directory.
A failing rebuild aborts startup.

# Removal

RemovePackages drops the named packages from the index and deletes
their artifact files from the repository directory. The artifact list
arrives inside the message, snapshotted by the publisher: the scheduler
deletes the state records concurrently, so by the time the manager sees
the message state may no longer know the files.
*/
package repository
