/*
Package scheduler decides what to build and when.

The scheduler owns the update-poll cadence and the retry budget. It
reacts to add and remove requests from the ingress, walks the tracked
set on a fixed interval looking for upstream changes, and re-queues
failed builds until their retry budget is spent.

# Architecture

	┌─────────────────────────────────────────────────────┐
	│                  Scheduler Loop                      │
	└───────────────┬─────────────────────────────────────┘
	                │
	                ▼
	  1. Update check due?  → query AUR / probe PKGBUILD
	       upstream newer than last build → BuildPackage
	       never built → BuildPackage (after all rebuilds)
	  2. Retry sweep due?   → re-queue failed builds
	       under the retry cap
	  3. Handle one bus message (add / remove / outcome)

A failed update pass (AUR unreachable) backs off for five minutes
instead of waiting the full configured interval. A successful pass
clears every retry counter, so a package that keeps failing gets a
fresh budget each cycle and is never dropped permanently.

# Dependency Handling

Adding a package resolves its AUR dependency list first. Names served
by the official repositories are filtered out; the rest are tracked as
dependencies and queued ahead of the package itself. Removing a package
garbage-collects dependencies nothing references anymore by re-emitting
RemovePackages, which terminates because the tracked set only shrinks.
*/
package scheduler
