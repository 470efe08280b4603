/*
Package runtime wraps the Docker Engine API for the orchestrator.

DockerRuntime exposes the narrow container surface the coordinator
needs: create, start, inspect, logs, stop, remove. Containers are
created from the configured builder image, named after the package they
build, and handed their assignment through environment variables. The
image is verified once at startup so a missing builder image fails fast
instead of failing every build.
*/
package runtime
