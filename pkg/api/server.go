package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aurbuild/aurbuild/pkg/aur"
	"github.com/aurbuild/aurbuild/pkg/buildlog"
	"github.com/aurbuild/aurbuild/pkg/bus"
	"github.com/aurbuild/aurbuild/pkg/config"
	"github.com/aurbuild/aurbuild/pkg/log"
	"github.com/aurbuild/aurbuild/pkg/metrics"
	"github.com/aurbuild/aurbuild/pkg/state"
	"github.com/aurbuild/aurbuild/pkg/types"
)

// Server is the HTTP ingress. It translates external requests into bus
// messages, accepts artifact uploads from workers and serves the
// repository directory read-only.
type Server struct {
	cfg        *config.Config
	state      *state.State
	containers *state.Containers
	broker     *bus.Broker
	aur        *aur.Client
	logs       *buildlog.Archive
	log        zerolog.Logger
}

// NewServer creates the ingress.
func NewServer(cfg *config.Config, st *state.State, containers *state.Containers, broker *bus.Broker, aurClient *aur.Client, logs *buildlog.Archive) *Server {
	return &Server{
		cfg:        cfg,
		state:      st,
		containers: containers,
		broker:     broker,
		aur:        aurClient,
		logs:       logs,
		log:        log.WithComponent("web"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.status)
	mux.HandleFunc("POST /packages/add", s.addPackages)
	mux.HandleFunc("POST /packages/add-url", s.addPackageURL)
	mux.HandleFunc("POST /packages/remove", s.removePackages)
	mux.HandleFunc("POST /packages/rebuild", s.forceRebuild)
	mux.HandleFunc("POST /artifacts", s.receiveArtifacts)
	mux.HandleFunc("GET /key", s.getKey)
	mux.HandleFunc("GET /logs", s.listLogs)
	mux.HandleFunc("GET /logs/{index}", s.getLog)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("GET /repo/", http.StripPrefix("/repo/", http.FileServer(http.Dir(s.cfg.RepoDir))))
	return s.requestLogger(mux)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", s.cfg.Port).Msg("Starting web server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("Web server exited with error")
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("Web server shutdown failed")
		}
	}

	s.log.Info().Msg("Stopped web server")
}

// status returns the snapshot of tracked names.
func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, types.Status{Packages: s.state.TrackedPackages()})
}

// addPackages probes the AUR for existence and hands the new names to the
// scheduler.
func (s *Server) addPackages(w http.ResponseWriter, r *http.Request) {
	var add types.AddPackages
	if !decodeJSON(w, r, &add) {
		return
	}
	packages := lo.Uniq(add.Packages)

	known, err := s.aur.Exists(r.Context(), packages)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to get packages from the AUR")
		http.Error(w, "failed to reach the AUR", http.StatusInternalServerError)
		return
	}
	tracked := s.state.TrackedPackages()

	response := types.AddPackagesResponse{
		NotFound:       lo.Without(packages, known...),
		AlreadyTracked: lo.Intersect(tracked, packages),
		Added:          lo.Without(lo.Intersect(known, packages), tracked...),
	}

	if len(response.Added) > 0 {
		s.broker.Publish(bus.AddPackages{Packages: response.Added})
	}
	writeJSON(w, response)
}

// addPackageURL probes a clonable URL for a PKGBUILD and hands the result
// to the scheduler.
func (s *Server) addPackageURL(w http.ResponseWriter, r *http.Request) {
	var add types.AddPackageURL
	if !decodeJSON(w, r, &add) {
		return
	}

	data, err := s.aur.ProbePkgbuild(r.Context(), add.URL)
	if err != nil {
		writeJSON(w, types.AddPackageURLResponse{Status: types.AddURLError, Error: err.Error()})
		return
	}

	if s.state.IsTracked(data.Name) {
		writeJSON(w, types.AddPackageURLResponse{Status: types.AddURLAlreadyAdded, Name: data.Name})
		return
	}

	s.broker.Publish(bus.AddPackageURL{URL: add.URL, Data: data})
	writeJSON(w, types.AddPackageURLResponse{Status: types.AddURLOk, Name: data.Name})
}

// removePackages hands tracked names to the scheduler for removal.
func (s *Server) removePackages(w http.ResponseWriter, r *http.Request) {
	var remove types.RemovePackages
	if !decodeJSON(w, r, &remove) {
		return
	}
	packages := lo.Uniq(remove.Packages)
	tracked := s.state.TrackedPackages()

	response := types.RemovePackagesResponse{
		Removed:    lo.Intersect(tracked, packages),
		NotTracked: lo.Without(packages, tracked...),
	}

	if len(response.Removed) > 0 {
		// Snapshot the artifact list now: the scheduler deletes the state
		// records as soon as it sees the message.
		var files []string
		for _, pkg := range response.Removed {
			files = append(files, s.state.Files(pkg)...)
		}
		s.broker.Publish(bus.RemovePackages{Packages: response.Removed, Files: files})
	}
	writeJSON(w, response)
}

// forceRebuild queues builds for the named packages, but only when every
// name is tracked.
func (s *Server) forceRebuild(w http.ResponseWriter, r *http.Request) {
	var rebuild types.ForceRebuild
	if !decodeJSON(w, r, &rebuild) {
		return
	}
	packages := lo.Uniq(rebuild.Packages)

	notFound := lo.Without(packages, s.state.TrackedPackages()...)
	if len(notFound) == 0 {
		for _, pkg := range packages {
			s.log.Info().Str("package", pkg).Msg("User requested rebuild")
			s.broker.Publish(bus.BuildPackage{Package: pkg})
		}
	}
	writeJSON(w, types.ForceRebuildResponse{NotFound: notFound})
}

// receiveArtifacts accepts a worker's artifact upload. The files are on
// disk before ArtifactsUploaded is emitted; the repository manager relies
// on that ordering.
func (s *Server) receiveArtifacts(w http.ResponseWriter, r *http.Request) {
	if !s.authenticateWorker(r) {
		http.Error(w, "unknown worker", http.StatusUnauthorized)
		return
	}

	var artifacts types.Artifacts
	if !decodeJSON(w, r, &artifacts) {
		return
	}

	files := make([]string, 0, len(artifacts.Files))
	for name, data := range artifacts.Files {
		fileName := sanitizeFilename(name)
		if err := os.WriteFile(filepath.Join(s.cfg.RepoDir, fileName), data, 0o644); err != nil {
			s.log.Error().Err(err).Str("file", fileName).Msg("Failed to write artifact to disk")
			http.Error(w, "failed to write artifact", http.StatusInternalServerError)
			return
		}
		files = append(files, fileName)
	}

	s.log.Debug().
		Str("package", artifacts.PackageName).
		Int("files", len(files)).
		Msg("Got artifacts")

	s.broker.Publish(bus.ArtifactsUploaded{
		Package:   artifacts.PackageName,
		Files:     files,
		BuildTime: artifacts.BuildTime,
	})
	w.WriteHeader(http.StatusOK)
}

// getKey serves the private signing key to authenticated workers.
func (s *Server) getKey(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("hostname") == "" {
		http.Error(w, "missing hostname header", http.StatusBadRequest)
		return
	}
	if !s.authenticateWorker(r) {
		http.Error(w, "unknown worker", http.StatusUnauthorized)
		return
	}

	key, err := os.ReadFile(s.cfg.KeyFile)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read signing key")
		http.Error(w, "failed to read key", http.StatusInternalServerError)
		return
	}
	w.Write(key)
}

// listLogs returns the archived failed-build logs, oldest first.
func (s *Server) listLogs(w http.ResponseWriter, _ *http.Request) {
	logs, err := s.logs.List()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list build logs")
		http.Error(w, "failed to list logs", http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []types.LogInfo{}
	}
	writeJSON(w, logs)
}

// getLog returns one archived log by its age-ordered index.
func (s *Server) getLog(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		http.Error(w, "invalid log index", http.StatusBadRequest)
		return
	}

	content, found, err := s.logs.Get(index)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read build log")
		http.Error(w, "failed to read log", http.StatusInternalServerError)
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}
	w.Write([]byte(content))
}

// authenticateWorker matches the request's hostname header against the
// short IDs of active build containers. A worker container's hostname is
// its own short ID.
func (s *Server) authenticateWorker(r *http.Request) bool {
	return s.containers.IsActive(r.Header.Get("hostname"))
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "default"
	}
	return base
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Logger.Error().Err(err).Msg("Failed to encode response")
	}
}
