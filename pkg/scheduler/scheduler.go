package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aurbuild/aurbuild/pkg/aur"
	"github.com/aurbuild/aurbuild/pkg/bus"
	"github.com/aurbuild/aurbuild/pkg/config"
	"github.com/aurbuild/aurbuild/pkg/log"
	"github.com/aurbuild/aurbuild/pkg/metrics"
	"github.com/aurbuild/aurbuild/pkg/state"
	"github.com/aurbuild/aurbuild/pkg/types"
)

// retryWindow is both the back-off after a failed update pass and the
// cadence of the failed-build retry sweep.
const retryWindow = 5 * time.Minute

// idleWait bounds how long the main loop blocks without a message.
const idleWait = time.Minute

// Scheduler decides what to build and when. It owns the retry counters and
// the update-poll cadence.
type Scheduler struct {
	cfg    *config.Config
	state  *state.State
	aur    *aur.Client
	broker *bus.Broker
	sub    *bus.Subscriber
	log    zerolog.Logger

	nextUpdateCheck time.Time
	nextRetryCheck  time.Time
	retries         map[string]int
}

// NewScheduler creates the scheduler and subscribes it to the bus.
func NewScheduler(cfg *config.Config, st *state.State, aurClient *aur.Client, broker *bus.Broker) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		state:   st,
		aur:     aurClient,
		broker:  broker,
		sub:     broker.Subscribe("scheduler"),
		log:     log.WithComponent("scheduler"),
		retries: make(map[string]int),
	}
}

// Run is the scheduler main loop. It returns when ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().Msg("Starting")

	for {
		now := time.Now()

		if !now.Before(s.nextUpdateCheck) {
			if err := s.checkForUpdates(ctx); err != nil {
				s.nextUpdateCheck = now.Add(retryWindow)
			} else {
				s.nextUpdateCheck = now.Add(s.cfg.UpdateCheckInterval)
				s.retries = make(map[string]int)
				metrics.UpdateChecks.Inc()
			}
		}

		if !now.Before(s.nextRetryCheck) {
			s.retryFailedBuilds()
			s.nextRetryCheck = now.Add(retryWindow)
		}

		select {
		case message, ok := <-s.sub.C():
			if !ok {
				s.log.Error().Msg("Message channel closed")
				return
			}
			s.handle(ctx, message)
		case <-time.After(idleWait):
		case <-ctx.Done():
			s.log.Info().Msg("Stopping scheduler")
			return
		}
	}
}

// retryFailedBuilds re-emits BuildPackage for every package still within
// its retry budget. Counters are only incremented on failure, so an entry
// stays resident until the next successful update pass clears it.
func (s *Scheduler) retryFailedBuilds() {
	for pkg, attempt := range s.retries {
		if attempt < s.cfg.MaxRetries {
			s.log.Info().Str("package", pkg).Int("attempt", attempt).Msg("Retrying build")
			s.broker.Publish(bus.BuildPackage{Package: pkg})
		}
	}
}

func (s *Scheduler) handle(ctx context.Context, message bus.Message) {
	switch msg := message.(type) {
	case bus.AddPackages:
		s.addPackages(ctx, msg.Packages, false)
	case bus.AddDependencies:
		s.addPackages(ctx, msg.Packages, true)
	case bus.AddPackageURL:
		s.addPackageURL(msg)
	case bus.RemovePackages:
		s.removePackages(msg.Packages)
	case bus.BuildSuccess:
		delete(s.retries, msg.Package)
	case bus.BuildFailure:
		s.retries[msg.Package]++
	}
}

// addPackages resolves dependency lists for the batch, tracks every name
// not yet tracked and queues its build. Transitively discovered
// dependencies are fed back onto the bus in one AddDependencies message.
func (s *Scheduler) addPackages(ctx context.Context, packages []string, isDependency bool) {
	dependencies, err := s.aur.Dependencies(ctx, packages)
	if err != nil {
		s.log.Error().Err(err).Strs("packages", packages).Msg("Failed to fetch dependencies, could not add packages")
		return
	}

	for _, pkg := range packages {
		if s.state.IsTracked(pkg) {
			continue
		}
		pkgDependencies, ok := dependencies[pkg]
		if !ok {
			s.log.Warn().Str("package", pkg).Msg("Failed to get dependencies, this might mean it is a meta package")
			continue
		}
		s.state.Track(pkg, "", pkgDependencies, isDependency)
		s.log.Info().Str("package", pkg).Msg("Added new package")
		s.broker.Publish(bus.BuildPackage{Package: pkg})
	}

	discovered := lo.Uniq(lo.Flatten(lo.Values(dependencies)))
	if len(discovered) > 0 {
		s.broker.Publish(bus.AddDependencies{Packages: discovered})
	}

	metrics.TrackedPackages.Set(float64(len(s.state.TrackedPackages())))
}

// addPackageURL tracks a package that lives at a clonable URL. The probe
// already ran in the ingress, so the package data comes with the message.
func (s *Scheduler) addPackageURL(msg bus.AddPackageURL) {
	if len(msg.Data.Depends) > 0 {
		s.broker.Publish(bus.AddDependencies{Packages: msg.Data.Depends})
	}

	s.state.Track(msg.Data.Name, msg.URL, msg.Data.Depends, false)
	s.log.Info().Str("package", msg.Data.Name).Str("url", msg.URL).Msg("Added new package")
	s.broker.Publish(bus.BuildPackage{Package: msg.Data.Name})

	metrics.TrackedPackages.Set(float64(len(s.state.TrackedPackages())))
}

// removePackages drops the named packages and garbage-collects
// dependencies nothing references anymore. The GC re-emits RemovePackages,
// which terminates because the tracking set strictly shrinks.
func (s *Scheduler) removePackages(packages []string) {
	s.state.Remove(packages)
	s.log.Info().Msg("Stopped tracking " + types.JoinForDisplay(packages))

	if unneeded := s.state.UnneededDependencies(); len(unneeded) > 0 {
		var files []string
		for _, pkg := range unneeded {
			files = append(files, s.state.Files(pkg)...)
		}
		s.broker.Publish(bus.RemovePackages{Packages: unneeded, Files: files})
	}

	metrics.TrackedPackages.Set(float64(len(s.state.TrackedPackages())))
}

// checkForUpdates is one update pass. It fails only on a transport-level
// registry error; per-package probe errors are logged and skipped.
// Never-built packages are queued after the update sweep of built ones so
// new additions yield to rebuilds of existing packages.
func (s *Scheduler) checkForUpdates(ctx context.Context) error {
	s.log.Info().Msg("Checking for package updates")

	var neverBuilt []string

	registry := s.state.RegistryPackages()
	if len(registry) > 0 {
		lastModified, err := s.aur.LastModified(ctx, registry)
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to lookup package info in the AUR")
			return err
		}

		for _, pkg := range registry {
			buildTime, built := s.state.BuildTime(pkg)
			if !built {
				neverBuilt = append(neverBuilt, pkg)
				continue
			}
			if modified, ok := lastModified[pkg]; ok && modified > buildTime {
				s.log.Info().Str("package", pkg).Msg("Package needs to be rebuilt")
				s.broker.Publish(bus.BuildPackage{Package: pkg})
			}
		}
	}

	for pkg, url := range s.state.URLPackages() {
		buildTime, built := s.state.BuildTime(pkg)
		if !built {
			neverBuilt = append(neverBuilt, pkg)
			continue
		}
		data, err := s.aur.ProbePkgbuild(ctx, url)
		if err != nil {
			s.log.Error().Err(err).Str("package", pkg).Str("url", url).Msg("Failed to probe package")
			continue
		}
		if data.LastModified > buildTime {
			s.log.Info().Str("package", pkg).Msg("Package needs to be rebuilt")
			s.broker.Publish(bus.BuildPackage{Package: pkg})
		}
	}

	sort.Strings(neverBuilt)
	for _, pkg := range neverBuilt {
		s.log.Info().Str("package", pkg).Msg("Package needs to be built")
		s.broker.Publish(bus.BuildPackage{Package: pkg})
	}

	return nil
}
