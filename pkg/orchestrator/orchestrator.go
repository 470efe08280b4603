package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aurbuild/aurbuild/pkg/aur"
	"github.com/aurbuild/aurbuild/pkg/buildlog"
	"github.com/aurbuild/aurbuild/pkg/bus"
	"github.com/aurbuild/aurbuild/pkg/config"
	"github.com/aurbuild/aurbuild/pkg/log"
	"github.com/aurbuild/aurbuild/pkg/metrics"
	"github.com/aurbuild/aurbuild/pkg/runtime"
	"github.com/aurbuild/aurbuild/pkg/state"
)

// tickInterval is how often the orchestrator polls the bus and its
// containers.
const tickInterval = 100 * time.Millisecond

// Runtime is the container-runtime surface the orchestrator drives.
// *runtime.DockerRuntime implements it.
type Runtime interface {
	Create(ctx context.Context, name string, env []string, memoryLimit int64) (string, error)
	Start(ctx context.Context, id string) error
	Inspect(ctx context.Context, id string) (runtime.Status, error)
	Logs(ctx context.Context, id string) (string, error)
	Stop(ctx context.Context, id string, timeout time.Duration) error
	Remove(ctx context.Context, id string) error
}

type pendingBuild struct {
	pkg string
	url string
}

// Orchestrator starts one ephemeral build container per queued package,
// capped at MaxBuilders, and supervises them until they exit.
type Orchestrator struct {
	cfg        *config.Config
	state      *state.State
	containers *state.Containers
	broker     *bus.Broker
	sub        *bus.Subscriber
	runtime    Runtime
	logs       *buildlog.Archive
	log        zerolog.Logger

	pending []pendingBuild
	active  map[string]string // package -> full container ID
}

// NewOrchestrator creates the orchestrator and subscribes it to the bus.
func NewOrchestrator(cfg *config.Config, st *state.State, containers *state.Containers, broker *bus.Broker, rt Runtime, logs *buildlog.Archive) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		state:      st,
		containers: containers,
		broker:     broker,
		sub:        broker.Subscribe("orchestrator"),
		runtime:    rt,
		logs:       logs,
		log:        log.WithComponent("orchestrator"),
		active:     make(map[string]string),
	}
}

// Run drives the dispatch and supervision loop until ctx is done, then
// stops and removes every active container.
func (o *Orchestrator) Run(ctx context.Context) {
	o.log.Info().Msg("Starting")

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			o.log.Info().Msg("Stopped orchestrator")
			return
		case <-ticker.C:
		}

		o.drainMessages(ctx)
		o.dispatch(ctx)
		o.supervise(ctx)
	}
}

// drainMessages consumes everything currently queued without blocking.
func (o *Orchestrator) drainMessages(ctx context.Context) {
	for {
		select {
		case message, ok := <-o.sub.C():
			if !ok {
				return
			}
			switch msg := message.(type) {
			case bus.BuildPackage:
				o.enqueue(msg.Package)
			case bus.RemovePackages:
				o.removePackages(ctx, msg.Packages)
			}
		default:
			return
		}
	}
}

// enqueue resolves the source URL for a package and puts it on the build
// queue. Packages already queued or building are not queued twice.
func (o *Orchestrator) enqueue(pkg string) {
	if _, building := o.active[pkg]; building {
		return
	}
	if lo.SomeBy(o.pending, func(p pendingBuild) bool { return p.pkg == pkg }) {
		return
	}

	url, tracked := o.state.SourceURL(pkg)
	if !tracked {
		o.log.Warn().Str("package", pkg).Msg("Ignoring build request for untracked package")
		return
	}
	if url == "" {
		url = aur.RepoURL(pkg)
	}

	o.pending = append(o.pending, pendingBuild{pkg: pkg, url: url})
	metrics.PendingBuilds.Set(float64(len(o.pending)))
}

// removePackages drops queued builds and tears down active containers for
// packages the user removed.
func (o *Orchestrator) removePackages(ctx context.Context, packages []string) {
	o.pending = lo.Reject(o.pending, func(p pendingBuild, _ int) bool {
		return lo.Contains(packages, p.pkg)
	})
	metrics.PendingBuilds.Set(float64(len(o.pending)))

	for _, pkg := range packages {
		id, ok := o.active[pkg]
		if !ok {
			continue
		}
		o.log.Info().Str("package", pkg).Msg("Stopping build of removed package")
		if err := o.runtime.Stop(ctx, id, 0); err != nil {
			o.log.Error().Err(err).Str("container", state.ShortID(id)).Msg("Failed to stop container")
		}
		if err := o.runtime.Remove(ctx, id); err != nil {
			o.log.Error().Err(err).Str("container", state.ShortID(id)).Msg("Failed to remove container")
		}
		o.forget(pkg)
	}
}

// dispatch starts builds while a builder slot is free. The queue is
// scanned in order for the first entry whose dependencies are all built.
func (o *Orchestrator) dispatch(ctx context.Context) {
	for len(o.active) < o.cfg.MaxBuilders {
		index := -1
		for i, p := range o.pending {
			if o.state.DependenciesBuilt(p.pkg) {
				index = i
				break
			}
		}
		if index < 0 {
			return
		}

		build := o.pending[index]
		o.pending = append(o.pending[:index], o.pending[index+1:]...)
		metrics.PendingBuilds.Set(float64(len(o.pending)))

		if err := o.startBuild(ctx, build); err != nil {
			o.log.Error().Err(err).Str("package", build.pkg).Msg("Failed to start build container")
			o.broker.Publish(bus.BuildFailure{Package: build.pkg})
		}
	}
}

func (o *Orchestrator) startBuild(ctx context.Context, build pendingBuild) error {
	env := []string{
		"PACKAGE=" + build.pkg,
		"URL=" + build.url,
		"REPO=" + o.cfg.RepoName,
		fmt.Sprintf("PORT=%d", o.cfg.Port),
	}

	id, err := o.runtime.Create(ctx, build.pkg, env, o.cfg.MemoryLimit)
	if err != nil {
		return err
	}
	o.log.Debug().Str("package", build.pkg).Str("container", state.ShortID(id)).Msg("Created container")

	if err := o.runtime.Start(ctx, id); err != nil {
		if removeErr := o.runtime.Remove(ctx, id); removeErr != nil {
			o.log.Error().Err(removeErr).Str("container", state.ShortID(id)).Msg("Failed to remove container")
		}
		return err
	}

	o.active[build.pkg] = id
	o.containers.Set(build.pkg, id)
	metrics.BuildsStarted.Inc()
	metrics.ActiveContainers.Set(float64(len(o.active)))
	return nil
}

// supervise inspects every active container and reaps the exited ones.
func (o *Orchestrator) supervise(ctx context.Context) {
	for pkg, id := range o.active {
		status, err := o.runtime.Inspect(ctx, id)
		if err != nil {
			o.log.Warn().Err(err).Str("container", state.ShortID(id)).Msg("Failed to inspect container")
			continue
		}

		switch status.State {
		case runtime.StateRunning:
		case runtime.StateExited:
			if status.ExitCode != 0 {
				o.reportFailure(ctx, pkg, id, status.ExitCode)
			}
			if err := o.runtime.Remove(ctx, id); err != nil {
				o.log.Warn().Err(err).Str("container", state.ShortID(id)).Msg("Failed to remove container")
			}
			o.forget(pkg)
		default:
			o.log.Warn().Str("container", state.ShortID(id)).Str("state", status.State).Msg("Container in unusual state")
		}
	}
}

// reportFailure captures the failed container's output into the log
// archive and reports the failure on the bus.
func (o *Orchestrator) reportFailure(ctx context.Context, pkg, id string, exitCode int) {
	o.log.Warn().Str("package", pkg).Int("exit_code", exitCode).Msg("Build container exited abnormally")

	output, err := o.runtime.Logs(ctx, id)
	if err != nil {
		o.log.Error().Err(err).Str("container", state.ShortID(id)).Msg("Failed to fetch container logs")
	} else {
		o.log.Warn().Str("package", pkg).Msg(output)
		if o.logs != nil {
			if err := o.logs.Add(pkg, output); err != nil {
				o.log.Error().Err(err).Str("package", pkg).Msg("Failed to archive build log")
			}
		}
	}

	metrics.BuildsFailed.Inc()
	o.broker.Publish(bus.BuildFailure{Package: pkg})
}

func (o *Orchestrator) forget(pkg string) {
	delete(o.active, pkg)
	o.containers.Delete(pkg)
	metrics.ActiveContainers.Set(float64(len(o.active)))
}

// shutdown stops and removes all active containers in parallel. The run
// context is already cancelled at this point, so a fresh one is used.
func (o *Orchestrator) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for pkg, id := range o.active {
		wg.Add(1)
		go func(pkg, id string) {
			defer wg.Done()
			if err := o.runtime.Stop(ctx, id, 0); err != nil {
				o.log.Error().Err(err).Str("package", pkg).Str("container", state.ShortID(id)).Msg("Failed to stop container")
			}
			if err := o.runtime.Remove(ctx, id); err != nil {
				o.log.Error().Err(err).Str("package", pkg).Str("container", state.ShortID(id)).Msg("Failed to remove container")
			}
		}(pkg, id)
	}
	wg.Wait()

	for pkg := range o.active {
		o.forget(pkg)
	}
}
