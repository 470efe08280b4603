package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aurbuild/aurbuild/pkg/api"
	"github.com/aurbuild/aurbuild/pkg/aur"
	"github.com/aurbuild/aurbuild/pkg/buildlog"
	"github.com/aurbuild/aurbuild/pkg/bus"
	"github.com/aurbuild/aurbuild/pkg/config"
	"github.com/aurbuild/aurbuild/pkg/keys"
	"github.com/aurbuild/aurbuild/pkg/log"
	"github.com/aurbuild/aurbuild/pkg/metrics"
	"github.com/aurbuild/aurbuild/pkg/orchestrator"
	"github.com/aurbuild/aurbuild/pkg/repository"
	"github.com/aurbuild/aurbuild/pkg/runtime"
	"github.com/aurbuild/aurbuild/pkg/scheduler"
	"github.com/aurbuild/aurbuild/pkg/state"
	"github.com/aurbuild/aurbuild/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "aurbuild",
	Short: "aurbuild - AUR build coordinator",
	Long: `aurbuild continuously tracks a set of AUR packages, rebuilds them in
ephemeral Docker containers whenever upstream changes, and maintains a
signed pacman repository that any machine can consume.`,
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"aurbuild version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
}

func run(_ *cobra.Command, _ []string) error {
	abortIfNotInDocker()

	cfg := config.Load()
	log.Init(log.Config{Level: log.Level(cfg.LogLevel)})
	logger := log.WithComponent("main")
	logger.Info().Str("version", Version).Msg("Starting aurbuild")
	metrics.Register()

	st, err := state.Load(cfg.StateFile)
	if err != nil {
		return fmt.Errorf("failed to load application state: %w", err)
	}

	if err := keys.Ensure(cfg.KeyFile); err != nil {
		return fmt.Errorf("failed to generate signing key: %w", err)
	}

	logArchive, err := buildlog.Open(cfg.LogDB, cfg.MaxLogs)
	if err != nil {
		return fmt.Errorf("failed to open build log archive: %w", err)
	}
	defer logArchive.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.NewDockerRuntime(ctx, cfg.BuilderImage)
	if err != nil {
		return err
	}
	defer rt.Close()

	broker := bus.NewBroker()
	broker.Start()
	defer broker.Stop()

	cache := aur.NewNameCache()
	aurClient := aur.NewClient("", cache)
	containers := state.NewContainers()

	repo := repository.NewManager(cfg, st, broker)
	if err := repo.Recreate(ctx); err != nil {
		return err
	}

	tracked := st.TrackedPackages()
	if len(tracked) == 0 {
		logger.Info().Msg("No packages being managed right now")
	} else {
		logger.Info().Msg("Managing " + types.JoinForDisplay(tracked))
	}
	metrics.TrackedPackages.Set(float64(len(tracked)))

	var wg sync.WaitGroup
	start := func(name string, task func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task(ctx)
			if ctx.Err() == nil {
				logger.Error().Str("task", name).Msg("Task quit unexpectedly")
				stop()
			}
		}()
	}

	start("pacman cache refresher", cache.Run)
	start("web server", api.NewServer(cfg, st, containers, broker, aurClient, logArchive).Run)
	start("orchestrator", orchestrator.NewOrchestrator(cfg, st, containers, broker, rt, logArchive).Run)
	start("repository", repo.Run)
	start("scheduler", scheduler.NewScheduler(cfg, st, aurClient, broker).Run)

	wg.Wait()
	logger.Info().Msg("Exited gracefully")
	return nil
}

// abortIfNotInDocker enforces the Docker-only precondition: the
// coordinator assumes container paths like /config and /output.
func abortIfNotInDocker() {
	if _, err := os.Stat("/.dockerenv"); err != nil {
		fmt.Fprintln(os.Stderr, "We are not inside a docker container. Aborting!")
		os.Exit(1)
	}
}
