package config

import (
	"os"
	"strconv"
	"time"
)

// Default filesystem locations inside the coordinator container.
const (
	DefaultStateFile = "/config/state.json"
	DefaultKeyFile   = "/config/id_ed25519"
	DefaultLogDB     = "/config/logs.db"
	DefaultRepoDir   = "/output"
)

// Config holds the coordinator configuration. It is loaded once from the
// process environment at startup and threaded explicitly into every
// component so tests can inject their own.
type Config struct {
	MaxBuilders         int
	MaxRetries          int
	UpdateCheckInterval time.Duration
	Port                int
	BuilderImage        string
	RepoName            string
	MemoryLimit         int64 // bytes per build container, 0 = no cap
	MaxLogs             int   // archived failed-build logs, 0 = unlimited
	LogLevel            string

	StateFile string
	KeyFile   string
	LogDB     string
	RepoDir   string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MaxBuilders:         1,
		MaxRetries:          3,
		UpdateCheckInterval: 240 * time.Second,
		Port:                3200,
		BuilderImage:        "aur_worker",
		RepoName:            "aur",
		MemoryLimit:         0,
		MaxLogs:             200,
		LogLevel:            "info",
		StateFile:           DefaultStateFile,
		KeyFile:             DefaultKeyFile,
		LogDB:               DefaultLogDB,
		RepoDir:             DefaultRepoDir,
	}
}

// Load reads the configuration from the environment, falling back to the
// defaults for anything unset or unparseable.
func Load() *Config {
	cfg := Default()
	cfg.MaxBuilders = envOrInt("MAX_BUILDERS", cfg.MaxBuilders)
	cfg.MaxRetries = envOrInt("MAX_RETRIES", cfg.MaxRetries)
	cfg.UpdateCheckInterval = time.Duration(envOrInt("UPDATE_CHECK_INTERVAL", int(cfg.UpdateCheckInterval/time.Second))) * time.Second
	cfg.Port = envOrInt("PORT", cfg.Port)
	cfg.BuilderImage = envOr("BUILDER_IMAGE", cfg.BuilderImage)
	cfg.RepoName = envOr("REPO_NAME", cfg.RepoName)
	cfg.MemoryLimit = envOrInt64("MEMORY_LIMIT", cfg.MemoryLimit)
	cfg.MaxLogs = envOrInt("MAX_LOGS", cfg.MaxLogs)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	return cfg
}

func envOr(name, fallback string) string {
	if val := os.Getenv(name); val != "" {
		return val
	}
	return fallback
}

func envOrInt(name string, fallback int) int {
	val, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		return fallback
	}
	return val
}

func envOrInt64(name string, fallback int64) int64 {
	val, err := strconv.ParseInt(os.Getenv(name), 10, 64)
	if err != nil {
		return fallback
	}
	return val
}
