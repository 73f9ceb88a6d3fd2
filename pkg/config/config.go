package config

import (
	"runtime"
	"time"

	"github.com/pkg/errors"

	"github.com/shepherd-os/shepherd/pkg/strategy"
)

// Defaults applied when no snippet overrides them.
const (
	DefaultPollInterval  = 5 * time.Minute
	DefaultStatePath     = "/var/lib/shepherd/agent-state.json"
	DefaultListenAddress = "127.0.0.1:9312"
	DefaultStream        = "stable"
)

// Config is the process-wide configuration, constructed once at startup and
// never mutated afterward.
type Config struct {
	// GraphBaseURL roots the update-graph service.
	GraphBaseURL string
	// Strategy selects and parameterizes the finalization strategy.
	Strategy strategy.Config

	// Identity inputs.
	BaseArch         string
	Stream           string
	Group            string
	NodeUUID         string
	WarinessPermille *uint16

	// AllowBarriers lets resolution cross barrier-flagged releases.
	AllowBarriers bool

	// PollInterval drives the agent's periodic update checks.
	PollInterval time.Duration
	// StatePath locates the persisted agent state file.
	StatePath string
	// ListenAddress serves the local status and metrics endpoints.
	ListenAddress string
}

func defaultConfig() *Config {
	return &Config{
		BaseArch:      defaultBaseArch(),
		Stream:        DefaultStream,
		PollInterval:  DefaultPollInterval,
		StatePath:     DefaultStatePath,
		ListenAddress: DefaultListenAddress,
		Strategy:      strategy.Config{Name: strategy.NameImmediate},
	}
}

func defaultBaseArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	default:
		return runtime.GOARCH
	}
}

func (c *Config) validate() error {
	if c.GraphBaseURL == "" {
		return errors.New("no graph service URL configured")
	}
	if c.Strategy.Name == strategy.NameCluster && c.Strategy.LockBaseURL == "" {
		return errors.New("cluster strategy requires a lock service URL")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	return nil
}
