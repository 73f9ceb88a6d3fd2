package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"

	"github.com/shepherd-os/shepherd/pkg/agent"
	"github.com/shepherd-os/shepherd/pkg/config"
	"github.com/shepherd-os/shepherd/pkg/graph/client"
	"github.com/shepherd-os/shepherd/pkg/identity"
	"github.com/shepherd-os/shepherd/pkg/logging"
	"github.com/shepherd-os/shepherd/pkg/metrics"
	"github.com/shepherd-os/shepherd/pkg/platform"
	"github.com/shepherd-os/shepherd/pkg/platform/ostreed"
	"github.com/shepherd-os/shepherd/pkg/state"
	"github.com/shepherd-os/shepherd/pkg/strategy"
)

const (
	exitOK     = 0
	exitConfig = 2
	exitFatal  = 3
)

var (
	flagDebug      = flag.Bool("debug", false, "enable debug logging")
	flagJournal    = flag.Bool("journal", true, "log to the systemd journal when available")
	flagConfigDirs = flag.String("config-dirs", strings.Join(config.DefaultDropinDirs, ","),
		"comma separated list of config drop-in directories, scanned in order")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	level := "info"
	if *flagDebug {
		level = "debug"
	}
	setters := []logging.Setter{logging.Level(level)}
	if *flagJournal {
		setters = append(setters, logging.Journal())
	}
	log := logging.New("shepherd", setters...)

	cfg, err := config.Load(strings.Split(*flagConfigDirs, ","))
	if err != nil {
		log.WithError(err).Error("invalid configuration")
		return exitConfig
	}

	id, err := identity.New(cfg.BaseArch, cfg.Stream, cfg.Group, cfg.NodeUUID, cfg.WarinessPermille)
	if err != nil {
		log.WithError(err).Error("unable to establish host identity")
		return exitConfig
	}
	log.WithFields(map[string]interface{}{
		"stream": id.Stream,
		"group":  id.Group,
		"node":   id.NodeUUID,
	}).Info("starting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	daemonPlatform, err := ostreed.New(logging.New("platform"))
	if err != nil {
		log.WithError(err).Error("unable to connect to the update daemon")
		return exitFatal
	}
	if err := platform.Ping(ctx, daemonPlatform); err != nil {
		log.WithError(err).Error("update daemon is not usable")
		return exitFatal
	}

	source, err := client.New(logging.New("graph"), cfg.GraphBaseURL, id)
	if err != nil {
		log.WithError(err).Error("unable to set up the graph client")
		return exitConfig
	}

	policy, err := strategy.New(logging.New("strategy"), clock.WallClock, cfg.Strategy, id)
	if err != nil {
		log.WithError(err).Error("unable to set up the finalization strategy")
		return exitConfig
	}

	instruments := metrics.New()
	orchestrator, err := agent.New(logging.New("agent"), agent.Config{
		Store:         state.NewStore(cfg.StatePath),
		Source:        source,
		Platform:      daemonPlatform,
		Strategy:      policy,
		Metrics:       instruments,
		PollInterval:  cfg.PollInterval,
		AllowBarriers: cfg.AllowBarriers,
	})
	if err != nil {
		log.WithError(err).Error("unable to assemble the agent")
		return exitConfig
	}
	listener := metrics.NewServer(logging.New("listener"), cfg.ListenAddress, instruments, orchestrator.Status)

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.WithError(err).Warn("unable to notify service manager")
	}
	defer func() {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	}()

	// The listener has no reason to outlive the agent: once a finalization
	// has been handed off, or a fatal condition surfaced, the process ends.
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer stop()
		return orchestrator.Run(ctx)
	})
	group.Go(func() error {
		return listener.Run(ctx)
	})

	if err := group.Wait(); err != nil {
		log.WithError(err).Error("agent terminated")
		return exitFatal
	}
	log.Info("shutdown complete")
	return exitOK
}
