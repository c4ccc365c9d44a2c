// lockstepd is the dedicated synchronization server. It accepts game
// clients, orders their commands into one stream and relays it back, and
// runs the ban store, status API, telemetry and announce side services.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/lockstep/internal/api"
	"github.com/energizer-project/lockstep/internal/config"
	"github.com/energizer-project/lockstep/internal/coordinator"
	"github.com/energizer-project/lockstep/internal/db"
	"github.com/energizer-project/lockstep/internal/events"
	"github.com/energizer-project/lockstep/internal/health"
	"github.com/energizer-project/lockstep/internal/network"
	"github.com/energizer-project/lockstep/internal/protocol"
	"github.com/energizer-project/lockstep/internal/scheduler"
	"github.com/energizer-project/lockstep/internal/telemetry"
	"github.com/energizer-project/lockstep/internal/util"
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	setup := flag.Bool("setup", false, "run the setup wizard and exit")
	flag.Parse()

	bootLog, err := util.InitLogger(util.DefaultLogConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *setup || cfg.IsFirstRun() {
		log.Info().Msg("launching setup wizard")
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
		if *setup {
			return
		}
	}

	app := cfg.GetApplicationData()
	logFile, err := util.InitLogger(util.LogConfig(app.Logging))
	if err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	} else {
		bootLog.Close()
		defer logFile.Close()
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Str("file", cfg.Path()).Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Uint16("protocol", protocol.NetworkVersion).
		Str("platform", runtime.GOOS).
		Str("os", sysInfo.OS).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("starting lockstep server")

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped with an error")
	}
	log.Info().Msg("lockstep server stopped")
}

func run(cfg *config.Config) error {
	netCfg := cfg.GetNetwork()
	app := cfg.GetApplicationData()

	// ctx ends the loop; side services run on svcCtx until the loop has
	// published its shutdown events.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svcCtx, stopServices := context.WithCancel(context.Background())
	defer stopServices()

	blacklist := network.NewBlacklist()
	var audit *db.AuditLog
	if app.Blacklist.Persist {
		database, err := db.Open(app.Blacklist.DBPath)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := blacklist.Attach(db.NewBanStore(database)); err != nil {
			log.Warn().Err(err).Msg("failed to load stored bans, starting with an empty blacklist")
		}
		audit = db.NewAuditLog(database)
	}

	// Stopped before the database closes so in-flight audit writes finish.
	bus := events.NewEventBus()
	defer bus.Stop()
	if audit != nil {
		audit.Subscribe(bus)
	}

	coord := coordinator.NewServer(netCfg,
		coordinator.WithEventBus(bus),
		coordinator.WithBlacklist(blacklist),
		coordinator.WithAnnounce(app.Announce),
	)
	if err := coord.Listen(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	spawn := func(name string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(svcCtx); err != nil {
				log.Warn().Err(err).Str("service", name).Msg("side service failed (non-fatal)")
			}
		}()
	}

	if app.Status.Enabled {
		var trail api.AuditTrail
		if audit != nil {
			trail = audit
		}
		info := api.Info{
			Name:     netCfg.ServerName,
			Port:     netCfg.Port,
			Capacity: netCfg.MaxClients,
			Version:  protocol.NetworkVersion,
		}
		status := api.NewServer(app.Status, info, coord.Registry(), blacklist, trail,
			app.Logging.Level == "debug")
		spawn("status api", status.Start)
	}

	if app.MQTT.Enabled {
		handler, err := telemetry.NewMQTTHandler(app.MQTT)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			spawn("mqtt", func(ctx context.Context) error { return handler.Start(ctx, bus) })
		}
	}

	if app.Announce.Enabled {
		telemetry.NewAnnouncer(app.Announce.URL).Subscribe(bus)
	}

	if app.Maintenance.Enabled {
		sched := scheduler.New()
		if audit != nil {
			days := app.Maintenance.AuditRetentionDays
			if err := sched.Daily("audit prune", app.Maintenance.Time, func(context.Context) error {
				return audit.Prune(days)
			}); err != nil {
				return err
			}
		}
		if interval := app.Maintenance.HealthInterval(); interval > 0 {
			dataDir := "."
			if app.Blacklist.Persist {
				dataDir = filepath.Dir(app.Blacklist.DBPath)
			}
			checks := health.NewManager(dataDir, coord.Registry(), bus)
			sched.Every("health", interval, checks.Check)
		}
		spawn("scheduler", func(ctx context.Context) error {
			sched.Start(ctx)
			return nil
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	runErr := coord.Run(ctx, coordinator.NewRelay(coord))
	coord.Shutdown()
	bus.Wait()
	stopServices()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		log.Warn().Msg("side services did not stop within 15s")
	}
	return runErr
}
