package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mesa-pos/livesync/internal/config"
	"github.com/mesa-pos/livesync/internal/diag"
	"github.com/mesa-pos/livesync/internal/engine"
	"github.com/mesa-pos/livesync/internal/event"
	"github.com/mesa-pos/livesync/internal/lifecycle"
	"github.com/mesa-pos/livesync/internal/observability"
	"github.com/mesa-pos/livesync/internal/sink"
	"github.com/mesa-pos/livesync/internal/source"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// CLI flags
	showVersion = flag.Bool("version", false, "Show version information")
)

// daemonScope owns the always-on subscriptions the daemon opens for every
// resource type.
const daemonScope = lifecycle.Scope("daemon")

func main() {
	flag.Parse()

	// Show version and exit
	if *showVersion {
		fmt.Printf("LiveSync %s\n", Version)
		fmt.Printf("Commit: %s\n", Commit)
		fmt.Printf("Build Date: %s\n", BuildDate)
		os.Exit(0)
	}

	// Initialize logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting LiveSync")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Connect to the push-data source
	src, err := source.New(cfg.Source)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create subscription source")
	}
	defer src.Close()

	// Assemble the coordinator
	store := sink.NewStore(cfg.Sync.HistoryLimit)
	coordinator := engine.NewCoordinator(engine.CoordinatorConfig{
		Source:           src,
		Sink:             store,
		DebounceWindow:   cfg.Sync.DebounceWindow,
		MaxQueueSize:     cfg.Sync.MaxQueueSize,
		DedupOnCollision: cfg.Sync.DedupOnCollision,
		InitialTenant:    cfg.Tenant,
	})

	metrics := observability.NewMetrics()
	coordinator.SetMetrics(metrics)

	// Open one subscription per resource type
	for _, resource := range event.AllResourceTypes() {
		if _, err := coordinator.Watch(daemonScope, resource); err != nil {
			log.Fatal().Err(err).Str("resource", string(resource)).Msg("Failed to open subscription")
		}
	}
	log.Info().Int("subscriptions", coordinator.ActiveCount()).Msg("Subscriptions open")

	// Feed synthetic traffic in local mode so the diagnostics surface has
	// something to show
	stopFeed := make(chan struct{})
	if local, ok := src.(*source.Local); ok {
		go runDemoFeed(local, cfg.Tenant, stopFeed)
	}

	// Start the diagnostics server
	app := diag.NewApp(coordinator, metrics)
	if cfg.Diag.Enabled {
		go func() {
			log.Info().Str("address", cfg.Diag.Address).Msg("Starting diagnostics server")
			if err := app.Listen(cfg.Diag.Address); err != nil {
				log.Fatal().Err(err).Msg("Failed to start diagnostics server")
			}
		}()
	}

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	close(stopFeed)
	if cfg.Diag.Enabled {
		_ = app.Shutdown()
	}
	coordinator.Shutdown()
	log.Info().Msg("LiveSync stopped")
}

// runDemoFeed publishes a synthetic order event every second.
func runDemoFeed(local *source.Local, tenant string, stop <-chan struct{}) {
	channel := string(event.ResourceOrders)
	if tenant != "" {
		channel = tenant + "/" + channel
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			seq++
			e := event.ChangeEvent{
				Type:      event.ResourceOrders,
				Action:    event.ActionInsert,
				Record:    json.RawMessage(fmt.Sprintf(`{"id":"demo-%d","status":"open"}`, seq)),
				Timestamp: time.Now(),
			}
			payload, err := json.Marshal(e)
			if err != nil {
				log.Error().Err(err).Msg("Failed to marshal demo event")
				continue
			}
			local.Publish(channel, payload)
		}
	}
}
