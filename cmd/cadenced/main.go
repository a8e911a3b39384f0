// Package main provides the cadence daemon entry point.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/cadence/internal/classify"
	"github.com/thebtf/cadence/internal/config"
	"github.com/thebtf/cadence/internal/engine"
	"github.com/thebtf/cadence/internal/queue"
	"github.com/thebtf/cadence/internal/stats"
	"github.com/thebtf/cadence/internal/store"
	"github.com/thebtf/cadence/internal/syncer"
	"github.com/thebtf/cadence/internal/watcher"
	"github.com/thebtf/cadence/internal/worker"
	"github.com/thebtf/cadence/internal/worker/sse"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	port := flag.Int("port", 0, "Control API port (default: from settings)")
	dbPath := flag.String("db", "", "Database path (default: ~/.cadence/cadence.db)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize data directory")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}

	path := config.DBPath()
	if *dbPath != "" {
		path = *dbPath
	}
	listenPort := cfg.WorkerPort
	if *port > 0 {
		listenPort = *port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	st, err := store.NewStore(store.Config{
		Path:     path,
		MaxConns: cfg.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer st.Close()

	rules, err := classify.LoadRules(config.RulesPath())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load classification rules, using built-ins")
	}

	classifier, err := classify.New(ctx, store.NewOverrideStore(st), rules)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize classifier")
	}

	q := queue.New(st)

	broadcaster := sse.NewBroadcaster()
	notifier := worker.Notifier{B: broadcaster}

	sync := syncer.New(q, config.SyncCredential{}, syncer.WithNotifier(notifier))

	eng := engine.New(classifier, q, notifier, engine.Options{
		InactivityWindow:    time.Duration(cfg.InactivityWindowSeconds) * time.Second,
		InteractionThrottle: time.Duration(cfg.InteractionThrottleSeconds) * time.Second,
		MinSession:          time.Duration(cfg.MinSessionSeconds) * time.Second,
		TrackingEnabled:     cfg.TrackingEnabled,
		ExcludedSubjects:    cfg.ExcludedSubjects,
	})

	scheduler := engine.NewScheduler(eng, sync, q,
		time.Duration(cfg.SyncIntervalMinutes)*time.Minute,
		time.Duration(cfg.RetentionDays)*24*time.Hour)
	scheduler.Start(ctx)

	// Reload settings when the file changes so credential and exclusion edits
	// take effect without a restart.
	settingsWatcher, err := watcher.New(config.SettingsPath(), func() {
		// A deleted settings file is recreated with defaults.
		if err := config.EnsureSettings(); err != nil {
			log.Warn().Err(err).Msg("Failed to recreate settings file")
		}
		fresh := config.Reload()
		eng.SetTrackingEnabled(ctx, fresh.TrackingEnabled)
		eng.SetExcludedSubjects(ctx, fresh.ExcludedSubjects)
		log.Info().Msg("Settings reloaded")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Settings watcher unavailable")
	} else {
		if err := settingsWatcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start settings watcher")
		}
		defer settingsWatcher.Stop()
	}

	svc := worker.NewService(worker.Deps{
		Version:    Version,
		Store:      st,
		Queue:      q,
		Engine:     eng,
		Classifier: classifier,
		Syncer:     sync,
		Stats:      stats.New(st),
	}, broadcaster)

	go func() {
		<-sigCh
		log.Info().Msg("Shutting down")
		cancel()

		// Close the open session and flush it before the process exits.
		eng.CloseCurrent(context.Background(), time.Now())
		if _, err := sync.Sync(context.Background()); err != nil {
			log.Debug().Err(err).Msg("Final sync pass failed, sessions stay queued")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Control API shutdown error")
		}
	}()

	log.Info().Str("version", Version).Int("port", listenPort).Msg("Starting cadence daemon")
	if err := svc.Start(listenPort); err != nil {
		log.Fatal().Err(err).Msg("Control API error")
	}
}
