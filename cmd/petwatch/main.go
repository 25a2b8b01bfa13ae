package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"petwatch/internal/config"
	"petwatch/internal/database"
	"petwatch/internal/detection"
	"petwatch/internal/pipeline"
	"petwatch/internal/stream"
	"petwatch/internal/telegram"
	"petwatch/internal/ws"
)

func main() {
	var (
		tuningF    = flag.String("tuning", "", "JSON tuning file (overrides TUNING_FILE)")
		migrateF   = flag.Bool("migrate-only", false, "Apply database migrations and exit")
		retentionF = flag.Duration("retention", 30*24*time.Hour, "How long detection events are kept (0 keeps them forever)")
	)
	flag.Parse()

	// Setup logger.
	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[petwatch] ", log.Ltime)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	if *tuningF != "" {
		cfg.TuningFile = *tuningF
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Fatalf("failed to open database %q: %v", cfg.DBPath, err)
	}
	defer db.Close()
	if *migrateF {
		version, dirty, err := db.MigrateVersion()
		if err != nil {
			logger.Fatalf("failed to read schema version: %v", err)
		}
		logger.Printf("schema at version %d (dirty: %v)", version, dirty)
		return
	}

	// Subscribers persisted by earlier runs plus the ones seeded from env.
	subs, err := telegram.LoadSubscribers(db)
	if err != nil {
		logger.Fatalf("failed to load subscribers: %v", err)
	}
	seedSubscribers(subs, cfg, logger)

	botConfig := telegram.Config{BotToken: cfg.TelegramToken}
	if err := telegram.ValidateConfig(botConfig); err != nil {
		logger.Printf("warning: %v, notifications will not be delivered", err)
	}
	bot := telegram.NewBot(botConfig, subs)

	tunables := config.NewTunables(db, bot.HasDebugAudience)
	if err := tunables.Load(); err != nil {
		logger.Fatalf("failed to load tunables: %v", err)
	}

	var tuning *config.TuningConfig
	if cfg.TuningFile != "" {
		tuning, err = config.LoadTuningConfig(cfg.TuningFile)
		if err != nil {
			logger.Fatalf("failed to load tuning file: %v", err)
		}
		if err := tunables.Apply(tuning); err != nil {
			logger.Fatalf("failed to apply tuning file: %v", err)
		}
	}
	logger.Printf("confidence %.2f, motion threshold %d", tunables.Confidence(), tunables.MotionThreshold())

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		logger.Fatalf("failed to set up detection: %v", err)
	}
	defer registry.Close()

	bus := pipeline.NewEventBus()
	hub := ws.NewEventHub()
	frames := stream.NewMJPEGStreamManager()

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.TuningFile != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reloadOnHangup(ctx, cfg.TuningFile, tunables, logger)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx, bus)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pipeline.NewRecorder(db).Run(ctx, bus)
	}()

	if *retentionF > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pruneEvents(ctx, db, *retentionF, logger)
		}()
	}

	manager := pipeline.NewManager(ctx, pipeline.ManagerConfig{
		Engine:   registry,
		Notifier: bot,
		Tunables: tunables,
		EventBus: bus,
		Frames:   frames,
		Tuning:   tuning,
	})
	for _, cam := range cfg.Cameras {
		if err := manager.StartCamera(cam); err != nil {
			logger.Fatalf("failed to start camera %d: %v", cam.ID, err)
		}
	}

	if cfg.HTTPAddr != "" {
		handleHTTPServer(ctx, cfg.HTTPAddr, newAPI(hub, frames, db, manager), &wg, errc, logger)
	}

	// Wait for signal.
	logger.Printf("exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()
	manager.Close()
	frames.Close()

	wg.Wait()
	bus.Close()
	logger.Println("exited")
}

func seedSubscribers(subs *telegram.Subscribers, cfg *config.Config, logger *log.Logger) {
	for _, id := range cfg.ChatIDs {
		if err := subs.Add(id, telegram.AudienceSubscribers); err != nil {
			logger.Printf("warning: failed to add subscriber %d: %v", id, err)
		}
	}
	for _, id := range cfg.DebugChatIDs {
		if err := subs.Add(id, telegram.AudienceDebug); err != nil {
			logger.Printf("warning: failed to add debug subscriber %d: %v", id, err)
		}
	}
	logger.Printf("%d subscribers, %d debug subscribers",
		subs.Count(telegram.AudienceSubscribers), subs.Count(telegram.AudienceDebug))
}

// buildRegistry registers the configured backend. A local ONNX model, when
// present, is registered as fallback for remote backends.
func buildRegistry(cfg *config.Config, logger *log.Logger) (*detection.Registry, error) {
	registry := detection.NewRegistry(cfg.DetectorBackend)

	switch cfg.DetectorBackend {
	case config.BackendHTTP:
		if err := registry.Register(detection.NewHTTPEngine(cfg.DetectorEndpoint)); err != nil {
			return nil, err
		}
	case config.BackendGRPC:
		engine, err := detection.NewGRPCEngine(cfg.DetectorEndpoint)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(engine); err != nil {
			return nil, err
		}
	}

	if _, err := os.Stat(cfg.ModelPath); err == nil {
		engine, err := detection.NewDNNEngine(cfg.ModelPath)
		if err != nil {
			registry.Close()
			return nil, err
		}
		if err := registry.Register(engine); err != nil {
			registry.Close()
			return nil, err
		}
	} else if cfg.DetectorBackend == config.BackendDNN {
		return nil, fmt.Errorf("model %q: %w", cfg.ModelPath, err)
	}

	logger.Printf("detection engines: %v (preferred %s)", registry.Names(), cfg.DetectorBackend)
	return registry, nil
}

// reloadOnHangup re-reads the tuning file on SIGHUP. Only thresholds are
// applied; intervals take effect on restart.
func reloadOnHangup(ctx context.Context, path string, tunables *config.Tunables, logger *log.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			tuning, err := config.LoadTuningConfig(path)
			if err == nil {
				err = tunables.Apply(tuning)
			}
			if err != nil {
				logger.Printf("warning: tuning reload failed: %v", err)
				continue
			}
			logger.Printf("tuning reloaded: confidence %.2f, motion threshold %d",
				tunables.Confidence(), tunables.MotionThreshold())
		}
	}
}

type eventPruner interface {
	DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error)
}

func pruneEvents(ctx context.Context, db eventPruner, retention time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		n, err := db.DeleteEventsBefore(ctx, time.Now().Add(-retention))
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			logger.Printf("warning: failed to prune events: %v", err)
		case n > 0:
			logger.Printf("pruned %d events older than %s", n, retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
