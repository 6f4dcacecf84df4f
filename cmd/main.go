package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/Dosada05/tournament-standings/config"
	"github.com/Dosada05/tournament-standings/db"
	"github.com/Dosada05/tournament-standings/handlers"
	"github.com/Dosada05/tournament-standings/notify"
	"github.com/Dosada05/tournament-standings/repositories"
	api "github.com/Dosada05/tournament-standings/routes"
	"github.com/Dosada05/tournament-standings/scheduler"
	"github.com/Dosada05/tournament-standings/scoring"
	"github.com/Dosada05/tournament-standings/services"
	"github.com/Dosada05/tournament-standings/storage"
)

const (
	shutdownTimeout  = 15 * time.Second
	eventQueueSize   = 4096
	eventStreamLimit = 100_000
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("application stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("application exited")
}

func run(logger *slog.Logger) error {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger.Info("configuration loaded",
		slog.Int("port", cfg.ServerPort),
		slog.String("store", cfg.StoreDriver),
		slog.Duration("staleness_threshold", cfg.StalenessThreshold))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Доставка событий: websocket-комнаты и, если задан REDIS_ADDR, Redis stream
	wsHub := notify.NewHub(logger)
	go wsHub.Run(ctx)

	targets := []notify.Deliverer{wsHub}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis %s: %w", cfg.RedisAddr, err)
		}
		targets = append(targets, notify.NewRedisStream(rdb, cfg.EventStream, eventStreamLimit))
		logger.Info("redis event stream enabled", slog.String("stream", cfg.EventStream))
	}
	dispatcherCtx, stopDispatcher := context.WithCancel(context.Background())
	defer stopDispatcher()
	dispatcher := notify.NewDispatcher(logger, eventQueueSize, targets...)
	go dispatcher.Run(dispatcherCtx)

	var archiver services.SnapshotArchiver
	if cfg.Archive.Enabled() {
		uploader, err := storage.NewS3Uploader(ctx, cfg.Archive)
		if err != nil {
			return fmt.Errorf("initialize archive uploader: %w", err)
		}
		archiver = storage.NewStandingsArchive(uploader, cfg.Archive.Prefix)
		logger.Info("standings archive enabled", slog.String("bucket", cfg.Archive.Bucket))
	}

	// Инициализация сервисов
	calculator := scoring.NewCalculator(cfg.KillWeight)
	phaseStandingService := services.NewPhaseStandingService(store, dispatcher, logger, cfg.StalenessThreshold, cfg.SweepConcurrency)
	registrationService := services.NewRegistrationService(store, dispatcher, logger)
	tournamentService := services.NewTournamentService(store, logger)
	matchService := services.NewMatchService(store, registrationService, calculator, phaseStandingService, dispatcher, logger)
	standingService := services.NewStandingService(store)
	progressionService := services.NewProgressionService(store, phaseStandingService, archiver, dispatcher, logger)

	sweeper := scheduler.New(phaseStandingService, cfg.SweepSchedule, cfg.StalenessThreshold, logger)
	if err := sweeper.Start(); err != nil {
		return err
	}

	router := chi.NewRouter()
	api.SetupRoutes(router, api.Handlers{
		Tournament:   handlers.NewTournamentHandler(tournamentService),
		Registration: handlers.NewRegistrationHandler(registrationService),
		Match:        handlers.NewMatchHandler(matchService),
		Standing:     handlers.NewStandingHandler(standingService, phaseStandingService),
		Progression:  handlers.NewProgressionHandler(progressionService),
		WebSocket:    handlers.NewWebSocketHandler(wsHub, tournamentService, cfg.CORSOrigins, logger),
	}, api.Options{
		JWTSecret:   []byte(cfg.JWTSecretKey),
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	logger.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("failed to force close server", slog.Any("error", closeErr))
		}
	}
	sweeper.Stop(shutdownCtx)

	// события, опубликованные во время остановки, ещё доставляются
	stopDispatcher()
	select {
	case <-dispatcher.Done():
	case <-shutdownCtx.Done():
	}
	if dropped := dispatcher.Dropped(); dropped > 0 {
		logger.Warn("events dropped due to full queue", slog.Int64("count", dropped))
	}
	logger.Info("server shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repositories.Store, func(), error) {
	if cfg.StoreDriver == config.StoreMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return repositories.NewMemoryStore(), func() {}, nil
	}

	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	closeDB := func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}
	if err := db.Migrate(ctx, dbConn, logger); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database connection established")
	return repositories.NewPostgresStore(dbConn), closeDB, nil
}
