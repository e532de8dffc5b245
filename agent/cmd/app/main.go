package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"migration-agent/agent/database"
	"migration-agent/agent/internal/blacklist"
	"migration-agent/agent/internal/bot"
	"migration-agent/agent/internal/handlers"
	"migration-agent/agent/internal/pipeline"
	"migration-agent/agent/internal/sentiment"
	"migration-agent/agent/internal/services"
	"migration-agent/shared/config"
	"migration-agent/shared/env"
	"migration-agent/shared/logger"
	"migration-agent/shared/notifications"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultConfigPath = "agent/config.yaml"
	heartbeatInterval = 8 * time.Minute
	shutdownTimeout   = 15 * time.Second
)

func startHeartbeat(ctx context.Context, appLogger *logger.Logger) {
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				appLogger.Info("Heartbeat: Program running...")
			}
		}
	}()
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Panicf("FATAL PANIC RECOVERY: %v", r)
		}
	}()

	env.LoadEnv()

	configPath := env.GetEnv("CONFIG_PATH", defaultConfigPath)
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load %s: %v", configPath, err)
	}

	appLogger, err := logger.NewLogger(logger.Config{
		Level:            cfg.Logging.Level,
		Environment:      cfg.App.Environment,
		EnableForwarding: cfg.Telegram.BotToken != "",
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Zap().Sync() }()

	if err := cfg.Validate(); err != nil {
		appLogger.Fatal("Invalid configuration", zap.Error(err))
	}
	appLogger.Info("Application configuration loaded.", zap.String("path", configPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Database.DSN == "" {
		appLogger.Fatal("DATABASE_URL / database.dsn is not set")
	}
	appLogger.Info("Running database migrations...")
	if err := database.RunMigrations(cfg.Database.DSN); err != nil {
		appLogger.Fatal("Database migration failed", zap.Error(err))
	}
	db, err := database.ConnectToDatabase(cfg.Database.DSN)
	if err != nil {
		appLogger.Fatal("Database connection failed", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		appLogger.Fatal("Schema sync failed", zap.Error(err))
	}
	store := database.NewStore(db)
	appLogger.Info("Database connection established successfully.")

	registry := blacklist.NewRegistry(store)
	if err := registry.Load(ctx); err != nil {
		appLogger.Fatal("Failed to load blacklist", zap.Error(err))
	}
	if seeded, err := registry.Seed(ctx, cfg.Blacklist); err != nil {
		appLogger.Error("Failed to seed blacklist from config", zap.Error(err))
	} else if seeded > 0 {
		appLogger.Info("Blacklist seeded from config", zap.Int("entries", seeded))
	}

	var channel *notifications.TelegramChannel
	if cfg.Telegram.BotToken != "" {
		channel, err = notifications.NewTelegramChannel(ctx, notifications.TelegramConfig{
			BotToken:         cfg.Telegram.BotToken,
			GroupID:          cfg.Telegram.GroupID,
			SystemLogsChatID: cfg.Telegram.SystemLogsChatID,
			RatePerSecond:    cfg.Telegram.RatePerSecond,
		})
		if err != nil {
			appLogger.Warn("Failed to initialize Telegram, proceeding without command channel", zap.Error(err))
			channel = nil
		} else {
			appLogger.SetForwarder(channel.SystemLog)
		}
	} else {
		appLogger.Warn("TELEGRAM_BOT_TOKEN not set, trade commands will be recorded but not dispatched.")
	}

	apiClient := services.NewClient(cfg.API, appLogger)
	coinFeed, err := services.NewCoinFeedClient(apiClient, cfg.API.CoinFeedURL, appLogger)
	if err != nil {
		appLogger.Fatal("Coin feed client", zap.Error(err))
	}
	socialFeed, err := services.NewSocialFeedClient(apiClient, cfg.API.SocialFeedURL, appLogger)
	if err != nil {
		appLogger.Fatal("Social feed client", zap.Error(err))
	}
	verifier, err := services.NewVerifierClient(apiClient, cfg.API.VerifierURL, appLogger)
	if err != nil {
		appLogger.Fatal("Verifier client", zap.Error(err))
	}

	scorer := sentiment.NewVaderScorer()
	deps := pipeline.Deps{
		Store:      store,
		Blacklist:  registry,
		CoinFeed:   coinFeed,
		SocialFeed: socialFeed,
		Verifier:   verifier,
		Scorer:     scorer,
		Logger:     appLogger,
	}
	if channel != nil {
		deps.Channel = channel
	}
	pipe, err := pipeline.New(cfg, deps)
	if err != nil {
		appLogger.Fatal("Failed to build pipeline", zap.Error(err))
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(appLogger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	handlers.RegisterRoutes(router, appLogger)
	handlers.RegisterAPIRoutes(router, handlers.NewAPI(store, registry, pipe, scorer, appLogger))

	server := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		appLogger.Info("Starting web server", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("Could not start web server.", zap.Error(err))
		}
	}()

	if channel != nil {
		updates, err := channel.Bot().UpdatesViaLongPolling(ctx, nil)
		if err != nil {
			appLogger.Error("Failed to start Telegram long polling", zap.Error(err))
		} else {
			adminBot := bot.New(appLogger, registry, pipe, channel, cfg.Telegram.GroupID)
			go adminBot.StartListening(ctx, updates)
		}
	}

	startHeartbeat(ctx, appLogger)
	go pipe.RunEvery(ctx, cfg.Pipeline.Interval)

	appLogger.Info("Application startup complete.")
	<-ctx.Done()

	appLogger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
