package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/game-insight/backend/internal/api"
	"github.com/game-insight/backend/internal/api/handlers"
	"github.com/game-insight/backend/internal/catalog"
	"github.com/game-insight/backend/internal/metrics"
	"github.com/game-insight/backend/internal/recommend"
	"github.com/game-insight/backend/internal/storage/sqlite"
	"github.com/game-insight/backend/pkg/config"
	appLogger "github.com/game-insight/backend/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	flags := pflag.NewFlagSet("api", pflag.ExitOnError)
	flags.String("config", "", "path to a config file")
	flags.String("recommend.input", "", "enriched catalog CSV")
	flags.String("recommend.tokenizer", "", "word or prose")
	flags.Int("server.port", 0, "listen port")
	flags.String("sqlite.path", "", "query history database, empty to disable")
	flags.String("logging.level", "", "log level")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting game recommendation API server")

	if err := cfg.ValidateRecommend(); err != nil {
		appLogger.Fatal("Invalid configuration", zap.Error(err))
	}

	metrics.Init()

	corpus, err := catalog.LoadCorpus(cfg.Recommend.Input, cfg.Recommend.TitleColumn)
	if err != nil {
		appLogger.Fatal("Failed to load catalog", zap.Error(err))
	}

	tokenizer, err := recommend.NewTokenizer(cfg.Recommend.Tokenizer)
	if err != nil {
		appLogger.Fatal("Invalid tokenizer", zap.Error(err))
	}

	engine, err := recommend.Build(corpus, recommend.Options{
		Tokenizer: tokenizer,
		TopK:      cfg.Recommend.TopK,
	})
	if err != nil {
		appLogger.Fatal("Failed to build similarity engine", zap.Error(err))
	}

	var store handlers.QueryStore
	if cfg.SQLite.Path != "" {
		sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
		}
		defer sqliteClient.Close()

		if err := sqliteClient.InitSchema(); err != nil {
			appLogger.Fatal("Failed to initialize schema", zap.Error(err))
		}
		store = sqliteClient
	}

	app, limiter := api.NewRouter(engine, store, api.Options{
		ReadTimeout:        time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:       time.Duration(cfg.Server.WriteTimeout) * time.Second,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		AccessLog:          true,
		Logger:             appLogger.GetLogger(),
	})
	defer limiter.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr), zap.Int("games", engine.Len()))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
