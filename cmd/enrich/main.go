package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	redisCache "github.com/game-insight/backend/internal/cache/redis"
	"github.com/game-insight/backend/internal/enrichment"
	"github.com/game-insight/backend/internal/llm"
	"github.com/game-insight/backend/internal/metrics"
	"github.com/game-insight/backend/internal/storage/sqlite"
	"github.com/game-insight/backend/pkg/config"
	appLogger "github.com/game-insight/backend/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	flags := pflag.NewFlagSet("enrich", pflag.ExitOnError)
	flags.String("config", "", "path to a config file")
	flags.String("enrichment.input", "", "raw catalog CSV")
	flags.String("enrichment.output", "", "enriched catalog CSV, overwritten")
	flags.String("enrichment.titleColumn", "", "column holding the game title")
	flags.Duration("enrichment.delay", 0, "wait after every completion request")
	flags.Bool("enrichment.retryErrors", false, "send rows marked ERROR again")
	flags.String("llm.model", "", "completion model")
	flags.String("sqlite.path", "", "run ledger database, empty to disable")
	flags.String("metrics.pushgatewayURL", "", "Pushgateway that receives run metrics, empty to disable")
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

	if err := cfg.ValidateEnrichment(); err != nil {
		appLogger.Fatal("Invalid configuration", zap.Error(err))
	}

	metrics.Init()

	appLogger.Info("Initializing enrichment",
		zap.String("input", cfg.Enrichment.Input),
		zap.String("output", cfg.Enrichment.Output),
		zap.Duration("delay", cfg.Enrichment.Delay),
	)

	var cache enrichment.ReplyCache
	if cfg.Redis.Enabled {
		redisClient, err := redisCache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if err != nil {
			appLogger.Warn("Reply cache unavailable, continuing without it", zap.Error(err))
		} else {
			defer redisClient.Close()
			cache = redisClient
		}
	}

	llmClient := llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		MaxRetries:  cfg.LLM.MaxRetries,
	})

	var stageOpts []enrichment.Option
	if cache != nil {
		stageOpts = append(stageOpts, enrichment.WithReplyCache(cache))
	}

	var recorder enrichment.RunRecorder
	if cfg.SQLite.Path != "" {
		sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
		}
		defer sqliteClient.Close()

		if err := sqliteClient.InitSchema(); err != nil {
			appLogger.Fatal("Failed to initialize schema", zap.Error(err))
		}
		recorder = sqliteClient
	}

	stage := enrichment.NewStage(llmClient, recorder, enrichment.Config{
		TitleColumn: cfg.Enrichment.TitleColumn,
		Delay:       cfg.Enrichment.Delay,
		RetryErrors: cfg.Enrichment.RetryErrors,
		Model:       llmClient.Model(),
		InputPath:   cfg.Enrichment.Input,
		OutputPath:  cfg.Enrichment.Output,
	}, stageOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := stage.RunFile(ctx)
	if err != nil {
		if result == nil {
			// Nothing was written; the input or its title column is unusable.
			appLogger.Fatal("Enrichment aborted", zap.Error(err))
		}
		appLogger.Fatal("Failed to save enriched catalog", zap.Error(err))
	}

	if result.Run.Interrupted {
		appLogger.Warn("Enrichment stopped early, rerun to continue",
			zap.Int("pending", result.Run.Total-result.Run.Skipped-result.Run.Succeeded-result.Run.Failed),
		)
	}

	appLogger.Info("Data saved",
		zap.String("path", cfg.Enrichment.Output),
		zap.Int("enriched", result.Run.Succeeded),
		zap.Int("failed", result.Run.Failed),
		zap.Int("skipped", result.Run.Skipped),
	)

	pushMetrics(cfg.Metrics.PushgatewayURL, "enrich")
}

func pushMetrics(url, job string) {
	if url == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metrics.Push(ctx, url, job); err != nil {
		appLogger.Warn("Failed to push metrics", zap.String("url", url), zap.Error(err))
		return
	}
	appLogger.Info("Metrics pushed", zap.String("url", url), zap.String("job", job))
}
