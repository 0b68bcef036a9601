package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/game-insight/backend/internal/catalog"
	"github.com/game-insight/backend/internal/metrics"
	"github.com/game-insight/backend/internal/recommend"
	"github.com/game-insight/backend/pkg/config"
	appLogger "github.com/game-insight/backend/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	flags := pflag.NewFlagSet("recommend", pflag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: recommend [flags] [title...]\n")
		flags.PrintDefaults()
	}
	flags.String("config", "", "path to a config file")
	flags.String("recommend.input", "", "enriched catalog CSV")
	flags.String("recommend.titleColumn", "", "column holding the game title")
	flags.Int("recommend.topK", 0, "recommendations per title")
	flags.String("recommend.tokenizer", "", "word or prose")
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

	if err := cfg.ValidateRecommend(); err != nil {
		appLogger.Fatal("Invalid configuration", zap.Error(err))
	}

	metrics.Init()

	titles := cfg.Recommend.Titles
	if flags.NArg() > 0 {
		titles = flags.Args()
	}

	corpus, err := catalog.LoadCorpus(cfg.Recommend.Input, cfg.Recommend.TitleColumn)
	if err != nil {
		appLogger.Fatal("Failed to load catalog, run the enrichment stage first",
			zap.String("path", cfg.Recommend.Input),
			zap.Error(err),
		)
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

	fmt.Println("\n--- Recommendation Results ---")
	for _, title := range titles {
		fmt.Printf("\nTarget Game: %s\n", title)
		for i, rec := range engine.Titles(title) {
			fmt.Printf("%d. %s\n", i+1, rec)
		}
	}

	pushMetrics(cfg.Metrics.PushgatewayURL, "recommend")
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
