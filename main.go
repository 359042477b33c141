package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"

	"perpKeeper/config"
	"perpKeeper/internal/adapters/binanceclient"
	"perpKeeper/internal/adapters/llm"
	"perpKeeper/internal/adapters/logger"
	"perpKeeper/internal/adapters/metrics"
	"perpKeeper/internal/adapters/paper"
	"perpKeeper/internal/adapters/sqlite"
	"perpKeeper/internal/app"
	"perpKeeper/internal/market"
	"perpKeeper/internal/ports"
	"perpKeeper/internal/reconcile"
	"perpKeeper/internal/report"
	"perpKeeper/internal/risk"
	"perpKeeper/internal/signal"
)

func main() {
	ctx := context.Background()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.New(cfg.LogFormat(), cfg.LogLevel(), os.Stdout)
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel().String(), "format": cfg.LogFormat()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.Storage.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized", map[string]interface{}{"path": cfg.Storage.DBPath})

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:            cfg.Exchange.APIKey,
		SecretKey:         cfg.Exchange.SecretKey,
		UseTestnet:        cfg.Exchange.Testnet,
		Logger:            appLogger,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		CacheTTL:          cfg.Exchange.CacheTTL,
		MaxRetries:        cfg.Exchange.MaxRetries,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	var gateway ports.ExchangeGateway = binanceClient
	var marketData ports.MarketData = binanceClient
	if cfg.Trading.TestMode {
		paperGateway, err := paper.New(paper.Config{
			Market:   binanceClient,
			Logger:   appLogger,
			Balance:  cfg.Trading.TestBalance,
			Leverage: cfg.Trading.TestLeverage,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize paper gateway: %v", err)
		}
		gateway, marketData = paperGateway, paperGateway
	} else {
		hedge, err := binanceClient.DetectPositionMode(ctx)
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to read position mode")
			log.Fatalf("FATAL: Failed to read position mode: %v", err)
		}
		appLogger.Info(ctx, "Binance client initialized", map[string]interface{}{"hedgeMode": hedge})
	}

	// 5. Initialize Metrics
	appMetrics := metrics.NewMetrics(cfg.Metrics.TextfilePath)

	// 6. Initialize Signal Source
	source, err := buildSignalSource(cfg, appLogger, appMetrics)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize signal source")
		log.Fatalf("FATAL: Failed to initialize signal source: %v", err)
	}
	appLogger.Info(ctx, "Signal source initialized", map[string]interface{}{"source": source.Name(), "strategy": cfg.AI.Strategy})

	// 7. Initialize Market Pipeline
	fetcher, err := market.NewFetcher(market.FetcherConfig{
		Data:        marketData,
		Logger:      appLogger,
		Limits:      cfg.Limits(),
		Concurrency: cfg.Candles.FetchConcurrency,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize candle fetcher: %v", err)
	}
	atrSource, err := market.NewATRSource(marketData, cfg.Candles.Limit1h)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize ATR source: %v", err)
	}

	// 8. Initialize Risk Manager and Reconciliation Engine
	riskManager := risk.NewRiskManager(cfg.RiskConfig(), repo, appLogger)
	engine, err := reconcile.NewEngine(reconcile.Config{
		Gateway:   gateway,
		Positions: repo,
		Events:    repo,
		ATR:       atrSource,
		Metrics:   appMetrics,
		Logger:    appLogger,
		Params:    cfg.ReconcileParams(),
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize reconciliation engine")
		log.Fatalf("FATAL: Failed to initialize reconciliation engine: %v", err)
	}
	reporter, err := report.NewReporter(gateway, repo, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize reporter: %v", err)
	}

	// 9. Initialize Application Service
	service, err := app.NewService(app.Config{
		Gateway:     gateway,
		Positions:   repo,
		Fetcher:     fetcher,
		Summarizer:  market.NewSummarizer(cfg.Thresholds()),
		Signal:      source,
		Risk:        riskManager,
		Reconciler:  engine,
		Reporter:    reporter,
		Metrics:     appMetrics,
		Logger:      appLogger,
		Symbols:     cfg.Trading.Symbols,
		MaxSymbols:  cfg.Trading.MaxSymbols,
		Interval:    cfg.Trading.Interval,
		FillTimeout: cfg.Trading.FillTimeout,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize service")
		log.Fatalf("FATAL: Failed to initialize service: %v", err)
	}
	appLogger.Info(ctx, "Service initialized", map[string]interface{}{"testMode": cfg.Trading.TestMode})

	// 10. Run until SIGINT/SIGTERM
	if err := service.Run(ctx); err != nil {
		appLogger.Error(ctx, err, "Service exited with error")
		log.Fatalf("FATAL: Service exited with error: %v", err) // Also log to stderr
	}

	appLogger.Info(ctx, "Application finished gracefully.")
}

// buildSignalSource creates one model source per enabled provider and
// merges them with the configured strategy.
func buildSignalSource(cfg *config.Config, appLogger ports.Logger, m ports.Metrics) (ports.SignalSource, error) {
	prompts, err := signal.LoadPrompts(cfg.AI.SystemPromptFile, cfg.AI.UserPromptFile)
	if err != nil {
		return nil, err
	}
	strategy, err := signal.ParseStrategy(cfg.AI.Strategy)
	if err != nil {
		return nil, err
	}

	var sources []ports.SignalSource
	if cfg.AI.UsePerplexity {
		cc := llm.DefaultClientConfig(llm.ProviderPerplexity)
		cc.APIKey = cfg.AI.PerplexityAPIKey
		cc.Model = cfg.AI.PerplexityModel
		cc.BaseURL = cfg.AI.PerplexityBaseURL
		cc.Timeout = cfg.AI.Timeout
		cc.Logger = appLogger
		client, err := llm.NewClient(cc)
		if err != nil {
			return nil, err
		}
		src, err := signal.NewModelSource(signal.ModelSourceConfig{
			Name: string(llm.ProviderPerplexity), Primary: client, Prompts: prompts, Logger: appLogger, Metrics: m,
		})
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	if cfg.AI.UseOpenRouter {
		cc := llm.DefaultClientConfig(llm.ProviderOpenRouter)
		cc.APIKey = cfg.AI.OpenRouterAPIKey
		cc.Model = cfg.AI.OpenRouterModel
		cc.BaseURL = cfg.AI.OpenRouterBaseURL
		cc.Timeout = cfg.AI.Timeout
		cc.CacheSystemPrompt = cfg.AI.CacheControl
		cc.Logger = appLogger
		client, err := llm.NewClient(cc)
		if err != nil {
			return nil, err
		}
		msc := signal.ModelSourceConfig{
			Name: string(llm.ProviderOpenRouter), Primary: client, Prompts: prompts, Logger: appLogger, Metrics: m,
		}
		if cfg.AI.TwoLevel {
			msc.Primary = client.WithModel(cfg.AI.ModelLevel1)
			msc.Verifier = client.WithModel(cfg.AI.ModelLevel2)
		}
		src, err := signal.NewModelSource(msc)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return signal.NewCombined(strategy, appLogger, sources...)
}
