package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"perpKeeper/config"
	"perpKeeper/internal/adapters/binanceclient"
	"perpKeeper/internal/adapters/logger"
	"perpKeeper/internal/market"
	"perpKeeper/internal/signal"
)

// Prints the market summary and the full prompt the signal source would
// receive for the configured symbols, without calling any model.
func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.New(cfg.LogFormat(), cfg.LogLevel(), os.Stderr)
	ctx := context.Background()

	// 3. Initialize Exchange Client (Binance Adapter); candles are public
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:            cfg.Exchange.APIKey,
		SecretKey:         cfg.Exchange.SecretKey,
		UseTestnet:        cfg.Exchange.Testnet,
		Logger:            appLogger,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		MaxRetries:        cfg.Exchange.MaxRetries,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	fetcher, err := market.NewFetcher(market.FetcherConfig{
		Data:        binanceClient,
		Logger:      appLogger,
		Limits:      cfg.Limits(),
		Concurrency: cfg.Candles.FetchConcurrency,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize candle fetcher: %v", err)
	}

	symbols := cfg.ActiveSymbols()
	snap, valid, err := fetcher.Fetch(ctx, symbols)
	if err != nil {
		log.Fatalf("Error fetching candles: %v", err)
	}
	if len(valid) < len(symbols) {
		fmt.Fprintf(os.Stderr, "Incomplete data, skipped: %s\n", strings.Join(missing(symbols, valid), ", "))
	}

	prompts, err := signal.LoadPrompts(cfg.AI.SystemPromptFile, cfg.AI.UserPromptFile)
	if err != nil {
		log.Fatalf("Error loading prompts: %v", err)
	}
	summary := market.NewSummarizer(cfg.Thresholds()).Compress(ctx, snap, valid)

	fmt.Println("=== System prompt ===")
	fmt.Println(prompts.System)
	fmt.Println("\n=== User prompt ===")
	fmt.Println(prompts.User(summary))

	for _, s := range valid {
		if v, err := market.HourlyATR(ctx, snap[s]["1h"]); err == nil {
			fmt.Fprintf(os.Stderr, "%s ATR(%d) 1h: %.4f\n", s, market.ATRPeriod, v)
		}
	}
}

func missing(all, valid []string) []string {
	ok := make(map[string]bool, len(valid))
	for _, v := range valid {
		ok[v] = true
	}
	var out []string
	for _, s := range all {
		if !ok[s] {
			out = append(out, s)
		}
	}
	return out
}
