package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"perpKeeper/internal/adapters/logger"
	"perpKeeper/internal/indicators"
	"perpKeeper/internal/market"
	"perpKeeper/internal/reconcile"
	"perpKeeper/internal/risk"
)

// Config holds all application configuration.
type Config struct {
	Exchange   ExchangeConfig  `toml:"exchange"`
	Trading    TradingConfig   `toml:"trading"`
	Cooldown   CooldownConfig  `toml:"cooldown"`
	Candles    CandleConfig    `toml:"candles"`
	Indicators IndicatorConfig `toml:"indicators"`
	AI         AIConfig        `toml:"ai"`
	Storage    StorageConfig   `toml:"storage"`
	Logging    LoggingConfig   `toml:"logging"`
	Metrics    MetricsConfig   `toml:"metrics"`
}

// ExchangeConfig covers the Binance USDⓈ-M futures connection.
type ExchangeConfig struct {
	APIKey            string        `toml:"api_key"`
	SecretKey         string        `toml:"secret_key"`
	Testnet           bool          `toml:"testnet"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	CacheTTL          time.Duration `toml:"cache_ttl"`
	MaxRetries        int           `toml:"max_retries"`
}

// TradingConfig covers symbols, the cycle and sizing.
type TradingConfig struct {
	Symbols                 []string      `toml:"symbols"`
	MaxSymbols              int           `toml:"max_symbols"`
	Interval                time.Duration `toml:"interval"`
	TestMode                bool          `toml:"test_mode"`
	TestBalance             float64       `toml:"test_balance"`
	TestLeverage            int           `toml:"test_leverage"`
	PositionSizePercent     float64       `toml:"position_size_percent"`
	MaxTotalPositionPercent float64       `toml:"max_total_position_percent"`
	ATRMultiplier           float64       `toml:"atr_multiplier"`
	TP1Percent              float64       `toml:"tp1_percent"`
	TP1SizePercent          float64       `toml:"tp1_size_percent"`
	TP2Percent              float64       `toml:"tp2_percent"`
	TP2SizePercent          float64       `toml:"tp2_size_percent"`
	FillTimeout             time.Duration `toml:"fill_timeout"`
	CancelConfirmTimeout    time.Duration `toml:"cancel_confirm_timeout"`
}

// CooldownConfig covers the entry gates and flip hysteresis.
type CooldownConfig struct {
	NoAddAfterTPEnabled    bool          `toml:"no_add_after_tp_enabled"`
	NoAddAfterTP           time.Duration `toml:"no_add_after_tp"`
	NoReopenAfterSLEnabled bool          `toml:"no_reopen_after_sl_enabled"`
	NoReopenAfterSL        time.Duration `toml:"no_reopen_after_sl"`
	FlipWindow             time.Duration `toml:"flip_window"`
	FlipSignalsRequired    int           `toml:"flip_signals_required"`
}

// CandleConfig is the history fetched per interval each cycle.
type CandleConfig struct {
	Limit1d          int `toml:"limit_1d"`
	Limit1h          int `toml:"limit_1h"`
	Limit1m          int `toml:"limit_1m"`
	FetchConcurrency int `toml:"fetch_concurrency"`
}

// IndicatorConfig holds the oscillator thresholds.
type IndicatorConfig struct {
	RSIOverbought   float64 `toml:"rsi_overbought"`
	RSIOversold     float64 `toml:"rsi_oversold"`
	StochOverbought float64 `toml:"stoch_overbought"`
	StochOversold   float64 `toml:"stoch_oversold"`
	WillROverbought float64 `toml:"willr_overbought"`
	WillROversold   float64 `toml:"willr_oversold"`
}

// AIConfig covers the signal providers.
type AIConfig struct {
	UsePerplexity     bool          `toml:"use_perplexity"`
	PerplexityAPIKey  string        `toml:"perplexity_api_key"`
	PerplexityModel   string        `toml:"perplexity_model"`
	PerplexityBaseURL string        `toml:"perplexity_base_url"`
	UseOpenRouter     bool          `toml:"use_openrouter"`
	OpenRouterAPIKey  string        `toml:"openrouter_api_key"`
	OpenRouterModel   string        `toml:"openrouter_model"`
	OpenRouterBaseURL string        `toml:"openrouter_base_url"`
	CacheControl      bool          `toml:"openrouter_cache_control"`
	TwoLevel          bool          `toml:"two_level_verification"`
	ModelLevel1       string        `toml:"model_level1"`
	ModelLevel2       string        `toml:"model_level2"`
	Strategy          string        `toml:"signal_strategy"`
	SystemPromptFile  string        `toml:"system_prompt_file"`
	UserPromptFile    string        `toml:"user_prompt_file"`
	Timeout           time.Duration `toml:"timeout"`
}

// StorageConfig locates the database.
type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

// LoggingConfig selects level and encoding.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig locates the node-exporter textfile. Empty disables it.
type MetricsConfig struct {
	TextfilePath string `toml:"textfile_path"`
}

// Defaults returns the production defaults.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			Testnet:           true, // Default to testnet for safety
			RequestsPerSecond: 10,
			CacheTTL:          2 * time.Second,
			MaxRetries:        3,
		},
		Trading: TradingConfig{
			Symbols:                 []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "DOGEUSDT"},
			MaxSymbols:              5,
			Interval:                180 * time.Second,
			TestBalance:             1000,
			TestLeverage:            1,
			PositionSizePercent:     100,
			MaxTotalPositionPercent: 400,
			ATRMultiplier:           1.5,
			TP1Percent:              1,
			TP1SizePercent:          30,
			TP2Percent:              1,
			TP2SizePercent:          20,
			FillTimeout:             10 * time.Second,
			CancelConfirmTimeout:    5 * time.Second,
		},
		Cooldown: CooldownConfig{
			NoAddAfterTPEnabled:    true,
			NoAddAfterTP:           30 * time.Minute,
			NoReopenAfterSLEnabled: true,
			NoReopenAfterSL:        90 * time.Minute,
			FlipWindow:             30 * time.Minute,
			FlipSignalsRequired:    2,
		},
		Candles: CandleConfig{Limit1d: 360, Limit1h: 200, Limit1m: 1440, FetchConcurrency: 4},
		Indicators: IndicatorConfig{
			RSIOverbought: 70, RSIOversold: 30,
			StochOverbought: 80, StochOversold: 20,
			WillROverbought: -20, WillROversold: -80,
		},
		AI: AIConfig{
			PerplexityModel:   "sonar",
			PerplexityBaseURL: "https://api.perplexity.ai",
			UseOpenRouter:     true,
			OpenRouterModel:   "x-ai/grok-4.1-fast",
			OpenRouterBaseURL: "https://openrouter.ai/api/v1",
			ModelLevel1:       "x-ai/grok-4.1-fast",
			ModelLevel2:       "deepseek/deepseek-v3.2",
			Strategy:          "any",
			Timeout:           120 * time.Second,
		},
		Storage: StorageConfig{DBPath: "./data/positions.db"},
		Logging: LoggingConfig{Level: "INFO", Format: "text"},
	}
}

// LoadConfig builds the configuration: defaults, then the TOML file named by
// CONFIG_FILE (if any), then .env and environment variables, then validation.
func LoadConfig() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	var errs []string // Collect parse and validation errors
	applyEnvOverrides(&cfg, &errs)
	errs = append(errs, cfg.Validate()...)

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config, errs *[]string) {
	e := envReader{errs: errs}

	// Binance API
	e.setStr(&cfg.Exchange.APIKey, "BINANCE_API_KEY")
	e.setStr(&cfg.Exchange.SecretKey, "BINANCE_API_SECRET")
	e.setBool(&cfg.Exchange.Testnet, "IS_TESTNET")
	e.setFloat(&cfg.Exchange.RequestsPerSecond, "BINANCE_REQUESTS_PER_SECOND")
	e.setDuration(&cfg.Exchange.CacheTTL, "BINANCE_CACHE_TTL", time.Second)
	e.setInt(&cfg.Exchange.MaxRetries, "BINANCE_MAX_RETRIES")

	// Trading
	e.setList(&cfg.Trading.Symbols, "SYMBOLS")
	e.setInt(&cfg.Trading.MaxSymbols, "MAX_SYMBOLS")
	e.setDuration(&cfg.Trading.Interval, "INTERVAL", time.Second)
	e.setBool(&cfg.Trading.TestMode, "TEST_MODE")
	e.setFloat(&cfg.Trading.TestBalance, "TEST_BALANCE")
	e.setInt(&cfg.Trading.TestLeverage, "TEST_LEVERAGE")
	e.setFloat(&cfg.Trading.PositionSizePercent, "POSITION_SIZE_PERCENT")
	e.setFloat(&cfg.Trading.MaxTotalPositionPercent, "MAX_TOTAL_POSITION_PERCENT")
	e.setFloat(&cfg.Trading.ATRMultiplier, "ATR_MULTIPLIER")
	e.setFloat(&cfg.Trading.TP1Percent, "TAKE_PROFIT_1_PERCENT")
	e.setFloat(&cfg.Trading.TP1SizePercent, "TAKE_PROFIT_1_SIZE_PERCENT")
	e.setFloat(&cfg.Trading.TP2Percent, "TAKE_PROFIT_2_PERCENT")
	e.setFloat(&cfg.Trading.TP2SizePercent, "TAKE_PROFIT_2_SIZE_PERCENT")
	e.setDuration(&cfg.Trading.FillTimeout, "FILL_TIMEOUT", time.Second)
	e.setDuration(&cfg.Trading.CancelConfirmTimeout, "CANCEL_CONFIRM_TIMEOUT", time.Second)

	// Cooldowns
	e.setBool(&cfg.Cooldown.NoAddAfterTPEnabled, "ENABLE_NO_ADD_AFTER_TP")
	e.setDuration(&cfg.Cooldown.NoAddAfterTP, "NO_ADD_AFTER_TP_MINUTES", time.Minute)
	e.setBool(&cfg.Cooldown.NoReopenAfterSLEnabled, "ENABLE_NO_REOPEN_AFTER_SL")
	e.setDuration(&cfg.Cooldown.NoReopenAfterSL, "NO_REOPEN_AFTER_SL_MINUTES", time.Minute)
	e.setDuration(&cfg.Cooldown.FlipWindow, "FLIP_WINDOW_MINUTES", time.Minute)
	e.setInt(&cfg.Cooldown.FlipSignalsRequired, "FLIP_SIGNALS_REQUIRED")

	// Candles
	e.setInt(&cfg.Candles.Limit1d, "LIMIT_1D")
	e.setInt(&cfg.Candles.Limit1h, "LIMIT_1H")
	e.setInt(&cfg.Candles.Limit1m, "LIMIT_1M")
	e.setInt(&cfg.Candles.FetchConcurrency, "FETCH_CONCURRENCY")

	// Indicator thresholds
	e.setFloat(&cfg.Indicators.RSIOverbought, "RSI_OVERBOUGHT")
	e.setFloat(&cfg.Indicators.RSIOversold, "RSI_OVERSOLD")
	e.setFloat(&cfg.Indicators.StochOverbought, "STOCH_OVERBOUGHT")
	e.setFloat(&cfg.Indicators.StochOversold, "STOCH_OVERSOLD")
	e.setFloat(&cfg.Indicators.WillROverbought, "WILLR_OVERBOUGHT")
	e.setFloat(&cfg.Indicators.WillROversold, "WILLR_OVERSOLD")

	// AI
	e.setBool(&cfg.AI.UsePerplexity, "USE_PERPLEXITY")
	e.setStr(&cfg.AI.PerplexityAPIKey, "PERPLEXITY_API_KEY")
	e.setStr(&cfg.AI.PerplexityModel, "PERPLEXITY_MODEL")
	e.setStr(&cfg.AI.PerplexityBaseURL, "PERPLEXITY_BASE_URL")
	e.setBool(&cfg.AI.UseOpenRouter, "USE_OPENROUTER")
	e.setStr(&cfg.AI.OpenRouterAPIKey, "OPENROUTER_API_KEY")
	e.setStr(&cfg.AI.OpenRouterModel, "OPENROUTER_MODEL")
	e.setStr(&cfg.AI.OpenRouterBaseURL, "OPENROUTER_BASE_URL")
	e.setBool(&cfg.AI.CacheControl, "OPENROUTER_ENABLE_CACHE_CONTROL")
	e.setBool(&cfg.AI.TwoLevel, "ENABLE_TWO_LEVEL_VERIFICATION")
	e.setStr(&cfg.AI.ModelLevel1, "OPENROUTER_MODEL_LEVEL1")
	e.setStr(&cfg.AI.ModelLevel2, "OPENROUTER_MODEL_LEVEL2")
	e.setStr(&cfg.AI.Strategy, "SIGNAL_STRATEGY")
	e.setStr(&cfg.AI.SystemPromptFile, "SYSTEM_PROMPT_FILE")
	e.setStr(&cfg.AI.UserPromptFile, "USER_PROMPT_FILE")
	e.setDuration(&cfg.AI.Timeout, "AI_TIMEOUT", time.Second)

	// Storage, logging, metrics
	e.setStr(&cfg.Storage.DBPath, "DB_PATH")
	e.setStr(&cfg.Logging.Level, "LOG_LEVEL")
	e.setStr(&cfg.Logging.Format, "LOG_FORMAT")
	e.setStr(&cfg.Metrics.TextfilePath, "METRICS_TEXTFILE")
}

// Validate returns every problem found; an empty result means the config is usable.
func (c *Config) Validate() []string {
	var errs []string

	if !c.Trading.TestMode {
		// Basic API Key validation (can be enhanced)
		if c.Exchange.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set")
		}
		if c.Exchange.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set")
		}
	}
	if c.Exchange.RequestsPerSecond < 0 {
		errs = append(errs, "BINANCE_REQUESTS_PER_SECOND cannot be negative")
	}
	if c.Exchange.MaxRetries < 0 {
		errs = append(errs, "BINANCE_MAX_RETRIES cannot be negative")
	}

	t := c.Trading
	if len(t.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one symbol")
	}
	if t.MaxSymbols <= 0 {
		errs = append(errs, "MAX_SYMBOLS must be positive")
	}
	if t.Interval < time.Second {
		errs = append(errs, "INTERVAL must be at least one second")
	}
	if t.TestMode && t.TestBalance <= 0 {
		errs = append(errs, "TEST_BALANCE must be positive in test mode")
	}
	if t.TestLeverage <= 0 {
		errs = append(errs, "TEST_LEVERAGE must be positive")
	}
	if t.PositionSizePercent <= 0 {
		errs = append(errs, "POSITION_SIZE_PERCENT must be positive")
	}
	if t.MaxTotalPositionPercent <= 0 {
		errs = append(errs, "MAX_TOTAL_POSITION_PERCENT must be positive")
	}
	if t.ATRMultiplier <= 0 {
		errs = append(errs, "ATR_MULTIPLIER must be positive")
	}
	if t.TP1Percent <= 0 || t.TP2Percent <= 0 {
		errs = append(errs, "TAKE_PROFIT_1_PERCENT and TAKE_PROFIT_2_PERCENT must be positive")
	}
	if t.TP1SizePercent <= 0 || t.TP1SizePercent >= 100 {
		errs = append(errs, "TAKE_PROFIT_1_SIZE_PERCENT must be between 0 and 100 (exclusive)")
	}
	if t.TP2SizePercent <= 0 || t.TP2SizePercent >= 100 {
		errs = append(errs, "TAKE_PROFIT_2_SIZE_PERCENT must be between 0 and 100 (exclusive)")
	}
	if t.FillTimeout <= 0 || t.CancelConfirmTimeout <= 0 {
		errs = append(errs, "FILL_TIMEOUT and CANCEL_CONFIRM_TIMEOUT must be positive")
	}

	cd := c.Cooldown
	if cd.NoAddAfterTP < 0 || cd.NoReopenAfterSL < 0 {
		errs = append(errs, "cooldown windows cannot be negative")
	}
	if cd.FlipWindow <= 0 || cd.FlipSignalsRequired <= 0 {
		errs = append(errs, "FLIP_WINDOW_MINUTES and FLIP_SIGNALS_REQUIRED must be positive")
	}

	if c.Candles.Limit1d <= 0 || c.Candles.Limit1h <= 0 || c.Candles.Limit1m <= 0 {
		errs = append(errs, "candle limits must be positive")
	}
	if c.Candles.Limit1h <= 15 {
		errs = append(errs, "LIMIT_1H must exceed 15 for ATR(14)")
	}
	if c.Candles.FetchConcurrency <= 0 {
		errs = append(errs, "FETCH_CONCURRENCY must be positive")
	}

	in := c.Indicators
	if in.RSIOverbought <= in.RSIOversold || in.RSIOverbought > 100 || in.RSIOversold < 0 {
		errs = append(errs, "invalid RSI thresholds (Overbought must be > Oversold, between 0-100)")
	}
	if in.StochOverbought <= in.StochOversold || in.StochOverbought > 100 || in.StochOversold < 0 {
		errs = append(errs, "invalid Stochastic thresholds (Overbought must be > Oversold, between 0-100)")
	}
	if in.WillROverbought <= in.WillROversold || in.WillROverbought > 0 || in.WillROversold < -100 {
		errs = append(errs, "invalid Williams %R thresholds (Overbought must be > Oversold, between -100-0)")
	}

	ai := c.AI
	if !ai.UsePerplexity && !ai.UseOpenRouter {
		errs = append(errs, "at least one of USE_PERPLEXITY and USE_OPENROUTER must be enabled")
	}
	if ai.UsePerplexity && ai.PerplexityAPIKey == "" {
		errs = append(errs, "PERPLEXITY_API_KEY must be set when USE_PERPLEXITY is on")
	}
	if ai.UseOpenRouter && ai.OpenRouterAPIKey == "" {
		errs = append(errs, "OPENROUTER_API_KEY must be set when USE_OPENROUTER is on")
	}
	if ai.UseOpenRouter && ai.TwoLevel && (ai.ModelLevel1 == "" || ai.ModelLevel2 == "") {
		errs = append(errs, "OPENROUTER_MODEL_LEVEL1 and OPENROUTER_MODEL_LEVEL2 must be set for two-level verification")
	}
	switch strings.ToLower(ai.Strategy) {
	case "any", "unanimous", "priority_perplexity", "priority_openrouter":
	default:
		errs = append(errs, fmt.Sprintf("unknown SIGNAL_STRATEGY %q", ai.Strategy))
	}
	if ai.Timeout <= 0 {
		errs = append(errs, "AI_TIMEOUT must be positive")
	}

	// Database
	if c.Storage.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}
	switch logger.Format(strings.ToLower(c.Logging.Format)) {
	case logger.FormatText, logger.FormatJSON:
	default:
		errs = append(errs, fmt.Sprintf("LOG_FORMAT must be text or json, got %q", c.Logging.Format))
	}
	return errs
}

// ActiveSymbols is the watched symbol list capped at MaxSymbols.
func (c *Config) ActiveSymbols() []string {
	if len(c.Trading.Symbols) > c.Trading.MaxSymbols {
		return c.Trading.Symbols[:c.Trading.MaxSymbols]
	}
	return c.Trading.Symbols
}

// LogLevel parses the configured level.
func (c *Config) LogLevel() logger.LogLevel {
	return logger.ParseLevel(c.Logging.Level)
}

// LogFormat returns the configured encoding.
func (c *Config) LogFormat() logger.Format {
	return logger.Format(strings.ToLower(c.Logging.Format))
}

// RiskConfig maps sizing, cooldown and flip settings onto the risk manager.
func (c *Config) RiskConfig() risk.RiskConfig {
	return risk.RiskConfig{
		PositionSizePercent:     c.Trading.PositionSizePercent,
		MaxTotalPositionPercent: c.Trading.MaxTotalPositionPercent,
		AddAfterTPEnabled:       c.Cooldown.NoAddAfterTPEnabled,
		AddAfterTPCooldown:      c.Cooldown.NoAddAfterTP,
		ReopenAfterSLEnabled:    c.Cooldown.NoReopenAfterSLEnabled,
		ReopenAfterSLCooldown:   c.Cooldown.NoReopenAfterSL,
		FlipWindow:              c.Cooldown.FlipWindow,
		FlipSignalsRequired:     c.Cooldown.FlipSignalsRequired,
	}
}

// ReconcileParams overlays the configured targets on the reconcile defaults.
func (c *Config) ReconcileParams() reconcile.Params {
	p := reconcile.DefaultParams()
	p.ATRMultiplier = c.Trading.ATRMultiplier
	p.TP1Percent = c.Trading.TP1Percent
	p.TP1SizePercent = c.Trading.TP1SizePercent
	p.TP2Percent = c.Trading.TP2Percent
	p.TP2SizePercent = c.Trading.TP2SizePercent
	p.ConfirmTimeout = c.Trading.CancelConfirmTimeout
	return p
}

// Limits returns the candle history per interval.
func (c *Config) Limits() market.Limits {
	return market.Limits{Day: c.Candles.Limit1d, Hour: c.Candles.Limit1h, Minute: c.Candles.Limit1m}
}

// Thresholds returns the oscillator bounds.
func (c *Config) Thresholds() market.Thresholds {
	in := c.Indicators
	return market.Thresholds{
		RSI:        indicators.Thresholds{Overbought: in.RSIOverbought, Oversold: in.RSIOversold},
		Stochastic: indicators.Thresholds{Overbought: in.StochOverbought, Oversold: in.StochOversold},
		WilliamsR:  indicators.Thresholds{Overbought: in.WillROverbought, Oversold: in.WillROversold},
	}
}

// --- Env Var Helpers ---

// envReader overwrites fields from set environment variables and records
// values that fail to parse.
type envReader struct {
	errs *[]string
}

func (e envReader) fail(key, value, kind string, err error) {
	*e.errs = append(*e.errs, fmt.Sprintf("invalid %s value '%s' for key %s: %v", kind, value, key, err))
}

func (e envReader) setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (e envReader) setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, "integer", err)
		return
	}
	*dst = n
}

func (e envReader) setFloat(dst *float64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, "float", err)
		return
	}
	*dst = f
}

func (e envReader) setBool(dst *bool, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, "boolean", err)
		return
	}
	*dst = b
}

// setDuration accepts a bare number in unit or a Go duration string.
func (e envReader) setDuration(dst *time.Duration, key string, unit time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(n * float64(unit))
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, "duration", err)
		return
	}
	*dst = d
}

func (e envReader) setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}
