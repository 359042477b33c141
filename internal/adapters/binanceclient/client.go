package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	quoteAsset = "USDT"
)

// Client implements ports.ExchangeGateway and ports.MarketData on top of
// the go-binance futures client.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	limiter       *rate.Limiter
	maxRetries    uint64
	retryInterval time.Duration
	hedgeMode     bool

	positions *ttlCache[[]ports.ExchangePosition]
	orders    *ttlCache[[]domain.ObservedOrder]
	account   *ttlCache[*futures.Account]

	metaMu     sync.Mutex
	meta       map[string]*domain.InstrumentMeta
	metaLoaded time.Time
	metaTTL    time.Duration
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	BaseURL    string // overrides the production and testnet endpoints
	HTTPClient *http.Client
	Logger     ports.Logger

	RequestsPerSecond float64       // 0 disables client-side rate limiting
	Burst             int           // defaults to 1
	CacheTTL          time.Duration // positions, orders and account (e.g., 2 * time.Second)
	MetaTTL           time.Duration // exchange info (e.g., 1 * time.Hour)
	MaxRetries        int           // retries for transient read failures
	RetryInterval     time.Duration // first retry delay, doubled each attempt
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	default:
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}
	if cfg.HTTPClient != nil {
		client.HTTPClient = cfg.HTTPClient
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL < 0 {
		cacheTTL = 0
	}
	metaTTL := cfg.MetaTTL
	if metaTTL <= 0 {
		metaTTL = time.Hour
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = 500 * time.Millisecond
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		limiter:       rate.NewLimiter(limit, burst),
		maxRetries:    uint64(maxRetries),
		retryInterval: retryInterval,
		positions:     newTTLCache[[]ports.ExchangePosition](cacheTTL),
		orders:        newTTLCache[[]domain.ObservedOrder](cacheTTL),
		account:       newTTLCache[*futures.Account](cacheTTL),
		meta:          make(map[string]*domain.InstrumentMeta),
		metaTTL:       metaTTL,
	}, nil
}

// DetectPositionMode reads whether the account trades in hedge mode. Orders
// carry positionSide in hedge mode and reduceOnly in one-way mode.
func (c *Client) DetectPositionMode(ctx context.Context) (bool, error) {
	op := "DetectPositionMode"
	var mode *futures.PositionMode
	err := c.read(ctx, op, func() (err error) {
		mode, err = c.futuresClient.NewGetPositionModeService().Do(ctx)
		return err
	})
	if err != nil {
		return false, err
	}
	c.hedgeMode = mode.DualSidePosition
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"hedgeMode": c.hedgeMode})
	return c.hedgeMode, nil
}

// read runs a rate-limited read and retries it on transient failures.
func (c *Client) read(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)

	return backoff.Retry(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(c.handleError(ctx, err, op))
		}
		err := fn()
		if err == nil {
			return nil
		}
		mapped := c.handleError(ctx, err, op)
		if ports.IsTransient(mapped) {
			return mapped
		}
		return backoff.Permanent(mapped)
	}, policy)
}

// write runs a rate-limited mutation once. Order placement is not retried
// here; the next reconciliation pass decides whether to try again.
func (c *Client) write(ctx context.Context, op string, fn func() error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	if err := fn(); err != nil {
		return c.handleError(ctx, err, op)
	}
	return nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case 0, -1001, -1007: // Non-JSON 5xx body, internal error, timeout waiting for backend
			mappedErr = ports.ErrExchangeUnavailable
		case -1003, -1015: // Too many requests / orders
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1121: // Invalid symbol
			mappedErr = ports.ErrUnknownSymbol
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010, -2021, -2022: // New order rejected; would immediately trigger; ReduceOnly rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015: // Invalid API-key, IP, or permissions for action
			mappedErr = ports.ErrInvalidAPIKeys
		case -2019, -3005, -3041, -4047: // Margin or balance insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -4003, -4014, -4015, -4164: // Qty, price or notional not within permissible range
			mappedErr = ports.ErrInvalidRequest
		case -4044: // Position not found
			mappedErr = ports.ErrPositionNotFound
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		if errors.Is(mappedErr, ports.ErrOrderNotFound) {
			c.logger.Debug(ctx, fmt.Sprintf("%s: order already gone", operation), fields)
		} else {
			c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		}
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "EOF") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// invalidate drops cached account state after a mutation.
func (c *Client) invalidate() {
	c.positions.invalidate()
	c.orders.invalidate()
	c.account.invalidate()
}
