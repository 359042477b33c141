package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/market"
	"perpKeeper/internal/ports"
	"perpKeeper/internal/reconcile"
	"perpKeeper/internal/risk"

	"github.com/cenkalti/backoff/v4"
)

// Fetcher loads candles for the watched symbols.
type Fetcher interface {
	Fetch(ctx context.Context, symbols []string) (domain.MarketSnapshot, []string, error)
}

// Summarizer compresses a snapshot into the text a signal source reads.
type Summarizer interface {
	Compress(ctx context.Context, snap domain.MarketSnapshot, symbols []string) string
}

// Reconciler keeps records and protective orders in line with the exchange.
type Reconciler interface {
	Sync(ctx context.Context) (*reconcile.Report, error)
	Reconcile(ctx context.Context) (*reconcile.Report, error)
}

// Renderer writes a read-only state summary.
type Renderer interface {
	Render(ctx context.Context, w io.Writer) error
}

// Config wires a Service.
type Config struct {
	Gateway    ports.ExchangeGateway
	Positions  ports.PositionStore
	Fetcher    Fetcher
	Summarizer Summarizer
	Signal     ports.SignalSource
	Risk       *risk.RiskManager
	Reconciler Reconciler
	Reporter   Renderer
	Metrics    ports.Metrics
	Logger     ports.Logger

	Symbols     []string
	MaxSymbols  int
	Interval    time.Duration
	FillTimeout time.Duration // how long to wait for a filled entry to show as a position
	Out         io.Writer     // report destination; defaults to stdout

	// NewBackOff builds the fill poll schedule. Defaults to exponential
	// backoff bounded by FillTimeout.
	NewBackOff func() backoff.BackOff
}

// Service drives the keeper's cycle: read the market, ask for a decision,
// act on it, then reconcile every position's protective orders.
type Service struct {
	gateway    ports.ExchangeGateway
	positions  ports.PositionStore
	fetcher    Fetcher
	summarizer Summarizer
	source     ports.SignalSource
	risk       *risk.RiskManager
	reconciler Reconciler
	reporter   Renderer
	metrics    ports.Metrics
	logger     ports.Logger

	symbols    []string
	interval   time.Duration
	out        io.Writer
	newBackOff func() backoff.BackOff
	now        func() time.Time
}

// NewService creates a new application service instance.
func NewService(cfg Config) (*Service, error) {
	// Validate dependencies
	if cfg.Gateway == nil || cfg.Positions == nil || cfg.Fetcher == nil || cfg.Summarizer == nil ||
		cfg.Signal == nil || cfg.Risk == nil || cfg.Reconciler == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Service")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("cycle interval must be positive")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NopMetrics{}
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 10 * time.Second
	}

	symbols := cfg.Symbols
	if cfg.MaxSymbols > 0 && len(symbols) > cfg.MaxSymbols {
		symbols = symbols[:cfg.MaxSymbols]
	}

	s := &Service{
		gateway:    cfg.Gateway,
		positions:  cfg.Positions,
		fetcher:    cfg.Fetcher,
		summarizer: cfg.Summarizer,
		source:     cfg.Signal,
		risk:       cfg.Risk,
		reconciler: cfg.Reconciler,
		reporter:   cfg.Reporter,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		symbols:    symbols,
		interval:   cfg.Interval,
		out:        cfg.Out,
		newBackOff: cfg.NewBackOff,
		now:        time.Now,
	}
	if s.newBackOff == nil {
		timeout := cfg.FillTimeout
		s.newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = timeout
			return b
		}
	}
	return s, nil
}

// Run starts the cycle loop and blocks until ctx is cancelled or the
// process receives SIGINT/SIGTERM. A cycle in flight when the stop arrives
// runs to completion; a final report is rendered before returning.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info(ctx, "Starting perpKeeper service...", map[string]interface{}{
		"symbols": s.symbols, "interval": s.interval.String(), "source": s.source.Name(),
	})

	// Create a context that can be canceled by signals
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.Startup(ctx); err != nil {
		return err
	}

	for {
		// The cycle itself ignores cancellation so orders and records never
		// diverge halfway through a step.
		_ = s.RunCycle(context.WithoutCancel(ctx))

		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Main context cancelled, initiating shutdown...")
			s.renderReport(context.WithoutCancel(ctx))
			s.logger.Info(ctx, "perpKeeper service stopped.")
			return nil
		case <-time.After(s.interval):
		}
	}
}

// Startup checks the account is funded and syncs records with the exchange.
func (s *Service) Startup(ctx context.Context) error {
	op := "Startup"

	// 1. Balance must be positive
	balance, err := s.gateway.GetBalance(ctx)
	if err != nil {
		s.logger.Error(ctx, err, op+": Failed to read balance")
		return fmt.Errorf("failed to read balance: %w", err)
	}
	available, err := s.gateway.GetAvailableBalance(ctx)
	if err != nil {
		s.logger.Error(ctx, err, op+": Failed to read available balance")
		return fmt.Errorf("failed to read available balance: %w", err)
	}
	s.logger.Info(ctx, op+": Account balance", map[string]interface{}{"balance": balance, "available": available})
	if balance <= 0 {
		err := fmt.Errorf("%w: balance is %.2f", ports.ErrInsufficientFunds, balance)
		s.logger.Error(ctx, err, op+": Insufficient funds")
		return err
	}
	s.metrics.SetBalance(balance)

	// 2. Sync existing position state
	s.logger.Info(ctx, op+": Synchronizing initial state...")
	report, err := s.reconciler.Sync(ctx)
	if err != nil {
		s.logger.Error(ctx, err, op+": Failed to synchronize positions")
		return fmt.Errorf("failed to synchronize positions: %w", err)
	}
	s.logger.Info(ctx, op+": Initial state synchronized", map[string]interface{}{
		"positions": report.Positions, "adopted": len(report.Adopted), "closed": len(report.Closed),
	})
	return nil
}

// RunCycle executes one cycle. Errors are logged and recorded in metrics;
// the returned error is informational, the loop always continues.
func (s *Service) RunCycle(ctx context.Context) error {
	start := s.now()
	err := s.cycle(ctx)
	s.metrics.CycleCompleted(s.now().Sub(start), err)
	if err != nil {
		s.logger.Error(ctx, err, "Cycle failed")
	}
	if ferr := s.metrics.Flush(); ferr != nil {
		s.logger.Warn(ctx, "Failed to flush metrics", map[string]interface{}{"error": ferr.Error()})
	}
	return err
}

func (s *Service) cycle(ctx context.Context) error {
	op := "cycle"

	// 1. Balance
	balance, err := s.gateway.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to read balance: %w", op, err)
	}
	available, err := s.gateway.GetAvailableBalance(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to read available balance: %w", op, err)
	}
	s.metrics.SetBalance(balance)
	s.logger.Info(ctx, op+": Balance", map[string]interface{}{"balance": balance, "available": available})

	// 2. Market data and decision
	snap, valid, err := s.fetcher.Fetch(ctx, s.symbols)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(valid) == 0 {
		s.logger.Warn(ctx, op+": No symbol has complete candle data, skipping signal", map[string]interface{}{"symbols": s.symbols})
	} else {
		summary := s.summarizer.Compress(ctx, snap, valid)
		decision, err := s.source.Analyze(ctx, summary, valid)
		if err != nil {
			s.logger.Error(ctx, err, op+": Signal source failed, holding", map[string]interface{}{"source": s.source.Name()})
		}
		s.logger.Info(ctx, op+": Decision", map[string]interface{}{"decision": decision.String(), "reason": decision.Reason})

		// 3. Execute
		if decision.IsTrade() && slices.Contains(valid, decision.Symbol) {
			if err := s.executeSignal(ctx, decision, snap, balance, available); err != nil {
				s.logger.Error(ctx, err, op+": Signal execution failed", map[string]interface{}{"decision": decision.String()})
			}
		}
	}

	// 4. Always reconcile
	var cycleErr error
	report, err := s.reconciler.Reconcile(ctx)
	if err != nil {
		cycleErr = fmt.Errorf("%s: %w", op, err)
	}
	if report != nil {
		s.metrics.SetOpenPositions(report.Positions)
	}

	// 5. Report
	s.renderReport(ctx)
	return cycleErr
}

func (s *Service) renderReport(ctx context.Context) {
	if s.reporter == nil {
		return
	}
	if err := s.reporter.Render(ctx, s.out); err != nil {
		s.logger.Warn(ctx, "Failed to render report", map[string]interface{}{"error": err.Error()})
	}
}

// Refusal labels for the entry_refusals metric.
const (
	refusedATR      = "atr"
	refusedFlipWait = "flip_pending"
	refusedReopen   = "reopen_after_sl"
	refusedAdd      = "add_after_tp"
	refusedSize     = "sizing"
)

// executeSignal turns a trade decision into a market entry. Protective
// orders are left to the reconciliation that follows.
func (s *Service) executeSignal(ctx context.Context, dec domain.Decision, snap domain.MarketSnapshot, balance, available float64) error {
	op := "executeSignal"
	symbol, dir := dec.Symbol, dec.Direction()

	// 1. Volatility
	atr, err := market.HourlyATR(ctx, snap[symbol][domain.Interval1h])
	if err != nil {
		s.metrics.EntryRefused(refusedATR)
		s.logger.Warn(ctx, op+": ATR unavailable, skipping entry", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return nil
	}

	positions, err := s.gateway.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to read open positions: %w", err)
	}
	same, opposite := findPosition(positions, symbol, dir), findPosition(positions, symbol, dir.Opposite())

	// 2. Flip protocol
	if opposite != nil {
		status, err := s.risk.RegisterOppositeSignal(ctx, symbol, dir)
		if err != nil {
			return err
		}
		if !status.Ready {
			s.metrics.EntryRefused(refusedFlipWait)
			s.logger.Info(ctx, op+": Opposite position open, waiting for more signals", map[string]interface{}{
				"symbol": symbol, "open": opposite.Direction, "count": status.Count, "required": status.Required,
			})
			return nil
		}
		if err := s.flip(ctx, *opposite); err != nil {
			return err
		}
	}

	// 3. Cooldowns
	gate, err := s.risk.CanOpenPosition(ctx, symbol, dir)
	if err != nil {
		return err
	}
	if !gate.Allowed {
		s.metrics.EntryRefused(refusedReopen)
		s.logger.Info(ctx, op+": Entry refused", map[string]interface{}{"symbol": symbol, "reason": gate.Reason})
		return nil
	}
	if same != nil {
		gate, err := s.risk.CanAddToPosition(ctx, symbol)
		if err != nil {
			return err
		}
		if !gate.Allowed {
			s.metrics.EntryRefused(refusedAdd)
			s.logger.Info(ctx, op+": Add refused", map[string]interface{}{"symbol": symbol, "reason": gate.Reason})
			return nil
		}
	}

	// 4. Size
	mid, err := s.gateway.GetMidPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("failed to read mid price for %s: %w", symbol, err)
	}
	meta, err := s.gateway.GetInstrumentMeta(ctx, symbol)
	if err != nil {
		return fmt.Errorf("failed to read instrument meta for %s: %w", symbol, err)
	}
	records, err := s.positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open records: %w", err)
	}
	size := s.risk.GetPositionSize(ctx, risk.SizingInput{
		Symbol:          symbol,
		Balance:         balance,
		AvailableMargin: available,
		Exposure:        risk.Exposure(records, symbol, mid),
		MidPrice:        mid,
		Meta:            *meta,
	})
	if size.Refused() {
		s.metrics.EntryRefused(refusedSize)
		s.logger.Info(ctx, op+": Sizing refused entry", map[string]interface{}{"symbol": symbol, "reason": size.Reason})
		return nil
	}

	// 5. Market order
	s.logger.Info(ctx, op+": Placing entry market order...", map[string]interface{}{
		"symbol": symbol, "direction": dir, "quantity": size.Quantity, "orderValue": size.OrderValue, "atr": atr,
	})
	order, err := s.gateway.PlaceOrder(ctx, ports.OrderRequest{
		Symbol:    symbol,
		Side:      dir.EntrySide(),
		Direction: dir,
		Type:      domain.OrderTypeMarket,
		Quantity:  size.Quantity,
	})
	if err != nil {
		return fmt.Errorf("entry market order failed: %w", err)
	}
	s.metrics.OrderPlaced("entry", dir)
	s.logger.Info(ctx, op+": Entry order placed", map[string]interface{}{"orderID": order.OrderID, "avgPrice": order.AvgPrice})

	// 6. Wait for the exchange to show the position
	prior := 0.0
	if same != nil {
		prior = same.Size
	}
	pos, err := s.awaitPosition(ctx, symbol, dir, prior)
	if err != nil {
		// The next reconciliation adopts the position if it does appear.
		return fmt.Errorf("position not confirmed after entry: %w", err)
	}

	// 7. Persist
	return s.recordEntry(ctx, pos, size.Quantity, atr)
}

// flip closes the opposite position at market and closes its record.
// A failed close aborts the whole entry.
func (s *Service) flip(ctx context.Context, opposite ports.ExchangePosition) error {
	op := "flip"
	s.logger.Info(ctx, op+": Closing opposite position", map[string]interface{}{
		"symbol": opposite.Symbol, "direction": opposite.Direction, "size": opposite.Size,
	})
	_, err := s.gateway.PlaceOrder(ctx, ports.OrderRequest{
		Symbol:     opposite.Symbol,
		Side:       opposite.Direction.ExitSide(),
		Direction:  opposite.Direction,
		Type:       domain.OrderTypeMarket,
		Quantity:   opposite.Size,
		ReduceOnly: true,
	})
	if err != nil {
		s.logger.Error(ctx, err, op+": Failed to close opposite position, flip aborted", map[string]interface{}{"symbol": opposite.Symbol})
		return fmt.Errorf("flip close failed for %s: %w", opposite.Symbol, err)
	}
	s.metrics.OrderPlaced("close", opposite.Direction)

	// Protective orders of the closed side must not fire against the new position.
	if orders, err := s.gateway.GetOpenOrders(ctx, true); err != nil {
		s.logger.Warn(ctx, op+": Failed to read orders after close", map[string]interface{}{"error": err.Error()})
	} else {
		for _, o := range orders {
			if o.Symbol == opposite.Symbol && o.IsTrigger && o.Direction() == opposite.Direction {
				_ = s.cancelOrderWarn(ctx, o.Symbol, o.OrderID, string(o.Type))
			}
		}
	}

	// Only the flipped side closes: in hedge mode the other direction may be live.
	n, err := s.positions.CloseOpen(ctx, opposite.Symbol, opposite.Direction, domain.CloseReasonFlip, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to close record after flip: %w", err)
	}
	if n > 0 {
		s.metrics.PositionClosed(domain.CloseReasonFlip)
	}
	if err := s.risk.ResetOppositeSignals(ctx, opposite.Symbol); err != nil {
		s.logger.Warn(ctx, op+": Failed to reset opposite signals", map[string]interface{}{"error": err.Error()})
	}
	s.logger.Info(ctx, op+": Opposite position closed", map[string]interface{}{"symbol": opposite.Symbol, "direction": opposite.Direction, "records": n})
	return nil
}

// awaitPosition polls fresh positions until symbol/dir is larger than prior.
func (s *Service) awaitPosition(ctx context.Context, symbol string, dir domain.Direction, prior float64) (ports.ExchangePosition, error) {
	var found ports.ExchangePosition
	poll := func() error {
		positions, err := s.gateway.GetOpenPositions(ctx)
		if err != nil {
			return err
		}
		if p := findPosition(positions, symbol, dir); p != nil && p.Size > prior {
			found = *p
			return nil
		}
		return fmt.Errorf("%s %s not yet larger than %.8f: %w", symbol, dir, prior, ports.ErrPositionNotFound)
	}
	if err := backoff.Retry(poll, backoff.WithContext(s.newBackOff(), ctx)); err != nil {
		return ports.ExchangePosition{}, err
	}
	return found, nil
}

// recordEntry creates the record for a new position or grows the basis of
// an existing one. Size and entry come from the exchange.
func (s *Service) recordEntry(ctx context.Context, pos ports.ExchangePosition, qty, atr float64) error {
	op := "recordEntry"
	now := s.now().UTC()
	rec, err := s.positions.GetOpen(ctx, pos.Symbol, pos.Direction)
	if err != nil {
		return fmt.Errorf("failed to load record: %w", err)
	}

	if rec == nil {
		rec = &domain.PositionRecord{
			Symbol:           pos.Symbol,
			Direction:        pos.Direction,
			Quantity:         pos.Size,
			OriginalQuantity: pos.Size,
			EntryPrice:       pos.EntryPrice,
			ATR:              atr,
			LastKnownSize:    pos.Size,
			Status:           domain.StatusOpen,
			OpenedAt:         now,
			UpdatedAt:        now,
		}
		id, err := s.positions.Create(ctx, rec)
		if err != nil {
			s.logger.Error(ctx, err, op+": Failed to save new position to repository", map[string]interface{}{"symbol": pos.Symbol})
			return fmt.Errorf("failed to save position: %w", err)
		}
		s.logger.Info(ctx, op+": New position saved to DB", map[string]interface{}{
			"positionID": id, "symbol": pos.Symbol, "direction": pos.Direction, "size": pos.Size, "entry": pos.EntryPrice,
		})
		return nil
	}

	rec.OriginalQuantity += qty
	if rec.OriginalQuantity < pos.Size {
		rec.OriginalQuantity = pos.Size
	}
	rec.Quantity = pos.Size
	rec.LastKnownSize = pos.Size
	rec.EntryPrice = pos.EntryPrice
	if rec.ATR <= 0 {
		rec.ATR = atr
	}
	rec.UpdatedAt = now
	if err := s.positions.Update(ctx, rec); err != nil {
		return fmt.Errorf("failed to update position after add: %w", err)
	}
	s.logger.Info(ctx, op+": Added to position", map[string]interface{}{
		"positionID": rec.ID, "symbol": pos.Symbol, "size": pos.Size, "original": rec.OriginalQuantity,
	})
	return nil
}

// cancelOrderWarn attempts to cancel an order and logs a warning on failure.
func (s *Service) cancelOrderWarn(ctx context.Context, symbol string, orderID int64, orderType string) error {
	op := "cancelOrderWarn"
	err := s.gateway.CancelOrder(ctx, symbol, orderID)
	if err != nil {
		// Ignore "Order does not exist" errors, as it might have already been filled or cancelled.
		if errors.Is(err, ports.ErrOrderNotFound) {
			s.logger.Warn(ctx, op+": Order not found, likely already filled or cancelled", map[string]interface{}{"orderID": orderID, "type": orderType})
			return nil
		}
		s.logger.Error(ctx, err, op+": Failed to cancel order", map[string]interface{}{"orderID": orderID, "type": orderType})
		return err
	}
	if kind, ok := domain.KindForType(domain.OrderType(orderType)); ok {
		s.metrics.OrderCancelled(string(kind))
	}
	s.logger.Info(ctx, op+": Order cancelled successfully", map[string]interface{}{"orderID": orderID, "type": orderType})
	return nil
}

func findPosition(positions []ports.ExchangePosition, symbol string, dir domain.Direction) *ports.ExchangePosition {
	for i := range positions {
		if positions[i].Symbol == symbol && positions[i].Direction == dir && positions[i].Size > 0 {
			return &positions[i]
		}
	}
	return nil
}
