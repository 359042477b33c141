package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/ports"

	"github.com/cenkalti/backoff/v4"
)

// ATRSource supplies a volatility value for records adopted without one.
type ATRSource interface {
	ATR(ctx context.Context, symbol string) (float64, error)
}

// Config wires the engine's collaborators.
type Config struct {
	Gateway   ports.ExchangeGateway
	Positions ports.PositionStore
	Events    ports.EventStore
	ATR       ATRSource // optional
	Metrics   ports.Metrics
	Logger    ports.Logger
	Params    Params
	// NewBackOff builds the poll schedule used while waiting for cancellations
	// to disappear. Defaults to exponential backoff bounded by Params.ConfirmTimeout.
	NewBackOff func() backoff.BackOff
}

// Engine drives the exchange's protective orders towards the targets
// derived from each position record.
type Engine struct {
	gateway    ports.ExchangeGateway
	positions  ports.PositionStore
	events     ports.EventStore
	atr        ATRSource
	metrics    ports.Metrics
	logger     ports.Logger
	params     Params
	newBackOff func() backoff.BackOff
	now        func() time.Time

	mu        sync.Mutex
	protected map[string]bool // position key -> stop seen on the last pass
}

// NewEngine creates a reconciliation engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Gateway == nil || cfg.Positions == nil || cfg.Events == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for reconcile Engine")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NopMetrics{}
	}
	e := &Engine{
		gateway:    cfg.Gateway,
		positions:  cfg.Positions,
		events:     cfg.Events,
		atr:        cfg.ATR,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		params:     cfg.Params,
		newBackOff: cfg.NewBackOff,
		now:        time.Now,
		protected:  make(map[string]bool),
	}
	if e.newBackOff == nil {
		timeout := cfg.Params.ConfirmTimeout
		e.newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = time.Second
			b.MaxElapsedTime = timeout
			return b
		}
	}
	return e, nil
}

// Report summarises one reconciliation pass.
type Report struct {
	Positions   int
	Adopted     []string
	Closed      []ClosedPosition
	Transitions []string
	Clamped     int
	Cancelled   int
	Created     int
	Failures    map[string]error
}

// ClosedPosition is a record closed because the exchange no longer reports it.
type ClosedPosition struct {
	Symbol    string
	Direction domain.Direction
	Reason    domain.CloseReason
}

func newReport() *Report {
	return &Report{Failures: make(map[string]error)}
}

func positionKey(symbol string, dir domain.Direction) string {
	return symbol + "/" + string(dir)
}

// Reconcile runs one full pass: sync closed records, then bring every
// exchange position's SL and TP in line with its record. A failure on one
// position is recorded in the report and does not stop the others.
func (e *Engine) Reconcile(ctx context.Context) (*Report, error) {
	op := "Reconcile"
	report := newReport()

	positions, orders, err := e.readExchange(ctx)
	if err != nil {
		return report, fmt.Errorf("%s: %w", op, err)
	}
	report.Positions = len(positions)

	if err := e.syncClosed(ctx, positions, orders, report); err != nil {
		return report, fmt.Errorf("%s: %w", op, err)
	}

	for _, pos := range positions {
		if err := e.reconcilePosition(ctx, pos, orders, report); err != nil {
			key := positionKey(pos.Symbol, pos.Direction)
			report.Failures[key] = err
			e.logger.Error(ctx, err, op+": position skipped this cycle", map[string]interface{}{
				"symbol": pos.Symbol, "direction": pos.Direction,
			})
		}
	}

	e.logger.Info(ctx, op+" complete", map[string]interface{}{
		"positions": report.Positions, "created": report.Created, "cancelled": report.Cancelled,
		"closed": len(report.Closed), "failures": len(report.Failures),
	})
	return report, nil
}

// Sync closes records the exchange no longer reports, adopts exchange
// positions without a record and cancels trigger orders left on flat
// symbols. It places no protective orders.
func (e *Engine) Sync(ctx context.Context) (*Report, error) {
	op := "Sync"
	report := newReport()

	positions, orders, err := e.readExchange(ctx)
	if err != nil {
		return report, fmt.Errorf("%s: %w", op, err)
	}
	report.Positions = len(positions)

	if err := e.syncClosed(ctx, positions, orders, report); err != nil {
		return report, fmt.Errorf("%s: %w", op, err)
	}
	for _, pos := range positions {
		rec, err := e.loadOrAdopt(ctx, pos, report)
		if err != nil {
			report.Failures[positionKey(pos.Symbol, pos.Direction)] = err
			e.logger.Error(ctx, err, op+": failed to adopt position", map[string]interface{}{"symbol": pos.Symbol})
			continue
		}
		stops := protectiveOrders(orders, rec.Symbol, rec.Direction, pos.Size, e.params.SLClassifyRatio)[domain.KindStopLoss]
		e.markProtection(positionKey(pos.Symbol, pos.Direction), len(stops) > 0)
	}
	return report, nil
}

func (e *Engine) readExchange(ctx context.Context) ([]ports.ExchangePosition, []domain.ObservedOrder, error) {
	positions, err := e.gateway.GetOpenPositions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read open positions: %w", err)
	}
	orders, err := e.gateway.GetOpenOrders(ctx, false)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read open orders: %w", err)
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Symbol != positions[j].Symbol {
			return positions[i].Symbol < positions[j].Symbol
		}
		return positions[i].Direction < positions[j].Direction
	})
	return positions, orders, nil
}

func (e *Engine) loadOrAdopt(ctx context.Context, pos ports.ExchangePosition, report *Report) (*domain.PositionRecord, error) {
	rec, err := e.positions.GetOpen(ctx, pos.Symbol, pos.Direction)
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	if rec != nil {
		return rec, nil
	}

	rec = &domain.PositionRecord{
		Symbol:           pos.Symbol,
		Direction:        pos.Direction,
		Quantity:         pos.Size,
		OriginalQuantity: pos.Size,
		LastKnownSize:    pos.Size,
		EntryPrice:       pos.EntryPrice,
		Status:           domain.StatusOpen,
		OpenedAt:         e.now(),
	}
	e.backfillATR(ctx, rec)
	if _, err := e.positions.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to adopt position: %w", err)
	}
	report.Adopted = append(report.Adopted, positionKey(pos.Symbol, pos.Direction))
	e.logger.Info(ctx, "Adopted exchange position without record", map[string]interface{}{
		"symbol": pos.Symbol, "direction": pos.Direction, "size": pos.Size, "entry": pos.EntryPrice, "atr": rec.ATR,
	})
	return rec, nil
}

// backfillATR fills a missing ATR; failures leave it at zero for a later cycle.
func (e *Engine) backfillATR(ctx context.Context, rec *domain.PositionRecord) bool {
	if rec.ATR > 0 || e.atr == nil {
		return false
	}
	atr, err := e.atr.ATR(ctx, rec.Symbol)
	if err != nil || atr <= 0 {
		e.logger.Warn(ctx, "ATR backfill unavailable", map[string]interface{}{"symbol": rec.Symbol, "error": err})
		return false
	}
	rec.ATR = atr
	e.logger.Info(ctx, "ATR backfilled", map[string]interface{}{"symbol": rec.Symbol, "atr": atr})
	return true
}

func (e *Engine) reconcilePosition(ctx context.Context, pos ports.ExchangePosition, orders []domain.ObservedOrder, report *Report) error {
	rec, err := e.loadOrAdopt(ctx, pos, report)
	if err != nil {
		return err
	}

	// Reads first: nothing is persisted unless they succeed.
	mark, err := e.gateway.GetMidPrice(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("failed to read mid price: %w", err)
	}
	meta, err := e.gateway.GetInstrumentMeta(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("failed to read instrument meta: %w", err)
	}

	if err := e.observe(ctx, rec, pos, report); err != nil {
		return err
	}

	targets, corrections := FinalizeTargets(ComputeTargets(rec, e.params), rec.Direction, *meta, mark, e.params)
	for _, c := range corrections {
		report.Clamped++
		e.logger.Warn(ctx, "Trigger on wrong side of market, clamped", map[string]interface{}{
			"symbol": rec.Symbol, "direction": rec.Direction, "kind": c.Kind,
			"computed": c.Computed, "clamped": c.Clamped, "mark": mark,
		})
	}
	if targets.StopLoss == nil && !rec.TP1Hit {
		e.logger.Warn(ctx, "No stop-loss target: ATR unknown", map[string]interface{}{"symbol": rec.Symbol, "direction": rec.Direction})
	}

	observed := protectiveOrders(orders, rec.Symbol, rec.Direction, rec.Quantity, e.params.SLClassifyRatio)
	hasStop := len(observed[domain.KindStopLoss]) > 0
	defer func() { e.markProtection(positionKey(rec.Symbol, rec.Direction), hasStop) }()

	var errs []error
	for _, kind := range []domain.OrderKind{domain.KindStopLoss, domain.KindTakeProfit} {
		target := targets.Get(kind)
		stale := observed[kind]
		rebuild, why := Diff(target, stale, rec.Direction, *meta, mark, e.params)
		if target == nil {
			stale = untargeted(kind, stale)
			rebuild, why = len(stale) > 0, "no target"
		}
		if !rebuild {
			continue
		}
		fields := map[string]interface{}{
			"symbol": rec.Symbol, "direction": rec.Direction, "kind": kind, "reason": why, "stage": rec.Stage(),
		}
		if target != nil {
			fields["target"], fields["size"] = target.TriggerPrice, target.Size
		}
		e.logger.Info(ctx, "Protective order mismatch", fields)
		if err := e.correct(ctx, rec, kind, target, stale, *meta, mark, report); err != nil {
			errs = append(errs, fmt.Errorf("%s correction: %w", kind, err))
		} else if kind == domain.KindStopLoss {
			hasStop = true
		}
	}
	return errors.Join(errs...)
}

// observe applies the exchange's size and entry to the record and persists
// it together with any tp events, in one transaction.
func (e *Engine) observe(ctx context.Context, rec *domain.PositionRecord, pos ports.ExchangePosition, report *Report) error {
	changed := e.backfillATR(ctx, rec)
	if pos.EntryPrice > 0 && math.Abs(pos.EntryPrice-rec.EntryPrice) > pos.EntryPrice*1e-9 {
		rec.EntryPrice = pos.EntryPrice
		changed = true
	}

	prevStage := rec.Stage()
	tr := DetectTransition(rec, pos.Size, e.params)
	var events []*domain.TradeEvent
	if tr.Any() || pos.Size != rec.Quantity || pos.Size != rec.LastKnownSize {
		events = ApplyTransition(rec, tr, pos.Size, e.now())
		changed = true
	}
	if !changed {
		return nil
	}
	if err := e.positions.Update(ctx, rec, events...); err != nil {
		return fmt.Errorf("failed to persist record: %w", err)
	}

	key := positionKey(rec.Symbol, rec.Direction)
	switch {
	case tr.Added > 0:
		report.Transitions = append(report.Transitions, fmt.Sprintf("%s add +%.8g", key, tr.Added))
		e.logger.Info(ctx, "Position add detected", map[string]interface{}{
			"symbol": rec.Symbol, "direction": rec.Direction, "added": tr.Added, "original": rec.OriginalQuantity,
		})
	case tr.TP1 || tr.TP2:
		report.Transitions = append(report.Transitions, fmt.Sprintf("%s %s", key, rec.Stage()))
		e.metrics.StageTransition(rec.Symbol, rec.Stage())
		e.logger.Info(ctx, "Take-profit fill detected", map[string]interface{}{
			"symbol": rec.Symbol, "direction": rec.Direction, "from": prevStage, "to": rec.Stage(),
			"tp2Count": rec.TP2Count, "remainingPct": rec.RemainingPercent(),
			"expectedPct": NextTP2RemainingPercent(rec.TP2Count-1, e.params),
		})
	}
	return nil
}

// correct replaces every order of kind with exactly one matching target.
// With no target it only cancels stale.
func (e *Engine) correct(ctx context.Context, rec *domain.PositionRecord, kind domain.OrderKind, target *domain.TargetOrder, stale []domain.ObservedOrder, meta domain.InstrumentMeta, mark float64, report *Report) error {
	cancelled := make(map[int64]bool, len(stale))
	for _, o := range stale {
		if err := e.gateway.CancelOrder(ctx, o.Symbol, o.OrderID); err != nil {
			e.logger.Warn(ctx, "Cancel failed, will confirm before replacing", map[string]interface{}{
				"symbol": o.Symbol, "orderID": o.OrderID, "kind": kind, "error": err.Error(),
			})
		} else {
			report.Cancelled++
			e.metrics.OrderCancelled(string(kind))
		}
		cancelled[o.OrderID] = true
	}

	fresh, err := e.awaitGone(ctx, cancelled)
	if err != nil {
		return err
	}
	if target == nil {
		return nil
	}

	// Another cycle's order may have landed since the first read.
	current := protectiveOrders(fresh, rec.Symbol, rec.Direction, rec.Quantity, e.params.SLClassifyRatio)[kind]
	if len(current) > 0 {
		rebuild, why := Diff(target, current, rec.Direction, meta, mark, e.params)
		if rebuild {
			return fmt.Errorf("%d %s orders still live after cancel (%s)", len(current), kind, why)
		}
		e.logger.Info(ctx, "Matching order appeared, not replacing", map[string]interface{}{
			"symbol": rec.Symbol, "kind": kind, "orderID": current[0].OrderID,
		})
		return nil
	}

	resp, err := e.gateway.PlaceOrder(ctx, ports.OrderRequest{
		Symbol:       rec.Symbol,
		Side:         rec.Direction.ExitSide(),
		Direction:    rec.Direction,
		Type:         domain.TypeForKind(kind),
		Quantity:     target.Size,
		TriggerPrice: target.TriggerPrice,
		ReduceOnly:   true,
	})
	if err != nil {
		return fmt.Errorf("failed to place %s: %w", kind, err)
	}
	report.Created++
	e.metrics.OrderPlaced(string(kind), rec.Direction)
	e.logger.Info(ctx, "Protective order placed", map[string]interface{}{
		"symbol": rec.Symbol, "direction": rec.Direction, "kind": kind, "orderID": resp.OrderID,
		"trigger": target.TriggerPrice, "size": target.Size, "stage": rec.Stage(),
	})
	return nil
}

// awaitGone polls fresh open orders until none of ids remain and returns
// the last fresh snapshot.
func (e *Engine) awaitGone(ctx context.Context, ids map[int64]bool) ([]domain.ObservedOrder, error) {
	var fresh []domain.ObservedOrder
	poll := func() error {
		orders, err := e.gateway.GetOpenOrders(ctx, true)
		if err != nil {
			return err
		}
		fresh = orders
		for _, o := range orders {
			if ids[o.OrderID] {
				return fmt.Errorf("order %d still live: %w", o.OrderID, ports.ErrOrderCancelFailed)
			}
		}
		return nil
	}
	if err := backoff.Retry(poll, backoff.WithContext(e.newBackOff(), ctx)); err != nil {
		return nil, fmt.Errorf("cancellation not confirmed: %w", err)
	}
	return fresh, nil
}
