// Package report renders a read-only view of the account: balance, open
// positions with their stage, and the protective orders guarding them.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/ports"
)

// Reporter reads the gateway and the store and never writes to either.
type Reporter struct {
	gateway   ports.ExchangeGateway
	positions ports.PositionStore
	logger    ports.Logger
}

// NewReporter creates a Reporter.
func NewReporter(gateway ports.ExchangeGateway, positions ports.PositionStore, logger ports.Logger) (*Reporter, error) {
	if gateway == nil || positions == nil || logger == nil {
		return nil, errors.New("missing required dependencies for Reporter")
	}
	return &Reporter{gateway: gateway, positions: positions, logger: logger}, nil
}

// Render writes the current state to w. Missing prices or records degrade
// the affected columns instead of failing the report.
func (r *Reporter) Render(ctx context.Context, w io.Writer) error {
	op := "Render"
	balance, err := r.gateway.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to read balance: %w", op, err)
	}
	positions, err := r.gateway.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to read positions: %w", op, err)
	}
	orders, err := r.gateway.GetOpenOrders(ctx, false)
	if err != nil {
		return fmt.Errorf("%s: failed to read orders: %w", op, err)
	}

	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Symbol != positions[j].Symbol {
			return positions[i].Symbol < positions[j].Symbol
		}
		return positions[i].Direction < positions[j].Direction
	})

	fmt.Fprintf(w, "=== Account ===\nBalance: %.2f USDT\nOpen positions: %d\n", balance, len(positions))
	if len(positions) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tSIDE\tSIZE\tENTRY\tMID\tPNL\tSTAGE\tORIGINAL")
	for _, pos := range positions {
		rec, err := r.positions.GetOpen(ctx, pos.Symbol, pos.Direction)
		if err != nil {
			r.logger.Warn(ctx, op+": failed to load record", map[string]interface{}{"symbol": pos.Symbol, "error": err.Error()})
			rec = nil
		}
		mid, err := r.gateway.GetMidPrice(ctx, pos.Symbol)
		if err != nil {
			mid = pos.MarkPrice
		}

		pnl := (mid - pos.EntryPrice) * pos.Size * pos.Direction.Sign()
		stage, original := "-", "-"
		if rec != nil {
			stage = string(rec.Stage())
			if rec.TP2Count > 0 {
				stage = fmt.Sprintf("%s x%d", stage, rec.TP2Count)
			}
			original = trimFloat(rec.OriginalQuantity)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%+.2f\t%s\t%s\n",
			pos.Symbol, strings.ToUpper(string(pos.Direction)), trimFloat(pos.Size),
			trimFloat(pos.EntryPrice), trimFloat(mid), pnl, stage, original)

		for _, o := range protecting(orders, pos) {
			label := "??"
			switch o.Kind {
			case domain.KindStopLoss:
				label = "SL"
			case domain.KindTakeProfit:
				label = "TP"
			}
			pct := 0.0
			if pos.Size > 0 {
				pct = o.Size / pos.Size * 100
			}
			fmt.Fprintf(tw, "  %s\t@ %s\t%s\t(%.0f%%)\t\t\t\t\n", label, trimFloat(o.TriggerPrice), trimFloat(o.Size), pct)
		}
	}
	return tw.Flush()
}

// protecting returns the trigger orders on the exit side of pos, stops first.
func protecting(orders []domain.ObservedOrder, pos ports.ExchangePosition) []domain.ObservedOrder {
	var out []domain.ObservedOrder
	for _, o := range orders {
		if o.Symbol != pos.Symbol || !o.IsTrigger || o.Direction() != pos.Direction {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Kind == domain.KindStopLoss && out[j].Kind != domain.KindStopLoss })
	return out
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.8f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
