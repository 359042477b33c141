package binanceclient

import (
	"context"
	"fmt"
	"strconv"

	"perpKeeper/internal/ports"

	"github.com/adshao/go-binance/v2/futures"
)

func (c *Client) getAccount(ctx context.Context) (*futures.Account, error) {
	if acc, ok := c.account.get(); ok {
		return acc, nil
	}
	op := "GetAccount"
	var account *futures.Account
	err := c.read(ctx, op, func() (err error) {
		account, err = c.futuresClient.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.account.set(account)
	return account, nil
}

func (c *Client) quoteBalance(ctx context.Context, op string, field func(*futures.AccountAsset) string) (float64, error) {
	account, err := c.getAccount(ctx)
	if err != nil {
		return 0, err
	}
	for _, bal := range account.Assets {
		if bal.Asset != quoteAsset {
			continue
		}
		raw := field(bal)
		balance, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			parseErr := fmt.Errorf("could not parse balance '%s' for asset %s: %w", raw, quoteAsset, err)
			return 0, c.handleError(ctx, parseErr, op)
		}
		return balance, nil
	}
	err = fmt.Errorf("asset %s not found in account balance", quoteAsset)
	return 0, c.handleError(ctx, err, op)
}

// GetBalance returns the USDT wallet balance.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	return c.quoteBalance(ctx, "GetBalance", func(a *futures.AccountAsset) string { return a.WalletBalance })
}

// GetAvailableBalance returns the USDT margin available for new orders.
func (c *Client) GetAvailableBalance(ctx context.Context) (float64, error) {
	return c.quoteBalance(ctx, "GetAvailableBalance", func(a *futures.AccountAsset) string { return a.AvailableBalance })
}

// GetOpenPositions returns every position with a nonzero amount.
func (c *Client) GetOpenPositions(ctx context.Context) ([]ports.ExchangePosition, error) {
	if cached, ok := c.positions.get(); ok {
		return append([]ports.ExchangePosition(nil), cached...), nil
	}
	op := "GetOpenPositions"
	var risks []*futures.PositionRisk
	err := c.read(ctx, op, func() (err error) {
		risks, err = c.futuresClient.NewGetPositionRiskService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	positions := make([]ports.ExchangePosition, 0, len(risks))
	for _, r := range risks {
		pos, ok := translatePositionRisk(r)
		if !ok {
			continue
		}
		positions = append(positions, pos)
	}
	c.positions.set(positions)
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"count": len(positions)})
	return append([]ports.ExchangePosition(nil), positions...), nil
}
