package services

import (
	"context"
	"sort"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/folio-ledger/apiserver/types"
)

// Report aggregates the owner's trades per ticker and currency. Dividends are
// folded in only when the viewer may read them.
func (s *PortfolioService) Report(ctx context.Context, viewer types.Role, ownerID string) (types.PortfolioReport, error) {
	ctx, cancel := s.timeout.read(ctx)
	defer cancel()

	if err := s.require(ctx, viewer, types.ResourceTrades, &ownerID, false); err != nil {
		return types.PortfolioReport{}, err
	}
	trades, err := s.trades.ListByOwner(ctx, ownerID)
	if err != nil {
		return types.PortfolioReport{}, err
	}

	var dividends []types.Dividend
	level, err := s.access.EffectiveAccess(ctx, viewer, types.ResourceDividends, &ownerID)
	if err != nil {
		return types.PortfolioReport{}, err
	}
	if level.CanRead() {
		dividends, err = s.dividends.ListByOwner(ctx, ownerID)
		if err != nil {
			return types.PortfolioReport{}, err
		}
	}

	return types.PortfolioReport{
		OwnerID:     ownerID,
		GeneratedAt: s.now().UTC(),
		Lines:       aggregate(trades, dividends),
	}, nil
}

type lineKey struct {
	ticker   string
	currency string
}

func aggregate(trades []types.Trade, dividends []types.Dividend) []types.HoldingLine {
	lines := make(map[lineKey]*types.HoldingLine)
	line := func(ticker, currency string) *types.HoldingLine {
		key := lineKey{ticker: ticker, currency: currency}
		l, ok := lines[key]
		if !ok {
			l = &types.HoldingLine{
				Ticker:    ticker,
				Currency:  currency,
				Bought:    decimal.Zero,
				Sold:      decimal.Zero,
				Invested:  decimal.Zero,
				Proceeds:  decimal.Zero,
				Dividends: decimal.Zero,
			}
			lines[key] = l
		}
		return l
	}

	for _, t := range trades {
		l := line(t.Ticker, t.Currency)
		value := t.Quantity.Mul(t.Price)
		switch t.Side {
		case types.SideBuy:
			l.Bought = l.Bought.Add(t.Quantity)
			l.Invested = l.Invested.Add(value)
		case types.SideSell:
			l.Sold = l.Sold.Add(t.Quantity)
			l.Proceeds = l.Proceeds.Add(value)
		}
	}
	for _, d := range dividends {
		l := line(d.Ticker, d.Currency)
		l.Dividends = l.Dividends.Add(d.Amount.Sub(d.Tax))
	}

	out := make([]types.HoldingLine, 0, len(lines))
	for _, l := range lines {
		l.Net = l.Bought.Sub(l.Sold)
		l.Display = displayMoney(l.Invested, l.Currency)
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ticker != out[j].Ticker {
			return out[i].Ticker < out[j].Ticker
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}

// displayMoney renders an amount in the currency's minor units, e.g. "$1,234.50".
func displayMoney(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(2) + " " + currency
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return money.New(minor.IntPart(), currency).Display()
}
