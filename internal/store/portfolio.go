package store

import (
	"context"
	"database/sql"

	"github.com/folio-ledger/apiserver/types"
)

// TradeRepository stores per-owner trade records.
type TradeRepository struct {
	db *sql.DB
}

func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

func (r *TradeRepository) ListByOwner(ctx context.Context, ownerID string) ([]types.Trade, error) {
	const query = `
		SELECT id, user_id, ticker, side, quantity, price, currency, traded_at, created_at
		FROM trades
		WHERE user_id = $1
		ORDER BY traded_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := make([]types.Trade, 0)
	for rows.Next() {
		var (
			trade types.Trade
			side  string
		)
		if err := rows.Scan(
			&trade.ID,
			&trade.UserID,
			&trade.Ticker,
			&side,
			&trade.Quantity,
			&trade.Price,
			&trade.Currency,
			&trade.TradedAt,
			&trade.CreatedAt,
		); err != nil {
			return nil, err
		}
		trade.Side = types.TradeSide(side)
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return trades, nil
}

func (r *TradeRepository) Create(ctx context.Context, trade types.Trade) (types.Trade, error) {
	const query = `
		INSERT INTO trades (user_id, ticker, side, quantity, price, currency, traded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(
		ctx,
		query,
		trade.UserID,
		trade.Ticker,
		string(trade.Side),
		trade.Quantity,
		trade.Price,
		trade.Currency,
		trade.TradedAt,
	).Scan(&trade.ID, &trade.CreatedAt)
	if err != nil {
		return types.Trade{}, missingParent(err)
	}
	return trade, nil
}

// Delete removes a trade only when it belongs to the owner.
func (r *TradeRepository) Delete(ctx context.Context, ownerID string, id int64) error {
	const query = `DELETE FROM trades WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// DividendRepository stores per-owner dividend receipts.
type DividendRepository struct {
	db *sql.DB
}

func NewDividendRepository(db *sql.DB) *DividendRepository {
	return &DividendRepository{db: db}
}

func (r *DividendRepository) ListByOwner(ctx context.Context, ownerID string) ([]types.Dividend, error) {
	const query = `
		SELECT id, user_id, ticker, amount, tax, currency, paid_at, created_at
		FROM dividends
		WHERE user_id = $1
		ORDER BY paid_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dividends := make([]types.Dividend, 0)
	for rows.Next() {
		var d types.Dividend
		if err := rows.Scan(
			&d.ID,
			&d.UserID,
			&d.Ticker,
			&d.Amount,
			&d.Tax,
			&d.Currency,
			&d.PaidAt,
			&d.CreatedAt,
		); err != nil {
			return nil, err
		}
		dividends = append(dividends, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return dividends, nil
}

func (r *DividendRepository) Create(ctx context.Context, d types.Dividend) (types.Dividend, error) {
	const query = `
		INSERT INTO dividends (user_id, ticker, amount, tax, currency, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(
		ctx,
		query,
		d.UserID,
		d.Ticker,
		d.Amount,
		d.Tax,
		d.Currency,
		d.PaidAt,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return types.Dividend{}, missingParent(err)
	}
	return d, nil
}

func (r *DividendRepository) Delete(ctx context.Context, ownerID string, id int64) error {
	const query = `DELETE FROM dividends WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return err
	}
	return expectAffected(result)
}
