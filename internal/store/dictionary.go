package store

import (
	"context"
	"database/sql"

	"github.com/folio-ledger/apiserver/types"
)

// DictionaryRepository holds the shared stock and exchange reference data.
type DictionaryRepository struct {
	db *sql.DB
}

func NewDictionaryRepository(db *sql.DB) *DictionaryRepository {
	return &DictionaryRepository{db: db}
}

func (r *DictionaryRepository) ListStocks(ctx context.Context) ([]types.Stock, error) {
	const query = `
		SELECT ticker, name, exchange_code, currency
		FROM stocks
		ORDER BY ticker`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stocks := make([]types.Stock, 0)
	for rows.Next() {
		var (
			stock    types.Stock
			exchange sql.NullString
		)
		if err := rows.Scan(&stock.Ticker, &stock.Name, &exchange, &stock.Currency); err != nil {
			return nil, err
		}
		stock.ExchangeCode = exchange.String
		stocks = append(stocks, stock)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stocks, nil
}

func (r *DictionaryRepository) UpsertStock(ctx context.Context, stock types.Stock) error {
	const query = `
		INSERT INTO stocks (ticker, name, exchange_code, currency)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		ON CONFLICT (ticker) DO UPDATE
		SET name = EXCLUDED.name,
			exchange_code = EXCLUDED.exchange_code,
			currency = EXCLUDED.currency`
	_, err := r.db.ExecContext(ctx, query, stock.Ticker, stock.Name, stock.ExchangeCode, stock.Currency)
	return err
}

func (r *DictionaryRepository) DeleteStock(ctx context.Context, ticker string) error {
	const query = `DELETE FROM stocks WHERE ticker = $1`
	result, err := r.db.ExecContext(ctx, query, ticker)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func (r *DictionaryRepository) ListExchanges(ctx context.Context) ([]types.Exchange, error) {
	const query = `
		SELECT code, name, country
		FROM exchanges
		ORDER BY code`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exchanges := make([]types.Exchange, 0)
	for rows.Next() {
		var ex types.Exchange
		if err := rows.Scan(&ex.Code, &ex.Name, &ex.Country); err != nil {
			return nil, err
		}
		exchanges = append(exchanges, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return exchanges, nil
}

func (r *DictionaryRepository) UpsertExchange(ctx context.Context, ex types.Exchange) error {
	const query = `
		INSERT INTO exchanges (code, name, country)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name,
			country = EXCLUDED.country`
	_, err := r.db.ExecContext(ctx, query, ex.Code, ex.Name, ex.Country)
	return err
}

func (r *DictionaryRepository) DeleteExchange(ctx context.Context, code string) error {
	const query = `DELETE FROM exchanges WHERE code = $1`
	result, err := r.db.ExecContext(ctx, query, code)
	if err != nil {
		return err
	}
	return expectAffected(result)
}
