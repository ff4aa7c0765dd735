package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide is the direction of a trade.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// Trade is a single buy or sell record owned by a user.
type Trade struct {
	ID        int64           `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Ticker    string          `json:"ticker" db:"ticker"`
	Side      TradeSide       `json:"side" db:"side"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Currency  string          `json:"currency" db:"currency"`
	TradedAt  time.Time       `json:"traded_at" db:"traded_at"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Dividend is a dividend receipt owned by a user.
type Dividend struct {
	ID        int64           `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Ticker    string          `json:"ticker" db:"ticker"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Tax       decimal.Decimal `json:"tax" db:"tax"`
	Currency  string          `json:"currency" db:"currency"`
	PaidAt    time.Time       `json:"paid_at" db:"paid_at"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Stock is a dictionary entry for a listed security.
type Stock struct {
	Ticker       string `json:"ticker" db:"ticker"`
	Name         string `json:"name" db:"name"`
	ExchangeCode string `json:"exchange_code" db:"exchange_code"`
	Currency     string `json:"currency" db:"currency"`
}

// Exchange is a dictionary entry for a trading venue.
type Exchange struct {
	Code    string `json:"code" db:"code"`
	Name    string `json:"name" db:"name"`
	Country string `json:"country" db:"country"`
}

// HoldingLine aggregates one ticker in one currency.
type HoldingLine struct {
	Ticker    string          `json:"ticker"`
	Currency  string          `json:"currency"`
	Bought    decimal.Decimal `json:"bought"`
	Sold      decimal.Decimal `json:"sold"`
	Net       decimal.Decimal `json:"net"`
	Invested  decimal.Decimal `json:"invested"`
	Proceeds  decimal.Decimal `json:"proceeds"`
	Dividends decimal.Decimal `json:"dividends"`
	// Display is the human readable invested amount, e.g. "$1,234.50".
	Display string `json:"display"`
}

// PortfolioReport is the computed view of one owner's portfolio.
type PortfolioReport struct {
	OwnerID     string        `json:"owner_id"`
	GeneratedAt time.Time     `json:"generated_at"`
	Lines       []HoldingLine `json:"lines"`
}
