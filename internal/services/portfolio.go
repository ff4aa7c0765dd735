package services

import (
	"context"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/folio-ledger/apiserver/types"
)

type TradeRepository interface {
	ListByOwner(ctx context.Context, ownerID string) ([]types.Trade, error)
	Create(ctx context.Context, trade types.Trade) (types.Trade, error)
	Delete(ctx context.Context, ownerID string, id int64) error
}

type DividendRepository interface {
	ListByOwner(ctx context.Context, ownerID string) ([]types.Dividend, error)
	Create(ctx context.Context, dividend types.Dividend) (types.Dividend, error)
	Delete(ctx context.Context, ownerID string, id int64) error
}

type DictionaryRepository interface {
	ListStocks(ctx context.Context) ([]types.Stock, error)
	UpsertStock(ctx context.Context, stock types.Stock) error
	DeleteStock(ctx context.Context, ticker string) error
	ListExchanges(ctx context.Context) ([]types.Exchange, error)
	UpsertExchange(ctx context.Context, exchange types.Exchange) error
	DeleteExchange(ctx context.Context, code string) error
}

// AccessDecider computes effective access for a requester.
type AccessDecider interface {
	EffectiveAccess(ctx context.Context, requester types.Role, resource types.Resource, ownerID *string) (types.AccessLevel, error)
}

// PortfolioService serves owner-scoped trades and dividends and the shared
// dictionaries, enforcing effective access on every call.
type PortfolioService struct {
	trades       TradeRepository
	dividends    DividendRepository
	dictionaries DictionaryRepository
	access       AccessDecider
	auditor      Auditor
	logger       logrus.FieldLogger
	timeout      deadline
	now          func() time.Time
}

func NewPortfolioService(
	trades TradeRepository,
	dividends DividendRepository,
	dictionaries DictionaryRepository,
	access AccessDecider,
	auditor Auditor,
	logger logrus.FieldLogger,
	storeTimeout time.Duration,
) *PortfolioService {
	return &PortfolioService{
		trades:       trades,
		dividends:    dividends,
		dictionaries: dictionaries,
		access:       access,
		auditor:      auditor,
		logger:       logger.WithField("component", "portfolio"),
		timeout:      deadline(storeTimeout),
		now:          time.Now,
	}
}

func (s *PortfolioService) require(ctx context.Context, viewer types.Role, resource types.Resource, ownerID *string, write bool) error {
	level, err := s.access.EffectiveAccess(ctx, viewer, resource, ownerID)
	if err != nil {
		return err
	}
	allowed := level.CanRead()
	if write {
		allowed = level.CanWrite()
	}
	if !allowed {
		s.logger.WithFields(logrus.Fields{
			"viewer_id": viewer.UserID,
			"resource":  resource,
			"level":     level.String(),
		}).Warn("access denied")
		return fail(ErrForbidden, "forbidden")
	}
	return nil
}

func (s *PortfolioService) ListTrades(ctx context.Context, viewer types.Role, ownerID string) ([]types.Trade, error) {
	ctx, cancel := s.timeout.read(ctx)
	defer cancel()

	if err := s.require(ctx, viewer, types.ResourceTrades, &ownerID, false); err != nil {
		return nil, err
	}
	return s.trades.ListByOwner(ctx, ownerID)
}

type TradeInput struct {
	Ticker   string
	Side     string
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Currency string
	TradedAt time.Time
}

func (in TradeInput) validate() (types.Trade, error) {
	ticker := normalizeTicker(in.Ticker)
	if ticker == "" {
		return types.Trade{}, invalid("ticker is required")
	}
	side := types.TradeSide(strings.ToLower(strings.TrimSpace(in.Side)))
	if side != types.SideBuy && side != types.SideSell {
		return types.Trade{}, invalid("invalid side")
	}
	if !in.Quantity.IsPositive() {
		return types.Trade{}, invalid("quantity must be positive")
	}
	if in.Price.IsNegative() {
		return types.Trade{}, invalid("price must not be negative")
	}
	currency, err := validateCurrency(in.Currency)
	if err != nil {
		return types.Trade{}, err
	}
	if in.TradedAt.IsZero() {
		return types.Trade{}, invalid("traded_at is required")
	}
	return types.Trade{
		Ticker:   ticker,
		Side:     side,
		Quantity: in.Quantity,
		Price:    in.Price,
		Currency: currency,
		TradedAt: in.TradedAt.UTC(),
	}, nil
}

func (s *PortfolioService) CreateTrade(ctx context.Context, viewer types.Role, ownerID string, in TradeInput) (types.Trade, error) {
	trade, err := in.validate()
	if err != nil {
		return types.Trade{}, err
	}
	trade.UserID = ownerID

	ctx, cancel := s.timeout.write(ctx)
	defer cancel()

	if err := s.require(ctx, viewer, types.ResourceTrades, &ownerID, true); err != nil {
		return types.Trade{}, err
	}
	created, err := s.trades.Create(ctx, trade)
	if err != nil {
		return types.Trade{}, err
	}
	s.record(ctx, "trades", "insert", viewer.UserID, &ownerID, created.Ticker)
	return created, nil
}

func (s *PortfolioService) DeleteTrade(ctx context.Context, viewer types.Role, ownerID string, id int64) error {
	ctx, cancel := s.timeout.write(ctx)
	defer cancel()

	if err := s.require(ctx, viewer, types.ResourceTrades, &ownerID, true); err != nil {
		return err
	}
	if err := s.trades.Delete(ctx, ownerID, id); err != nil {
		return err
	}
	s.record(ctx, "trades", "delete", viewer.UserID, &ownerID, "")
	return nil
}

func (s *PortfolioService) ListDividends(ctx context.Context, viewer types.Role, ownerID string) ([]types.Dividend, error) {
	ctx, cancel := s.timeout.read(ctx)
	defer cancel()

	if err := s.require(ctx, viewer, types.ResourceDividends, &ownerID, false); err != nil {
		return nil, err
	}
	return s.dividends.ListByOwner(ctx, ownerID)
}

type DividendInput struct {
	Ticker   string
	Amount   decimal.Decimal
	Tax      decimal.Decimal
	Currency string
	PaidAt   time.Time
}

func (in DividendInput) validate() (types.Dividend, error) {
	ticker := normalizeTicker(in.Ticker)
	if ticker == "" {
		return types.Dividend{}, invalid("ticker is required")
	}
	if !in.Amount.IsPositive() {
		return types.Dividend{}, invalid("amount must be positive")
	}
	if in.Tax.IsNegative() {
		return types.Dividend{}, invalid("tax must not be negative")
	}
	currency, err := validateCurrency(in.Currency)
	if err != nil {
		return types.Dividend{}, err
	}
	if in.PaidAt.IsZero() {
		return types.Dividend{}, invalid("paid_at is required")
	}
	return types.Dividend{
		Ticker:   ticker,
		Amount:   in.Amount,
		Tax:      in.Tax,
		Currency: currency,
		PaidAt:   in.PaidAt.UTC(),
	}, nil
}

func (s *PortfolioService) CreateDividend(ctx context.Context, viewer types.Role, ownerID string, in DividendInput) (types.Dividend, error) {
	dividend, err := in.validate()
	if err != nil {
		return types.Dividend{}, err
	}
	dividend.UserID = ownerID

	ctx, cancel := s.timeout.write(ctx)
	defer cancel()

	if err := s.require(ctx, viewer, types.ResourceDividends, &ownerID, true); err != nil {
		return types.Dividend{}, err
	}
	created, err := s.dividends.Create(ctx, dividend)
	if err != nil {
		return types.Dividend{}, err
	}
	s.record(ctx, "dividends", "insert", viewer.UserID, &ownerID, created.Ticker)
	return created, nil
}

func (s *PortfolioService) DeleteDividend(ctx context.Context, viewer types.Role, ownerID string, id int64) error {
	ctx, cancel := s.timeout.write(ctx)
	defer cancel()

	if err := s.require(ctx, viewer, types.ResourceDividends, &ownerID, true); err != nil {
		return err
	}
	if err := s.dividends.Delete(ctx, ownerID, id); err != nil {
		return err
	}
	s.record(ctx, "dividends", "delete", viewer.UserID, &ownerID, "")
	return nil
}

func (s *PortfolioService) ListStocks(ctx context.Context) ([]types.Stock, error) {
	ctx, cancel := s.timeout.read(ctx)
	defer cancel()
	return s.dictionaries.ListStocks(ctx)
}

func (s *PortfolioService) UpsertStock(ctx context.Context, viewer types.Role, stock types.Stock) (types.Stock, error) {
	stock.Ticker = normalizeTicker(stock.Ticker)
	stock.Name = strings.TrimSpace(stock.Name)
	stock.ExchangeCode = strings.ToUpper(strings.TrimSpace(stock.ExchangeCode))
	if stock.Ticker == "" || stock.Name == "" {
		return types.Stock{}, invalid("ticker and name are required")
	}
	currency, err := validateCurrency(stock.Currency)
	if err != nil {
		return types.Stock{}, err
	}
	stock.Currency = currency

	ctx, cancel := s.timeout.write(ctx)
	defer cancel()

	if err := s.require(ctx, viewer, types.ResourceDictionaries, nil, true); err != nil {
		return types.Stock{}, err
	}
	if err := s.dictionaries.UpsertStock(ctx, stock); err != nil {
		return types.Stock{}, err
	}
	s.record(ctx, "stocks", "upsert", viewer.UserID, nil, stock.Ticker)
	return stock, nil
}

func (s *PortfolioService) DeleteStock(ctx context.Context, viewer types.Role, ticker string) error {
	ticker = normalizeTicker(ticker)
	ctx, cancel := s.timeout.write(ctx)
	defer cancel()

	if err := s.require(ctx, viewer, types.ResourceDictionaries, nil, true); err != nil {
		return err
	}
	if err := s.dictionaries.DeleteStock(ctx, ticker); err != nil {
		return err
	}
	s.record(ctx, "stocks", "delete", viewer.UserID, nil, ticker)
	return nil
}

func (s *PortfolioService) ListExchanges(ctx context.Context) ([]types.Exchange, error) {
	ctx, cancel := s.timeout.read(ctx)
	defer cancel()
	return s.dictionaries.ListExchanges(ctx)
}

func (s *PortfolioService) UpsertExchange(ctx context.Context, viewer types.Role, ex types.Exchange) (types.Exchange, error) {
	ex.Code = strings.ToUpper(strings.TrimSpace(ex.Code))
	ex.Name = strings.TrimSpace(ex.Name)
	ex.Country = strings.TrimSpace(ex.Country)
	if ex.Code == "" || ex.Name == "" {
		return types.Exchange{}, invalid("code and name are required")
	}

	ctx, cancel := s.timeout.write(ctx)
	defer cancel()

	if err := s.require(ctx, viewer, types.ResourceDictionaries, nil, true); err != nil {
		return types.Exchange{}, err
	}
	if err := s.dictionaries.UpsertExchange(ctx, ex); err != nil {
		return types.Exchange{}, err
	}
	s.record(ctx, "exchanges", "upsert", viewer.UserID, nil, ex.Code)
	return ex, nil
}

func (s *PortfolioService) DeleteExchange(ctx context.Context, viewer types.Role, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	ctx, cancel := s.timeout.write(ctx)
	defer cancel()

	if err := s.require(ctx, viewer, types.ResourceDictionaries, nil, true); err != nil {
		return err
	}
	if err := s.dictionaries.DeleteExchange(ctx, code); err != nil {
		return err
	}
	s.record(ctx, "exchanges", "delete", viewer.UserID, nil, code)
	return nil
}

func (s *PortfolioService) record(ctx context.Context, table, action, actorID string, targetID *string, ticker string) {
	rec := types.AuditRecord{
		TableName:    table,
		Action:       action,
		ActorID:      strPtr(actorID),
		TargetUserID: targetID,
	}
	if ticker != "" {
		rec.Ticker = strPtr(ticker)
	}
	audit(ctx, s.auditor, s.logger, rec)
}

func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

func validateCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", invalid("currency is required")
	}
	if money.GetCurrency(code) == nil {
		return "", invalid("unknown currency")
	}
	return code, nil
}
