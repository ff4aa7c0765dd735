package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/folio-ledger/apiserver/internal/authz"
	"github.com/folio-ledger/apiserver/internal/services"
	"github.com/folio-ledger/apiserver/types"
)

// Ledger is the owner-scoped bookkeeping surface.
type Ledger interface {
	ListTrades(ctx context.Context, viewer types.Role, ownerID string) ([]types.Trade, error)
	CreateTrade(ctx context.Context, viewer types.Role, ownerID string, in services.TradeInput) (types.Trade, error)
	DeleteTrade(ctx context.Context, viewer types.Role, ownerID string, id int64) error
	ListDividends(ctx context.Context, viewer types.Role, ownerID string) ([]types.Dividend, error)
	CreateDividend(ctx context.Context, viewer types.Role, ownerID string, in services.DividendInput) (types.Dividend, error)
	DeleteDividend(ctx context.Context, viewer types.Role, ownerID string, id int64) error
	Report(ctx context.Context, viewer types.Role, ownerID string) (types.PortfolioReport, error)
	ListStocks(ctx context.Context) ([]types.Stock, error)
	UpsertStock(ctx context.Context, viewer types.Role, stock types.Stock) (types.Stock, error)
	DeleteStock(ctx context.Context, viewer types.Role, ticker string) error
	ListExchanges(ctx context.Context) ([]types.Exchange, error)
	UpsertExchange(ctx context.Context, viewer types.Role, ex types.Exchange) (types.Exchange, error)
	DeleteExchange(ctx context.Context, viewer types.Role, code string) error
}

// DashboardBuilder derives the navigation model of a viewer.
type DashboardBuilder interface {
	Build(ctx context.Context, viewer types.Role, ownerID string) (authz.DashboardView, error)
}

type PortfolioHandler struct {
	ledger    Ledger
	dashboard DashboardBuilder
	errs      *Responder
}

func NewPortfolioHandler(ledger Ledger, dashboard DashboardBuilder, errs *Responder) *PortfolioHandler {
	return &PortfolioHandler{ledger: ledger, dashboard: dashboard, errs: errs}
}

// PortfolioRouter registers the portfolio routes behind RequireActive.
func PortfolioRouter(r chi.Router, handler *PortfolioHandler) {
	r.Get("/dashboard", handler.Dashboard)
	r.Route("/portfolios/{ownerID}", func(r chi.Router) {
		r.Get("/trades", handler.ListTrades)
		r.Post("/trades", handler.CreateTrade)
		r.Delete("/trades/{id}", handler.DeleteTrade)
		r.Get("/dividends", handler.ListDividends)
		r.Post("/dividends", handler.CreateDividend)
		r.Delete("/dividends/{id}", handler.DeleteDividend)
		r.Get("/report", handler.Report)
	})
	r.Get("/stocks", handler.ListStocks)
	r.Post("/stocks", handler.UpsertStock)
	r.Delete("/stocks/{ticker}", handler.DeleteStock)
	r.Get("/exchanges", handler.ListExchanges)
	r.Post("/exchanges", handler.UpsertExchange)
	r.Delete("/exchanges/{code}", handler.DeleteExchange)
}

type TradeRequest struct {
	Ticker   string          `json:"ticker"`
	Side     string          `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	TradedAt time.Time       `json:"traded_at"`
}

type DividendRequest struct {
	Ticker   string          `json:"ticker"`
	Amount   decimal.Decimal `json:"amount"`
	Tax      decimal.Decimal `json:"tax"`
	Currency string          `json:"currency"`
	PaidAt   time.Time       `json:"paid_at"`
}

func (h *PortfolioHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	view, err := h.dashboard.Build(r.Context(), callerRole(r), ownerID)
	if err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *PortfolioHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.ledger.ListTrades(r.Context(), callerRole(r), chi.URLParam(r, "ownerID"))
	if err != nil {
		h.errs.fail(w, r, err)
		return
	}
	if trades == nil {
		trades = []types.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (h *PortfolioHandler) CreateTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	trade, err := h.ledger.CreateTrade(r.Context(), callerRole(r), chi.URLParam(r, "ownerID"), services.TradeInput{
		Ticker:   req.Ticker,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    req.Price,
		Currency: req.Currency,
		TradedAt: req.TradedAt,
	})
	if err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}

func (h *PortfolioHandler) DeleteTrade(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRowID(w, r)
	if !ok {
		return
	}
	if err := h.ledger.DeleteTrade(r.Context(), callerRole(r), chi.URLParam(r, "ownerID"), id); err != nil {
		h.errs.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PortfolioHandler) ListDividends(w http.ResponseWriter, r *http.Request) {
	dividends, err := h.ledger.ListDividends(r.Context(), callerRole(r), chi.URLParam(r, "ownerID"))
	if err != nil {
		h.errs.fail(w, r, err)
		return
	}
	if dividends == nil {
		dividends = []types.Dividend{}
	}
	writeJSON(w, http.StatusOK, dividends)
}

func (h *PortfolioHandler) CreateDividend(w http.ResponseWriter, r *http.Request) {
	var req DividendRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	dividend, err := h.ledger.CreateDividend(r.Context(), callerRole(r), chi.URLParam(r, "ownerID"), services.DividendInput{
		Ticker:   req.Ticker,
		Amount:   req.Amount,
		Tax:      req.Tax,
		Currency: req.Currency,
		PaidAt:   req.PaidAt,
	})
	if err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dividend)
}

func (h *PortfolioHandler) DeleteDividend(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRowID(w, r)
	if !ok {
		return
	}
	if err := h.ledger.DeleteDividend(r.Context(), callerRole(r), chi.URLParam(r, "ownerID"), id); err != nil {
		h.errs.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PortfolioHandler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledger.Report(r.Context(), callerRole(r), chi.URLParam(r, "ownerID"))
	if err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *PortfolioHandler) ListStocks(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.ledger.ListStocks(r.Context())
	if err != nil {
		h.errs.fail(w, r, err)
		return
	}
	if stocks == nil {
		stocks = []types.Stock{}
	}
	writeJSON(w, http.StatusOK, stocks)
}

func (h *PortfolioHandler) UpsertStock(w http.ResponseWriter, r *http.Request) {
	var req types.Stock
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	stock, err := h.ledger.UpsertStock(r.Context(), callerRole(r), req)
	if err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

func (h *PortfolioHandler) DeleteStock(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.DeleteStock(r.Context(), callerRole(r), chi.URLParam(r, "ticker")); err != nil {
		h.errs.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PortfolioHandler) ListExchanges(w http.ResponseWriter, r *http.Request) {
	exchanges, err := h.ledger.ListExchanges(r.Context())
	if err != nil {
		h.errs.fail(w, r, err)
		return
	}
	if exchanges == nil {
		exchanges = []types.Exchange{}
	}
	writeJSON(w, http.StatusOK, exchanges)
}

func (h *PortfolioHandler) UpsertExchange(w http.ResponseWriter, r *http.Request) {
	var req types.Exchange
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	ex, err := h.ledger.UpsertExchange(r.Context(), callerRole(r), req)
	if err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (h *PortfolioHandler) DeleteExchange(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.DeleteExchange(r.Context(), callerRole(r), chi.URLParam(r, "code")); err != nil {
		h.errs.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseRowID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
