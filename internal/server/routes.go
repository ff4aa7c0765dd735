package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/folio-ledger/apiserver/internal/handlers"
	"github.com/folio-ledger/apiserver/internal/logging"
	"github.com/folio-ledger/apiserver/internal/metrics"
)

type routes struct {
	logger      logrus.FieldLogger
	metrics     *metrics.Metrics
	corsOrigins []string
	health      *health
	gate        *handlers.Gate
	auth        *handlers.AuthHandler
	admin       *handlers.AdminHandler
	self        *handlers.SelfHandler
	portfolio   *handlers.PortfolioHandler
	loginLimit  func(http.Handler) http.Handler
}

func newRouter(rt routes) *chi.Mux {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logging.RequestLogger(rt.logger),
		middleware.Recoverer,
		rt.metrics.Instrument,
		middleware.Timeout(60*time.Second),
		cors(rt.corsOrigins),
	)
	router.Get("/healthz", healthz)
	router.Get("/health", rt.health.ServeHTTP)
	router.Method(http.MethodGet, "/metrics", rt.metrics.Handler())

	router.Route("/api", func(r chi.Router) {
		if rt.auth != nil {
			r.Route("/auth", func(r chi.Router) {
				handlers.AuthRouter(r, rt.auth, rt.loginLimit)
			})
		}
		r.Group(func(r chi.Router) {
			r.Use(rt.gate.RequireAuth)
			r.Route("/self", func(r chi.Router) {
				handlers.SelfRouter(r, rt.self)
			})
			r.Group(func(r chi.Router) {
				r.Use(rt.gate.RequireAdmin)
				handlers.AdminRouter(r, rt.admin)
			})
			r.Group(func(r chi.Router) {
				r.Use(rt.gate.RequireActive)
				handlers.PortfolioRouter(r, rt.portfolio)
			})
		})
	})
	return router
}
