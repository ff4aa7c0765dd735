package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/folio-ledger/apiserver/config"
	"github.com/folio-ledger/apiserver/internal/authz"
	"github.com/folio-ledger/apiserver/internal/db"
	"github.com/folio-ledger/apiserver/internal/handlers"
	"github.com/folio-ledger/apiserver/internal/identity"
	"github.com/folio-ledger/apiserver/internal/metrics"
	"github.com/folio-ledger/apiserver/internal/mq"
	"github.com/folio-ledger/apiserver/internal/ratelimit"
	"github.com/folio-ledger/apiserver/internal/reconcile"
	"github.com/folio-ledger/apiserver/internal/services"
	"github.com/folio-ledger/apiserver/internal/storage"
	"github.com/folio-ledger/apiserver/internal/store"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

const (
	AuthLocal = "local"
	AuthOIDC  = "oidc"
)

// Server wraps the HTTP server, router and the connections it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     logrus.FieldLogger
	db         *sql.DB
	scheduler  *reconcile.Scheduler
	closers    []func() error
}

// New connects every backend named in cfg and assembles the router.
func New(ctx context.Context, cfg config.Config, logger *logrus.Logger) (_ *Server, err error) {
	s := &Server{logger: logger}
	defer func() {
		if err != nil {
			s.closeAll()
		}
	}()

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s.db = dbConn
	s.closers = append(s.closers, dbConn.Close)

	userRepo := store.NewUserRepository(dbConn)
	permissionRepo := store.NewPermissionRepository(dbConn)
	grantRepo := store.NewGrantRepository(dbConn)
	auditRepo := store.NewAuditRepository(dbConn)
	pendingRepo := store.NewPendingDeletionRepository(dbConn)

	local := identity.NewLocal(store.NewAccountRepository(dbConn), cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	verifier, err := buildVerifier(ctx, cfg.Auth, local)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	broker, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		return nil, fmt.Errorf("open mq: %w", err)
	}
	var publisher services.Publisher
	if broker != nil {
		publisher = broker
		s.closers = append(s.closers, broker.Close)
	}

	exports, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	limiter, closeLimiter, err := ratelimit.Open(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("open rate limiter: %w", err)
	}
	s.closers = append(s.closers, closeLimiter)

	auditService := services.NewAuditService(auditRepo, logger, services.AuditOptions{
		Publisher:       publisher,
		Channel:         cfg.MQ.AuditChannel,
		Exports:         exports,
		PublishFailures: m.PublishFailures(),
		StoreTimeout:    cfg.StoreTimeout,
	})
	engine := authz.NewEngine(userRepo, permissionRepo, grantRepo, authz.WithObserver(m))
	dashboard := authz.NewDashboard(engine, userRepo, grantRepo)
	var userOpts []services.UserOption
	if strings.EqualFold(strings.TrimSpace(cfg.Auth.Provider), AuthOIDC) {
		userOpts = append(userOpts, services.WithExternalIdentity())
	}
	userService := services.NewUserService(userRepo, pendingRepo, local, auditService, logger, cfg.StoreTimeout, userOpts...)
	permissionService := services.NewPermissionService(userRepo, permissionRepo, grantRepo, auditService, logger, cfg.StoreTimeout)
	portfolioService := services.NewPortfolioService(
		store.NewTradeRepository(dbConn),
		store.NewDividendRepository(dbConn),
		store.NewDictionaryRepository(dbConn),
		engine,
		auditService,
		logger,
		cfg.StoreTimeout,
	)

	if schedule := strings.TrimSpace(cfg.Reconcile.Schedule); schedule != "" && schedule != "off" {
		s.scheduler, err = reconcile.NewScheduler(reconcile.NewJob(userService, logger), schedule, logger)
		if err != nil {
			return nil, err
		}
	}

	errs := handlers.NewResponder(logger, cfg.IsDev())
	rt := routes{
		logger:      logger,
		metrics:     m,
		corsOrigins: cfg.CORSOrigins,
		health:      newHealth(cfg.Env, time.Now()),
		gate:        handlers.NewGate(verifier, userService, errs),
		admin:       handlers.NewAdminHandler(userService, permissionService, auditService, errs),
		self:        handlers.NewSelfHandler(userService, errs),
		portfolio:   handlers.NewPortfolioHandler(portfolioService, dashboard, errs),
		loginLimit:  ratelimit.Middleware(limiter, "login", logger),
	}
	if strings.EqualFold(cfg.Auth.Provider, AuthLocal) || cfg.Auth.Provider == "" {
		rt.auth = handlers.NewAuthHandler(local, userService, errs)
	}
	s.router = newRouter(rt)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      otelhttp.NewHandler(s.router, "folio-api"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// buildVerifier picks the token verifier. Under OIDC, profiles are keyed by
// the provider's subject and the user service refuses local provisioning.
func buildVerifier(ctx context.Context, cfg config.AuthConfig, local *identity.Local) (identity.Verifier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", AuthLocal:
		if strings.TrimSpace(cfg.JWTSecret) == "" {
			return nil, errors.New("JWT_SECRET is required")
		}
		return local, nil
	case AuthOIDC:
		if cfg.OIDCIssuerURL == "" || cfg.OIDCClientID == "" {
			return nil, errors.New("OIDC_ISSUER_URL and OIDC_CLIENT_ID are required")
		}
		return identity.NewOIDCVerifier(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
	default:
		return nil, fmt.Errorf("unknown auth provider %q", cfg.Provider)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the reconcile schedule and the HTTP server. It returns nil
// after a graceful Shutdown.
func (s *Server) Start() error {
	if s.scheduler != nil {
		s.scheduler.Start()
	}
	s.logger.WithField("addr", s.httpServer.Addr).Info("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, stops the schedule and closes every
// backend connection.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.scheduler != nil {
		s.scheduler.Stop(ctx)
	}
	s.closeAll()
	return err
}

func (s *Server) closeAll() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.WithError(err).Warn("close failed")
		}
	}
	s.closers = nil
}
