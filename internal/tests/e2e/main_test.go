//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/folio-ledger/apiserver/config"
	"github.com/folio-ledger/apiserver/internal/db"
	"github.com/folio-ledger/apiserver/internal/identity"
	"github.com/folio-ledger/apiserver/internal/logging"
	"github.com/folio-ledger/apiserver/internal/server"
	"github.com/folio-ledger/apiserver/internal/store"
	"github.com/folio-ledger/apiserver/types"
)

const (
	serverPort    = 18080
	adminEmail    = "root@example.com"
	adminPassword = "root-password"
)

var (
	baseURL = fmt.Sprintf("http://localhost:%d", serverPort)
	dbConn  *sql.DB
)

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("folio"),
		postgres.WithUsername("folio"),
		postgres.WithPassword("folio"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		return 1
	}
	defer func() { _ = testcontainers.TerminateContainer(pg) }()

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "connection string: %v\n", err)
		return 1
	}
	if err := db.MigrateUp(dsn); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		return 1
	}
	if err := setDatabaseEnv(dsn); err != nil {
		fmt.Fprintf(os.Stderr, "bad dsn: %v\n", err)
		return 1
	}

	dbConn, err = db.OpenDSN(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		return 1
	}
	defer dbConn.Close()

	if err := seedAdmin(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "seed admin: %v\n", err)
		return 1
	}

	srv, err := startServer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		return 1
	}
	return m.Run()
}

func setDatabaseEnv(dsn string) error {
	u, err := url.Parse(dsn)
	if err != nil {
		return err
	}
	password, _ := u.User.Password()
	for key, value := range map[string]string{
		"DB_HOST":     u.Hostname(),
		"DB_PORT":     u.Port(),
		"DB_USER":     u.User.Username(),
		"DB_PASSWORD": password,
		"DB_NAME":     strings.TrimPrefix(u.Path, "/"),
		"DB_SSL":      "false",
	} {
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return nil
}

func seedAdmin(ctx context.Context) error {
	local := identity.NewLocal(store.NewAccountRepository(dbConn), "e2e-secret", time.Hour)
	id, err := local.CreateAccount(ctx, adminEmail, adminPassword)
	if err != nil {
		return err
	}
	_, err = store.NewUserRepository(dbConn).Create(ctx, types.User{ID: id, Email: adminEmail, IsAdmin: true, IsActive: true})
	return err
}

func startServer(ctx context.Context) (*server.Server, error) {
	_ = os.Setenv("ENV", config.EnvProd)
	_ = os.Setenv("JWT_SECRET", "e2e-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("MQ_BACKEND", "memory")
	_ = os.Setenv("STORAGE_BACKEND", "none")
	_ = os.Setenv("LOGIN_RATE_PER_SEC", "100")
	_ = os.Setenv("LOGIN_RATE_BURST", "100")
	_ = os.Setenv("RECONCILE_SCHEDULE", "off")

	cfg := config.LoadConfig()
	srv, err := server.New(ctx, cfg, logging.New("warn", false))
	if err != nil {
		return nil, err
	}
	go func() {
		_ = srv.Start()
	}()
	return srv, nil
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

// call sends body as JSON and decodes the response into out when out is non-nil.
func call(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type loginResponse struct {
	Token              string `json:"token"`
	UserID             string `json:"user_id"`
	MustChangePassword bool   `json:"must_change_password"`
}

func login(t *testing.T, email, password string) loginResponse {
	t.Helper()
	var resp loginResponse
	if status := call(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password}, &resp); status != http.StatusOK {
		t.Fatalf("login %s: status %d", email, status)
	}
	return resp
}

func createUser(t *testing.T, adminToken, email string) string {
	t.Helper()
	var resp struct {
		UserID string `json:"user_id"`
	}
	status := call(t, http.MethodPost, "/api/admin/users/create", adminToken, map[string]any{
		"email":    email,
		"password": "initial-password",
	}, &resp)
	if status != http.StatusCreated {
		t.Fatalf("create %s: status %d", email, status)
	}
	return resp.UserID
}

func uniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%d@example.com", prefix, time.Now().UnixNano())
}

func countRows(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	if err := dbConn.QueryRowContext(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
