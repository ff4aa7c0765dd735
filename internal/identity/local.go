package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/folio-ledger/apiserver/internal/store"
)

const DefaultTokenTTL = 24 * time.Hour

// AccountStore persists local credential accounts.
type AccountStore interface {
	Create(ctx context.Context, account store.Account) (store.Account, error)
	GetByEmail(ctx context.Context, email string) (store.Account, error)
	GetByID(ctx context.Context, id string) (store.Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Delete(ctx context.Context, id string) error
}

// Local is the built-in identity provider: bcrypt password hashes in Postgres
// and HS256 bearer tokens.
type Local struct {
	accounts AccountStore
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
}

func NewLocal(accounts AccountStore, jwtSecret string, tokenTTL time.Duration) *Local {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &Local{
		accounts: accounts,
		secret:   []byte(jwtSecret),
		tokenTTL: tokenTTL,
		now:      time.Now,
	}
}

type localClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Login checks the password and issues a token for the account.
func (l *Local) Login(ctx context.Context, email, password string) (string, Identity, error) {
	account, err := l.accounts.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", Identity{}, ErrInvalidCredentials
		}
		return "", Identity{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return "", Identity{}, ErrInvalidCredentials
	}

	id := Identity{ID: account.ID, Email: account.Email}
	token, err := l.IssueToken(id)
	if err != nil {
		return "", Identity{}, fmt.Errorf("issue token: %w", err)
	}
	return token, id, nil
}

func (l *Local) IssueToken(id Identity) (string, error) {
	now := l.now()
	claims := localClaims{
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(l.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(l.secret)
}

func (l *Local) Verify(_ context.Context, token string) (Identity, error) {
	claims := localClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return l.secret, nil
	}, jwt.WithTimeFunc(l.now))
	if err != nil || !parsed.Valid {
		return Identity{}, ErrUnauthorized
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrUnauthorized
	}
	return Identity{ID: claims.Subject, Email: claims.Email}, nil
}

func (l *Local) CreateAccount(ctx context.Context, email, password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	account, err := l.accounts.Create(ctx, store.Account{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(email),
		PasswordHash: string(hashed),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return "", ErrAccountExists
		}
		return "", err
	}
	return account.ID, nil
}

func (l *Local) DeleteAccount(ctx context.Context, id string) error {
	return l.accounts.Delete(ctx, id)
}

func (l *Local) SetPassword(ctx context.Context, id, password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return l.accounts.UpdatePassword(ctx, id, string(hashed))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
