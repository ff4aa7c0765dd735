// Package identity resolves bearer credentials to user identities and manages
// the credential accounts that back them.
package identity

import (
	"context"
	"errors"
)

var (
	// ErrUnauthorized means the credential is missing, malformed or does not verify.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidCredentials is returned by Login for an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountExists is returned when provisioning an email that already has an account.
	ErrAccountExists = errors.New("account already exists")
)

// Identity is the result of a successful token verification.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Verifier resolves a bearer token to an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Directory provisions and removes credential accounts.
type Directory interface {
	CreateAccount(ctx context.Context, email, password string) (string, error)
	// DeleteAccount removes the account. Removing an absent account succeeds.
	DeleteAccount(ctx context.Context, id string) error
	SetPassword(ctx context.Context, id, password string) error
}
