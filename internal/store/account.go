package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Account is a local credential record backing the built-in identity provider.
type Account struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// ErrDuplicateEmail is returned when an account already exists for the email.
var ErrDuplicateEmail = errors.New("email already registered")

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account Account) (Account, error) {
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	const query = `
		INSERT INTO auth_accounts (id, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO NOTHING`
	result, err := r.db.ExecContext(ctx, query, account.ID, account.Email, account.PasswordHash, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return Account{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Account{}, err
	}
	if affected == 0 {
		return Account{}, ErrDuplicateEmail
	}
	return account, nil
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (Account, error) {
	const query = `
		SELECT id, email, password_hash, created_at, updated_at
		FROM auth_accounts
		WHERE email = $1`
	return r.scanOne(ctx, query, email)
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (Account, error) {
	const query = `
		SELECT id, email, password_hash, created_at, updated_at
		FROM auth_accounts
		WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	const query = `UPDATE auth_accounts SET password_hash = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, passwordHash, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// Delete removes the account. Deleting a missing account is not an error.
func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM auth_accounts WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *AccountRepository) scanOne(ctx context.Context, query string, arg string) (Account, error) {
	var account Account
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return account, nil
}
