package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/folio-ledger/apiserver/types"
)

const userColumns = `user_id, email, full_name, is_admin, is_active, must_change_password,
		       deleted_at, first_login_at, created_at, updated_at`

// UserRepository is the Role Store: profiles and their admin/active flags.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Get(ctx context.Context, id string) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE user_id = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// GetRole returns the access flags of a user, or ErrNotFound when no profile exists.
func (r *UserRepository) GetRole(ctx context.Context, id string) (types.Role, error) {
	const query = `
		SELECT is_admin, is_active, must_change_password
		FROM users
		WHERE user_id = $1`
	role := types.Role{UserID: id}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&role.IsAdmin, &role.IsActive, &role.MustChangePassword)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Role{}, ErrNotFound
		}
		return types.Role{}, err
	}
	return role, nil
}

func (r *UserRepository) List(ctx context.Context) ([]types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY email`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]types.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (user_id, email, full_name, is_admin, is_active, must_change_password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Email,
		user.FullName,
		user.IsAdmin,
		user.IsActive,
		user.MustChangePassword,
		user.CreatedAt,
		user.UpdatedAt,
	); err != nil {
		return types.User{}, err
	}
	return user, nil
}

// SetAdmin changes the admin flag. Promotion locks the row and requires it to
// be active, so a concurrent deactivation cannot slip in between.
func (r *UserRepository) SetAdmin(ctx context.Context, id string, isAdmin bool) error {
	const query = `UPDATE users SET is_admin = $1, updated_at = NOW() WHERE user_id = $2`
	if !isAdmin {
		result, err := r.db.ExecContext(ctx, query, isAdmin, id)
		if err != nil {
			return err
		}
		return expectAffected(result)
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := lockActive(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, query, isAdmin, id)
		return err
	})
}

// lockActive takes a share lock on each user row and fails unless every user
// exists and is active. The lock blocks deactivation until the caller commits.
func lockActive(ctx context.Context, tx *sql.Tx, ids ...string) error {
	const query = `SELECT is_active FROM users WHERE user_id = $1 FOR SHARE`
	for _, id := range ids {
		var active bool
		if err := tx.QueryRowContext(ctx, query, id).Scan(&active); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if !active {
			return &InactiveError{UserID: id}
		}
	}
	return nil
}

// SetActive flips the activity flag. Deactivation deletes every grant the user
// is party to within the same transaction.
func (r *UserRepository) SetActive(ctx context.Context, id string, active bool) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		const activate = `
			UPDATE users SET is_active = TRUE, deleted_at = NULL, updated_at = NOW()
			WHERE user_id = $1`
		const deactivate = `
			UPDATE users SET is_active = FALSE, updated_at = NOW()
			WHERE user_id = $1`

		query := activate
		if !active {
			query = deactivate
		}
		result, err := tx.ExecContext(ctx, query, id)
		if err != nil {
			return err
		}
		if err := expectAffected(result); err != nil {
			return err
		}
		if active {
			return nil
		}
		_, err = deleteGrantsForUser(ctx, tx, id)
		return err
	})
}

// SoftDelete deactivates the user, masks the email and removes their grants.
func (r *UserRepository) SoftDelete(ctx context.Context, id, maskedEmail string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		const query = `
			UPDATE users
			SET is_active = FALSE,
				deleted_at = COALESCE(deleted_at, NOW()),
				email = $1,
				updated_at = NOW()
			WHERE user_id = $2`
		result, err := tx.ExecContext(ctx, query, maskedEmail, id)
		if err != nil {
			return err
		}
		if err := expectAffected(result); err != nil {
			return err
		}
		_, err = deleteGrantsForUser(ctx, tx, id)
		return err
	})
}

func (r *UserRepository) SetMustChangePassword(ctx context.Context, id string, must bool) error {
	const query = `UPDATE users SET must_change_password = $1, updated_at = NOW() WHERE user_id = $2`
	result, err := r.db.ExecContext(ctx, query, must, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// CompleteFirstLogin clears the forced password change and stamps the first login once.
func (r *UserRepository) CompleteFirstLogin(ctx context.Context, id string) error {
	const query = `
		UPDATE users
		SET must_change_password = FALSE,
			first_login_at = COALESCE(first_login_at, NOW()),
			updated_at = NOW()
		WHERE user_id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.IsAdmin,
		&user.IsActive,
		&user.MustChangePassword,
		&user.DeletedAt,
		&user.FirstLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}
