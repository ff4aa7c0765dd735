package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/folio-ledger/apiserver/types"
)

// PermissionRepository is the Global Permission Store.
type PermissionRepository struct {
	db *sql.DB
}

func NewPermissionRepository(db *sql.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// Get returns the user's global permissions. A missing row yields all flags false.
func (r *PermissionRepository) Get(ctx context.Context, userID string) (types.GlobalPermission, error) {
	const query = `
		SELECT user_id, can_view_all, can_edit_all, can_edit_dictionaries
		FROM user_permissions
		WHERE user_id = $1`
	var perm types.GlobalPermission
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&perm.UserID,
		&perm.CanViewAll,
		&perm.CanEditAll,
		&perm.CanEditDictionaries,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.GlobalPermission{UserID: userID}, nil
		}
		return types.GlobalPermission{}, err
	}
	return perm, nil
}

// Upsert writes all three flags together. The user row is locked and must be
// active, otherwise an *InactiveError is returned.
func (r *PermissionRepository) Upsert(ctx context.Context, perm types.GlobalPermission) error {
	const query = `
		INSERT INTO user_permissions (user_id, can_view_all, can_edit_all, can_edit_dictionaries, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET can_view_all = EXCLUDED.can_view_all,
			can_edit_all = EXCLUDED.can_edit_all,
			can_edit_dictionaries = EXCLUDED.can_edit_dictionaries,
			updated_at = NOW()`
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := lockActive(ctx, tx, perm.UserID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, query, perm.UserID, perm.CanViewAll, perm.CanEditAll, perm.CanEditDictionaries)
		return err
	})
}

func (r *PermissionRepository) List(ctx context.Context) ([]types.GlobalPermission, error) {
	const query = `
		SELECT user_id, can_view_all, can_edit_all, can_edit_dictionaries
		FROM user_permissions
		ORDER BY user_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := make([]types.GlobalPermission, 0)
	for rows.Next() {
		var perm types.GlobalPermission
		if err := rows.Scan(&perm.UserID, &perm.CanViewAll, &perm.CanEditAll, &perm.CanEditDictionaries); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}
