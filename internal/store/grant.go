package store

import (
	"context"
	"database/sql"

	"github.com/folio-ledger/apiserver/types"
)

// GrantRepository is the Grant Store. Rows are keyed by
// (resource, owner_id, grantee_id, mode).
type GrantRepository struct {
	db *sql.DB
}

func NewGrantRepository(db *sql.DB) *GrantRepository {
	return &GrantRepository{db: db}
}

// Upsert inserts the grant; re-granting the same tuple is a no-op. Grantee
// and owner are locked and must be active, otherwise an *InactiveError is
// returned and nothing is written.
func (r *GrantRepository) Upsert(ctx context.Context, grant types.Grant) error {
	const query = `
		INSERT INTO user_grants (resource, owner_id, grantee_id, mode)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (resource, (COALESCE(owner_id, '')), grantee_id, mode) DO NOTHING`

	parties := []string{grant.GranteeID}
	if grant.OwnerID != nil {
		parties = append(parties, *grant.OwnerID)
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := lockActive(ctx, tx, parties...); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, query, string(grant.Resource), grant.OwnerID, grant.GranteeID, string(grant.Mode))
		return err
	})
}

// Delete removes the exact tuple. A nil owner matches only ownerless rows.
// Deleting an absent tuple is not an error.
func (r *GrantRepository) Delete(ctx context.Context, grant types.Grant) error {
	const query = `
		DELETE FROM user_grants
		WHERE resource = $1
		  AND owner_id IS NOT DISTINCT FROM $2
		  AND grantee_id = $3
		  AND mode = $4`
	_, err := r.db.ExecContext(ctx, query, string(grant.Resource), grant.OwnerID, grant.GranteeID, string(grant.Mode))
	return err
}

// ListForGrantee returns every grant held by the user, across resources and owners.
func (r *GrantRepository) ListForGrantee(ctx context.Context, granteeID string) ([]types.Grant, error) {
	const query = `
		SELECT resource, owner_id, grantee_id, mode
		FROM user_grants
		WHERE grantee_id = $1`
	return queryGrants(ctx, r.db, query, granteeID)
}

func (r *GrantRepository) List(ctx context.Context) ([]types.Grant, error) {
	const query = `
		SELECT resource, owner_id, grantee_id, mode
		FROM user_grants
		ORDER BY grantee_id, resource, owner_id, mode`
	return queryGrants(ctx, r.db, query)
}

func deleteGrantsForUser(ctx context.Context, exec DBTX, userID string) (int64, error) {
	const query = `DELETE FROM user_grants WHERE owner_id = $1 OR grantee_id = $1`
	result, err := exec.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func queryGrants(ctx context.Context, exec DBTX, query string, args ...any) ([]types.Grant, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grants := make([]types.Grant, 0)
	for rows.Next() {
		var (
			grant    types.Grant
			resource string
			mode     string
		)
		if err := rows.Scan(&resource, &grant.OwnerID, &grant.GranteeID, &mode); err != nil {
			return nil, err
		}
		grant.Resource = types.Resource(resource)
		grant.Mode = types.Mode(mode)
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}
