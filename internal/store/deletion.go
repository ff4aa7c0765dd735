package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PendingDeletion is a journal entry for an identity account that still has to
// be removed from the directory after its profile rows are gone.
type PendingDeletion struct {
	UserID     string    `json:"user_id" db:"user_id"`
	EnqueuedAt time.Time `json:"enqueued_at" db:"enqueued_at"`
	Attempts   int       `json:"attempts" db:"attempts"`
	LastError  *string   `json:"last_error" db:"last_error"`
}

// HardDelete purges every row referencing the user and journals the pending
// directory deletion, all in one transaction.
func (r *UserRepository) HardDelete(ctx context.Context, id string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		const exists = `SELECT 1 FROM users WHERE user_id = $1 FOR UPDATE`
		var one int
		if err := tx.QueryRowContext(ctx, exists, id).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		purges := []string{
			`DELETE FROM trades WHERE user_id = $1`,
			`DELETE FROM dividends WHERE user_id = $1`,
			`DELETE FROM user_grants WHERE owner_id = $1 OR grantee_id = $1`,
			`DELETE FROM user_permissions WHERE user_id = $1`,
			`DELETE FROM audit_log WHERE actor_id = $1 OR target_user_id = $1`,
			`DELETE FROM users WHERE user_id = $1`,
		}
		for _, query := range purges {
			if _, err := tx.ExecContext(ctx, query, id); err != nil {
				return err
			}
		}

		const journal = `
			INSERT INTO pending_identity_deletions (user_id, enqueued_at)
			VALUES ($1, NOW())
			ON CONFLICT (user_id) DO NOTHING`
		_, err := tx.ExecContext(ctx, journal, id)
		return err
	})
}

// PendingDeletionRepository tracks directory deletions that have not completed yet.
type PendingDeletionRepository struct {
	db *sql.DB
}

func NewPendingDeletionRepository(db *sql.DB) *PendingDeletionRepository {
	return &PendingDeletionRepository{db: db}
}

func (r *PendingDeletionRepository) Exists(ctx context.Context, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM pending_identity_deletions WHERE user_id = $1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PendingDeletionRepository) List(ctx context.Context, limit int) ([]PendingDeletion, error) {
	const query = `
		SELECT user_id, enqueued_at, attempts, last_error
		FROM pending_identity_deletions
		ORDER BY enqueued_at
		LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pending := make([]PendingDeletion, 0)
	for rows.Next() {
		var p PendingDeletion
		if err := rows.Scan(&p.UserID, &p.EnqueuedAt, &p.Attempts, &p.LastError); err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pending, nil
}

// Complete removes the journal entry once the directory account is gone.
func (r *PendingDeletionRepository) Complete(ctx context.Context, userID string) error {
	const query = `DELETE FROM pending_identity_deletions WHERE user_id = $1`
	_, err := r.db.ExecContext(ctx, query, userID)
	return err
}

func (r *PendingDeletionRepository) RecordFailure(ctx context.Context, userID string, cause error) error {
	const query = `
		UPDATE pending_identity_deletions
		SET attempts = attempts + 1, last_error = $1
		WHERE user_id = $2`
	_, err := r.db.ExecContext(ctx, query, cause.Error(), userID)
	return err
}
