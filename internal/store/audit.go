package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/folio-ledger/apiserver/types"
)

const (
	DefaultAuditLimit = 200
	MaxAuditLimit     = 1000
)

// AuditRepository is the append-only audit feed.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append stores the record, assigning an ID and timestamp when absent.
func (r *AuditRepository) Append(ctx context.Context, record types.AuditRecord) (types.AuditRecord, error) {
	if record.ID == "" {
		record.ID = NewID()
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO audit_log (id, occurred_at, table_name, action, actor_id, target_user_id, ticker)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		record.ID,
		record.OccurredAt,
		record.TableName,
		record.Action,
		record.ActorID,
		record.TargetUserID,
		record.Ticker,
	); err != nil {
		return types.AuditRecord{}, err
	}
	return record, nil
}

// List returns records newest first. The limit is clamped to [1, MaxAuditLimit].
func (r *AuditRepository) List(ctx context.Context, filter types.AuditFilter) ([]types.AuditRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.Table != "" {
		args = append(args, filter.Table)
		where = append(where, fmt.Sprintf("table_name = $%d", len(args)))
	}
	if filter.User != "" {
		args = append(args, filter.User)
		where = append(where, fmt.Sprintf("(actor_id = $%d OR target_user_id = $%d)", len(args), len(args)))
	}
	args = append(args, ClampAuditLimit(filter.Limit))

	var b strings.Builder
	b.WriteString(`SELECT id, occurred_at, table_name, action, actor_id, target_user_id, ticker FROM audit_log`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY occurred_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]types.AuditRecord, 0)
	for rows.Next() {
		var rec types.AuditRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.OccurredAt,
			&rec.TableName,
			&rec.Action,
			&rec.ActorID,
			&rec.TargetUserID,
			&rec.Ticker,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// ClampAuditLimit maps a requested page size into [1, MaxAuditLimit]. A nil
// limit means the default; an explicit zero is clamped like any other value.
func ClampAuditLimit(limit *int) int {
	switch {
	case limit == nil:
		return DefaultAuditLimit
	case *limit < 1:
		return 1
	case *limit > MaxAuditLimit:
		return MaxAuditLimit
	default:
		return *limit
	}
}
