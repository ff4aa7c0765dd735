package types

import "time"

// AuditRecord is one entry of the append-only privileged-action feed.
type AuditRecord struct {
	// ID is a lexicographically sortable identifier.
	ID string `json:"id" db:"id"`

	// OccurredAt is when the action was performed.
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`

	// TableName names the store the action touched.
	TableName string `json:"table_name" db:"table_name"`

	// Action is a short verb such as "upsert_grant" or "soft_delete".
	Action string `json:"action" db:"action"`

	// ActorID is the user who performed the action.
	ActorID *string `json:"actor_id" db:"actor_id"`

	// TargetUserID is the user the action was applied to.
	TargetUserID *string `json:"target_user_id" db:"target_user_id"`

	// Ticker holds resource-specific detail.
	Ticker *string `json:"ticker" db:"ticker"`
}

// AuditFilter narrows a feed listing.
type AuditFilter struct {
	// Limit is the page size; nil selects the default.
	Limit *int
	Table string
	// User matches either the actor or the target.
	User string
}
