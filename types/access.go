package types

import (
	"fmt"
	"strings"
)

// Resource names a category of data over which access is scoped.
type Resource string

const (
	ResourceTrades       Resource = "trades"
	ResourceDividends    Resource = "dividends"
	ResourceDictionaries Resource = "dictionaries"
)

// ParseResource validates a resource name.
func ParseResource(raw string) (Resource, error) {
	switch r := Resource(strings.TrimSpace(raw)); r {
	case ResourceTrades, ResourceDividends, ResourceDictionaries:
		return r, nil
	default:
		return "", fmt.Errorf("invalid resource %q", raw)
	}
}

// Owned reports whether rows of the resource belong to a specific user.
// Dictionaries are global reference data and have no owner.
func (r Resource) Owned() bool {
	return r == ResourceTrades || r == ResourceDividends
}

// Mode is the access mode carried by a grant.
type Mode string

const (
	ModeRead  Mode = "read"
	ModeWrite Mode = "write"
)

// ParseMode validates a grant mode.
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.TrimSpace(raw)); m {
	case ModeRead, ModeWrite:
		return m, nil
	default:
		return "", fmt.Errorf("invalid mode %q", raw)
	}
}

// AccessLevel is the effective decision for a requester on a resource.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessRead
	AccessWrite
)

func (a AccessLevel) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	default:
		return "none"
	}
}

// CanRead reports whether the level allows viewing.
func (a AccessLevel) CanRead() bool { return a >= AccessRead }

// CanWrite reports whether the level allows mutation.
func (a AccessLevel) CanWrite() bool { return a == AccessWrite }

func (a AccessLevel) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// GlobalPermission holds the broad capabilities of one user.
// A missing row is equivalent to every flag being false.
type GlobalPermission struct {
	UserID              string `json:"user_id" db:"user_id"`
	CanViewAll          bool   `json:"can_view_all" db:"can_view_all"`
	CanEditAll          bool   `json:"can_edit_all" db:"can_edit_all"`
	CanEditDictionaries bool   `json:"can_edit_dictionaries" db:"can_edit_dictionaries"`
}

// Elevates reports whether applying p would grant broad view or edit rights.
func (p GlobalPermission) Elevates() bool {
	return p.CanViewAll || p.CanEditAll || p.CanEditDictionaries
}

// Grant authorizes a grantee to read or write one owner's resource.
// OwnerID is nil only for the dictionaries resource.
type Grant struct {
	Resource  Resource `json:"resource" db:"resource"`
	OwnerID   *string  `json:"owner_id" db:"owner_id"`
	GranteeID string   `json:"grantee_id" db:"grantee_id"`
	Mode      Mode     `json:"mode" db:"mode"`
}

// Matches reports whether the grant scopes the given resource and owner.
// A nil owner matches only grants whose owner is explicitly absent.
func (g Grant) Matches(resource Resource, ownerID *string) bool {
	if g.Resource != resource {
		return false
	}
	if g.OwnerID == nil || ownerID == nil {
		return g.OwnerID == nil && ownerID == nil
	}
	return *g.OwnerID == *ownerID
}
