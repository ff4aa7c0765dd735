package types

import "time"

// User represents an account profile mirrored from the identity provider.
// It carries the role flags the authorization engine consults.
type User struct {
	// ID is the opaque identity-provider identifier. It is never reused.
	ID string `json:"id" db:"user_id"`

	// Email is the user's email address. It is masked on soft delete.
	Email string `json:"email" db:"email"`

	// FullName is the optional display name.
	FullName *string `json:"full_name" db:"full_name"`

	// IsAdmin grants unconditional write access to every resource.
	IsAdmin bool `json:"is_admin" db:"is_admin"`

	// IsActive is false once the account has been deactivated or soft deleted.
	IsActive bool `json:"is_active" db:"is_active"`

	// MustChangePassword forces a password change on the next login.
	// It gates login-time redirection only, never authorization.
	MustChangePassword bool `json:"must_change_password" db:"must_change_password"`

	// DeletedAt is set when the account was soft deleted.
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`

	// FirstLoginAt records the first completed login.
	FirstLoginAt *time.Time `json:"first_login_at,omitempty" db:"first_login_at"`

	// CreatedAt is the timestamp when the profile was provisioned.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent profile change.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Role is the subset of a user profile consulted for access decisions.
type Role struct {
	UserID             string `json:"user_id"`
	IsAdmin            bool   `json:"is_admin"`
	IsActive           bool   `json:"is_active"`
	MustChangePassword bool   `json:"must_change_password"`
}

// Role returns the access-relevant flags of the user.
func (u User) Role() Role {
	return Role{
		UserID:             u.ID,
		IsAdmin:            u.IsAdmin,
		IsActive:           u.IsActive,
		MustChangePassword: u.MustChangePassword,
	}
}

// UserSummary is the public listing shape of a user.
type UserSummary struct {
	ID       string  `json:"id"`
	Email    string  `json:"email"`
	IsAdmin  bool    `json:"is_admin"`
	IsActive bool    `json:"is_active"`
	FullName *string `json:"full_name"`
}

// Summary converts the user to its listing shape.
func (u User) Summary() UserSummary {
	return UserSummary{
		ID:       u.ID,
		Email:    u.Email,
		IsAdmin:  u.IsAdmin,
		IsActive: u.IsActive,
		FullName: u.FullName,
	}
}
