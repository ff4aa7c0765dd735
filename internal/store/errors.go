package store

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const fkViolation = "23503"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInactive is returned when a write would make an inactive user party
	// to a grant or raise their privileges.
	ErrInactive = errors.New("user inactive")
)

// InactiveError names the inactive user that blocked a write. It matches ErrInactive.
type InactiveError struct {
	UserID string
}

func (e *InactiveError) Error() string {
	return fmt.Sprintf("user %s inactive", e.UserID)
}

func (e *InactiveError) Is(target error) bool {
	return target == ErrInactive
}

// missingParent maps a foreign key violation to ErrNotFound.
func missingParent(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == fkViolation {
		return fmt.Errorf("%s: %w", pqErr.Constraint, ErrNotFound)
	}
	return err
}
