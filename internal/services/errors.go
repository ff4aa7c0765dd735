package services

import "errors"

var (
	ErrValidation    = errors.New("validation failed")
	ErrForbidden     = errors.New("forbidden")
	ErrInactive      = errors.New("inactive")
	ErrConflictState = errors.New("conflicting state")
	ErrDuplicate     = errors.New("duplicate")
	// ErrExternalIdentity rejects credential changes when accounts live in
	// an external identity provider.
	ErrExternalIdentity = errors.New("provider managed externally")
	ErrUpstream      = errors.New("upstream failure")

	// ErrIdentityPending means profile rows are gone but the directory account
	// still exists; retrying the hard delete resumes from there.
	ErrIdentityPending = errors.New("identity deletion pending")

	ErrExportUnavailable = errors.New("export storage not configured")
)

// Failure is a rule violation with a short machine readable reason.
// errors.Is matches it against its Kind.
type Failure struct {
	Kind   error
	Reason string
}

func (f *Failure) Error() string { return f.Reason }

func (f *Failure) Unwrap() error { return f.Kind }

func fail(kind error, reason string) error {
	return &Failure{Kind: kind, Reason: reason}
}

func invalid(reason string) error {
	return fail(ErrValidation, reason)
}
