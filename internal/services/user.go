package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/folio-ledger/apiserver/internal/identity"
	"github.com/folio-ledger/apiserver/internal/store"
	"github.com/folio-ledger/apiserver/types"
)

const minPasswordLength = 8

// UserRepository defines persistence operations for the Role Store.
type UserRepository interface {
	Get(ctx context.Context, id string) (types.User, error)
	GetRole(ctx context.Context, id string) (types.Role, error)
	List(ctx context.Context) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	SetAdmin(ctx context.Context, id string, isAdmin bool) error
	SetActive(ctx context.Context, id string, active bool) error
	SoftDelete(ctx context.Context, id, maskedEmail string) error
	HardDelete(ctx context.Context, id string) error
	SetMustChangePassword(ctx context.Context, id string, must bool) error
	CompleteFirstLogin(ctx context.Context, id string) error
}

// PendingDeletionRepository tracks directory accounts still to be removed.
type PendingDeletionRepository interface {
	Exists(ctx context.Context, userID string) (bool, error)
	List(ctx context.Context, limit int) ([]store.PendingDeletion, error)
	Complete(ctx context.Context, userID string) error
	RecordFailure(ctx context.Context, userID string, cause error) error
}

// UserService encapsulates account lifecycle use-cases.
type UserService struct {
	users     UserRepository
	pending   PendingDeletionRepository
	directory identity.Directory
	auditor   Auditor
	logger    logrus.FieldLogger
	timeout   deadline
	external  bool
}

type UserOption func(*UserService)

// WithExternalIdentity marks accounts as owned by an external provider.
// Create and ResetPassword are refused.
func WithExternalIdentity() UserOption {
	return func(s *UserService) { s.external = true }
}

func NewUserService(
	users UserRepository,
	pending PendingDeletionRepository,
	directory identity.Directory,
	auditor Auditor,
	logger logrus.FieldLogger,
	storeTimeout time.Duration,
	opts ...UserOption,
) *UserService {
	s := &UserService{
		users:     users,
		pending:   pending,
		directory: directory,
		auditor:   auditor,
		logger:    logger.WithField("component", "users"),
		timeout:   deadline(storeTimeout),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Role returns the caller's flags, or store.ErrNotFound when no profile exists.
func (s *UserService) Role(ctx context.Context, id string) (types.Role, error) {
	ctx, cancel := s.timeout.read(ctx)
	defer cancel()
	return s.users.GetRole(ctx, id)
}

// Status fails with ErrInactive when the caller has no profile or is inactive.
func (s *UserService) Status(ctx context.Context, id string) (types.Role, error) {
	role, err := s.Role(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Role{}, ErrInactive
		}
		return types.Role{}, err
	}
	if !role.IsActive {
		return types.Role{}, ErrInactive
	}
	return role, nil
}

func (s *UserService) List(ctx context.Context) ([]types.User, error) {
	ctx, cancel := s.timeout.read(ctx)
	defer cancel()
	return s.users.List(ctx)
}

type CreateUserInput struct {
	Email    string
	Password string
	IsAdmin  bool
	FullName *string
}

// Create provisions a directory account and its profile. If the profile
// cannot be stored the directory account is removed again.
func (s *UserService) Create(ctx context.Context, actorID string, in CreateUserInput) (types.User, error) {
	if s.external {
		return types.User{}, fail(ErrExternalIdentity, ErrExternalIdentity.Error())
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return types.User{}, invalid("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return types.User{}, invalid("invalid email")
	}
	if err := validatePassword(in.Password); err != nil {
		return types.User{}, err
	}
	if in.FullName != nil {
		trimmed := strings.TrimSpace(*in.FullName)
		in.FullName = &trimmed
		if trimmed == "" {
			in.FullName = nil
		}
	}

	ctx, cancel := s.timeout.write(ctx)
	defer cancel()

	id, err := s.directory.CreateAccount(ctx, email, in.Password)
	if err != nil {
		if errors.Is(err, identity.ErrAccountExists) {
			return types.User{}, fail(ErrDuplicate, "email already registered")
		}
		return types.User{}, fmt.Errorf("%w: create account: %v", ErrUpstream, err)
	}

	user, err := s.users.Create(ctx, types.User{
		ID:                 id,
		Email:              email,
		FullName:           in.FullName,
		IsAdmin:            in.IsAdmin,
		IsActive:           true,
		MustChangePassword: true,
	})
	if err != nil {
		if rollbackErr := s.directory.DeleteAccount(ctx, id); rollbackErr != nil {
			s.logger.WithError(rollbackErr).WithField("user_id", id).Error("failed to remove directory account after profile insert failure")
		}
		return types.User{}, fmt.Errorf("%w: create profile: %v", ErrUpstream, err)
	}

	audit(ctx, s.auditor, s.logger, types.AuditRecord{
		TableName:    "users",
		Action:       "create_user",
		ActorID:      strPtr(actorID),
		TargetUserID: strPtr(id),
	})
	return user, nil
}

// SetActive flips the target's activity status. Deactivation removes every
// grant the target is party to.
func (s *UserService) SetActive(ctx context.Context, actorID, targetID string, active bool) error {
	if strings.TrimSpace(targetID) == "" {
		return invalid("user_id is required")
	}
	if !active && actorID == targetID {
		return fail(ErrForbidden, "cannot target self")
	}

	ctx, cancel := s.timeout.write(ctx)
	defer cancel()

	if err := s.users.SetActive(ctx, targetID, active); err != nil {
		return err
	}

	action := "deactivate"
	if active {
		action = "activate"
	}
	audit(ctx, s.auditor, s.logger, types.AuditRecord{
		TableName:    "users",
		Action:       action,
		ActorID:      strPtr(actorID),
		TargetUserID: strPtr(targetID),
	})
	return nil
}

// MaskedEmail is the address a soft-deleted profile keeps.
func MaskedEmail(userID string) string {
	return fmt.Sprintf("deleted+%s@invalid.local", userID)
}

func (s *UserService) SoftDelete(ctx context.Context, actorID, targetID string) error {
	if strings.TrimSpace(targetID) == "" {
		return invalid("user_id is required")
	}
	if actorID == targetID {
		return fail(ErrForbidden, "cannot target self")
	}

	ctx, cancel := s.timeout.write(ctx)
	defer cancel()

	if err := s.users.SoftDelete(ctx, targetID, MaskedEmail(targetID)); err != nil {
		return err
	}
	audit(ctx, s.auditor, s.logger, types.AuditRecord{
		TableName:    "users",
		Action:       "soft_delete",
		ActorID:      strPtr(actorID),
		TargetUserID: strPtr(targetID),
	})
	return nil
}

// HardDelete removes every row of the target in one transaction, then the
// directory account. When the directory call fails the journal keeps the id
// and ErrIdentityPending is returned; calling HardDelete again resumes.
func (s *UserService) HardDelete(ctx context.Context, actorID, targetID string) error {
	if strings.TrimSpace(targetID) == "" {
		return invalid("user_id is required")
	}
	if actorID == targetID {
		return fail(ErrForbidden, "cannot target self")
	}

	ctx, cancel := s.timeout.write(ctx)
	defer cancel()

	if err := s.users.HardDelete(ctx, targetID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: delete profile: %v", ErrUpstream, err)
		}
		pending, existsErr := s.pending.Exists(ctx, targetID)
		if existsErr != nil {
			return fmt.Errorf("%w: check pending deletion: %v", ErrUpstream, existsErr)
		}
		if !pending {
			return store.ErrNotFound
		}
		s.logger.WithField("user_id", targetID).Info("resuming pending directory deletion")
	}

	if err := s.removeAccount(ctx, targetID); err != nil {
		return err
	}

	audit(ctx, s.auditor, s.logger, types.AuditRecord{
		TableName: "users",
		Action:    "hard_delete",
		ActorID:   strPtr(actorID),
	})
	return nil
}

// ResumePendingDeletions retries directory deletions left behind by failed
// hard deletes and returns how many completed.
func (s *UserService) ResumePendingDeletions(ctx context.Context, limit int) (int, error) {
	rctx, cancel := s.timeout.read(ctx)
	pending, err := s.pending.List(rctx, limit)
	cancel()
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, p := range pending {
		wctx, cancel := s.timeout.write(ctx)
		err := s.removeAccount(wctx, p.UserID)
		cancel()
		if err != nil {
			continue
		}
		completed++
	}
	return completed, nil
}

func (s *UserService) removeAccount(ctx context.Context, userID string) error {
	if err := s.directory.DeleteAccount(ctx, userID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Error("directory account deletion failed")
		if recErr := s.pending.RecordFailure(ctx, userID, err); recErr != nil {
			s.logger.WithError(recErr).WithField("user_id", userID).Error("failed to record pending deletion failure")
		}
		return ErrIdentityPending
	}
	if err := s.pending.Complete(ctx, userID); err != nil {
		return fmt.Errorf("%w: clear pending deletion: %v", ErrUpstream, err)
	}
	return nil
}

// ResetPassword sets a new password for the target and forces a change on next login.
func (s *UserService) ResetPassword(ctx context.Context, actorID, targetID, password string) error {
	if s.external {
		return fail(ErrExternalIdentity, ErrExternalIdentity.Error())
	}
	if strings.TrimSpace(targetID) == "" {
		return invalid("user_id is required")
	}
	if err := validatePassword(password); err != nil {
		return err
	}

	ctx, cancel := s.timeout.write(ctx)
	defer cancel()

	if _, err := s.users.Get(ctx, targetID); err != nil {
		return err
	}
	if err := s.directory.SetPassword(ctx, targetID, password); err != nil {
		return fmt.Errorf("%w: set password: %v", ErrUpstream, err)
	}
	if err := s.users.SetMustChangePassword(ctx, targetID, true); err != nil {
		return err
	}
	audit(ctx, s.auditor, s.logger, types.AuditRecord{
		TableName:    "users",
		Action:       "reset_password",
		ActorID:      strPtr(actorID),
		TargetUserID: strPtr(targetID),
	})
	return nil
}

// CompleteFirstLogin clears the caller's forced password change. targetID may
// be empty; any other id than the caller's is rejected.
func (s *UserService) CompleteFirstLogin(ctx context.Context, callerID, targetID string) error {
	if targetID != "" && targetID != callerID {
		return fail(ErrForbidden, "cannot target another user")
	}

	ctx, cancel := s.timeout.write(ctx)
	defer cancel()
	return s.users.CompleteFirstLogin(ctx, callerID)
}

// ChangePassword updates the caller's own password and completes first login.
func (s *UserService) ChangePassword(ctx context.Context, callerID, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}

	ctx, cancel := s.timeout.write(ctx)
	defer cancel()

	if err := s.directory.SetPassword(ctx, callerID, password); err != nil {
		return fmt.Errorf("%w: set password: %v", ErrUpstream, err)
	}
	return s.users.CompleteFirstLogin(ctx, callerID)
}

func validatePassword(password string) error {
	if password == "" {
		return invalid("password is required")
	}
	if len(password) < minPasswordLength {
		return invalid("password too short")
	}
	return nil
}
