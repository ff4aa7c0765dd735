package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/folio-ledger/apiserver/internal/store"
	"github.com/folio-ledger/apiserver/types"
)

// PermissionRepository defines persistence operations for global permissions.
type PermissionRepository interface {
	Get(ctx context.Context, userID string) (types.GlobalPermission, error)
	Upsert(ctx context.Context, perm types.GlobalPermission) error
	List(ctx context.Context) ([]types.GlobalPermission, error)
}

// GrantRepository defines persistence operations for point grants.
type GrantRepository interface {
	Upsert(ctx context.Context, grant types.Grant) error
	Delete(ctx context.Context, grant types.Grant) error
	List(ctx context.Context) ([]types.Grant, error)
	ListForGrantee(ctx context.Context, granteeID string) ([]types.Grant, error)
}

// PermissionService manages global permissions and grants.
type PermissionService struct {
	users       UserRepository
	permissions PermissionRepository
	grants      GrantRepository
	auditor     Auditor
	logger      logrus.FieldLogger
	timeout     deadline
}

func NewPermissionService(
	users UserRepository,
	permissions PermissionRepository,
	grants GrantRepository,
	auditor Auditor,
	logger logrus.FieldLogger,
	storeTimeout time.Duration,
) *PermissionService {
	return &PermissionService{
		users:       users,
		permissions: permissions,
		grants:      grants,
		auditor:     auditor,
		logger:      logger.WithField("component", "permissions"),
		timeout:     deadline(storeTimeout),
	}
}

type Overview struct {
	UserPermissions []types.GlobalPermission `json:"user_permissions"`
	UserGrants      []types.Grant            `json:"user_grants"`
	Users           []types.User             `json:"users"`
}

// Overview loads every permission row, grant and user concurrently.
func (s *PermissionService) Overview(ctx context.Context) (Overview, error) {
	ctx, cancel := s.timeout.read(ctx)
	defer cancel()

	var out Overview
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		perms, err := s.permissions.List(gctx)
		out.UserPermissions = perms
		return err
	})
	g.Go(func() error {
		grants, err := s.grants.List(gctx)
		out.UserGrants = grants
		return err
	})
	g.Go(func() error {
		users, err := s.users.List(gctx)
		out.Users = users
		return err
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	return out, nil
}

// PermissionInput carries the fields to change; nil fields keep their value.
type PermissionInput struct {
	UserID              string
	CanViewAll          *bool
	CanEditAll          *bool
	CanEditDictionaries *bool
	IsAdmin             *bool
}

func (in PermissionInput) touchesFlags() bool {
	return in.CanViewAll != nil || in.CanEditAll != nil || in.CanEditDictionaries != nil
}

// Update merges the input into the target's permissions. Inactive targets are rejected.
func (s *PermissionService) Update(ctx context.Context, actorID string, in PermissionInput) (types.GlobalPermission, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		return types.GlobalPermission{}, invalid("user_id is required")
	}
	if !in.touchesFlags() && in.IsAdmin == nil {
		return types.GlobalPermission{}, invalid("no permission fields provided")
	}
	if in.IsAdmin != nil && !*in.IsAdmin && in.UserID == actorID {
		return types.GlobalPermission{}, fail(ErrForbidden, "cannot target self")
	}

	ctx, cancel := s.timeout.write(ctx)
	defer cancel()

	target, err := s.users.Get(ctx, in.UserID)
	if err != nil {
		return types.GlobalPermission{}, err
	}
	if !target.IsActive {
		s.logger.WithFields(logrus.Fields{"actor_id": actorID, "user_id": in.UserID}).Warn("permission change for inactive user rejected")
		return types.GlobalPermission{}, fail(ErrConflictState, "target user inactive")
	}

	current, err := s.permissions.Get(ctx, in.UserID)
	if err != nil {
		return types.GlobalPermission{}, err
	}
	if in.touchesFlags() {
		merged := current
		merged.UserID = in.UserID
		if in.CanViewAll != nil {
			merged.CanViewAll = *in.CanViewAll
		}
		if in.CanEditAll != nil {
			merged.CanEditAll = *in.CanEditAll
		}
		if in.CanEditDictionaries != nil {
			merged.CanEditDictionaries = *in.CanEditDictionaries
		}
		if err := s.permissions.Upsert(ctx, merged); err != nil {
			return types.GlobalPermission{}, s.inactiveTarget(err, actorID, in.UserID)
		}
		current = merged
		audit(ctx, s.auditor, s.logger, types.AuditRecord{
			TableName:    "user_permissions",
			Action:       "upsert_permissions",
			ActorID:      strPtr(actorID),
			TargetUserID: strPtr(in.UserID),
		})
	}

	if in.IsAdmin != nil && *in.IsAdmin != target.IsAdmin {
		if err := s.users.SetAdmin(ctx, in.UserID, *in.IsAdmin); err != nil {
			return types.GlobalPermission{}, s.inactiveTarget(err, actorID, in.UserID)
		}
		action := "revoke_admin"
		if *in.IsAdmin {
			action = "grant_admin"
		}
		audit(ctx, s.auditor, s.logger, types.AuditRecord{
			TableName:    "users",
			Action:       action,
			ActorID:      strPtr(actorID),
			TargetUserID: strPtr(in.UserID),
		})
	}
	return current, nil
}

// GrantInput is the raw four-tuple of a grant request.
type GrantInput struct {
	Resource  string
	OwnerID   *string
	GranteeID string
	Mode      string
}

func (in GrantInput) parse() (types.Grant, error) {
	resource, err := types.ParseResource(in.Resource)
	if err != nil {
		return types.Grant{}, invalid("invalid resource")
	}
	mode, err := types.ParseMode(in.Mode)
	if err != nil {
		return types.Grant{}, invalid("invalid mode")
	}
	grantee := strings.TrimSpace(in.GranteeID)
	if grantee == "" {
		return types.Grant{}, invalid("grantee_id is required")
	}

	var owner *string
	if in.OwnerID != nil && strings.TrimSpace(*in.OwnerID) != "" {
		trimmed := strings.TrimSpace(*in.OwnerID)
		owner = &trimmed
	}
	if resource.Owned() && owner == nil {
		return types.Grant{}, invalid("owner_id is required")
	}
	if !resource.Owned() && owner != nil {
		return types.Grant{}, invalid("owner_id must be empty for dictionaries")
	}
	if owner != nil && *owner == grantee {
		return types.Grant{}, invalid("owner and grantee must differ")
	}
	return types.Grant{Resource: resource, OwnerID: owner, GranteeID: grantee, Mode: mode}, nil
}

// Grant upserts the tuple. Grants involving an inactive owner or grantee are rejected.
func (s *PermissionService) Grant(ctx context.Context, actorID string, in GrantInput) (types.Grant, error) {
	grant, err := in.parse()
	if err != nil {
		return types.Grant{}, err
	}

	ctx, cancel := s.timeout.write(ctx)
	defer cancel()

	if err := s.requireActive(ctx, grant.GranteeID, "grantee inactive"); err != nil {
		return types.Grant{}, err
	}
	if grant.OwnerID != nil {
		if err := s.requireActive(ctx, *grant.OwnerID, "owner inactive"); err != nil {
			return types.Grant{}, err
		}
	}

	if err := s.grants.Upsert(ctx, grant); err != nil {
		var inactive *store.InactiveError
		if !errors.As(err, &inactive) {
			return types.Grant{}, err
		}
		s.logger.WithField("user_id", inactive.UserID).Warn("grant involving inactive user rejected")
		if inactive.UserID == grant.GranteeID {
			return types.Grant{}, fail(ErrConflictState, "grantee inactive")
		}
		return types.Grant{}, fail(ErrConflictState, "owner inactive")
	}
	audit(ctx, s.auditor, s.logger, types.AuditRecord{
		TableName:    "user_grants",
		Action:       "upsert_grant",
		ActorID:      strPtr(actorID),
		TargetUserID: strPtr(grant.GranteeID),
		Ticker:       strPtr(grantDetail(grant)),
	})
	return grant, nil
}

// Revoke deletes the exact tuple. Revoking an absent grant succeeds.
func (s *PermissionService) Revoke(ctx context.Context, actorID string, in GrantInput) error {
	grant, err := in.parse()
	if err != nil {
		return err
	}

	ctx, cancel := s.timeout.write(ctx)
	defer cancel()

	if err := s.grants.Delete(ctx, grant); err != nil {
		return err
	}
	audit(ctx, s.auditor, s.logger, types.AuditRecord{
		TableName:    "user_grants",
		Action:       "delete_grant",
		ActorID:      strPtr(actorID),
		TargetUserID: strPtr(grant.GranteeID),
		Ticker:       strPtr(grantDetail(grant)),
	})
	return nil
}

// inactiveTarget turns a store-level inactivity refusal into the same
// conflict the pre-check reports.
func (s *PermissionService) inactiveTarget(err error, actorID, userID string) error {
	if !errors.Is(err, store.ErrInactive) {
		return err
	}
	s.logger.WithFields(logrus.Fields{"actor_id": actorID, "user_id": userID}).Warn("permission change for inactive user rejected")
	return fail(ErrConflictState, "target user inactive")
}

func (s *PermissionService) requireActive(ctx context.Context, userID, reason string) error {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !user.IsActive {
		s.logger.WithField("user_id", userID).Warn("grant involving inactive user rejected")
		return fail(ErrConflictState, reason)
	}
	return nil
}

func grantDetail(g types.Grant) string {
	owner := "*"
	if g.OwnerID != nil {
		owner = *g.OwnerID
	}
	return fmt.Sprintf("%s:%s:%s", g.Resource, owner, g.Mode)
}
