// Package authz decides what a requester may do with another user's data.
//
// Every decision is recomputed from the role, permission and grant stores;
// nothing is cached between calls, so a revoked grant takes effect on the next
// request.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/folio-ledger/apiserver/internal/store"
	"github.com/folio-ledger/apiserver/types"
)

type RoleReader interface {
	GetRole(ctx context.Context, userID string) (types.Role, error)
}

type PermissionReader interface {
	Get(ctx context.Context, userID string) (types.GlobalPermission, error)
}

type GrantReader interface {
	ListForGrantee(ctx context.Context, granteeID string) ([]types.Grant, error)
}

// DecisionObserver is notified of every computed decision.
type DecisionObserver interface {
	ObserveDecision(resource types.Resource, level types.AccessLevel)
}

type Engine struct {
	roles       RoleReader
	permissions PermissionReader
	grants      GrantReader
	observer    DecisionObserver
}

type Option func(*Engine)

func WithObserver(observer DecisionObserver) Option {
	return func(e *Engine) { e.observer = observer }
}

func NewEngine(roles RoleReader, permissions PermissionReader, grants GrantReader, opts ...Option) *Engine {
	e := &Engine{roles: roles, permissions: permissions, grants: grants}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EffectiveAccess returns the requester's access level on the owner's resource.
// ownerID is ignored for dictionaries, which have no owner. An owned resource
// without an owner yields AccessNone for anyone but an admin.
func (e *Engine) EffectiveAccess(ctx context.Context, requester types.Role, resource types.Resource, ownerID *string) (types.AccessLevel, error) {
	level, err := e.decide(ctx, requester, resource, ownerID)
	if err != nil {
		return types.AccessNone, err
	}
	if e.observer != nil {
		e.observer.ObserveDecision(resource, level)
	}
	return level, nil
}

// EffectiveAccessFor looks the requester's role up first. A requester without
// a profile has no access.
func (e *Engine) EffectiveAccessFor(ctx context.Context, requesterID string, resource types.Resource, ownerID *string) (types.AccessLevel, error) {
	role, err := e.roles.GetRole(ctx, requesterID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.AccessNone, nil
		}
		return types.AccessNone, fmt.Errorf("load role: %w", err)
	}
	return e.EffectiveAccess(ctx, role, resource, ownerID)
}

func (e *Engine) decide(ctx context.Context, requester types.Role, resource types.Resource, ownerID *string) (types.AccessLevel, error) {
	if requester.IsAdmin {
		return types.AccessWrite, nil
	}

	if !resource.Owned() {
		ownerID = nil
	} else {
		if ownerID == nil {
			return types.AccessNone, nil
		}
		if *ownerID == requester.UserID {
			return types.AccessWrite, nil
		}
	}

	perm, err := e.permissions.Get(ctx, requester.UserID)
	if err != nil {
		return types.AccessNone, fmt.Errorf("load permissions: %w", err)
	}
	if resource.Owned() {
		if perm.CanEditAll {
			return types.AccessWrite, nil
		}
		if perm.CanViewAll {
			return types.AccessRead, nil
		}
	} else if perm.CanEditDictionaries {
		return types.AccessWrite, nil
	}

	grants, err := e.grants.ListForGrantee(ctx, requester.UserID)
	if err != nil {
		return types.AccessNone, fmt.Errorf("load grants: %w", err)
	}
	level := types.AccessNone
	for _, grant := range grants {
		if !grant.Matches(resource, ownerID) {
			continue
		}
		switch grant.Mode {
		case types.ModeWrite:
			return types.AccessWrite, nil
		case types.ModeRead:
			level = types.AccessRead
		}
	}
	return level, nil
}
