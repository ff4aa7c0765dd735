package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/folio-ledger/apiserver/internal/store"
	"github.com/folio-ledger/apiserver/types"
)

// ErrNoAccess means the viewer cannot see any part of the requested portfolio.
var ErrNoAccess = errors.New("no access to portfolio")

const (
	TabBuy       = "buy"
	TabSell      = "sell"
	TabReport    = "report"
	TabDividends = "dividends"
	TabStocks    = "stocks"
	TabExchanges = "exchanges"
)

type UserReader interface {
	Get(ctx context.Context, id string) (types.User, error)
	List(ctx context.Context) ([]types.User, error)
}

type Tab struct {
	Key      string `json:"key"`
	ReadOnly bool   `json:"read_only"`
}

type Portfolio struct {
	ID       string  `json:"id"`
	Email    string  `json:"email"`
	FullName *string `json:"full_name"`
}

// DashboardView is what a viewer may reach and do from their dashboard.
type DashboardView struct {
	ViewerID   string      `json:"viewer_id"`
	IsAdmin    bool        `json:"is_admin"`
	Portfolios []Portfolio `json:"portfolios"`
	OwnerID    string      `json:"owner_id"`
	Tabs       []Tab       `json:"tabs"`
}

type Dashboard struct {
	engine *Engine
	users  UserReader
	grants GrantReader
}

func NewDashboard(engine *Engine, users UserReader, grants GrantReader) *Dashboard {
	return &Dashboard{engine: engine, users: users, grants: grants}
}

// Build derives the dashboard of viewer looking at ownerID. An empty ownerID
// means the viewer's own portfolio. Access is decided before the owner is
// looked up, so a viewer without access gets ErrNoAccess whether or not the
// owner exists.
func (d *Dashboard) Build(ctx context.Context, viewer types.Role, ownerID string) (DashboardView, error) {
	if ownerID == "" {
		ownerID = viewer.UserID
	}

	tabs, err := d.tabs(ctx, viewer, ownerID)
	if err != nil {
		return DashboardView{}, err
	}
	if len(tabs) == 0 {
		return DashboardView{}, ErrNoAccess
	}
	if _, err := d.users.Get(ctx, ownerID); err != nil {
		return DashboardView{}, err
	}

	portfolios, err := d.portfolios(ctx, viewer)
	if err != nil {
		return DashboardView{}, err
	}

	return DashboardView{
		ViewerID:   viewer.UserID,
		IsAdmin:    viewer.IsAdmin,
		Portfolios: portfolios,
		OwnerID:    ownerID,
		Tabs:       tabs,
	}, nil
}

// ReachableOwners is the viewer's own id plus every distinct owner of a grant
// held by the viewer.
func (d *Dashboard) ReachableOwners(ctx context.Context, viewerID string) ([]string, error) {
	grants, err := d.grants.ListForGrantee(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	seen := map[string]struct{}{viewerID: {}}
	owners := []string{viewerID}
	for _, grant := range grants {
		if grant.OwnerID == nil {
			continue
		}
		if _, ok := seen[*grant.OwnerID]; ok {
			continue
		}
		seen[*grant.OwnerID] = struct{}{}
		owners = append(owners, *grant.OwnerID)
	}
	sort.Strings(owners[1:])
	return owners, nil
}

func (d *Dashboard) portfolios(ctx context.Context, viewer types.Role) ([]Portfolio, error) {
	if viewer.IsAdmin {
		users, err := d.users.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		portfolios := make([]Portfolio, 0, len(users))
		for _, u := range users {
			if u.IsActive {
				portfolios = append(portfolios, toPortfolio(u))
			}
		}
		return portfolios, nil
	}

	owners, err := d.ReachableOwners(ctx, viewer.UserID)
	if err != nil {
		return nil, err
	}
	portfolios := make([]Portfolio, 0, len(owners))
	for _, id := range owners {
		u, err := d.users.Get(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("load owner %s: %w", id, err)
		}
		portfolios = append(portfolios, toPortfolio(u))
	}
	return portfolios, nil
}

func (d *Dashboard) tabs(ctx context.Context, viewer types.Role, ownerID string) ([]Tab, error) {
	trades, err := d.engine.EffectiveAccess(ctx, viewer, types.ResourceTrades, &ownerID)
	if err != nil {
		return nil, err
	}
	dividends, err := d.engine.EffectiveAccess(ctx, viewer, types.ResourceDividends, &ownerID)
	if err != nil {
		return nil, err
	}

	tabs := make([]Tab, 0, 6)
	if trades.CanRead() {
		readOnly := !trades.CanWrite()
		tabs = append(tabs,
			Tab{Key: TabBuy, ReadOnly: readOnly},
			Tab{Key: TabSell, ReadOnly: readOnly},
			Tab{Key: TabReport, ReadOnly: readOnly},
		)
	}
	if dividends.CanRead() {
		tabs = append(tabs, Tab{Key: TabDividends, ReadOnly: !dividends.CanWrite()})
	}

	if viewer.IsAdmin || ownerID == viewer.UserID {
		dictionaries, err := d.engine.EffectiveAccess(ctx, viewer, types.ResourceDictionaries, nil)
		if err != nil {
			return nil, err
		}
		readOnly := !dictionaries.CanWrite()
		tabs = append(tabs,
			Tab{Key: TabStocks, ReadOnly: readOnly},
			Tab{Key: TabExchanges, ReadOnly: readOnly},
		)
	}
	return tabs, nil
}

func toPortfolio(u types.User) Portfolio {
	return Portfolio{ID: u.ID, Email: u.Email, FullName: u.FullName}
}
