package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folio-ledger/apiserver/internal/store"
	"github.com/folio-ledger/apiserver/types"
)

type fakeStores struct {
	users       map[string]types.User
	permissions map[string]types.GlobalPermission
	grants      []types.Grant
	grantErr    error
}

func newFakeStores() *fakeStores {
	return &fakeStores{
		users:       make(map[string]types.User),
		permissions: make(map[string]types.GlobalPermission),
	}
}

func (f *fakeStores) addUser(id string, admin bool) types.Role {
	f.users[id] = types.User{ID: id, Email: id + "@example.com", IsAdmin: admin, IsActive: true}
	return f.users[id].Role()
}

func (f *fakeStores) GetRole(_ context.Context, id string) (types.Role, error) {
	u, ok := f.users[id]
	if !ok {
		return types.Role{}, store.ErrNotFound
	}
	return u.Role(), nil
}

func (f *fakeStores) Get(_ context.Context, id string) (types.GlobalPermission, error) {
	if p, ok := f.permissions[id]; ok {
		return p, nil
	}
	return types.GlobalPermission{UserID: id}, nil
}

func (f *fakeStores) ListForGrantee(_ context.Context, grantee string) ([]types.Grant, error) {
	if f.grantErr != nil {
		return nil, f.grantErr
	}
	var out []types.Grant
	for _, g := range f.grants {
		if g.GranteeID == grantee {
			out = append(out, g)
		}
	}
	return out, nil
}

type fakeUsers struct{ *fakeStores }

func (f fakeUsers) Get(_ context.Context, id string) (types.User, error) {
	u, ok := f.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f fakeUsers) List(_ context.Context) ([]types.User, error) {
	out := make([]types.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

type countingObserver map[types.AccessLevel]int

func (c countingObserver) ObserveDecision(_ types.Resource, level types.AccessLevel) { c[level]++ }

func owner(id string) *string { return &id }

func TestEngine_AdminAlwaysWrites(t *testing.T) {
	f := newFakeStores()
	admin := f.addUser("admin", true)
	f.addUser("y", false)
	engine := NewEngine(f, f, f)

	for _, resource := range []types.Resource{types.ResourceTrades, types.ResourceDividends, types.ResourceDictionaries} {
		for _, o := range []*string{owner("y"), owner("admin"), nil} {
			level, err := engine.EffectiveAccess(context.Background(), admin, resource, o)
			require.NoError(t, err)
			assert.Equal(t, types.AccessWrite, level)
		}
	}
}

func TestEngine_SelfAccessIsWrite(t *testing.T) {
	f := newFakeStores()
	x := f.addUser("x", false)
	engine := NewEngine(f, f, f)

	for _, resource := range []types.Resource{types.ResourceTrades, types.ResourceDividends} {
		level, err := engine.EffectiveAccess(context.Background(), x, resource, owner("x"))
		require.NoError(t, err)
		assert.Equal(t, types.AccessWrite, level)
	}
}

func TestEngine_ViewAllGivesRead(t *testing.T) {
	f := newFakeStores()
	x := f.addUser("x", false)
	f.addUser("y", false)
	f.permissions["x"] = types.GlobalPermission{UserID: "x", CanViewAll: true}
	engine := NewEngine(f, f, f)

	level, err := engine.EffectiveAccess(context.Background(), x, types.ResourceTrades, owner("y"))
	require.NoError(t, err)
	assert.Equal(t, types.AccessRead, level)

	level, err = engine.EffectiveAccess(context.Background(), x, types.ResourceDictionaries, nil)
	require.NoError(t, err)
	assert.Equal(t, types.AccessNone, level)
}

func TestEngine_EditAllWinsOverReadGrant(t *testing.T) {
	f := newFakeStores()
	x := f.addUser("x", false)
	f.addUser("y", false)
	f.permissions["x"] = types.GlobalPermission{UserID: "x", CanViewAll: true, CanEditAll: true}
	f.grants = []types.Grant{{Resource: types.ResourceTrades, OwnerID: owner("y"), GranteeID: "x", Mode: types.ModeRead}}
	engine := NewEngine(f, f, f)

	level, err := engine.EffectiveAccess(context.Background(), x, types.ResourceTrades, owner("y"))
	require.NoError(t, err)
	assert.Equal(t, types.AccessWrite, level)
}

func TestEngine_PointGrantScopedToResource(t *testing.T) {
	f := newFakeStores()
	x := f.addUser("x", false)
	f.addUser("y", false)
	f.grants = []types.Grant{{Resource: types.ResourceDividends, OwnerID: owner("y"), GranteeID: "x", Mode: types.ModeWrite}}
	engine := NewEngine(f, f, f)

	level, err := engine.EffectiveAccess(context.Background(), x, types.ResourceDividends, owner("y"))
	require.NoError(t, err)
	assert.Equal(t, types.AccessWrite, level)

	level, err = engine.EffectiveAccess(context.Background(), x, types.ResourceTrades, owner("y"))
	require.NoError(t, err)
	assert.Equal(t, types.AccessNone, level)
}

func TestEngine_WriteGrantImpliesVisibility(t *testing.T) {
	f := newFakeStores()
	x := f.addUser("x", false)
	f.grants = []types.Grant{
		{Resource: types.ResourceTrades, OwnerID: owner("y"), GranteeID: "x", Mode: types.ModeRead},
		{Resource: types.ResourceTrades, OwnerID: owner("y"), GranteeID: "x", Mode: types.ModeWrite},
		{Resource: types.ResourceTrades, OwnerID: owner("z"), GranteeID: "x", Mode: types.ModeRead},
	}
	engine := NewEngine(f, f, f)

	level, err := engine.EffectiveAccess(context.Background(), x, types.ResourceTrades, owner("y"))
	require.NoError(t, err)
	assert.Equal(t, types.AccessWrite, level)
	assert.True(t, level.CanRead())

	level, err = engine.EffectiveAccess(context.Background(), x, types.ResourceTrades, owner("z"))
	require.NoError(t, err)
	assert.Equal(t, types.AccessRead, level)
}

func TestEngine_Dictionaries(t *testing.T) {
	f := newFakeStores()
	editor := f.addUser("editor", false)
	reader := f.addUser("reader", false)
	nobody := f.addUser("nobody", false)
	f.permissions["editor"] = types.GlobalPermission{UserID: "editor", CanEditDictionaries: true}
	f.grants = []types.Grant{
		{Resource: types.ResourceDictionaries, GranteeID: "reader", Mode: types.ModeRead},
		{Resource: types.ResourceDictionaries, OwnerID: owner("someone"), GranteeID: "nobody", Mode: types.ModeWrite},
	}
	engine := NewEngine(f, f, f)
	ctx := context.Background()

	level, err := engine.EffectiveAccess(ctx, editor, types.ResourceDictionaries, nil)
	require.NoError(t, err)
	assert.Equal(t, types.AccessWrite, level)

	level, err = engine.EffectiveAccess(ctx, reader, types.ResourceDictionaries, owner("ignored"))
	require.NoError(t, err)
	assert.Equal(t, types.AccessRead, level)

	level, err = engine.EffectiveAccess(ctx, nobody, types.ResourceDictionaries, nil)
	require.NoError(t, err)
	assert.Equal(t, types.AccessNone, level)

	level, err = engine.EffectiveAccess(ctx, editor, types.ResourceTrades, owner("reader"))
	require.NoError(t, err)
	assert.Equal(t, types.AccessNone, level)
}

func TestEngine_OwnedResourceWithoutOwner(t *testing.T) {
	f := newFakeStores()
	x := f.addUser("x", false)
	f.permissions["x"] = types.GlobalPermission{UserID: "x", CanEditAll: true}
	engine := NewEngine(f, f, f)

	level, err := engine.EffectiveAccess(context.Background(), x, types.ResourceTrades, nil)
	require.NoError(t, err)
	assert.Equal(t, types.AccessNone, level)
}

func TestEngine_EffectiveAccessFor(t *testing.T) {
	f := newFakeStores()
	f.addUser("x", false)
	observer := countingObserver{}
	engine := NewEngine(f, f, f, WithObserver(observer))

	level, err := engine.EffectiveAccessFor(context.Background(), "x", types.ResourceTrades, owner("x"))
	require.NoError(t, err)
	assert.Equal(t, types.AccessWrite, level)

	level, err = engine.EffectiveAccessFor(context.Background(), "ghost", types.ResourceTrades, owner("x"))
	require.NoError(t, err)
	assert.Equal(t, types.AccessNone, level)

	assert.Equal(t, 1, observer[types.AccessWrite])
}

func TestEngine_StoreErrorPropagates(t *testing.T) {
	f := newFakeStores()
	x := f.addUser("x", false)
	f.grantErr = errors.New("db down")
	engine := NewEngine(f, f, f)

	_, err := engine.EffectiveAccess(context.Background(), x, types.ResourceTrades, owner("y"))
	assert.ErrorContains(t, err, "db down")
}

func TestEngine_RevokedGrantTakesEffectImmediately(t *testing.T) {
	f := newFakeStores()
	x := f.addUser("x", false)
	f.grants = []types.Grant{{Resource: types.ResourceTrades, OwnerID: owner("y"), GranteeID: "x", Mode: types.ModeRead}}
	engine := NewEngine(f, f, f)
	ctx := context.Background()

	level, err := engine.EffectiveAccess(ctx, x, types.ResourceTrades, owner("y"))
	require.NoError(t, err)
	assert.Equal(t, types.AccessRead, level)

	f.grants = nil
	level, err = engine.EffectiveAccess(ctx, x, types.ResourceTrades, owner("y"))
	require.NoError(t, err)
	assert.Equal(t, types.AccessNone, level)
}
