package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/folio-ledger/apiserver/internal/identity"
	"github.com/folio-ledger/apiserver/internal/store"
	"github.com/folio-ledger/apiserver/types"
)

// world is an in-memory stand-in for the relational store.
type world struct {
	mu          sync.Mutex
	users       map[string]types.User
	permissions map[string]types.GlobalPermission
	grants      []types.Grant
	pending     map[string]int
	trades      []types.Trade
	dividends   []types.Dividend
	stocks      map[string]types.Stock
	audit       []types.AuditRecord

	failUserCreate error
}

func newWorld() *world {
	return &world{
		users:       make(map[string]types.User),
		permissions: make(map[string]types.GlobalPermission),
		pending:     make(map[string]int),
		stocks:      make(map[string]types.Stock),
	}
}

func (w *world) addUser(id string, admin, active bool) types.Role {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.users[id] = types.User{ID: id, Email: id + "@example.com", IsAdmin: admin, IsActive: active}
	return w.users[id].Role()
}

func (w *world) addGrant(resource types.Resource, owner, grantee string, mode types.Mode) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var o *string
	if owner != "" {
		o = &owner
	}
	w.grants = append(w.grants, types.Grant{Resource: resource, OwnerID: o, GranteeID: grantee, Mode: mode})
}

func (w *world) grantsReferencing(id string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, g := range w.grants {
		if g.GranteeID == id || (g.OwnerID != nil && *g.OwnerID == id) {
			n++
		}
	}
	return n
}

// requireActiveLocked mirrors the share-locked activity check the SQL store
// performs inside grant and permission writes.
func (w *world) requireActiveLocked(ids ...string) error {
	for _, id := range ids {
		u, ok := w.users[id]
		if !ok {
			return store.ErrNotFound
		}
		if !u.IsActive {
			return &store.InactiveError{UserID: id}
		}
	}
	return nil
}

func (w *world) dropGrantsLocked(id string) {
	kept := w.grants[:0]
	for _, g := range w.grants {
		if g.GranteeID == id || (g.OwnerID != nil && *g.OwnerID == id) {
			continue
		}
		kept = append(kept, g)
	}
	w.grants = kept
}

type memUsers struct{ *world }

func (m memUsers) Get(_ context.Context, id string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m memUsers) GetRole(ctx context.Context, id string) (types.Role, error) {
	u, err := m.Get(ctx, id)
	if err != nil {
		return types.Role{}, err
	}
	return u.Role(), nil
}

func (m memUsers) List(_ context.Context) ([]types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memUsers) Create(_ context.Context, u types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUserCreate != nil {
		return types.User{}, m.failUserCreate
	}
	m.users[u.ID] = u
	return u, nil
}

func (m memUsers) update(id string, fn func(*types.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&u)
	m.users[id] = u
	return nil
}

func (m memUsers) SetAdmin(_ context.Context, id string, isAdmin bool) error {
	if isAdmin {
		m.mu.Lock()
		err := m.requireActiveLocked(id)
		m.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return m.update(id, func(u *types.User) { u.IsAdmin = isAdmin })
}

func (m memUsers) SetActive(_ context.Context, id string, active bool) error {
	err := m.update(id, func(u *types.User) { u.IsActive = active })
	if err == nil && !active {
		m.mu.Lock()
		m.dropGrantsLocked(id)
		m.mu.Unlock()
	}
	return err
}

func (m memUsers) SoftDelete(_ context.Context, id, masked string) error {
	err := m.update(id, func(u *types.User) {
		u.IsActive = false
		u.Email = masked
	})
	if err == nil {
		m.mu.Lock()
		m.dropGrantsLocked(id)
		m.mu.Unlock()
	}
	return err
}

func (m memUsers) HardDelete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return store.ErrNotFound
	}
	trades := m.trades[:0]
	for _, t := range m.trades {
		if t.UserID != id {
			trades = append(trades, t)
		}
	}
	m.trades = trades
	dividends := m.dividends[:0]
	for _, d := range m.dividends {
		if d.UserID != id {
			dividends = append(dividends, d)
		}
	}
	m.dividends = dividends
	m.dropGrantsLocked(id)
	delete(m.permissions, id)
	delete(m.users, id)
	m.pending[id] = 0
	return nil
}

func (m memUsers) SetMustChangePassword(_ context.Context, id string, must bool) error {
	return m.update(id, func(u *types.User) { u.MustChangePassword = must })
}

func (m memUsers) CompleteFirstLogin(_ context.Context, id string) error {
	return m.update(id, func(u *types.User) { u.MustChangePassword = false })
}

type memPending struct{ *world }

func (m memPending) Exists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[id]
	return ok, nil
}

func (m memPending) List(_ context.Context, limit int) ([]store.PendingDeletion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.PendingDeletion, 0, len(m.pending))
	for id, attempts := range m.pending {
		out = append(out, store.PendingDeletion{UserID: id, Attempts: attempts})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m memPending) Complete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	return nil
}

func (m memPending) RecordFailure(_ context.Context, id string, _ error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[id]; ok {
		m.pending[id]++
	}
	return nil
}

type memPermissions struct{ *world }

func (m memPermissions) Get(_ context.Context, id string) (types.GlobalPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.permissions[id]; ok {
		return p, nil
	}
	return types.GlobalPermission{UserID: id}, nil
}

func (m memPermissions) Upsert(_ context.Context, p types.GlobalPermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireActiveLocked(p.UserID); err != nil {
		return err
	}
	m.permissions[p.UserID] = p
	return nil
}

func (m memPermissions) List(_ context.Context) ([]types.GlobalPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.GlobalPermission, 0, len(m.permissions))
	for _, p := range m.permissions {
		out = append(out, p)
	}
	return out, nil
}

type memGrants struct{ *world }

func sameGrant(a, b types.Grant) bool {
	if a.Resource != b.Resource || a.GranteeID != b.GranteeID || a.Mode != b.Mode {
		return false
	}
	if a.OwnerID == nil || b.OwnerID == nil {
		return a.OwnerID == nil && b.OwnerID == nil
	}
	return *a.OwnerID == *b.OwnerID
}

func (m memGrants) Upsert(_ context.Context, g types.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	parties := []string{g.GranteeID}
	if g.OwnerID != nil {
		parties = append(parties, *g.OwnerID)
	}
	if err := m.requireActiveLocked(parties...); err != nil {
		return err
	}
	for _, existing := range m.grants {
		if sameGrant(existing, g) {
			return nil
		}
	}
	m.grants = append(m.grants, g)
	return nil
}

func (m memGrants) Delete(_ context.Context, g types.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.grants[:0]
	for _, existing := range m.grants {
		if !sameGrant(existing, g) {
			kept = append(kept, existing)
		}
	}
	m.grants = kept
	return nil
}

func (m memGrants) List(_ context.Context) ([]types.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Grant(nil), m.grants...), nil
}

func (m memGrants) ListForGrantee(_ context.Context, grantee string) ([]types.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Grant
	for _, g := range m.grants {
		if g.GranteeID == grantee {
			out = append(out, g)
		}
	}
	return out, nil
}

type memAudit struct{ *world }

func (m memAudit) Append(_ context.Context, rec types.AuditRecord) (types.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = store.NewID()
	}
	m.audit = append(m.audit, rec)
	return rec, nil
}

func (m memAudit) List(_ context.Context, filter types.AuditFilter) ([]types.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.AuditRecord, 0)
	for i := len(m.audit) - 1; i >= 0 && len(out) < store.ClampAuditLimit(filter.Limit); i-- {
		rec := m.audit[i]
		if filter.Table != "" && rec.TableName != filter.Table {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (w *world) actions() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.audit))
	for _, rec := range w.audit {
		out = append(out, rec.Action)
	}
	return out
}

type memDirectory struct {
	mu         sync.Mutex
	accounts   map[string]string
	deleteErr  error
	nextID     int
	deleteHits int
}

func newMemDirectory() *memDirectory {
	return &memDirectory{accounts: make(map[string]string)}
}

func (d *memDirectory) CreateAccount(_ context.Context, email, password string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.accounts {
		if existing == email {
			return "", identity.ErrAccountExists
		}
	}
	d.nextID++
	id := fmt.Sprintf("acct-%d", d.nextID)
	d.accounts[id] = email
	return id, nil
}

func (d *memDirectory) DeleteAccount(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleteHits++
	if d.deleteErr != nil {
		return d.deleteErr
	}
	delete(d.accounts, id)
	return nil
}

func (d *memDirectory) SetPassword(_ context.Context, id, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.accounts[id]; !ok {
		return errors.New("no such account")
	}
	return nil
}

func (d *memDirectory) has(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.accounts[id]
	return ok
}

func testLogger(t *testing.T) logrus.FieldLogger {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return logger
}
