package identity

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folio-ledger/apiserver/internal/store"
)

type memoryAccounts struct {
	mu       sync.Mutex
	accounts map[string]store.Account
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{accounts: make(map[string]store.Account)}
}

func (m *memoryAccounts) Create(_ context.Context, account store.Account) (store.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.Email == account.Email {
			return store.Account{}, store.ErrDuplicateEmail
		}
	}
	m.accounts[account.ID] = account
	return account, nil
}

func (m *memoryAccounts) GetByEmail(_ context.Context, email string) (store.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.accounts {
		if account.Email == email {
			return account, nil
		}
	}
	return store.Account{}, store.ErrNotFound
}

func (m *memoryAccounts) GetByID(_ context.Context, id string) (store.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return store.Account{}, store.ErrNotFound
	}
	return account, nil
}

func (m *memoryAccounts) UpdatePassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	account.PasswordHash = hash
	m.accounts[id] = account
	return nil
}

func (m *memoryAccounts) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, id)
	return nil
}

func TestLocal_LoginAndVerify(t *testing.T) {
	ctx := context.Background()
	local := NewLocal(newMemoryAccounts(), "secret", time.Hour)

	id, err := local.CreateAccount(ctx, "  Ada@Example.com ", "correct horse")
	require.NoError(t, err)

	token, ident, err := local.Login(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, id, ident.ID)
	assert.Equal(t, "ada@example.com", ident.Email)

	verified, err := local.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, ident, verified)
}

func TestLocal_LoginRejectsWrongPassword(t *testing.T) {
	ctx := context.Background()
	local := NewLocal(newMemoryAccounts(), "secret", time.Hour)
	_, err := local.CreateAccount(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	_, _, err = local.Login(ctx, "ada@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = local.Login(ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLocal_CreateAccountDuplicate(t *testing.T) {
	ctx := context.Background()
	local := NewLocal(newMemoryAccounts(), "secret", time.Hour)
	_, err := local.CreateAccount(ctx, "ada@example.com", "pw-one-long")
	require.NoError(t, err)

	_, err = local.CreateAccount(ctx, "ADA@example.com", "pw-two-long")
	assert.ErrorIs(t, err, ErrAccountExists)
}

func TestLocal_SetPasswordAndDelete(t *testing.T) {
	ctx := context.Background()
	accounts := newMemoryAccounts()
	local := NewLocal(accounts, "secret", time.Hour)
	id, err := local.CreateAccount(ctx, "ada@example.com", "old-password")
	require.NoError(t, err)

	require.NoError(t, local.SetPassword(ctx, id, "new-password"))
	_, _, err = local.Login(ctx, "ada@example.com", "old-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = local.Login(ctx, "ada@example.com", "new-password")
	require.NoError(t, err)

	require.NoError(t, local.DeleteAccount(ctx, id))
	require.NoError(t, local.DeleteAccount(ctx, id))
	_, err = accounts.GetByID(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLocal_VerifyRejects(t *testing.T) {
	ctx := context.Background()
	local := NewLocal(newMemoryAccounts(), "secret", time.Minute)
	token, err := local.IssueToken(Identity{ID: "u-1", Email: "a@example.com"})
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		later := NewLocal(nil, "secret", time.Minute)
		later.now = func() time.Time { return time.Now().Add(time.Hour) }
		_, err := later.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewLocal(nil, "other", time.Minute)
		_, err := other.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := local.Verify(ctx, "not-a-token")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("missing subject", func(t *testing.T) {
		blank, err := local.IssueToken(Identity{Email: "a@example.com"})
		require.NoError(t, err)
		_, err = local.Verify(ctx, blank)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestOIDCVerifier(t *testing.T) {
	ctx := context.Background()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	const issuer = "https://idp.example.com"
	verifier := NewOIDCVerifierWithKeys(issuer, "folio", &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}})

	sign := func(claims jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}
	now := time.Now()

	ident, err := verifier.Verify(ctx, sign(jwt.MapClaims{
		"iss":   issuer,
		"aud":   "folio",
		"sub":   "idp-user-1",
		"email": "ada@example.com",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}))
	require.NoError(t, err)
	assert.Equal(t, Identity{ID: "idp-user-1", Email: "ada@example.com"}, ident)

	_, err = verifier.Verify(ctx, sign(jwt.MapClaims{
		"iss": issuer,
		"aud": "someone-else",
		"sub": "idp-user-1",
		"exp": now.Add(time.Hour).Unix(),
	}))
	assert.ErrorIs(t, err, ErrUnauthorized)
}
