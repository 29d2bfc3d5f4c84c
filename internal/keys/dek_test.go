package keys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cr "github.com/jchilcher/ledgr-desktop-sub004/internal/crypto"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/ledger"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/session"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/store"
)

func fixedKey(b byte) (k [cr.KeySize]byte) {
	for i := range k {
		k[i] = b
	}
	return
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	dek, err := GenerateDEK()
	require.NoError(t, err)
	derived := fixedKey(7)

	wrap, err := Wrap(dek, derived, ledger.EntityAccount, "acct-1")
	require.NoError(t, err)

	got, err := Unwrap(wrap, derived, ledger.EntityAccount, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, dek, got)
}

func TestUnwrapKeyIsolation(t *testing.T) {
	dek, err := GenerateDEK()
	require.NoError(t, err)

	wrap, err := Wrap(dek, fixedKey(1), ledger.EntityAccount, "acct-1")
	require.NoError(t, err)

	_, err = Unwrap(wrap, fixedKey(2), ledger.EntityAccount, "acct-1")
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestUnwrapBindsEntityIdentity(t *testing.T) {
	dek, err := GenerateDEK()
	require.NoError(t, err)
	derived := fixedKey(7)

	wrap, err := Wrap(dek, derived, ledger.EntityAccount, "acct-1")
	require.NoError(t, err)

	_, err = Unwrap(wrap, derived, ledger.EntityAccount, "acct-2")
	assert.ErrorIs(t, err, ErrAuthentication)
	_, err = Unwrap(wrap, derived, ledger.EntitySavingsGoal, "acct-1")
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestSealOpenPrivateKey(t *testing.T) {
	priv, err := GenerateKeypair()
	require.NoError(t, err)
	derived := fixedKey(3)

	wrap, err := SealPrivateKey(priv, derived, "alice")
	require.NoError(t, err)

	got, err := OpenPrivateKey(wrap, derived, "alice")
	require.NoError(t, err)
	assert.Equal(t, priv.Bytes(), got.Bytes())

	_, err = OpenPrivateKey(wrap, fixedKey(4), "alice")
	assert.ErrorIs(t, err, ErrAuthentication)

	// sealed for alice, not bob
	_, err = OpenPrivateKey(wrap, derived, "bob")
	assert.ErrorIs(t, err, ErrAuthentication)
}

func newTestManager(t *testing.T) (*Manager, *store.Memory, *session.Store) {
	t.Helper()
	mem := store.NewMemory()
	sessions := session.NewStore()
	return NewManager(mem, mem, sessions), mem, sessions
}

func TestCreateAndStoreNeedsSession(t *testing.T) {
	ctx := context.Background()
	m, mem, _ := newTestManager(t)

	dek, err := m.CreateAndStore(ctx, ledger.EntityAccount, "acct-1", "alice")
	require.NoError(t, err)
	assert.Nil(t, dek, "no session means no DEK; entity stays plaintext")

	_, err = mem.GetDataKey(ctx, ledger.EntityAccount, "acct-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateAndStorePersistsWrappedDEK(t *testing.T) {
	ctx := context.Background()
	m, mem, sessions := newTestManager(t)
	sessions.Set("alice", fixedKey(9), nil)

	dek, err := m.CreateAndStore(ctx, ledger.EntityAccount, "acct-1", "alice")
	require.NoError(t, err)
	require.NotNil(t, dek)

	dk, err := mem.GetDataKey(ctx, ledger.EntityAccount, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", dk.OwnerID)

	got, err := Unwrap(dk.DEKWrap, fixedKey(9), ledger.EntityAccount, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, *dek, got)
}

func TestResolveForReadOwnerPath(t *testing.T) {
	ctx := context.Background()
	m, _, sessions := newTestManager(t)
	sessions.Set("alice", fixedKey(9), nil)

	created, err := m.CreateAndStore(ctx, ledger.EntityAccount, "acct-1", "alice")
	require.NoError(t, err)

	got, err := m.ResolveForRead(ctx, ledger.EntityAccount, "acct-1", "alice", "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, *created, *got)

	// session gone, owner resolves nothing
	sessions.Clear("alice")
	got, err = m.ResolveForRead(ctx, ledger.EntityAccount, "acct-1", "alice", "alice")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolveForReadDeniesNonOwnerWithoutShare(t *testing.T) {
	ctx := context.Background()
	m, _, sessions := newTestManager(t)
	sessions.Set("alice", fixedKey(9), nil)

	_, err := m.CreateAndStore(ctx, ledger.EntityAccount, "acct-1", "alice")
	require.NoError(t, err)

	bobPriv, err := GenerateKeypair()
	require.NoError(t, err)
	sessions.Set("bob", fixedKey(8), bobPriv)

	got, err := m.ResolveForRead(ctx, ledger.EntityAccount, "acct-1", "alice", "bob")
	require.NoError(t, err)
	assert.Nil(t, got, "no share, no key")
}

func TestResolveForReadMissingDEKIsNil(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	got, err := m.ResolveForRead(ctx, ledger.EntityAccount, "nope", "alice", "alice")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolveForRecordRoutesTransactionsThroughAccount(t *testing.T) {
	ctx := context.Background()
	m, _, sessions := newTestManager(t)
	sessions.Set("alice", fixedKey(9), nil)

	created, err := m.CreateAndStore(ctx, ledger.EntityAccount, "acct-1", "alice")
	require.NoError(t, err)

	txn := &ledger.Record{
		ID:        "txn-1",
		Type:      ledger.EntityTransaction,
		OwnerID:   "alice",
		AccountID: "acct-1",
	}
	got, err := m.ResolveForRecord(ctx, txn, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, *created, *got)
}
