package rekey

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jchilcher/ledgr-desktop-sub004/internal/audit"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/auth"
	cr "github.com/jchilcher/ledgr-desktop-sub004/internal/crypto"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/keys"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/ledger"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/session"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/sharing"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/store"
)

type fixture struct {
	ctx      context.Context
	mem      *store.Memory
	sessions *session.Store
	deks     *keys.Manager
	sharing  *sharing.Service
	svc      *Service
}

func testConfig() Config {
	return Config{
		KDF:   cr.KDFParams{M: 1024, T: 1, P: 1},
		Argon: auth.ArgonParams{Memory: 1024, Time: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	sessions := session.NewStore()
	auditLog := audit.New()
	deks := keys.NewManager(mem, mem, sessions)
	shr := sharing.New(mem, mem, sessions, auditLog, nil)
	svc := New(testConfig(), mem, mem, mem, mem, sessions, deks, shr, nil, auditLog, nil)
	return &fixture{ctx: context.Background(), mem: mem, sessions: sessions, deks: deks, sharing: shr, svc: svc}
}

func (f *fixture) addAccount(t *testing.T, id, owner, name, balance string) {
	t.Helper()
	require.NoError(t, f.mem.PutRecord(f.ctx, &ledger.Record{
		ID:      id,
		Type:    ledger.EntityAccount,
		OwnerID: owner,
		Fields:  map[string]string{"name": name, "balance": balance, "notes": ""},
	}))
}

func (f *fixture) addTransaction(t *testing.T, id, owner, accountID, payee, amount string) {
	t.Helper()
	require.NoError(t, f.mem.PutRecord(f.ctx, &ledger.Record{
		ID:        id,
		Type:      ledger.EntityTransaction,
		OwnerID:   owner,
		AccountID: accountID,
		Fields:    map[string]string{"payee": payee, "amount": amount, "notes": ""},
	}))
}

func TestEnableMigratesOwnedEntities(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "acct-1", "alice", "Checking", "500000")
	f.addTransaction(t, "txn-1", "alice", "acct-1", "Grocer", "-4200")

	require.NoError(t, f.svc.Enable(f.ctx, "alice", "hunter2"))

	// stored record is now ciphertext with the flag set
	stored, err := f.mem.GetRecord(f.ctx, ledger.EntityAccount, "acct-1")
	require.NoError(t, err)
	assert.True(t, stored.IsEncrypted)
	assert.NotEqual(t, "Checking", stored.Fields["name"])
	assert.NotEqual(t, "500000", stored.Fields["balance"])

	// child transaction rides the account's DEK; it has no DataKey of its own
	txn, err := f.mem.GetRecord(f.ctx, ledger.EntityTransaction, "txn-1")
	require.NoError(t, err)
	assert.True(t, txn.IsEncrypted)
	_, err = f.mem.GetDataKey(f.ctx, ledger.EntityTransaction, "txn-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// owner with a live session reads plaintext back
	dek, err := f.deks.ResolveForRead(f.ctx, ledger.EntityAccount, "acct-1", "alice", "alice")
	require.NoError(t, err)
	require.NotNil(t, dek)
	dec, err := ledger.DecryptFields(stored, *dek)
	require.NoError(t, err)
	assert.Equal(t, "Checking", dec.Fields["name"])
	assert.Equal(t, "500000", dec.Fields["balance"])

	decTxn, err := ledger.DecryptFields(txn, *dek)
	require.NoError(t, err)
	assert.Equal(t, "Grocer", decTxn.Fields["payee"])
}

func TestEnableTwiceFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Enable(f.ctx, "alice", "hunter2"))
	assert.ErrorIs(t, f.svc.Enable(f.ctx, "alice", "hunter2"), ErrAlreadyEnabled)
}

func TestEnableAppliesBlanketShares(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Enable(f.ctx, "bob", "bobpass"))
	require.NoError(t, f.sharing.SetDefault(f.ctx, "alice", "bob", ledger.EntityAccount,
		store.Permissions{CanView: true}))

	f.addAccount(t, "acct-1", "alice", "Joint", "120000")
	require.NoError(t, f.svc.Enable(f.ctx, "alice", "hunter2"))

	shares, err := f.mem.ListSharesForEntity(f.ctx, ledger.EntityAccount, "acct-1")
	require.NoError(t, err)
	require.Len(t, shares, 1)
	assert.Equal(t, "bob", shares[0].RecipientID)
}

func TestUnlockAndLock(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Enable(f.ctx, "alice", "hunter2"))
	f.svc.Lock("alice")
	assert.False(t, f.sessions.Has("alice"))

	assert.ErrorIs(t, f.svc.Unlock(f.ctx, "alice", "wrong"), ErrWrongPassword)
	assert.False(t, f.sessions.Has("alice"), "failed unlock must not open a session")

	require.NoError(t, f.svc.Unlock(f.ctx, "alice", "hunter2"))
	assert.True(t, f.sessions.Has("alice"))
}

func TestUnlockNotEnabled(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.svc.Unlock(f.ctx, "nobody", "pass"), ErrNotEnabled)
}

func TestUnlockRateLimited(t *testing.T) {
	f := newFixture(t)
	limiter := auth.NewUnlockLimiter(1, time.Hour, time.Hour)
	f.svc.limiter = limiter
	require.NoError(t, f.svc.Enable(f.ctx, "alice", "hunter2"))
	f.svc.Lock("alice")

	assert.ErrorIs(t, f.svc.Unlock(f.ctx, "alice", "wrong"), ErrWrongPassword)
	assert.ErrorIs(t, f.svc.Unlock(f.ctx, "alice", "hunter2"), ErrTooManyAttempts)
}

func TestChangePasswordRekeysEverything(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "acct-1", "alice", "Checking", "500000")
	f.addAccount(t, "acct-2", "alice", "Savings", "900000")
	require.NoError(t, f.svc.Enable(f.ctx, "alice", "oldpass"))

	require.NoError(t, f.svc.ChangePassword(f.ctx, "alice", "oldpass", "newpass"))
	assert.True(t, f.sessions.Has("alice"), "session stays unlocked on the new key")

	// old password no longer unlocks
	f.svc.Lock("alice")
	assert.ErrorIs(t, f.svc.Unlock(f.ctx, "alice", "oldpass"), ErrWrongPassword)
	require.NoError(t, f.svc.Unlock(f.ctx, "alice", "newpass"))

	// every entity decrypts to its pre-change plaintext
	for id, name := range map[string]string{"acct-1": "Checking", "acct-2": "Savings"} {
		stored, err := f.mem.GetRecord(f.ctx, ledger.EntityAccount, id)
		require.NoError(t, err)
		dek, err := f.deks.ResolveForRead(f.ctx, ledger.EntityAccount, id, "alice", "alice")
		require.NoError(t, err)
		require.NotNil(t, dek)
		dec, err := ledger.DecryptFields(stored, *dek)
		require.NoError(t, err)
		assert.Equal(t, name, dec.Fields["name"])
	}
}

func TestChangePasswordWrongOld(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Enable(f.ctx, "alice", "oldpass"))
	assert.ErrorIs(t, f.svc.ChangePassword(f.ctx, "alice", "nope", "newpass"), ErrWrongPassword)
}

func TestChangePasswordAbortsOnCorruptDEK(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "acct-1", "alice", "Checking", "500000")
	f.addAccount(t, "acct-2", "alice", "Savings", "900000")
	require.NoError(t, f.svc.Enable(f.ctx, "alice", "oldpass"))

	// corrupt one wrapped DEK; the verification pass must abort everything
	dk, err := f.mem.GetDataKey(f.ctx, ledger.EntityAccount, "acct-2")
	require.NoError(t, err)
	dk.DEKWrap[len(dk.DEKWrap)-1] ^= 0x01
	require.NoError(t, f.mem.PutDataKey(f.ctx, dk))

	err = f.svc.ChangePassword(f.ctx, "alice", "oldpass", "newpass")
	assert.ErrorIs(t, err, ErrRekeyAborted)

	// nothing mutated: the old password still unlocks and the intact DEK
	// still unwraps under it
	f.svc.Lock("alice")
	require.NoError(t, f.svc.Unlock(f.ctx, "alice", "oldpass"))
	dek, err := f.deks.ResolveForRead(f.ctx, ledger.EntityAccount, "acct-1", "alice", "alice")
	require.NoError(t, err)
	assert.NotNil(t, dek)
}

func TestDisableRestoresPlaintext(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "acct-1", "alice", "Checking", "500000")
	f.addTransaction(t, "txn-1", "alice", "acct-1", "Grocer", "-4200")
	require.NoError(t, f.svc.Enable(f.ctx, "alice", "hunter2"))
	require.NoError(t, f.svc.Enable(f.ctx, "bob", "bobpass"))
	_, err := f.sharing.CreateShare(f.ctx, ledger.EntityAccount, "acct-1", "alice", "bob",
		store.Permissions{CanView: true})
	require.NoError(t, err)

	require.NoError(t, f.svc.Disable(f.ctx, "alice", "hunter2"))

	stored, err := f.mem.GetRecord(f.ctx, ledger.EntityAccount, "acct-1")
	require.NoError(t, err)
	assert.False(t, stored.IsEncrypted)
	assert.Equal(t, "Checking", stored.Fields["name"])
	assert.Equal(t, "500000", stored.Fields["balance"])

	txn, err := f.mem.GetRecord(f.ctx, ledger.EntityTransaction, "txn-1")
	require.NoError(t, err)
	assert.False(t, txn.IsEncrypted)
	assert.Equal(t, "Grocer", txn.Fields["payee"])

	// no key material remains for alice
	_, err = f.mem.GetUserKeys(f.ctx, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.mem.GetDataKey(f.ctx, ledger.EntityAccount, "acct-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	dks, err := f.mem.ListDataKeysByOwner(f.ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, dks)
	shares, err := f.mem.ListSharesForEntity(f.ctx, ledger.EntityAccount, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, shares)
	assert.False(t, f.sessions.Has("alice"))
	assert.ErrorIs(t, f.svc.Unlock(f.ctx, "alice", "hunter2"), ErrNotEnabled)
}

func TestDisableWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "acct-1", "alice", "Checking", "500000")
	require.NoError(t, f.svc.Enable(f.ctx, "alice", "hunter2"))

	assert.ErrorIs(t, f.svc.Disable(f.ctx, "alice", "wrong"), ErrWrongPassword)

	stored, err := f.mem.GetRecord(f.ctx, ledger.EntityAccount, "acct-1")
	require.NoError(t, err)
	assert.True(t, stored.IsEncrypted, "wrong password must not decrypt anything")
}

func TestDisableWorksFromLockedState(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "acct-1", "alice", "Checking", "500000")
	require.NoError(t, f.svc.Enable(f.ctx, "alice", "hunter2"))
	f.svc.Lock("alice")

	require.NoError(t, f.svc.Disable(f.ctx, "alice", "hunter2"))
	stored, err := f.mem.GetRecord(f.ctx, ledger.EntityAccount, "acct-1")
	require.NoError(t, err)
	assert.False(t, stored.IsEncrypted)
	assert.Equal(t, "Checking", stored.Fields["name"])
}

// End-to-end reading scenario: owner sees plaintext, a stranger sees the
// locked ciphertext view.
func TestReadScenario(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "acct-1", "alice", "Checking", "500000")
	require.NoError(t, f.svc.Enable(f.ctx, "alice", "hunter2"))

	recs, err := f.mem.ListByOwner(f.ctx, "alice")
	require.NoError(t, err)

	asAlice := ledger.DecryptList(recs, func(r *ledger.Record) (*[cr.KeySize]byte, error) {
		return f.deks.ResolveForRecord(f.ctx, r, "alice")
	})
	require.Len(t, asAlice, 1)
	assert.Equal(t, "Checking", asAlice[0].Fields["name"])
	assert.Equal(t, "500000", asAlice[0].Fields["balance"])

	asBob := ledger.DecryptList(recs, func(r *ledger.Record) (*[cr.KeySize]byte, error) {
		return f.deks.ResolveForRecord(f.ctx, r, "bob")
	})
	require.Len(t, asBob, 1)
	assert.True(t, asBob[0].IsEncrypted)
	assert.NotEqual(t, "Checking", asBob[0].Fields["name"])
}
