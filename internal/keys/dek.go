package keys

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	cr "github.com/jchilcher/ledgr-desktop-sub004/internal/crypto"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/ledger"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/session"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/store"
)

// Manager owns the per-entity data encryption keys: generation, wrapping
// under the owner's derived key, and resolution for reads via the owner's
// session or a recipient's share.
type Manager struct {
	keys     store.KeyStore
	shares   store.ShareStore
	sessions *session.Store
}

func NewManager(keys store.KeyStore, shares store.ShareStore, sessions *session.Store) *Manager {
	return &Manager{keys: keys, shares: shares, sessions: sessions}
}

func dekAAD(t ledger.EntityType, entityID string) []byte {
	return []byte(fmt.Sprintf("dek-wrap:%s:%s", t, entityID))
}

func shareAAD(t ledger.EntityType, entityID string) []byte {
	return []byte(fmt.Sprintf("share:%s:%s", t, entityID))
}

// ShareAAD is the AAD a recipient wrap binds; the sharing service seals with
// it and ResolveForRead opens with it.
func ShareAAD(t ledger.EntityType, entityID string) []byte {
	return shareAAD(t, entityID)
}

// GenerateDEK returns a fresh random key. One per entity; transactions ride
// on their parent account's DEK and never get one.
func GenerateDEK() (dek [cr.KeySize]byte, err error) {
	_, err = rand.Read(dek[:])
	return
}

// Wrap seals a DEK under a derived key with the entity-bound AAD.
func Wrap(dek, derived [cr.KeySize]byte, t ledger.EntityType, entityID string) ([]byte, error) {
	return cr.SealX(derived[:], dek[:], dekAAD(t, entityID))
}

// Unwrap reverses Wrap; a wrong key surfaces as ErrAuthentication.
func Unwrap(wrap []byte, derived [cr.KeySize]byte, t ledger.EntityType, entityID string) (dek [cr.KeySize]byte, err error) {
	pt, err := cr.OpenX(derived[:], wrap, dekAAD(t, entityID))
	if err != nil {
		return dek, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	copy(dek[:], pt)
	cr.Zero(pt)
	return dek, nil
}

// CreateAndStore generates and persists a DEK for an entity. Returns
// (nil, nil) when the owner has no unlocked session; the caller leaves the
// entity plaintext in that case.
func (m *Manager) CreateAndStore(ctx context.Context, t ledger.EntityType, entityID, ownerID string) (*[cr.KeySize]byte, error) {
	sess := m.sessions.Get(ownerID)
	if sess == nil {
		return nil, nil
	}
	dek, err := GenerateDEK()
	if err != nil {
		return nil, err
	}
	wrap, err := Wrap(dek, sess.DerivedKey, t, entityID)
	if err != nil {
		return nil, err
	}
	dk := &store.DataKey{
		EntityType: string(t),
		EntityID:   entityID,
		OwnerID:    ownerID,
		DEKWrap:    wrap,
	}
	if err := m.keys.PutDataKey(ctx, dk); err != nil {
		return nil, err
	}
	return &dek, nil
}

// ResolveForRead returns a usable DEK for the requesting user, or (nil, nil)
// when no access path exists: owner without a session, non-owner without a
// share, recipient without their own session. Absence of a key is an
// expected, handled case, never an error.
func (m *Manager) ResolveForRead(ctx context.Context, t ledger.EntityType, entityID, ownerID, requestingUserID string) (*[cr.KeySize]byte, error) {
	dk, err := m.keys.GetDataKey(ctx, t, entityID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if dk.OwnerID != ownerID {
		return nil, nil
	}

	if requestingUserID == ownerID {
		sess := m.sessions.Get(ownerID)
		if sess == nil {
			return nil, nil
		}
		dek, err := Unwrap(dk.DEKWrap, sess.DerivedKey, t, entityID)
		if err != nil {
			// session key that fails to unwrap the owner's own DEK is
			// corruption, not a missing-access case
			return nil, err
		}
		return &dek, nil
	}

	sh, err := m.shares.FindShare(ctx, t, entityID, requestingUserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sh.OwnerID != ownerID {
		return nil, nil
	}
	sess := m.sessions.Get(requestingUserID)
	if sess == nil || sess.PrivateKey == nil {
		return nil, nil
	}
	pt, err := cr.OpenFromPeer(sess.PrivateKey, sh.EphemeralPub, sh.DEKWrap, shareAAD(t, entityID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	var dek [cr.KeySize]byte
	copy(dek[:], pt)
	cr.Zero(pt)
	return &dek, nil
}

// ResolveForRecord maps a record to its DEK, routing transactions through
// their parent account's key.
func (m *Manager) ResolveForRecord(ctx context.Context, r *ledger.Record, requestingUserID string) (*[cr.KeySize]byte, error) {
	t, id := r.Type, r.ID
	if r.Type == ledger.EntityTransaction {
		t, id = ledger.EntityAccount, r.AccountID
	}
	return m.ResolveForRead(ctx, t, id, r.OwnerID, requestingUserID)
}
