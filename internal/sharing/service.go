package sharing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jchilcher/ledgr-desktop-sub004/internal/audit"
	cr "github.com/jchilcher/ledgr-desktop-sub004/internal/crypto"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/keys"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/ledger"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/session"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/store"
)

var (
	// ErrNotOwner rejects share mutations by anyone but the DEK's owner.
	ErrNotOwner = errors.New("sharing: acting user does not own the entity key")
	// ErrRecipientNoKeys means the recipient has never enabled a password
	// and so has no public key to wrap for.
	ErrRecipientNoKeys = errors.New("sharing: recipient has no keypair")
)

// Service grants and revokes cryptographically scoped access to single
// entities. A share carries the entity's DEK re-wrapped for one recipient;
// the owner's own wrapped copy is never touched.
type Service struct {
	keys     store.KeyStore
	shares   store.ShareStore
	sessions *session.Store
	audit    *audit.Log
	log      *logrus.Entry
}

func New(ks store.KeyStore, ss store.ShareStore, sessions *session.Store, auditLog *audit.Log, log *logrus.Entry) *Service {
	if auditLog == nil {
		auditLog = audit.New()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{keys: ks, shares: ss, sessions: sessions, audit: auditLog, log: log}
}

// CreateShare re-wraps the entity's DEK for the recipient's public key and
// persists the share. The acting user must own the DEK row and hold an
// active session.
func (s *Service) CreateShare(ctx context.Context, t ledger.EntityType, entityID, ownerID, recipientID string, perms store.Permissions) (*store.DataShare, error) {
	dk, err := s.keys.GetDataKey(ctx, t, entityID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("sharing: %s %s has no key: %w", t, entityID, err)
	}
	if err != nil {
		return nil, err
	}
	if dk.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	sess := s.sessions.Get(ownerID)
	if sess == nil {
		return nil, keys.ErrNoSession
	}

	dek, err := keys.Unwrap(dk.DEKWrap, sess.DerivedKey, t, entityID)
	if err != nil {
		return nil, err
	}
	defer cr.Zero32(&dek)

	sh, err := s.wrapForRecipient(ctx, t, entityID, ownerID, recipientID, dek, perms)
	if err != nil {
		return nil, err
	}

	s.audit.Append(ownerID, "share.create", fmt.Sprintf("%s:%s->%s", t, entityID, recipientID))
	s.log.WithFields(logrus.Fields{
		"entity":    entityID,
		"type":      t,
		"recipient": recipientID,
	}).Info("share created")
	return sh, nil
}

// RevokeShare deletes the share row. It does not rotate the underlying DEK:
// a recipient who already decrypted the data, or kept the old wrapped copy,
// is unaffected. Known limitation.
func (s *Service) RevokeShare(ctx context.Context, shareID string) error {
	sh, err := s.shares.GetShare(ctx, shareID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.shares.DeleteShare(ctx, shareID); err != nil {
		return err
	}
	s.audit.Append(sh.OwnerID, "share.revoke", fmt.Sprintf("%s:%s->%s", sh.EntityType, sh.EntityID, sh.RecipientID))
	return nil
}

// UpdatePermissions mutates flags only; no cryptographic change.
func (s *Service) UpdatePermissions(ctx context.Context, shareID string, perms store.Permissions) error {
	sh, err := s.shares.GetShare(ctx, shareID)
	if err != nil {
		return err
	}
	sh.Permissions = perms
	return s.shares.PutShare(ctx, sh)
}

// ApplyBlanketShares runs at entity-encryption time: every SharingDefault
// the owner has for this entity type turns into a DataShare, so new items
// inherit standing rules. The caller supplies the plaintext DEK it just
// generated; no unwrap happens here. Recipients without keypairs are
// skipped.
func (s *Service) ApplyBlanketShares(ctx context.Context, t ledger.EntityType, entityID, ownerID string, dek [cr.KeySize]byte) error {
	defs, err := s.shares.ListDefaults(ctx, ownerID)
	if err != nil {
		return err
	}
	for _, d := range defs {
		if d.EntityType != string(t) {
			continue
		}
		_, err := s.wrapForRecipient(ctx, t, entityID, ownerID, d.RecipientID, dek, d.Permissions)
		if errors.Is(err, ErrRecipientNoKeys) {
			s.log.WithField("recipient", d.RecipientID).Warn("blanket share skipped, recipient has no keypair")
			continue
		}
		if err != nil {
			return err
		}
		s.audit.Append(ownerID, "share.blanket", fmt.Sprintf("%s:%s->%s", t, entityID, d.RecipientID))
	}
	return nil
}

// SetDefault installs or replaces a standing sharing rule.
func (s *Service) SetDefault(ctx context.Context, ownerID, recipientID string, t ledger.EntityType, perms store.Permissions) error {
	if !ledger.ValidType(t) {
		return fmt.Errorf("sharing: invalid entity type %q", t)
	}
	return s.shares.PutDefault(ctx, &store.SharingDefault{
		OwnerID:     ownerID,
		RecipientID: recipientID,
		EntityType:  string(t),
		Permissions: perms,
	})
}

func (s *Service) RemoveDefault(ctx context.Context, ownerID, recipientID string, t ledger.EntityType) error {
	return s.shares.DeleteDefault(ctx, ownerID, recipientID, t)
}

func (s *Service) DefaultsFor(ctx context.Context, ownerID string) ([]store.SharingDefault, error) {
	return s.shares.ListDefaults(ctx, ownerID)
}

func (s *Service) wrapForRecipient(ctx context.Context, t ledger.EntityType, entityID, ownerID, recipientID string, dek [cr.KeySize]byte, perms store.Permissions) (*store.DataShare, error) {
	rk, err := s.keys.GetUserKeys(ctx, recipientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRecipientNoKeys
	}
	if err != nil {
		return nil, err
	}
	pub, err := cr.ParsePublicKey(rk.PublicKey)
	if err != nil {
		return nil, err
	}
	ephPub, ct, err := cr.SealForPeer(pub, dek[:], keys.ShareAAD(t, entityID))
	if err != nil {
		return nil, err
	}
	sh := &store.DataShare{
		ID:           uuid.NewString(),
		EntityType:   string(t),
		EntityID:     entityID,
		OwnerID:      ownerID,
		RecipientID:  recipientID,
		EphemeralPub: ephPub,
		DEKWrap:      ct,
		Permissions:  perms,
	}
	if err := s.shares.PutShare(ctx, sh); err != nil {
		return nil, err
	}
	return sh, nil
}
