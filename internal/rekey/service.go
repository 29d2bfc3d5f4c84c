package rekey

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jchilcher/ledgr-desktop-sub004/internal/audit"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/auth"
	cr "github.com/jchilcher/ledgr-desktop-sub004/internal/crypto"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/keys"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/ledger"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/session"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/sharing"
	"github.com/jchilcher/ledgr-desktop-sub004/internal/store"
)

// Per-user states: Unencrypted -> Encrypted-Unlocked <-> Encrypted-Locked;
// Disable returns to Unencrypted from either encrypted state. Loss of a
// password is permanent loss of access: there is no recovery path.

var (
	ErrWrongPassword   = errors.New("rekey: wrong password")
	ErrAlreadyEnabled  = errors.New("rekey: encryption already enabled")
	ErrNotEnabled      = errors.New("rekey: encryption not enabled")
	ErrTooManyAttempts = errors.New("rekey: too many unlock attempts")
	// ErrRekeyAborted means the pre-mutation verification pass found a DEK
	// that does not unwrap; nothing was changed.
	ErrRekeyAborted = errors.New("rekey: verification pass failed, no changes made")
)

const settingAuthHash = "auth.hash"

type Config struct {
	KDF   cr.KDFParams
	Argon auth.ArgonParams
}

func (c *Config) setDefaults() {
	if c.KDF.M == 0 {
		c.KDF = cr.DefaultDesktopKDF()
	}
	if c.Argon.Memory == 0 {
		c.Argon = auth.DefaultArgon
	}
}

// Service orchestrates enabling, unlocking, rotating and disabling a user's
// password across every entity they own.
type Service struct {
	cfg      Config
	entities store.EntityStore
	keys     store.KeyStore
	shares   store.ShareStore
	settings store.SettingsStore
	sessions *session.Store
	deks     *keys.Manager
	sharing  *sharing.Service
	limiter  *auth.UnlockLimiter
	audit    *audit.Log
	log      *logrus.Entry
}

func New(cfg Config, entities store.EntityStore, ks store.KeyStore, ss store.ShareStore,
	settings store.SettingsStore, sessions *session.Store, deks *keys.Manager,
	shr *sharing.Service, limiter *auth.UnlockLimiter, auditLog *audit.Log, log *logrus.Entry) *Service {

	cfg.setDefaults()
	if auditLog == nil {
		auditLog = audit.New()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		cfg:      cfg,
		entities: entities,
		keys:     ks,
		shares:   ss,
		settings: settings,
		sessions: sessions,
		deks:     deks,
		sharing:  shr,
		limiter:  limiter,
		audit:    auditLog,
		log:      log,
	}
}

// Enable turns encryption on for a user: derive key, generate keypair, seal
// the private key, open a session, then migrate every owned entity that is
// still plaintext. Transactions encrypt under their parent account's DEK.
// Newly encrypted entities pick up the owner's blanket sharing rules.
func (s *Service) Enable(ctx context.Context, userID, password string) error {
	if _, err := s.keys.GetUserKeys(ctx, userID); err == nil {
		return ErrAlreadyEnabled
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	hash, err := auth.HashPassword(s.cfg.Argon, password)
	if err != nil {
		return err
	}
	if err := s.settings.PutSetting(ctx, userID, settingAuthHash, hash); err != nil {
		return err
	}

	salt, err := cr.NewSalt()
	if err != nil {
		return err
	}
	derived := cr.DeriveKey([]byte(password), salt, s.cfg.KDF)
	priv, err := keys.GenerateKeypair()
	if err != nil {
		return err
	}
	wrap, err := keys.SealPrivateKey(priv, derived, userID)
	if err != nil {
		return err
	}
	if err := s.keys.PutUserKeys(ctx, &store.UserKeys{
		UserID:         userID,
		PublicKey:      priv.PublicKey().Bytes(),
		PrivateKeyWrap: wrap,
		KDFSalt:        salt,
	}); err != nil {
		return err
	}
	s.sessions.Set(userID, derived, priv)
	cr.Zero32(&derived)

	if err := s.migrateOwnedEntities(ctx, userID); err != nil {
		return err
	}

	s.audit.Append(userID, "encryption.enable", "")
	s.log.WithField("user", userID).Info("encryption enabled")
	return nil
}

func (s *Service) migrateOwnedEntities(ctx context.Context, userID string) error {
	recs, err := s.entities.ListByOwner(ctx, userID)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		st := ledger.StateOf(rec, false)
		if !st.IsOwned() || rec.IsEncrypted {
			continue
		}
		dek, err := s.deks.CreateAndStore(ctx, rec.Type, rec.ID, userID)
		if err != nil {
			return err
		}
		if dek == nil {
			return keys.ErrNoSession
		}
		enc, err := ledger.EncryptFields(rec, *dek)
		if err != nil {
			return err
		}
		if err := s.entities.PutRecord(ctx, enc); err != nil {
			return err
		}
		if rec.Type == ledger.EntityAccount {
			if err := s.encryptChildTransactions(ctx, rec.ID, *dek); err != nil {
				return err
			}
		}
		if err := s.sharing.ApplyBlanketShares(ctx, rec.Type, rec.ID, userID, *dek); err != nil {
			return err
		}
		cr.Zero32(dek)
	}
	return nil
}

func (s *Service) encryptChildTransactions(ctx context.Context, accountID string, dek [cr.KeySize]byte) error {
	txns, err := s.entities.ListTransactions(ctx, accountID)
	if err != nil {
		return err
	}
	for _, txn := range txns {
		if txn.IsEncrypted {
			continue
		}
		enc, err := ledger.EncryptFields(txn, dek)
		if err != nil {
			return err
		}
		if err := s.entities.PutRecord(ctx, enc); err != nil {
			return err
		}
	}
	return nil
}

// Unlock verifies the password against the auth hash, derives the key and
// opens the sealed private key into a fresh session. A wrong password is an
// explicit failure, never a silent proceed.
func (s *Service) Unlock(ctx context.Context, userID, password string) error {
	if s.limiter != nil && !s.limiter.Allow(userID) {
		return ErrTooManyAttempts
	}
	encoded, err := s.settings.GetSetting(ctx, userID, settingAuthHash)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotEnabled
	}
	if err != nil {
		return err
	}
	ok, err := auth.VerifyPassword(password, encoded)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWrongPassword
	}

	uk, err := s.keys.GetUserKeys(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotEnabled
	}
	if err != nil {
		return err
	}
	derived := cr.DeriveKey([]byte(password), uk.KDFSalt, s.cfg.KDF)
	priv, err := keys.OpenPrivateKey(uk.PrivateKeyWrap, derived, userID)
	if err != nil {
		cr.Zero32(&derived)
		return fmt.Errorf("rekey: open private key: %w", err)
	}
	s.sessions.Set(userID, derived, priv)
	cr.Zero32(&derived)
	if s.limiter != nil {
		s.limiter.Reset(userID)
	}
	s.audit.Append(userID, "session.unlock", "")
	return nil
}

// Lock clears the session only; no data mutation.
func (s *Service) Lock(userID string) {
	s.sessions.Clear(userID)
	s.audit.Append(userID, "session.lock", "")
}

// ChangePassword re-seals the private key and re-wraps every owned DEK
// under the new derived key. Two-phase: a verification pass unwraps every
// DEK first; any failure aborts before anything is mutated, so the user is
// never left with a mixed-key state.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if err := s.verifyPassword(ctx, userID, oldPassword); err != nil {
		return err
	}
	uk, err := s.keys.GetUserKeys(ctx, userID)
	if err != nil {
		return err
	}
	oldKey := cr.DeriveKey([]byte(oldPassword), uk.KDFSalt, s.cfg.KDF)
	defer cr.Zero32(&oldKey)
	priv, err := keys.OpenPrivateKey(uk.PrivateKeyWrap, oldKey, userID)
	if err != nil {
		return ErrWrongPassword
	}

	dks, err := s.keys.ListDataKeysByOwner(ctx, userID)
	if err != nil {
		return err
	}

	// phase 1: verify every DEK unwraps under the old key
	plain := make(map[string]*[cr.KeySize]byte, len(dks))
	defer func() {
		for k, dek := range plain {
			cr.Zero32(dek)
			delete(plain, k)
		}
	}()
	for _, dk := range dks {
		dek, err := keys.Unwrap(dk.DEKWrap, oldKey, ledger.EntityType(dk.EntityType), dk.EntityID)
		if err != nil {
			return fmt.Errorf("%w: %s %s", ErrRekeyAborted, dk.EntityType, dk.EntityID)
		}
		dekCopy := dek
		plain[dk.EntityType+":"+dk.EntityID] = &dekCopy
	}

	// phase 2: commit
	newSalt, err := cr.NewSalt()
	if err != nil {
		return err
	}
	newKey := cr.DeriveKey([]byte(newPassword), newSalt, s.cfg.KDF)
	newWrap, err := keys.SealPrivateKey(priv, newKey, userID)
	if err != nil {
		cr.Zero32(&newKey)
		return err
	}
	uk.PrivateKeyWrap = newWrap
	uk.KDFSalt = newSalt
	if err := s.keys.PutUserKeys(ctx, uk); err != nil {
		cr.Zero32(&newKey)
		return err
	}
	newHash, err := auth.HashPassword(s.cfg.Argon, newPassword)
	if err != nil {
		cr.Zero32(&newKey)
		return err
	}
	if err := s.settings.PutSetting(ctx, userID, settingAuthHash, newHash); err != nil {
		cr.Zero32(&newKey)
		return err
	}
	for _, dk := range dks {
		dek := plain[dk.EntityType+":"+dk.EntityID]
		wrap, err := keys.Wrap(*dek, newKey, ledger.EntityType(dk.EntityType), dk.EntityID)
		if err != nil {
			cr.Zero32(&newKey)
			return err
		}
		dk.DEKWrap = wrap
		if err := s.keys.PutDataKey(ctx, &dk); err != nil {
			cr.Zero32(&newKey)
			return err
		}
	}
	s.sessions.Set(userID, newKey, priv)
	cr.Zero32(&newKey)

	s.audit.Append(userID, "encryption.rotate", fmt.Sprintf("%d keys", len(dks)))
	s.log.WithField("user", userID).WithField("keys", len(dks)).Info("password changed, keys re-wrapped")
	return nil
}

// Disable decrypts every owned entity back to plaintext and deletes all key
// material: DEKs, shares involving the user in either role, UserKeys,
// sharing defaults and the auth hash. Irreversible. Runs the same two-phase
// verification as ChangePassword before touching anything.
func (s *Service) Disable(ctx context.Context, userID, password string) error {
	if err := s.verifyPassword(ctx, userID, password); err != nil {
		return err
	}
	uk, err := s.keys.GetUserKeys(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotEnabled
	}
	if err != nil {
		return err
	}
	derived := cr.DeriveKey([]byte(password), uk.KDFSalt, s.cfg.KDF)
	defer cr.Zero32(&derived)
	if _, err := keys.OpenPrivateKey(uk.PrivateKeyWrap, derived, userID); err != nil {
		return ErrWrongPassword
	}

	dks, err := s.keys.ListDataKeysByOwner(ctx, userID)
	if err != nil {
		return err
	}

	// phase 1: every DEK must unwrap before any plaintext is written
	plain := make(map[string]*[cr.KeySize]byte, len(dks))
	defer func() {
		for k, dek := range plain {
			cr.Zero32(dek)
			delete(plain, k)
		}
	}()
	for _, dk := range dks {
		dek, err := keys.Unwrap(dk.DEKWrap, derived, ledger.EntityType(dk.EntityType), dk.EntityID)
		if err != nil {
			return fmt.Errorf("%w: %s %s", ErrRekeyAborted, dk.EntityType, dk.EntityID)
		}
		dekCopy := dek
		plain[dk.EntityType+":"+dk.EntityID] = &dekCopy
	}

	// phase 2: restore plaintext
	recs, err := s.entities.ListByOwner(ctx, userID)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if !rec.IsEncrypted {
			continue
		}
		dek, ok := plain[string(rec.Type)+":"+rec.ID]
		if !ok {
			return fmt.Errorf("%w: %s %s flagged encrypted but has no key", ErrRekeyAborted, rec.Type, rec.ID)
		}
		pt, err := ledger.DecryptFields(rec, *dek)
		if err != nil {
			return err
		}
		pt.IsEncrypted = false
		if err := s.entities.PutRecord(ctx, pt); err != nil {
			return err
		}
		if rec.Type == ledger.EntityAccount {
			if err := s.decryptChildTransactions(ctx, rec.ID, *dek); err != nil {
				return err
			}
		}
	}

	for _, dk := range dks {
		if err := s.keys.DeleteDataKey(ctx, ledger.EntityType(dk.EntityType), dk.EntityID); err != nil {
			return err
		}
	}
	if err := s.shares.DeleteSharesInvolving(ctx, userID); err != nil {
		return err
	}
	if err := s.shares.DeleteDefaultsInvolving(ctx, userID); err != nil {
		return err
	}
	if err := s.keys.DeleteUserKeys(ctx, userID); err != nil {
		return err
	}
	if err := s.settings.DeleteSetting(ctx, userID, settingAuthHash); err != nil {
		return err
	}
	s.sessions.Clear(userID)

	s.audit.Append(userID, "encryption.disable", "")
	s.log.WithField("user", userID).Info("encryption disabled, plaintext restored")
	return nil
}

func (s *Service) decryptChildTransactions(ctx context.Context, accountID string, dek [cr.KeySize]byte) error {
	txns, err := s.entities.ListTransactions(ctx, accountID)
	if err != nil {
		return err
	}
	for _, txn := range txns {
		if !txn.IsEncrypted {
			continue
		}
		pt, err := ledger.DecryptFields(txn, dek)
		if err != nil {
			return err
		}
		pt.IsEncrypted = false
		if err := s.entities.PutRecord(ctx, pt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) verifyPassword(ctx context.Context, userID, password string) error {
	encoded, err := s.settings.GetSetting(ctx, userID, settingAuthHash)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotEnabled
	}
	if err != nil {
		return err
	}
	ok, err := auth.VerifyPassword(password, encoded)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWrongPassword
	}
	return nil
}
