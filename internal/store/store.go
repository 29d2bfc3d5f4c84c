package store

import (
	"context"
	"errors"

	"github.com/jchilcher/ledgr-desktop-sub004/internal/ledger"
)

var ErrNotFound = errors.New("store: not found")

// KeyStore persists key material at rest: one UserKeys row per
// password-enabled user and one DataKey row per encrypted entity.
type KeyStore interface {
	GetUserKeys(ctx context.Context, userID string) (*UserKeys, error)
	PutUserKeys(ctx context.Context, uk *UserKeys) error
	DeleteUserKeys(ctx context.Context, userID string) error

	GetDataKey(ctx context.Context, t ledger.EntityType, entityID string) (*DataKey, error)
	PutDataKey(ctx context.Context, dk *DataKey) error
	DeleteDataKey(ctx context.Context, t ledger.EntityType, entityID string) error
	ListDataKeysByOwner(ctx context.Context, ownerID string) ([]DataKey, error)
}

// ShareStore persists DataShare rows and the standing SharingDefault rules.
type ShareStore interface {
	GetShare(ctx context.Context, id string) (*DataShare, error)
	FindShare(ctx context.Context, t ledger.EntityType, entityID, recipientID string) (*DataShare, error)
	ListSharesForEntity(ctx context.Context, t ledger.EntityType, entityID string) ([]DataShare, error)
	PutShare(ctx context.Context, s *DataShare) error
	DeleteShare(ctx context.Context, id string) error
	DeleteSharesForEntity(ctx context.Context, t ledger.EntityType, entityID string) error
	DeleteSharesInvolving(ctx context.Context, userID string) error

	PutDefault(ctx context.Context, d *SharingDefault) error
	DeleteDefault(ctx context.Context, ownerID, recipientID string, t ledger.EntityType) error
	ListDefaults(ctx context.Context, ownerID string) ([]SharingDefault, error)
	DeleteDefaultsInvolving(ctx context.Context, userID string) error
}

// SettingsStore is the generic key/value area; the auth hash lives here
// under the key "auth.hash".
type SettingsStore interface {
	GetSetting(ctx context.Context, userID, key string) (string, error)
	PutSetting(ctx context.Context, userID, key, value string) error
	DeleteSetting(ctx context.Context, userID, key string) error
}

// EntityStore is the record store collaborator: row-level get/set by id.
// ListByOwner returns every owned entity except transactions, which are
// reached through their parent account.
type EntityStore interface {
	GetRecord(ctx context.Context, t ledger.EntityType, id string) (*ledger.Record, error)
	PutRecord(ctx context.Context, r *ledger.Record) error
	DeleteRecord(ctx context.Context, t ledger.EntityType, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*ledger.Record, error)
	ListTransactions(ctx context.Context, accountID string) ([]*ledger.Record, error)
}
