package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jchilcher/ledgr-desktop-sub004/internal/ledger"
)

// SQLite is the on-disk implementation of every store interface, backed by
// the app's local database file.
type SQLite struct {
	db *gorm.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(
		&UserKeys{}, &DataKey{}, &DataShare{}, &SharingDefault{},
		&Setting{}, &EntityRow{},
	); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

// ---------- KeyStore ----------

func (s *SQLite) GetUserKeys(ctx context.Context, userID string) (*UserKeys, error) {
	var uk UserKeys
	err := s.db.WithContext(ctx).First(&uk, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &uk, err
}

func (s *SQLite) PutUserKeys(ctx context.Context, uk *UserKeys) error {
	return s.db.WithContext(ctx).Save(uk).Error
}

func (s *SQLite) DeleteUserKeys(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Delete(&UserKeys{}, "user_id = ?", userID).Error
}

func (s *SQLite) GetDataKey(ctx context.Context, t ledger.EntityType, entityID string) (*DataKey, error) {
	var dk DataKey
	err := s.db.WithContext(ctx).
		First(&dk, "entity_type = ? AND entity_id = ?", string(t), entityID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &dk, err
}

func (s *SQLite) PutDataKey(ctx context.Context, dk *DataKey) error {
	return s.db.WithContext(ctx).Save(dk).Error
}

func (s *SQLite) DeleteDataKey(ctx context.Context, t ledger.EntityType, entityID string) error {
	return s.db.WithContext(ctx).
		Delete(&DataKey{}, "entity_type = ? AND entity_id = ?", string(t), entityID).Error
}

func (s *SQLite) ListDataKeysByOwner(ctx context.Context, ownerID string) ([]DataKey, error) {
	var out []DataKey
	err := s.db.WithContext(ctx).Find(&out, "owner_id = ?", ownerID).Error
	return out, err
}

// ---------- ShareStore ----------

func (s *SQLite) GetShare(ctx context.Context, id string) (*DataShare, error) {
	var sh DataShare
	err := s.db.WithContext(ctx).First(&sh, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &sh, err
}

func (s *SQLite) FindShare(ctx context.Context, t ledger.EntityType, entityID, recipientID string) (*DataShare, error) {
	var sh DataShare
	err := s.db.WithContext(ctx).
		First(&sh, "entity_type = ? AND entity_id = ? AND recipient_id = ?",
			string(t), entityID, recipientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &sh, err
}

func (s *SQLite) ListSharesForEntity(ctx context.Context, t ledger.EntityType, entityID string) ([]DataShare, error) {
	var out []DataShare
	err := s.db.WithContext(ctx).
		Find(&out, "entity_type = ? AND entity_id = ?", string(t), entityID).Error
	return out, err
}

func (s *SQLite) PutShare(ctx context.Context, sh *DataShare) error {
	return s.db.WithContext(ctx).Save(sh).Error
}

func (s *SQLite) DeleteShare(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&DataShare{}, "id = ?", id).Error
}

func (s *SQLite) DeleteSharesForEntity(ctx context.Context, t ledger.EntityType, entityID string) error {
	return s.db.WithContext(ctx).
		Delete(&DataShare{}, "entity_type = ? AND entity_id = ?", string(t), entityID).Error
}

func (s *SQLite) DeleteSharesInvolving(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).
		Delete(&DataShare{}, "owner_id = ? OR recipient_id = ?", userID, userID).Error
}

func (s *SQLite) PutDefault(ctx context.Context, d *SharingDefault) error {
	return s.db.WithContext(ctx).Save(d).Error
}

func (s *SQLite) DeleteDefault(ctx context.Context, ownerID, recipientID string, t ledger.EntityType) error {
	return s.db.WithContext(ctx).
		Delete(&SharingDefault{}, "owner_id = ? AND recipient_id = ? AND entity_type = ?",
			ownerID, recipientID, string(t)).Error
}

func (s *SQLite) ListDefaults(ctx context.Context, ownerID string) ([]SharingDefault, error) {
	var out []SharingDefault
	err := s.db.WithContext(ctx).Find(&out, "owner_id = ?", ownerID).Error
	return out, err
}

func (s *SQLite) DeleteDefaultsInvolving(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).
		Delete(&SharingDefault{}, "owner_id = ? OR recipient_id = ?", userID, userID).Error
}

// ---------- SettingsStore ----------

func (s *SQLite) GetSetting(ctx context.Context, userID, key string) (string, error) {
	var st Setting
	err := s.db.WithContext(ctx).First(&st, "user_id = ? AND key = ?", userID, key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	return st.Value, err
}

func (s *SQLite) PutSetting(ctx context.Context, userID, key, value string) error {
	return s.db.WithContext(ctx).Save(&Setting{UserID: userID, Key: key, Value: value}).Error
}

func (s *SQLite) DeleteSetting(ctx context.Context, userID, key string) error {
	return s.db.WithContext(ctx).Delete(&Setting{}, "user_id = ? AND key = ?", userID, key).Error
}

// ---------- EntityStore ----------

func (s *SQLite) GetRecord(ctx context.Context, t ledger.EntityType, id string) (*ledger.Record, error) {
	var row EntityRow
	err := s.db.WithContext(ctx).First(&row, "id = ? AND type = ?", id, string(t)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToRecord(&row)
}

func (s *SQLite) PutRecord(ctx context.Context, r *ledger.Record) error {
	row, err := recordToRow(r)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(row).Error
}

func (s *SQLite) DeleteRecord(ctx context.Context, t ledger.EntityType, id string) error {
	return s.db.WithContext(ctx).Delete(&EntityRow{}, "id = ? AND type = ?", id, string(t)).Error
}

func (s *SQLite) ListByOwner(ctx context.Context, ownerID string) ([]*ledger.Record, error) {
	var rows []EntityRow
	err := s.db.WithContext(ctx).
		Find(&rows, "owner_id = ? AND type <> ?", ownerID, string(ledger.EntityTransaction)).Error
	if err != nil {
		return nil, err
	}
	return rowsToRecords(rows)
}

func (s *SQLite) ListTransactions(ctx context.Context, accountID string) ([]*ledger.Record, error) {
	var rows []EntityRow
	err := s.db.WithContext(ctx).
		Find(&rows, "account_id = ? AND type = ?", accountID, string(ledger.EntityTransaction)).Error
	if err != nil {
		return nil, err
	}
	return rowsToRecords(rows)
}

func rowToRecord(row *EntityRow) (*ledger.Record, error) {
	fields := map[string]string{}
	if row.Fields != "" {
		if err := json.Unmarshal([]byte(row.Fields), &fields); err != nil {
			return nil, fmt.Errorf("store: entity %s fields: %w", row.ID, err)
		}
	}
	return &ledger.Record{
		ID:          row.ID,
		Type:        ledger.EntityType(row.Type),
		OwnerID:     row.OwnerID,
		AccountID:   row.AccountID,
		IsEncrypted: row.Encrypted,
		Fields:      fields,
	}, nil
}

func recordToRow(r *ledger.Record) (*EntityRow, error) {
	if !ledger.ValidType(r.Type) {
		return nil, fmt.Errorf("store: invalid entity type %q", r.Type)
	}
	b, err := json.Marshal(r.Fields)
	if err != nil {
		return nil, err
	}
	return &EntityRow{
		ID:        r.ID,
		Type:      string(r.Type),
		OwnerID:   r.OwnerID,
		AccountID: r.AccountID,
		Encrypted: r.IsEncrypted,
		Fields:    string(b),
	}, nil
}

func rowsToRecords(rows []EntityRow) ([]*ledger.Record, error) {
	out := make([]*ledger.Record, 0, len(rows))
	for i := range rows {
		r, err := rowToRecord(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
