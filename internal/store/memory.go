package store

import (
	"context"
	"sync"

	"github.com/jchilcher/ledgr-desktop-sub004/internal/ledger"
)

// Memory implements every store interface in process memory. Tests use it;
// the UI layer's preview mode does too, so nothing touches disk there.
type Memory struct {
	mu       sync.Mutex
	userKeys map[string]UserKeys
	dataKeys map[string]DataKey        // entityType:entityID
	shares   map[string]DataShare
	defaults map[string]SharingDefault // ownerID:recipientID:entityType
	settings map[string]string         // userID:key
	entities map[string]EntityRow      // type:id
}

func NewMemory() *Memory {
	return &Memory{
		userKeys: map[string]UserKeys{},
		dataKeys: map[string]DataKey{},
		shares:   map[string]DataShare{},
		defaults: map[string]SharingDefault{},
		settings: map[string]string{},
		entities: map[string]EntityRow{},
	}
}

func dkKey(t, id string) string          { return t + ":" + id }
func defKey(o, r, t string) string       { return o + ":" + r + ":" + t }
func settingKey(userID, k string) string { return userID + ":" + k }

// ---------- KeyStore ----------

func (m *Memory) GetUserKeys(_ context.Context, userID string) (*UserKeys, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uk, ok := m.userKeys[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &uk, nil
}

func (m *Memory) PutUserKeys(_ context.Context, uk *UserKeys) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userKeys[uk.UserID] = *uk
	return nil
}

func (m *Memory) DeleteUserKeys(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.userKeys, userID)
	return nil
}

func (m *Memory) GetDataKey(_ context.Context, t ledger.EntityType, entityID string) (*DataKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dk, ok := m.dataKeys[dkKey(string(t), entityID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &dk, nil
}

func (m *Memory) PutDataKey(_ context.Context, dk *DataKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataKeys[dkKey(dk.EntityType, dk.EntityID)] = *dk
	return nil
}

func (m *Memory) DeleteDataKey(_ context.Context, t ledger.EntityType, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dataKeys, dkKey(string(t), entityID))
	return nil
}

func (m *Memory) ListDataKeysByOwner(_ context.Context, ownerID string) ([]DataKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DataKey
	for _, dk := range m.dataKeys {
		if dk.OwnerID == ownerID {
			out = append(out, dk)
		}
	}
	return out, nil
}

// ---------- ShareStore ----------

func (m *Memory) GetShare(_ context.Context, id string) (*DataShare, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shares[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &sh, nil
}

func (m *Memory) FindShare(_ context.Context, t ledger.EntityType, entityID, recipientID string) (*DataShare, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sh := range m.shares {
		if sh.EntityType == string(t) && sh.EntityID == entityID && sh.RecipientID == recipientID {
			out := sh
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListSharesForEntity(_ context.Context, t ledger.EntityType, entityID string) ([]DataShare, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DataShare
	for _, sh := range m.shares {
		if sh.EntityType == string(t) && sh.EntityID == entityID {
			out = append(out, sh)
		}
	}
	return out, nil
}

func (m *Memory) PutShare(_ context.Context, sh *DataShare) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shares[sh.ID] = *sh
	return nil
}

func (m *Memory) DeleteShare(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.shares, id)
	return nil
}

func (m *Memory) DeleteSharesForEntity(_ context.Context, t ledger.EntityType, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sh := range m.shares {
		if sh.EntityType == string(t) && sh.EntityID == entityID {
			delete(m.shares, id)
		}
	}
	return nil
}

func (m *Memory) DeleteSharesInvolving(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sh := range m.shares {
		if sh.OwnerID == userID || sh.RecipientID == userID {
			delete(m.shares, id)
		}
	}
	return nil
}

func (m *Memory) PutDefault(_ context.Context, d *SharingDefault) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults[defKey(d.OwnerID, d.RecipientID, d.EntityType)] = *d
	return nil
}

func (m *Memory) DeleteDefault(_ context.Context, ownerID, recipientID string, t ledger.EntityType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.defaults, defKey(ownerID, recipientID, string(t)))
	return nil
}

func (m *Memory) ListDefaults(_ context.Context, ownerID string) ([]SharingDefault, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SharingDefault
	for _, d := range m.defaults {
		if d.OwnerID == ownerID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Memory) DeleteDefaultsInvolving(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, d := range m.defaults {
		if d.OwnerID == userID || d.RecipientID == userID {
			delete(m.defaults, k)
		}
	}
	return nil
}

// ---------- SettingsStore ----------

func (m *Memory) GetSetting(_ context.Context, userID, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.settings[settingKey(userID, key)]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) PutSetting(_ context.Context, userID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[settingKey(userID, key)] = value
	return nil
}

func (m *Memory) DeleteSetting(_ context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.settings, settingKey(userID, key))
	return nil
}

// ---------- EntityStore ----------

func (m *Memory) GetRecord(_ context.Context, t ledger.EntityType, id string) (*ledger.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.entities[dkKey(string(t), id)]
	if !ok {
		return nil, ErrNotFound
	}
	return rowToRecord(&row)
}

func (m *Memory) PutRecord(_ context.Context, r *ledger.Record) error {
	row, err := recordToRow(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[dkKey(row.Type, row.ID)] = *row
	return nil
}

func (m *Memory) DeleteRecord(_ context.Context, t ledger.EntityType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entities, dkKey(string(t), id))
	return nil
}

func (m *Memory) ListByOwner(_ context.Context, ownerID string) ([]*ledger.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.Record
	for _, row := range m.entities {
		if row.OwnerID != ownerID || row.Type == string(ledger.EntityTransaction) {
			continue
		}
		r, err := rowToRecord(&row)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) ListTransactions(_ context.Context, accountID string) ([]*ledger.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.Record
	for _, row := range m.entities {
		if row.AccountID != accountID || row.Type != string(ledger.EntityTransaction) {
			continue
		}
		r, err := rowToRecord(&row)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
