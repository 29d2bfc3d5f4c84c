package store

import "time"

// UserKeys holds a user's sharing keypair. The private key is sealed under
// the key derived from their password and KDFSalt; it exists in plaintext
// only inside an unlocked session.
type UserKeys struct {
	UserID         string `gorm:"primaryKey;type:text"`
	PublicKey      []byte `gorm:"not null"`
	PrivateKeyWrap []byte `gorm:"not null"` // nonce||ciphertext||tag
	KDFSalt        []byte `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DataKey is one entity's wrapped DEK. Exists iff the entity is flagged
// encrypted. Wrapped under exactly the owner's derived key; recipients get
// copies via DataShare, never by re-wrapping this row.
type DataKey struct {
	EntityType string `gorm:"primaryKey;type:text"`
	EntityID   string `gorm:"primaryKey;type:text"`
	OwnerID    string `gorm:"index;not null"`
	DEKWrap    []byte `gorm:"not null"` // nonce||ciphertext||tag
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Permissions struct {
	CanView    bool `gorm:"column:can_view"`
	CanCombine bool `gorm:"column:can_combine"` // combine into household totals
	CanReport  bool `gorm:"column:can_report"`  // include in reports
}

// DataShare re-wraps an entity's DEK for one recipient's public key.
type DataShare struct {
	ID           string `gorm:"primaryKey;type:text"`
	EntityType   string `gorm:"index:idx_share_entity"`
	EntityID     string `gorm:"index:idx_share_entity"`
	OwnerID      string `gorm:"index"`
	RecipientID  string `gorm:"index"`
	EphemeralPub []byte `gorm:"not null"`
	DEKWrap      []byte `gorm:"not null"`
	Permissions  `gorm:"embedded;embeddedPrefix:perm_"`
	CreatedAt    time.Time
}

// SharingDefault is a standing rule: every new entity of EntityType the
// owner encrypts gets a DataShare to RecipientID with these permissions.
type SharingDefault struct {
	OwnerID     string `gorm:"primaryKey;type:text"`
	RecipientID string `gorm:"primaryKey;type:text"`
	EntityType  string `gorm:"primaryKey;type:text"`
	Permissions `gorm:"embedded;embeddedPrefix:perm_"`
	CreatedAt   time.Time
}

// Setting is one entry in the per-user key/value settings area.
type Setting struct {
	UserID    string `gorm:"primaryKey;type:text"`
	Key       string `gorm:"primaryKey;type:text"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

// EntityRow is the storage shape of a ledger.Record. Queryable columns stay
// typed; the user-entered value fields are a JSON object in Fields, with
// sensitive members holding base64 ciphertext when Encrypted is set.
type EntityRow struct {
	ID        string `gorm:"primaryKey;type:text"`
	Type      string `gorm:"index;not null"`
	OwnerID   string `gorm:"index"`
	AccountID string `gorm:"index"` // parent account for transactions
	Encrypted bool
	Fields    string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
