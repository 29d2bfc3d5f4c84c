package ledger

// Record is the core's view of one row from the record store. Non-sensitive
// columns (ids, ownership, the encrypted flag) are typed; the value fields a
// user actually entered live in Fields, where sensitive ones hold either
// plaintext or base64 ciphertext depending on IsEncrypted.
type Record struct {
	ID          string
	Type        EntityType
	OwnerID     string
	AccountID   string // parent account, set on transactions only
	IsEncrypted bool
	Fields      map[string]string
}

func (r *Record) Clone() *Record {
	out := *r
	out.Fields = make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	return &out
}

// SecurityState is a tagged union over a record's ownership and encryption
// status. "Encrypted but no DEK" is unrepresentable: OwnedEncrypted can only
// be built with a DEK reference.
type SecurityState struct {
	kind   securityKind
	owner  string
	dekRef string
}

type securityKind int

const (
	kindUnowned securityKind = iota
	kindOwnedPlaintext
	kindOwnedEncrypted
)

func Unowned() SecurityState { return SecurityState{kind: kindUnowned} }

func OwnedPlaintext(ownerID string) SecurityState {
	return SecurityState{kind: kindOwnedPlaintext, owner: ownerID}
}

func OwnedEncrypted(ownerID, dekRef string) SecurityState {
	return SecurityState{kind: kindOwnedEncrypted, owner: ownerID, dekRef: dekRef}
}

func (s SecurityState) IsEncrypted() bool { return s.kind == kindOwnedEncrypted }
func (s SecurityState) IsOwned() bool     { return s.kind != kindUnowned }

// Owner returns the owning user id and whether one exists.
func (s SecurityState) Owner() (string, bool) {
	if s.kind == kindUnowned {
		return "", false
	}
	return s.owner, true
}

// DEKRef returns the (entityType, entityId) key of the wrapped DEK row, as
// "type:id", and whether the state carries one.
func (s SecurityState) DEKRef() (string, bool) {
	if s.kind != kindOwnedEncrypted {
		return "", false
	}
	return s.dekRef, true
}

// StateOf classifies a record given whether a DEK row exists for it.
// A record flagged encrypted without a DEK row is corrupt; callers get
// OwnedPlaintext back and must treat the ciphertext as unreadable.
func StateOf(r *Record, hasDEK bool) SecurityState {
	if r.OwnerID == "" {
		return Unowned()
	}
	if r.IsEncrypted && hasDEK {
		ref := r.ID
		if r.Type == EntityTransaction {
			ref = r.AccountID
		}
		return OwnedEncrypted(r.OwnerID, string(keyRefType(r.Type))+":"+ref)
	}
	return OwnedPlaintext(r.OwnerID)
}

// keyRefType maps a record type to the type its DEK row is filed under.
// Transactions ride on their parent account's key.
func keyRefType(t EntityType) EntityType {
	if t == EntityTransaction {
		return EntityAccount
	}
	return t
}
