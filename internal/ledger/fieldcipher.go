package ledger

import (
	"encoding/base64"
	"fmt"
	"strconv"

	cr "github.com/jchilcher/ledgr-desktop-sub004/internal/crypto"
)

// Field values are encrypted independently so a single-field update does not
// re-encrypt the whole record. Each ciphertext binds the record's type, id
// and field name as AAD, so values cannot be swapped between fields or rows.

func fieldAAD(r *Record, field string) []byte {
	return []byte(fmt.Sprintf("field:%s:%s:%s", r.Type, r.ID, field))
}

// EncryptFields returns a copy of r with every sensitive field sealed under
// dek and IsEncrypted set. Fields absent from the record are skipped;
// non-sensitive fields pass through unchanged.
func EncryptFields(r *Record, dek [cr.KeySize]byte) (*Record, error) {
	out := r.Clone()
	for _, f := range SensitiveFields(r.Type) {
		v, ok := out.Fields[f]
		if !ok {
			continue
		}
		ct, err := cr.SealX(dek[:], []byte(v), fieldAAD(out, f))
		if err != nil {
			return nil, err
		}
		out.Fields[f] = base64.StdEncoding.EncodeToString(ct)
	}
	out.IsEncrypted = true
	return out, nil
}

// DecryptFields is the inverse. A decrypted numeric field that does not
// parse as an integer comes back as "0"; the stored ciphertext is untouched,
// only the returned copy is coerced. An AEAD failure means the wrong key and
// is a real error.
func DecryptFields(r *Record, dek [cr.KeySize]byte) (*Record, error) {
	out := r.Clone()
	for _, f := range SensitiveFields(r.Type) {
		v, ok := out.Fields[f]
		if !ok {
			continue
		}
		ct, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("ledger: field %s of %s %s: %w", f, r.Type, r.ID, err)
		}
		pt, err := cr.OpenX(dek[:], ct, fieldAAD(out, f))
		if err != nil {
			return nil, fmt.Errorf("ledger: field %s of %s %s: %w", f, r.Type, r.ID, err)
		}
		val := string(pt)
		if IsNumericField(r.Type, f) {
			if _, perr := strconv.ParseInt(val, 10, 64); perr != nil {
				val = "0"
			}
		}
		out.Fields[f] = val
	}
	out.IsEncrypted = false
	return out, nil
}

// DEKResolver yields the key for one record, or nil when the caller has no
// usable key for it. Returning nil is the expected no-access outcome, not an
// error.
type DEKResolver func(r *Record) (*[cr.KeySize]byte, error)

// DecryptList decrypts what it can. Records with no resolvable DEK are
// returned unchanged, ciphertext and all, so the caller can render a locked
// placeholder instead of failing the whole read.
func DecryptList(records []*Record, resolve DEKResolver) []*Record {
	out := make([]*Record, 0, len(records))
	for _, r := range records {
		if !r.IsEncrypted {
			out = append(out, r.Clone())
			continue
		}
		dek, err := resolve(r)
		if err != nil || dek == nil {
			out = append(out, r.Clone())
			continue
		}
		pt, err := DecryptFields(r, *dek)
		if err != nil {
			out = append(out, r.Clone())
			continue
		}
		out = append(out, pt)
	}
	return out
}
