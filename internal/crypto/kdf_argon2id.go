package crypto

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/crypto/argon2"
)

const (
	KeySize  = 32
	SaltSize = 32
)

type KDFParams struct {
	M uint32
	T uint32
	P uint8
}

// DefaultDesktopKDF is tuned for interactive unlock on a desktop machine.
func DefaultDesktopKDF() KDFParams {
	return KDFParams{M: 256 * 1024, T: 3, P: 4}
}

func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// DeriveKey computes the user's key-encrypting key from their password and
// persisted salt. Same (password, salt, params) always yields the same key.
func DeriveKey(password, salt []byte, p KDFParams) (key [KeySize]byte) {
	raw := argon2.IDKey(password, salt, p.T, p.M, p.P, KeySize)
	copy(key[:], raw)
	Zero(raw)
	return
}

func EncodeSalt(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeSalt(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
