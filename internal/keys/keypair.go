package keys

import (
	"crypto/ecdh"
	"errors"
	"fmt"

	cr "github.com/jchilcher/ledgr-desktop-sub004/internal/crypto"
)

// ErrAuthentication is the tag-mismatch failure from any unwrap or unseal.
// At unlock time it is the de facto wrong-password signal.
var ErrAuthentication = errors.New("keys: authentication failed")

// ErrNoSession marks operations that need an unlocked session when none
// exists. Callers treat it as expected, not exceptional.
var ErrNoSession = errors.New("keys: no active session")

func privKeyAAD(userID string) []byte { return []byte("privkey:" + userID) }

// GenerateKeypair creates the X25519 keypair used only for sharing.
func GenerateKeypair() (*ecdh.PrivateKey, error) {
	return cr.NewX25519()
}

// SealPrivateKey encrypts the private key under the owner's derived key,
// bound to their user id.
func SealPrivateKey(priv *ecdh.PrivateKey, derived [cr.KeySize]byte, userID string) ([]byte, error) {
	return cr.SealX(derived[:], priv.Bytes(), privKeyAAD(userID))
}

// OpenPrivateKey reverses SealPrivateKey. A wrong derived key surfaces as
// ErrAuthentication.
func OpenPrivateKey(wrap []byte, derived [cr.KeySize]byte, userID string) (*ecdh.PrivateKey, error) {
	pt, err := cr.OpenX(derived[:], wrap, privKeyAAD(userID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	defer cr.Zero(pt)
	priv, err := cr.ParsePrivateKey(pt)
	if err != nil {
		return nil, err
	}
	return priv, nil
}
