package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// X25519 keypairs are used only for sharing: wrapping a DEK so that exactly
// one recipient can recover it with their private key.

func NewX25519() (*ecdh.PrivateKey, error) {
	return ecdh.X25519().GenerateKey(rand.Reader)
}

func ParsePublicKey(b []byte) (*ecdh.PublicKey, error) {
	return ecdh.X25519().NewPublicKey(b)
}

func ParsePrivateKey(b []byte) (*ecdh.PrivateKey, error) {
	return ecdh.X25519().NewPrivateKey(b)
}

// SealForPeer wraps plaintext for the holder of recipient's private key.
// An ephemeral keypair is generated per seal; the shared secret from
// ECDH(ephemeral, recipient) is run through HKDF-SHA256 to produce the
// wrapping key. Returns the ephemeral public key bytes alongside the
// ciphertext; both must be stored.
func SealForPeer(recipient *ecdh.PublicKey, plaintext, aad []byte) (ephPub, ct []byte, err error) {
	eph, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	secret, err := eph.ECDH(recipient)
	if err != nil {
		return nil, nil, err
	}
	defer Zero(secret)

	key, err := shareWrapKey(secret)
	if err != nil {
		return nil, nil, err
	}
	defer Zero(key)

	ct, err = SealX(key, plaintext, aad)
	if err != nil {
		return nil, nil, err
	}
	return eph.PublicKey().Bytes(), ct, nil
}

// OpenFromPeer recovers plaintext sealed by SealForPeer using the
// recipient's private key and the stored ephemeral public key.
func OpenFromPeer(priv *ecdh.PrivateKey, ephPub, ct, aad []byte) ([]byte, error) {
	peer, err := ecdh.X25519().NewPublicKey(ephPub)
	if err != nil {
		return nil, err
	}
	secret, err := priv.ECDH(peer)
	if err != nil {
		return nil, err
	}
	defer Zero(secret)

	key, err := shareWrapKey(secret)
	if err != nil {
		return nil, err
	}
	defer Zero(key)

	return OpenX(key, ct, aad)
}

func shareWrapKey(secret []byte) ([]byte, error) {
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, secret, nil, []byte("share-wrap"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
