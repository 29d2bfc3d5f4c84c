package crypto

import (
	"bytes"
	"testing"
)

func TestSealForPeerRoundTrip(t *testing.T) {
	recipient, err := NewX25519()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	pt := randBytes(t, KeySize)
	aad := []byte("share:account:42")

	ephPub, ct, err := SealForPeer(recipient.PublicKey(), pt, aad)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	got, err := OpenFromPeer(recipient, ephPub, ct, aad)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(pt, got) {
		t.Fatal("round trip mismatch")
	}
}

func TestOpenFromPeerRejectsWrongRecipient(t *testing.T) {
	recipient, err := NewX25519()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	other, err := NewX25519()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	ephPub, ct, err := SealForPeer(recipient.PublicKey(), []byte("dek"), nil)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := OpenFromPeer(other, ephPub, ct, nil); err == nil {
		t.Fatal("expected failure with wrong private key")
	}
}

func TestSealForPeerFreshEphemeral(t *testing.T) {
	recipient, err := NewX25519()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	e1, _, err := SealForPeer(recipient.PublicKey(), []byte("dek"), nil)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	e2, _, err := SealForPeer(recipient.PublicKey(), []byte("dek"), nil)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Equal(e1, e2) {
		t.Fatal("ephemeral key reused across seals")
	}
}
