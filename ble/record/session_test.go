package record

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/digital-dream-labs/victor-switchboard/ble/keys"
)

func newPairedSessions(t *testing.T) (a, b *Session) {
	t.Helper()
	var k1, k2 keys.SymmetricKey
	if _, err := rand.Read(k1[:]); err != nil {
		t.Fatal(err)
	}
	if _, err := rand.Read(k2[:]); err != nil {
		t.Fatal(err)
	}
	var n Nonce
	if _, err := rand.Read(n[:]); err != nil {
		t.Fatal(err)
	}

	a = &Session{}
	a.SetKeys(k1, k2) // a.rx = k1, a.tx = k2
	a.SetNonce(n)
	a.SetEncryptedChannelEstablished(true)

	b = &Session{}
	b.SetKeys(k2, k1) // b.rx = k2 (matches a.tx), b.tx = k1 (matches a.rx)
	b.SetNonce(n)
	b.SetEncryptedChannelEstablished(true)

	return a, b
}

func TestSealOpenRoundTrip(t *testing.T) {
	a, b := newPairedSessions(t)

	msg := []byte("hello from the robot")
	ciphertext, err := a.Seal(msg)
	if err != nil {
		t.Fatal(err)
	}
	plaintext, err := b.Open(ciphertext)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plaintext, msg) {
		t.Fatalf("got %q, want %q", plaintext, msg)
	}
}

func TestSealWithoutEncryptedChannelFails(t *testing.T) {
	s := &Session{}
	_, err := s.Seal([]byte("x"))
	if err != ErrChannelNotEstablished {
		t.Fatalf("got %v, want ErrChannelNotEstablished", err)
	}
}

func TestOpenCorruptedTagDoesNotAdvanceNonce(t *testing.T) {
	a, b := newPairedSessions(t)

	ciphertext, err := a.Seal([]byte("message one"))
	if err != nil {
		t.Fatal(err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xFF // corrupt the Poly1305 tag

	before := b.rxNonce
	_, err = b.Open(ciphertext)
	if err != ErrDecryptionFailed {
		t.Fatalf("got %v, want ErrDecryptionFailed", err)
	}
	if b.rxNonce != before {
		t.Fatal("rx nonce must not advance on decryption failure")
	}
}

func TestNonceAdvancesOnSuccessfulSealAndOpen(t *testing.T) {
	a, b := newPairedSessions(t)

	txBefore := a.txNonce
	ciphertext, err := a.Seal([]byte("ping"))
	if err != nil {
		t.Fatal(err)
	}
	if a.txNonce == txBefore {
		t.Fatal("tx nonce did not advance after successful seal")
	}

	rxBefore := b.rxNonce
	if _, err := b.Open(ciphertext); err != nil {
		t.Fatal(err)
	}
	if b.rxNonce == rxBefore {
		t.Fatal("rx nonce did not advance after successful open")
	}
}

func TestZeroizeClearsAllMaterial(t *testing.T) {
	a, _ := newPairedSessions(t)
	a.Zeroize()
	if !a.txKey.IsZero() || !a.rxKey.IsZero() {
		t.Fatal("keys not cleared")
	}
	if !a.txNonce.IsZero() || !a.rxNonce.IsZero() {
		t.Fatal("nonces not cleared")
	}
	if a.EncryptedChannelEstablished() {
		t.Fatal("encrypted channel flag not cleared")
	}
}
