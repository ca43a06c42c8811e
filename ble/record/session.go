// Package record implements the symmetric authenticated-encryption record
// layer: XChaCha20-Poly1305 framing over strictly monotonic per-direction
// nonces, once the pairing state machine has negotiated session keys.
package record

import (
	"errors"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/digital-dream-labs/victor-switchboard/ble/keys"
)

// ErrChannelNotEstablished is returned by Seal before the state machine
// has flipped the encrypted-channel-established flag.
var ErrChannelNotEstablished = errors.New("record: encrypted channel not yet established")

// ErrDecryptionFailed is returned by Open on an AEAD authentication
// failure. The receive nonce is NOT incremented when this is returned,
// so the peer can retry with the same nonce.
var ErrDecryptionFailed = errors.New("record: decryption failed")

// Session holds one BLE connection's worth of record-layer state: the two
// session keys and the two nonce counters, plus the flag gating whether
// Seal is permitted. All fields are zero-valued (and therefore
// "no session") until the pairing state machine installs real key/nonce
// material.
type Session struct {
	txKey keys.SymmetricKey
	rxKey keys.SymmetricKey

	txNonce Nonce
	rxNonce Nonce

	encryptedChannelEstablished bool
}

// SetKeys installs the session's symmetric keys.
func (s *Session) SetKeys(rx, tx keys.SymmetricKey) {
	s.rxKey = rx
	s.txKey = tx
}

// SetNonce seeds both directions' nonce counters from one shared random
// value, copying it into both the tx and rx counters.
func (s *Session) SetNonce(n Nonce) {
	s.txNonce = n
	s.rxNonce = n
}

// SetEncryptedChannelEstablished flips the gate controlling Seal;
// owned by the pairing state machine, mirroring a matching
// transport-level flag.
func (s *Session) SetEncryptedChannelEstablished(v bool) {
	s.encryptedChannelEstablished = v
}

func (s *Session) EncryptedChannelEstablished() bool {
	return s.encryptedChannelEstablished
}

// Zeroize clears all key and nonce material on teardown.
func (s *Session) Zeroize() {
	s.txKey.Zeroize()
	s.rxKey.Zeroize()
	s.txNonce.Zeroize()
	s.rxNonce.Zeroize()
	s.encryptedChannelEstablished = false
}

// Seal encrypts plaintext with the current tx key and nonce, using an
// empty AAD, and increments the tx nonce on success. On failure the
// nonce is left untouched and the error is propagated; this cannot
// happen for well-formed inputs with a fixed-size key.
func (s *Session) Seal(plaintext []byte) ([]byte, error) {
	if !s.encryptedChannelEstablished {
		return nil, ErrChannelNotEstablished
	}
	aead, err := chacha20poly1305.NewX(s.txKey[:])
	if err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, s.txNonce[:], plaintext, nil)
	s.txNonce.Increment()
	return ciphertext, nil
}

// Open decrypts ciphertext with the current rx key and nonce. On success
// the rx nonce is incremented. On authentication failure ErrDecryptionFailed
// is returned and the nonce is left untouched.
func (s *Session) Open(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.rxKey[:])
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, s.rxNonce[:], ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	s.rxNonce.Increment()
	return plaintext, nil
}
