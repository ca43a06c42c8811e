// Package keys implements the robot's long-term X25519 identity keypair,
// PIN generation, and the PIN-tempered session-key derivation used during
// first-time pairing.
package keys

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
)

const KeySize = 32

// PublicKey is a curve25519 public key.
type PublicKey [KeySize]byte

// PrivateKey is a curve25519 private key (clamped per RFC 7748).
type PrivateKey [KeySize]byte

func (k PublicKey) Equal(o PublicKey) bool {
	return subtle.ConstantTimeCompare(k[:], o[:]) == 1
}

func (k PublicKey) IsZero() bool {
	var zero PublicKey
	return k.Equal(zero)
}

func (k PublicKey) HexString() string { return hex.EncodeToString(k[:]) }

func (k PrivateKey) IsZero() bool {
	var zero PrivateKey
	return subtle.ConstantTimeCompare(k[:], zero[:]) == 1
}

func (k *PrivateKey) clamp() {
	k[0] &= 248
	k[31] = (k[31] & 127) | 64
}

// GeneratePrivateKey draws a new curve25519 secret key from rand.
func GeneratePrivateKey(rand io.Reader) (pk PrivateKey, err error) {
	if _, err = io.ReadFull(rand, pk[:]); err != nil {
		return PrivateKey{}, err
	}
	pk.clamp()
	return pk, nil
}

// Public computes the public key matching this private key.
func (k PrivateKey) Public() (PublicKey, error) {
	var p [KeySize]byte
	out, err := curve25519.X25519(k[:], curve25519.Basepoint)
	if err != nil {
		return PublicKey{}, err
	}
	copy(p[:], out)
	return PublicKey(p), nil
}

// SharedSecret performs the X25519 Diffie-Hellman operation between this
// private key and a peer public key.
func (k PrivateKey) SharedSecret(pub PublicKey) ([KeySize]byte, error) {
	var ss [KeySize]byte
	out, err := curve25519.X25519(k[:], pub[:])
	if err != nil {
		return ss, err
	}
	copy(ss[:], out)
	return ss, nil
}

// Identity is the robot's long-term keypair.
type Identity struct {
	Public  PublicKey
	Private PrivateKey
}

// ErrInvalidIdentity is returned by Validate when the stored public key does
// not match the one derived from the stored private key.
var ErrInvalidIdentity = errors.New("keys: identity keypair does not validate")

// GenerateIdentity creates a fresh identity keypair.
func GenerateIdentity(rand io.Reader) (Identity, error) {
	priv, err := GeneratePrivateKey(rand)
	if err != nil {
		return Identity{}, err
	}
	pub, err := priv.Public()
	if err != nil {
		return Identity{}, err
	}
	return Identity{Public: pub, Private: priv}, nil
}

// Validate recomputes the public key from the private key and compares it
// against the stored public key.
func (id Identity) Validate() error {
	derived, err := id.Private.Public()
	if err != nil {
		return err
	}
	if !derived.Equal(id.Public) {
		return ErrInvalidIdentity
	}
	return nil
}
