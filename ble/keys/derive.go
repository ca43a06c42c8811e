package keys

import (
	"golang.org/x/crypto/blake2b"
)

// SymmetricKey is a 32-byte XChaCha20-Poly1305 session key.
type SymmetricKey [32]byte

func (k SymmetricKey) IsZero() bool {
	var zero SymmetricKey
	for i := range k {
		if k[i] != zero[i] {
			return false
		}
	}
	return true
}

// Zeroize overwrites the key with zero bytes. Session keys live only in
// memory and are cleared to zero on session teardown.
func (k *SymmetricKey) Zeroize() {
	for i := range k {
		k[i] = 0
	}
}

// sessionHalves derives two independent 32-byte values from one raw ECDH
// output, mirroring crypto_kx_server_session_keys/crypto_kx_client_session_keys:
// both peers hash the same (shared, clientPub, serverPub) tuple, so both
// land on the same two 32-byte halves. "toRobot" is the half carrying
// messages from the client to the robot; "toClient" carries the reverse
// direction. Keeping both public keys in the hash input (rather than a
// direction label alone) binds the derived halves to this specific pairing,
// not just to the raw ECDH output.
func sessionHalves(shared [32]byte, clientPub, serverPub PublicKey) (toRobot, toClient [32]byte) {
	h, _ := blake2b.New(64, nil)
	h.Write(shared[:])
	h.Write(clientPub[:])
	h.Write(serverPub[:])
	sum := h.Sum(nil)
	copy(toRobot[:], sum[:32])
	copy(toClient[:], sum[32:])
	return toRobot, toClient
}

func temperWithPIN(raw [32]byte, pin string) (SymmetricKey, error) {
	h, err := blake2b.New256([]byte(pin))
	if err != nil {
		return SymmetricKey{}, err
	}
	h.Write(raw[:])
	var out SymmetricKey
	copy(out[:], h.Sum(nil))
	return out, nil
}

// DeriveFirstTimeKeys performs the first-time-pair derivation for the
// robot (server) side of the exchange: compute a raw ECDH shared secret
// with the identity key and the client's public key, split it into a
// provisional (rx, tx) pair analogous to libsodium's
// crypto_kx_server_session_keys, then temper the transmit half with a
// keyed BLAKE2b-256 hash of the transmit half keyed by the ASCII PIN
// digits. The receive half is used verbatim. Only a party that also
// knows the PIN can derive a tx key that decrypts on the other end —
// possession of the PIN is required to derive a session key that can
// decrypt messages from the robot.
func DeriveFirstTimeKeys(serverPriv PrivateKey, serverPub, clientPub PublicKey, pin string) (rx, tx SymmetricKey, err error) {
	shared, err := serverPriv.SharedSecret(clientPub)
	if err != nil {
		return SymmetricKey{}, SymmetricKey{}, err
	}
	toRobot, toClient := sessionHalves(shared, clientPub, serverPub)

	rx = SymmetricKey(toRobot)
	tx, err = temperWithPIN(toClient, pin)
	if err != nil {
		return SymmetricKey{}, SymmetricKey{}, err
	}
	return rx, tx, nil
}

// DeriveFirstTimeKeysAsClient implements the mirrored half of
// DeriveFirstTimeKeys for the peer side of the exchange: the client,
// which knows the PIN, applies the mirrored derivation so its rx key
// equals the server's tx key. A reference client implementation calls
// this with its own private key, the robot's public key, its own public
// key, and the PIN shown out-of-band.
func DeriveFirstTimeKeysAsClient(clientPriv PrivateKey, serverPub, clientPub PublicKey, pin string) (rx, tx SymmetricKey, err error) {
	shared, err := clientPriv.SharedSecret(serverPub)
	if err != nil {
		return SymmetricKey{}, SymmetricKey{}, err
	}
	toRobot, toClient := sessionHalves(shared, clientPub, serverPub)

	tx = SymmetricKey(toRobot)
	rx, err = temperWithPIN(toClient, pin)
	if err != nil {
		return SymmetricKey{}, SymmetricKey{}, err
	}
	return rx, tx, nil
}

// DeriveReconnectKeys is the trivial identity: a reconnecting client skips
// PIN derivation entirely and the robot reuses the session keys persisted
// at the end of the original first-time pair.
func DeriveReconnectKeys(storedRx, storedTx SymmetricKey) (rx, tx SymmetricKey) {
	return storedRx, storedTx
}
