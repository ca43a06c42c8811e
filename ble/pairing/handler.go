// Package pairing implements the version-negotiation shim and the
// upward/downward contracts shared by the versioned pairing handlers.
package pairing

import "errors"

// ErrVersionMismatch names the unsupported-handshake-version condition.
// Shim does not return it: on an unsupported version it sends
// RtsCancelPairing and reports EventSink.StopPairing.
var ErrVersionMismatch = errors.New("pairing: unsupported handshake version")

// Handler is a tagged-variant abstraction: one concrete implementation
// per supported protocol version, selected once by Shim and then driven
// directly, in place of a dynamic-dispatch base class. v3.Machine and
// v2.Stub both satisfy this interface.
type Handler interface {
	// HandlePlaintext processes one reassembled cleartext message.
	HandlePlaintext(buf []byte)
	// HandleEncrypted processes one reassembled ciphertext message.
	HandleEncrypted(buf []byte)
	// HandleFailedDecryption processes a transport-observed decryption
	// failure for this connection.
	HandleFailedDecryption()
	// HandleDisconnect processes a BLE-layer disconnect.
	HandleDisconnect()
	// Shutdown releases any timers or transport subscriptions the handler
	// holds. Called by Shim.StopPairing, which the owning daemon invokes
	// on shutdown.
	Shutdown()
}
