// Package transport defines the narrow interface the pairing state
// machine consumes from the BLE link, and the callback interface the
// transport uses to deliver inbound events back into the state machine.
package transport

import "github.com/digital-dream-labs/victor-switchboard/ble/keys"

// Transport is everything the pairing state machine needs from the BLE
// link: two send paths and three session-material setters. Implementations
// never block the caller past a single GATT write; long-running I/O is
// the implementation's concern, not the state machine's.
type Transport interface {
	// SendPlaintext sends buf on the cleartext characteristic.
	SendPlaintext(buf []byte) error
	// SendEncrypted sends buf on the encrypted characteristic. Callers
	// must not invoke this before SetEncryptedChannelEstablished(true).
	SendEncrypted(buf []byte) error

	// SetCryptoKeys installs the session's symmetric keys. Must be called
	// before the first SendEncrypted or decrypt of an inbound frame.
	SetCryptoKeys(tx, rx keys.SymmetricKey)
	// SetNonce seeds both directions' nonces from the single transmitted
	// random value.
	SetNonce(n [24]byte)
	// SetEncryptedChannelEstablished flips the gate that permits
	// SendEncrypted.
	SetEncryptedChannelEstablished(established bool)

	// Subscribe registers the sole receiver of inbound events for this
	// connection, replacing any earlier one. pairing.Shim calls it at
	// construction and again when it hands the connection to the selected
	// version handler: transport holds the receiver by a narrow interface,
	// not the reverse.
	Subscribe(r Receiver)

	// Close shuts the transport down. memtransport.Endpoint marks itself
	// closed and reports a disconnect to its peer; btperipheral.Adapter
	// only stops advertising and leaves a connected central in place.
	Close() error
}

// Receiver is the callback surface a Transport drives. A Transport
// implementation must deliver events for one connection strictly in
// arrival order.
type Receiver interface {
	ReceivedPlaintext(buf []byte)
	ReceivedEncrypted(buf []byte)
	FailedDecryption()
	Disconnected()
}
