// Package memtransport is an in-memory transport.Transport used by pairing
// tests and by cmd/switchboardd's -dry-run mode, in place of a real BLE
// peripheral.
package memtransport

import (
	"errors"
	"sync"

	"github.com/digital-dream-labs/victor-switchboard/ble/keys"
	"github.com/digital-dream-labs/victor-switchboard/ble/transport"
)

// ErrClosed is returned by Send* calls after Close.
var ErrClosed = errors.New("memtransport: transport closed")

// Endpoint is one half of a loopback pair. Sends on one Endpoint are
// delivered synchronously to the peer Endpoint's Receiver, matching a
// single-executor model: there is no hop to another goroutine, so tests
// never need to sleep or poll.
type Endpoint struct {
	mu       sync.Mutex
	peer     *Endpoint
	receiver transport.Receiver
	closed   bool

	txKey, rxKey keys.SymmetricKey
	nonce        [24]byte
	encEstab     bool

	// SentPlaintext and SentEncrypted record every buffer this endpoint
	// has sent on each path, for test assertions.
	SentPlaintext [][]byte
	SentEncrypted [][]byte
}

// NewPair builds two connected endpoints, each the other's peer.
func NewPair() (a, b *Endpoint) {
	a = &Endpoint{}
	b = &Endpoint{}
	a.peer = b
	b.peer = a
	return a, b
}

func (e *Endpoint) Subscribe(r transport.Receiver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.receiver = r
}

func (e *Endpoint) SendPlaintext(buf []byte) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	cp := append([]byte(nil), buf...)
	e.SentPlaintext = append(e.SentPlaintext, cp)
	peer := e.peer
	e.mu.Unlock()

	peer.deliverPlaintext(cp)
	return nil
}

func (e *Endpoint) SendEncrypted(buf []byte) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if !e.encEstab {
		e.mu.Unlock()
		return errors.New("memtransport: send_encrypted before channel established")
	}
	cp := append([]byte(nil), buf...)
	e.SentEncrypted = append(e.SentEncrypted, cp)
	peer := e.peer
	e.mu.Unlock()

	peer.deliverEncrypted(cp)
	return nil
}

func (e *Endpoint) deliverPlaintext(buf []byte) {
	e.mu.Lock()
	r := e.receiver
	e.mu.Unlock()
	if r != nil {
		r.ReceivedPlaintext(buf)
	}
}

func (e *Endpoint) deliverEncrypted(buf []byte) {
	e.mu.Lock()
	r := e.receiver
	e.mu.Unlock()
	if r != nil {
		r.ReceivedEncrypted(buf)
	}
}

// InjectFailedDecryption lets a test simulate a transport-observed
// decryption failure without actually corrupting a ciphertext buffer.
func (e *Endpoint) InjectFailedDecryption() {
	e.mu.Lock()
	r := e.receiver
	e.mu.Unlock()
	if r != nil {
		r.FailedDecryption()
	}
}

func (e *Endpoint) SetCryptoKeys(tx, rx keys.SymmetricKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.txKey, e.rxKey = tx, rx
}

func (e *Endpoint) SetNonce(n [24]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nonce = n
}

func (e *Endpoint) SetEncryptedChannelEstablished(established bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.encEstab = established
}

// Close marks the endpoint closed and notifies the peer's receiver of a
// disconnect, mirroring a real BLE link drop.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	peer := e.peer
	e.mu.Unlock()

	if peer != nil {
		peer.mu.Lock()
		r := peer.receiver
		peer.mu.Unlock()
		if r != nil {
			r.Disconnected()
		}
	}
	return nil
}

var _ transport.Transport = (*Endpoint)(nil)
