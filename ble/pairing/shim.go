package pairing

import (
	"io"

	"github.com/digital-dream-labs/victor-switchboard/ble/keyring"
	"github.com/digital-dream-labs/victor-switchboard/ble/pairing/wire"
	"github.com/digital-dream-labs/victor-switchboard/ble/transport"
	"github.com/digital-dream-labs/victor-switchboard/internal/switchlog"
)

// SupportedVersion is the current protocol version this shim advertises
// and accepts without reservation.
const SupportedVersion = 3

// LegacyVersion is the factory-legacy version accepted only by the
// reject-only v2.Stub.
const LegacyVersion = 2

// HandlerFactory builds a Handler for one accepted protocol version. v3
// and v2 each provide one, matching the construction signature below so
// Shim never imports either version package directly (it is handed the
// factories instead, keeping the version-variant set open and the import
// graph acyclic).
type HandlerFactory func(t transport.Transport, store *keyring.Store, clock Clock, sink EventSink, limits Limits, log switchlog.Logger, rng io.Reader, pairingAllowed bool) Handler

// Shim performs the one-time version routing for a BLE connection: it
// inspects the first plaintext message, picks the matching Handler, and
// then gets out of the way.
type Shim struct {
	transport transport.Transport
	store     *keyring.Store
	clock     Clock
	sink      EventSink
	limits    Limits
	log       switchlog.Logger

	newV3 HandlerFactory
	newV2 HandlerFactory
	rng   io.Reader

	pairingAllowed bool

	active Handler
}

// NewShim constructs a Shim. newV3 and newV2 are ordinarily v3.New and
// v2.New. rng is the randomness source handed to whichever handler is
// selected (PIN, nonce, and challenge generation); pass crypto/rand.Reader
// in production.
func NewShim(t transport.Transport, store *keyring.Store, clock Clock, sink EventSink, limits Limits, log switchlog.Logger, rng io.Reader, newV3, newV2 HandlerFactory) *Shim {
	s := &Shim{
		transport:      t,
		store:          store,
		clock:          clock,
		sink:           sink,
		limits:         limits,
		log:            log,
		rng:            rng,
		newV3:          newV3,
		newV2:          newV2,
		pairingAllowed: true,
	}
	t.Subscribe(s)
	return s
}

// SetIsPairing informs the core whether the product is currently in
// user-pairing mode, which gates whether a first-time pair may proceed or
// only reconnections are accepted. It takes effect for the next handshake
// this Shim routes.
func (s *Shim) SetIsPairing(allowed bool) {
	s.pairingAllowed = allowed
}

// SetOTAUpdating and SendOTAProgress forward to the active handler if it
// supports the OTAController surface (only v3.Machine does); they are
// no-ops before a handshake has been accepted or after v2 rejection.
func (s *Shim) SetOTAUpdating(updating bool) {
	if c, ok := s.active.(OTAController); ok {
		c.SetOTAUpdating(updating)
	}
}

func (s *Shim) SendOTAProgress(status string, done, total uint64) error {
	if c, ok := s.active.(OTAController); ok {
		return c.SendOTAProgress(status, done, total)
	}
	return errNoActiveHandler
}

// BeginPairing announces the robot's own current protocol version and
// starts waiting for the peer's handshake.
func (s *Shim) BeginPairing() error {
	return s.transport.SendPlaintext(wire.EncodeHandshake(wire.Handshake{Version: SupportedVersion}))
}

// StopPairing tears down whatever handler is active, or does nothing if
// the handshake was never received.
func (s *Shim) StopPairing() {
	if s.active != nil {
		s.active.Shutdown()
		s.active = nil
	}
}

// ReceivedPlaintext implements transport.Receiver. Before a version is
// chosen, every plaintext message is interpreted as the handshake; after
// that, the shim has already handed subscription off to the active
// handler and is never called again.
func (s *Shim) ReceivedPlaintext(buf []byte) {
	if s.active != nil {
		s.active.HandlePlaintext(buf)
		return
	}
	s.handleHandshake(buf)
}

func (s *Shim) handleHandshake(buf []byte) {
	hs, err := wire.DecodeHandshake(buf)
	if err != nil {
		s.log.Errorf("pairing: malformed handshake: %v", err)
		s.rejectAndStop()
		return
	}

	switch hs.Version {
	case SupportedVersion:
		s.active = s.newV3(s.transport, s.store, s.clock, s.sink, s.limits, s.log, s.rng, s.pairingAllowed)
	case LegacyVersion:
		s.active = s.newV2(s.transport, s.store, s.clock, s.sink, s.limits, s.log, s.rng, s.pairingAllowed)
	default:
		s.log.Infof("pairing: rejecting unsupported handshake version %d", hs.Version)
		s.rejectAndStop()
		return
	}

	// Hand the transport subscription to the chosen handler; the shim
	// unsubscribes itself from further version routing.
	s.transport.Subscribe(handlerReceiver{s.active})
}

func (s *Shim) rejectAndStop() {
	_ = s.transport.SendPlaintext(wire.EncodeRtsCancelPairing())
	s.sink.StopPairing()
}

// ReceivedEncrypted implements transport.Receiver. It is only reachable
// before a version is chosen, which a conforming peer never does (the
// encrypted channel does not exist yet); receiving it here is itself a
// protocol violation, handled the same as a malformed handshake.
func (s *Shim) ReceivedEncrypted(buf []byte) {
	if s.active != nil {
		s.active.HandleEncrypted(buf)
		return
	}
	s.log.Errorf("pairing: encrypted message received before handshake")
	s.rejectAndStop()
}

func (s *Shim) FailedDecryption() {
	if s.active != nil {
		s.active.HandleFailedDecryption()
	}
}

func (s *Shim) Disconnected() {
	if s.active != nil {
		s.active.HandleDisconnect()
		s.active = nil
		return
	}
	s.sink.StopPairing()
}

// handlerReceiver adapts a Handler to transport.Receiver so Shim can hand
// the transport subscription directly to the chosen version handler.
type handlerReceiver struct{ h Handler }

func (a handlerReceiver) ReceivedPlaintext(buf []byte)  { a.h.HandlePlaintext(buf) }
func (a handlerReceiver) ReceivedEncrypted(buf []byte)  { a.h.HandleEncrypted(buf) }
func (a handlerReceiver) FailedDecryption()             { a.h.HandleFailedDecryption() }
func (a handlerReceiver) Disconnected()                 { a.h.HandleDisconnect() }

var _ transport.Receiver = (*Shim)(nil)
var _ transport.Receiver = handlerReceiver{}
