// Package v3 implements the current pairing protocol state machine.
package v3

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/digital-dream-labs/victor-switchboard/ble/keyring"
	"github.com/digital-dream-labs/victor-switchboard/ble/keys"
	"github.com/digital-dream-labs/victor-switchboard/ble/pairing"
	"github.com/digital-dream-labs/victor-switchboard/ble/pairing/wire"
	"github.com/digital-dream-labs/victor-switchboard/ble/record"
	"github.com/digital-dream-labs/victor-switchboard/ble/transport"
	"github.com/digital-dream-labs/victor-switchboard/internal/switchlog"
)

type state int

const (
	stateAwaitingHandshake state = iota
	stateAwaitingPublicKey
	stateAwaitingNonceAck
	stateAwaitingChallengeResponse
	stateConfirmedSharedSecret
	stateTerminated
)

var (
	errMalformed         = errors.New("v3: malformed message")
	errStateViolation    = errors.New("v3: message illegal in current state")
	errUnknownClient     = errors.New("v3: reconnection from unknown client public key")
	errPairingNotAllowed = errors.New("v3: first-time pairing attempted while pairing mode is off")
)

// Machine implements the V3 pairing state diagram plus the record layer
// and key exchange it drives. It owns the record-layer session and the
// persistent keyring exclusively; transport is a separate collaborator
// held by reference.
type Machine struct {
	mu sync.Mutex

	transport transport.Transport
	store     *keyring.Store
	clock     pairing.Clock
	sink      pairing.EventSink
	limits    pairing.Limits
	log       switchlog.Logger
	rng       io.Reader

	kr      keyring.Keyring
	session record.Session

	state      state
	phaseTimer pairing.Timer
	idleTimer  pairing.Timer

	totalPairingAttempts int
	abnormalityCount     int
	challengeAttempts    int

	pairingAllowed bool
	otaUpdating    bool

	pendingConnType  wire.ConnType
	pendingClientPub keys.PublicKey
	pendingRx        keys.SymmetricKey
	pendingTx        keys.SymmetricKey

	challengeValue uint32
}

// New constructs a Machine and immediately performs the
// "AwaitingHandshake -> send ConnRequest -> AwaitingPublicKey" transition,
// since Shim has already accepted the peer's handshake by the time it
// calls this factory.
func New(t transport.Transport, store *keyring.Store, clock pairing.Clock, sink pairing.EventSink, limits pairing.Limits, log switchlog.Logger, rng io.Reader, pairingAllowed bool) pairing.Handler {
	kr, err := store.Load()
	if err != nil {
		log.Errorf("v3: keyring load failed, starting with an empty keyring: %v", err)
		kr = keyring.Empty()
	}
	m := &Machine{
		transport:      t,
		store:          store,
		clock:          clock,
		sink:           sink,
		limits:         limits,
		log:            log,
		rng:            rng,
		kr:             kr,
		pairingAllowed: pairingAllowed,
	}
	m.sendConnRequest()
	return m
}

func (m *Machine) sendConnRequest() {
	_ = m.transport.SendPlaintext(wire.EncodeRtsConnRequest(wire.RtsConnRequest{PK: m.kr.Identity.Public}))
	m.state = stateAwaitingPublicKey
	m.armPhaseTimer()
}

func (m *Machine) armPhaseTimer() {
	m.cancelPhaseTimer()
	expected := m.state
	m.phaseTimer = m.clock.AfterFunc(m.limits.PhaseTimeout, func() { m.onPhaseTimeout(expected) })
}

func (m *Machine) cancelPhaseTimer() {
	if m.phaseTimer != nil {
		m.phaseTimer.Stop()
		m.phaseTimer = nil
	}
}

func (m *Machine) cancelIdleTimer() {
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
}

func (m *Machine) armIdleTimer() {
	m.cancelIdleTimer()
	m.idleTimer = m.clock.AfterFunc(m.limits.IdleTimeout, m.onIdleTimeout)
}

// onPhaseTimeout handles the per-phase timer. A no-op in
// ConfirmedSharedSecret; any stale fire against a state already left by
// some other transition is ignored.
func (m *Machine) onPhaseTimeout(expected state) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != expected {
		return
	}
	if m.state == stateConfirmedSharedSecret || m.state == stateTerminated {
		return
	}
	m.restart()
}

// onIdleTimeout fires after limits.IdleTimeout of encrypted-channel
// silence once ConfirmedSharedSecret is reached. It must not interrupt an
// in-flight updated_pin or completed_pairing emission; that holds
// structurally here since the timer is armed only after CompletedPairing
// has already been delivered.
func (m *Machine) onIdleTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != stateConfirmedSharedSecret {
		return
	}
	m.terminateLocked()
}

// restart clears session keys, zeroizes nonces, resets counters, and
// re-enters Initial by sending a fresh Handshake. If the total pairing
// attempt count would exceed the configured cap, terminate instead.
func (m *Machine) restart() {
	m.session.Zeroize()
	m.abnormalityCount = 0
	m.challengeAttempts = 0
	m.pendingRx = keys.SymmetricKey{}
	m.pendingTx = keys.SymmetricKey{}
	m.pendingClientPub = keys.PublicKey{}

	m.totalPairingAttempts++
	if m.totalPairingAttempts > m.limits.MaxTotalPairingAttempts {
		m.terminateLocked()
		return
	}

	m.cancelPhaseTimer()
	_ = m.transport.SendPlaintext(wire.EncodeHandshake(wire.Handshake{Version: pairing.SupportedVersion}))
	m.state = stateAwaitingHandshake
	m.armPhaseTimer()
}

// terminateLocked ends the session and notifies upward. Callers must hold
// m.mu.
func (m *Machine) terminateLocked() {
	m.cancelPhaseTimer()
	m.cancelIdleTimer()
	m.session.Zeroize()
	m.state = stateTerminated
	m.sink.StopPairing()
}

func (m *Machine) cancelAndTerminate() {
	_ = m.transport.SendPlaintext(wire.EncodeRtsCancelPairing())
	m.terminateLocked()
}

// abnormality accounts for a non-fatal protocol deviation (a state
// violation, a malformed message, or an unknown-client reconnection
// attempt): it increments the counter; reaching the cap restarts.
func (m *Machine) abnormality(err error) {
	if m.log != nil {
		m.log.Infof("v3: abnormality: %v", err)
	}
	m.abnormalityCount++
	if m.abnormalityCount >= m.limits.MaxAbnormalityCount {
		m.restart()
	}
}

// challengeFailure handles a wrong challenge response (or a decryption
// failure while awaiting one): it increments both the abnormality and
// challenge-attempt counters, restarting only once either reaches its
// configured cap.
func (m *Machine) challengeFailure() {
	m.abnormalityCount++
	m.challengeAttempts++
	if m.challengeAttempts >= m.limits.MaxChallengeAttempts || m.abnormalityCount >= m.limits.MaxAbnormalityCount {
		m.restart()
	}
}

// HandlePlaintext implements pairing.Handler.
func (m *Machine) HandlePlaintext(buf []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == stateTerminated {
		return
	}

	switch m.state {
	case stateAwaitingHandshake:
		m.handleHandshake(buf)
	case stateAwaitingPublicKey:
		m.handleConnResponse(buf)
	case stateAwaitingNonceAck:
		m.handleNonceAck(buf)
	default:
		m.abnormality(errStateViolation)
	}
}

func (m *Machine) handleHandshake(buf []byte) {
	hs, err := wire.DecodeHandshake(buf)
	if err != nil {
		m.abnormality(errMalformed)
		return
	}
	if hs.Version != pairing.SupportedVersion {
		m.cancelAndTerminate()
		return
	}
	m.sendConnRequest()
}

func (m *Machine) handleConnResponse(buf []byte) {
	msg, err := wire.Decode(buf)
	if err != nil {
		m.abnormality(err)
		return
	}
	if msg.Tag != wire.TagConnResponse {
		m.abnormality(errStateViolation)
		return
	}

	resp := msg.ConnResponse
	switch resp.ConnType {
	case wire.ConnTypeFirstTimePair:
		m.handleFirstTimePair(resp.PK)
	case wire.ConnTypeReconnection:
		m.handleReconnection(resp.PK)
	default:
		m.abnormality(errMalformed)
	}
}

func (m *Machine) handleFirstTimePair(clientPub keys.PublicKey) {
	if !m.pairingAllowed {
		m.abnormality(errPairingNotAllowed)
		return
	}

	pin, err := keys.GeneratePIN(m.rng)
	if err != nil {
		m.log.Errorf("v3: PIN generation failed: %v", err)
		m.cancelAndTerminate()
		return
	}
	// Emitted immediately after generation, before RtsConnRequest would be
	// sent in the diagram's ordering — here RtsConnRequest already went
	// out on entry to AwaitingPublicKey, so this is the earliest point the
	// PIN value itself exists. The PIN is shown to the user only once, at
	// first-time pair.
	m.sink.UpdatedPIN(pin)

	rx, tx, err := keys.DeriveFirstTimeKeys(m.kr.Identity.Private, m.kr.Identity.Public, clientPub, pin)
	if err != nil {
		m.log.Errorf("v3: key derivation failed: %v", err)
		m.cancelAndTerminate()
		return
	}

	m.pendingConnType = wire.ConnTypeFirstTimePair
	m.pendingClientPub = clientPub
	m.pendingRx, m.pendingTx = rx, tx
	m.installSessionAndSendNonce(rx, tx)
}

func (m *Machine) handleReconnection(clientPub keys.PublicKey) {
	rec, ok := m.kr.Lookup(clientPub)
	if !ok {
		m.abnormality(errUnknownClient)
		return
	}

	m.pendingConnType = wire.ConnTypeReconnection
	m.pendingClientPub = clientPub
	m.pendingRx, m.pendingTx = rec.Rx, rec.Tx
	m.installSessionAndSendNonce(rec.Rx, rec.Tx)
}

func (m *Machine) installSessionAndSendNonce(rx, tx keys.SymmetricKey) {
	n, err := record.NewRandomNonce(m.rng)
	if err != nil {
		m.log.Errorf("v3: nonce generation failed: %v", err)
		m.cancelAndTerminate()
		return
	}

	m.session.SetKeys(rx, tx)
	m.session.SetNonce(n)
	m.transport.SetCryptoKeys(tx, rx)
	m.transport.SetNonce([24]byte(n))

	_ = m.transport.SendPlaintext(wire.EncodeRtsNonceMessage(wire.RtsNonceMessage{
		ToRobotNonce:  [24]byte(n),
		ToDeviceNonce: [24]byte(n),
	}))
	m.state = stateAwaitingNonceAck
	m.armPhaseTimer()
}

func (m *Machine) handleNonceAck(buf []byte) {
	msg, err := wire.Decode(buf)
	if err != nil {
		m.abnormality(err)
		return
	}
	if msg.Tag != wire.TagAck || msg.Ack.AckType != wire.AckTypeNonceMessage {
		m.abnormality(errStateViolation)
		return
	}

	m.session.SetEncryptedChannelEstablished(true)
	m.transport.SetEncryptedChannelEstablished(true)

	challenge, err := randomUint32(m.rng)
	if err != nil {
		m.log.Errorf("v3: challenge generation failed: %v", err)
		m.cancelAndTerminate()
		return
	}
	m.challengeValue = challenge

	ciphertext, err := m.session.Seal(wire.EncodeRtsChallengeMessage(wire.RtsChallengeMessage{Number: challenge}))
	if err != nil {
		m.log.Errorf("v3: sealing challenge message failed: %v", err)
		m.cancelAndTerminate()
		return
	}
	_ = m.transport.SendEncrypted(ciphertext)
	m.state = stateAwaitingChallengeResponse
	m.armPhaseTimer()
}

func randomUint32(rng io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(rng, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// HandleEncrypted implements pairing.Handler.
func (m *Machine) HandleEncrypted(buf []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != stateAwaitingChallengeResponse && m.state != stateConfirmedSharedSecret {
		m.abnormality(errStateViolation)
		return
	}

	plaintext, err := m.session.Open(buf)
	if err != nil {
		if m.state == stateConfirmedSharedSecret {
			// Session-fatal: the peer and robot have desynchronized and
			// cannot safely continue.
			m.cancelAndTerminate()
		} else {
			m.challengeFailure()
		}
		return
	}

	switch m.state {
	case stateAwaitingChallengeResponse:
		m.handleChallengeResponse(plaintext)
	case stateConfirmedSharedSecret:
		m.handleConfirmedMessage(plaintext)
	}
}

func (m *Machine) handleChallengeResponse(plaintext []byte) {
	msg, err := wire.Decode(plaintext)
	if err != nil || msg.Tag != wire.TagChallengeMessage {
		m.challengeFailure()
		return
	}
	if msg.ChallengeMessage.Number != m.challengeValue+1 {
		m.challengeFailure()
		return
	}
	m.onChallengeSuccess()
}

func (m *Machine) onChallengeSuccess() {
	ciphertext, err := m.session.Seal(wire.EncodeRtsChallengeSuccessMessage())
	if err != nil {
		m.log.Errorf("v3: sealing challenge-success message failed: %v", err)
		m.cancelAndTerminate()
		return
	}
	_ = m.transport.SendEncrypted(ciphertext)

	if m.pendingConnType == wire.ConnTypeFirstTimePair {
		next := m.kr.WithClient(keyring.ClientRecord{
			PublicKey: m.pendingClientPub,
			Rx:        m.pendingRx,
			Tx:        m.pendingTx,
		})
		if err := m.store.Save(next); err != nil {
			// Persistent-store errors never propagate above the keyring
			// layer; the session still completes, but the client will
			// have to re-pair next boot.
			m.log.Errorf("v3: failed to persist new client record: %v", err)
		} else {
			m.kr = next
		}
	}

	m.cancelPhaseTimer()
	m.state = stateConfirmedSharedSecret
	m.sink.CompletedPairing()
	m.armIdleTimer()
}

// handleConfirmedMessage processes an encrypted-phase message once
// ConfirmedSharedSecret is reached. Only RtsCancelPairing and an OTA
// update request (otaRequestTag, forwarded to EventSink.OTAUpdateRequest)
// are acted on. Every other message is dropped: it is not delivered to
// the EventSink or to any other upper layer.
func (m *Machine) handleConfirmedMessage(plaintext []byte) {
	m.armIdleTimer()

	if len(plaintext) > 0 && plaintext[0] == otaRequestTag {
		m.sink.OTAUpdateRequest(string(plaintext[1:]))
		return
	}

	msg, err := wire.Decode(plaintext)
	if err != nil {
		// Anything else outside the core's own tag set is dropped
		// silently; the core does not act on application-layer payloads.
		return
	}
	if msg.Tag == wire.TagCancelPairing {
		m.restart()
	}
}

// otaRequestTag marks an encrypted-phase frame as an OTA download URL
// passthrough, outside the wire package's RTS tag range so it is never
// mistaken for an RTS variant.
const otaRequestTag = 0x81

// HandleFailedDecryption implements pairing.Handler.
func (m *Machine) HandleFailedDecryption() {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateAwaitingChallengeResponse:
		m.challengeFailure()
	case stateConfirmedSharedSecret:
		m.cancelAndTerminate()
	default:
		m.abnormality(errStateViolation)
	}
}

// HandleDisconnect implements pairing.Handler.
func (m *Machine) HandleDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == stateTerminated {
		return
	}
	m.cancelPhaseTimer()
	m.cancelIdleTimer()
	m.session.Zeroize()
	m.state = stateTerminated
	m.sink.StopPairing()
}

// Shutdown implements pairing.Handler: an explicit stop_pairing request
// from above.
func (m *Machine) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == stateTerminated {
		return
	}
	_ = m.transport.SendPlaintext(wire.EncodeRtsCancelPairing())
	m.cancelPhaseTimer()
	m.cancelIdleTimer()
	m.session.Zeroize()
	m.state = stateTerminated
}

// SetOTAUpdating implements pairing.OTAController.
func (m *Machine) SetOTAUpdating(updating bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otaUpdating = updating
}

// SendOTAProgress implements pairing.OTAController.
func (m *Machine) SendOTAProgress(status string, done, total uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != stateConfirmedSharedSecret {
		return errStateViolation
	}
	payload := encodeOTAProgress(status, done, total)
	ciphertext, err := m.session.Seal(payload)
	if err != nil {
		return err
	}
	return m.transport.SendEncrypted(ciphertext)
}

func encodeOTAProgress(status string, done, total uint64) []byte {
	buf := make([]byte, 1+16+len(status))
	buf[0] = otaProgressTag
	binary.LittleEndian.PutUint64(buf[1:9], done)
	binary.LittleEndian.PutUint64(buf[9:17], total)
	copy(buf[17:], status)
	return buf
}

// otaProgressTag is chosen outside the wire package's RTS tag range
// (0x01-0x07) so an OTA progress frame is never mistaken for one of the
// typed RTS variants on the decode side.
const otaProgressTag = 0x80

var _ pairing.Handler = (*Machine)(nil)
var _ pairing.OTAController = (*Machine)(nil)
