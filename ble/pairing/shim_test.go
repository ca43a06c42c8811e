package pairing

import (
	"io"
	"testing"
	"time"

	"github.com/digital-dream-labs/victor-switchboard/ble/keyring"
	"github.com/digital-dream-labs/victor-switchboard/ble/pairing/wire"
	"github.com/digital-dream-labs/victor-switchboard/ble/transport"
	"github.com/digital-dream-labs/victor-switchboard/ble/transport/memtransport"
	"github.com/digital-dream-labs/victor-switchboard/internal/switchlog"
)

type nopLogger struct{}

func (nopLogger) Debug(v ...interface{})            {}
func (nopLogger) Debugf(f string, v ...interface{}) {}
func (nopLogger) Info(v ...interface{})             {}
func (nopLogger) Infof(f string, v ...interface{})  {}
func (nopLogger) Error(v ...interface{})            {}
func (nopLogger) Errorf(f string, v ...interface{}) {}

var _ switchlog.Logger = nopLogger{}

type fakeSink struct {
	stopped int
}

func (s *fakeSink) UpdatedPIN(string)       {}
func (s *fakeSink) CompletedPairing()       {}
func (s *fakeSink) StopPairing()            { s.stopped++ }
func (s *fakeSink) OTAUpdateRequest(string) {}

var _ EventSink = (*fakeSink)(nil)

type noopClock struct{}

func (noopClock) Now() time.Time                       { return time.Time{} }
func (noopClock) AfterFunc(time.Duration, func()) Timer { return noopTimer{} }

type noopTimer struct{}

func (noopTimer) Stop() bool { return true }

var _ Clock = noopClock{}

// fakeHandler is a Handler double that records every call made to it, and
// also implements OTAController to exercise Shim's type-assertion
// forwarding.
type fakeHandler struct {
	plaintext     [][]byte
	encrypted     [][]byte
	failedDecrypt int
	disconnected  int
	shutdown      int

	otaUpdating bool
	otaProgress []string
}

func (h *fakeHandler) HandlePlaintext(buf []byte) { h.plaintext = append(h.plaintext, buf) }
func (h *fakeHandler) HandleEncrypted(buf []byte) { h.encrypted = append(h.encrypted, buf) }
func (h *fakeHandler) HandleFailedDecryption()    { h.failedDecrypt++ }
func (h *fakeHandler) HandleDisconnect()          { h.disconnected++ }
func (h *fakeHandler) Shutdown()                  { h.shutdown++ }
func (h *fakeHandler) SetOTAUpdating(u bool)      { h.otaUpdating = u }
func (h *fakeHandler) SendOTAProgress(status string, done, total uint64) error {
	h.otaProgress = append(h.otaProgress, status)
	return nil
}

var _ Handler = (*fakeHandler)(nil)
var _ OTAController = (*fakeHandler)(nil)

// factoryCall is a HandlerFactory whose invocation is recorded; it always
// returns the same fakeHandler so the test can inspect what the shim
// forwards to it.
type factoryCall struct {
	invoked        int
	pairingAllowed bool
	h              *fakeHandler
}

func (f *factoryCall) factory(t transport.Transport, store *keyring.Store, clock Clock, sink EventSink, limits Limits, log switchlog.Logger, rng io.Reader, pairingAllowed bool) Handler {
	f.invoked++
	f.pairingAllowed = pairingAllowed
	return f.h
}

// shimPeerView stands in for a real peer's receiver so memtransport has
// somewhere to deliver what the robot-side Shim sends; the test only needs
// to read robot.SentPlaintext/SentEncrypted, not react to them.
type shimPeerView struct{}

func (shimPeerView) ReceivedPlaintext([]byte) {}
func (shimPeerView) ReceivedEncrypted([]byte) {}
func (shimPeerView) FailedDecryption()        {}
func (shimPeerView) Disconnected()            {}

var _ transport.Receiver = shimPeerView{}

func newShimHarness(t *testing.T) (robot, peer *memtransport.Endpoint, shim *Shim, v3Rec, v2Rec *factoryCall, sink *fakeSink) {
	t.Helper()
	robot, peer = memtransport.NewPair()
	peer.Subscribe(shimPeerView{})
	sink = &fakeSink{}

	v3Rec = &factoryCall{h: &fakeHandler{}}
	v2Rec = &factoryCall{h: &fakeHandler{}}

	shim = NewShim(robot, nil, noopClock{}, sink, DefaultLimits(), nopLogger{}, nil, v3Rec.factory, v2Rec.factory)
	return robot, peer, shim, v3Rec, v2Rec, sink
}

func TestBeginPairingSendsSupportedVersionHandshake(t *testing.T) {
	robot, _, shim, _, _, _ := newShimHarness(t)
	if err := shim.BeginPairing(); err != nil {
		t.Fatal(err)
	}
	if len(robot.SentPlaintext) != 1 {
		t.Fatalf("expected one plaintext send, got %d", len(robot.SentPlaintext))
	}
	hs, err := wire.DecodeHandshake(robot.SentPlaintext[0])
	if err != nil {
		t.Fatal(err)
	}
	if hs.Version != SupportedVersion {
		t.Fatalf("got version %d, want %d", hs.Version, SupportedVersion)
	}
}

func TestV3HandshakeSelectsV3Factory(t *testing.T) {
	_, peer, shim, v3Rec, v2Rec, _ := newShimHarness(t)

	if err := peer.SendPlaintext(wire.EncodeHandshake(wire.Handshake{Version: SupportedVersion})); err != nil {
		t.Fatal(err)
	}
	if v3Rec.invoked != 1 {
		t.Fatalf("expected v3 factory invoked once, got %d", v3Rec.invoked)
	}
	if v2Rec.invoked != 0 {
		t.Fatalf("expected v2 factory never invoked, got %d", v2Rec.invoked)
	}
	if shim.active != v3Rec.h {
		t.Fatal("expected shim.active to be the v3 handler")
	}
	if !v3Rec.pairingAllowed {
		t.Fatal("expected pairingAllowed true by default")
	}
}

func TestV2HandshakeSelectsV2Factory(t *testing.T) {
	_, peer, shim, v3Rec, v2Rec, _ := newShimHarness(t)

	if err := peer.SendPlaintext(wire.EncodeHandshake(wire.Handshake{Version: LegacyVersion})); err != nil {
		t.Fatal(err)
	}
	if v2Rec.invoked != 1 {
		t.Fatalf("expected v2 factory invoked once, got %d", v2Rec.invoked)
	}
	if v3Rec.invoked != 0 {
		t.Fatalf("expected v3 factory never invoked, got %d", v3Rec.invoked)
	}
	if shim.active != v2Rec.h {
		t.Fatal("expected shim.active to be the v2 handler")
	}
}

func TestSetIsPairingReachesNextHandshake(t *testing.T) {
	_, peer, shim, v3Rec, _, _ := newShimHarness(t)
	shim.SetIsPairing(false)

	if err := peer.SendPlaintext(wire.EncodeHandshake(wire.Handshake{Version: SupportedVersion})); err != nil {
		t.Fatal(err)
	}
	if v3Rec.pairingAllowed {
		t.Fatal("expected pairingAllowed false to reach the v3 factory")
	}
}

func TestUnsupportedVersionRejectsAndStops(t *testing.T) {
	robot, peer, _, v3Rec, v2Rec, sink := newShimHarness(t)

	if err := peer.SendPlaintext(wire.EncodeHandshake(wire.Handshake{Version: 99})); err != nil {
		t.Fatal(err)
	}
	if v3Rec.invoked != 0 || v2Rec.invoked != 0 {
		t.Fatal("expected neither factory invoked for an unsupported version")
	}
	if sink.stopped != 1 {
		t.Fatalf("expected exactly one stop_pairing_event, got %d", sink.stopped)
	}

	last := robot.SentPlaintext[len(robot.SentPlaintext)-1]
	msg, err := wire.Decode(last)
	if err != nil || msg.Tag != wire.TagCancelPairing {
		t.Fatalf("expected RtsCancelPairing on the wire, got %+v err=%v", msg, err)
	}
}

func TestMalformedHandshakeRejectsAndStops(t *testing.T) {
	_, peer, _, _, _, sink := newShimHarness(t)

	if err := peer.SendPlaintext([]byte{0x07, 0x01}); err != nil {
		t.Fatal(err)
	}
	if sink.stopped != 1 {
		t.Fatalf("expected exactly one stop_pairing_event, got %d", sink.stopped)
	}
}

func TestShimForwardsSubsequentMessagesToActiveHandler(t *testing.T) {
	_, peer, shim, v3Rec, _, _ := newShimHarness(t)

	if err := peer.SendPlaintext(wire.EncodeHandshake(wire.Handshake{Version: SupportedVersion})); err != nil {
		t.Fatal(err)
	}
	if err := peer.SendPlaintext([]byte{0xAB}); err != nil {
		t.Fatal(err)
	}
	if len(v3Rec.h.plaintext) != 1 {
		t.Fatalf("expected the second message routed to the handler, got %d calls", len(v3Rec.h.plaintext))
	}

	shim.active.HandleEncrypted([]byte{0xCD})
	if len(v3Rec.h.encrypted) != 1 {
		t.Fatalf("expected one encrypted message delivered, got %d", len(v3Rec.h.encrypted))
	}
}

func TestStopPairingShutsDownActiveHandler(t *testing.T) {
	_, peer, shim, v3Rec, _, _ := newShimHarness(t)
	if err := peer.SendPlaintext(wire.EncodeHandshake(wire.Handshake{Version: SupportedVersion})); err != nil {
		t.Fatal(err)
	}

	shim.StopPairing()

	if v3Rec.h.shutdown != 1 {
		t.Fatalf("expected handler Shutdown called once, got %d", v3Rec.h.shutdown)
	}
	if shim.active != nil {
		t.Fatal("expected shim.active cleared after StopPairing")
	}
}

func TestDisconnectedBeforeHandshakeNotifiesSink(t *testing.T) {
	_, _, shim, _, _, sink := newShimHarness(t)
	shim.Disconnected()
	if sink.stopped != 1 {
		t.Fatalf("expected exactly one stop_pairing_event, got %d", sink.stopped)
	}
}

func TestDisconnectedAfterHandshakeNotifiesHandlerAndClearsActive(t *testing.T) {
	_, peer, shim, v3Rec, _, _ := newShimHarness(t)
	if err := peer.SendPlaintext(wire.EncodeHandshake(wire.Handshake{Version: SupportedVersion})); err != nil {
		t.Fatal(err)
	}

	shim.Disconnected()

	if v3Rec.h.disconnected != 1 {
		t.Fatalf("expected handler HandleDisconnect called once, got %d", v3Rec.h.disconnected)
	}
	if shim.active != nil {
		t.Fatal("expected shim.active cleared after Disconnected")
	}
}

func TestOTAForwardingRequiresActiveHandler(t *testing.T) {
	_, _, shim, _, _, _ := newShimHarness(t)
	if err := shim.SendOTAProgress("downloading", 1, 10); err != errNoActiveHandler {
		t.Fatalf("got %v, want errNoActiveHandler", err)
	}
	shim.SetOTAUpdating(true) // must not panic with no active handler
}

func TestOTAForwardingReachesActiveHandler(t *testing.T) {
	_, peer, shim, v3Rec, _, _ := newShimHarness(t)
	if err := peer.SendPlaintext(wire.EncodeHandshake(wire.Handshake{Version: SupportedVersion})); err != nil {
		t.Fatal(err)
	}

	shim.SetOTAUpdating(true)
	if !v3Rec.h.otaUpdating {
		t.Fatal("expected SetOTAUpdating forwarded to the active handler")
	}

	if err := shim.SendOTAProgress("downloading", 1, 10); err != nil {
		t.Fatal(err)
	}
	if len(v3Rec.h.otaProgress) != 1 {
		t.Fatalf("expected one progress update forwarded, got %d", len(v3Rec.h.otaProgress))
	}
}
