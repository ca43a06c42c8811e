// Package v2 implements the factory-legacy protocol version as a
// reject-only stub: a peer announcing this version is always refused,
// never driven through a real pairing flow.
package v2

import (
	"io"

	"github.com/digital-dream-labs/victor-switchboard/ble/keyring"
	"github.com/digital-dream-labs/victor-switchboard/ble/pairing"
	"github.com/digital-dream-labs/victor-switchboard/ble/pairing/wire"
	"github.com/digital-dream-labs/victor-switchboard/ble/transport"
	"github.com/digital-dream-labs/victor-switchboard/internal/switchlog"
)

// Stub is the V2 handler: it never advances past the handshake. The
// moment it is selected, it cancels and reports stop_pairing.
type Stub struct {
	transport transport.Transport
	sink      pairing.EventSink
}

// New builds a Stub. It matches pairing.HandlerFactory so Shim can select
// it purely by version number.
func New(t transport.Transport, _ *keyring.Store, _ pairing.Clock, sink pairing.EventSink, _ pairing.Limits, log switchlog.Logger, _ io.Reader, _ bool) pairing.Handler {
	s := &Stub{transport: t, sink: sink}
	if log != nil {
		log.Infof("pairing: rejecting factory-legacy v2 handshake")
	}
	_ = s.transport.SendPlaintext(wire.EncodeRtsCancelPairing())
	s.sink.StopPairing()
	return s
}

func (s *Stub) HandlePlaintext([]byte)  {}
func (s *Stub) HandleEncrypted([]byte)  {}
func (s *Stub) HandleFailedDecryption() {}
func (s *Stub) HandleDisconnect()       {}
func (s *Stub) Shutdown()               {}

var _ pairing.Handler = (*Stub)(nil)
