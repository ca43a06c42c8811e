package pairing

import "errors"

// errNoActiveHandler is returned by Shim.SendOTAProgress when no version
// handler has been selected yet, or the selected one (v2.Stub) does not
// implement OTAController.
var errNoActiveHandler = errors.New("pairing: no active handler")

// OTAController is the optional extra surface a Handler may implement for
// the OTA progress passthrough (set_ota_updating/send_ota_progress). Only
// v3.Machine implements it; v2.Stub does not, since it never reaches an
// encrypted channel.
type OTAController interface {
	SetOTAUpdating(updating bool)
	SendOTAProgress(status string, done, total uint64) error
}

// EventSink is the upward interface the core exposes. It is
// constructor-injected into v3.Machine and v2.Stub with a lifetime
// scoped to one BLE connection, favoring direct method calls over a
// global event bus.
type EventSink interface {
	// UpdatedPIN is emitted once per first-time-pair attempt, immediately
	// after the robot generates the PIN. That happens on receipt of a
	// first-time-pair RtsConnResponse, after RtsConnRequest has been sent.
	UpdatedPIN(pin string)
	// CompletedPairing is emitted on entry to ConfirmedSharedSecret.
	CompletedPairing()
	// StopPairing is emitted on every path that terminates the session:
	// timeout-triggered termination, explicit cancellation, decryption
	// failure, version mismatch, or attempt-cap exhaustion.
	StopPairing()
	// OTAUpdateRequest passes through an OTA download URL received over
	// the encrypted channel once ConfirmedSharedSecret is reached.
	OTAUpdateRequest(url string)
}
