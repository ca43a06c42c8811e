// Package wire implements the fixed-size binary encodings of the
// handshake message and the RTS message variants. This is a deliberate
// simplification of a CLAD-style tag-length-value codec: only the
// variants the core pairing state machine itself produces or consumes
// get a typed encoding; Decode reports any other tag as ErrMalformed.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/digital-dream-labs/victor-switchboard/ble/keys"
)

// HandshakeOpcode is the fixed first byte of the very first plaintext
// message of any BLE connection.
const HandshakeOpcode = 0x07

// HandshakeSize is the fixed length of the handshake message: opcode plus
// a little-endian uint32 version.
const HandshakeSize = 5

var ErrShortMessage = errors.New("wire: message shorter than its fixed encoding")

// Handshake is the version-announcement message.
type Handshake struct {
	Version uint32
}

// EncodeHandshake renders a Handshake to its fixed 5-byte wire form.
func EncodeHandshake(h Handshake) []byte {
	buf := make([]byte, HandshakeSize)
	buf[0] = HandshakeOpcode
	binary.LittleEndian.PutUint32(buf[1:], h.Version)
	return buf
}

// DecodeHandshake parses the fixed 5-byte handshake message. It does not
// validate the opcode value, and neither of its callers (ble/pairing.Shim
// and v3.Machine) checks it before decoding.
func DecodeHandshake(buf []byte) (Handshake, error) {
	if len(buf) < HandshakeSize {
		return Handshake{}, ErrShortMessage
	}
	return Handshake{Version: binary.LittleEndian.Uint32(buf[1:5])}, nil
}

// ConnType distinguishes a first-time pairing attempt from a
// reconnection to a previously paired client.
type ConnType uint8

const (
	ConnTypeFirstTimePair ConnType = 0
	ConnTypeReconnection  ConnType = 1
)

// RtsConnRequest is sent robot -> peer with the robot's long-term public
// key.
type RtsConnRequest struct {
	PK keys.PublicKey
}

func EncodeRtsConnRequest(m RtsConnRequest) []byte {
	buf := make([]byte, 1+keys.KeySize)
	buf[0] = TagConnRequest
	copy(buf[1:], m.PK[:])
	return buf
}

func decodeRtsConnRequest(body []byte) (RtsConnRequest, error) {
	if len(body) < keys.KeySize {
		return RtsConnRequest{}, ErrShortMessage
	}
	var m RtsConnRequest
	copy(m.PK[:], body)
	return m, nil
}

// RtsConnResponse is sent peer -> robot carrying the peer's connection
// type and public key.
type RtsConnResponse struct {
	ConnType ConnType
	PK       keys.PublicKey
}

func EncodeRtsConnResponse(m RtsConnResponse) []byte {
	buf := make([]byte, 1+1+keys.KeySize)
	buf[0] = TagConnResponse
	buf[1] = byte(m.ConnType)
	copy(buf[2:], m.PK[:])
	return buf
}

func decodeRtsConnResponse(body []byte) (RtsConnResponse, error) {
	if len(body) < 1+keys.KeySize {
		return RtsConnResponse{}, ErrShortMessage
	}
	m := RtsConnResponse{ConnType: ConnType(body[0])}
	copy(m.PK[:], body[1:])
	return m, nil
}

// RtsNonceMessage carries the single 24-byte random value the robot draws
// and assigns to both N_tx and N_rx.
type RtsNonceMessage struct {
	ToRobotNonce  [24]byte
	ToDeviceNonce [24]byte
}

func EncodeRtsNonceMessage(m RtsNonceMessage) []byte {
	buf := make([]byte, 1+24+24)
	buf[0] = TagNonceMessage
	copy(buf[1:25], m.ToRobotNonce[:])
	copy(buf[25:49], m.ToDeviceNonce[:])
	return buf
}

func decodeRtsNonceMessage(body []byte) (RtsNonceMessage, error) {
	if len(body) < 48 {
		return RtsNonceMessage{}, ErrShortMessage
	}
	var m RtsNonceMessage
	copy(m.ToRobotNonce[:], body[:24])
	copy(m.ToDeviceNonce[:], body[24:48])
	return m, nil
}

// RtsAck acknowledges receipt of a cleartext RtsNonceMessage.
type RtsAck struct {
	AckType uint8
}

const AckTypeNonceMessage uint8 = 0

func EncodeRtsAck(m RtsAck) []byte {
	return []byte{TagAck, m.AckType}
}

func decodeRtsAck(body []byte) (RtsAck, error) {
	if len(body) < 1 {
		return RtsAck{}, ErrShortMessage
	}
	return RtsAck{AckType: body[0]}, nil
}

// RtsChallengeMessage carries the 32-bit challenge, sent by the robot and
// echoed incremented-by-one by the peer.
type RtsChallengeMessage struct {
	Number uint32
}

func EncodeRtsChallengeMessage(m RtsChallengeMessage) []byte {
	buf := make([]byte, 1+4)
	buf[0] = TagChallengeMessage
	binary.LittleEndian.PutUint32(buf[1:], m.Number)
	return buf
}

func decodeRtsChallengeMessage(body []byte) (RtsChallengeMessage, error) {
	if len(body) < 4 {
		return RtsChallengeMessage{}, ErrShortMessage
	}
	return RtsChallengeMessage{Number: binary.LittleEndian.Uint32(body)}, nil
}

// RtsChallengeSuccessMessage has no payload; it confirms the challenge
// round trip.
type RtsChallengeSuccessMessage struct{}

func EncodeRtsChallengeSuccessMessage() []byte {
	return []byte{TagChallengeSuccess}
}

// RtsCancelPairing has no payload; sent whenever the robot aborts the
// handshake.
type RtsCancelPairing struct{}

func EncodeRtsCancelPairing() []byte {
	return []byte{TagCancelPairing}
}

// Tag values for the minimal envelope this package uses in place of the
// full CLAD tagged-union encoding (see package doc comment).
const (
	TagConnRequest      = 0x01
	TagConnResponse     = 0x02
	TagNonceMessage     = 0x03
	TagAck              = 0x04
	TagChallengeMessage = 0x05
	TagChallengeSuccess = 0x06
	TagCancelPairing    = 0x07
)

// ErrMalformed is returned by Decode for a tag outside the accepted set
// or an empty buffer.
var ErrMalformed = errors.New("wire: malformed message")

// Message is the decoded form of any post-handshake envelope; exactly one
// of the typed fields is populated, selected by Tag.
type Message struct {
	Tag byte

	ConnRequest      RtsConnRequest
	ConnResponse     RtsConnResponse
	NonceMessage     RtsNonceMessage
	Ack              RtsAck
	ChallengeMessage RtsChallengeMessage
}

// Decode parses a post-handshake envelope. Unknown tags, or an empty
// buffer, return ErrMalformed; a known tag whose body is shorter than its
// fixed encoding returns ErrShortMessage. The body-less variants
// (RtsChallengeSuccessMessage, RtsCancelPairing) are a single tag byte.
func Decode(buf []byte) (Message, error) {
	if len(buf) < 1 {
		return Message{}, ErrMalformed
	}
	tag := buf[0]
	body := buf[1:]

	switch tag {
	case TagConnRequest:
		m, err := decodeRtsConnRequest(body)
		if err != nil {
			return Message{}, err
		}
		return Message{Tag: tag, ConnRequest: m}, nil
	case TagConnResponse:
		m, err := decodeRtsConnResponse(body)
		if err != nil {
			return Message{}, err
		}
		return Message{Tag: tag, ConnResponse: m}, nil
	case TagNonceMessage:
		m, err := decodeRtsNonceMessage(body)
		if err != nil {
			return Message{}, err
		}
		return Message{Tag: tag, NonceMessage: m}, nil
	case TagAck:
		m, err := decodeRtsAck(body)
		if err != nil {
			return Message{}, err
		}
		return Message{Tag: tag, Ack: m}, nil
	case TagChallengeMessage:
		m, err := decodeRtsChallengeMessage(body)
		if err != nil {
			return Message{}, err
		}
		return Message{Tag: tag, ChallengeMessage: m}, nil
	case TagChallengeSuccess:
		return Message{Tag: tag}, nil
	case TagCancelPairing:
		return Message{Tag: tag}, nil
	default:
		return Message{}, ErrMalformed
	}
}
