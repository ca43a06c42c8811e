package wire

import (
	"bytes"
	"testing"

	"github.com/digital-dream-labs/victor-switchboard/ble/keys"
)

func TestHandshakeRoundTrip(t *testing.T) {
	buf := EncodeHandshake(Handshake{Version: 3})
	if len(buf) != HandshakeSize {
		t.Fatalf("got length %d, want %d", len(buf), HandshakeSize)
	}
	if buf[0] != HandshakeOpcode {
		t.Fatalf("got opcode %#x, want %#x", buf[0], HandshakeOpcode)
	}
	got, err := DecodeHandshake(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 3 {
		t.Fatalf("got version %d, want 3", got.Version)
	}
}

func TestDecodeHandshakeTooShort(t *testing.T) {
	if _, err := DecodeHandshake([]byte{0x07, 0x01}); err != ErrShortMessage {
		t.Fatalf("got %v, want ErrShortMessage", err)
	}
}

func TestConnRequestRoundTrip(t *testing.T) {
	var pk keys.PublicKey
	for i := range pk {
		pk[i] = byte(i)
	}
	buf := EncodeRtsConnRequest(RtsConnRequest{PK: pk})
	msg, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Tag != TagConnRequest {
		t.Fatalf("got tag %#x, want TagConnRequest", msg.Tag)
	}
	if msg.ConnRequest.PK != pk {
		t.Fatal("public key mismatch after round trip")
	}
}

func TestConnResponseRoundTrip(t *testing.T) {
	var pk keys.PublicKey
	pk[0] = 0xAB
	buf := EncodeRtsConnResponse(RtsConnResponse{ConnType: ConnTypeReconnection, PK: pk})
	msg, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ConnResponse.ConnType != ConnTypeReconnection || msg.ConnResponse.PK != pk {
		t.Fatal("round trip mismatch")
	}
}

func TestNonceMessageRoundTrip(t *testing.T) {
	var n RtsNonceMessage
	for i := range n.ToRobotNonce {
		n.ToRobotNonce[i] = byte(i)
		n.ToDeviceNonce[i] = byte(i)
	}
	buf := EncodeRtsNonceMessage(n)
	msg, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if msg.NonceMessage != n {
		t.Fatal("nonce message round trip mismatch")
	}
}

func TestAckRoundTrip(t *testing.T) {
	buf := EncodeRtsAck(RtsAck{AckType: AckTypeNonceMessage})
	msg, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Tag != TagAck || msg.Ack.AckType != AckTypeNonceMessage {
		t.Fatal("ack round trip mismatch")
	}
}

func TestChallengeMessageRoundTrip(t *testing.T) {
	buf := EncodeRtsChallengeMessage(RtsChallengeMessage{Number: 0xDEADBEEF})
	msg, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ChallengeMessage.Number != 0xDEADBEEF {
		t.Fatalf("got %#x, want 0xDEADBEEF", msg.ChallengeMessage.Number)
	}
}

func TestChallengeSuccessAndCancelHaveNoBody(t *testing.T) {
	for _, buf := range [][]byte{EncodeRtsChallengeSuccessMessage(), EncodeRtsCancelPairing()} {
		if _, err := Decode(buf); err != nil {
			t.Fatalf("unexpected error decoding %x: %v", buf, err)
		}
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	if _, err := Decode([]byte{0xFE, 0x00}); err != ErrMalformed {
		t.Fatalf("got %v, want ErrMalformed", err)
	}
}

func TestDecodeRejectsEmptyBuffer(t *testing.T) {
	if _, err := Decode(nil); err != ErrMalformed {
		t.Fatalf("got %v, want ErrMalformed", err)
	}
}

func TestDecodeRejectsTruncatedBody(t *testing.T) {
	// A ConnRequest body must carry a full 32-byte key.
	if _, err := Decode([]byte{TagConnRequest, 0x01, 0x02}); err != ErrShortMessage {
		t.Fatalf("got %v, want ErrShortMessage", err)
	}
}

func TestEncodedMessagesStartWithExpectedTag(t *testing.T) {
	cases := map[byte][]byte{
		TagConnRequest:      EncodeRtsConnRequest(RtsConnRequest{}),
		TagConnResponse:     EncodeRtsConnResponse(RtsConnResponse{}),
		TagNonceMessage:     EncodeRtsNonceMessage(RtsNonceMessage{}),
		TagAck:              EncodeRtsAck(RtsAck{}),
		TagChallengeMessage: EncodeRtsChallengeMessage(RtsChallengeMessage{}),
	}
	for tag, buf := range cases {
		if !bytes.Equal(buf[:1], []byte{tag}) {
			t.Fatalf("tag %#x: encoded buffer does not start with its own tag", tag)
		}
	}
}
