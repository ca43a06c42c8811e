// Package fragment implements a BLE fragmentation/reassembly protocol:
// arbitrary-length messages layered on top of a BLE characteristic's
// fixed MTU using a 2-bit framing scheme.
package fragment

import "errors"

// header bit patterns, top two bits of the single header byte.
const (
	headerStart        = 0x80 // 10
	headerContinuation  = 0x00 // 00
	headerEnd           = 0x40 // 01
	headerSolo          = 0xC0 // 11
	headerKindMask      = 0xC0
	headerSizeMask      = 0x3F
)

// ErrMessageTooLarge is returned by a Reassembler when the in-progress
// message would exceed the configured maximum reassembly size.
var ErrMessageTooLarge = errors.New("fragment: message exceeds maximum reassembly size")

// Fragment splits msg into raw buffers of at most mtu bytes (one header
// byte plus up to mtu-1 payload bytes). mtu must be at least 2. A
// zero-length message still produces exactly one solo fragment
// consisting of just the header byte.
func Fragment(mtu int, msg []byte) [][]byte {
	payloadSize := mtu - 1
	if len(msg) == 0 {
		return [][]byte{{solo(0)}}
	}

	numFragments := (len(msg) + payloadSize - 1) / payloadSize
	out := make([][]byte, 0, numFragments)

	for i := 0; i < numFragments; i++ {
		start := i * payloadSize
		end := start + payloadSize
		if end > len(msg) {
			end = len(msg)
		}
		chunk := msg[start:end]

		var header byte
		switch {
		case numFragments == 1:
			header = solo(len(chunk))
		case i == 0:
			header = start_(len(chunk))
		case i == numFragments-1:
			header = end_(len(chunk))
		default:
			header = continuation(len(chunk))
		}

		buf := make([]byte, 1+len(chunk))
		buf[0] = header
		copy(buf[1:], chunk)
		out = append(out, buf)
	}

	return out
}

func sizeField(n int) byte {
	return byte(n) & headerSizeMask
}

func solo(n int) byte         { return headerSolo | sizeField(n) }
func start_(n int) byte       { return headerStart | sizeField(n) }
func end_(n int) byte         { return headerEnd | sizeField(n) }
func continuation(n int) byte { return headerContinuation | sizeField(n) }

// kind extracts the 2-bit fragment kind from a header byte.
func kind(header byte) byte {
	return header & headerKindMask
}
