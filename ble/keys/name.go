package keys

import (
	"io"
)

const nameUpper = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
const nameDigit = "0123456789"

// GenerateRobotName produces a name of the form "Vector XYZW" where the
// last four characters alternate uppercase letter / decimal digit (spec
// §3). Generated once at first boot and persisted with the identity.
func GenerateRobotName(rand io.Reader) (string, error) {
	var idx [4]byte
	if _, err := io.ReadFull(rand, idx[:]); err != nil {
		return "", err
	}
	suffix := []byte{
		nameUpper[int(idx[0])%len(nameUpper)],
		nameDigit[int(idx[1])%len(nameDigit)],
		nameUpper[int(idx[2])%len(nameUpper)],
		nameDigit[int(idx[3])%len(nameDigit)],
	}
	return "Vector " + string(suffix), nil
}
