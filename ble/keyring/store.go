package keyring

import (
	"bytes"
	cryptorand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/digital-dream-labs/victor-switchboard/ble/keys"
	"github.com/digital-dream-labs/victor-switchboard/internal/switchlog"
)

// Magic is the fixed 8-byte ASCII prefix of a keyring file.
const Magic = "ANKIBITS"

// Version is the pairing-protocol version tag written alongside the
// magic (a 4-byte tag matching the pairing-protocol version that wrote
// the file). This store always writes the current V3 protocol version.
const Version uint32 = 3

// ErrCorrupt is returned internally when the on-disk file fails magic,
// version, or identity validation; Load never surfaces it, instead
// silently falling back to an empty keyring.
var ErrCorrupt = errors.New("keyring: on-disk file is absent or corrupt")

// Store reads and writes one keyring file at a fixed path.
type Store struct {
	path string
	log  switchlog.Logger
	rand io.Reader
}

// NewStore constructs a Store for the file at path. rand is the source of
// randomness for identity/name generation on first boot; pass nil to use
// crypto/rand.Reader.
func NewStore(path string, log switchlog.Logger, rand io.Reader) *Store {
	if rand == nil {
		rand = cryptoRandReader{}
	}
	return &Store{path: path, log: log, rand: rand}
}

type cryptoRandReader struct{}

func (cryptoRandReader) Read(p []byte) (int, error) { return cryptorand.Read(p) }

// Load opens the keyring file. If it is absent, fails magic/version
// validation, or its identity keypair fails to validate, Load returns a
// fresh keyring: a freshly generated identity and name, and an empty
// client list.
func (s *Store) Load() (Keyring, error) {
	kr, err := s.loadFile()
	if err != nil {
		s.log.Infof("keyring: %v, regenerating identity", err)
		return s.generateFresh()
	}
	if err := kr.Identity.Validate(); err != nil {
		s.log.Errorf("keyring: stored identity failed validation: %v", err)
		return s.generateFresh()
	}
	if !kr.HasName {
		name, err := keys.GenerateRobotName(s.rand)
		if err != nil {
			return Keyring{}, err
		}
		kr.HasName = true
		kr.Name = name
		if err := s.Save(kr); err != nil {
			return Keyring{}, err
		}
	}
	return kr, nil
}

func (s *Store) generateFresh() (Keyring, error) {
	id, err := keys.GenerateIdentity(s.rand)
	if err != nil {
		return Keyring{}, err
	}
	name, err := keys.GenerateRobotName(s.rand)
	if err != nil {
		return Keyring{}, err
	}
	kr := Keyring{Identity: id, HasName: true, Name: name}
	if err := s.Save(kr); err != nil {
		return Keyring{}, err
	}
	return kr, nil
}

func (s *Store) loadFile() (Keyring, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Keyring{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return decode(data)
}

// Save serializes kr and atomically replaces the store's file: write to a
// sibling ".tmp" file, then rename over the destination. rename(2) is
// atomic on POSIX filesystems, so a crash between the tmp write and the
// rename never leaves a torn file.
func (s *Store) Save(kr Keyring) error {
	data := encode(kr)

	tmp := s.path + ".tmp"
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func encode(kr Keyring) []byte {
	var buf bytes.Buffer
	buf.WriteString(Magic)
	binary.Write(&buf, binary.LittleEndian, Version)

	buf.Write(kr.Identity.Public[:])
	buf.Write(kr.Identity.Private[:])
	if kr.HasName {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	var nameField [NameFieldSize]byte
	copy(nameField[:], kr.Name)
	buf.Write(nameField[:])

	binary.Write(&buf, binary.LittleEndian, uint32(len(kr.Clients)))
	for _, c := range kr.Clients {
		buf.Write(c.PublicKey[:])
		buf.Write(c.Rx[:])
		buf.Write(c.Tx[:])
	}

	return buf.Bytes()
}

const identityBlockSize = keys.KeySize + keys.KeySize + 1 + NameFieldSize
const clientRecordSize = keys.KeySize * 3

func decode(data []byte) (Keyring, error) {
	if len(data) < len(Magic)+4 {
		return Keyring{}, fmt.Errorf("%w: file too short", ErrCorrupt)
	}
	if string(data[:len(Magic)]) != Magic {
		return Keyring{}, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	off := len(Magic)

	version := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if version != Version {
		return Keyring{}, fmt.Errorf("%w: version %d unsupported", ErrCorrupt, version)
	}

	if len(data[off:]) < identityBlockSize {
		return Keyring{}, fmt.Errorf("%w: truncated identity block", ErrCorrupt)
	}

	var kr Keyring
	copy(kr.Identity.Public[:], data[off:])
	off += keys.KeySize
	copy(kr.Identity.Private[:], data[off:])
	off += keys.KeySize

	kr.HasName = data[off] != 0
	off++

	nameField := data[off : off+NameFieldSize]
	off += NameFieldSize
	kr.Name = string(bytes.TrimRight(nameField, "\x00"))

	if len(data[off:]) < 4 {
		return Keyring{}, fmt.Errorf("%w: truncated client count", ErrCorrupt)
	}
	count := binary.LittleEndian.Uint32(data[off:])
	off += 4

	for i := uint32(0); i < count; i++ {
		if len(data[off:]) < clientRecordSize {
			return Keyring{}, fmt.Errorf("%w: truncated client record %d", ErrCorrupt, i)
		}
		var rec ClientRecord
		copy(rec.PublicKey[:], data[off:])
		off += keys.KeySize
		copy(rec.Rx[:], data[off:])
		off += keys.KeySize
		copy(rec.Tx[:], data[off:])
		off += keys.KeySize
		kr.Clients = append(kr.Clients, rec)
	}

	return kr, nil
}
