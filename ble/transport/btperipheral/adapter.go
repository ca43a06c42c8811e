// Package btperipheral implements transport.Transport over a real BLE GATT
// peripheral using tinygo.org/x/bluetooth, for the single pairing
// connection a daemon instance serves at a time. Cleartext and encrypted
// application messages ride two write/notify characteristic pairs, each
// fragmented and reassembled per ble/fragment.
package btperipheral

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/digital-dream-labs/victor-switchboard/ble/fragment"
	"github.com/digital-dream-labs/victor-switchboard/ble/keys"
	"github.com/digital-dream-labs/victor-switchboard/ble/transport"
	"github.com/digital-dream-labs/victor-switchboard/internal/config"
	"github.com/digital-dream-labs/victor-switchboard/internal/switchlog"
)

// The two characteristic UUIDs are fixed for this daemon; the service UUID
// a deployment advertises is configurable (config.BLE.AdvServiceUUID) but
// the 128-bit characteristic UUIDs underneath it are not.
var (
	plaintextCharUUID = bluetooth.NewUUID([16]byte{
		0x6f, 0x70, 0x65, 0x6e, 0x2d, 0x70, 0x6c, 0x61,
		0x69, 0x6e, 0x2d, 0x66, 0x65, 0x65, 0x33, 0x01,
	})
	encryptedCharUUID = bluetooth.NewUUID([16]byte{
		0x6f, 0x70, 0x65, 0x6e, 0x2d, 0x70, 0x6c, 0x61,
		0x69, 0x6e, 0x2d, 0x66, 0x65, 0x65, 0x33, 0x02,
	})
)

// ErrNotConnected is returned by the Send* methods while no central is
// connected, as reported by the adapter's connect handler.
var ErrNotConnected = errors.New("btperipheral: no central connected")

// Adapter is a transport.Transport backed by a tinygo bluetooth peripheral
// adapter. Mirrors memtransport.Endpoint's shape, but the send and receive
// paths go through real GATT writes/notifications instead of an in-process
// call, and every message is fragmented/reassembled to the configured MTU.
type Adapter struct {
	adapter *bluetooth.Adapter
	log     switchlog.Logger
	cfg     config.BLE
	mtu     int

	plaintextNotify bluetooth.Characteristic
	encryptedNotify bluetooth.Characteristic

	plainReassembler *fragment.Reassembler
	encReassembler   *fragment.Reassembler

	mu           sync.Mutex
	receiver     transport.Receiver
	connected    bool
	txKey, rxKey keys.SymmetricKey
	nonce        [24]byte
	encEstab     bool
}

// New constructs an Adapter around the system's default Bluetooth adapter.
// It does not start advertising; call Start for that.
func New(cfg config.BLE, mtu, maxReassemblySize int, log switchlog.Logger) *Adapter {
	a := &Adapter{
		adapter: bluetooth.DefaultAdapter,
		log:     log,
		cfg:     cfg,
		mtu:     mtu,
	}
	a.plainReassembler = fragment.NewReassembler(maxReassemblySize)
	a.encReassembler = fragment.NewReassembler(maxReassemblySize)
	a.plainReassembler.OnAbnormality(func(err error) { a.log.Debugf("plaintext reassembly: %v", err) })
	a.encReassembler.OnAbnormality(func(err error) { a.log.Debugf("encrypted reassembly: %v", err) })
	return a
}

// Start enables the adapter, registers the GATT service, and begins
// advertising under cfg.DeviceNamePrefix. A disconnect/reconnect cycle is
// handled by re-advertising from the connect handler, since this daemon
// only ever serves one connection at a time.
func (a *Adapter) Start() error {
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("btperipheral: enable adapter: %w", err)
	}

	svcUUID, err := parseServiceUUID(a.cfg.AdvServiceUUID)
	if err != nil {
		return fmt.Errorf("btperipheral: parse adv_service_uuid %q: %w", a.cfg.AdvServiceUUID, err)
	}

	a.adapter.SetConnectHandler(func(_ bluetooth.Device, connected bool) {
		a.mu.Lock()
		a.connected = connected
		if !connected {
			a.encEstab = false
		}
		r := a.receiver
		a.mu.Unlock()

		if !connected && r != nil {
			r.Disconnected()
		}
		if !connected {
			a.advertise(svcUUID)
		}
	})

	err = a.adapter.AddService(&bluetooth.Service{
		UUID: svcUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				UUID: plaintextCharUUID,
				Flags: bluetooth.CharacteristicWritePermission |
					bluetooth.CharacteristicWriteWithoutResponsePermission |
					bluetooth.CharacteristicNotifyPermission,
				Handle: &a.plaintextNotify,
				WriteEvent: func(_ bluetooth.Connection, _ int, value []byte) {
					a.onRawWrite(a.plainReassembler, value, a.deliverPlaintext)
				},
			},
			{
				UUID: encryptedCharUUID,
				Flags: bluetooth.CharacteristicWritePermission |
					bluetooth.CharacteristicWriteWithoutResponsePermission |
					bluetooth.CharacteristicNotifyPermission,
				Handle: &a.encryptedNotify,
				WriteEvent: func(_ bluetooth.Connection, _ int, value []byte) {
					a.onRawWrite(a.encReassembler, value, a.deliverEncrypted)
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("btperipheral: add service: %w", err)
	}

	return a.advertise(svcUUID)
}

// parseServiceUUID accepts either a short 16-bit hex string (e.g. "fee3",
// the common form for an advertised service UUID) or a full 128-bit
// dashed UUID string.
func parseServiceUUID(s string) (bluetooth.UUID, error) {
	if v, err := strconv.ParseUint(s, 16, 16); err == nil {
		return bluetooth.New16BitUUID(uint16(v)), nil
	}
	return bluetooth.ParseUUID(s)
}

func (a *Adapter) advertise(svcUUID bluetooth.UUID) error {
	adv := a.adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    a.cfg.DeviceNamePrefix,
		ServiceUUIDs: []bluetooth.UUID{svcUUID},
	}); err != nil {
		return fmt.Errorf("btperipheral: configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("btperipheral: start advertisement: %w", err)
	}
	return nil
}

func (a *Adapter) onRawWrite(r *fragment.Reassembler, value []byte, deliver func([]byte)) {
	buf := make([]byte, len(value))
	copy(buf, value)
	msg, complete := r.Feed(buf)
	if complete {
		deliver(msg)
	}
}

func (a *Adapter) deliverPlaintext(msg []byte) {
	a.mu.Lock()
	r := a.receiver
	a.mu.Unlock()
	if r != nil {
		r.ReceivedPlaintext(msg)
	}
}

func (a *Adapter) deliverEncrypted(msg []byte) {
	a.mu.Lock()
	r := a.receiver
	a.mu.Unlock()
	if r != nil {
		r.ReceivedEncrypted(msg)
	}
}

func (a *Adapter) send(ch *bluetooth.Characteristic, msg []byte) error {
	a.mu.Lock()
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	for _, f := range fragment.Fragment(a.mtu, msg) {
		if _, err := ch.Write(f); err != nil {
			return fmt.Errorf("btperipheral: notify: %w", err)
		}
	}
	return nil
}

func (a *Adapter) SendPlaintext(buf []byte) error {
	return a.send(&a.plaintextNotify, buf)
}

func (a *Adapter) SendEncrypted(buf []byte) error {
	a.mu.Lock()
	estab := a.encEstab
	a.mu.Unlock()
	if !estab {
		return errors.New("btperipheral: send_encrypted before channel established")
	}
	return a.send(&a.encryptedNotify, buf)
}

// SetCryptoKeys, SetNonce, and SetEncryptedChannelEstablished mirror the
// session material the pairing state machine already owns (the machine's
// own record.Session is authoritative); the adapter only needs its own
// encEstab copy to gate SendEncrypted.
func (a *Adapter) SetCryptoKeys(tx, rx keys.SymmetricKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.txKey, a.rxKey = tx, rx
}

func (a *Adapter) SetNonce(n [24]byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nonce = n
}

func (a *Adapter) SetEncryptedChannelEstablished(established bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.encEstab = established
}

func (a *Adapter) Subscribe(r transport.Receiver) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.receiver = r
}

// Close stops advertising. A real disconnect of an already-connected
// central is driven by the adapter's own connect handler, not by this
// call; Close only prevents new connections from being accepted.
func (a *Adapter) Close() error {
	return a.adapter.DefaultAdvertisement().Stop()
}

var _ transport.Transport = (*Adapter)(nil)
