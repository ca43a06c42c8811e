// Command switchboardd runs the Vector BLE pairing daemon: it advertises
// over a real GATT peripheral (or, with -dry-run, an in-memory loopback)
// and drives the version-negotiation shim for exactly one connection at a
// time.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/digital-dream-labs/victor-switchboard/ble/keyring"
	"github.com/digital-dream-labs/victor-switchboard/ble/pairing"
	"github.com/digital-dream-labs/victor-switchboard/ble/pairing/v2"
	"github.com/digital-dream-labs/victor-switchboard/ble/pairing/v3"
	"github.com/digital-dream-labs/victor-switchboard/ble/transport"
	"github.com/digital-dream-labs/victor-switchboard/ble/transport/btperipheral"
	"github.com/digital-dream-labs/victor-switchboard/ble/transport/memtransport"
	"github.com/digital-dream-labs/victor-switchboard/internal/config"
	"github.com/digital-dream-labs/victor-switchboard/internal/switchlog"
)

// loggingSink is the production EventSink: it logs every pairing event at
// info level. A real product would also forward UpdatedPIN/CompletedPairing
// to a display/UI process; that hand-off is outside this daemon's scope.
type loggingSink struct {
	log switchlog.Logger
}

func (s loggingSink) UpdatedPIN(pin string)       { s.log.Infof("pairing: PIN updated: %s", pin) }
func (s loggingSink) CompletedPairing()           { s.log.Info("pairing: completed") }
func (s loggingSink) StopPairing()                { s.log.Info("pairing: stopped") }
func (s loggingSink) OTAUpdateRequest(url string) { s.log.Infof("pairing: OTA update requested: %s", url) }

var _ pairing.EventSink = loggingSink{}

func main() {
	configPath := flag.String("config", "/etc/switchboard/switchboard.yaml", "path to the daemon's YAML config file")
	foreground := flag.Bool("foreground", false, "run in the foreground (the process never daemonizes; the value is only logged)")
	dryRun := flag.Bool("dry-run", false, "use an in-memory loopback transport instead of a real BLE peripheral")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "switchboardd: load config:", err)
		os.Exit(1)
	}

	log := switchlog.New(cfg.LogLevelValue(), "(switchboard) ")
	log.Infof("starting, foreground=%v dry-run=%v", *foreground, *dryRun)

	store := keyring.NewStore(cfg.KeyringPath, log, rand.Reader)

	t, closeTransport, err := buildTransport(cfg, *dryRun, log)
	if err != nil {
		log.Errorf("build transport: %v", err)
		os.Exit(1)
	}
	defer closeTransport()

	limits := pairing.Limits{
		PhaseTimeout:            time.Duration(cfg.PairingTimeoutSeconds) * time.Second,
		IdleTimeout:             time.Duration(cfg.IdleTimeoutSeconds) * time.Second,
		MaxTotalPairingAttempts: cfg.MaxTotalPairingAttempts,
		MaxAbnormalityCount:     cfg.MaxAbnormalityCount,
		MaxChallengeAttempts:    cfg.MaxChallengeAttempts,
	}

	shim := pairing.NewShim(t, store, pairing.RealClock, loggingSink{log}, limits, log, rand.Reader, v3.New, v2.New)
	if err := shim.BeginPairing(); err != nil {
		log.Errorf("begin pairing: %v", err)
		os.Exit(1)
	}

	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGINT, syscall.SIGTERM)
	<-term

	log.Info("shutting down")
	shim.StopPairing()
}

// buildTransport picks the real BLE peripheral adapter, or an in-memory
// loopback pair in -dry-run mode where the peer half is left unused except
// as a sink for the daemon's own sends.
func buildTransport(cfg config.Config, dryRun bool, log switchlog.Logger) (transport.Transport, func(), error) {
	if dryRun {
		robot, _ := memtransport.NewPair()
		return robot, func() {}, nil
	}

	adapter := btperipheral.New(cfg.BLE, cfg.MTU, cfg.MaxReassemblySize, log)
	if err := adapter.Start(); err != nil {
		return nil, func() {}, err
	}
	return adapter, func() { _ = adapter.Close() }, nil
}
