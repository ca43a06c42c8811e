// Package config loads the switchboard daemon's on-disk YAML configuration,
// falling back to built-in defaults when the file is absent.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/digital-dream-labs/victor-switchboard/internal/switchlog"
)

// BLE holds the adapter settings consumed only by the real GATT transport.
type BLE struct {
	DeviceNamePrefix string `yaml:"device_name_prefix"`
	AdvServiceUUID   string `yaml:"adv_service_uuid"`
}

// Config is the daemon's full runtime configuration.
type Config struct {
	KeyringPath             string `yaml:"keyring_path"`
	LogLevel                string `yaml:"log_level"`
	MTU                     int    `yaml:"mtu"`
	MaxReassemblySize       int    `yaml:"max_reassembly_size"`
	PairingTimeoutSeconds   int    `yaml:"pairing_timeout_seconds"`
	IdleTimeoutSeconds      int    `yaml:"idle_timeout_seconds"`
	MaxTotalPairingAttempts int    `yaml:"max_total_pairing_attempts"`
	MaxAbnormalityCount     int    `yaml:"max_abnormality_count"`
	MaxChallengeAttempts    int    `yaml:"max_challenge_attempts"`
	BLE                     BLE    `yaml:"ble"`
}

// Default returns the built-in configuration used when no file is present.
func Default() Config {
	return Config{
		KeyringPath:             "/data/switchboard/keys",
		LogLevel:                "info",
		MTU:                     20,
		MaxReassemblySize:       8192,
		PairingTimeoutSeconds:   60,
		IdleTimeoutSeconds:      5,
		MaxTotalPairingAttempts: 3,
		MaxAbnormalityCount:     5,
		MaxChallengeAttempts:    5,
		BLE: BLE{
			DeviceNamePrefix: "Vector",
			AdvServiceUUID:   "fee3",
		},
	}
}

// Load reads and parses the YAML file at path, overlaying it onto the
// built-in defaults. A missing file is not an error: Load returns the
// defaults unchanged, matching the keyring store's absent-file posture.
func Load(path string) (Config, error) {
	cfg := Default()

	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LogLevel {
	case "silent", "error", "info", "debug":
	default:
		return fmt.Errorf("log_level must be one of silent|error|info|debug, got %q", c.LogLevel)
	}
	if c.MTU <= 0 {
		return fmt.Errorf("mtu must be positive, got %d", c.MTU)
	}
	if c.MaxReassemblySize <= 0 {
		return fmt.Errorf("max_reassembly_size must be positive, got %d", c.MaxReassemblySize)
	}
	if c.PairingTimeoutSeconds <= 0 {
		return fmt.Errorf("pairing_timeout_seconds must be positive, got %d", c.PairingTimeoutSeconds)
	}
	if c.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("idle_timeout_seconds must be positive, got %d", c.IdleTimeoutSeconds)
	}
	if c.MaxTotalPairingAttempts <= 0 {
		return fmt.Errorf("max_total_pairing_attempts must be positive, got %d", c.MaxTotalPairingAttempts)
	}
	if c.MaxAbnormalityCount <= 0 {
		return fmt.Errorf("max_abnormality_count must be positive, got %d", c.MaxAbnormalityCount)
	}
	if c.MaxChallengeAttempts <= 0 {
		return fmt.Errorf("max_challenge_attempts must be positive, got %d", c.MaxChallengeAttempts)
	}
	return nil
}

// LogLevelValue maps the configured LogLevel string onto switchlog's
// integer level constants.
func (c Config) LogLevelValue() int {
	switch c.LogLevel {
	case "debug":
		return switchlog.LevelDebug
	case "info":
		return switchlog.LevelInfo
	case "error":
		return switchlog.LevelError
	default:
		return switchlog.LevelSilent
	}
}
