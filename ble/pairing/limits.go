package pairing

import "time"

// Limits carries the tunable per-phase timeouts and attempt caps,
// sourced from internal/config so a daemon operator can adjust them
// without a rebuild.
type Limits struct {
	PhaseTimeout            time.Duration
	IdleTimeout             time.Duration
	MaxTotalPairingAttempts int
	MaxAbnormalityCount     int
	MaxChallengeAttempts    int
}

// DefaultLimits returns this daemon's hard-coded default timeouts and
// attempt caps.
func DefaultLimits() Limits {
	return Limits{
		PhaseTimeout:            60 * time.Second,
		IdleTimeout:             5 * time.Second,
		MaxTotalPairingAttempts: 3,
		MaxAbnormalityCount:     5,
		MaxChallengeAttempts:    5,
	}
}
