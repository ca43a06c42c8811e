package pairing

import "time"

// Timer abstracts an armed, cancelable callback so v3.Machine's tests can
// fast-forward the per-phase timer and the idle timeout instead of
// sleeping.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so tests control it deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// RealClock is the production Clock, backed by the standard library.
var RealClock Clock = realClock{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
