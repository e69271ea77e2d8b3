// Package clock abstracts wall-clock time so schedulers can be driven by tests.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

// System returns the process wall clock.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Func adapts a plain function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }
