package clock

import "time"

// Clock is the single time source used for OTP expiry and token lifetimes.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock in UTC.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Func adapts a plain function to Clock. Tests use it to pin time.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }
