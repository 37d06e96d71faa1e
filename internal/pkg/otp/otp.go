package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	// Length is the number of digits in every code.
	Length = 6
	// DefaultExpiry is how long a code stays valid.
	DefaultExpiry = 3 * time.Minute

	minCode = 100000
	maxCode = 999999
)

// Generate returns a uniformly random 6-digit code in [100000, 999999] and the
// absolute time at which it expires.
func Generate(now time.Time, expiry time.Duration) (code string, expiresAt time.Time, err error) {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxCode-minCode+1))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+minCode), now.Add(expiry), nil
}

// Message is the SMS body carrying code.
func Message(code string, expiry time.Duration) string {
	return fmt.Sprintf("Your OTP is %s. It is valid for %d minutes.", code, int(expiry.Minutes()))
}
