// Package auth provides phone-number based authentication: phone
// normalization, OTP delivery through an external provider, and JWT
// access tokens.
package auth

import (
	"errors"
	"strings"
)

// ErrInvalidPhoneNumber is returned when a phone number cannot be
// normalized to canonical form.
var ErrInvalidPhoneNumber = errors.New("invalid phone number format")

// NormalizePhoneNumber converts a raw phone number to canonical
// +<countrycode><digits> form. Nigerian local forms (leading zero) are
// rewritten to +234; numbers already carrying the 234 country code gain
// the plus prefix.
func NormalizePhoneNumber(raw string) (string, error) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	cleaned := digits.String()

	switch {
	case (len(cleaned) == 10 || len(cleaned) == 11) && strings.HasPrefix(cleaned, "0"):
		cleaned = "+234" + cleaned[1:]
	case len(cleaned) == 13 && strings.HasPrefix(cleaned, "234"):
		cleaned = "+" + cleaned
	case strings.HasPrefix(strings.TrimSpace(raw), "+"):
		cleaned = "+" + cleaned
	}

	if len(cleaned) < 13 || len(cleaned) > 14 {
		return "", ErrInvalidPhoneNumber
	}
	return cleaned, nil
}
