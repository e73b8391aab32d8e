package phone

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPhoneNumber = errors.New("invalid phone number")

const (
	minDigits = 7
	maxDigits = 15
)

// Normalize turns a raw phone number into its canonical digit string.
// A national-format leading zero is replaced by countryCode and an
// international "00" prefix is dropped. Routable-address suffixes ("@...")
// and device suffixes (":12") are ignored.
func Normalize(raw, countryCode string) (string, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	s = dropTrunkZero(s)

	digits := onlyDigits(s)
	switch {
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case strings.HasPrefix(digits, "0") && !strings.HasPrefix(strings.TrimSpace(s), "+"):
		digits = onlyDigits(countryCode) + digits[1:]
	}

	if n := len(digits); n < minDigits || n > maxDigits {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhoneNumber, raw)
	}
	return digits, nil
}

// Address returns the routable form of raw. Input that already carries a
// provider suffix is passed through unchanged.
func Address(raw, countryCode, suffix string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.Contains(trimmed, "@") {
		return trimmed, nil
	}
	canonical, err := Normalize(trimmed, countryCode)
	if err != nil {
		return "", err
	}
	return canonical + suffix, nil
}

// FromAddress extracts the canonical identifier from a routable address.
func FromAddress(addr, countryCode string) (string, error) {
	return Normalize(addr, countryCode)
}

// dropTrunkZero removes a "(0)" trunk prefix written after a country code,
// as in "+27 (0)82 123 4567".
func dropTrunkZero(s string) string {
	i := strings.Index(s, "(0)")
	if i <= 0 || onlyDigits(s[:i]) == "" {
		return s
	}
	return s[:i] + s[i+len("(0)"):]
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
