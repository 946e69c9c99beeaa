package channel

import "strings"

// NormalizeMSISDN turns a locally-formatted number into the digits-only
// international form the Cloud API expects. "+" and separators are dropped,
// a single leading zero is trimmed, and a bare 10-digit local number gets
// the default country code prefixed.
func NormalizeMSISDN(raw, defaultCC string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if strings.HasPrefix(digits, "0") && len(digits) == 11 {
		digits = digits[1:]
	}
	if len(digits) == 10 && defaultCC != "" {
		digits = defaultCC + digits
	}
	return digits
}
