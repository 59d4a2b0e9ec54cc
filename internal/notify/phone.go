package notify

import "strings"

const defaultCountryCode = "91"

// NormalizePhone turns user-typed numbers into the international form the
// sender expects: digits only, country code first, no leading plus.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "00") {
		return digits[2:]
	}
	digits = strings.TrimLeft(digits, "0")
	if len(digits) == 10 {
		return defaultCountryCode + digits
	}
	return digits
}
