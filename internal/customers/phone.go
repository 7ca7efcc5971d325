package customers

import (
	"strings"
	"unicode"

	"github.com/ttacon/libphonenumber"
)

// NormalizePhone returns the canonical form of raw used as the dedup key.
//
// A number that parses and validates for region is returned in E.164.
// Anything else falls back to its digits, keeping a leading '+'.
// Returns "" when raw has no digits.
func NormalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if num, err := libphonenumber.Parse(raw, region); err == nil && libphonenumber.IsValidNumber(num) {
		return libphonenumber.Format(num, libphonenumber.E164)
	}

	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	if strings.HasPrefix(raw, "+") {
		return "+" + b.String()
	}
	return b.String()
}
