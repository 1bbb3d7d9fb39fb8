package utils

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// NormalizePhone parses a phone number as the messaging provider sends it
// (optionally prefixed with "whatsapp:") and formats it as E.164. Numbers
// without a country code are read in defaultRegion.
func NormalizePhone(raw, defaultRegion string) (string, error) {
	phone := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "whatsapp:"))
	if phone == "" {
		return "", fmt.Errorf("empty phone number")
	}

	num, err := phonenumbers.Parse(phone, strings.ToUpper(defaultRegion))
	if err != nil {
		return "", fmt.Errorf("parse phone number %q: %w", raw, err)
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", fmt.Errorf("phone number %q is not possible", raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
