package verification

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// parsePhoneNumber normalizes an E.164 number and returns it with its ISO country code.
// A number the library cannot place in a region falls back to the main region of its calling code.
func parsePhoneNumber(raw string) (number, country string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", ErrPhoneNumberRequired
	}
	if !strings.HasPrefix(raw, "+") {
		return "", "", ErrInvalidPhoneNumber
	}
	num, err := phonenumbers.Parse(raw, "")
	if err != nil || !phonenumbers.IsPossibleNumber(num) {
		return "", "", ErrInvalidPhoneNumber
	}
	country = phonenumbers.GetRegionCodeForNumber(num)
	if country == "" || country == "ZZ" {
		country = phonenumbers.GetRegionCodeForCountryCode(int(num.GetCountryCode()))
	}
	if country == "" || country == "ZZ" {
		return "", "", ErrInvalidPhoneNumber
	}
	return phonenumbers.Format(num, phonenumbers.E164), country, nil
}
