package models

import (
	"strings"
	"unicode"
)

// DefaultRegion is used when a phone number carries no country code.
const DefaultRegion = "BR"

// regionCallingCodes maps supported default regions to their calling code.
var regionCallingCodes = map[string]string{
	"BR": "55",
	"PT": "351",
	"US": "1",
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone converts a phone number to E.164 (+<country><number>).
//
// National numbers (10 or 11 digits) get the region's calling code. A
// "+"-prefixed 11-digit number whose third digit is 9 is a Brazilian mobile
// that lost its country code upstream and is repaired to +55.
func NormalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	digits := digitsOnly(raw)
	if digits == "" {
		return ""
	}
	code, ok := regionCallingCodes[strings.ToUpper(region)]
	if !ok {
		code = regionCallingCodes[DefaultRegion]
	}

	if strings.HasPrefix(raw, "+") {
		if len(digits) == 11 && digits[2] == '9' && digits[0] != '1' && !strings.HasPrefix(digits, "55") {
			return "+55" + digits
		}
		return "+" + digits
	}
	if strings.HasPrefix(digits, "00") {
		return "+" + digits[2:]
	}
	switch len(digits) {
	case 10, 11:
		return "+" + code + digits
	default:
		return "+" + digits
	}
}

// LegacyPhoneForms returns historical storage forms of an E.164 number that
// older records may still carry: digits with country code, and the national
// number without it.
func LegacyPhoneForms(e164 string) []string {
	digits := strings.TrimPrefix(e164, "+")
	forms := []string{digits}
	if rest, ok := strings.CutPrefix(digits, "55"); ok && rest != "" {
		forms = append(forms, rest)
	}
	return forms
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NormalizeHandle lowercases a social handle and drops a leading "@".
func NormalizeHandle(raw string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "@")
}

// NormalizeDocument keeps digits only (CPF/CNPJ style documents).
func NormalizeDocument(raw string) string {
	return digitsOnly(raw)
}

// NormalizeContactValue applies the normalization rule for a contact type.
func NormalizeContactValue(t ContactType, value, region string) string {
	switch t {
	case ContactPhone, ContactWhatsApp:
		return NormalizePhone(value, region)
	case ContactEmail:
		return NormalizeEmail(value)
	case ContactInstagram:
		return NormalizeHandle(value)
	default:
		return strings.TrimSpace(value)
	}
}

// NormalizeIdentifierValue applies the normalization rule for an identifier type.
func NormalizeIdentifierValue(t IdentifierType, value, region string) string {
	switch t {
	case IdentifierPhone, IdentifierWhatsApp:
		return NormalizePhone(value, region)
	case IdentifierEmail:
		return NormalizeEmail(value)
	case IdentifierInstagram, IdentifierTelegram:
		return NormalizeHandle(value)
	default:
		return strings.TrimFunc(value, unicode.IsSpace)
	}
}
