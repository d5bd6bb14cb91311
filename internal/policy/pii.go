package policy

import (
	"regexp"
)

var (
	emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`\+?\(?\d{2,3}\)?[\s.\-]?\d{3,5}[\s.\-]\d{4}\b`)
	cpfPattern   = regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{3}\-\d{2}\b`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)
)

// MaskPIIString redacts contact details and document numbers from free text
// before it is sent to an external model.
func MaskPIIString(value string) string {
	masked := emailPattern.ReplaceAllString(value, "[email_redacted]")
	masked = cardPattern.ReplaceAllStringFunc(masked, maskCardNumber)
	masked = cpfPattern.ReplaceAllString(masked, "***.***.***-**")
	masked = ssnPattern.ReplaceAllString(masked, "***-**-****")
	masked = phonePattern.ReplaceAllString(masked, "[phone_redacted]")
	return masked
}

func maskCardNumber(value string) string {
	digits := make([]rune, 0, len(value))
	for _, char := range value {
		if char >= '0' && char <= '9' {
			digits = append(digits, char)
		}
	}
	if len(digits) < 8 {
		return "[card_redacted]"
	}

	last4 := string(digits[len(digits)-4:])
	return "**** **** **** " + last4
}
