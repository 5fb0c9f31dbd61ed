package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")

	// ErrInvalidFormat indicates phone number contains characters other than
	// digits, spaces, dashes, parentheses and plus
	ErrInvalidFormat = errors.New("phone number can only contain digits, spaces, dashes, parentheses and +")

	// ErrInvalidLength indicates the number of digits is outside 7-15
	ErrInvalidLength = errors.New("phone number must contain between 7 and 15 digits")
)

const (
	minPhoneDigits = 7
	maxPhoneDigits = 15 // E.164
)

// phoneRegex matches the characters a contact phone may be written with
var phoneRegex = regexp.MustCompile(`^[\d\-\(\)\s+]+$`)

// PhoneValidator handles contact phone validation
type PhoneValidator struct{}

// NewPhoneValidator creates a new phone validator instance
func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{}
}

// Validate checks a contact phone number.
// Accepts formats like 090-1234-5678, +81 90 1234 5678 or (03) 1234 5678.
// Returns the digits-only form (with a leading + kept) and an error if invalid.
func (v *PhoneValidator) Validate(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", ErrEmptyPhone
	}

	if !phoneRegex.MatchString(phone) {
		return "", ErrInvalidFormat
	}

	sanitized := v.Sanitize(phone)
	digits := strings.TrimPrefix(sanitized, "+")
	if strings.Contains(digits, "+") {
		return "", ErrInvalidFormat
	}
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return "", ErrInvalidLength
	}

	return sanitized, nil
}

// Sanitize removes spaces, dashes and parentheses. Plus signs are kept so
// Validate can reject one that is not leading.
func (v *PhoneValidator) Sanitize(phone string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(phone) {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsValid is a convenience method that returns true if phone is valid
func (v *PhoneValidator) IsValid(phone string) bool {
	_, err := v.Validate(phone)
	return err == nil
}
