package numbers

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Number is a business phone number registered with the messaging provider.

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

type Number struct {
	ID string `json:"id" db:"id"`

	// PhoneNumber is E.164, e.g. +18005550100.
	PhoneNumber string `json:"phone_number" db:"phone_number"`
	CountryCode string `json:"country_code" db:"country_code"`

	// PhoneNumberID is the provider-assigned identifier used in API paths.
	PhoneNumberID string `json:"phone_number_id" db:"phone_number_id"`

	// AccessToken may be empty; resolution falls back to the process-wide
	// default credential.
	AccessToken string `json:"-" db:"access_token"`

	Status Status `json:"status" db:"status"`

	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`

	// CurrentMonthUsage accumulates outbound call cost for the month.
	CurrentMonthUsage float64 `json:"current_month_usage" db:"current_month_usage"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AccessTokenOrDefault resolves the bearer credential for this number.
func (n Number) AccessTokenOrDefault(def string) string {
	if n.AccessToken != "" {
		return n.AccessToken
	}
	return def
}

var ErrInvalidNumber = errors.New("invalid phone number")

// NormalizeE164 strips separators and validates the E.164 shape: a leading
// "+" followed by 7-15 digits.
func NormalizeE164(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if cleaned == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNumber)
	}
	if !strings.HasPrefix(cleaned, "+") {
		return "", fmt.Errorf("%w: must start with + (E.164)", ErrInvalidNumber)
	}
	digits := cleaned[1:]
	for _, r := range digits {
		if !unicode.IsDigit(r) {
			return "", fmt.Errorf("%w: only digits allowed after +", ErrInvalidNumber)
		}
	}
	if len(digits) < 7 || len(digits) > 15 {
		return "", fmt.Errorf("%w: must have 7-15 digits, found %d", ErrInvalidNumber, len(digits))
	}
	return cleaned, nil
}

// CountryCodeOf extracts the leading 1-3 digit country code of an E.164
// number. Simplified prefix match; good enough for display purposes.
func CountryCodeOf(phone string) string {
	if !strings.HasPrefix(phone, "+") {
		return ""
	}
	digits := phone[1:]
	n := len(digits)
	if n > 3 {
		n = 3
	}
	if n == 0 {
		return ""
	}
	return "+" + digits[:n]
}
