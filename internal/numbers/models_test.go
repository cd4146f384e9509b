package numbers

import (
	"errors"
	"testing"
)

func TestNormalizeE164(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+919876543210", "+919876543210", true},
		{" +1 (555) 123-4567 ", "+15551234567", true},
		{"15551234567", "", false},
		{"+1555abc4567", "", false},
		{"+12345", "", false},
		{"+1234567890123456", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizeE164(tc.in)
		if tc.ok {
			if err != nil {
				t.Fatalf("NormalizeE164(%q): unexpected error %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("NormalizeE164(%q) = %q, want %q", tc.in, got, tc.want)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidNumber) {
			t.Fatalf("NormalizeE164(%q): expected ErrInvalidNumber, got %v", tc.in, err)
		}
	}
}

func TestCountryCodeOf(t *testing.T) {
	if got := CountryCodeOf("+919876543210"); got != "+919" {
		t.Fatalf("unexpected country code %q", got)
	}
	if got := CountryCodeOf("15551234567"); got != "" {
		t.Fatalf("expected empty code for non-E.164, got %q", got)
	}
}

func TestAccessTokenOrDefault(t *testing.T) {
	n := Number{AccessToken: "own"}
	if n.AccessTokenOrDefault("def") != "own" {
		t.Fatalf("expected per-number token")
	}
	n.AccessToken = ""
	if n.AccessTokenOrDefault("def") != "def" {
		t.Fatalf("expected fallback to default token")
	}
}
