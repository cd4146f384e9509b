package calls

import "testing"

func TestStatusActive(t *testing.T) {
	cases := []struct {
		status Status
		want   bool
	}{
		{StatusRinging, true},
		{StatusInitiated, true},
		{StatusAnswered, false},
		{StatusEnded, false},
		{StatusFailed, false},
	}
	for _, c := range cases {
		if got := c.status.active(); got != c.want {
			t.Fatalf("%s: active() = %v, want %v", c.status, got, c.want)
		}
	}
}
