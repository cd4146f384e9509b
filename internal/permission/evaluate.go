package permission

import (
	"fmt"
	"time"
)

// Call and request limits imposed by the provider's calling policy.
const (
	MaxCallsPerDay    = 5
	MaxRequestsPerDay = 1
	MaxRequestsPer7d  = 2

	callWindow      = 24 * time.Hour
	requestWindow   = 24 * time.Hour
	requestWindow7d = 7 * 24 * time.Hour

	// GrantValidity is how long a customer grant remains usable.
	GrantValidity = 7 * 24 * time.Hour
)

// Decision is the outcome of a permission evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true, Reason: "OK"} }

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Evaluate decides whether a call may be placed under p right now. Pure:
// it never mutates p and has no side effects. Transitioning an expired
// record to StatusExpired is the caller's job.
//
// A nil p means no record exists for the pair.
func Evaluate(p *Permission, now time.Time) Decision {
	if p == nil {
		return deny("no permission on file")
	}
	if p.Status != StatusGranted {
		return deny(fmt.Sprintf("permission status: %s", p.Status))
	}
	if p.ExpiresAt != nil && p.ExpiresAt.Before(now) {
		return deny("permission expired")
	}

	// The daily limit only applies while the window is fresh. An old
	// last_call_at means the counter is stale and the limit check is
	// skipped entirely.
	if p.LastCallAt != nil && now.Sub(*p.LastCallAt) < callWindow && p.CallsIn24h >= MaxCallsPerDay {
		return deny(fmt.Sprintf("daily call limit (%d) reached", MaxCallsPerDay))
	}

	return allow()
}

// EvaluateRequest decides whether another permission request may be sent.
// Separate from call limiting: at most 1 request per rolling 24h and 2 per
// rolling 7 days. A nil p (no record yet) always allows the first request.
func EvaluateRequest(p *Permission, now time.Time) Decision {
	if p == nil || p.RequestSentAt == nil {
		return allow()
	}

	since := now.Sub(*p.RequestSentAt)
	if since < requestWindow && p.RequestsIn24h >= MaxRequestsPerDay {
		return deny(fmt.Sprintf("only %d permission request per 24 hours allowed", MaxRequestsPerDay))
	}
	if since < requestWindow7d && p.RequestsIn7d >= MaxRequestsPer7d {
		return deny(fmt.Sprintf("only %d permission requests per 7 days allowed", MaxRequestsPer7d))
	}
	return allow()
}

// ResetElapsedRequestWindows zeroes request counters whose windows have fully
// elapsed since the last send. Mutates p; callers persist.
func ResetElapsedRequestWindows(p *Permission, now time.Time) {
	if p.RequestSentAt == nil {
		return
	}
	since := now.Sub(*p.RequestSentAt)
	if since >= requestWindow {
		p.RequestsIn24h = 0
	}
	if since >= requestWindow7d {
		p.RequestsIn7d = 0
	}
}
