package permission

import (
	"strings"
	"testing"
	"time"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func granted(mutate func(*Permission)) *Permission {
	p := &Permission{
		ID:             "perm-1",
		CustomerNumber: "+15551234567",
		BusinessNumber: "+18005550100",
		Status:         StatusGranted,
		ExpiresAt:      ptr(now.Add(48 * time.Hour)),
	}
	if mutate != nil {
		mutate(p)
	}
	return p
}

func TestEvaluate_NoRecord(t *testing.T) {
	d := Evaluate(nil, now)
	if d.Allowed {
		t.Fatalf("expected denial without a record")
	}
	if d.Reason != "no permission on file" {
		t.Fatalf("unexpected reason %q", d.Reason)
	}
}

func TestEvaluate_NonGrantedStatusesDeny(t *testing.T) {
	for _, status := range []Status{StatusRequested, StatusDenied, StatusExpired} {
		d := Evaluate(granted(func(p *Permission) { p.Status = status }), now)
		if d.Allowed {
			t.Fatalf("expected denial for status %s", status)
		}
		if !strings.Contains(d.Reason, string(status)) {
			t.Fatalf("reason %q should mention status %s", d.Reason, status)
		}
	}
}

func TestEvaluate_Expired(t *testing.T) {
	d := Evaluate(granted(func(p *Permission) { p.ExpiresAt = ptr(now.Add(-time.Minute)) }), now)
	if d.Allowed {
		t.Fatalf("expected denial for expired grant")
	}
	if !strings.Contains(d.Reason, "expired") {
		t.Fatalf("unexpected reason %q", d.Reason)
	}
}

func TestEvaluate_DailyLimitWithFreshWindow(t *testing.T) {
	d := Evaluate(granted(func(p *Permission) {
		p.CallsIn24h = MaxCallsPerDay
		p.LastCallAt = ptr(now.Add(-time.Hour))
	}), now)
	if d.Allowed {
		t.Fatalf("expected denial at daily limit")
	}
	if !strings.Contains(d.Reason, "daily call limit") {
		t.Fatalf("unexpected reason %q", d.Reason)
	}
}

func TestEvaluate_StaleCounterIsIgnored(t *testing.T) {
	// 25h since the last call: the stored counter is stale and the limit
	// check must be skipped regardless of its value.
	d := Evaluate(granted(func(p *Permission) {
		p.CallsIn24h = 99
		p.LastCallAt = ptr(now.Add(-25 * time.Hour))
	}), now)
	if !d.Allowed {
		t.Fatalf("expected allow with stale counter, got %q", d.Reason)
	}
}

func TestEvaluate_UnderLimitAllows(t *testing.T) {
	d := Evaluate(granted(func(p *Permission) {
		p.CallsIn24h = MaxCallsPerDay - 1
		p.LastCallAt = ptr(now.Add(-time.Hour))
	}), now)
	if !d.Allowed {
		t.Fatalf("expected allow, got %q", d.Reason)
	}
}

func TestEvaluateRequest_FirstRequestAllowed(t *testing.T) {
	if d := EvaluateRequest(nil, now); !d.Allowed {
		t.Fatalf("expected first request to be allowed, got %q", d.Reason)
	}
}

func TestEvaluateRequest_DailyLimit(t *testing.T) {
	p := granted(func(p *Permission) {
		p.RequestsIn24h = 1
		p.RequestSentAt = ptr(now.Add(-2 * time.Hour))
	})
	if d := EvaluateRequest(p, now); d.Allowed {
		t.Fatalf("expected denial within 24h window")
	}
}

func TestEvaluateRequest_WeeklyLimit(t *testing.T) {
	p := granted(func(p *Permission) {
		p.RequestsIn24h = 1
		p.RequestsIn7d = 2
		p.RequestSentAt = ptr(now.Add(-48 * time.Hour))
	})
	d := EvaluateRequest(p, now)
	if d.Allowed {
		t.Fatalf("expected denial at weekly limit")
	}
	if !strings.Contains(d.Reason, "7 days") {
		t.Fatalf("unexpected reason %q", d.Reason)
	}
}

func TestEvaluateRequest_ElapsedWindowsAllow(t *testing.T) {
	p := granted(func(p *Permission) {
		p.RequestsIn24h = 1
		p.RequestsIn7d = 2
		p.RequestSentAt = ptr(now.Add(-8 * 24 * time.Hour))
	})
	if d := EvaluateRequest(p, now); !d.Allowed {
		t.Fatalf("expected allow after windows elapsed, got %q", d.Reason)
	}
}

func TestResetElapsedRequestWindows(t *testing.T) {
	p := granted(func(p *Permission) {
		p.RequestsIn24h = 1
		p.RequestsIn7d = 2
		p.RequestSentAt = ptr(now.Add(-30 * time.Hour))
	})
	ResetElapsedRequestWindows(p, now)
	if p.RequestsIn24h != 0 {
		t.Fatalf("expected 24h counter reset, got %d", p.RequestsIn24h)
	}
	if p.RequestsIn7d != 2 {
		t.Fatalf("7d counter should survive until its window elapses, got %d", p.RequestsIn7d)
	}

	p.RequestSentAt = ptr(now.Add(-8 * 24 * time.Hour))
	ResetElapsedRequestWindows(p, now)
	if p.RequestsIn7d != 0 {
		t.Fatalf("expected 7d counter reset, got %d", p.RequestsIn7d)
	}
}
