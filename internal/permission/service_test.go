package permission

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sagar-j-gurav/whatsapp-calling/internal/numbers"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/provider"
)

type fakeRecords struct {
	byPair  map[string]Permission
	updates int
	inserts int
}

func pairKey(customer, business string) string { return customer + "|" + business }

func (f *fakeRecords) FindByPair(_ context.Context, customer, business string) (Permission, bool, error) {
	p, ok := f.byPair[pairKey(customer, business)]
	return p, ok, nil
}

func (f *fakeRecords) Insert(_ context.Context, p Permission) error {
	f.inserts++
	f.byPair[pairKey(p.CustomerNumber, p.BusinessNumber)] = p
	return nil
}

func (f *fakeRecords) Update(_ context.Context, p Permission) error {
	f.updates++
	f.byPair[pairKey(p.CustomerNumber, p.BusinessNumber)] = p
	return nil
}

type fakeSender struct {
	sent []string
	cred provider.Credentials
	err  error
}

func (f *fakeSender) SendTemplate(_ context.Context, cred provider.Credentials, to, name string, _ []map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.cred = cred
	f.sent = append(f.sent, name+"->"+to)
	return nil
}

type fakeNumbers struct {
	num numbers.Number
	ok  bool
}

func (f *fakeNumbers) FindActive(_ context.Context) (numbers.Number, bool, error) {
	return f.num, f.ok, nil
}

func newTestService(rec *fakeRecords, sender *fakeSender) *Service {
	src := &fakeNumbers{
		num: numbers.Number{
			ID:            "num-1",
			PhoneNumber:   "+18005550100",
			PhoneNumberID: "1098765",
		},
		ok: true,
	}
	s := NewService(rec, sender, src, "default-token", slog.Default())
	s.clock = func() time.Time { return now }
	return s
}

func TestRequest_FirstRequestCreatesRecord(t *testing.T) {
	rec := &fakeRecords{byPair: map[string]Permission{}}
	sender := &fakeSender{}
	s := newTestService(rec, sender)

	if err := s.Request(context.Background(), "+1 555 123 4567", "lead-9"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec.inserts != 1 {
		t.Fatalf("expected one insert, got %d", rec.inserts)
	}
	p := rec.byPair[pairKey("+15551234567", "+18005550100")]
	if p.Status != StatusRequested || p.RequestsIn24h != 1 || p.RequestsIn7d != 1 {
		t.Fatalf("unexpected record %+v", p)
	}
	if p.RequestSentAt == nil || !p.RequestSentAt.Equal(now) {
		t.Fatalf("expected request_sent_at set")
	}
	if len(sender.sent) != 1 || sender.sent[0] != TemplateName+"->+15551234567" {
		t.Fatalf("unexpected sends %v", sender.sent)
	}
	// No per-number token configured: must fall back to the default.
	if sender.cred.AccessToken != "default-token" {
		t.Fatalf("expected default token fallback, got %q", sender.cred.AccessToken)
	}
}

func TestRequest_DailyLimitBlocks(t *testing.T) {
	sent := now.Add(-2 * time.Hour)
	rec := &fakeRecords{byPair: map[string]Permission{
		pairKey("+15551234567", "+18005550100"): {
			ID:             "perm-1",
			CustomerNumber: "+15551234567",
			BusinessNumber: "+18005550100",
			Status:         StatusRequested,
			RequestsIn24h:  1,
			RequestsIn7d:   1,
			RequestSentAt:  &sent,
		},
	}}
	sender := &fakeSender{}
	s := newTestService(rec, sender)

	err := s.Request(context.Background(), "+15551234567", "")
	if !errors.Is(err, ErrRequestLimited) {
		t.Fatalf("expected ErrRequestLimited, got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("no template should be sent when limited")
	}
}

func TestRequest_ElapsedWindowResetsAndSends(t *testing.T) {
	sent := now.Add(-30 * time.Hour)
	rec := &fakeRecords{byPair: map[string]Permission{
		pairKey("+15551234567", "+18005550100"): {
			ID:             "perm-1",
			CustomerNumber: "+15551234567",
			BusinessNumber: "+18005550100",
			Status:         StatusRequested,
			RequestsIn24h:  1,
			RequestsIn7d:   1,
			RequestSentAt:  &sent,
		},
	}}
	sender := &fakeSender{}
	s := newTestService(rec, sender)

	if err := s.Request(context.Background(), "+15551234567", ""); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	p := rec.byPair[pairKey("+15551234567", "+18005550100")]
	if p.RequestsIn24h != 1 {
		t.Fatalf("expected 24h counter reset then incremented, got %d", p.RequestsIn24h)
	}
	if p.RequestsIn7d != 2 {
		t.Fatalf("expected 7d counter incremented, got %d", p.RequestsIn7d)
	}
}

func TestRequest_SendFailureLeavesCountersUntouched(t *testing.T) {
	rec := &fakeRecords{byPair: map[string]Permission{}}
	sender := &fakeSender{err: provider.ErrTemplateRejected}
	s := newTestService(rec, sender)

	err := s.Request(context.Background(), "+15551234567", "")
	if !errors.Is(err, provider.ErrTemplateRejected) {
		t.Fatalf("expected template rejection, got %v", err)
	}
	if rec.inserts != 0 || rec.updates != 0 {
		t.Fatalf("record must not change when the send fails")
	}
}

func TestGrant(t *testing.T) {
	rec := &fakeRecords{byPair: map[string]Permission{
		pairKey("+15551234567", "+18005550100"): {
			ID:             "perm-1",
			CustomerNumber: "+15551234567",
			BusinessNumber: "+18005550100",
			Status:         StatusRequested,
			CallsIn24h:     3,
		},
	}}
	s := newTestService(rec, &fakeSender{})

	if err := s.Grant(context.Background(), "+15551234567", "+18005550100"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	p := rec.byPair[pairKey("+15551234567", "+18005550100")]
	if p.Status != StatusGranted {
		t.Fatalf("expected granted, got %s", p.Status)
	}
	if p.CallsIn24h != 0 {
		t.Fatalf("grant must reset the call counter, got %d", p.CallsIn24h)
	}
	if p.ExpiresAt == nil || !p.ExpiresAt.Equal(now.Add(GrantValidity)) {
		t.Fatalf("unexpected expiry %v", p.ExpiresAt)
	}
}

func TestGrant_MissingRecord(t *testing.T) {
	s := newTestService(&fakeRecords{byPair: map[string]Permission{}}, &fakeSender{})
	if err := s.Grant(context.Background(), "+15551234567", "+18005550100"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
