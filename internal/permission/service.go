package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sagar-j-gurav/whatsapp-calling/internal/numbers"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/provider"
)

// TemplateName is the pre-approved provider template used for call
// permission requests. The voice_call button component is mandated by the
// provider's opt-in flow.
const TemplateName = "call_permission_request"

var ErrRequestLimited = errors.New("permission request limit reached")

// Records is the persistence surface the service needs.
type Records interface {
	FindByPair(ctx context.Context, customerNumber, businessNumber string) (Permission, bool, error)
	Insert(ctx context.Context, p Permission) error
	Update(ctx context.Context, p Permission) error
}

// TemplateSender sends a provider template message.
type TemplateSender interface {
	SendTemplate(ctx context.Context, cred provider.Credentials, toNumber, templateName string, components []map[string]any) error
}

// NumberSource resolves the business number originating the request.
type NumberSource interface {
	FindActive(ctx context.Context) (numbers.Number, bool, error)
}

// Service owns the permission request and grant flows.
type Service struct {
	records      Records
	sender       TemplateSender
	numbers      NumberSource
	defaultToken string

	log   *slog.Logger
	clock func() time.Time
}

func NewService(records Records, sender TemplateSender, src NumberSource, defaultToken string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		records:      records,
		sender:       sender,
		numbers:      src,
		defaultToken: defaultToken,
		log:          log,
		clock:        time.Now,
	}
}

// Request sends a call-permission request template to the customer, creating
// or updating the permission record and enforcing the request limits.
func (s *Service) Request(ctx context.Context, customerNumber, lead string) error {
	customerNumber, err := numbers.NormalizeE164(customerNumber)
	if err != nil {
		return err
	}

	num, ok, err := s.numbers.FindActive(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("no active business number configured")
	}

	now := s.clock().UTC()

	rec, found, err := s.records.FindByPair(ctx, customerNumber, num.PhoneNumber)
	if err != nil {
		return err
	}

	var p *Permission
	if found {
		p = &rec
		ResetElapsedRequestWindows(p, now)
	}
	if d := EvaluateRequest(p, now); !d.Allowed {
		return fmt.Errorf("%w: %s", ErrRequestLimited, d.Reason)
	}

	cred := provider.Credentials{
		PhoneNumberID: num.PhoneNumberID,
		AccessToken:   num.AccessTokenOrDefault(s.defaultToken),
	}
	components := []map[string]any{{
		"type":     "button",
		"sub_type": "voice_call",
		"index":    0,
		"parameters": []map[string]any{{
			"type":   "action",
			"action": map[string]any{"flow_action_type": "voice_call_request"},
		}},
	}}
	if err := s.sender.SendTemplate(ctx, cred, customerNumber, TemplateName, components); err != nil {
		return err
	}

	if p == nil {
		p = &Permission{
			ID:             uuid.NewString(),
			CustomerNumber: customerNumber,
			BusinessNumber: num.PhoneNumber,
			Status:         StatusRequested,
			Lead:           lead,
			CreatedAt:      now,
		}
		p.RequestsIn24h = 1
		p.RequestsIn7d = 1
		p.RequestSentAt = &now
		p.UpdatedAt = now
		return s.records.Insert(ctx, *p)
	}

	p.RequestsIn24h++
	p.RequestsIn7d++
	p.RequestSentAt = &now
	p.UpdatedAt = now
	return s.records.Update(ctx, *p)
}

// Grant records a customer grant: status Granted, a fresh expiry window, and
// a reset call counter. Invoked when the provider reports the customer
// accepted the permission request.
func (s *Service) Grant(ctx context.Context, customerNumber, businessNumber string) error {
	rec, found, err := s.records.FindByPair(ctx, customerNumber, businessNumber)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	now := s.clock().UTC()
	expires := now.Add(GrantValidity)

	rec.Status = StatusGranted
	rec.GrantedAt = &now
	rec.ExpiresAt = &expires
	rec.CallsIn24h = 0
	rec.UpdatedAt = now
	return s.records.Update(ctx, rec)
}
