package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sagar-j-gurav/whatsapp-calling/internal/gateway"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/numbers"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/permission"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/pricing"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/provider"
)

// Gateway is the media-gateway surface the call flows need.
type Gateway interface {
	NegotiateSDP(ctx context.Context, offerSDP string) (gateway.Negotiation, error)
	JoinRoom(ctx context.Context, sessionID, handleID, roomID int64, offerSDP string) (gateway.Negotiation, error)
	SetupRoom(ctx context.Context) (gateway.RoomSetup, error)
	DestroyRoom(ctx context.Context, sessionID, handleID, roomID int64) error
}

// CallControl is the provider's call signalling surface.
type CallControl interface {
	InitiateCall(ctx context.Context, cred provider.Credentials, toNumber string) (string, error)
	PreAccept(ctx context.Context, cred provider.Credentials, callID, answerSDP string) error
	Accept(ctx context.Context, cred provider.Credentials, callID, answerSDP string) error
	Terminate(ctx context.Context, cred provider.Credentials, callID string) error
}

// PermissionGate checks and records calling permission for outbound calls.
type PermissionGate interface {
	FindByPair(ctx context.Context, customerNumber, businessNumber string) (permission.Permission, bool, error)
	RecordCall(ctx context.Context, customerNumber, businessNumber string, now time.Time) error
}

// NumberDirectory resolves business numbers and books their usage.
type NumberDirectory interface {
	FindByPhoneNumber(ctx context.Context, phone string) (numbers.Number, bool, error)
	FindActive(ctx context.Context) (numbers.Number, bool, error)
	RecordUsage(ctx context.Context, id string, cost float64, now time.Time) error
}

// SessionStore is the persistence surface for call sessions.
type SessionStore interface {
	CreateOrGet(ctx context.Context, s Session) (Session, bool, error)
	GetByCallID(ctx context.Context, callID string) (Session, error)
	Update(ctx context.Context, s Session) error
}

// Notifier announces inbound calls to waiting agents.
type Notifier interface {
	IncomingCall(ctx context.Context, s Session) error
}

// LeadSource resolves a customer number to a CRM lead. Best-effort.
type LeadSource interface {
	FindByMobile(ctx context.Context, mobile string) (string, error)
}

// Config holds the service-level call settings.
type Config struct {
	// DefaultAccessToken is the fallback provider credential for numbers
	// without their own token.
	DefaultAccessToken string

	// RecordCalls and RecordingDir mirror the gateway recording settings so
	// sessions can reference the file the gateway will produce.
	RecordCalls  bool
	RecordingDir string
}

// Service owns the call state machine. Transitions are Ringing|Initiated ->
// Answered -> Ended; side effects (permission booking, usage charging,
// notifications) fire only on the transition that first reaches the state,
// which is what makes webhook retries and double submits harmless.
type Service struct {
	store   SessionStore
	gateway Gateway
	control CallControl
	perms   PermissionGate
	numbers NumberDirectory
	leads   LeadSource
	notify  Notifier
	pricing pricing.Calculator

	cfg Config

	// limiter is optional; nil means unlimited.
	limiter ConcurrencyLimiter

	log   *slog.Logger
	clock func() time.Time
}

func NewService(
	store SessionStore,
	gw Gateway,
	control CallControl,
	perms PermissionGate,
	dir NumberDirectory,
	leads LeadSource,
	notify Notifier,
	calc pricing.Calculator,
	cfg Config,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:   store,
		gateway: gw,
		control: control,
		perms:   perms,
		numbers: dir,
		leads:   leads,
		notify:  notify,
		pricing: calc,
		cfg:     cfg,
		log:     log,
		clock:   time.Now,
	}
}

// SetConcurrencyLimiter installs a cap on simultaneously active calls.
func (s *Service) SetConcurrencyLimiter(l ConcurrencyLimiter) {
	s.limiter = l
}

// acquireSlot reserves an active-call slot when a limiter is installed.
func (s *Service) acquireSlot(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	ok, err := s.limiter.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCapacity
	}
	return nil
}

func (s *Service) releaseSlot(ctx context.Context) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Release(ctx); err != nil {
		s.log.Warn("call slot release failed", "error", err)
	}
}

// PlaceCall starts an outbound call to a customer. The permission gate is
// checked before any provider traffic; a room is provisioned up front so the
// later answer only has to join it.
func (s *Service) PlaceCall(ctx context.Context, toNumber, agent string) (Session, error) {
	toNumber, err := numbers.NormalizeE164(toNumber)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	num, ok, err := s.numbers.FindActive(ctx)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, fmt.Errorf("%w: no active business number configured", ErrValidation)
	}

	now := s.clock().UTC()

	rec, found, err := s.perms.FindByPair(ctx, toNumber, num.PhoneNumber)
	if err != nil {
		return Session{}, err
	}
	var p *permission.Permission
	if found {
		p = &rec
	}
	if d := permission.Evaluate(p, now); !d.Allowed {
		return Session{}, fmt.Errorf("%w: %s", ErrPermissionDenied, d.Reason)
	}

	if err := s.acquireSlot(ctx); err != nil {
		return Session{}, err
	}

	room, err := s.gateway.SetupRoom(ctx)
	if err != nil {
		s.releaseSlot(ctx)
		return Session{}, err
	}

	cred := s.credentials(num)
	callID, err := s.control.InitiateCall(ctx, cred, toNumber)
	if err != nil {
		if derr := s.gateway.DestroyRoom(ctx, room.SessionID, room.HandleID, room.RoomID); derr != nil {
			s.log.Warn("room teardown after failed initiate", "room_id", room.RoomID, "error", derr)
		}
		s.releaseSlot(ctx)
		return Session{}, err
	}

	lead := s.resolveLead(ctx, toNumber)

	sess := Session{
		ID:               uuid.NewString(),
		CallID:           callID,
		Direction:        DirectionOutbound,
		Status:           StatusInitiated,
		CustomerNumber:   toNumber,
		BusinessNumber:   num.PhoneNumber,
		GatewaySessionID: room.SessionID,
		GatewayHandleID:  room.HandleID,
		GatewayRoomID:    room.RoomID,
		AssignedTo:       agent,
		Lead:             lead,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	stored, _, err := s.store.CreateOrGet(ctx, sess)
	if err != nil {
		return Session{}, err
	}

	s.log.Info("outbound call placed", "call_id", callID, "to", toNumber, "room_id", room.RoomID)
	return stored, nil
}

// HandleEvent applies a normalized provider event to the state machine.
// Events are at-least-once; every branch tolerates replays.
func (s *Service) HandleEvent(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventConnect:
		return s.handleConnect(ctx, ev)
	case EventAnswer:
		return s.handleAnswer(ctx, ev)
	case EventTerminate:
		_, err := s.Terminate(ctx, ev.CallID, ev.Duration)
		return err
	default:
		return fmt.Errorf("%w: unknown event kind %q", ErrValidation, ev.Kind)
	}
}

// handleConnect registers an inbound call, or attaches the customer offer to
// an outbound call the provider is now connecting.
func (s *Service) handleConnect(ctx context.Context, ev Event) error {
	now := s.eventTime(ev)

	existing, err := s.store.GetByCallID(ctx, ev.CallID)
	switch {
	case err == nil:
		// Known session: an outbound leg delivering its offer, or a replay.
		if existing.SDPOffer == "" && ev.SDPOffer != "" {
			existing.SDPOffer = ev.SDPOffer
			existing.UpdatedAt = now
			if err := s.store.Update(ctx, existing); err != nil {
				return err
			}
			s.log.Info("offer attached to call", "call_id", ev.CallID, "direction", existing.Direction)
		}
		return nil
	case !errors.Is(err, ErrNotFound):
		return err
	}

	from, err := numbers.NormalizeE164(ev.From)
	if err != nil {
		// Some providers strip the plus. Retry once with it restored.
		from, err = numbers.NormalizeE164("+" + ev.From)
		if err != nil {
			return fmt.Errorf("%w: caller number %q", ErrValidation, ev.From)
		}
	}

	// The dialed number must be one of ours; the lookup tolerates a stripped
	// plus. Calls for numbers we do not own are dropped, not ring-fanned.
	num, ok, err := s.numbers.FindByPhoneNumber(ctx, ev.To)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Warn("call for unregistered business number ignored", "call_id", ev.CallID, "to", ev.To)
		return nil
	}

	lead := s.resolveLead(ctx, from)

	sess := Session{
		ID:             uuid.NewString(),
		CallID:         ev.CallID,
		Direction:      DirectionInbound,
		Status:         StatusRinging,
		CustomerNumber: from,
		BusinessNumber: num.PhoneNumber,
		SDPOffer:       ev.SDPOffer,
		Lead:           lead,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	stored, created, err := s.store.CreateOrGet(ctx, sess)
	if err != nil {
		return err
	}
	if created {
		s.log.Info("inbound call ringing", "call_id", ev.CallID, "from", from)
		if err := s.notify.IncomingCall(ctx, stored); err != nil {
			s.log.Warn("incoming call notification failed", "call_id", ev.CallID, "error", err)
		}
	}
	return nil
}

// handleAnswer advances the status when the provider reports the call
// connected. It never negotiates; negotiation belongs to the Answer
// operation.
func (s *Service) handleAnswer(ctx context.Context, ev Event) error {
	sess, err := s.store.GetByCallID(ctx, ev.CallID)
	if err != nil {
		return err
	}
	if !sess.Status.active() {
		return nil
	}
	return s.markAnswered(ctx, &sess, s.eventTime(ev))
}

// Answer bridges a call: negotiate the offer with the gateway, then hand the
// answer to the provider. Persisted state changes only after the provider
// accepts, so a failed accept leaves the call answerable.
func (s *Service) Answer(ctx context.Context, callID, agent string) (Session, error) {
	sess, err := s.store.GetByCallID(ctx, callID)
	if err != nil {
		return Session{}, err
	}

	if sess.Status == StatusAnswered {
		return sess, nil
	}
	if !sess.Status.active() {
		return Session{}, fmt.Errorf("%w: cannot answer call in status %s", ErrConflict, sess.Status)
	}
	if sess.SDPOffer == "" {
		return Session{}, ErrMissingNegotiationInput
	}

	num, ok, err := s.numbers.FindByPhoneNumber(ctx, sess.BusinessNumber)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, fmt.Errorf("%w: business number %s not registered", ErrValidation, sess.BusinessNumber)
	}
	cred := s.credentials(num)

	// Outbound calls hold their slot from PlaceCall on.
	if sess.Direction == DirectionInbound {
		if err := s.acquireSlot(ctx); err != nil {
			return Session{}, err
		}
	}

	// A session placed outbound already holds a room; join it instead of
	// provisioning a second one that nothing would ever tear down.
	reusedRoom := sess.GatewayRoomID != 0
	var neg gateway.Negotiation
	if reusedRoom {
		neg, err = s.gateway.JoinRoom(ctx, sess.GatewaySessionID, sess.GatewayHandleID, sess.GatewayRoomID, sess.SDPOffer)
	} else {
		neg, err = s.gateway.NegotiateSDP(ctx, sess.SDPOffer)
	}
	if err != nil {
		if sess.Direction == DirectionInbound {
			s.releaseSlot(ctx)
		}
		return Session{}, err
	}

	if err := s.control.PreAccept(ctx, cred, callID, neg.AnswerSDP); err != nil {
		s.log.Warn("pre-accept failed, continuing to accept", "call_id", callID, "error", err)
	}

	if err := s.control.Accept(ctx, cred, callID, neg.AnswerSDP); err != nil {
		// A room created for this answer is torn down; a reused room stays up
		// so the call remains answerable.
		if !reusedRoom {
			if derr := s.gateway.DestroyRoom(ctx, neg.SessionID, neg.HandleID, neg.RoomID); derr != nil {
				s.log.Warn("room teardown after failed accept", "room_id", neg.RoomID, "error", derr)
			}
		}
		if sess.Direction == DirectionInbound {
			s.releaseSlot(ctx)
		}
		return Session{}, err
	}

	sess.SDPAnswer = neg.AnswerSDP
	sess.GatewaySessionID = neg.SessionID
	sess.GatewayHandleID = neg.HandleID
	sess.GatewayRoomID = neg.RoomID
	sess.AssignedTo = agent
	if s.cfg.RecordCalls && s.cfg.RecordingDir != "" {
		sess.RecordingFile = filepath.Join(s.cfg.RecordingDir, fmt.Sprintf("room-%d.mjr", neg.RoomID))
	}

	if err := s.markAnswered(ctx, &sess, s.clock().UTC()); err != nil {
		return Session{}, err
	}

	s.log.Info("call answered", "call_id", callID, "agent", agent, "room_id", neg.RoomID)
	return sess, nil
}

// markAnswered performs the Answered transition and its gated side effects.
func (s *Service) markAnswered(ctx context.Context, sess *Session, now time.Time) error {
	sess.Status = StatusAnswered
	sess.StartedAt = &now
	sess.UpdatedAt = now
	if err := s.store.Update(ctx, *sess); err != nil {
		return err
	}

	// Outbound calls consume the customer's daily allowance the moment they
	// connect. Inbound calls never do.
	if sess.Direction == DirectionOutbound {
		if err := s.perms.RecordCall(ctx, sess.CustomerNumber, sess.BusinessNumber, now); err != nil {
			s.log.Warn("call counter update failed", "call_id", sess.CallID, "error", err)
		}
	}
	return nil
}

// Terminate ends a call. Idempotent: a call already Ended is returned
// unchanged and no side effect runs twice. providerDuration, when positive,
// overrides the locally computed duration.
func (s *Service) Terminate(ctx context.Context, callID string, providerDuration int) (Session, error) {
	sess, err := s.store.GetByCallID(ctx, callID)
	if err != nil {
		return Session{}, err
	}
	if sess.Status == StatusEnded || sess.Status == StatusFailed {
		return sess, nil
	}

	// Slots are held by answered calls and by outbound calls from placement
	// on; a never-answered inbound call holds none.
	holdsSlot := sess.Status == StatusAnswered || sess.Direction == DirectionOutbound

	now := s.clock().UTC()

	num, ok, err := s.numbers.FindByPhoneNumber(ctx, sess.BusinessNumber)
	if err != nil {
		return Session{}, err
	}
	if ok {
		if terr := s.control.Terminate(ctx, s.credentials(num), callID); terr != nil {
			s.log.Warn("provider terminate failed", "call_id", callID, "error", terr)
		}
	}

	if sess.GatewayRoomID != 0 {
		if derr := s.gateway.DestroyRoom(ctx, sess.GatewaySessionID, sess.GatewayHandleID, sess.GatewayRoomID); derr != nil {
			s.log.Warn("room teardown failed, sweeper will retry", "call_id", callID, "room_id", sess.GatewayRoomID, "error", derr)
		} else {
			sess.GatewaySessionID = 0
			sess.GatewayHandleID = 0
			sess.GatewayRoomID = 0
		}
	}

	duration := providerDuration
	if duration <= 0 && sess.StartedAt != nil {
		duration = int(now.Sub(*sess.StartedAt) / time.Second)
	}
	if duration < 0 {
		duration = 0
	}

	cost := s.pricing.CallCost(pricing.CallDirection(sess.Direction), duration)

	sess.Status = StatusEnded
	sess.EndedAt = &now
	sess.DurationSeconds = duration
	sess.Cost = cost
	sess.UpdatedAt = now
	if err := s.store.Update(ctx, sess); err != nil {
		return Session{}, err
	}

	// The last-used timestamp refreshes on every terminal transition; only
	// the accumulated amount depends on the cost.
	if ok {
		if uerr := s.numbers.RecordUsage(ctx, num.ID, cost, now); uerr != nil {
			s.log.Warn("usage booking failed", "call_id", callID, "error", uerr)
		}
	}

	if holdsSlot {
		s.releaseSlot(ctx)
	}

	s.log.Info("call ended", "call_id", callID, "duration_s", duration, "cost", cost)
	return sess, nil
}

// Get returns the session for a provider call id.
func (s *Service) Get(ctx context.Context, callID string) (Session, error) {
	return s.store.GetByCallID(ctx, callID)
}

func (s *Service) credentials(n numbers.Number) provider.Credentials {
	return provider.Credentials{
		PhoneNumberID: n.PhoneNumberID,
		AccessToken:   n.AccessTokenOrDefault(s.cfg.DefaultAccessToken),
	}
}

func (s *Service) resolveLead(ctx context.Context, mobile string) string {
	if s.leads == nil {
		return ""
	}
	lead, err := s.leads.FindByMobile(ctx, mobile)
	if err != nil {
		s.log.Warn("lead lookup failed", "mobile", mobile, "error", err)
		return ""
	}
	return lead
}

func (s *Service) eventTime(ev Event) time.Time {
	if !ev.Timestamp.IsZero() {
		return ev.Timestamp.UTC()
	}
	return s.clock().UTC()
}
