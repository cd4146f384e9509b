package calls

import "time"

// Session is one voice call bridged between the messaging provider and the
// media gateway. Keyed by the provider-assigned call id, which is unique for
// the lifetime of the call and is the idempotence anchor for every webhook
// retry.

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Status string

const (
	// StatusRinging is the initial state of an inbound call awaiting an agent.
	StatusRinging Status = "ringing"

	// StatusInitiated is the initial state of an outbound call awaiting the
	// customer.
	StatusInitiated Status = "initiated"

	StatusAnswered Status = "answered"
	StatusEnded    Status = "ended"

	// StatusFailed is terminal and is only ever set explicitly; no automatic
	// transition produces it.
	StatusFailed Status = "failed"
)

// active reports whether s may still be answered.
func (s Status) active() bool {
	return s == StatusRinging || s == StatusInitiated
}

type Session struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	Direction Direction `json:"direction" db:"direction"`
	Status    Status    `json:"status" db:"status"`

	CustomerNumber string `json:"customer_number" db:"customer_number"`
	BusinessNumber string `json:"business_number" db:"business_number"`

	// SDP negotiation state. The offer arrives from the provider; the answer
	// comes back from the gateway.
	SDPOffer  string `json:"-" db:"sdp_offer"`
	SDPAnswer string `json:"-" db:"sdp_answer"`

	// Gateway linkage, populated once a room exists. Returned to callers so a
	// browser media engine can join the room. Cleared by the sweeper after
	// teardown so stale rooms are not destroyed twice.
	GatewaySessionID int64 `json:"gateway_session_id,omitempty" db:"gateway_session_id"`
	GatewayHandleID  int64 `json:"gateway_handle_id,omitempty" db:"gateway_handle_id"`
	GatewayRoomID    int64 `json:"gateway_room_id,omitempty" db:"gateway_room_id"`

	RecordingFile string `json:"recording_file,omitempty" db:"recording_file"`

	AssignedTo string `json:"assigned_to,omitempty" db:"assigned_to"`
	Lead       string `json:"lead,omitempty" db:"lead"`

	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	DurationSeconds int     `json:"duration_seconds" db:"duration_seconds"`
	Cost            float64 `json:"cost" db:"cost"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// EventKind is the canonical call-event vocabulary. Webhook payloads may use
// older aliases; normalization happens at the webhook boundary.
type EventKind string

const (
	EventConnect   EventKind = "connect"
	EventAnswer    EventKind = "answer"
	EventTerminate EventKind = "terminate"
)

// Event is a provider call notification after webhook normalization.
type Event struct {
	Kind   EventKind
	CallID string

	// From is the customer number, To the dialed business number, as the
	// provider reports them.
	From string
	To   string

	// SDPOffer is present on connect events.
	SDPOffer string

	// Duration in seconds as reported on terminate events; zero when the
	// provider omits it.
	Duration int

	Timestamp time.Time
}
