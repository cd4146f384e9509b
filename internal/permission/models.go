package permission

import "time"

// Permission is the opt-in record gating whether a business number may place
// a voice call to a customer number. Keyed by the
// (customer_number, business_number) pair; never deleted.
//
// Counter invariant: a counter value is only meaningful relative to its
// paired timestamp. calls_in_24h with a last_call_at older than 24h is stale
// and must be treated as zero by readers; the stored value is corrected by
// the periodic sweep, not by evaluation.

type Status string

const (
	StatusRequested Status = "requested"
	StatusGranted   Status = "granted"
	StatusDenied    Status = "denied"
	StatusExpired   Status = "expired"
)

type Permission struct {
	ID             string `json:"id" db:"id"`
	CustomerNumber string `json:"customer_number" db:"customer_number"`
	BusinessNumber string `json:"business_number" db:"business_number"`

	Status Status `json:"status" db:"status"`

	Lead string `json:"lead,omitempty" db:"lead"`

	GrantedAt *time.Time `json:"granted_at,omitempty" db:"granted_at"`
	// ExpiresAt is set only while Granted.
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`

	CallsIn24h int        `json:"calls_in_24h" db:"calls_in_24h"`
	LastCallAt *time.Time `json:"last_call_at,omitempty" db:"last_call_at"`

	RequestsIn24h int        `json:"requests_in_24h" db:"requests_in_24h"`
	RequestsIn7d  int        `json:"requests_in_7d" db:"requests_in_7d"`
	RequestSentAt *time.Time `json:"request_sent_at,omitempty" db:"request_sent_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
