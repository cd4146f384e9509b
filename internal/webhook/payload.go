package webhook

import (
	"strconv"
	"time"

	"github.com/sagar-j-gurav/whatsapp-calling/internal/calls"
)

// Provider webhook payload shapes. Only the call-relevant subset is modeled;
// unknown fields are ignored by the JSON decoder.

type Payload struct {
	Entry []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	Calls    []CallNotification `json:"calls"`
	Metadata *Metadata          `json:"metadata"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type CallNotification struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`

	// Event is the current field; Status is the older payload revision
	// carrying the deprecated vocabulary. Event wins when both are present.
	Event  string `json:"event"`
	Status string `json:"status"`

	// Timestamp is unix epoch seconds, as a string.
	Timestamp string `json:"timestamp"`

	// Duration in seconds, present on some terminate notifications.
	Duration int `json:"duration"`

	Session *SDPSession `json:"session"`
}

type SDPSession struct {
	SDPType string `json:"sdp_type"`
	SDP     string `json:"sdp"`
}

// canonicalKind maps both the current event vocabulary and the deprecated
// status vocabulary onto the canonical kinds.
func canonicalKind(raw string) (calls.EventKind, bool) {
	switch raw {
	case "connect", "ringing":
		return calls.EventConnect, true
	case "answer", "answered":
		return calls.EventAnswer, true
	case "terminate", "ended":
		return calls.EventTerminate, true
	}
	return "", false
}

func (c CallNotification) kind() (calls.EventKind, bool) {
	if c.Event != "" {
		return canonicalKind(c.Event)
	}
	return canonicalKind(c.Status)
}

// Events flattens the payload into normalized call events. Notifications
// without a recognizable kind or call id are dropped; the returned strings
// name what was skipped, for logging.
func (p Payload) Events() ([]calls.Event, []string) {
	var out []calls.Event
	var skipped []string

	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, call := range change.Value.Calls {
				if call.ID == "" {
					skipped = append(skipped, "call notification without id")
					continue
				}
				kind, ok := call.kind()
				if !ok {
					skipped = append(skipped, "call "+call.ID+": unknown event "+call.Event+call.Status)
					continue
				}

				ev := calls.Event{
					Kind:     kind,
					CallID:   call.ID,
					From:     call.From,
					To:       call.To,
					Duration: call.Duration,
				}
				if ev.To == "" && change.Value.Metadata != nil {
					ev.To = change.Value.Metadata.DisplayPhoneNumber
				}
				if call.Session != nil && call.Session.SDPType == "offer" {
					ev.SDPOffer = call.Session.SDP
				}
				if ts, err := strconv.ParseInt(call.Timestamp, 10, 64); err == nil && ts > 0 {
					ev.Timestamp = time.Unix(ts, 0).UTC()
				}
				out = append(out, ev)
			}
		}
	}
	return out, skipped
}
