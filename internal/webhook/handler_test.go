package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sagar-j-gurav/whatsapp-calling/internal/calls"
)

type sinkRecorder struct {
	events []calls.Event
	err    error
}

func (s *sinkRecorder) HandleEvent(_ context.Context, ev calls.Event) error {
	s.events = append(s.events, ev)
	return s.err
}

func newRouter(sink *sinkRecorder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := Handler{VerifyToken: "secret-token", Sink: sink}
	r := gin.New()
	r.GET("/webhooks/whatsapp", h.Verify)
	r.POST("/webhooks/whatsapp", h.Receive)
	return r
}

func TestVerify(t *testing.T) {
	r := newRouter(&sinkRecorder{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "12345" {
		t.Fatalf("expected challenge echoed, got %q", w.Body.String())
	}
}

func TestVerify_BadToken(t *testing.T) {
	r := newRouter(&sinkRecorder{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

const connectPayload = `{
  "entry": [{
    "changes": [{
      "field": "calls",
      "value": {
        "metadata": {"display_phone_number": "+18005550100"},
        "calls": [{
          "id": "abc123",
          "from": "+15551234567",
          "event": "connect",
          "timestamp": "1748779200",
          "session": {"sdp_type": "offer", "sdp": "v=0 offer"}
        }]
      }
    }]
  }]
}`

func TestReceive_ConnectEvent(t *testing.T) {
	sink := &sinkRecorder{}
	r := newRouter(sink)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(connectPayload))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected one event, got %d", len(sink.events))
	}
	ev := sink.events[0]
	if ev.Kind != calls.EventConnect || ev.CallID != "abc123" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.SDPOffer != "v=0 offer" {
		t.Fatalf("offer not extracted, got %q", ev.SDPOffer)
	}
	if ev.To != "+18005550100" {
		t.Fatalf("expected dialed number from metadata, got %q", ev.To)
	}
	if ev.Timestamp.IsZero() {
		t.Fatalf("expected timestamp parsed")
	}
}

func TestReceive_DeprecatedStatusVocabulary(t *testing.T) {
	sink := &sinkRecorder{}
	r := newRouter(sink)

	body := `{"entry":[{"changes":[{"value":{"calls":[
		{"id":"c1","status":"ringing"},
		{"id":"c2","status":"answered"},
		{"id":"c3","status":"ended","duration":42}
	]}}]}]}`

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if len(sink.events) != 3 {
		t.Fatalf("expected three events, got %d", len(sink.events))
	}
	want := []calls.EventKind{calls.EventConnect, calls.EventAnswer, calls.EventTerminate}
	for i, k := range want {
		if sink.events[i].Kind != k {
			t.Fatalf("event %d: expected %s, got %s", i, k, sink.events[i].Kind)
		}
	}
	if sink.events[2].Duration != 42 {
		t.Fatalf("expected duration carried on terminate, got %d", sink.events[2].Duration)
	}
}

func TestReceive_ProcessingErrorStillAcks(t *testing.T) {
	sink := &sinkRecorder{err: errors.New("downstream broken")}
	r := newRouter(sink)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(connectPayload))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("webhook must ack despite processing errors, got %d", w.Code)
	}
}

func TestReceive_MalformedBodyStillAcks(t *testing.T) {
	r := newRouter(&sinkRecorder{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("webhook must ack malformed payloads, got %d", w.Code)
	}
}

func TestEvents_SkipsUnknownKinds(t *testing.T) {
	p := Payload{Entry: []Entry{{Changes: []Change{{Value: Value{Calls: []CallNotification{
		{ID: "c1", Event: "connect"},
		{ID: "c2", Event: "mystery"},
		{Event: "connect"},
	}}}}}}}

	events, skipped := p.Events()
	if len(events) != 1 {
		t.Fatalf("expected one usable event, got %d", len(events))
	}
	if len(skipped) != 2 {
		t.Fatalf("expected two skips, got %d: %v", len(skipped), skipped)
	}
}
