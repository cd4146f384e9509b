package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const testAnswerSDP = "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=janus\r\nt=0 0\r\n"

// stubJanus implements just enough of the gateway wire protocol for the
// client: create/attach/message on POST, event fetch on GET. When
// answerOnPoll > 0 the join is acked and the answer is emitted on the n-th
// event poll instead of inline.
type stubJanus struct {
	mu           sync.Mutex
	answerOnPoll int
	polls        int
	requests     []string
	rejectJoin   bool
	neverAnswer  bool
}

func (s *stubJanus) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if r.Method == http.MethodGet {
			s.polls++
			if !s.neverAnswer && s.answerOnPoll > 0 && s.polls >= s.answerOnPoll {
				writeJSON(w, map[string]any{
					"janus": "event",
					"jsep":  map[string]string{"type": "answer", "sdp": testAnswerSDP},
				})
				return
			}
			writeJSON(w, map[string]any{"janus": "keepalive"})
			return
		}

		var req struct {
			Janus       string         `json:"janus"`
			Transaction string         `json:"transaction"`
			Body        map[string]any `json:"body"`
			JSEP        *JSEP          `json:"jsep"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Transaction == "" {
			http.Error(w, "missing transaction", http.StatusBadRequest)
			return
		}
		action := req.Janus
		if req.Janus == "message" {
			if r, ok := req.Body["request"].(string); ok {
				action = "message:" + r
			}
		}
		s.requests = append(s.requests, action)

		switch req.Janus {
		case "create":
			writeJSON(w, map[string]any{"janus": "success", "data": map[string]any{"id": 111}})
		case "attach":
			writeJSON(w, map[string]any{"janus": "success", "data": map[string]any{"id": 222}})
		case "destroy":
			writeJSON(w, map[string]any{"janus": "success"})
		case "message":
			switch req.Body["request"] {
			case "create":
				if int(req.Body["sampling_rate"].(float64)) != samplingRateHz {
					writeJSON(w, map[string]any{"janus": "error", "error": map[string]any{"code": 499, "reason": "bad sampling rate"}})
					return
				}
				writeJSON(w, map[string]any{
					"janus":      "success",
					"plugindata": map[string]any{"plugin": pluginAudioBridge, "data": map[string]any{"audiobridge": "created"}},
				})
			case "join":
				if s.rejectJoin {
					writeJSON(w, map[string]any{
						"janus":      "success",
						"plugindata": map[string]any{"plugin": pluginAudioBridge, "data": map[string]any{"error": "room full"}},
					})
					return
				}
				if req.JSEP == nil || req.JSEP.Type != "offer" {
					http.Error(w, "missing jsep offer", http.StatusBadRequest)
					return
				}
				if s.answerOnPoll > 0 {
					writeJSON(w, map[string]any{"janus": "ack"})
					return
				}
				writeJSON(w, map[string]any{
					"janus": "event",
					"jsep":  map[string]string{"type": "answer", "sdp": testAnswerSDP},
				})
			case "destroy":
				writeJSON(w, map[string]any{
					"janus":      "success",
					"plugindata": map[string]any{"plugin": pluginAudioBridge, "data": map[string]any{"audiobridge": "destroyed"}},
				})
			default:
				http.Error(w, "unexpected body", http.StatusBadRequest)
			}
		default:
			http.Error(w, "unexpected janus action", http.StatusBadRequest)
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, stub *stubJanus) *Client {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		BaseURL:         srv.URL,
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 10,
	}, slog.Default())
	c.roomID = func() int64 { return 4242 }
	return c
}

func TestNegotiateSDP_InlineAnswer(t *testing.T) {
	stub := &stubJanus{}
	c := newTestClient(t, stub)

	neg, err := c.NegotiateSDP(context.Background(), "v=0 offer")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if neg.SessionID != 111 || neg.HandleID != 222 || neg.RoomID != 4242 {
		t.Fatalf("unexpected ids: %+v", neg)
	}
	if neg.AnswerSDP != testAnswerSDP {
		t.Fatalf("unexpected answer sdp: %q", neg.AnswerSDP)
	}
}

func TestNegotiateSDP_AnswerViaPoll(t *testing.T) {
	stub := &stubJanus{answerOnPoll: 3}
	c := newTestClient(t, stub)

	neg, err := c.NegotiateSDP(context.Background(), "v=0 offer")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// The polled path must produce the same result as the inline path.
	inline, err := newTestClient(t, &stubJanus{}).NegotiateSDP(context.Background(), "v=0 offer")
	if err != nil {
		t.Fatalf("inline negotiation failed: %v", err)
	}
	if neg != inline {
		t.Fatalf("polled result %+v differs from inline result %+v", neg, inline)
	}
	if stub.polls < 3 {
		t.Fatalf("expected at least 3 polls, got %d", stub.polls)
	}
}

func TestNegotiateSDP_PollCeilingExhausted(t *testing.T) {
	stub := &stubJanus{answerOnPoll: 1, neverAnswer: true}
	c := newTestClient(t, stub)

	_, err := c.NegotiateSDP(context.Background(), "v=0 offer")
	if !errors.Is(err, ErrNegotiationTimeout) {
		t.Fatalf("expected ErrNegotiationTimeout, got %v", err)
	}
}

func TestNegotiateSDP_PluginRejection(t *testing.T) {
	stub := &stubJanus{rejectJoin: true}
	c := newTestClient(t, stub)

	_, err := c.NegotiateSDP(context.Background(), "v=0 offer")
	if !errors.Is(err, ErrNegotiationRejected) {
		t.Fatalf("expected ErrNegotiationRejected, got %v", err)
	}
}

func TestJoinRoom_ReusesExistingRoom(t *testing.T) {
	stub := &stubJanus{}
	c := newTestClient(t, stub)

	neg, err := c.JoinRoom(context.Background(), 111, 222, 4242, "v=0 offer")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if neg.SessionID != 111 || neg.HandleID != 222 || neg.RoomID != 4242 {
		t.Fatalf("unexpected ids: %+v", neg)
	}
	if neg.AnswerSDP != testAnswerSDP {
		t.Fatalf("unexpected answer sdp: %q", neg.AnswerSDP)
	}

	joined := strings.Join(stub.requests, ",")
	if strings.Contains(joined, "create") {
		t.Fatalf("join against an existing room must not create anything, got %q", joined)
	}
}

func TestSetupRoom(t *testing.T) {
	stub := &stubJanus{}
	c := newTestClient(t, stub)

	room, err := c.SetupRoom(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if room.SessionID != 111 || room.HandleID != 222 || room.RoomID != 4242 {
		t.Fatalf("unexpected room setup: %+v", room)
	}
}

func TestDestroyRoom_ReportsButDoesNotPanic(t *testing.T) {
	stub := &stubJanus{}
	c := newTestClient(t, stub)

	if err := c.DestroyRoom(context.Background(), 111, 222, 4242); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	joined := strings.Join(stub.requests, ",")
	if !strings.Contains(joined, "destroy") {
		t.Fatalf("expected session destroy request, got %q", joined)
	}
}

func TestCreateSession_Unreachable(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1", PollInterval: time.Millisecond}, slog.Default())
	_, err := c.CreateSession(context.Background())
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestNewTransactionID_Unique(t *testing.T) {
	a, b := NewTransactionID(), NewTransactionID()
	if a == b {
		t.Fatalf("expected distinct transaction ids")
	}
	if len(a) != 24 {
		t.Fatalf("expected 24 hex chars, got %d", len(a))
	}
}
