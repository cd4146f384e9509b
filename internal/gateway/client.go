package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	pluginAudioBridge = "janus.plugin.audiobridge"

	// Provider media is 48kHz Opus; the bridge room must match.
	samplingRateHz = 48000

	defaultRequestTimeout  = 10 * time.Second
	defaultTeardownTimeout = 5 * time.Second

	defaultPollInterval    = 100 * time.Millisecond
	defaultMaxPollAttempts = 50

	// Room ids are picked at random; a create failure is the collision signal.
	maxRoomID = 1_000_000
)

// Config holds gateway client settings.
type Config struct {
	// BaseURL is the Janus HTTP endpoint, e.g. http://janus:8088/janus.
	BaseURL string

	// APISecret, when set, is attached to every request.
	APISecret string

	// RecordCalls enables room recording into RecordingDir.
	RecordCalls  bool
	RecordingDir string

	// Poll tuning for the async answer path. Zero values use defaults
	// (100ms interval, 50 attempts).
	PollInterval    time.Duration
	MaxPollAttempts int
}

// Client speaks the gateway's session/plugin/room protocol. It is stateless
// per call: every operation carries explicit session/handle identifiers.
type Client struct {
	http         *resty.Client
	apiSecret    string
	recordCalls  bool
	recordingDir string

	pollInterval    time.Duration
	maxPollAttempts int

	log *slog.Logger

	// roomID is injectable for deterministic tests.
	roomID func() int64
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	attempts := cfg.MaxPollAttempts
	if attempts <= 0 {
		attempts = defaultMaxPollAttempts
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(defaultRequestTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:            httpClient,
		apiSecret:       cfg.APISecret,
		recordCalls:     cfg.RecordCalls,
		recordingDir:    cfg.RecordingDir,
		pollInterval:    pollInterval,
		maxPollAttempts: attempts,
		log:             log,
		roomID:          func() int64 { return rand.Int63n(maxRoomID) },
	}
}

// CreateSession creates a new gateway session and returns its id.
func (c *Client) CreateSession(ctx context.Context) (int64, error) {
	resp, err := c.post(ctx, "/", request{
		Janus:       "create",
		Transaction: NewTransactionID(),
		APISecret:   c.apiSecret,
	})
	if err != nil {
		return 0, err
	}
	if resp.Janus != "success" || resp.Data == nil {
		return 0, fmt.Errorf("%w: create session returned %q", ErrProtocol, resp.Janus)
	}
	return resp.Data.ID, nil
}

// AttachPlugin attaches the audio-mixing plugin to a session and returns the
// plugin handle id.
func (c *Client) AttachPlugin(ctx context.Context, sessionID int64) (int64, error) {
	resp, err := c.post(ctx, fmt.Sprintf("/%d", sessionID), request{
		Janus:       "attach",
		Plugin:      pluginAudioBridge,
		Transaction: NewTransactionID(),
		APISecret:   c.apiSecret,
	})
	if err != nil {
		return 0, err
	}
	if resp.Janus != "success" || resp.Data == nil {
		return 0, fmt.Errorf("%w: attach returned %q", ErrProtocol, resp.Janus)
	}
	return resp.Data.ID, nil
}

// CreateRoom creates an audio-mixing room on the given handle. A roomID of
// zero picks a random id; a create failure doubles as the collision signal.
func (c *Client) CreateRoom(ctx context.Context, sessionID, handleID, roomID int64) (int64, error) {
	if roomID <= 0 {
		roomID = c.roomID()
	}

	var recDir *string
	if c.recordCalls && c.recordingDir != "" {
		recDir = &c.recordingDir
	}

	resp, err := c.post(ctx, fmt.Sprintf("/%d/%d", sessionID, handleID), request{
		Janus:       "message",
		Transaction: NewTransactionID(),
		APISecret:   c.apiSecret,
		Body: createRoomBody{
			Request:      "create",
			Room:         roomID,
			Description:  fmt.Sprintf("Call Room %d", roomID),
			SamplingRate: samplingRateHz,
			Record:       c.recordCalls,
			RecDir:       recDir,
		},
	})
	if err != nil {
		return 0, err
	}
	if !roomCreated(resp) {
		return 0, fmt.Errorf("%w: create room %d failed: %s", ErrProtocol, roomID, faultReason(resp))
	}
	return roomID, nil
}

// SetupRoom provisions a fresh session, handle and room. Used by the outbound
// flow, which needs a room before any SDP offer exists.
func (c *Client) SetupRoom(ctx context.Context) (RoomSetup, error) {
	sessionID, err := c.CreateSession(ctx)
	if err != nil {
		return RoomSetup{}, err
	}
	handleID, err := c.AttachPlugin(ctx, sessionID)
	if err != nil {
		return RoomSetup{}, err
	}
	roomID, err := c.CreateRoom(ctx, sessionID, handleID, 0)
	if err != nil {
		return RoomSetup{}, err
	}
	return RoomSetup{SessionID: sessionID, HandleID: handleID, RoomID: roomID}, nil
}

// DestroyRoom tears down a room and its session. Callers treat this as
// best-effort: the returned error is for logging, never for aborting a
// terminate flow.
func (c *Client) DestroyRoom(ctx context.Context, sessionID, handleID, roomID int64) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTeardownTimeout)
	defer cancel()

	_, roomErr := c.post(ctx, fmt.Sprintf("/%d/%d", sessionID, handleID), request{
		Janus:       "message",
		Transaction: NewTransactionID(),
		APISecret:   c.apiSecret,
		Body:        destroyRoomBody{Request: "destroy", Room: roomID},
	})

	// Destroy the session regardless of how the room destroy went.
	_, sessErr := c.post(ctx, fmt.Sprintf("/%d", sessionID), request{
		Janus:       "destroy",
		Transaction: NewTransactionID(),
		APISecret:   c.apiSecret,
	})

	if roomErr != nil {
		return fmt.Errorf("destroy room %d: %w", roomID, roomErr)
	}
	if sessErr != nil {
		return fmt.Errorf("destroy session %d: %w", sessionID, sessErr)
	}
	return nil
}

// NegotiateSDP runs the full inbound negotiation: session, plugin handle,
// room, then a join carrying the caller's offer. The answer either arrives
// inline on the join response or, when the gateway only acks, via a bounded
// event poll (the plugin completes asynchronously, so the answer is not
// guaranteed synchronously).
func (c *Client) NegotiateSDP(ctx context.Context, offerSDP string) (Negotiation, error) {
	sessionID, err := c.CreateSession(ctx)
	if err != nil {
		return Negotiation{}, err
	}
	handleID, err := c.AttachPlugin(ctx, sessionID)
	if err != nil {
		return Negotiation{}, err
	}
	roomID, err := c.CreateRoom(ctx, sessionID, handleID, 0)
	if err != nil {
		return Negotiation{}, err
	}
	return c.joinWithOffer(ctx, sessionID, handleID, roomID, offerSDP)
}

// JoinRoom negotiates the caller's offer against an existing room. Used when
// a call already holds gateway linkage from placement, so no fresh session or
// room is provisioned.
func (c *Client) JoinRoom(ctx context.Context, sessionID, handleID, roomID int64, offerSDP string) (Negotiation, error) {
	return c.joinWithOffer(ctx, sessionID, handleID, roomID, offerSDP)
}

func (c *Client) joinWithOffer(ctx context.Context, sessionID, handleID, roomID int64, offerSDP string) (Negotiation, error) {
	resp, err := c.post(ctx, fmt.Sprintf("/%d/%d", sessionID, handleID), request{
		Janus:       "message",
		Transaction: NewTransactionID(),
		APISecret:   c.apiSecret,
		Body: joinRoomBody{
			Request: "join",
			Room:    roomID,
			Display: "Caller",
		},
		JSEP: &JSEP{Type: "offer", SDP: offerSDP},
	})
	if err != nil {
		return Negotiation{}, err
	}

	if pluginRejected(resp) {
		return Negotiation{}, fmt.Errorf("%w: %s", ErrNegotiationRejected, faultReason(resp))
	}

	if resp.JSEP != nil && resp.JSEP.Type == "answer" {
		return Negotiation{
			SessionID: sessionID,
			HandleID:  handleID,
			RoomID:    roomID,
			AnswerSDP: resp.JSEP.SDP,
		}, nil
	}

	if resp.Janus != "ack" {
		return Negotiation{}, fmt.Errorf("%w: unexpected join response %q", ErrProtocol, resp.Janus)
	}

	answer, err := c.pollForAnswer(ctx, sessionID)
	if err != nil {
		return Negotiation{}, err
	}
	return Negotiation{
		SessionID: sessionID,
		HandleID:  handleID,
		RoomID:    roomID,
		AnswerSDP: answer,
	}, nil
}

// pollForAnswer fetches session events at a fixed short interval until a JSEP
// answer shows up or the attempt ceiling is exhausted. Cancelling ctx aborts
// the loop early.
func (c *Client) pollForAnswer(ctx context.Context, sessionID int64) (string, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		var ev response
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("maxev", "1").
			SetResult(&ev).
			Get(fmt.Sprintf("/%d", sessionID))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		if resp.IsError() {
			continue
		}

		if ev.JSEP != nil && ev.JSEP.Type == "answer" {
			c.log.Debug("sdp answer received from event", "session_id", sessionID, "attempt", attempt)
			return ev.JSEP.SDP, nil
		}
		if pluginRejected(&ev) {
			return "", fmt.Errorf("%w: %s", ErrNegotiationRejected, faultReason(&ev))
		}
	}
	return "", fmt.Errorf("%w: no answer after %d polls", ErrNegotiationTimeout, c.maxPollAttempts)
}

func (c *Client) post(ctx context.Context, path string, req request) (*response, error) {
	var out response
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: http %d", ErrProtocol, resp.StatusCode())
	}
	if out.Janus == "error" {
		return nil, fmt.Errorf("%w: %s", ErrProtocol, faultReason(&out))
	}
	return &out, nil
}

// roomCreated checks both success shapes the gateway uses for room creation:
// a plain success envelope, or an event carrying plugindata with
// audiobridge=created.
func roomCreated(resp *response) bool {
	if resp.Janus == "success" {
		if resp.PluginData == nil {
			return true
		}
		if _, failed := resp.PluginData.Data["error"]; failed {
			return false
		}
		return true
	}
	if resp.PluginData != nil {
		if v, ok := resp.PluginData.Data["audiobridge"].(string); ok && v == "created" {
			return true
		}
	}
	return false
}

func pluginRejected(resp *response) bool {
	if resp.PluginData == nil {
		return false
	}
	_, failed := resp.PluginData.Data["error"]
	return failed
}

func faultReason(resp *response) string {
	if resp.Error != nil {
		return fmt.Sprintf("code %d: %s", resp.Error.Code, resp.Error.Reason)
	}
	if resp.PluginData != nil {
		if msg, ok := resp.PluginData.Data["error"].(string); ok {
			return msg
		}
	}
	return "janus=" + resp.Janus
}
