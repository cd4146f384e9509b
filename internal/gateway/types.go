package gateway

import "encoding/json"

// Wire types for the Janus JSON-over-HTTP API.
// Every request carries a fresh transaction token; responses are discriminated
// by the top-level "janus" field and, for plugin messages, by the nested
// plugindata success field.

type request struct {
	Janus       string `json:"janus"`
	Transaction string `json:"transaction"`
	Plugin      string `json:"plugin,omitempty"`
	APISecret   string `json:"apisecret,omitempty"`
	Body        any    `json:"body,omitempty"`
	JSEP        *JSEP  `json:"jsep,omitempty"`
}

// JSEP is the offer/answer SDP envelope exchanged with the gateway.
type JSEP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type response struct {
	Janus       string          `json:"janus"`
	Transaction string          `json:"transaction,omitempty"`
	Data        *responseData   `json:"data,omitempty"`
	JSEP        *JSEP           `json:"jsep,omitempty"`
	PluginData  *pluginData     `json:"plugindata,omitempty"`
	Error       *gatewayFault   `json:"error,omitempty"`
	Sender      json.Number     `json:"sender,omitempty"`
}

type responseData struct {
	ID int64 `json:"id"`
}

type pluginData struct {
	Plugin string         `json:"plugin"`
	Data   map[string]any `json:"data"`
}

type gatewayFault struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// createRoomBody fixes the sampling rate at 48kHz. This is a protocol
// constant mandated by the calling provider, not configuration.
type createRoomBody struct {
	Request      string  `json:"request"`
	Room         int64   `json:"room"`
	Description  string  `json:"description"`
	SamplingRate int     `json:"sampling_rate"`
	Record       bool    `json:"record"`
	RecDir       *string `json:"rec_dir"`
}

type joinRoomBody struct {
	Request string `json:"request"`
	Room    int64  `json:"room"`
	Display string `json:"display"`
}

type destroyRoomBody struct {
	Request string `json:"request"`
	Room    int64  `json:"room"`
}

// RoomSetup identifies a gateway room ready to receive participants.
type RoomSetup struct {
	SessionID int64
	HandleID  int64
	RoomID    int64
}

// Negotiation is the outcome of a successful SDP offer/answer exchange.
type Negotiation struct {
	SessionID int64
	HandleID  int64
	RoomID    int64
	AnswerSDP string
}
