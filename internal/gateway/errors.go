package gateway

import "errors"

var (
	// ErrUnreachable means the gateway could not be reached at the transport level.
	ErrUnreachable = errors.New("gateway unreachable")

	// ErrProtocol means the gateway answered but with a non-success
	// discriminator or a shape we do not understand.
	ErrProtocol = errors.New("gateway protocol error")

	// ErrNegotiationTimeout means the event poll ceiling was exhausted
	// without an SDP answer.
	ErrNegotiationTimeout = errors.New("timed out waiting for sdp answer")

	// ErrNegotiationRejected means the plugin refused the join/offer.
	ErrNegotiationRejected = errors.New("gateway rejected negotiation")
)
