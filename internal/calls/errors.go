package calls

import "errors"

var (
	ErrNotFound   = errors.New("call not found")
	ErrValidation = errors.New("invalid call request")

	// ErrConflict means the call is in a state that does not admit the
	// requested operation.
	ErrConflict = errors.New("call state conflict")

	// ErrPermissionDenied means the customer has not granted (or has
	// exhausted) calling permission. Wrapped with the evaluation reason.
	ErrPermissionDenied = errors.New("calling permission denied")

	// ErrMissingNegotiationInput means no SDP offer is on file yet, so the
	// call cannot be answered.
	ErrMissingNegotiationInput = errors.New("no sdp offer available")

	// ErrCapacity means the concurrent call cap is reached.
	ErrCapacity = errors.New("call capacity reached")
)
