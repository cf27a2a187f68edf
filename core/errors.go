package transport

import "errors"

var (
	// ErrConfig reports missing or invalid construction parameters. It is
	// returned before connect and never moves the transport to the error
	// state.
	ErrConfig = errors.New("invalid transport config")
	// ErrDevice reports that a microphone or speaker could not be acquired.
	ErrDevice = errors.New("audio device unavailable")
	// ErrConnection reports a failed relay call, handshake or negotiation.
	ErrConnection = errors.New("connection failed")
	// ErrStream reports a failure while the session was streaming.
	ErrStream = errors.New("stream failed")
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrUnknownEventKind is returned when registering a handler for a kind
	// that is not part of the event vocabulary.
	ErrUnknownEventKind = errors.New("unknown event kind")
)
