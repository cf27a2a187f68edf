package events

const (
	// KindTransportStateChanged identifies a session state transition.
	KindTransportStateChanged Kind = "transport.state_changed"
	// KindConnected identifies a completed connect.
	KindConnected Kind = "transport.connected"
	// KindDisconnected identifies a completed disconnect.
	KindDisconnected Kind = "transport.disconnected"
	// KindTransportError identifies a session error.
	KindTransportError Kind = "transport.error"
)

type TransportState string

const (
	StateUninitialized TransportState = "uninitialized"
	StateInitializing  TransportState = "initializing"
	StateInitialized   TransportState = "initialized"
	StateConnecting    TransportState = "connecting"
	StateConnected     TransportState = "connected"
	StateReady         TransportState = "ready"
	StateDisconnected  TransportState = "disconnected"
	StateError         TransportState = "error"
)

func (s TransportState) String() string { return string(s) }

// IsTerminal reports whether s can no longer make progress. The only
// transition out of [StateError] is a disconnect.
func (s TransportState) IsTerminal() bool {
	return s == StateError || s == StateDisconnected
}

// TransportStateChanged is emitted once for every state transition.
type TransportStateChanged struct {
	Base
	Previous TransportState
	Current  TransportState
}

// NewTransportStateChanged creates a state transition event.
func NewTransportStateChanged(previous, current TransportState) TransportStateChanged {
	return TransportStateChanged{Base: NewBase(KindTransportStateChanged), Previous: previous, Current: current}
}

// Connected marks that the provider session is open and workers run.
type Connected struct{ Base }

// NewConnected creates a connected event.
func NewConnected() Connected {
	return Connected{Base: NewBase(KindConnected)}
}

// Disconnected marks that the session was torn down.
type Disconnected struct{ Base }

// NewDisconnected creates a disconnected event.
func NewDisconnected() Disconnected {
	return Disconnected{Base: NewBase(KindDisconnected)}
}

// TransportError carries an error surfaced by the session. Fatal errors
// are accompanied by a transition to [StateError].
type TransportError struct {
	Base
	Err   error
	Fatal bool
}

// NewTransportError creates a transport error event.
func NewTransportError(err error, fatal bool) TransportError {
	return TransportError{Base: NewBase(KindTransportError), Err: err, Fatal: fatal}
}
