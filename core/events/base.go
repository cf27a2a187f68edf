package events

import "time"

type Kind string

// Event is implemented by every normalized session event. Handlers that
// need the payload type switch on the concrete value.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

type Base struct {
	kind      Kind
	timestamp time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}

var knownKinds = map[Kind]struct{}{
	KindTransportStateChanged: {},
	KindConnected:             {},
	KindDisconnected:          {},
	KindTransportError:        {},
	KindUserSpeechStarted:     {},
	KindUserSpeechStopped:     {},
	KindTranscript:            {},
	KindBotSpeechStarted:      {},
	KindBotSpeechStopped:      {},
	KindBotTTSText:            {},
	KindBotAudio:              {},
}

// IsKnown reports whether kind belongs to the normalized vocabulary.
func IsKnown(kind Kind) bool {
	_, ok := knownKinds[kind]
	return ok
}
