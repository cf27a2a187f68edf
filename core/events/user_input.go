package events

import "time"

const (
	// KindUserSpeechStarted identifies start of user speech activity.
	KindUserSpeechStarted Kind = "user_input.speech_started"
	// KindUserSpeechStopped identifies end of user speech activity.
	KindUserSpeechStopped Kind = "user_input.speech_stopped"
	// KindTranscript identifies a user transcript fragment.
	KindTranscript Kind = "user_input.transcript"
)

type Finality string

const (
	FinalityInterim Finality = "interim"
	FinalityFinal   Finality = "final"
)

// TranscriptFragment is a piece of recognized user speech. Interim fragments
// may be superseded by later ones, final fragments are not.
type TranscriptFragment struct {
	Text      string
	Finality  Finality
	Timestamp time.Time
}

func (f TranscriptFragment) IsFinal() bool {
	return f.Finality == FinalityFinal
}

// UserSpeechStarted marks when user speech activity starts.
type UserSpeechStarted struct{ Base }

// NewUserSpeechStarted creates a user speech started event.
func NewUserSpeechStarted() UserSpeechStarted {
	return UserSpeechStarted{Base: NewBase(KindUserSpeechStarted)}
}

// UserSpeechStopped marks when user speech activity ends.
type UserSpeechStopped struct{ Base }

// NewUserSpeechStopped creates a user speech stopped event.
func NewUserSpeechStopped() UserSpeechStopped {
	return UserSpeechStopped{Base: NewBase(KindUserSpeechStopped)}
}

// Transcript carries a single transcript fragment.
type Transcript struct {
	Base
	Fragment TranscriptFragment
}

// NewTranscript creates a transcript event. A zero fragment timestamp is
// replaced by the event timestamp.
func NewTranscript(fragment TranscriptFragment) Transcript {
	base := NewBase(KindTranscript)
	if fragment.Timestamp.IsZero() {
		fragment.Timestamp = base.Timestamp()
	}
	return Transcript{Base: base, Fragment: fragment}
}
