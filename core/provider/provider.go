// Package provider defines the backend-agnostic realtime speech session.
//
// A backend translates its own wire messages into [Event] values typed by
// the capability set below. Nothing above this package sees provider tag
// names, so a backend can be added without touching the session transport.
package provider

import (
	"context"
	"time"

	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/relay"
)

type EventType string

const (
	// EventSpeechStarted is emitted when the provider detects user speech.
	EventSpeechStarted EventType = "speech_started"
	// EventSpeechStopped is emitted when user speech ends.
	EventSpeechStopped EventType = "speech_stopped"
	// EventInputTranscriptDelta carries an interim user transcript.
	EventInputTranscriptDelta EventType = "input_transcript_delta"
	// EventInputTranscriptCompleted carries the final user transcript.
	EventInputTranscriptCompleted EventType = "input_transcript_completed"
	// EventResponseAudioStarted marks the first audio part of a response.
	EventResponseAudioStarted EventType = "response_audio_started"
	// EventResponseAudioDelta carries decoded PCM of a response.
	EventResponseAudioDelta EventType = "response_audio_delta"
	// EventResponseAudioDone marks the end of response audio.
	EventResponseAudioDone EventType = "response_audio_done"
	// EventResponseTranscriptDelta carries text of the response audio.
	EventResponseTranscriptDelta EventType = "response_transcript_delta"
	// EventResponseInterrupted is emitted when the provider itself cut the
	// response short.
	EventResponseInterrupted EventType = "response_interrupted"
	// EventError carries an error reported by the provider.
	EventError EventType = "error"
)

// Event is a provider message translated to the capability set.
type Event struct {
	Type EventType
	Time time.Time

	// UtteranceID identifies the response item audio and text belong to.
	UtteranceID string
	Text        string
	Audio       []byte

	Err error
}

type TurnDetection struct {
	// Type is the provider turn detection mode, "server_vad" by default.
	Type            string
	Threshold       float64
	PrefixPadding   time.Duration
	SilenceDuration time.Duration
}

type SessionConfig struct {
	TurnDetection      TurnDetection
	TranscriptionModel string
}

// Session is an open bidirectional stream to a realtime speech provider.
// Implementations must be safe for concurrent use.
type Session interface {
	// Configure negotiates voice activity detection and transcription.
	Configure(ctx context.Context, cfg SessionConfig) error
	// UpdateInstructions replaces the system instructions of the session.
	UpdateInstructions(ctx context.Context, instructions string) error
	// SendUserText adds a user text message and asks for a response.
	SendUserText(ctx context.Context, text string) error
	// SendAudio appends captured PCM to the provider input buffer.
	SendAudio(ctx context.Context, audio []byte) error
	// CancelResponse cancels the active response and truncates the record
	// of the interrupted utterance to what was actually played.
	CancelResponse(ctx context.Context, interruption audio.PendingInterruption) error

	// Events is closed when the session ends. Err reports why.
	Events() <-chan Event
	Err() error

	Close() error
}

// Flusher is implemented by sessions that buffer configuration until it is
// needed. Flush sends whatever was buffered and waits for the provider to
// accept it.
type Flusher interface {
	Flush(ctx context.Context) error
}

type ConnectOptions struct {
	EncodingInfo   audio.EncodingInfo
	ConnectionInfo relay.ConnectionInfo
}

type Provider interface {
	Name() string
	Connect(ctx context.Context, opts ConnectOptions) (Session, error)
}
