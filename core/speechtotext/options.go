// Package speechtotext defines a streaming transcriber that can run next to
// the realtime session to produce user transcripts the provider does not.
package speechtotext

import (
	"context"

	"github.com/koscakluka/ema-realtime/core/audio"
)

// Transcriber streams captured audio to a recognizer. Transcribe opens the
// stream, callbacks are invoked from the transcriber's own goroutine.
type Transcriber interface {
	Transcribe(ctx context.Context, opts ...TranscriptionOption) error
	SendAudio(audio []byte) error
	Close() error
}

type TranscriptionOptions struct {
	// InterimTranscriptionCallback receives the full interim transcript of
	// the current utterance.
	InterimTranscriptionCallback func(transcript string)
	// TranscriptionCallback receives the final transcript of an utterance.
	TranscriptionCallback func(transcript string)
	// ErrorCallback receives errors that end the stream.
	ErrorCallback func(err error)

	EncodingInfo audio.EncodingInfo
}

type TranscriptionOption func(*TranscriptionOptions)

func WithTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.TranscriptionCallback = callback
	}
}

func WithInterimTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.InterimTranscriptionCallback = callback
	}
}

func WithErrorCallback(callback func(err error)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.ErrorCallback = callback
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.EncodingInfo = encodingInfo
	}
}
