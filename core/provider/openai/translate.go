package openai

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/koscakluka/ema-realtime/core/provider"
)

const (
	eventSpeechStarted            = "input_audio_buffer.speech_started"
	eventSpeechStopped            = "input_audio_buffer.speech_stopped"
	eventInputTranscriptDelta     = "conversation.item.input_audio_transcription.delta"
	eventInputTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	eventContentPartAdded         = "response.content_part.added"
	eventAudioDelta               = "response.audio.delta"
	eventAudioDone                = "response.audio.done"
	eventAudioTranscriptDelta     = "response.audio_transcript.delta"
	eventError                    = "error"
)

// ErrProvider wraps errors reported by the server through error events.
var ErrProvider = errors.New("openai realtime error")

// translator maps server messages to the provider capability set. Input
// transcript deltas are accumulated per item so every interim fragment
// carries the utterance so far.
type translator struct {
	inputTranscripts map[string]string
}

func newTranslator() *translator {
	return &translator{inputTranscripts: map[string]string{}}
}

// translate maps one server message. ok is false for messages the session
// does not surface.
func (t *translator) translate(data []byte, now time.Time) (event provider.Event, ok bool, err error) {
	var evt serverEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return provider.Event{}, false, fmt.Errorf("failed to decode server event: %w", err)
	}

	event = provider.Event{Time: now, UtteranceID: evt.ItemID}
	switch evt.Type {
	case eventSpeechStarted:
		event.Type = provider.EventSpeechStarted
	case eventSpeechStopped:
		event.Type = provider.EventSpeechStopped
	case eventInputTranscriptDelta:
		t.inputTranscripts[evt.ItemID] += evt.Delta
		event.Type = provider.EventInputTranscriptDelta
		event.Text = t.inputTranscripts[evt.ItemID]
	case eventInputTranscriptCompleted:
		delete(t.inputTranscripts, evt.ItemID)
		event.Type = provider.EventInputTranscriptCompleted
		event.Text = evt.Transcript
	case eventContentPartAdded:
		if evt.Part == nil || evt.Part.Type != "audio" {
			return provider.Event{}, false, nil
		}
		event.Type = provider.EventResponseAudioStarted
	case eventAudioDelta:
		if evt.Delta == "" {
			return provider.Event{}, false, nil
		}
		audio, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil {
			return provider.Event{}, false, fmt.Errorf("failed to decode audio delta: %w", err)
		}
		event.Type = provider.EventResponseAudioDelta
		event.Audio = audio
	case eventAudioDone:
		event.Type = provider.EventResponseAudioDone
	case eventAudioTranscriptDelta:
		event.Type = provider.EventResponseTranscriptDelta
		event.Text = evt.Delta
	case eventError:
		event.Type = provider.EventError
		event.Err = serverErr(evt.Error)
	default:
		return provider.Event{}, false, nil
	}

	return event, true, nil
}

func serverErr(detail *serverError) error {
	if detail == nil || detail.Message == "" {
		return fmt.Errorf("%w: unknown error", ErrProvider)
	}
	if detail.Code != "" {
		return fmt.Errorf("%w: %s (%s)", ErrProvider, detail.Message, detail.Code)
	}
	return fmt.Errorf("%w: %s", ErrProvider, detail.Message)
}
