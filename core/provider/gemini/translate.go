package gemini

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-realtime/core/provider"
)

// ErrProvider wraps errors reported by the server.
var ErrProvider = errors.New("gemini live error")

// translator turns server messages into provider events. Gemini does not
// name its responses, so the translator assigns utterance ids and keeps the
// user transcript that is streamed in pieces.
//
// Output transcription may trail turnComplete or interrupted. That text
// belongs to the utterance that just ended, kept in finishedID; only model
// output with no earlier utterance to attach to opens a new one.
type translator struct {
	newID func() string

	utteranceID     string
	finishedID      string
	inputTranscript strings.Builder
}

func newTranslator() *translator {
	return &translator{newID: uuid.NewString}
}

// translate returns the events carried by one message and whether it was
// the setup acknowledgement.
func (t *translator) translate(data []byte, now time.Time) (events []provider.Event, setupComplete bool, err error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false, fmt.Errorf("failed to decode server message: %w", err)
	}

	if msg.SetupComplete != nil {
		setupComplete = true
	}

	if msg.Error != nil {
		events = append(events, provider.Event{
			Type: provider.EventError,
			Time: now,
			Err:  fmt.Errorf("%w: %s (%d %s)", ErrProvider, msg.Error.Message, msg.Error.Code, msg.Error.Status),
		})
	}

	content := msg.ServerContent
	if content == nil {
		return events, setupComplete, nil
	}

	if content.Interrupted {
		events = append(events, provider.Event{Type: provider.EventResponseInterrupted, Time: now, UtteranceID: t.utteranceID})
		events = append(events, provider.Event{Type: provider.EventSpeechStarted, Time: now})
		t.finishUtterance()
	}

	if content.InputTranscription != nil && content.InputTranscription.Text != "" {
		t.inputTranscript.WriteString(content.InputTranscription.Text)
		events = append(events, provider.Event{
			Type: provider.EventInputTranscriptDelta,
			Time: now,
			Text: t.inputTranscript.String(),
		})
	}

	if content.ModelTurn != nil {
		for _, p := range content.ModelTurn.Parts {
			if p.InlineData == nil || !strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
				continue
			}
			audio, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return events, setupComplete, fmt.Errorf("failed to decode audio part: %w", err)
			}
			events = append(events, t.startUtterance(now)...)
			events = append(events, provider.Event{
				Type:        provider.EventResponseAudioDelta,
				Time:        now,
				UtteranceID: t.utteranceID,
				Audio:       audio,
			})
		}
	}

	if content.OutputTranscription != nil && content.OutputTranscription.Text != "" {
		id := t.utteranceID
		if id == "" {
			id = t.finishedID
		}
		if id == "" {
			events = append(events, t.startUtterance(now)...)
			id = t.utteranceID
		}
		events = append(events, provider.Event{
			Type:        provider.EventResponseTranscriptDelta,
			Time:        now,
			UtteranceID: id,
			Text:        content.OutputTranscription.Text,
		})
	}

	if content.TurnComplete {
		events = append(events, t.completeInput(now)...)
		if t.utteranceID != "" {
			events = append(events, provider.Event{Type: provider.EventResponseAudioDone, Time: now, UtteranceID: t.utteranceID})
			t.finishUtterance()
		}
	}

	return events, setupComplete, nil
}

// startUtterance opens a new utterance on the first model output of a turn.
// The buffered user transcript is final at that point.
func (t *translator) startUtterance(now time.Time) []provider.Event {
	if t.utteranceID != "" {
		return nil
	}
	events := t.completeInput(now)
	t.utteranceID = t.newID()
	t.finishedID = ""
	return append(events, provider.Event{Type: provider.EventResponseAudioStarted, Time: now, UtteranceID: t.utteranceID})
}

func (t *translator) finishUtterance() {
	if t.utteranceID != "" {
		t.finishedID = t.utteranceID
	}
	t.utteranceID = ""
}

func (t *translator) completeInput(now time.Time) []provider.Event {
	transcript := strings.TrimSpace(t.inputTranscript.String())
	t.inputTranscript.Reset()
	if transcript == "" {
		return nil
	}
	return []provider.Event{{Type: provider.EventInputTranscriptCompleted, Time: now, Text: transcript}}
}
