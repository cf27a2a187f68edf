package transport

import (
	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/events"
	"github.com/koscakluka/ema-realtime/core/provider"
)

// SpeakerTurn is the party currently considered speaking.
type SpeakerTurn string

const (
	SpeakerNone SpeakerTurn = "none"
	SpeakerUser SpeakerTurn = "user"
	SpeakerBot  SpeakerTurn = "bot"
)

// interrupter stops local playback and reports what was played. When
// cancel is set the provider is also asked to cancel and truncate.
type interrupter interface {
	interrupt(cancel bool) (audio.PendingInterruption, bool)
}

type transcriptPolicy struct {
	suppressWhileBotSpeaking bool
	// sidecar drops provider transcripts in favour of a separate
	// transcriber.
	sidecar bool
}

// normalizer translates provider events into the normalized vocabulary.
// It is not safe for concurrent use, the transport serializes access.
type normalizer struct {
	policy      transcriptPolicy
	interrupter interrupter

	botSpeaking  bool
	userSpeaking bool
	utteranceID  string

	// interruptedUtterance is the last utterance cut short. Late events
	// for it are dropped.
	interruptedUtterance string
	// finishedUtterance is the last utterance closed by a done signal.
	// Trailing output for it is forwarded without reopening the bot turn.
	finishedUtterance string
}

func newNormalizer(policy transcriptPolicy, interrupter interrupter) *normalizer {
	return &normalizer{policy: policy, interrupter: interrupter}
}

func (n *normalizer) speakerTurn() SpeakerTurn {
	switch {
	case n.botSpeaking:
		return SpeakerBot
	case n.userSpeaking:
		return SpeakerUser
	default:
		return SpeakerNone
	}
}

func (n *normalizer) translate(event provider.Event) []events.Event {
	switch event.Type {
	case provider.EventSpeechStarted:
		out := n.bargeIn(true)
		n.userSpeaking = true
		return append(out, events.NewUserSpeechStarted())

	case provider.EventSpeechStopped:
		n.userSpeaking = false
		return []events.Event{events.NewUserSpeechStopped()}

	case provider.EventInputTranscriptDelta:
		return n.providerTranscript(event, events.FinalityInterim)

	case provider.EventInputTranscriptCompleted:
		return n.providerTranscript(event, events.FinalityFinal)

	case provider.EventResponseAudioStarted:
		if n.isInterrupted(event.UtteranceID) {
			return nil
		}
		return n.startBotSpeech(event.UtteranceID)

	case provider.EventResponseAudioDelta:
		if n.isInterrupted(event.UtteranceID) || len(event.Audio) == 0 {
			return nil
		}
		audioEvent := events.NewBotAudio(event.UtteranceID, event.Audio)
		if n.isFinished(event.UtteranceID) {
			return []events.Event{audioEvent}
		}
		return append(n.startBotSpeech(event.UtteranceID), audioEvent)

	case provider.EventResponseTranscriptDelta:
		if n.isInterrupted(event.UtteranceID) || event.Text == "" {
			return nil
		}
		textEvent := events.NewBotTTSText(event.UtteranceID, event.Text)
		if n.isFinished(event.UtteranceID) {
			return []events.Event{textEvent}
		}
		return append(n.startBotSpeech(event.UtteranceID), textEvent)

	case provider.EventResponseAudioDone:
		if !n.botSpeaking || n.isInterrupted(event.UtteranceID) {
			return nil
		}
		if event.UtteranceID != "" && event.UtteranceID != n.utteranceID {
			return nil
		}
		n.botSpeaking = false
		n.finishedUtterance = n.utteranceID
		return []events.Event{events.NewBotSpeechStopped(n.utteranceID, false)}

	case provider.EventResponseInterrupted:
		return n.bargeIn(false)

	case provider.EventError:
		if event.Err == nil {
			return nil
		}
		return []events.Event{events.NewTransportError(event.Err, false)}
	}

	return nil
}

// transcript applies the delivery policy to a fragment from any source.
func (n *normalizer) transcript(fragment events.TranscriptFragment) []events.Event {
	if fragment.Text == "" {
		return nil
	}
	if n.policy.suppressWhileBotSpeaking && n.botSpeaking {
		return nil
	}
	return []events.Event{events.NewTranscript(fragment)}
}

func (n *normalizer) providerTranscript(event provider.Event, finality events.Finality) []events.Event {
	if n.policy.sidecar {
		return nil
	}
	return n.transcript(events.TranscriptFragment{Text: event.Text, Finality: finality, Timestamp: event.Time})
}

func (n *normalizer) startBotSpeech(utteranceID string) []events.Event {
	if n.botSpeaking {
		if utteranceID == "" || utteranceID == n.utteranceID {
			return nil
		}
		// a new utterance without a done signal for the previous one
		previous := n.utteranceID
		n.utteranceID = utteranceID
		return []events.Event{
			events.NewBotSpeechStopped(previous, false),
			events.NewBotSpeechStarted(utteranceID),
		}
	}
	n.botSpeaking = true
	if utteranceID != "" {
		n.utteranceID = utteranceID
	}
	return []events.Event{events.NewBotSpeechStarted(n.utteranceID)}
}

// bargeIn stops playback and closes the bot turn. Playback is interrupted
// even when the bot turn already ended, since audio may still be queued.
func (n *normalizer) bargeIn(cancel bool) []events.Event {
	if n.interrupter != nil {
		if interruption, ok := n.interrupter.interrupt(cancel); ok && interruption.UtteranceID != "" {
			n.interruptedUtterance = interruption.UtteranceID
		}
	}

	if !n.botSpeaking {
		return nil
	}
	n.botSpeaking = false
	if n.utteranceID != "" {
		n.interruptedUtterance = n.utteranceID
	}
	return []events.Event{events.NewBotSpeechStopped(n.utteranceID, true)}
}

func (n *normalizer) isInterrupted(utteranceID string) bool {
	return utteranceID != "" && utteranceID == n.interruptedUtterance
}

func (n *normalizer) isFinished(utteranceID string) bool {
	return !n.botSpeaking && utteranceID != "" && utteranceID == n.finishedUtterance
}
