package transport

import (
	"log/slog"

	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/events"
	"github.com/koscakluka/ema-realtime/core/provider"
	"github.com/koscakluka/ema-realtime/core/relay"
	"github.com/koscakluka/ema-realtime/core/speechtotext"
)

type TransportOption func(*Transport)

// WithProvider registers the backend used for sessions of the given kind.
func WithProvider(kind TransportKind, p provider.Provider) TransportOption {
	return func(t *Transport) {
		if p == nil {
			delete(t.providers, kind)
			return
		}
		t.providers[kind] = p
	}
}

func WithAudioDevices(opener audio.DeviceOpener) TransportOption {
	return func(t *Transport) { t.deviceOpener = opener }
}

// WithTranscriber runs a speech-to-text stream next to the session. Its
// transcripts replace the ones reported by the provider.
func WithTranscriber(transcriber speechtotext.Transcriber) TransportOption {
	return func(t *Transport) { t.transcriber = transcriber }
}

func WithRelayClient(client *relay.Client) TransportOption {
	return func(t *Transport) {
		if client != nil {
			t.relay = client
		}
	}
}

func WithLogger(l *slog.Logger) TransportOption {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
			t.dispatcher.logger = l
		}
	}
}

// CallbackOption registers a typed handler on the dispatcher. Options built
// from a nil callback are nil and skipped.
type CallbackOption func(*Dispatcher)

func typedCallback[E events.Event](kind events.Kind, callback func(E)) CallbackOption {
	return func(d *Dispatcher) {
		d.on(kind, func(event events.Event) {
			if typed, ok := event.(E); ok {
				callback(typed)
			}
		})
	}
}

func WithUserStartedSpeakingCallback(callback func()) CallbackOption {
	if callback == nil {
		return nil
	}
	return typedCallback(events.KindUserSpeechStarted, func(events.UserSpeechStarted) { callback() })
}

func WithUserStoppedSpeakingCallback(callback func()) CallbackOption {
	if callback == nil {
		return nil
	}
	return typedCallback(events.KindUserSpeechStopped, func(events.UserSpeechStopped) { callback() })
}

func WithTranscriptCallback(callback func(fragment events.TranscriptFragment)) CallbackOption {
	if callback == nil {
		return nil
	}
	return typedCallback(events.KindTranscript, func(event events.Transcript) { callback(event.Fragment) })
}

func WithBotStartedSpeakingCallback(callback func()) CallbackOption {
	if callback == nil {
		return nil
	}
	return typedCallback(events.KindBotSpeechStarted, func(events.BotSpeechStarted) { callback() })
}

// WithBotStoppedSpeakingCallback is called when an utterance ends, also
// when it was cut short by the user.
func WithBotStoppedSpeakingCallback(callback func()) CallbackOption {
	if callback == nil {
		return nil
	}
	return typedCallback(events.KindBotSpeechStopped, func(events.BotSpeechStopped) { callback() })
}

func WithBotTTSTextCallback(callback func(text string)) CallbackOption {
	if callback == nil {
		return nil
	}
	return typedCallback(events.KindBotTTSText, func(event events.BotTTSText) { callback(event.Text) })
}

func WithBotAudioCallback(callback func(audio []byte)) CallbackOption {
	if callback == nil {
		return nil
	}
	return typedCallback(events.KindBotAudio, func(event events.BotAudio) { callback(event.Audio) })
}

func WithTransportStateChangedCallback(callback func(state events.TransportState)) CallbackOption {
	if callback == nil {
		return nil
	}
	return typedCallback(events.KindTransportStateChanged, func(event events.TransportStateChanged) { callback(event.Current) })
}

func WithConnectedCallback(callback func()) CallbackOption {
	if callback == nil {
		return nil
	}
	return typedCallback(events.KindConnected, func(events.Connected) { callback() })
}

func WithDisconnectedCallback(callback func()) CallbackOption {
	if callback == nil {
		return nil
	}
	return typedCallback(events.KindDisconnected, func(events.Disconnected) { callback() })
}

func WithErrorCallback(callback func(err error)) CallbackOption {
	if callback == nil {
		return nil
	}
	return typedCallback(events.KindTransportError, func(event events.TransportError) { callback(event.Err) })
}
