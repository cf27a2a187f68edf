package events

const (
	// KindBotSpeechStarted identifies start of synthesized bot speech.
	KindBotSpeechStarted Kind = "bot_output.speech_started"
	// KindBotSpeechStopped identifies end of synthesized bot speech, either
	// because the utterance finished or because it was interrupted.
	KindBotSpeechStopped Kind = "bot_output.speech_stopped"
	// KindBotTTSText identifies streamed text of the bot utterance.
	KindBotTTSText Kind = "bot_output.tts_text"
	// KindBotAudio identifies a synthesized audio chunk.
	KindBotAudio Kind = "bot_output.audio"
)

// BotSpeechStarted marks the start of a bot utterance.
type BotSpeechStarted struct {
	Base
	UtteranceID string
}

// NewBotSpeechStarted creates a bot speech started event.
func NewBotSpeechStarted(utteranceID string) BotSpeechStarted {
	return BotSpeechStarted{Base: NewBase(KindBotSpeechStarted), UtteranceID: utteranceID}
}

// BotSpeechStopped marks the end of a bot utterance.
type BotSpeechStopped struct {
	Base
	UtteranceID string
	Interrupted bool
}

// NewBotSpeechStopped creates a bot speech stopped event.
func NewBotSpeechStopped(utteranceID string, interrupted bool) BotSpeechStopped {
	return BotSpeechStopped{Base: NewBase(KindBotSpeechStopped), UtteranceID: utteranceID, Interrupted: interrupted}
}

// BotTTSText carries an append-only text delta of the bot utterance.
type BotTTSText struct {
	Base
	UtteranceID string
	Text        string
}

// NewBotTTSText creates a bot text delta event.
func NewBotTTSText(utteranceID, text string) BotTTSText {
	return BotTTSText{Base: NewBase(KindBotTTSText), UtteranceID: utteranceID, Text: text}
}

// BotAudio carries a PCM chunk of the bot utterance.
type BotAudio struct {
	Base
	UtteranceID string
	Audio       []byte
}

// NewBotAudio creates a bot audio event.
func NewBotAudio(utteranceID string, audio []byte) BotAudio {
	return BotAudio{Base: NewBase(KindBotAudio), UtteranceID: utteranceID, Audio: audio}
}
