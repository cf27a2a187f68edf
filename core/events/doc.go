// Package events defines the normalized realtime session event contract.
//
// Provider specific messages are translated into this vocabulary before any
// callback sees them, so receivers never depend on the backend in use.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - transport.*
//   - user_input.*
//   - bot_output.*
//
// transport events
//
//   - TransportStateChanged (transport.state_changed): one per state
//     transition, carries previous and current state.
//   - Connected (transport.connected): provider stream open, context
//     seeded, workers running.
//   - Disconnected (transport.disconnected): session fully torn down.
//   - TransportError (transport.error): fatal or non-fatal session error.
//
// user_input events
//
//   - UserSpeechStarted (user_input.speech_started): provider detected user
//     speech. When the bot was speaking this follows a BotSpeechStopped.
//   - UserSpeechStopped (user_input.speech_stopped): user speech ended.
//   - Transcript (user_input.transcript): interim or final transcript
//     fragment.
//
// bot_output events
//
//   - BotSpeechStarted (bot_output.speech_started): first audio or text of
//     an utterance. Never repeated for the same utterance.
//   - BotSpeechStopped (bot_output.speech_stopped): utterance finished or
//     was interrupted. Exactly one per BotSpeechStarted.
//   - BotTTSText (bot_output.tts_text): append-only text of the utterance.
//   - BotAudio (bot_output.audio): synthesized PCM chunk, consumed by the
//     playback queue.
package events
