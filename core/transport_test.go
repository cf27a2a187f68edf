package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/events"
	"github.com/koscakluka/ema-realtime/core/provider"
	"github.com/koscakluka/ema-realtime/core/provider/mock"
	"github.com/koscakluka/ema-realtime/core/relay"
	"github.com/koscakluka/ema-realtime/core/speechtotext"
)

func TestSessionEndToEndWithBargeIn(t *testing.T) {
	session := mock.NewSession()
	input := &fakeInput{}
	output := newFakeOutput(true)
	opener := &fakeOpener{devices: audio.Devices{Input: input, Output: output}}
	tr, _ := newTestTransport(t, session, WithAudioDevices(opener))
	t.Cleanup(output.ungate)
	recorder := recordAll(t, tr)

	var queuedAtUserStart atomic.Int64
	queuedAtUserStart.Store(-1)
	connectTestTransport(t, tr,
		Config{
			EnableMic: true,
			InitialMessages: []Message{
				{Role: RoleSystem, Content: "be terse"},
				{Role: RoleUser, Content: "hi"},
			},
		},
		WithUserStartedSpeakingCallback(func() { queuedAtUserStart.Store(int64(tr.queue.Len())) }),
	)

	expectedStates := []events.TransportState{
		events.StateInitializing,
		events.StateInitialized,
		events.StateConnecting,
		events.StateConnected,
	}
	if states := recorder.states(); !slices.Equal(states, expectedStates) {
		t.Fatalf("expected states %v, got %v", expectedStates, states)
	}
	if got := recorder.count(events.KindConnected); got != 1 {
		t.Fatalf("expected one connected event, got %d", got)
	}
	if !slices.Equal(session.UpdateInstructionsCalls, []string{"be terse"}) {
		t.Fatalf("expected system instruction to be seeded, got %v", session.UpdateInstructionsCalls)
	}
	if !slices.Equal(session.SendUserTextCalls, []string{"hi"}) {
		t.Fatalf("expected user message to be seeded, got %v", session.SendUserTextCalls)
	}

	session.Emit(provider.Event{Type: provider.EventResponseAudioStarted, UtteranceID: "item_0"})
	session.Emit(provider.Event{Type: provider.EventResponseAudioStarted, UtteranceID: "item_0"})
	session.Emit(provider.Event{Type: provider.EventResponseAudioDone, UtteranceID: "item_0"})
	waitForCondition(t, time.Second, "first utterance to stop", func() bool {
		return recorder.count(events.KindBotSpeechStopped) == 1
	})
	if got := recorder.count(events.KindBotSpeechStarted); got != 1 {
		t.Fatalf("expected one bot speech started event, got %d", got)
	}

	session.Emit(provider.Event{Type: provider.EventResponseAudioStarted, UtteranceID: "item_1"})
	for range 5 {
		session.Emit(provider.Event{Type: provider.EventResponseAudioDelta, UtteranceID: "item_1", Audio: make([]byte, 480)})
	}
	waitForCondition(t, time.Second, "first chunk to reach the device", func() bool {
		return output.enteredCount() == 1
	})
	output.releaseChunks(3)
	waitForCondition(t, time.Second, "fourth chunk to reach the device", func() bool {
		return output.enteredCount() == 4
	})
	if turn := tr.SpeakerTurn(); turn != SpeakerBot {
		t.Fatalf("expected bot turn, got %s", turn)
	}

	session.Emit(provider.Event{Type: provider.EventSpeechStarted})
	waitForCondition(t, time.Second, "user speech started", func() bool {
		return recorder.count(events.KindUserSpeechStarted) == 1
	})
	waitForCondition(t, time.Second, "cancel request", func() bool {
		return len(session.CancelResponses()) == 1
	})

	cancels := session.CancelResponses()
	expected := audio.PendingInterruption{UtteranceID: "item_1", SampleOffset: 720}
	if cancels[0] != expected {
		t.Fatalf("expected truncation %+v, got %+v", expected, cancels[0])
	}
	if got := cancels[0].AudioEnd(audio.GetDefaultEncodingInfo()); got != 30*time.Millisecond {
		t.Fatalf("expected truncation at 30ms, got %s", got)
	}
	if queued := queuedAtUserStart.Load(); queued != 0 {
		t.Fatalf("expected playback queue to be empty before user speech started, got %d", queued)
	}
	if output.clearCount() == 0 {
		t.Fatalf("expected output buffer to be cleared")
	}
	if turn := tr.SpeakerTurn(); turn != SpeakerUser {
		t.Fatalf("expected user turn, got %s", turn)
	}

	kinds := recorder.kinds()
	tail := kinds[len(kinds)-3:]
	expectedTail := []events.Kind{events.KindBotSpeechStarted, events.KindBotSpeechStopped, events.KindUserSpeechStarted}
	if !slices.Equal(tail, expectedTail) {
		t.Fatalf("expected event tail %v, got %v", expectedTail, tail)
	}
	for _, event := range recorder.snapshot() {
		if stopped, ok := event.(events.BotSpeechStopped); ok && stopped.UtteranceID == "item_1" && !stopped.Interrupted {
			t.Fatalf("expected interrupted utterance to be marked as interrupted")
		}
	}

	session.Emit(provider.Event{Type: provider.EventResponseAudioDelta, UtteranceID: "item_1", Audio: make([]byte, 480)})
	session.Emit(provider.Event{Type: provider.EventResponseTranscriptDelta, UtteranceID: "item_1", Text: "late"})
	session.Emit(provider.Event{Type: provider.EventSpeechStopped})
	waitForCondition(t, time.Second, "user speech stopped", func() bool {
		return recorder.count(events.KindUserSpeechStopped) == 1
	})
	if got := recorder.count(events.KindBotTTSText); got != 0 {
		t.Fatalf("expected late text of interrupted utterance to be dropped, got %d", got)
	}
	if got := tr.queue.Len(); got != 0 {
		t.Fatalf("expected late audio of interrupted utterance to be dropped, got %d chunks", got)
	}
}

func TestInitializeRequiresTransportKind(t *testing.T) {
	tr, _ := newTestTransport(t, mock.NewSession())
	recorder := recordAll(t, tr)

	err := tr.Initialize(context.Background(), Config{})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if state := tr.State(); state != events.StateUninitialized {
		t.Fatalf("expected uninitialized state, got %s", state)
	}
	if got := len(recorder.snapshot()); got != 0 {
		t.Fatalf("expected no notifications, got %d", got)
	}
}

func TestInitializeRejectsUnregisteredTransportKind(t *testing.T) {
	tr, _ := newTestTransport(t, mock.NewSession())

	err := tr.Initialize(context.Background(), Config{TransportKind: TransportGemini})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if state := tr.State(); state != events.StateUninitialized {
		t.Fatalf("expected uninitialized state, got %s", state)
	}
}

func TestInitializeTwiceFails(t *testing.T) {
	tr, _ := newTestTransport(t, mock.NewSession())
	ctx := context.Background()

	if err := tr.Initialize(ctx, Config{TransportKind: TransportOpenAI}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.Initialize(ctx, Config{TransportKind: TransportOpenAI}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestOpenInputDevicesFailureMovesToError(t *testing.T) {
	opener := &fakeOpener{err: errors.New("permission denied")}
	tr, _ := newTestTransport(t, mock.NewSession(), WithAudioDevices(opener))

	reported := &collector[error]{}
	ctx := context.Background()
	if err := tr.Initialize(ctx, Config{TransportKind: TransportOpenAI, EnableMic: true},
		WithErrorCallback(reported.add),
	); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := tr.OpenInputDevices(ctx)
	if !errors.Is(err, ErrDevice) {
		t.Fatalf("expected ErrDevice, got %v", err)
	}
	if state := tr.State(); state != events.StateError {
		t.Fatalf("expected error state, got %s", state)
	}
	if errs := reported.all(); len(errs) != 1 || !errors.Is(errs[0], ErrDevice) {
		t.Fatalf("expected device error callback, got %v", errs)
	}
	if err := tr.Connect(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected connect after error to fail, got %v", err)
	}
}

func TestOpenInputDevicesIsIdempotent(t *testing.T) {
	opener := &fakeOpener{devices: audio.Devices{Input: &fakeInput{}, Output: newFakeOutput(false)}}
	tr, _ := newTestTransport(t, mock.NewSession(), WithAudioDevices(opener))
	ctx := context.Background()

	if err := tr.Initialize(ctx, Config{TransportKind: TransportOpenAI, EnableMic: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for range 2 {
		if err := tr.OpenInputDevices(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := opener.callCount(); got != 1 {
		t.Fatalf("expected devices to be opened once, got %d", got)
	}
	if !opener.calls[0].Capture || !opener.calls[0].Playback {
		t.Fatalf("expected capture and playback to be requested, got %+v", opener.calls[0])
	}
	if rate := opener.calls[0].EncodingInfo.SampleRate; rate != audio.DefaultSampleRate {
		t.Fatalf("expected sample rate %d, got %d", audio.DefaultSampleRate, rate)
	}
}

func TestOpenInputDevicesWithoutMicrophoneSkipsCapture(t *testing.T) {
	opener := &fakeOpener{devices: audio.Devices{Output: newFakeOutput(false)}}
	tr, _ := newTestTransport(t, mock.NewSession(), WithAudioDevices(opener))
	ctx := context.Background()

	if err := tr.Initialize(ctx, Config{TransportKind: TransportOpenAI}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.OpenInputDevices(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opener.calls[0].Capture {
		t.Fatalf("expected capture not to be requested")
	}
}

func TestConnectFailureMovesToErrorWithoutRetry(t *testing.T) {
	tr, p := newTestTransport(t, nil)
	p.ConnectErr = errors.New("handshake rejected")
	recorder := recordAll(t, tr)

	ctx := context.Background()
	if err := tr.Initialize(ctx, Config{TransportKind: TransportOpenAI}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := tr.Connect(ctx)
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if state := tr.State(); state != events.StateError {
		t.Fatalf("expected error state, got %s", state)
	}
	if got := p.ConnectCallCount(); got != 1 {
		t.Fatalf("expected exactly one connect attempt, got %d", got)
	}

	expectedStates := []events.TransportState{
		events.StateInitializing,
		events.StateInitialized,
		events.StateConnecting,
		events.StateError,
	}
	if states := recorder.states(); !slices.Equal(states, expectedStates) {
		t.Fatalf("expected states %v, got %v", expectedStates, states)
	}
	if got := recorder.count(events.KindTransportError); got != 1 {
		t.Fatalf("expected one error event, got %d", got)
	}
	if got := recorder.count(events.KindConnected); got != 0 {
		t.Fatalf("expected no connected event, got %d", got)
	}
}

func TestConnectConfigureFailureClosesSession(t *testing.T) {
	session := mock.NewSession()
	session.ConfigureErr = errors.New("unsupported vad")
	tr, _ := newTestTransport(t, session)

	ctx := context.Background()
	if err := tr.Initialize(ctx, Config{TransportKind: TransportOpenAI}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.Connect(ctx); !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if !session.Closed() {
		t.Fatalf("expected session to be closed after failed negotiation")
	}
}

func TestConnectNegotiatesTurnDetectionAndTranscription(t *testing.T) {
	session := mock.NewSession()
	tr, p := newTestTransport(t, session)
	connectTestTransport(t, tr, Config{})

	if len(session.ConfigureCalls) != 1 {
		t.Fatalf("expected one configure call, got %d", len(session.ConfigureCalls))
	}
	cfg := session.ConfigureCalls[0]
	if cfg.TurnDetection.Type != "server_vad" || cfg.TurnDetection.SilenceDuration != 700*time.Millisecond {
		t.Fatalf("expected server vad with 700ms silence, got %+v", cfg.TurnDetection)
	}
	if cfg.TranscriptionModel != "whisper-1" {
		t.Fatalf("expected whisper-1 transcription, got %q", cfg.TranscriptionModel)
	}
	if rate := p.ConnectCalls[0].EncodingInfo.SampleRate; rate != audio.DefaultSampleRate {
		t.Fatalf("expected sample rate %d, got %d", audio.DefaultSampleRate, rate)
	}
}

func TestSeedingDropsExtraMessagesWithWarning(t *testing.T) {
	session := mock.NewSession()
	logs := &syncBuffer{}
	tr, _ := newTestTransport(t, session, WithLogger(slog.New(slog.NewTextHandler(logs, nil))))

	connectTestTransport(t, tr, Config{
		InitialMessages: []Message{
			{Role: RoleSystem, Content: "be terse"},
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
			{Role: RoleUser, Content: "again"},
		},
	})

	if !slices.Equal(session.UpdateInstructionsCalls, []string{"be terse"}) {
		t.Fatalf("expected only the system message to be seeded, got %v", session.UpdateInstructionsCalls)
	}
	if !slices.Equal(session.SendUserTextCalls, []string{"hi"}) {
		t.Fatalf("expected only the first user message to be sent, got %v", session.SendUserTextCalls)
	}
	output := logs.String()
	if !strings.Contains(output, "level=WARN") || !strings.Contains(output, "dropped=2") {
		t.Fatalf("expected a warning about two dropped messages, got %q", output)
	}
}

func TestCaptureForwardsOnlyWhenReady(t *testing.T) {
	session := mock.NewSession()
	input := &fakeInput{}
	transcriber := &fakeTranscriber{}
	opener := &fakeOpener{devices: audio.Devices{Input: input, Output: newFakeOutput(false)}}
	tr, _ := newTestTransport(t, session, WithAudioDevices(opener), WithTranscriber(transcriber))
	connectTestTransport(t, tr, Config{EnableMic: true})

	waitForCondition(t, time.Second, "capture to start", input.streaming)
	for range 3 {
		input.capture(make([]byte, 960))
	}
	if got := session.SendAudioCount(); got != 0 {
		t.Fatalf("expected no audio before ready, got %d frames", got)
	}

	if err := tr.MarkReady(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	frame := make([]byte, 960)
	frame[0] = 7
	input.capture(frame)
	frame[0] = 0
	input.capture(frame)

	waitForCondition(t, time.Second, "ready audio to be forwarded", func() bool {
		return session.SendAudioCount() == 2
	})
	time.Sleep(30 * time.Millisecond)
	if got := session.SendAudioCount(); got != 2 {
		t.Fatalf("expected exactly two forwarded frames, got %d", got)
	}
	if session.SendAudioCalls[0][0] != 7 {
		t.Fatalf("expected captured frame to be copied before queueing")
	}
	waitForCondition(t, time.Second, "frames to reach the transcriber", func() bool {
		return transcriber.sentCount() == 2
	})
}

func TestSlowProviderFailsSessionWithStreamError(t *testing.T) {
	session := mock.NewSession()
	session.SendAudioHook = func(ctx context.Context, _ []byte) error {
		<-ctx.Done()
		return ctx.Err()
	}
	input := &fakeInput{}
	opener := &fakeOpener{devices: audio.Devices{Input: input, Output: newFakeOutput(false)}}
	tr, _ := newTestTransport(t, session, WithAudioDevices(opener))

	reported := &collector[error]{}
	connectTestTransport(t, tr,
		Config{EnableMic: true, FrameQueueSize: 1, SendTimeout: 20 * time.Millisecond},
		WithErrorCallback(reported.add),
	)
	waitForCondition(t, time.Second, "capture to start", input.streaming)
	if err := tr.MarkReady(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for range 4 {
		input.capture(make([]byte, 960))
	}

	waitForCondition(t, time.Second, "session to fail", func() bool {
		return tr.State() == events.StateError
	})
	if errs := reported.all(); len(errs) != 1 || !errors.Is(errs[0], ErrStream) {
		t.Fatalf("expected one stream error, got %v", errs)
	}
}

func TestProviderStreamEndMovesToError(t *testing.T) {
	session := mock.NewSession()
	tr, _ := newTestTransport(t, session)
	recorder := recordAll(t, tr)
	connectTestTransport(t, tr, Config{})

	session.Fail(errTest)

	waitForCondition(t, time.Second, "session to fail", func() bool {
		return tr.State() == events.StateError
	})
	var fatal []events.TransportError
	for _, event := range recorder.snapshot() {
		if transportErr, ok := event.(events.TransportError); ok {
			fatal = append(fatal, transportErr)
		}
	}
	if len(fatal) != 1 || !fatal[0].Fatal {
		t.Fatalf("expected one fatal error, got %+v", fatal)
	}
	if !errors.Is(fatal[0].Err, ErrStream) || !errors.Is(fatal[0].Err, errTest) {
		t.Fatalf("expected stream error wrapping the provider error, got %v", fatal[0].Err)
	}

	if err := tr.Disconnect(context.Background()); err != nil {
		t.Fatalf("unexpected disconnect error: %v", err)
	}
	if state := tr.State(); state != events.StateDisconnected {
		t.Fatalf("expected disconnect to leave the error state, got %s", state)
	}
}

func TestProviderErrorEventIsNotFatal(t *testing.T) {
	session := mock.NewSession()
	tr, _ := newTestTransport(t, session)
	reported := &collector[error]{}
	connectTestTransport(t, tr, Config{}, WithErrorCallback(reported.add))

	session.Emit(provider.Event{Type: provider.EventError, Err: errTest})
	session.Emit(provider.Event{Type: provider.EventSpeechStopped})

	waitForCondition(t, time.Second, "error to be reported", func() bool {
		return tr.State() == events.StateConnected && reported.len() == 1
	})
	if err := reported.all()[0]; !errors.Is(err, errTest) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestMarkReadyRequiresConnected(t *testing.T) {
	tr, _ := newTestTransport(t, mock.NewSession())
	if err := tr.Initialize(context.Background(), Config{TransportKind: TransportOpenAI}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.MarkReady(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if state := tr.State(); state != events.StateInitialized {
		t.Fatalf("expected state to stay initialized, got %s", state)
	}
}

func TestSendTextRequiresConnectedSession(t *testing.T) {
	session := mock.NewSession()
	tr, _ := newTestTransport(t, session)
	ctx := context.Background()

	if err := tr.SendText(ctx, "early"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	connectTestTransport(t, tr, Config{})
	if err := tr.SendText(ctx, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(session.SendUserTextCalls, []string{"hello"}) {
		t.Fatalf("expected text to reach the session, got %v", session.SendUserTextCalls)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	session := mock.NewSession()
	input := &fakeInput{}
	output := newFakeOutput(false)
	opener := &fakeOpener{devices: audio.Devices{Input: input, Output: output}}
	tr, _ := newTestTransport(t, session, WithAudioDevices(opener))
	recorder := recordAll(t, tr)
	connectTestTransport(t, tr, Config{EnableMic: true})
	if err := tr.MarkReady(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for range 2 {
		if err := tr.Disconnect(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if state := tr.State(); state != events.StateDisconnected {
		t.Fatalf("expected disconnected state, got %s", state)
	}
	if got := recorder.count(events.KindDisconnected); got != 1 {
		t.Fatalf("expected one disconnected event, got %d", got)
	}
	states := recorder.states()
	if states[len(states)-1] != events.StateDisconnected || slices.Index(states, events.StateDisconnected) != len(states)-1 {
		t.Fatalf("expected a single final disconnected transition, got %v", states)
	}
	if !session.Closed() || !input.isClosed() || !output.isClosed() {
		t.Fatalf("expected session and devices to be released")
	}

	before := session.SendAudioCount()
	input.capture(make([]byte, 960))
	if got := session.SendAudioCount(); got != before {
		t.Fatalf("expected no audio after disconnect")
	}
}

func TestDisconnectBeforeInitialize(t *testing.T) {
	tr, _ := newTestTransport(t, mock.NewSession())
	recorder := recordAll(t, tr)

	if err := tr.Disconnect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if states := recorder.states(); !slices.Equal(states, []events.TransportState{events.StateDisconnected}) {
		t.Fatalf("expected a single disconnected transition, got %v", states)
	}
	if err := tr.Initialize(context.Background(), Config{TransportKind: TransportOpenAI}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected initialize after disconnect to fail, got %v", err)
	}
}

func TestDisconnectAbandonsStuckPlayback(t *testing.T) {
	session := mock.NewSession()
	output := newFakeOutput(true)
	opener := &fakeOpener{devices: audio.Devices{Output: output}}
	tr, _ := newTestTransport(t, session, WithAudioDevices(opener))
	connectTestTransport(t, tr, Config{DisconnectTimeout: 50 * time.Millisecond})

	session.Emit(provider.Event{Type: provider.EventResponseAudioDelta, UtteranceID: "item_1", Audio: make([]byte, 480)})
	waitForCondition(t, time.Second, "chunk to reach the device", func() bool {
		return output.enteredCount() == 1
	})

	start := time.Now()
	if err := tr.Disconnect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected disconnect to give up on stuck playback, took %s", elapsed)
	}
	if state := tr.State(); state != events.StateDisconnected {
		t.Fatalf("expected disconnected state, got %s", state)
	}
}

func TestRelayConnectionInfoIsPassedToProvider(t *testing.T) {
	var requestData map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/connect" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&requestData)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ws_url":"wss://relay.test/session","token":"relay-token"}`))
	}))
	defer server.Close()

	session := mock.NewSession()
	tr, p := newTestTransport(t, session, WithRelayClient(relay.NewClient(relay.WithOrigin(server.URL))))
	connectTestTransport(t, tr, Config{
		BaseURL:         "/api",
		RequestData:     map[string]any{"bot_profile": "voice"},
		InitialMessages: []Message{{Role: RoleUser, Content: "hi"}},
	})

	info := p.ConnectCalls[0].ConnectionInfo
	if info.URL != "wss://relay.test/session" || info.Token != "relay-token" {
		t.Fatalf("expected relay connection info, got %+v", info)
	}
	if requestData["bot_profile"] != "voice" {
		t.Fatalf("expected request data to be forwarded, got %v", requestData)
	}
	if _, ok := requestData["initial_messages"]; !ok {
		t.Fatalf("expected initial messages in relay request, got %v", requestData)
	}
}

func TestRelayFailureIsConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bot start failed", http.StatusBadGateway)
	}))
	defer server.Close()

	tr, p := newTestTransport(t, mock.NewSession(), WithRelayClient(relay.NewClient(relay.WithOrigin(server.URL))))
	ctx := context.Background()
	if err := tr.Initialize(ctx, Config{TransportKind: TransportOpenAI, BaseURL: "/api"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := tr.Connect(ctx)
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	var statusErr *relay.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected relay status error, got %v", err)
	}
	if got := p.ConnectCallCount(); got != 0 {
		t.Fatalf("expected provider not to be dialed, got %d calls", got)
	}
}

func TestSidecarTranscriberReplacesProviderTranscripts(t *testing.T) {
	session := mock.NewSession()
	transcriber := &fakeTranscriber{}
	opener := &fakeOpener{devices: audio.Devices{Input: &fakeInput{}, Output: newFakeOutput(false)}}
	tr, _ := newTestTransport(t, session, WithAudioDevices(opener), WithTranscriber(transcriber))

	fragments := &collector[events.TranscriptFragment]{}
	connectTestTransport(t, tr, Config{EnableMic: true},
		WithTranscriptCallback(fragments.add),
	)

	options := transcriber.transcriptionOptions()
	if options.InterimTranscriptionCallback == nil || options.TranscriptionCallback == nil {
		t.Fatalf("expected transcriber callbacks to be registered")
	}
	if options.EncodingInfo.SampleRate != audio.DefaultSampleRate {
		t.Fatalf("expected transcriber to get the capture encoding, got %+v", options.EncodingInfo)
	}

	session.Emit(provider.Event{Type: provider.EventInputTranscriptCompleted, Text: "from provider"})
	session.Emit(provider.Event{Type: provider.EventSpeechStopped})
	waitForCondition(t, time.Second, "provider events to be processed", func() bool {
		return tr.SpeakerTurn() == SpeakerNone
	})

	options.InterimTranscriptionCallback("turn it")
	options.TranscriptionCallback("turn it off")
	waitForCondition(t, time.Second, "sidecar fragments", func() bool {
		return fragments.len() == 2
	})

	got := fragments.all()
	if len(got) != 2 {
		t.Fatalf("expected two sidecar fragments, got %+v", got)
	}
	if got[0].Finality != events.FinalityInterim || got[1].Finality != events.FinalityFinal {
		t.Fatalf("expected interim then final fragment, got %+v", got)
	}
	if got[1].Text != "turn it off" {
		t.Fatalf("expected final sidecar transcript, got %q", got[1].Text)
	}
}

func TestSidecarTranscriptsAreDispatchedByEventPump(t *testing.T) {
	session := mock.NewSession()
	transcriber := &fakeTranscriber{}
	opener := &fakeOpener{devices: audio.Devices{Input: &fakeInput{}, Output: newFakeOutput(false)}}
	tr, _ := newTestTransport(t, session, WithAudioDevices(opener), WithTranscriber(transcriber))

	handling := make(chan struct{})
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	fragments := &collector[events.TranscriptFragment]{}
	connectTestTransport(t, tr, Config{EnableMic: true},
		WithTranscriptCallback(fragments.add),
		WithBotTTSTextCallback(func(string) {
			close(handling)
			<-release
		}),
	)

	session.Emit(provider.Event{Type: provider.EventResponseTranscriptDelta, UtteranceID: "item_1", Text: "Hi"})
	select {
	case <-handling:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the bot text handler")
	}

	transcriber.transcriptionOptions().TranscriptionCallback("while bot text is handled")
	if got := fragments.len(); got != 0 {
		t.Fatalf("expected sidecar fragment to wait for the event pump, got %d delivered", got)
	}

	unblock()
	waitForCondition(t, time.Second, "sidecar fragment after handler returned", func() bool {
		return fragments.len() == 1
	})
}

func TestNilRelayClientKeepsDefault(t *testing.T) {
	tr := New(WithRelayClient(nil))
	if tr.relay == nil {
		t.Fatalf("expected default relay client to be kept")
	}
}

func TestSidecarTranscriberFailureFallsBackToProvider(t *testing.T) {
	session := mock.NewSession()
	transcriber := &fakeTranscriber{startErr: errTest}
	opener := &fakeOpener{devices: audio.Devices{Input: &fakeInput{}, Output: newFakeOutput(false)}}
	tr, _ := newTestTransport(t, session, WithAudioDevices(opener), WithTranscriber(transcriber))

	fragments := &collector[events.TranscriptFragment]{}
	connectTestTransport(t, tr, Config{EnableMic: true},
		WithTranscriptCallback(fragments.add),
	)

	session.Emit(provider.Event{Type: provider.EventInputTranscriptCompleted, Text: "from provider"})
	waitForCondition(t, time.Second, "provider transcript", func() bool {
		return fragments.len() == 1
	})
	if text := fragments.all()[0].Text; text != "from provider" {
		t.Fatalf("expected provider transcript, got %q", text)
	}
}

var _ speechtotext.Transcriber = (*fakeTranscriber)(nil)
