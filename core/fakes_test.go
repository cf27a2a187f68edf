package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/events"
	"github.com/koscakluka/ema-realtime/core/provider/mock"
	"github.com/koscakluka/ema-realtime/core/speechtotext"
)

var allKinds = []events.Kind{
	events.KindTransportStateChanged,
	events.KindConnected,
	events.KindDisconnected,
	events.KindTransportError,
	events.KindUserSpeechStarted,
	events.KindUserSpeechStopped,
	events.KindTranscript,
	events.KindBotSpeechStarted,
	events.KindBotSpeechStopped,
	events.KindBotTTSText,
	events.KindBotAudio,
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func recordAll(t *testing.T, tr *Transport) *eventRecorder {
	t.Helper()

	recorder := &eventRecorder{}
	for _, kind := range allKinds {
		if err := tr.On(kind, recorder.record); err != nil {
			t.Fatalf("unexpected error registering %s: %v", kind, err)
		}
	}
	return recorder
}

func (r *eventRecorder) record(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *eventRecorder) count(kind events.Kind) int {
	n := 0
	for _, event := range r.snapshot() {
		if event.Kind() == kind {
			n++
		}
	}
	return n
}

// kinds returns recorded kinds, skipping bot audio which is noisy.
func (r *eventRecorder) kinds() []events.Kind {
	var kinds []events.Kind
	for _, event := range r.snapshot() {
		if event.Kind() == events.KindBotAudio {
			continue
		}
		kinds = append(kinds, event.Kind())
	}
	return kinds
}

func (r *eventRecorder) states() []events.TransportState {
	var states []events.TransportState
	for _, event := range r.snapshot() {
		if change, ok := event.(events.TransportStateChanged); ok {
			states = append(states, change.Current)
		}
	}
	return states
}

type fakeInput struct {
	mu      sync.Mutex
	onAudio func([]byte)
	closed  bool
}

func (f *fakeInput) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

func (f *fakeInput) Stream(ctx context.Context, onAudio func([]byte)) error {
	f.mu.Lock()
	f.onAudio = onAudio
	f.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (f *fakeInput) streaming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onAudio != nil
}

func (f *fakeInput) capture(frame []byte) {
	f.mu.Lock()
	onAudio := f.onAudio
	f.mu.Unlock()
	if onAudio != nil {
		onAudio(frame)
	}
}

func (f *fakeInput) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeInput) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeOutput accepts audio immediately unless gated, in which case every
// SendAudio waits for a release.
type fakeOutput struct {
	mu      sync.Mutex
	sent    [][]byte
	entered int
	clears  int
	closed  bool

	release  chan struct{}
	gateOpen chan struct{}
	openOnce sync.Once
}

func newFakeOutput(gated bool) *fakeOutput {
	output := &fakeOutput{release: make(chan struct{}), gateOpen: make(chan struct{})}
	if !gated {
		output.ungate()
	}
	return output
}

func (f *fakeOutput) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

func (f *fakeOutput) SendAudio(chunk []byte) error {
	f.mu.Lock()
	f.entered++
	f.mu.Unlock()

	select {
	case <-f.release:
	case <-f.gateOpen:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), chunk...))
	return nil
}

func (f *fakeOutput) releaseChunks(n int) {
	for range n {
		f.release <- struct{}{}
	}
}

func (f *fakeOutput) ungate() {
	f.openOnce.Do(func() { close(f.gateOpen) })
}

func (f *fakeOutput) ClearBuffer() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
}

func (f *fakeOutput) Close() {
	f.ungate()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeOutput) enteredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entered
}

func (f *fakeOutput) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeOutput) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

func (f *fakeOutput) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeOpener struct {
	mu      sync.Mutex
	devices audio.Devices
	err     error
	calls   []audio.OpenOptions
}

func (f *fakeOpener) Open(_ context.Context, opts audio.OpenOptions) (audio.Devices, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return audio.Devices{}, f.err
	}
	return f.devices, nil
}

func (f *fakeOpener) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeTranscriber struct {
	mu        sync.Mutex
	options   speechtotext.TranscriptionOptions
	started   bool
	startErr  error
	audioSent int
	closed    bool
}

func (f *fakeTranscriber) Transcribe(_ context.Context, opts ...speechtotext.TranscriptionOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	for _, opt := range opts {
		opt(&f.options)
	}
	f.started = true
	return nil
}

func (f *fakeTranscriber) SendAudio([]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioSent++
	return nil
}

func (f *fakeTranscriber) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTranscriber) transcriptionOptions() speechtotext.TranscriptionOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.options
}

func (f *fakeTranscriber) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audioSent
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTransport(t *testing.T, session *mock.Session, opts ...TransportOption) (*Transport, *mock.Provider) {
	t.Helper()

	p := &mock.Provider{Session: session}
	options := append([]TransportOption{
		WithProvider(TransportOpenAI, p),
		WithLogger(discardLogger()),
	}, opts...)
	tr := New(options...)
	t.Cleanup(func() { _ = tr.Disconnect(context.Background()) })
	return tr, p
}

// connectTestTransport initializes, opens devices when an opener is set and
// connects.
func connectTestTransport(t *testing.T, tr *Transport, cfg Config, callbacks ...CallbackOption) {
	t.Helper()

	ctx := context.Background()
	if cfg.TransportKind == "" {
		cfg.TransportKind = TransportOpenAI
	}
	if err := tr.Initialize(ctx, cfg, callbacks...); err != nil {
		t.Fatalf("unexpected initialize error: %v", err)
	}
	if tr.deviceOpener != nil {
		if err := tr.OpenInputDevices(ctx); err != nil {
			t.Fatalf("unexpected open devices error: %v", err)
		}
	}
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
}

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", description)
}

var errTest = errors.New("test failure")

// collector gathers values handed to callbacks from worker goroutines.
type collector[T any] struct {
	mu    sync.Mutex
	items []T
}

func (c *collector[T]) add(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
}

func (c *collector[T]) all() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

func (c *collector[T]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
