// Package transport runs one realtime voice session: it owns the provider
// stream and the audio devices, normalizes provider events and implements
// barge-in.
//
// A session moves through
//
//	uninitialized → initializing → initialized → connecting → connected → ready
//
// with error and disconnected reachable from any state. Every transition is
// reported exactly once through [events.TransportStateChanged].
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/events"
	"github.com/koscakluka/ema-realtime/core/provider"
	"github.com/koscakluka/ema-realtime/core/relay"
	"github.com/koscakluka/ema-realtime/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type Transport struct {
	providers    map[TransportKind]provider.Provider
	deviceOpener audio.DeviceOpener
	transcriber  speechtotext.Transcriber
	relay        *relay.Client
	logger       *slog.Logger
	dispatcher   *Dispatcher

	// mu serializes state transitions and event translation.
	mu      sync.Mutex
	state   events.TransportState
	closing bool
	// forwarding mirrors state == ready for the capture callback.
	forwarding atomic.Bool

	config      Config
	provider    provider.Provider
	queue       *audio.PlaybackQueue
	normalizer  *normalizer
	devices     audio.Devices
	devicesOpen bool
	session     provider.Session
	// transcribing is set once the sidecar transcriber stream is open.
	transcribing bool

	stopWorkers context.CancelFunc
	workersDone chan struct{}

	disconnectOnce sync.Once
	disconnectErr  error
}

func New(opts ...TransportOption) *Transport {
	t := &Transport{
		providers:  map[TransportKind]provider.Provider{},
		relay:      relay.NewClient(),
		logger:     logger,
		dispatcher: NewDispatcher(),
		state:      events.StateUninitialized,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) State() events.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) SpeakerTurn() SpeakerTurn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.normalizer == nil {
		return SpeakerNone
	}
	return t.normalizer.speakerTurn()
}

// On registers a handler for any normalized event kind.
func (t *Transport) On(kind events.Kind, handler Handler) error {
	return t.dispatcher.On(kind, handler)
}

// Initialize validates cfg, registers callbacks and prepares playback. A
// config error leaves the transport uninitialized.
func (t *Transport) Initialize(ctx context.Context, cfg Config, callbacks ...CallbackOption) error {
	_, span := tracer.Start(ctx, "initialize transport")
	defer span.End()

	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		err = fmt.Errorf("%w: %w", ErrConfig, err)
		recordError(span, err)
		return err
	}
	p, ok := t.providers[cfg.TransportKind]
	if !ok {
		err := fmt.Errorf("%w: no provider registered for transport kind %q", ErrConfig, cfg.TransportKind)
		recordError(span, err)
		return err
	}
	span.SetAttributes(attribute.String("transport_kind", string(cfg.TransportKind)))

	t.mu.Lock()
	if t.state != events.StateUninitialized {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("%w: initialize in state %s", ErrInvalidTransition, state)
	}
	for _, callback := range callbacks {
		if callback != nil {
			callback(t.dispatcher)
		}
	}
	change, err := t.transitionLocked(events.StateInitializing)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	t.dispatcher.Dispatch(change)

	if cfg.EnableCam {
		t.logger.Warn("camera input is not supported, continuing with audio only")
	}
	queue := audio.NewPlaybackQueue(cfg.encodingInfo())

	t.mu.Lock()
	t.config = cfg
	t.provider = p
	t.queue = queue
	change, err = t.transitionLocked(events.StateInitialized)
	t.mu.Unlock()
	if err != nil {
		queue.Close()
		return err
	}
	t.dispatcher.Dispatch(change)
	return nil
}

// OpenInputDevices acquires the speaker and, when enabled, the microphone.
// Calling it again after success is a no-op.
func (t *Transport) OpenInputDevices(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "open input devices")
	defer span.End()

	t.mu.Lock()
	if t.devicesOpen {
		t.mu.Unlock()
		return nil
	}
	if t.state != events.StateInitialized {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("%w: open devices in state %s", ErrInvalidTransition, state)
	}
	cfg := t.config
	opener := t.deviceOpener
	t.mu.Unlock()

	if opener == nil {
		return t.fail(ctx, fmt.Errorf("%w: no audio devices configured", ErrDevice))
	}
	devices, err := opener.Open(ctx, audio.OpenOptions{
		EncodingInfo: cfg.encodingInfo(),
		Capture:      cfg.EnableMic,
		Playback:     true,
	})
	if err != nil {
		return t.fail(ctx, fmt.Errorf("%w: %w", ErrDevice, err))
	}
	if cfg.EnableMic && devices.Input == nil {
		devices.Close()
		return t.fail(ctx, fmt.Errorf("%w: microphone requested but not available", ErrDevice))
	}

	t.mu.Lock()
	if t.devicesOpen || t.closing || t.state != events.StateInitialized {
		t.mu.Unlock()
		devices.Close()
		return nil
	}
	t.devices = devices
	t.devicesOpen = true
	t.mu.Unlock()

	t.logger.Debug("audio devices opened", "capture", devices.Input != nil, "playback", devices.Output != nil)
	return nil
}

// Connect opens the provider session, negotiates turn detection and
// transcription, seeds the conversation and starts the session workers.
// Failures move the transport to the error state and are not retried.
func (t *Transport) Connect(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "connect transport")
	defer span.End()

	t.mu.Lock()
	change, err := t.transitionLocked(events.StateConnecting)
	cfg := t.config
	p := t.provider
	queue := t.queue
	devices := t.devices
	t.mu.Unlock()
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("transport_kind", string(cfg.TransportKind)))
	t.dispatcher.Dispatch(change)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	session, err := t.openSession(connectCtx, cfg, p)
	if err != nil {
		return t.fail(ctx, fmt.Errorf("%w: %w", ErrConnection, err))
	}

	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	controller := newInterruptionController(queue, devices.Output, t.logger)
	norm := newNormalizer(transcriptPolicy{suppressWhileBotSpeaking: cfg.SuppressTranscriptsWhileBotSpeaking}, controller)

	t.mu.Lock()
	if t.closing || t.state != events.StateConnecting {
		t.mu.Unlock()
		stopWorkers()
		return errors.Join(
			fmt.Errorf("%w: transport closed while connecting", ErrConnection),
			session.Close(),
		)
	}
	t.session = session
	t.normalizer = norm
	t.stopWorkers = stopWorkers
	t.workersDone = make(chan struct{})
	workersDone := t.workersDone
	t.mu.Unlock()

	// sidecar transcripts reach handlers through the event pump
	var transcripts chan events.TranscriptFragment
	if t.transcriber != nil && devices.Input != nil {
		transcripts = make(chan events.TranscriptFragment, sidecarTranscriptBuffer)
		t.startTranscriber(workerCtx, cfg, transcripts)
	}
	t.startWorkers(workerCtx, workersDone, session, transcripts, controller, queue, devices, cfg)

	t.mu.Lock()
	change, err = t.transitionLocked(events.StateConnected)
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	t.dispatcher.Dispatch(change)
	t.dispatcher.Dispatch(events.NewConnected())
	return nil
}

func (t *Transport) openSession(ctx context.Context, cfg Config, p provider.Provider) (provider.Session, error) {
	var info relay.ConnectionInfo
	if cfg.BaseURL != "" {
		var err error
		if info, err = t.relay.Connect(ctx, cfg.BaseURL, cfg.relayRequestData()); err != nil {
			return nil, fmt.Errorf("relay handshake failed: %w", err)
		}
	}

	session, err := p.Connect(ctx, provider.ConnectOptions{
		EncodingInfo:   cfg.encodingInfo(),
		ConnectionInfo: info,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s session: %w", p.Name(), err)
	}

	if err := t.negotiate(ctx, session, cfg); err != nil {
		return nil, errors.Join(err, session.Close())
	}
	return session, nil
}

func (t *Transport) negotiate(ctx context.Context, session provider.Session, cfg Config) error {
	if err := session.Configure(ctx, cfg.sessionConfig()); err != nil {
		return fmt.Errorf("failed to configure session: %w", err)
	}

	seed := seedFromMessages(cfg.InitialMessages)
	if seed.hasInstructions {
		if err := session.UpdateInstructions(ctx, seed.instructions); err != nil {
			return fmt.Errorf("failed to seed instructions: %w", err)
		}
	}
	if seed.dropped > 0 {
		t.logger.Warn("only one system and one user message can seed the conversation, dropping the rest",
			"dropped", seed.dropped)
	}

	if flusher, ok := session.(provider.Flusher); ok {
		if err := flusher.Flush(ctx); err != nil {
			return fmt.Errorf("failed to send session setup: %w", err)
		}
	}

	if seed.hasUserText {
		if err := session.SendUserText(ctx, seed.userText); err != nil {
			return fmt.Errorf("failed to seed user message: %w", err)
		}
	}
	return nil
}

const sidecarTranscriptBuffer = 32

func (t *Transport) startTranscriber(ctx context.Context, cfg Config, transcripts chan<- events.TranscriptFragment) {
	onTranscript := func(finality events.Finality) func(string) {
		return func(text string) {
			select {
			case transcripts <- events.TranscriptFragment{Text: text, Finality: finality, Timestamp: time.Now()}:
			case <-ctx.Done():
			}
		}
	}

	err := t.transcriber.Transcribe(ctx,
		speechtotext.WithEncodingInfo(cfg.encodingInfo()),
		speechtotext.WithInterimTranscriptionCallback(onTranscript(events.FinalityInterim)),
		speechtotext.WithTranscriptionCallback(onTranscript(events.FinalityFinal)),
		speechtotext.WithErrorCallback(func(err error) {
			t.logger.Warn("sidecar transcriber stopped", "error", err)
		}),
	)
	if err != nil {
		t.logger.Warn("sidecar transcriber unavailable, using provider transcripts", "error", err)
		return
	}

	t.mu.Lock()
	t.transcribing = true
	if t.normalizer != nil {
		t.normalizer.policy.sidecar = true
	}
	t.mu.Unlock()
}

func (t *Transport) startWorkers(
	ctx context.Context,
	done chan struct{},
	session provider.Session,
	transcripts <-chan events.TranscriptFragment,
	controller *interruptionController,
	queue *audio.PlaybackQueue,
	devices audio.Devices,
	cfg Config,
) {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return panicSafeNamedWorker("event pump", func(ctx context.Context) error {
			return t.runEventPump(ctx, session, transcripts)
		})(groupCtx)
	})
	group.Go(func() error {
		return panicSafeNamedWorker("interruption", func(ctx context.Context) error {
			return controller.run(ctx, session)
		})(groupCtx)
	})
	group.Go(func() error {
		return panicSafeNamedWorker("playback", newPlaybackWorker(queue, devices.Output, t.logger).run)(groupCtx)
	})

	if devices.Input != nil {
		capture := newCapture(&t.forwarding, cfg.FrameQueueSize, cfg.SendTimeout, groupCtx.Done(), func(err error) {
			_ = t.fail(ctx, err)
		})
		sender := &audioSender{
			frames:      capture.frames,
			session:     session,
			transcriber: t.transcriber,
			logger:      t.logger,
		}
		group.Go(func() error {
			return panicSafeNamedWorker("audio sender", sender.run)(groupCtx)
		})
		group.Go(func() error {
			return panicSafeNamedWorker("capture", func(ctx context.Context) error {
				if err := devices.Input.Stream(ctx, capture.onAudio); err != nil && ctx.Err() == nil {
					return fmt.Errorf("%w: capture stopped: %w", ErrStream, err)
				}
				return nil
			})(groupCtx)
		})
	}

	go func() {
		defer close(done)
		if err := group.Wait(); err != nil && ctx.Err() == nil {
			_ = t.fail(ctx, err)
		}
	}()
}

// runEventPump is the only goroutine that dispatches provider and sidecar
// transcript events. transcripts is nil without a sidecar.
func (t *Transport) runEventPump(ctx context.Context, session provider.Session, transcripts <-chan events.TranscriptFragment) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case fragment := <-transcripts:
			t.handleTranscript(fragment)
		case event, ok := <-session.Events():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				err := session.Err()
				if err == nil {
					err = errors.New("provider closed the session")
				}
				return fmt.Errorf("%w: %w", ErrStream, err)
			}
			t.handleProviderEvent(event)
		}
	}
}

// handleProviderEvent translates and queues under the lock and dispatches
// after it, so handlers may call back into the transport.
func (t *Transport) handleProviderEvent(event provider.Event) {
	t.mu.Lock()
	if t.closing || t.state.IsTerminal() || t.normalizer == nil {
		t.mu.Unlock()
		return
	}
	normalized := t.normalizer.translate(event)
	for _, e := range normalized {
		if chunk, ok := e.(events.BotAudio); ok {
			t.queue.Enqueue(chunk.UtteranceID, chunk.Audio)
		}
	}
	if event.Type == provider.EventResponseAudioDone {
		t.queue.Finish(event.UtteranceID)
	}
	t.mu.Unlock()

	for _, e := range normalized {
		if providerErr, ok := e.(events.TransportError); ok {
			t.logger.Warn("provider reported an error", "error", providerErr.Err)
		}
		t.dispatcher.Dispatch(e)
	}
}

func (t *Transport) handleTranscript(fragment events.TranscriptFragment) {
	t.mu.Lock()
	if t.closing || t.state.IsTerminal() || t.normalizer == nil {
		t.mu.Unlock()
		return
	}
	normalized := t.normalizer.transcript(fragment)
	t.mu.Unlock()

	for _, e := range normalized {
		t.dispatcher.Dispatch(e)
	}
}

// MarkReady starts forwarding captured audio. Audio captured before is
// dropped, never sent late.
func (t *Transport) MarkReady(ctx context.Context) error {
	t.mu.Lock()
	change, err := t.transitionLocked(events.StateReady)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	t.logger.DebugContext(ctx, "transport ready, forwarding captured audio")
	t.dispatcher.Dispatch(change)
	return nil
}

// SendText adds a user text message to a connected session.
func (t *Transport) SendText(ctx context.Context, text string) error {
	t.mu.Lock()
	state := t.state
	session := t.session
	closing := t.closing
	t.mu.Unlock()

	if closing || session == nil || (state != events.StateConnected && state != events.StateReady) {
		return fmt.Errorf("%w: send text in state %s", ErrInvalidTransition, state)
	}
	if err := session.SendUserText(ctx, text); err != nil {
		return fmt.Errorf("%w: failed to send text: %w", ErrStream, err)
	}
	return nil
}

// Disconnect stops the workers, discards queued playback and releases the
// session and devices. Teardown that does not finish within the disconnect
// timeout is abandoned. Only the first call has an effect.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.disconnectOnce.Do(func() {
		t.disconnectErr = t.disconnect(ctx)
	})
	return t.disconnectErr
}

func (t *Transport) disconnect(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "disconnect transport")
	defer span.End()

	t.mu.Lock()
	t.closing = true
	t.forwarding.Store(false)
	timeout := t.config.DisconnectTimeout
	if timeout <= 0 {
		timeout = DefaultDisconnectTimeout
	}
	stopWorkers := t.stopWorkers
	workersDone := t.workersDone
	session := t.session
	devices := t.devices
	queue := t.queue
	transcribing := t.transcribing
	t.mu.Unlock()

	if stopWorkers != nil {
		stopWorkers()
	}
	if queue != nil {
		if dropped := queue.Drain(); dropped > 0 {
			t.logger.Debug("discarded queued playback", "chunks", dropped)
		}
		queue.Close()
	}

	teardownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	released := make(chan struct{})
	go func() {
		defer close(released)
		if session != nil {
			if err := session.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close provider session: %w", err))
			}
		}
		if transcribing {
			if err := t.transcriber.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close transcriber: %w", err))
			}
		}
		if !awaitDone(teardownCtx, workersDone) {
			t.logger.Warn("abandoning session workers that did not stop in time")
		}
		devices.Close()
	}()

	var err error
	if awaitDone(teardownCtx, released) {
		err = errors.Join(errs...)
	} else {
		t.logger.Warn("abandoning session teardown that did not finish in time", "timeout", timeout)
	}
	if err != nil {
		recordError(span, err)
	}

	t.mu.Lock()
	change, transitionErr := t.transitionLocked(events.StateDisconnected)
	t.mu.Unlock()
	if transitionErr == nil {
		t.dispatcher.Dispatch(change)
	}
	t.dispatcher.Dispatch(events.NewDisconnected())
	return err
}

// fail moves the transport to the error state and reports err. It returns
// err so callers can return it directly.
func (t *Transport) fail(ctx context.Context, err error) error {
	recordError(trace.SpanFromContext(ctx), err)

	t.mu.Lock()
	change, transitionErr := t.transitionLocked(events.StateError)
	stopWorkers := t.stopWorkers
	t.mu.Unlock()
	if transitionErr != nil {
		t.logger.Debug("ignoring error after session ended", "error", err)
		return err
	}

	t.logger.Error("transport failed", "error", err)
	if stopWorkers != nil {
		stopWorkers()
	}
	t.dispatcher.Dispatch(change)
	t.dispatcher.Dispatch(events.NewTransportError(err, true))
	return err
}

var linearTransitions = map[events.TransportState]events.TransportState{
	events.StateUninitialized: events.StateInitializing,
	events.StateInitializing:  events.StateInitialized,
	events.StateInitialized:   events.StateConnecting,
	events.StateConnecting:    events.StateConnected,
	events.StateConnected:     events.StateReady,
}

func canTransition(from, to events.TransportState) bool {
	switch to {
	case events.StateDisconnected:
		return from != events.StateDisconnected
	case events.StateError:
		return !from.IsTerminal()
	}
	next, ok := linearTransitions[from]
	return ok && next == to
}

func (t *Transport) transitionLocked(to events.TransportState) (events.TransportStateChanged, error) {
	from := t.state
	if !canTransition(from, to) || (t.closing && to != events.StateDisconnected) {
		return events.TransportStateChanged{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}

	t.state = to
	t.forwarding.Store(to == events.StateReady)
	stateTransitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
	t.logger.Debug("transport state changed", "from", from, "to", to)
	return events.NewTransportStateChanged(from, to), nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
