// Package gemini implements provider.Provider for the Gemini Live API.
//
// Gemini takes its whole configuration in a single setup message that must
// be the first message on the socket. The session therefore buffers
// Configure and UpdateInstructions and sends setup on Flush or on the first
// message that needs it. Barge-in is detected by the server, which reports
// it through the interrupted flag, so CancelResponse has nothing to send.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/provider"
	"go.opentelemetry.io/otel/codes"
)

var _ provider.Provider = (*Provider)(nil)
var _ provider.Session = (*session)(nil)
var _ provider.Flusher = (*session)(nil)

const (
	Name = "gemini"

	defaultModel   = "models/gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	eventBufferSize   = 256
	writeTimeout      = 5 * time.Second
	keepaliveInterval = 20 * time.Second
)

// ErrSetupSent is returned when configuration changes after setup was sent.
var ErrSetupSent = errors.New("gemini: session setup already sent")

type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the WebSocket endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithAPIKey sets the key used when the relay did not hand out a token.
func WithAPIKey(apiKey string) Option {
	return func(p *Provider) { p.apiKey = apiKey }
}

// WithVoice sets a prebuilt voice name.
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(p *Provider) {
		if dialer != nil {
			p.dialer = dialer
		}
	}
}

type Provider struct {
	apiKey  string
	model   string
	baseURL string
	voice   string
	dialer  *websocket.Dialer
}

// New creates a provider. The API key defaults to GEMINI_API_KEY.
func New(opts ...Option) *Provider {
	p := &Provider{
		apiKey:  os.Getenv("GEMINI_API_KEY"),
		model:   defaultModel,
		baseURL: defaultBaseURL,
		dialer:  websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Connect(ctx context.Context, opts provider.ConnectOptions) (provider.Session, error) {
	ctx, span := tracer.Start(ctx, "gemini connect")
	defer span.End()

	encodingInfo := opts.EncodingInfo
	if encodingInfo.IsZero() {
		encodingInfo = audio.GetDefaultEncodingInfo()
	}
	if encodingInfo.Format != audio.EncodingLinear16 {
		err := fmt.Errorf("gemini: unsupported encoding %s", encodingInfo.Format.Name())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	wsURL, err := p.sessionURL(opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	conn, _, err := p.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		err = fmt.Errorf("gemini: dial: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	model := p.model
	if opts.ConnectionInfo.Model != "" {
		model = opts.ConnectionInfo.Model
	}

	s := &session{
		conn:         conn,
		encodingInfo: encodingInfo,
		translator:   newTranslator(),
		setup: setupConfig{
			Model:                    model,
			GenerationConfig:         generationConfig{ResponseModalities: []string{"AUDIO"}},
			InputAudioTranscription:  &struct{}{},
			OutputAudioTranscription: &struct{}{},
		},
		setupDone: make(chan struct{}),
		events:    make(chan provider.Event, eventBufferSize),
		done:      make(chan struct{}),
	}
	if p.voice != "" {
		s.setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: p.voice}},
		}
	}

	go s.receiveLoop()
	go s.keepaliveLoop()

	logger.Info("gemini live session opened", "model", model)
	return s, nil
}

func (p *Provider) sessionURL(opts provider.ConnectOptions) (string, error) {
	rawURL := p.baseURL
	if opts.ConnectionInfo.URL != "" {
		rawURL = opts.ConnectionInfo.URL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("gemini: invalid url %q: %w", rawURL, err)
	}

	query := parsed.Query()
	if credential := opts.ConnectionInfo.Credential(); credential != "" {
		query.Set("key", credential)
	} else if p.apiKey != "" && query.Get("key") == "" {
		query.Set("key", p.apiKey)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

type session struct {
	conn         *websocket.Conn
	encodingInfo audio.EncodingInfo
	translator   *translator

	setupMu   sync.Mutex
	setup     setupConfig
	setupSent bool
	setupDone chan struct{}
	setupOnce sync.Once

	writeMu sync.Mutex

	events chan provider.Event
	done   chan struct{}

	mu        sync.Mutex
	err       error
	closed    bool
	closeOnce sync.Once
}

func (s *session) Configure(_ context.Context, cfg provider.SessionConfig) error {
	s.setupMu.Lock()
	defer s.setupMu.Unlock()
	if s.setupSent {
		return ErrSetupSent
	}

	detection := &activityDetection{
		PrefixPaddingMs:   cfg.TurnDetection.PrefixPadding.Milliseconds(),
		SilenceDurationMs: cfg.TurnDetection.SilenceDuration.Milliseconds(),
	}
	if cfg.TurnDetection.Type == "none" {
		detection = &activityDetection{Disabled: true}
	}
	s.setup.RealtimeInputConfig = &realtimeInputConfig{AutomaticActivityDetection: detection}
	if cfg.TranscriptionModel != "" {
		logger.Debug("gemini transcribes input with its own model", "requested", cfg.TranscriptionModel)
	}
	return nil
}

func (s *session) UpdateInstructions(_ context.Context, instructions string) error {
	s.setupMu.Lock()
	defer s.setupMu.Unlock()
	if s.setupSent {
		return ErrSetupSent
	}
	s.setup.SystemInstruction = &systemInstruction{Parts: []part{{Text: instructions}}}
	return nil
}

// Flush sends the setup message and waits for setupComplete.
func (s *session) Flush(ctx context.Context) error {
	s.setupMu.Lock()
	if !s.setupSent {
		if err := s.writeJSON(ctx, setupMessage{Setup: s.setup}); err != nil {
			s.setupMu.Unlock()
			return fmt.Errorf("gemini: setup: %w", err)
		}
		s.setupSent = true
	}
	s.setupMu.Unlock()

	select {
	case <-s.setupDone:
		return nil
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return fmt.Errorf("gemini: %w", net.ErrClosed)
	case <-ctx.Done():
		return fmt.Errorf("gemini: waiting for setup: %w", ctx.Err())
	}
}

func (s *session) SendUserText(ctx context.Context, text string) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	return s.writeJSON(ctx, clientContentMessage{ClientContent: clientContent{
		Turns:        []contentTurn{{Role: "user", Parts: []part{{Text: text}}}},
		TurnComplete: true,
	}})
}

func (s *session) SendAudio(ctx context.Context, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	if err := s.Flush(ctx); err != nil {
		return err
	}
	return s.writeJSON(ctx, realtimeInputMessage{RealtimeInput: realtimeInput{
		MediaChunks: []inlineData{{
			MIMEType: fmt.Sprintf("audio/pcm;rate=%d", s.encodingInfo.SampleRate),
			Data:     base64.StdEncoding.EncodeToString(chunk),
		}},
	}})
}

// CancelResponse is a no-op, the server stops generation on its own when
// it detects user speech.
func (s *session) CancelResponse(context.Context, audio.PendingInterruption) error {
	return nil
}

func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return fmt.Errorf("gemini: %w", net.ErrClosed)
	default:
	}

	deadline := time.Now().Add(writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("gemini: set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("gemini: write: %w", err)
	}
	return nil
}

func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.isClosed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.setErr(fmt.Errorf("gemini: read: %w", err))
			}
			return
		}

		events, setupComplete, err := s.translator.translate(data, time.Now())
		if err != nil {
			logger.Warn("dropping malformed live message", "error", err)
		}
		if setupComplete {
			s.setupOnce.Do(func() { close(s.setupDone) })
		}
		for _, event := range events {
			select {
			case s.events <- event:
			case <-s.done:
				return
			}
		}
	}
}

func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				logger.Debug("gemini keepalive ping failed", "error", err)
			}
		}
	}
}

func (s *session) Events() <-chan provider.Event { return s.events }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.writeMu.Lock()
		close(s.done)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()

		if closeErr := s.conn.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			err = fmt.Errorf("gemini: close: %w", closeErr)
		}
	})
	return err
}
