// Package openai implements provider.Provider for the OpenAI Realtime API.
//
// Audio travels as base64 PCM16 inside JSON events on a single WebSocket.
// Barge-in is expressed as response.cancel followed by
// conversation.item.truncate at the played offset.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/provider"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var _ provider.Provider = (*Provider)(nil)
var _ provider.Session = (*session)(nil)

const (
	Name = "openai"

	defaultModel   = "gpt-4o-realtime-preview-2024-10-01"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	eventBufferSize = 256
	writeTimeout    = 5 * time.Second
)

type Option func(*Provider)

// WithModel sets the model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the WebSocket endpoint. Connection info returned by
// a relay takes precedence.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithAPIKey sets the key used when the relay did not hand out a secret.
func WithAPIKey(apiKey string) Option {
	return func(p *Provider) { p.apiKey = apiKey }
}

// WithVoice sets the synthesized voice.
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

// New creates a provider. The API key defaults to OPENAI_API_KEY.
func New(opts ...Option) *Provider {
	p := &Provider{
		apiKey:  os.Getenv("OPENAI_API_KEY"),
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
	ctx, span := tracer.Start(ctx, "openai connect")
	defer span.End()

	encodingInfo := opts.EncodingInfo
	if encodingInfo.IsZero() {
		encodingInfo = audio.GetDefaultEncodingInfo()
	}
	if encodingInfo.Format != audio.EncodingLinear16 || encodingInfo.SampleRate != audio.DefaultSampleRate {
		err := fmt.Errorf("openai: unsupported encoding %s at %dHz", encodingInfo.Format.Name(), encodingInfo.SampleRate)
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
	span.SetAttributes(attribute.String("openai.url", wsURL))

	header := http.Header{"OpenAI-Beta": {"realtime=v1"}}
	if credential := opts.ConnectionInfo.Credential(); credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	} else if p.apiKey != "" {
		header.Set("Authorization", "Bearer "+p.apiKey)
	}

	conn, resp, err := p.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("openai: dial: %w (status %d)", err, resp.StatusCode)
		} else {
			err = fmt.Errorf("openai: dial: %w", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s := &session{
		conn:         conn,
		encodingInfo: encodingInfo,
		voice:        p.voice,
		events:       make(chan provider.Event, eventBufferSize),
		done:         make(chan struct{}),
	}
	go s.receiveLoop()

	logger.Info("openai realtime session opened", "url", wsURL)
	return s, nil
}

func (p *Provider) sessionURL(opts provider.ConnectOptions) (string, error) {
	if opts.ConnectionInfo.URL != "" {
		return opts.ConnectionInfo.URL, nil
	}

	base, err := url.Parse(p.baseURL)
	if err != nil {
		return "", fmt.Errorf("openai: invalid base url %q: %w", p.baseURL, err)
	}
	model := p.model
	if opts.ConnectionInfo.Model != "" {
		model = opts.ConnectionInfo.Model
	}
	query := base.Query()
	if query.Get("model") == "" && model != "" {
		query.Set("model", model)
	}
	base.RawQuery = query.Encode()
	return base.String(), nil
}

type session struct {
	conn         *websocket.Conn
	encodingInfo audio.EncodingInfo
	voice        string

	writeMu sync.Mutex

	events chan provider.Event
	done   chan struct{}

	mu        sync.Mutex
	err       error
	closed    bool
	closeOnce sync.Once
}

func (s *session) Configure(ctx context.Context, cfg provider.SessionConfig) error {
	params := sessionParams{
		Modalities:        []string{"text", "audio"},
		Voice:             s.voice,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     toTurnDetection(cfg.TurnDetection),
	}
	if cfg.TranscriptionModel != "" {
		params.InputAudioTranscription = &inputAudioTranscription{Model: cfg.TranscriptionModel}
	}

	return s.writeJSON(ctx, sessionUpdateMessage{Type: "session.update", Session: params})
}

func toTurnDetection(cfg provider.TurnDetection) *turnDetection {
	if cfg.Type == "" {
		cfg.Type = "server_vad"
	}
	detection := &turnDetection{Type: cfg.Type}
	if cfg.Threshold > 0 {
		threshold := cfg.Threshold
		detection.Threshold = &threshold
	}
	if cfg.PrefixPadding > 0 {
		prefix := cfg.PrefixPadding.Milliseconds()
		detection.PrefixPaddingMs = &prefix
	}
	if cfg.SilenceDuration > 0 {
		silence := cfg.SilenceDuration.Milliseconds()
		detection.SilenceDurationMs = &silence
	}
	return detection
}

func (s *session) UpdateInstructions(ctx context.Context, instructions string) error {
	return s.writeJSON(ctx, sessionUpdateMessage{
		Type:    "session.update",
		Session: sessionParams{Instructions: instructions},
	})
}

func (s *session) SendUserText(ctx context.Context, text string) error {
	if err := s.writeJSON(ctx, createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []contentPart{{Type: "input_text", Text: text}},
		},
	}); err != nil {
		return err
	}
	return s.writeJSON(ctx, typeOnlyMessage{Type: "response.create"})
}

func (s *session) SendAudio(ctx context.Context, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	if err := s.writeJSON(ctx, appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	}); err != nil {
		return err
	}
	sentAudioBytes.Add(ctx, int64(len(chunk)))
	return nil
}

func (s *session) CancelResponse(ctx context.Context, interruption audio.PendingInterruption) error {
	if err := s.writeJSON(ctx, typeOnlyMessage{Type: "response.cancel"}); err != nil {
		return err
	}
	if interruption.UtteranceID == "" {
		return nil
	}
	return s.writeJSON(ctx, truncateMessage{
		Type:         "conversation.item.truncate",
		ItemID:       interruption.UtteranceID,
		ContentIndex: 0,
		AudioEndMs:   interruption.AudioEnd(s.encodingInfo).Milliseconds(),
	})
}

func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return fmt.Errorf("openai: %w", net.ErrClosed)
	default:
	}

	deadline := time.Now().Add(writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("openai: set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("openai: write: %w", err)
	}
	return nil
}

// receiveLoop owns the events channel and closes it when the connection
// ends.
func (s *session) receiveLoop() {
	defer close(s.events)

	translator := newTranslator()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.isClosed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.setErr(fmt.Errorf("openai: read: %w", err))
			}
			return
		}

		event, ok, err := translator.translate(data, time.Now())
		if err != nil {
			logger.Warn("dropping malformed realtime event", "error", err)
			continue
		}
		if !ok {
			continue
		}
		receivedEvents.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", string(event.Type))))

		select {
		case s.events <- event:
		case <-s.done:
			return
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
			err = fmt.Errorf("openai: close: %w", closeErr)
		}
	})
	return err
}
