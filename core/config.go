package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/provider"
)

// TransportKind selects the provider backend a session talks to.
type TransportKind string

const (
	TransportOpenAI TransportKind = "openai"
	TransportGemini TransportKind = "gemini"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message seeds the conversation before the first user turn.
type Message struct {
	Role    Role
	Content string
}

const (
	DefaultConnectTimeout     = 10 * time.Second
	DefaultDisconnectTimeout  = 2 * time.Second
	DefaultSendTimeout        = 500 * time.Millisecond
	DefaultFrameQueueSize     = 32
	DefaultTranscriptionModel = "whisper-1"
	DefaultSilenceDuration    = 700 * time.Millisecond
)

// Config describes one session. Zero values are replaced by defaults.
type Config struct {
	TransportKind TransportKind
	// BaseURL is the relay endpoint that returns connection info. When
	// empty the provider is dialed directly with its own credentials.
	BaseURL string
	// InitialMessages may hold one system instruction followed by one user
	// message. Anything after those is dropped.
	InitialMessages []Message
	EnableMic       bool
	// EnableCam is accepted but sessions are audio only.
	EnableCam      bool
	ConnectTimeout time.Duration

	SampleRate int
	// RequestData is posted to the relay as is.
	RequestData map[string]any

	TurnDetection      provider.TurnDetection
	TranscriptionModel string
	// SuppressTranscriptsWhileBotSpeaking withholds user transcripts that
	// arrive while the bot holds the turn.
	SuppressTranscriptsWhileBotSpeaking bool

	// FrameQueueSize bounds captured frames waiting to be sent. A frame that
	// cannot be queued within SendTimeout fails the session.
	FrameQueueSize    int
	SendTimeout       time.Duration
	DisconnectTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.DisconnectTimeout == 0 {
		c.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.FrameQueueSize == 0 {
		c.FrameQueueSize = DefaultFrameQueueSize
	}
	if c.SampleRate == 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.TranscriptionModel == "" {
		c.TranscriptionModel = DefaultTranscriptionModel
	}
	if c.TurnDetection.Type == "" {
		c.TurnDetection.Type = "server_vad"
	}
	if c.TurnDetection.SilenceDuration == 0 {
		c.TurnDetection.SilenceDuration = DefaultSilenceDuration
	}
	return c
}

func (c Config) validate() error {
	var errs []error
	if c.TransportKind == "" {
		errs = append(errs, errors.New("transport kind is required"))
	}
	if c.SampleRate < 8000 || c.SampleRate > 48000 {
		errs = append(errs, fmt.Errorf("sample rate %d is outside 8000-48000", c.SampleRate))
	}
	if c.ConnectTimeout < 0 {
		errs = append(errs, errors.New("connect timeout must not be negative"))
	}
	if c.DisconnectTimeout < 0 {
		errs = append(errs, errors.New("disconnect timeout must not be negative"))
	}
	if c.SendTimeout < 0 {
		errs = append(errs, errors.New("send timeout must not be negative"))
	}
	if c.FrameQueueSize < 0 {
		errs = append(errs, errors.New("frame queue size must not be negative"))
	}
	for i, message := range c.InitialMessages {
		switch message.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			errs = append(errs, fmt.Errorf("initial message %d has unknown role %q", i, message.Role))
		}
	}
	return errors.Join(errs...)
}

func (c Config) encodingInfo() audio.EncodingInfo {
	return audio.NewEncodingInfo(c.SampleRate, audio.EncodingLinear16)
}

func (c Config) sessionConfig() provider.SessionConfig {
	return provider.SessionConfig{
		TurnDetection:      c.TurnDetection,
		TranscriptionModel: c.TranscriptionModel,
	}
}

// relayRequestData returns the relay payload. Initial messages are added
// under "initial_messages" unless the caller already set that key.
func (c Config) relayRequestData() map[string]any {
	data := make(map[string]any, len(c.RequestData)+1)
	for key, value := range c.RequestData {
		data[key] = value
	}
	if _, ok := data["initial_messages"]; !ok && len(c.InitialMessages) > 0 {
		messages := make([]map[string]string, 0, len(c.InitialMessages))
		for _, message := range c.InitialMessages {
			messages = append(messages, map[string]string{"role": string(message.Role), "content": message.Content})
		}
		data["initial_messages"] = messages
	}
	return data
}

type seed struct {
	instructions    string
	hasInstructions bool
	userText        string
	hasUserText     bool
	dropped         int
}

// seedFromMessages takes a leading system message as instructions and the
// message right after it, when it is a user message, as the opening text.
func seedFromMessages(messages []Message) seed {
	var s seed
	rest := messages
	if len(rest) > 0 && rest[0].Role == RoleSystem {
		s.instructions, s.hasInstructions = rest[0].Content, true
		rest = rest[1:]
	}
	if len(rest) > 0 {
		if rest[0].Role == RoleUser {
			s.userText, s.hasUserText = rest[0].Content, true
		} else {
			s.dropped++
		}
		rest = rest[1:]
	}
	s.dropped += len(rest)
	return s
}
