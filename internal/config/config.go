// Package config loads the YAML file the ema-realtime command runs from and
// maps it onto a transport configuration.
package config

import (
	"log/slog"
	"time"

	transport "github.com/koscakluka/ema-realtime/core"
	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/provider"
)

type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l onto a slog level, defaulting to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type AudioBackend string

const (
	AudioMiniaudio AudioBackend = "miniaudio"
	AudioPortaudio AudioBackend = "portaudio"
)

// Config is the on-disk session description. Nested sections are overlaid
// onto the defaults field by field.
type Config struct {
	Transport       transport.TransportKind `yaml:"transport,omitempty" jsonschema:"enum=openai,enum=gemini"`
	BaseURL         string                  `yaml:"base_url,omitempty" jsonschema:"description=Relay endpoint returning connection info"`
	InitialMessages []Message               `yaml:"initial_messages,omitempty"`
	EnableMic       *bool                   `yaml:"enable_mic,omitempty"`
	EnableCam       bool                    `yaml:"enable_cam,omitempty"`
	SampleRate      int                     `yaml:"sample_rate,omitempty" jsonschema:"minimum=8000,maximum=48000"`
	RequestData     map[string]any          `yaml:"request_data,omitempty"`

	TranscriptionModel                  string `yaml:"transcription_model,omitempty"`
	SuppressTranscriptsWhileBotSpeaking bool   `yaml:"suppress_transcripts_while_bot_speaking,omitempty"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout,omitempty" jsonschema:"type=string"`
	SendTimeout       time.Duration `yaml:"send_timeout,omitempty" jsonschema:"type=string"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout,omitempty" jsonschema:"type=string"`
	FrameQueueSize    int           `yaml:"frame_queue_size,omitempty"`

	TurnDetection TurnDetection `yaml:"turn_detection,omitempty" copier:"-"`
	Relay         Relay         `yaml:"relay,omitempty" copier:"-"`
	Audio         Audio         `yaml:"audio,omitempty" copier:"-"`
	OpenAI        Provider      `yaml:"openai,omitempty" copier:"-"`
	Gemini        Provider      `yaml:"gemini,omitempty" copier:"-"`
	Transcriber   Transcriber   `yaml:"transcriber,omitempty" copier:"-"`

	LogLevel    LogLevel `yaml:"log_level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	MetricsAddr string   `yaml:"metrics_addr,omitempty" jsonschema:"description=Address serving /metrics; empty disables it"`
}

type Message struct {
	Role    transport.Role `yaml:"role" jsonschema:"enum=system,enum=user,enum=assistant"`
	Content string         `yaml:"content"`
}

type TurnDetection struct {
	Type            string        `yaml:"type,omitempty"`
	Threshold       float64       `yaml:"threshold,omitempty"`
	PrefixPadding   time.Duration `yaml:"prefix_padding,omitempty" jsonschema:"type=string"`
	SilenceDuration time.Duration `yaml:"silence_duration,omitempty" jsonschema:"type=string"`
}

type Relay struct {
	// Origin resolves a relative base_url.
	Origin string `yaml:"origin,omitempty"`
}

type Audio struct {
	Backend AudioBackend `yaml:"backend,omitempty" jsonschema:"enum=miniaudio,enum=portaudio"`
	// BufferSize is the portaudio frames per buffer.
	BufferSize int `yaml:"buffer_size,omitempty"`
}

type Provider struct {
	Model   string `yaml:"model,omitempty"`
	Voice   string `yaml:"voice,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// Transcriber configures the sidecar transcriber. An empty provider
// disables it.
type Transcriber struct {
	Provider string `yaml:"provider,omitempty" jsonschema:"description=Sidecar transcriber; only deepgram is supported"`
	Model    string `yaml:"model,omitempty"`
	Language string `yaml:"language,omitempty"`
}

// Default returns the configuration used for anything the file leaves out.
func Default() Config {
	enableMic := true
	return Config{
		Transport:          transport.TransportOpenAI,
		EnableMic:          &enableMic,
		SampleRate:         audio.DefaultSampleRate,
		TranscriptionModel: transport.DefaultTranscriptionModel,
		ConnectTimeout:     transport.DefaultConnectTimeout,
		SendTimeout:        transport.DefaultSendTimeout,
		DisconnectTimeout:  transport.DefaultDisconnectTimeout,
		FrameQueueSize:     transport.DefaultFrameQueueSize,
		TurnDetection: TurnDetection{
			Type:            "server_vad",
			SilenceDuration: transport.DefaultSilenceDuration,
		},
		Audio: Audio{
			Backend:    AudioMiniaudio,
			BufferSize: 512,
		},
		LogLevel: LogInfo,
	}
}

func (c *Config) MicEnabled() bool {
	return c.EnableMic != nil && *c.EnableMic
}

// TransportConfig maps the file onto a session configuration.
func (c *Config) TransportConfig() transport.Config {
	messages := make([]transport.Message, 0, len(c.InitialMessages))
	for _, message := range c.InitialMessages {
		messages = append(messages, transport.Message{Role: message.Role, Content: message.Content})
	}

	return transport.Config{
		TransportKind:   c.Transport,
		BaseURL:         c.BaseURL,
		InitialMessages: messages,
		EnableMic:       c.MicEnabled(),
		EnableCam:       c.EnableCam,
		ConnectTimeout:  c.ConnectTimeout,
		SampleRate:      c.SampleRate,
		RequestData:     c.RequestData,
		TurnDetection: provider.TurnDetection{
			Type:            c.TurnDetection.Type,
			Threshold:       c.TurnDetection.Threshold,
			PrefixPadding:   c.TurnDetection.PrefixPadding,
			SilenceDuration: c.TurnDetection.SilenceDuration,
		},
		TranscriptionModel:                  c.TranscriptionModel,
		SuppressTranscriptsWhileBotSpeaking: c.SuppressTranscriptsWhileBotSpeaking,
		FrameQueueSize:                      c.FrameQueueSize,
		SendTimeout:                         c.SendTimeout,
		DisconnectTimeout:                   c.DisconnectTimeout,
	}
}
