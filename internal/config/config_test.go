package config_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	transport "github.com/koscakluka/ema-realtime/core"
	"github.com/koscakluka/ema-realtime/internal/config"
)

func TestLoadEmptyFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transport != transport.TransportOpenAI {
		t.Fatalf("expected openai transport, got %q", cfg.Transport)
	}
	if !cfg.MicEnabled() {
		t.Fatalf("expected microphone to be enabled by default")
	}
	if cfg.Audio.Backend != config.AudioMiniaudio {
		t.Fatalf("expected miniaudio backend, got %q", cfg.Audio.Backend)
	}
	if cfg.TurnDetection.SilenceDuration != transport.DefaultSilenceDuration {
		t.Fatalf("expected silence duration %s, got %s", transport.DefaultSilenceDuration, cfg.TurnDetection.SilenceDuration)
	}
}

func TestLoadOverlaysFileOntoDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
transport: gemini
enable_mic: false
connect_timeout: 3s
initial_messages:
  - role: system
    content: You are a concierge.
  - role: user
    content: Hello!
turn_detection:
  threshold: 0.6
audio:
  backend: portaudio
transcriber:
  provider: deepgram
  model: nova-2
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Transport != transport.TransportGemini {
		t.Fatalf("expected gemini transport, got %q", cfg.Transport)
	}
	if cfg.MicEnabled() {
		t.Fatalf("expected microphone to be disabled")
	}
	if cfg.ConnectTimeout != 3*time.Second {
		t.Fatalf("expected 3s connect timeout, got %s", cfg.ConnectTimeout)
	}
	if cfg.TurnDetection.Threshold != 0.6 || cfg.TurnDetection.Type != "server_vad" {
		t.Fatalf("expected threshold override on default turn detection, got %+v", cfg.TurnDetection)
	}
	if cfg.Audio.Backend != config.AudioPortaudio || cfg.Audio.BufferSize != 512 {
		t.Fatalf("expected portaudio with default buffer size, got %+v", cfg.Audio)
	}

	tc := cfg.TransportConfig()
	if len(tc.InitialMessages) != 2 || tc.InitialMessages[0].Role != transport.RoleSystem {
		t.Fatalf("expected both initial messages, got %+v", tc.InitialMessages)
	}
	if tc.EnableMic {
		t.Fatalf("expected transport config with microphone disabled")
	}
	if tc.TurnDetection.SilenceDuration != transport.DefaultSilenceDuration {
		t.Fatalf("expected default silence duration, got %s", tc.TurnDetection.SilenceDuration)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("transprt: openai\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "transprt") {
		t.Fatalf("expected error to mention the field, got: %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()
	yaml := `
transport: websocket
sample_rate: 96000
log_level: verbose
audio:
  backend: alsa
transcriber:
  provider: whisper
initial_messages:
  - role: narrator
    content: hi
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, expected := range []string{"transport", "sample_rate", "log_level", "audio.backend", "transcriber.provider", "initial_messages[0].role"} {
		if !strings.Contains(err.Error(), expected) {
			t.Fatalf("expected error to mention %q, got: %v", expected, err)
		}
	}
}

func TestSchemaDescribesFile(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(config.Schema())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, field := range []string{`"transport"`, `"initial_messages"`, `"silence_duration"`, `"metrics_addr"`} {
		if !strings.Contains(string(data), field) {
			t.Fatalf("expected schema to contain %s, got %s", field, data)
		}
	}
}
