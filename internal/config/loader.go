package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jinzhu/copier"
	transport "github.com/koscakluka/ema-realtime/core"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path, overlays it onto [Default] and
// validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r. Unknown fields are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	var loaded Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&loaded); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	cfg := Default()
	if err := overlay(&cfg, &loaded); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// overlay copies every non-empty field of src onto dst, section by section.
func overlay(dst, src *Config) error {
	pairs := []struct {
		name     string
		dst, src any
	}{
		{"root", dst, src},
		{"turn_detection", &dst.TurnDetection, &src.TurnDetection},
		{"relay", &dst.Relay, &src.Relay},
		{"audio", &dst.Audio, &src.Audio},
		{"openai", &dst.OpenAI, &src.OpenAI},
		{"gemini", &dst.Gemini, &src.Gemini},
		{"transcriber", &dst.Transcriber, &src.Transcriber},
	}
	for _, pair := range pairs {
		if err := copier.CopyWithOption(pair.dst, pair.src, copier.Option{IgnoreEmpty: true, DeepCopy: true}); err != nil {
			return fmt.Errorf("config: apply %s: %w", pair.name, err)
		}
	}
	return nil
}

// Validate returns a joined error listing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.Transport {
	case transport.TransportOpenAI, transport.TransportGemini:
	default:
		errs = append(errs, fmt.Errorf("transport %q is invalid; valid values: openai, gemini", cfg.Transport))
	}
	if cfg.SampleRate < 8000 || cfg.SampleRate > 48000 {
		errs = append(errs, fmt.Errorf("sample_rate %d is outside 8000-48000", cfg.SampleRate))
	}
	for _, field := range []struct {
		name  string
		value int64
	}{
		{"connect_timeout", int64(cfg.ConnectTimeout)},
		{"send_timeout", int64(cfg.SendTimeout)},
		{"disconnect_timeout", int64(cfg.DisconnectTimeout)},
		{"frame_queue_size", int64(cfg.FrameQueueSize)},
	} {
		if field.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", field.name))
		}
	}
	for i, message := range cfg.InitialMessages {
		switch message.Role {
		case transport.RoleSystem, transport.RoleUser, transport.RoleAssistant:
		default:
			errs = append(errs, fmt.Errorf("initial_messages[%d].role %q is invalid", i, message.Role))
		}
	}
	if cfg.TurnDetection.Threshold < 0 || cfg.TurnDetection.Threshold > 1 {
		errs = append(errs, fmt.Errorf("turn_detection.threshold %g is outside 0-1", cfg.TurnDetection.Threshold))
	}

	switch cfg.Audio.Backend {
	case AudioMiniaudio, AudioPortaudio:
	default:
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: miniaudio, portaudio", cfg.Audio.Backend))
	}
	if cfg.Audio.BufferSize < 0 {
		errs = append(errs, errors.New("audio.buffer_size must not be negative"))
	}

	switch cfg.Transcriber.Provider {
	case "", "deepgram":
	default:
		errs = append(errs, fmt.Errorf("transcriber.provider %q is invalid; valid values: deepgram", cfg.Transcriber.Provider))
	}

	if !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	return errors.Join(errs...)
}
