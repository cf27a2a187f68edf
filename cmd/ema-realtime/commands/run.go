package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	transport "github.com/koscakluka/ema-realtime/core"
	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/audio/miniaudio"
	"github.com/koscakluka/ema-realtime/core/audio/portaudio"
	"github.com/koscakluka/ema-realtime/core/events"
	"github.com/koscakluka/ema-realtime/core/provider/gemini"
	"github.com/koscakluka/ema-realtime/core/provider/openai"
	"github.com/koscakluka/ema-realtime/core/relay"
	"github.com/koscakluka/ema-realtime/core/speechtotext"
	"github.com/koscakluka/ema-realtime/core/speechtotext/deepgram"
	"github.com/koscakluka/ema-realtime/internal/config"
	"github.com/koscakluka/ema-realtime/internal/observe"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func newRunCommand(root *rootOptions) *cobra.Command {
	var width int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a voice session until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			return runSession(cmd, cfg, width)
		},
	}
	cmd.Flags().IntVar(&width, "width", 80, "wrap printed text at this many columns")
	return cmd
}

func runSession(cmd *cobra.Command, cfg *config.Config, width int) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel.Level()}))

	telemetry, err := observe.InitProvider(observe.ProviderConfig{ServiceName: appName, ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shut down telemetry", "error", err)
		}
	}()
	if cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(cfg.MetricsAddr, telemetry.Handler(), logger)
		defer stopMetrics()
	}

	tr := transport.New(transportOptions(cfg, logger)...)
	out := newPrinter(cmd.OutOrStdout(), width)
	if err := out.register(tr); err != nil {
		return err
	}

	failed := make(chan struct{})
	var failOnce sync.Once
	err = tr.Initialize(ctx, cfg.TransportConfig(),
		transport.WithTransportStateChangedCallback(func(state events.TransportState) {
			if state == events.StateError {
				failOnce.Do(func() { close(failed) })
			}
		}),
	)
	if err != nil {
		return err
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tr.Disconnect(disconnectCtx); err != nil {
			logger.Warn("failed to disconnect", "error", err)
		}
	}()

	if err := tr.OpenInputDevices(ctx); err != nil {
		return err
	}
	if err := tr.Connect(ctx); err != nil {
		return err
	}
	if err := tr.MarkReady(ctx); err != nil {
		return err
	}

	go forwardTypedLines(ctx, cmd, tr, logger)

	select {
	case <-ctx.Done():
		return nil
	case <-failed:
		return errors.New("session failed")
	}
}

func transportOptions(cfg *config.Config, logger *slog.Logger) []transport.TransportOption {
	opts := []transport.TransportOption{
		transport.WithProvider(transport.TransportOpenAI, openai.New(openAIOptions(cfg.OpenAI)...)),
		transport.WithProvider(transport.TransportGemini, gemini.New(geminiOptions(cfg.Gemini)...)),
		transport.WithAudioDevices(deviceOpener(cfg.Audio)),
		transport.WithLogger(logger),
	}
	if cfg.Relay.Origin != "" {
		opts = append(opts, transport.WithRelayClient(relay.NewClient(relay.WithOrigin(cfg.Relay.Origin))))
	}
	if transcriber := newTranscriber(cfg.Transcriber, logger); transcriber != nil {
		opts = append(opts, transport.WithTranscriber(transcriber))
	}
	return opts
}

func openAIOptions(cfg config.Provider) []openai.Option {
	var opts []openai.Option
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.Voice != "" {
		opts = append(opts, openai.WithVoice(cfg.Voice))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	return opts
}

func geminiOptions(cfg config.Provider) []gemini.Option {
	var opts []gemini.Option
	if cfg.Model != "" {
		opts = append(opts, gemini.WithModel(cfg.Model))
	}
	if cfg.Voice != "" {
		opts = append(opts, gemini.WithVoice(cfg.Voice))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
	}
	return opts
}

func deviceOpener(cfg config.Audio) audio.DeviceOpener {
	if cfg.Backend == config.AudioPortaudio {
		return portaudio.Opener(cfg.BufferSize)
	}
	return miniaudio.Opener()
}

// newTranscriber returns nil when no sidecar is configured or its key is
// missing.
func newTranscriber(cfg config.Transcriber, logger *slog.Logger) speechtotext.Transcriber {
	if cfg.Provider != "deepgram" {
		return nil
	}
	apiKey := os.Getenv("DEEPGRAM_API_KEY")
	if apiKey == "" {
		logger.Warn("DEEPGRAM_API_KEY is not set, using provider transcripts")
		return nil
	}

	opts := []deepgram.ClientOption{deepgram.WithAPIKey(apiKey)}
	if cfg.Model != "" {
		opts = append(opts, deepgram.WithModel(cfg.Model))
	}
	if cfg.Language != "" {
		opts = append(opts, deepgram.WithLanguage(cfg.Language))
	}
	return deepgram.NewTranscriptionClient(opts...)
}

func serveMetrics(addr string, handler http.Handler, logger *slog.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

func forwardTypedLines(ctx context.Context, cmd *cobra.Command, tr *transport.Transport, logger *slog.Logger) {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := tr.SendText(ctx, text); err != nil {
			logger.Warn("failed to send text", "error", err)
		}
	}
}
