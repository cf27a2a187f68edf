package openai

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-realtime/core/provider/openai"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	receivedEvents, _ = meter.Int64Counter("ema_realtime.openai.events_received",
		metric.WithDescription("Realtime server events surfaced to the session"))
	sentAudioBytes, _ = meter.Int64Counter("ema_realtime.openai.audio_sent",
		metric.WithDescription("Captured PCM bytes appended to the input buffer"),
		metric.WithUnit("By"))
)
