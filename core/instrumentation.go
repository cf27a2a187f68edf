package transport

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-realtime/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	stateTransitions, _ = meter.Int64Counter("ema_realtime.transport.state_transitions",
		metric.WithDescription("Session state transitions"))
	dispatchedEvents, _ = meter.Int64Counter("ema_realtime.transport.events_dispatched",
		metric.WithDescription("Normalized events handed to the callback dispatcher"))
	interruptions, _ = meter.Int64Counter("ema_realtime.transport.interruptions",
		metric.WithDescription("Bot utterances cut short by user speech"))
	droppedFrames, _ = meter.Int64Counter("ema_realtime.transport.frames_dropped",
		metric.WithDescription("Captured frames dropped because the session was not ready"))
	forwardedFrames, _ = meter.Int64Counter("ema_realtime.transport.frames_forwarded",
		metric.WithDescription("Captured frames sent to the provider"))
)
