package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/provider"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	interruptionQueueSize     = 4
	cancelResponseSendTimeout = 5 * time.Second
)

// interruptionController cuts playback on barge-in and hands the cancel and
// truncate request to a worker, so the event pump never waits on the
// provider.
type interruptionController struct {
	queue  *audio.PlaybackQueue
	output audio.Output
	logger *slog.Logger

	pending chan audio.PendingInterruption
}

func newInterruptionController(queue *audio.PlaybackQueue, output audio.Output, logger *slog.Logger) *interruptionController {
	return &interruptionController{
		queue:   queue,
		output:  output,
		logger:  logger,
		pending: make(chan audio.PendingInterruption, interruptionQueueSize),
	}
}

func (c *interruptionController) interrupt(cancel bool) (audio.PendingInterruption, bool) {
	interruption, ok := c.queue.Interrupt()
	if c.output != nil {
		c.output.ClearBuffer()
	}
	if !ok {
		return audio.PendingInterruption{}, false
	}

	interruptions.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("cancel", cancel)))
	c.logger.Debug("playback interrupted",
		"utterance_id", interruption.UtteranceID,
		"sample_offset", interruption.SampleOffset)

	if cancel {
		select {
		case c.pending <- interruption:
		default:
			c.logger.Warn("interruption queue full, dropping cancel request", "utterance_id", interruption.UtteranceID)
		}
	}
	return interruption, true
}

// run delivers cancel requests until ctx is done. Failures are logged only,
// playback already stopped locally.
func (c *interruptionController) run(ctx context.Context, session provider.Session) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case interruption := <-c.pending:
			sendCtx, cancel := context.WithTimeout(ctx, cancelResponseSendTimeout)
			err := session.CancelResponse(sendCtx, interruption)
			cancel()
			if err != nil && ctx.Err() == nil {
				c.logger.Warn("failed to cancel interrupted response",
					"utterance_id", interruption.UtteranceID,
					"error", err)
			}
		}
	}
}
