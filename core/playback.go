package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/koscakluka/ema-realtime/core/audio"
)

// maxPlaybackLead is how far ahead of real time audio may be written to the
// output device. Smaller leads make the reported played offset more
// accurate at the cost of underruns on a busy host.
const maxPlaybackLead = 200 * time.Millisecond

type playbackWorker struct {
	queue  *audio.PlaybackQueue
	output audio.Output
	logger *slog.Logger

	now func() time.Time
}

func newPlaybackWorker(queue *audio.PlaybackQueue, output audio.Output, logger *slog.Logger) *playbackWorker {
	return &playbackWorker{queue: queue, output: output, logger: logger, now: time.Now}
}

// run writes queued chunks to the output device in order. A chunk counts as
// played once the device accepted it. Without a device chunks are paced and
// counted as played so offsets stay meaningful.
func (w *playbackWorker) run(ctx context.Context) error {
	var playedUntil time.Time
	for {
		chunk, err := w.queue.Next(ctx)
		if err != nil {
			if errors.Is(err, audio.ErrQueueClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		if w.output != nil {
			if err := w.output.SendAudio(chunk.Audio); err != nil {
				w.logger.Warn("failed to write audio to output device",
					"utterance_id", chunk.UtteranceID,
					"error", err)
			}
		}

		if !w.queue.Played(chunk) {
			// interrupted while the device held it
			if w.output != nil {
				w.output.ClearBuffer()
			}
			playedUntil = time.Time{}
			continue
		}

		now := w.now()
		if playedUntil.Before(now) {
			playedUntil = now
		}
		playedUntil = playedUntil.Add(w.queue.EncodingInfo().Duration(w.queue.EncodingInfo().Samples(len(chunk.Audio))))
		if err := sleepContext(ctx, playedUntil.Sub(now)-maxPlaybackLead); err != nil {
			return nil
		}
	}
}
