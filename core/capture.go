package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-realtime/core/provider"
	"github.com/koscakluka/ema-realtime/core/speechtotext"
)

// capture gates microphone frames on the ready state and hands them to the
// sender through a bounded queue. Frames outside ready are dropped.
type capture struct {
	forwarding *atomic.Bool
	frames     chan []byte
	timeout    time.Duration
	done       <-chan struct{}
	onOverflow func(error)
}

func newCapture(forwarding *atomic.Bool, queueSize int, timeout time.Duration, done <-chan struct{}, onOverflow func(error)) *capture {
	return &capture{
		forwarding: forwarding,
		frames:     make(chan []byte, queueSize),
		timeout:    timeout,
		done:       done,
		onOverflow: onOverflow,
	}
}

// onAudio is called from the device callback. The frame is copied because
// devices reuse their buffers.
func (c *capture) onAudio(frame []byte) {
	if !c.forwarding.Load() {
		droppedFrames.Add(context.Background(), 1)
		return
	}

	cp := make([]byte, len(frame))
	copy(cp, frame)

	select {
	case c.frames <- cp:
		return
	default:
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case c.frames <- cp:
	case <-c.done:
	case <-timer.C:
		if c.onOverflow != nil {
			c.onOverflow(fmt.Errorf("%w: provider did not accept audio within %s", ErrStream, c.timeout))
		}
	}
}

type audioSender struct {
	frames      <-chan []byte
	session     provider.Session
	transcriber speechtotext.Transcriber
	logger      *slog.Logger
}

func (s *audioSender) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-s.frames:
			if err := s.session.SendAudio(ctx, frame); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: %w", ErrStream, err)
			}
			forwardedFrames.Add(ctx, 1)

			if s.transcriber != nil {
				if err := s.transcriber.SendAudio(frame); err != nil {
					s.logger.Debug("failed to send audio to transcriber", "error", err)
				}
			}
		}
	}
}
