package audio

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrQueueClosed = errors.New("playback queue closed")

// Chunk is a piece of synthesized audio. SampleOffset is the number of
// samples of the same utterance enqueued before it.
type Chunk struct {
	UtteranceID  string
	Audio        []byte
	SampleOffset int
}

// PendingInterruption records how much of an utterance was played when
// playback was cut.
type PendingInterruption struct {
	UtteranceID  string
	SampleOffset int
}

// AudioEnd converts the played offset into a duration.
func (p PendingInterruption) AudioEnd(encodingInfo EncodingInfo) time.Duration {
	return encodingInfo.Duration(p.SampleOffset)
}

// PlaybackQueue holds synthesized chunks in arrival order until the
// playback worker hands them to the output device. Interrupt and Drain are
// the only ways chunks leave the queue without being played.
type PlaybackQueue struct {
	mu sync.Mutex

	encodingInfo EncodingInfo

	chunks []Chunk

	enqueuedUtterance string
	enqueuedSamples   int
	finishedUtterance string

	playingUtterance string
	playedSamples    int

	interruptedUtterance string

	closed bool

	updateSignal chan struct{}
}

func NewPlaybackQueue(encodingInfo EncodingInfo) *PlaybackQueue {
	if encodingInfo.IsZero() {
		encodingInfo = GetDefaultEncodingInfo()
	}
	return &PlaybackQueue{
		encodingInfo: encodingInfo,
		updateSignal: make(chan struct{}, 1),
	}
}

func (q *PlaybackQueue) EncodingInfo() EncodingInfo { return q.encodingInfo }

// Enqueue appends audio for the given utterance. Audio of an interrupted
// utterance, or audio added after Close, is rejected.
func (q *PlaybackQueue) Enqueue(utteranceID string, audio []byte) (Chunk, bool) {
	q.mu.Lock()
	if q.closed || (utteranceID != "" && utteranceID == q.interruptedUtterance) {
		q.mu.Unlock()
		return Chunk{}, false
	}

	if utteranceID != q.enqueuedUtterance {
		q.enqueuedUtterance = utteranceID
		q.enqueuedSamples = 0
	}
	chunk := Chunk{
		UtteranceID:  utteranceID,
		Audio:        audio,
		SampleOffset: q.enqueuedSamples,
	}
	q.enqueuedSamples += q.encodingInfo.Samples(len(audio))
	q.chunks = append(q.chunks, chunk)
	q.mu.Unlock()

	q.signalUpdate()
	return chunk, true
}

// Finish marks that no more audio will be enqueued for the utterance.
func (q *PlaybackQueue) Finish(utteranceID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if utteranceID != q.enqueuedUtterance {
		return
	}
	q.finishedUtterance = utteranceID
	q.settleLocked()
}

// Next blocks until a chunk is available and removes it from the queue.
func (q *PlaybackQueue) Next(ctx context.Context) (Chunk, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Chunk{}, ErrQueueClosed
		}
		if len(q.chunks) > 0 {
			chunk := q.chunks[0]
			q.chunks[0] = Chunk{}
			q.chunks = q.chunks[1:]
			if chunk.UtteranceID != q.playingUtterance {
				q.playingUtterance = chunk.UtteranceID
				q.playedSamples = chunk.SampleOffset
			}
			q.mu.Unlock()
			return chunk, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Chunk{}, ctx.Err()
		case <-q.updateSignal:
		}
	}
}

// Played records that the chunk reached the output device. It returns false
// when the chunk's utterance was interrupted in the meantime, in which case
// the device buffer should be flushed again.
func (q *PlaybackQueue) Played(chunk Chunk) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if chunk.UtteranceID != q.playingUtterance ||
		(chunk.UtteranceID != "" && chunk.UtteranceID == q.interruptedUtterance) {
		return false
	}

	q.playedSamples = chunk.SampleOffset + q.encodingInfo.Samples(len(chunk.Audio))
	q.settleLocked()
	return true
}

// settleLocked clears the playing utterance once every chunk of a finished
// utterance has been played.
func (q *PlaybackQueue) settleLocked() {
	if q.playingUtterance == "" ||
		q.playingUtterance != q.finishedUtterance ||
		q.playedSamples < q.enqueuedSamples ||
		len(q.chunks) > 0 {
		return
	}
	q.playingUtterance = ""
	q.playedSamples = 0
}

// Interrupt discards every queued chunk and reports the utterance that was
// playing together with the number of its samples already played. ok is
// false when nothing was playing or queued.
func (q *PlaybackQueue) Interrupt() (interruption PendingInterruption, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case q.playingUtterance != "":
		interruption = PendingInterruption{UtteranceID: q.playingUtterance, SampleOffset: q.playedSamples}
	case len(q.chunks) > 0:
		interruption = PendingInterruption{UtteranceID: q.chunks[0].UtteranceID}
	default:
		return PendingInterruption{}, false
	}

	q.interruptedUtterance = interruption.UtteranceID
	q.clearLocked()
	q.playingUtterance = ""
	q.playedSamples = 0
	return interruption, true
}

// Drain discards every queued chunk and returns how many were dropped.
func (q *PlaybackQueue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := len(q.chunks)
	q.clearLocked()
	return dropped
}

func (q *PlaybackQueue) clearLocked() {
	clear(q.chunks)
	q.chunks = q.chunks[:0]
}

// Len returns the number of queued chunks.
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// Close drains the queue and wakes any waiting consumer.
func (q *PlaybackQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.clearLocked()
	q.mu.Unlock()
	q.signalUpdate()
}

func (q *PlaybackQueue) signalUpdate() {
	select {
	case q.updateSignal <- struct{}{}:
	default:
	}
}
