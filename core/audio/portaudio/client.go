package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-realtime/core/audio"
)

// DefaultBufferSize is 20ms of audio at 24kHz.
const DefaultBufferSize = 480

// Client is a duplex PortAudio stream on the default devices. Reads and
// writes are blocking so capture runs on the Stream goroutine and playback
// on the caller of SendAudio.
type Client struct {
	encodingInfo audio.EncodingInfo
	bufferSize   int
	stream       *portaudio.Stream

	writeMu       sync.Mutex
	leftoverAudio []byte

	in  []int16
	out []int16

	closeOnce sync.Once
}

func NewClient(bufferSize int, encodingInfo audio.EncodingInfo) (*Client, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if encodingInfo.IsZero() {
		encodingInfo = audio.GetDefaultEncodingInfo()
	}
	if encodingInfo.Format != audio.EncodingLinear16 {
		return nil, fmt.Errorf("unsupported device encoding %q", encodingInfo.Format.Name())
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	in := make([]int16, bufferSize)
	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 1, float64(encodingInfo.SampleRate), bufferSize, in, out)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start portaudio stream: %w", err)
	}

	return &Client{
		encodingInfo: encodingInfo,
		bufferSize:   bufferSize,
		stream:       stream,
		in:           in,
		out:          out,
	}, nil
}

// Opener returns a device opener backed by a single duplex stream.
func Opener(bufferSize int) audio.DeviceOpener {
	return audio.DeviceOpenerFunc(func(_ context.Context, opts audio.OpenOptions) (audio.Devices, error) {
		client, err := NewClient(bufferSize, opts.EncodingInfo)
		if err != nil {
			return audio.Devices{}, err
		}

		devices := audio.Devices{Output: client}
		if opts.Capture {
			devices.Input = client
		}
		return devices, nil
	})
}

// Stream blocks reading microphone frames until ctx is done.
func (c *Client) Stream(ctx context.Context, onAudio func(audio []byte)) error {
	logger.Info("microphone capture started")
	defer logger.Info("microphone capture stopped")

	audioBuffer := bytes.Buffer{}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := c.stream.Read(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("failed to read from portaudio stream", "error", err)
			continue
		}

		audioBuffer.Reset()
		if err := binary.Write(&audioBuffer, binary.LittleEndian, c.in); err != nil {
			return fmt.Errorf("failed to encode captured audio: %w", err)
		}
		onAudio(audioBuffer.Bytes())
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		_ = c.stream.Stop()
		_ = c.stream.Close()
		_ = portaudio.Terminate()
	})
}

// SendAudio writes whole buffers to the device and keeps the remainder for
// the next call.
func (c *Client) SendAudio(audio []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	bufferSize := c.bufferSize * 2
	audio = append(c.leftoverAudio, audio...)
	written := 0
	for ; written+bufferSize <= len(audio); written += bufferSize {
		if err := binary.Read(bytes.NewReader(audio[written:written+bufferSize]), binary.LittleEndian, c.out); err != nil {
			return fmt.Errorf("failed to decode playback audio: %w", err)
		}
		if err := c.stream.Write(); err != nil {
			return fmt.Errorf("failed to write to portaudio stream: %w", err)
		}
	}

	c.leftoverAudio = append(c.leftoverAudio[:0], audio[written:]...)
	return nil
}

func (c *Client) ClearBuffer() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.leftoverAudio = c.leftoverAudio[:0]
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encodingInfo
}
