package audio

import "context"

// Input is a capture device. Stream delivers fixed-size PCM frames to
// onAudio until ctx is done or the device is closed. Implementations may
// return immediately after starting the device.
type Input interface {
	EncodingInfo() EncodingInfo
	Stream(ctx context.Context, onAudio func(audio []byte)) error
	Close()
}

// Output is a playback device with an internal buffer that can be flushed.
type Output interface {
	EncodingInfo() EncodingInfo
	SendAudio(audio []byte) error
	ClearBuffer()
	Close()
}

type OpenOptions struct {
	EncodingInfo EncodingInfo
	Capture      bool
	Playback     bool
}

// Devices is the set of handles acquired for one session. Input is nil when
// capture was not requested.
type Devices struct {
	Input  Input
	Output Output
}

// Close releases every acquired device.
func (d Devices) Close() {
	if d.Input != nil {
		d.Input.Close()
	}
	if d.Output != nil && any(d.Output) != any(d.Input) {
		d.Output.Close()
	}
}

type DeviceOpener interface {
	Open(ctx context.Context, opts OpenOptions) (Devices, error)
}

type DeviceOpenerFunc func(ctx context.Context, opts OpenOptions) (Devices, error)

func (f DeviceOpenerFunc) Open(ctx context.Context, opts OpenOptions) (Devices, error) {
	return f(ctx, opts)
}
