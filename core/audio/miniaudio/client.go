package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-realtime/core/audio"
)

// Client drives the default capture and playback devices through miniaudio.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	encodingInfo audio.EncodingInfo
	capture      bool

	playbackClient
	captureClient
}

// NewClient opens the default devices. Capture is skipped when
// opts.Capture is false, the playback device is always started.
func NewClient(opts audio.OpenOptions) (*Client, error) {
	encodingInfo := opts.EncodingInfo
	if encodingInfo.IsZero() {
		encodingInfo = audio.GetDefaultEncodingInfo()
	}
	if encodingInfo.Format != audio.EncodingLinear16 {
		return nil, fmt.Errorf("unsupported device encoding %q", encodingInfo.Format.Name())
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := Client{
		audioContext: audioCtx,
		encodingInfo: encodingInfo,
		capture:      opts.Capture,
	}

	if err := client.playbackClient.Init(audioCtx, encodingInfo); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}

	if err := client.playbackClient.Start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	if opts.Capture {
		if err := client.captureClient.Init(audioCtx, encodingInfo); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to initialize capture client: %w", err)
		}
	}

	return &client, nil
}

// Opener returns a device opener that hands out a single client as both
// input and output.
func Opener() audio.DeviceOpener {
	return audio.DeviceOpenerFunc(func(_ context.Context, opts audio.OpenOptions) (audio.Devices, error) {
		client, err := NewClient(opts)
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

func (c *Client) Stream(_ context.Context, onAudio func(audio []byte)) error {
	if !c.capture {
		return fmt.Errorf("capture was not requested")
	}
	return c.captureClient.Start(onAudio)
}

func (c *Client) StopCapture() error {
	return c.captureClient.Stop()
}

func (c *Client) Close() {
	_ = c.captureClient.Uninit()
	_ = c.playbackClient.Uninit()
	if c.audioContext != nil {
		_ = c.audioContext.Uninit()
		c.audioContext.Free()
		c.audioContext = nil
	}
}

func (c *Client) SendAudio(audio []byte) error {
	return c.playbackClient.SendAudio(audio)
}

func (c *Client) ClearBuffer() {
	c.playbackClient.ClearBuffer()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encodingInfo
}
