package audio

import "time"

const (
	// DefaultSampleRate is the PCM rate both realtime backends negotiate.
	DefaultSampleRate = 24000
	DefaultFormat     = "linear16"
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: encodingFormat(DefaultFormat)}
}

// EncodingInfo describes mono PCM audio.
type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

func NewEncodingInfo(sampleRate int, format encodingFormat) EncodingInfo {
	return EncodingInfo{SampleRate: sampleRate, Format: format}
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case EncodingALaw:
		return 0x55
	case EncodingMulaw:
		return 0xFF
	case EncodingLinear16:
		return 0
	}

	return 0
}

// Samples returns the number of samples held by n bytes.
func (e EncodingInfo) Samples(n int) int {
	if size := e.Format.ByteSize(); size > 0 {
		return n / size
	}
	return 0
}

// Duration returns the playing time of the given number of samples.
func (e EncodingInfo) Duration(samples int) time.Duration {
	if e.SampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(e.SampleRate)
}

// FrameBytes returns the size of a frame holding d of audio.
func (e EncodingInfo) FrameBytes(d time.Duration) int {
	return int(int64(e.SampleRate)*int64(d)/int64(time.Second)) * e.Format.ByteSize()
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)
