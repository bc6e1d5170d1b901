package audio

import (
	"fmt"
	"time"
)

// Discord voice constants. Discord decodes to 20 ms frames of interleaved
// stereo at 48 kHz.
const (
	DiscordSampleRate = 48_000
	DiscordChannels   = 2
	DiscordFrameSize  = 960 // samples per channel (20 ms)
	DiscordFrameBytes = DiscordFrameSize * DiscordChannels * BytesPerSample

	FrameDuration  = 20 * time.Millisecond
	BytesPerSample = 2 // signed 16-bit little-endian
)

// Common stream formats.
var (
	DiscordFormat = Format{SampleRate: DiscordSampleRate, Channels: DiscordChannels}
	Mono16k       = Format{SampleRate: 16_000, Channels: 1}
	Mono24k       = Format{SampleRate: 24_000, Channels: 1}
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Validate reports whether the format is one the converter can handle.
func (f Format) Validate() error {
	switch f.SampleRate {
	case 16_000, 24_000, 48_000:
	default:
		return &FormatError{Format: f, Reason: "unsupported sample rate"}
	}
	if f.Channels != 1 && f.Channels != 2 {
		return &FormatError{Format: f, Reason: "unsupported channel count"}
	}

	return nil
}

// FrameBytes is the size of one sample frame (all channels) in bytes.
func (f Format) FrameBytes() int {
	return f.Channels * BytesPerSample
}

// BytesFor returns the number of bytes holding d worth of audio.
func (f Format) BytesFor(d time.Duration) int {
	samples := int(int64(f.SampleRate) * int64(d) / int64(time.Second))

	return samples * f.FrameBytes()
}

// DurationOf returns how long n bytes of audio play for.
func (f Format) DurationOf(n int) time.Duration {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	samples := n / f.FrameBytes()

	return time.Duration(int64(samples) * int64(time.Second) / int64(f.SampleRate))
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}
