package audio

import "time"

// Frame is a chunk of interleaved 16-bit little-endian PCM. A Frame is never
// mutated after creation; the producer hands ownership of the payload to
// whoever receives the Frame.
type Frame struct {
	format Format
	data   []byte
}

// NewFrame validates format and payload alignment and wraps data without
// copying it.
func NewFrame(format Format, data []byte) (Frame, error) {
	if err := format.Validate(); err != nil {
		return Frame{}, err
	}
	if len(data)%format.FrameBytes() != 0 {
		return Frame{}, &FormatError{Format: format, Reason: "payload is not a whole number of sample frames"}
	}

	return Frame{format: format, data: data}, nil
}

// Format returns the frame's sample rate and channel count.
func (f Frame) Format() Format { return f.format }

// Data returns the payload. Callers must not modify it.
func (f Frame) Data() []byte { return f.data }

// Len is the payload size in bytes.
func (f Frame) Len() int { return len(f.data) }

// SampleCount is the number of samples per channel.
func (f Frame) SampleCount() int {
	if f.format.Channels == 0 {
		return 0
	}

	return len(f.data) / f.format.FrameBytes()
}

// Duration is the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return f.format.DurationOf(len(f.data))
}
