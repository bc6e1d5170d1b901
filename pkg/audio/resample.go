package audio

import (
	"math"

	"github.com/oov/audio/resampler"
)

const (
	// resamplerQuality is the windowed-sinc quality on the 0..10 scale.
	resamplerQuality = 4
	// streamReserve is how many output samples per channel are held back
	// after the first chunk so that later chunks never run short.
	streamReserve = 2
)

// StreamConverter converts one continuous stream like Converter, but changes
// the rate with a windowed-sinc resampler that keeps its filter state across
// chunks. It is meant for long runs of speech such as AI playback.
//
// Every chunk still yields round(n*to/from) samples per channel. Output the
// filter has not released yet is replaced by leading silence on the first
// chunk and carried into the next chunk afterwards.
//
// A StreamConverter is not safe for concurrent use.
type StreamConverter struct {
	from Format
	to   Format

	// channels the resampler runs on.
	channels int
	rs       *resampler.Resampler
	pending  [][]float32
	started  bool
}

// NewStreamConverter returns a StreamConverter for the from→to pair, or an
// error wrapping ErrInvalidFormat when either side is unsupported.
func NewStreamConverter(from, to Format) (*StreamConverter, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}

	c := &StreamConverter{
		from:     from,
		to:       to,
		channels: min(from.Channels, to.Channels),
	}
	c.Reset()

	return c, nil
}

// From returns the source format.
func (c *StreamConverter) From() Format { return c.from }

// To returns the target format.
func (c *StreamConverter) To() Format { return c.to }

// Convert converts one chunk of the stream.
func (c *StreamConverter) Convert(frame Frame) (Frame, error) {
	if frame.Format() != c.from {
		return Frame{}, &FormatError{Format: frame.Format(), Reason: "converter built for " + c.from.String()}
	}

	out, err := c.ConvertBytes(frame.Data())
	if err != nil {
		return Frame{}, err
	}

	return Frame{format: c.to, data: out}, nil
}

// ConvertBytes is Convert on a raw payload already known to be in the
// source format.
func (c *StreamConverter) ConvertBytes(pcm []byte) ([]byte, error) {
	if len(pcm)%c.from.FrameBytes() != 0 {
		return nil, &FormatError{Format: c.from, Reason: "payload is not a whole number of sample frames"}
	}
	if len(pcm) == 0 {
		return []byte{}, nil
	}

	samples := LEToPCMInt16(pcm)
	if c.from.Channels == 2 && c.to.Channels == 1 {
		samples = downmix(samples)
	}

	if c.from.SampleRate != c.to.SampleRate {
		samples = c.resample(samples)
	}

	if c.from.Channels == 1 && c.to.Channels == 2 {
		samples = upmix(samples)
	}

	return PCMInt16ToLE(samples), nil
}

// Reset drops the filter state and any held output, e.g. after playback was
// cut. The next chunk starts with leading silence again.
func (c *StreamConverter) Reset() {
	c.rs = resampler.New(c.channels, c.from.SampleRate, c.to.SampleRate, resamplerQuality)
	c.pending = make([][]float32, c.channels)
	c.started = false
}

func (c *StreamConverter) resample(in []int16) []int16 {
	n := len(in) / c.channels
	want := OutputSamples(n, c.from.SampleRate, c.to.SampleRate)
	buf := make([]float32, want+64)

	src := make([]float32, n)
	for ch := 0; ch < c.channels; ch++ {
		for i := range src {
			src[i] = float32(in[i*c.channels+ch]) / 32768
		}
		c.pending[ch] = append(c.pending[ch], c.process(ch, src, buf)...)
	}

	if !c.started {
		c.started = true
		for ch, p := range c.pending {
			if short := want + streamReserve - len(p); short > 0 {
				c.pending[ch] = append(make([]float32, short, short+len(p)), p...)
			}
		}
	}

	out := make([]int16, want*c.channels)
	for ch, p := range c.pending {
		for i := 0; i < want && i < len(p); i++ {
			out[i*c.channels+ch] = saturateInt16(int32(math.Round(float64(p[i]) * 32768)))
		}
		c.pending[ch] = append(p[:0], p[min(want, len(p)):]...)
	}

	return out
}

// process feeds every input sample of one channel through the resampler.
func (c *StreamConverter) process(ch int, in, buf []float32) []float32 {
	var out []float32
	for len(in) > 0 {
		read, written := c.rs.ProcessFloat32(ch, in, buf)
		out = append(out, buf[:written]...)
		if read == 0 && written == 0 {
			break
		}
		in = in[read:]
	}

	return out
}
