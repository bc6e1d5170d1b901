package audio

import "math"

// Converter turns PCM in one format into another for a single stream. It
// carries the last input sample across calls so that consecutive chunks of
// the same stream join without a step at the boundary.
//
// Stereo to mono is downmixed before resampling; mono to stereo is upmixed
// after, so the resampler always runs on the smaller channel count.
//
// A Converter is not safe for concurrent use; create one per stream.
type Converter struct {
	from Format
	to   Format

	// history holds the last resampler input sample per channel.
	history []int16
	primed  bool
}

// NewConverter returns a Converter for the from→to pair, or an error wrapping
// ErrInvalidFormat when either side is unsupported.
func NewConverter(from, to Format) (*Converter, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}

	return &Converter{
		from:    from,
		to:      to,
		history: make([]int16, min(from.Channels, to.Channels)),
	}, nil
}

// From returns the source format.
func (c *Converter) From() Format { return c.from }

// To returns the target format.
func (c *Converter) To() Format { return c.to }

// Convert converts one chunk. The output holds round(n*to/from) samples per
// channel, where n is the input sample count per channel.
func (c *Converter) Convert(frame Frame) (Frame, error) {
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
func (c *Converter) ConvertBytes(pcm []byte) ([]byte, error) {
	if len(pcm)%c.from.FrameBytes() != 0 {
		return nil, &FormatError{Format: c.from, Reason: "payload is not a whole number of sample frames"}
	}
	if len(pcm) == 0 {
		return []byte{}, nil
	}

	samples := LEToPCMInt16(pcm)
	channels := c.from.Channels

	if c.from.Channels == 2 && c.to.Channels == 1 {
		samples = downmix(samples)
		channels = 1
	}

	samples = c.resample(samples, channels)

	if c.from.Channels == 1 && c.to.Channels == 2 {
		samples = upmix(samples)
	}

	return PCMInt16ToLE(samples), nil
}

// Reset forgets the stream history, e.g. after playback was cut.
func (c *Converter) Reset() {
	c.primed = false
	for i := range c.history {
		c.history[i] = 0
	}
}

// Convert is a one-shot conversion with no history.
func Convert(frame Frame, to Format) (Frame, error) {
	c, err := NewConverter(frame.Format(), to)
	if err != nil {
		return Frame{}, err
	}

	return c.Convert(frame)
}

// OutputSamples returns round(n*to/from).
func OutputSamples(n, from, to int) int {
	return (n*to + from/2) / from
}

func (c *Converter) resample(in []int16, channels int) []int16 {
	n := len(in) / channels
	from, to := c.from.SampleRate, c.to.SampleRate

	var out []int16
	switch {
	case from == to:
		out = in
	case to > from:
		out = c.upsample(in, channels, n, OutputSamples(n, from, to))
	default:
		out = boxDownsample(in, channels, n, OutputSamples(n, from, to))
	}

	if n > 0 {
		copy(c.history, in[(n-1)*channels:n*channels])
		c.primed = true
	}

	return out
}

// upsample interpolates linearly. Output sample i sits at input position
// (i+1)*n/outN - 1, so the last output lands exactly on the last input and
// the first ones lean on the previous chunk's tail.
func (c *Converter) upsample(in []int16, channels, n, outN int) []int16 {
	out := make([]int16, outN*channels)
	step := float64(n) / float64(outN)

	at := func(idx, ch int) float64 {
		if idx < 0 {
			if !c.primed {
				return float64(in[ch])
			}

			return float64(c.history[ch])
		}
		if idx >= n {
			idx = n - 1
		}

		return float64(in[idx*channels+ch])
	}

	for i := 0; i < outN; i++ {
		pos := float64(i+1)*step - 1
		base := int(pos)
		if pos < 0 {
			base = -1
		}
		frac := pos - float64(base)

		for ch := 0; ch < channels; ch++ {
			s0 := at(base, ch)
			s1 := at(base+1, ch)
			out[i*channels+ch] = saturateInt16(int32(math.Round(s0 + (s1-s0)*frac)))
		}
	}

	return out
}

// boxDownsample averages the input span [i*n/outN, (i+1)*n/outN) for each
// output sample, which doubles as the anti-alias filter.
func boxDownsample(in []int16, channels, n, outN int) []int16 {
	out := make([]int16, outN*channels)

	for i := 0; i < outN; i++ {
		start := i * n / outN
		end := (i + 1) * n / outN
		if end <= start {
			end = start + 1
		}

		for ch := 0; ch < channels; ch++ {
			var sum int32
			for j := start; j < end; j++ {
				sum += int32(in[j*channels+ch])
			}
			out[i*channels+ch] = saturateInt16(sum / int32(end-start))
		}
	}

	return out
}

func downmix(st []int16) []int16 {
	n := len(st) / 2
	dst := make([]int16, n)
	for i := 0; i < n; i++ {
		dst[i] = int16((int32(st[2*i]) + int32(st[2*i+1])) / 2)
	}

	return dst
}

func upmix(m []int16) []int16 {
	dst := make([]int16, len(m)*2)
	for i, v := range m {
		dst[2*i], dst[2*i+1] = v, v
	}

	return dst
}
