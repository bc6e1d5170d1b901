package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/discord-voice-bridge/internal/metrics"
	"github.com/Raikerian/discord-voice-bridge/pkg/audio"
)

// Outbound queues AI audio as 48 kHz stereo and hands it to the voice link
// one 20 ms frame per tick, substituting silence when nothing is queued.
type Outbound struct {
	logger  *zap.Logger
	channel ChannelRef
	buf     *audio.RingBuffer

	// mu orders pushes against interrupts so no pre-interrupt audio lands
	// after the buffer was cleared.
	mu         sync.Mutex
	converters map[audio.Format]*audio.StreamConverter
	epoch      atomic.Uint64
}

func NewOutbound(logger *zap.Logger, channel ChannelRef, buffer time.Duration) *Outbound {
	capacity := max(audio.DiscordFormat.BytesFor(buffer), audio.DiscordFrameBytes)

	return &Outbound{
		logger:     logger,
		channel:    channel,
		buf:        audio.NewRingBuffer(capacity, audio.Backpressure),
		converters: make(map[audio.Format]*audio.StreamConverter),
	}
}

// OnAudioChunk converts one AI chunk to the Discord format and queues it,
// waiting for space when the buffer is full. A chunk caught by an interrupt
// is discarded.
func (o *Outbound) OnAudioChunk(ctx context.Context, frame audio.Frame) error {
	metrics.AIChunksReceivedTotal.Inc()

	o.mu.Lock()
	epoch := o.epoch.Load()
	data, err := o.convert(frame)
	o.mu.Unlock()
	if err != nil {
		metrics.ConversionErrorsTotal.WithLabelValues("outbound").Inc()
		o.logger.Debug("Dropping AI audio chunk",
			zap.Stringer("format", frame.Format()),
			zap.Int("bytes", frame.Len()),
			zap.Error(err))

		return err
	}

	for len(data) > 0 {
		o.mu.Lock()
		if o.epoch.Load() != epoch {
			o.mu.Unlock()

			return nil
		}
		n, err := o.buf.Push(data)
		o.mu.Unlock()

		data = data[n:]
		if err == nil {
			return nil
		}
		if !errors.Is(err, audio.ErrBufferOverflow) {
			return err
		}

		select {
		case <-o.buf.Space():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// convert must be called with mu held.
func (o *Outbound) convert(frame audio.Frame) ([]byte, error) {
	conv, ok := o.converters[frame.Format()]
	if !ok {
		var err error
		conv, err = audio.NewStreamConverter(frame.Format(), audio.DiscordFormat)
		if err != nil {
			return nil, err
		}
		o.converters[frame.Format()] = conv
	}

	out, err := conv.Convert(frame)
	if err != nil {
		return nil, err
	}

	return out.Data(), nil
}

// ProvidePlaybackFrame returns the next 20 ms frame. It never blocks.
func (o *Outbound) ProvidePlaybackFrame() []byte {
	frame, _ := o.nextFrame()

	return frame
}

func (o *Outbound) nextFrame() (frame []byte, silent bool) {
	data := o.buf.Pop(audio.DiscordFrameBytes)
	switch {
	case len(data) == 0:
		metrics.PlaybackUnderflowsTotal.Inc()

		return audio.Silence(audio.DiscordFrameBytes), true
	case len(data) < audio.DiscordFrameBytes:
		frame = audio.Silence(audio.DiscordFrameBytes)
		copy(frame, data)

		return frame, false
	default:
		return data, false
	}
}

// Run paces playback into sink every 20 ms until ctx is done. A sink
// failure ends it with a *SessionError of kind ErrTransportFault.
func (o *Outbound) Run(ctx context.Context, sink PlaybackSink) error {
	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			frame, silent := o.nextFrame()
			kind := "audio"
			if silent {
				kind = "silence"
			}
			metrics.PlaybackFramesTotal.WithLabelValues(kind).Inc()

			if err := sink.WriteFrame(ctx, frame, silent); err != nil {
				if ctx.Err() != nil {
					return nil
				}

				return &SessionError{Kind: ErrTransportFault, Channel: o.channel, Err: err}
			}
		}
	}
}

// OnInterrupt drops queued playback and any chunk still being queued.
func (o *Outbound) OnInterrupt() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.epoch.Add(1)
	o.buf.Clear()
	for _, conv := range o.converters {
		conv.Reset()
	}
}

// Pending returns the number of queued bytes.
func (o *Outbound) Pending() int {
	return o.buf.Available()
}

// PendingDuration returns how long the queued audio plays for.
func (o *Outbound) PendingDuration() time.Duration {
	return audio.DiscordFormat.DurationOf(o.Pending())
}

// Clear drops queued playback without touching converter state.
func (o *Outbound) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.epoch.Add(1)
	o.buf.Clear()
}
