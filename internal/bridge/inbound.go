package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/discord-voice-bridge/internal/metrics"
	"github.com/Raikerian/discord-voice-bridge/pkg/audio"
)

// Inbound collects capture audio per participant, mixes one frame from every
// speaking participant each tick and sends the mix to the AI connection.
type Inbound struct {
	logger     *zap.Logger
	channel    ChannelRef
	format     audio.Format
	frameBytes int
	parts      *participants
	mixer      *audio.Mixer
	recorder   *recorder
	closed     atomic.Bool
}

// InboundConfig sizes an Inbound bridge.
type InboundConfig struct {
	Channel ChannelRef
	// Format is the AI input format.
	Format audio.Format
	// Buffer is how much converted audio each participant may queue.
	Buffer time.Duration
	// IdleTimeout tears a participant down after this long without capture.
	IdleTimeout time.Duration
	// DebugAudioDir, when set, receives a WAV of the mixed stream on close.
	DebugAudioDir string
}

func NewInbound(logger *zap.Logger, cfg InboundConfig) *Inbound {
	return &Inbound{
		logger:     logger,
		channel:    cfg.Channel,
		format:     cfg.Format,
		frameBytes: cfg.Format.BytesFor(audio.FrameDuration),
		parts:      newParticipants(logger, cfg.Format, cfg.Buffer, cfg.IdleTimeout),
		mixer:      audio.NewMixer(),
		recorder: newRecorder(logger, cfg.DebugAudioDir,
			fmt.Sprintf("inbound_%s_%s", cfg.Channel.GuildID, cfg.Channel.ChannelID), cfg.Format),
	}
}

// OnCaptureFrame implements CaptureSink.
func (in *Inbound) OnCaptureFrame(id ParticipantID, pcm []byte) {
	if in.closed.Load() {
		return
	}
	metrics.CaptureFramesTotal.Inc()

	s, err := in.parts.get(id)
	if errors.Is(err, ErrSessionClosed) {
		return
	}
	if err != nil {
		in.logger.Error("Failed to create participant stream",
			zap.String("participant_id", string(id)), zap.Error(err))
		return
	}

	dropped, err := s.push(pcm)
	if err != nil {
		metrics.ConversionErrorsTotal.WithLabelValues("inbound").Inc()
		in.logger.Debug("Dropping capture frame",
			zap.String("participant_id", string(id)),
			zap.Int("bytes", len(pcm)),
			zap.Error(err))
		return
	}
	if dropped > 0 {
		metrics.DroppedBytesTotal.WithLabelValues("inbound").Add(float64(dropped))
	}
}

// Run mixes and sends every 20 ms until ctx is done. It returns a
// *SessionError of kind ErrConnectionLost when a send fails twice in a row.
func (in *Inbound) Run(ctx context.Context, sender AudioSender) error {
	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := in.tick(ctx, sender); err != nil {
				return err
			}
		}
	}
}

func (in *Inbound) tick(ctx context.Context, sender AudioSender) error {
	for _, s := range in.parts.snapshot() {
		if data := s.pop(in.frameBytes); len(data) > 0 {
			in.mixer.AddBytes(data)
		}
	}
	if in.mixer.Sources() == 0 {
		return nil
	}

	mixed := audio.PCMInt16ToLE(in.mixer.Drain())
	in.recorder.write(mixed)

	return in.send(ctx, sender, mixed)
}

// send delivers one chunk, retrying a failed send once.
func (in *Inbound) send(ctx context.Context, sender AudioSender, pcm []byte) error {
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		start := time.Now()
		err = sender.SendAudio(ctx, pcm)
		if err == nil {
			metrics.AISendLatency.Observe(float64(time.Since(start).Milliseconds()))
			metrics.AIChunksSentTotal.Inc()

			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		metrics.AISendFailuresTotal.Inc()
		in.logger.Warn("Failed to send audio to AI",
			zap.String("channel", in.channel.String()),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	return &SessionError{Kind: ErrConnectionLost, Channel: in.channel, Err: err}
}

// Close stops accepting capture and tears down every participant stream.
func (in *Inbound) Close() {
	if in.closed.CompareAndSwap(false, true) {
		in.parts.closeAll()
		in.mixer.Clear()
	}
}

// SaveRecording writes the debug capture, if enabled, and returns its path.
func (in *Inbound) SaveRecording() (string, error) {
	return in.recorder.save()
}

// RemoveParticipant tears down one participant stream. It reports whether a
// stream was removed.
func (in *Inbound) RemoveParticipant(id ParticipantID) bool {
	return in.parts.remove(id)
}

// Participants returns the IDs with a live stream.
func (in *Inbound) Participants() []ParticipantID {
	return in.parts.ids()
}
