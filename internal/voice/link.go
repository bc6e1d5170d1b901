package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"go.uber.org/zap"

	"github.com/Raikerian/discord-voice-bridge/internal/bridge"
	"github.com/Raikerian/discord-voice-bridge/internal/metrics"
	"github.com/Raikerian/discord-voice-bridge/pkg/audio"
)

const (
	// maxReadErrors consecutive receive failures mark the link as lost.
	maxReadErrors  = 50
	readErrorPause = audio.FrameDuration
	// trailingSilenceFrames are sent after speech so clients stop
	// interpolating, then silence is no longer transmitted.
	trailingSilenceFrames = 5
)

// speaker is the decoding state of one SSRC.
type speaker struct {
	userID discord.UserID
	dec    *audio.OpusDecoder
}

// Link is a joined voice channel. It decodes received Opus per speaker into
// the capture sink and encodes playback frames for the channel.
type Link struct {
	logger *zap.Logger
	conn   packetConn
	sink   bridge.CaptureSink
	enc    *audio.OpusEncoder
	self   discord.UserID

	mu       sync.Mutex
	speakers map[uint32]*speaker
	err      error

	silentRun int
	writeMu   sync.Mutex

	done      chan struct{}
	doneOnce  sync.Once
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newLink(logger *zap.Logger, conn packetConn, sink bridge.CaptureSink, enc *audio.OpusEncoder, self discord.UserID) *Link {
	return &Link{
		logger:   logger,
		conn:     conn,
		sink:     sink,
		enc:      enc,
		self:     self,
		speakers: make(map[uint32]*speaker),
		done:     make(chan struct{}),
	}
}

// speaking maps an SSRC to the user announced for it.
func (l *Link) speaking(userID discord.UserID, ssrc uint32) {
	if userID == l.self {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if sp, ok := l.speakers[ssrc]; ok && sp.userID == userID {
		return
	}

	dec, err := audio.NewOpusDecoder()
	if err != nil {
		metrics.OpusErrorsTotal.WithLabelValues("decoder").Inc()
		l.logger.Error("Failed to create opus decoder",
			zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	l.speakers[ssrc] = &speaker{userID: userID, dec: dec}

	l.logger.Debug("Mapped speaker",
		zap.String("user_id", userID.String()),
		zap.Uint32("ssrc", ssrc))
}

// forget drops the decoding state of a user who left the channel.
func (l *Link) forget(userID discord.UserID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ssrc, sp := range l.speakers {
		if sp.userID == userID {
			delete(l.speakers, ssrc)
		}
	}
}

func (l *Link) speakerFor(ssrc uint32) (*speaker, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sp, ok := l.speakers[ssrc]

	return sp, ok
}

// receive reads packets until the link closes or keeps failing.
func (l *Link) receive() {
	failures := 0

	for {
		packet, err := l.conn.ReadPacket()
		if l.closing.Load() {
			return
		}
		if err != nil {
			failures++
			if failures >= maxReadErrors {
				l.fault(fmt.Errorf("voice receive failed %d times in a row: %w", failures, err))
				return
			}
			l.logger.Debug("Failed to read voice packet", zap.Error(err))
			time.Sleep(readErrorPause)

			continue
		}
		failures = 0

		l.handlePacket(packet)
	}
}

func (l *Link) handlePacket(packet *AudioPacket) {
	if packet == nil || len(packet.Opus) == 0 {
		return
	}

	sp, ok := l.speakerFor(packet.SSRC)
	if !ok {
		l.logger.Debug("Dropping packet from unmapped SSRC", zap.Uint32("ssrc", packet.SSRC))
		return
	}

	pcm, err := sp.dec.Decode(packet.Opus)
	if err != nil {
		metrics.OpusErrorsTotal.WithLabelValues("decode").Inc()
		l.logger.Debug("Failed to decode voice packet",
			zap.String("user_id", sp.userID.String()),
			zap.Uint16("sequence", packet.Sequence),
			zap.Error(err))
		return
	}

	l.sink.OnCaptureFrame(bridge.UserParticipant(sp.userID), pcm)
}

// WriteFrame encodes one playback frame and sends it to the channel. Runs of
// silence stop being transmitted after a few frames.
func (l *Link) WriteFrame(ctx context.Context, frame []byte, silent bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.closing.Load() {
		return errors.New("voice link closed")
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if silent {
		if l.silentRun >= trailingSilenceFrames {
			return nil
		}
		l.silentRun++
	} else {
		l.silentRun = 0
	}

	packet, err := l.enc.Encode(frame)
	if err != nil {
		metrics.OpusErrorsTotal.WithLabelValues("encode").Inc()
		l.logger.Warn("Failed to encode playback frame", zap.Error(err))
		return nil
	}

	if _, err := l.conn.Write(packet); err != nil {
		return fmt.Errorf("failed to write voice packet: %w", err)
	}

	return nil
}

func (l *Link) fault(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()

	l.logger.Warn("Voice link lost", zap.Error(err))
	l.doneOnce.Do(func() { close(l.done) })
}

// Done is closed when the link fails or is closed.
func (l *Link) Done() <-chan struct{} { return l.done }

// Err returns the failure that ended the link.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.err
}

// Close leaves the voice channel. It is safe to call more than once.
func (l *Link) Close(ctx context.Context) error {
	l.closeOnce.Do(func() {
		l.closing.Store(true)
		l.closeErr = l.conn.Leave(ctx)
		l.doneOnce.Do(func() { close(l.done) })
	})

	return l.closeErr
}
