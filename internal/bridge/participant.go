package bridge

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/discord-voice-bridge/internal/metrics"
	"github.com/Raikerian/discord-voice-bridge/pkg/audio"
	"github.com/Raikerian/discord-voice-bridge/pkg/util"
)

// ParticipantStream is the inbound state of one speaker: a converter with
// its own history and a drop-oldest buffer of converted audio. It is torn
// down after a period without capture or when the speaker leaves.
type ParticipantStream struct {
	id         ParticipantID
	conv       *audio.Converter
	buf        *audio.RingBuffer
	idle       *util.Debouncer
	lastActive atomic.Int64
	closed     atomic.Bool
}

// ID returns the participant identity.
func (p *ParticipantStream) ID() ParticipantID { return p.id }

// LastActive returns when the last capture frame arrived.
func (p *ParticipantStream) LastActive() time.Time {
	return time.Unix(0, p.lastActive.Load())
}

// Closed reports whether the stream was torn down.
func (p *ParticipantStream) Closed() bool { return p.closed.Load() }

// push converts one capture frame and queues it. Only the transport's
// receive goroutine calls push, so the converter needs no lock.
func (p *ParticipantStream) push(pcm []byte) (dropped uint64, err error) {
	converted, err := p.conv.ConvertBytes(pcm)
	if err != nil {
		return 0, err
	}

	before := p.buf.Dropped()
	_, _ = p.buf.Push(converted)
	p.lastActive.Store(time.Now().UnixNano())
	p.idle.Reset()

	return p.buf.Dropped() - before, nil
}

func (p *ParticipantStream) pop(n int) []byte {
	return p.buf.Pop(n)
}

// close releases the stream. It reports false if it was already closed.
func (p *ParticipantStream) close() bool {
	if !p.closed.CompareAndSwap(false, true) {
		return false
	}
	p.idle.Stop()
	p.buf.Clear()

	return true
}

// participants is the set of live ParticipantStreams of one session.
type participants struct {
	logger      *zap.Logger
	input       audio.Format
	bufferBytes int
	idleTimeout time.Duration

	mu      sync.Mutex
	streams map[ParticipantID]*ParticipantStream
	closed  bool
}

func newParticipants(logger *zap.Logger, input audio.Format, buffer, idleTimeout time.Duration) *participants {
	bufferBytes := input.BytesFor(buffer)
	bufferBytes = max(bufferBytes, input.BytesFor(audio.FrameDuration))

	return &participants{
		logger:      logger,
		input:       input,
		bufferBytes: bufferBytes,
		idleTimeout: idleTimeout,
		streams:     make(map[ParticipantID]*ParticipantStream),
	}
}

// get returns the stream for id, creating it on first use. It fails with
// ErrSessionClosed once closeAll ran.
func (ps *participants) get(id ParticipantID) (*ParticipantStream, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if s, ok := ps.streams[id]; ok {
		return s, nil
	}
	if ps.closed {
		return nil, ErrSessionClosed
	}

	conv, err := audio.NewConverter(audio.DiscordFormat, ps.input)
	if err != nil {
		return nil, err
	}

	s := &ParticipantStream{
		id:   id,
		conv: conv,
		buf:  audio.NewRingBuffer(ps.bufferBytes, audio.DropOldest),
	}
	s.lastActive.Store(time.Now().UnixNano())
	s.idle = util.NewDebouncer(ps.idleTimeout, func() {
		if ps.removeStream(s) {
			ps.logger.Debug("Participant stream idle, tearing down",
				zap.String("participant_id", string(id)))
		}
	})
	ps.streams[id] = s
	metrics.ActiveParticipants.Inc()

	ps.logger.Debug("Participant stream created", zap.String("participant_id", string(id)))

	return s, nil
}

// remove tears down the stream for id. It is idempotent.
func (ps *participants) remove(id ParticipantID) bool {
	ps.mu.Lock()
	s, ok := ps.streams[id]
	ps.mu.Unlock()
	if !ok {
		return false
	}

	return ps.removeStream(s)
}

// removeStream tears down s if it is still the registered stream for its id.
func (ps *participants) removeStream(s *ParticipantStream) bool {
	ps.mu.Lock()
	if cur, ok := ps.streams[s.id]; ok && cur == s {
		delete(ps.streams, s.id)
	}
	ps.mu.Unlock()

	if !s.close() {
		return false
	}
	metrics.ActiveParticipants.Dec()

	return true
}

// snapshot returns the live streams.
func (ps *participants) snapshot() []*ParticipantStream {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	out := make([]*ParticipantStream, 0, len(ps.streams))
	for _, s := range ps.streams {
		out = append(out, s)
	}

	return out
}

// ids returns the live participant IDs in sorted order.
func (ps *participants) ids() []ParticipantID {
	ps.mu.Lock()
	ids := make([]ParticipantID, 0, len(ps.streams))
	for id := range ps.streams {
		ids = append(ids, id)
	}
	ps.mu.Unlock()

	slices.Sort(ids)

	return ids
}

func (ps *participants) closeAll() {
	ps.mu.Lock()
	ps.closed = true
	ps.mu.Unlock()

	for _, s := range ps.snapshot() {
		ps.removeStream(s)
	}
}
