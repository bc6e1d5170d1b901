package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Raikerian/discord-voice-bridge/internal/metrics"
	"github.com/Raikerian/discord-voice-bridge/internal/realtime"
	"github.com/Raikerian/discord-voice-bridge/pkg/audio"
)

const cleanupTimeout = 5 * time.Second

// SessionConfig holds the per-session knobs.
type SessionConfig struct {
	InboundBuffer  time.Duration
	OutboundBuffer time.Duration
	IdleTimeout    time.Duration
	DrainTimeout   time.Duration
	DebugAudioDir  string
}

// Session bridges one voice channel with one AI conversation.
type Session struct {
	logger    *zap.Logger
	handle    Handle
	provider  realtime.Provider
	transport Transport
	cfg       SessionConfig
	onClosed  func(s *Session, cause error)

	inbound  *Inbound
	outbound *Outbound

	// ctx lives until shutdown and bounds every task of the session.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	cause     error
	conn      realtime.Conn
	link      VoiceLink
	startedAt time.Time

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closing   atomic.Bool
	closeOnce sync.Once
}

func newSession(
	logger *zap.Logger,
	handle Handle,
	provider realtime.Provider,
	transport Transport,
	cfg SessionConfig,
	onClosed func(*Session, error),
) *Session {
	logger = logger.With(
		zap.String("session_id", handle.ID),
		zap.String("guild_id", handle.Channel.GuildID.String()),
		zap.String("channel_id", handle.Channel.ChannelID.String()))

	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		logger:    logger,
		handle:    handle,
		provider:  provider,
		transport: transport,
		cfg:       cfg,
		onClosed:  onClosed,
		inbound: NewInbound(logger, InboundConfig{
			Channel:       handle.Channel,
			Format:        provider.InputFormat(),
			Buffer:        cfg.InboundBuffer,
			IdleTimeout:   cfg.IdleTimeout,
			DebugAudioDir: cfg.DebugAudioDir,
		}),
		outbound:  NewOutbound(logger, handle.Channel, cfg.OutboundBuffer),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
		startedAt: time.Now(),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Handle returns the session handle.
func (s *Session) Handle() Handle { return s.handle }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Done is closed once the session reached Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the fault that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cause
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()

	if prev == st {
		return
	}
	metrics.SessionTransitionsTotal.WithLabelValues(st.String()).Inc()
	s.logger.Debug("Session state changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", st))
}

// open connects the AI first and the voice channel second, then starts the
// session tasks.
func (s *Session) open(ctx context.Context) error {
	s.setState(StateConnecting)

	conn, err := s.provider.Connect(ctx, s.handlers())
	if err != nil {
		cause := &SessionError{Kind: ErrConnectionLost, Channel: s.handle.Channel, Err: err}
		s.fail(cause, false)

		return cause
	}
	if !s.attach(func() { s.conn = conn }) {
		_ = conn.Close()

		return ErrSessionClosed
	}

	link, err := s.transport.Connect(ctx, s.handle.Channel, s.inbound)
	if err != nil {
		cause := &SessionError{Kind: ErrTransportFault, Channel: s.handle.Channel, Err: err}
		s.fail(cause, false)

		return cause
	}
	if !s.attach(func() { s.link = link }) {
		_ = link.Close(context.Background())

		return ErrSessionClosed
	}

	s.setState(StateActive)
	s.readyOnce.Do(func() { close(s.ready) })

	s.logger.Info("Voice bridge session active",
		zap.String("provider", s.provider.Name()),
		zap.Stringer("ai_input", s.provider.InputFormat()),
		zap.Stringer("ai_output", s.provider.OutputFormat()))

	go s.run(conn, link)

	return nil
}

// attach stores a freshly opened resource unless the session is already
// shutting down.
func (s *Session) attach(set func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing.Load() {
		return false
	}
	set()

	return true
}

func (s *Session) handlers() realtime.Handlers {
	return realtime.Handlers{
		OnAudio: func(frame audio.Frame) {
			if err := s.outbound.OnAudioChunk(s.ctx, frame); err != nil && s.ctx.Err() == nil {
				s.logger.Debug("AI audio chunk dropped", zap.Error(err))
			}
		},
		OnInterrupt: func() {
			metrics.InterruptsTotal.WithLabelValues("ai").Inc()
			s.outbound.OnInterrupt()
			s.logger.Debug("AI reported barge-in, playback cleared")
		},
		OnTranscript: func(role realtime.Role, text string) {
			s.logger.Info("Transcript", zap.String("role", string(role)), zap.String("text", text))
		},
		OnError: func(err error) {
			s.logger.Warn("AI service error", zap.Error(err))
		},
		OnClose: func(err error) {
			if s.closing.Load() {
				return
			}
			s.fail(&SessionError{Kind: ErrConnectionLost, Channel: s.handle.Channel, Err: err}, true)
		},
	}
}

// run supervises the inbound mixer, the playback pacer and the link watcher.
func (s *Session) run(conn realtime.Conn, link VoiceLink) {
	g, ctx := errgroup.WithContext(s.ctx)

	g.Go(func() error {
		return s.inbound.Run(ctx, conn)
	})
	g.Go(func() error {
		return s.outbound.Run(ctx, link)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-link.Done():
			if s.closing.Load() {
				return nil
			}
			err := link.Err()
			if err == nil {
				err = errors.New("voice link closed")
			}

			return &SessionError{Kind: ErrTransportFault, Channel: s.handle.Channel, Err: err}
		}
	})

	if err := g.Wait(); err != nil && !s.closing.Load() {
		s.fail(err, false)
	}
}

// fail moves the session to Error and cleans up. async runs the cleanup on
// its own goroutine for callers that must not block.
func (s *Session) fail(cause error, async bool) {
	metrics.SessionErrorsTotal.WithLabelValues(kindLabel(cause)).Inc()
	s.logger.Error("Voice bridge session failed", zap.Error(cause))

	if async {
		go s.shutdown(cause)
		return
	}
	s.shutdown(cause)
}

// Stop drains playback and closes the session. Inbound capture stops at
// once; queued AI audio keeps playing until the buffer empties or the drain
// timeout passes.
func (s *Session) Stop(ctx context.Context) error {
	select {
	case <-s.ready:
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	state := s.state
	if state == StateActive {
		s.state = StateDraining
	}
	s.mu.Unlock()

	switch state {
	case StateActive:
		metrics.SessionTransitionsTotal.WithLabelValues(StateDraining.String()).Inc()
		s.logger.Info("Draining voice bridge session",
			zap.Duration("pending", s.outbound.PendingDuration()))
	case StateDraining:
		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		<-s.done

		return nil
	}

	s.inbound.Close()
	s.drain(ctx)
	s.shutdown(nil)

	return nil
}

func (s *Session) drain(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.DrainDuration.Observe(float64(time.Since(start).Milliseconds()))
	}()

	timeout := time.NewTimer(s.cfg.DrainTimeout)
	defer timeout.Stop()
	poll := time.NewTicker(audio.FrameDuration)
	defer poll.Stop()

	for s.outbound.Pending() > 0 {
		select {
		case <-poll.C:
		case <-timeout.C:
			s.logger.Info("Drain timeout reached, dropping queued audio",
				zap.Duration("pending", s.outbound.PendingDuration()))
			return
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// shutdown releases everything the session holds. It runs once.
func (s *Session) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing.Store(true)
		conn, link := s.conn, s.link
		s.mu.Unlock()

		if cause != nil {
			s.mu.Lock()
			s.cause = cause
			s.mu.Unlock()
			s.setState(StateError)
		}

		s.cancel()
		s.inbound.Close()
		s.outbound.Clear()

		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()

		if conn != nil {
			if err := conn.Close(); err != nil {
				s.logger.Warn("Error closing AI connection", zap.Error(err))
			}
		}
		if link != nil {
			if err := link.Close(ctx); err != nil {
				s.logger.Warn("Error leaving voice channel", zap.Error(err))
			}
		}
		if path, err := s.inbound.SaveRecording(); err != nil {
			s.logger.Warn("Failed to save debug audio", zap.Error(err))
		} else if path != "" {
			s.logger.Debug("Debug audio saved", zap.String("file", path))
		}

		s.setState(StateClosed)
		s.readyOnce.Do(func() { close(s.ready) })
		close(s.done)

		s.logger.Info("Voice bridge session closed",
			zap.Duration("duration", time.Since(s.startedAt)),
			zap.Error(cause))

		if s.onClosed != nil {
			s.onClosed(s, cause)
		}
	})
}

// Interrupt cuts local playback and asks the AI to drop its response.
func (s *Session) Interrupt(ctx context.Context) error {
	conn, err := s.liveConn()
	if err != nil {
		return err
	}

	metrics.InterruptsTotal.WithLabelValues("user").Inc()
	s.outbound.OnInterrupt()

	if err := conn.Interrupt(ctx); err != nil {
		return fmt.Errorf("interrupt AI response: %w", err)
	}

	return nil
}

// SendText makes the AI answer text out loud.
func (s *Session) SendText(ctx context.Context, text string) error {
	conn, err := s.liveConn()
	if err != nil {
		return err
	}

	return conn.SendText(ctx, text)
}

func (s *Session) liveConn() (realtime.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive && s.state != StateDraining {
		return nil, ErrSessionClosed
	}

	return s.conn, nil
}

// RemoveParticipant tears down a departed speaker's stream.
func (s *Session) RemoveParticipant(id ParticipantID) bool {
	return s.inbound.RemoveParticipant(id)
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		Handle:       s.handle,
		State:        s.State(),
		Provider:     s.provider.Name(),
		StartedAt:    s.startedAt,
		Participants: s.inbound.Participants(),
		Pending:      s.outbound.PendingDuration(),
	}
}

// awaitReady waits for the session to leave Connecting.
func (s *Session) awaitReady(ctx context.Context) (Handle, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return Handle{}, ctx.Err()
	}

	switch s.State() {
	case StateActive, StateDraining:
		return s.handle, nil
	default:
		if err := s.Err(); err != nil {
			return Handle{}, err
		}

		return Handle{}, ErrSessionClosed
	}
}
