package bridge

import (
	"context"
	"slices"
	"sync"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Raikerian/discord-voice-bridge/internal/config"
	"github.com/Raikerian/discord-voice-bridge/internal/metrics"
	"github.com/Raikerian/discord-voice-bridge/internal/realtime"
)

// ClosedListener is told about every session that reached Closed. cause is
// nil for a regular stop.
type ClosedListener func(info SessionInfo, cause error)

// Controller owns the bridge sessions, at most one per voice channel and one
// per guild.
type Controller struct {
	logger      *zap.Logger
	provider    realtime.Provider
	transport   Transport
	maxSessions int
	sessionCfg  SessionConfig

	mu        sync.Mutex
	sessions  map[ChannelRef]*Session
	listeners []ClosedListener
	closed    bool
}

func NewController(logger *zap.Logger, cfg config.BridgeConfig, provider realtime.Provider, transport Transport) *Controller {
	return &Controller{
		logger:      logger.Named("bridge"),
		provider:    provider,
		transport:   transport,
		maxSessions: cfg.MaxConcurrentSessions,
		sessionCfg: SessionConfig{
			InboundBuffer:  cfg.InboundBuffer,
			OutboundBuffer: cfg.OutboundBuffer,
			IdleTimeout:    cfg.ParticipantIdleTimeout,
			DrainTimeout:   cfg.DrainTimeout,
			DebugAudioDir:  cfg.DebugAudioDir,
		},
		sessions: make(map[ChannelRef]*Session),
	}
}

// Start bridges the channel and returns its handle. Starting a channel that
// is already connecting or active returns the existing handle; starting a
// draining channel waits for it to close first.
func (c *Controller) Start(ctx context.Context, ch ChannelRef) (Handle, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()

			return Handle{}, ErrSessionClosed
		}

		if existing, ok := c.sessions[ch]; ok {
			c.mu.Unlock()

			switch existing.State() {
			case StateIdle, StateConnecting, StateActive:
				return existing.awaitReady(ctx)
			default:
				select {
				case <-existing.Done():
					c.forget(existing)
				case <-ctx.Done():
					return Handle{}, ctx.Err()
				}

				continue
			}
		}

		for ref := range c.sessions {
			if ref.GuildID == ch.GuildID {
				c.mu.Unlock()

				return Handle{}, ErrGuildBusy
			}
		}
		if c.maxSessions > 0 && len(c.sessions) >= c.maxSessions {
			c.mu.Unlock()

			return Handle{}, ErrMaxSessionsReached
		}

		s := newSession(c.logger, Handle{ID: uuid.NewString(), Channel: ch},
			c.provider, c.transport, c.sessionCfg, c.sessionClosed)
		c.sessions[ch] = s
		c.mu.Unlock()

		metrics.ActiveSessions.Inc()
		c.logger.Info("Starting voice bridge session",
			zap.String("session_id", s.handle.ID),
			zap.String("guild_id", ch.GuildID.String()),
			zap.String("channel_id", ch.ChannelID.String()))

		if err := s.open(ctx); err != nil {
			return Handle{}, err
		}

		return s.handle, nil
	}
}

func (c *Controller) sessionClosed(s *Session, cause error) {
	c.forget(s)
	metrics.ActiveSessions.Dec()

	c.mu.Lock()
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	info := s.Info()
	for _, l := range listeners {
		l(info, cause)
	}
}

// forget drops s from the registry if it is still the channel's session.
func (c *Controller) forget(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessions[s.handle.Channel] == s {
		delete(c.sessions, s.handle.Channel)
	}
}

func (c *Controller) session(h Handle) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[h.Channel]
	if !ok || s.handle.ID != h.ID {
		return nil, ErrSessionNotFound
	}

	return s, nil
}

// Stop drains and closes the session.
func (c *Controller) Stop(ctx context.Context, h Handle) error {
	s, err := c.session(h)
	if err != nil {
		return err
	}

	return s.Stop(ctx)
}

// Interrupt performs a barge-in on the session.
func (c *Controller) Interrupt(ctx context.Context, h Handle) error {
	s, err := c.session(h)
	if err != nil {
		return err
	}

	return s.Interrupt(ctx)
}

// SendText asks the session's AI to answer text out loud.
func (c *Controller) SendText(ctx context.Context, h Handle, text string) error {
	s, err := c.session(h)
	if err != nil {
		return err
	}

	return s.SendText(ctx, text)
}

// RemoveParticipant tears down a participant stream of the session.
func (c *Controller) RemoveParticipant(h Handle, id ParticipantID) bool {
	s, err := c.session(h)
	if err != nil {
		return false
	}

	return s.RemoveParticipant(id)
}

// Status returns the state of the session, or StateClosed for a handle that
// no longer refers to a live session.
func (c *Controller) Status(h Handle) State {
	s, err := c.session(h)
	if err != nil {
		return StateClosed
	}

	return s.State()
}

// Info returns a snapshot of the session.
func (c *Controller) Info(h Handle) (SessionInfo, error) {
	s, err := c.session(h)
	if err != nil {
		return SessionInfo{}, err
	}

	return s.Info(), nil
}

// Lookup returns the handle of the guild's session.
func (c *Controller) Lookup(guildID discord.GuildID) (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for ref, s := range c.sessions {
		if ref.GuildID == guildID {
			return s.handle, true
		}
	}

	return Handle{}, false
}

// Sessions returns a snapshot of every registered session, oldest first.
func (c *Controller) Sessions() []SessionInfo {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	slices.SortFunc(infos, func(a, b SessionInfo) int {
		return a.StartedAt.Compare(b.StartedAt)
	})

	return infos
}

// ActiveSessions returns the number of registered sessions.
func (c *Controller) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.sessions)
}

// OnClosed registers a listener for closed sessions.
func (c *Controller) OnClosed(l ClosedListener) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.listeners = append(c.listeners, l)
}

// Shutdown stops every session and refuses new ones.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	c.logger.Info("Stopping all voice bridge sessions", zap.Int("count", len(sessions)))

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			return s.Stop(ctx)
		})
	}

	return g.Wait()
}
