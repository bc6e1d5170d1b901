package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Raikerian/discord-voice-bridge/internal/bridge"
	"github.com/Raikerian/discord-voice-bridge/internal/config"
)

// Sessions is the part of the bridge controller presence tracking drives.
type Sessions interface {
	Start(ctx context.Context, ch bridge.ChannelRef) (bridge.Handle, error)
	Stop(ctx context.Context, h bridge.Handle) error
	SendText(ctx context.Context, h bridge.Handle, text string) error
	RemoveParticipant(h bridge.Handle, id bridge.ParticipantID) bool
	Lookup(guildID discord.GuildID) (bridge.Handle, bool)
}

// VoiceStateLister lists the cached voice states of a guild.
type VoiceStateLister interface {
	VoiceStates(guildID discord.GuildID) ([]discord.VoiceState, error)
}

type memberKey struct {
	guild discord.GuildID
	user  discord.UserID
}

// Presence follows members in and out of voice channels. It joins with the
// first member when auto-join is on, greets newcomers through the AI, tears
// down the streams of members who leave and leaves an empty channel.
type Presence struct {
	logger   *zap.Logger
	cfg      config.BridgeConfig
	sessions Sessions
	states   VoiceStateLister
	forget   func(ch bridge.ChannelRef, userID discord.UserID)
	self     func() discord.UserID

	greeted *lru.Cache[memberKey, struct{}]

	mu    sync.Mutex
	where map[memberKey]discord.ChannelID
}

func NewPresence(
	logger *zap.Logger,
	cfg config.BridgeConfig,
	sessions Sessions,
	states VoiceStateLister,
	forget func(bridge.ChannelRef, discord.UserID),
	self func() discord.UserID,
) (*Presence, error) {
	greeted, err := lru.New[memberKey, struct{}](cfg.GreetedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create greeting cache: %w", err)
	}

	if forget == nil {
		forget = func(bridge.ChannelRef, discord.UserID) {}
	}

	return &Presence{
		logger:   logger.Named("presence"),
		cfg:      cfg,
		sessions: sessions,
		states:   states,
		forget:   forget,
		self:     self,
		greeted:  greeted,
		where:    make(map[memberKey]discord.ChannelID),
	}, nil
}

// OnVoiceState handles a voice state update after the state cache applied it.
func (p *Presence) OnVoiceState(ctx context.Context, e *gateway.VoiceStateUpdateEvent) {
	if !e.GuildID.IsValid() {
		return
	}

	if e.UserID == p.self() {
		p.onSelf(ctx, e)
		return
	}
	if e.Member != nil && e.Member.User.Bot {
		return
	}

	key := memberKey{guild: e.GuildID, user: e.UserID}

	p.mu.Lock()
	before := p.where[key]
	if e.ChannelID.IsValid() {
		p.where[key] = e.ChannelID
	} else {
		delete(p.where, key)
	}
	p.mu.Unlock()

	// Mute and deafen toggles keep the channel.
	if before == e.ChannelID {
		return
	}

	if before.IsValid() {
		p.left(ctx, key, before)
	}
	if e.ChannelID.IsValid() {
		p.joined(ctx, key, e.ChannelID, displayName(e))
	}
}

// onSelf stops the session when the bot was removed from its channel.
func (p *Presence) onSelf(ctx context.Context, e *gateway.VoiceStateUpdateEvent) {
	if e.ChannelID.IsValid() {
		return
	}

	h, ok := p.sessions.Lookup(e.GuildID)
	if !ok {
		return
	}

	p.logger.Info("Bot left the voice channel, stopping session",
		zap.String("session_id", h.ID),
		zap.String("guild_id", e.GuildID.String()))

	// Stop may wait on this very disconnect; never block the event.
	go func() {
		if err := p.sessions.Stop(context.WithoutCancel(ctx), h); err != nil {
			p.logger.Debug("Stop after disconnect", zap.Error(err))
		}
	}()
}

func (p *Presence) joined(ctx context.Context, key memberKey, channelID discord.ChannelID, name string) {
	h, ok := p.sessions.Lookup(key.guild)
	if ok && h.Channel.ChannelID != channelID {
		return
	}

	if !ok {
		if !p.cfg.AutoJoin {
			return
		}

		var err error
		h, err = p.sessions.Start(ctx, bridge.ChannelRef{GuildID: key.guild, ChannelID: channelID})
		if err != nil {
			p.logger.Warn("Auto-join failed",
				zap.String("guild_id", key.guild.String()),
				zap.String("channel_id", channelID.String()),
				zap.Error(err))
			return
		}
	}

	p.greet(ctx, h, key, name)
}

func (p *Presence) greet(ctx context.Context, h bridge.Handle, key memberKey, name string) {
	if !p.cfg.GreetingEnabled || p.cfg.GreetingMessage == "" {
		return
	}
	if ok, _ := p.greeted.ContainsOrAdd(key, struct{}{}); ok {
		return
	}

	text := strings.ReplaceAll(p.cfg.GreetingMessage, "{user}", name)
	if err := p.sessions.SendText(ctx, h, text); err != nil {
		p.greeted.Remove(key)
		p.logger.Warn("Failed to greet member",
			zap.String("session_id", h.ID),
			zap.String("user_id", key.user.String()),
			zap.Error(err))
	}
}

func (p *Presence) left(ctx context.Context, key memberKey, channelID discord.ChannelID) {
	p.greeted.Remove(key)

	h, ok := p.sessions.Lookup(key.guild)
	if !ok || h.Channel.ChannelID != channelID {
		return
	}

	p.sessions.RemoveParticipant(h, bridge.UserParticipant(key.user))
	p.forget(h.Channel, key.user)

	if !p.cfg.AutoLeave || p.humans(key.guild, channelID) > 0 {
		return
	}

	p.logger.Info("Voice channel is empty, leaving",
		zap.String("session_id", h.ID),
		zap.String("channel_id", channelID.String()))

	if err := p.sessions.Stop(ctx, h); err != nil {
		p.logger.Warn("Failed to leave empty voice channel", zap.Error(err))
	}
}

// humans counts the members other than bots in the channel. An unreadable
// cache counts as occupied.
func (p *Presence) humans(guildID discord.GuildID, channelID discord.ChannelID) int {
	states, err := p.states.VoiceStates(guildID)
	if err != nil {
		p.logger.Debug("Failed to list voice states", zap.Error(err))
		return 1
	}

	self := p.self()
	n := 0
	for _, vs := range states {
		if vs.ChannelID != channelID || vs.UserID == self {
			continue
		}
		if vs.Member != nil && vs.Member.User.Bot {
			continue
		}
		n++
	}

	return n
}

func displayName(e *gateway.VoiceStateUpdateEvent) string {
	if e.Member == nil {
		return "there"
	}
	if e.Member.Nick != "" {
		return e.Member.Nick
	}

	return e.Member.User.Username
}
