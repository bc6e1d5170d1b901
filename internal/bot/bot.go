// Package bot wires Discord events to the slash commands and the voice
// bridge.
package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/session"
	"github.com/diamondburned/arikawa/v3/state"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/discord-voice-bridge/internal/bridge"
	"github.com/Raikerian/discord-voice-bridge/internal/commands"
	"github.com/Raikerian/discord-voice-bridge/internal/config"
	"github.com/Raikerian/discord-voice-bridge/internal/voice"
)

// Bot represents the Discord bot.
type Bot struct {
	session    *session.Session
	state      *state.State
	cfg        *config.Config
	cmdManager *commands.CommandManager
	controller *bridge.Controller
	notices    *commands.NoticeChannels
	presence   *Presence
	logger     *zap.Logger

	removeHandlers []func()
}

// NewBotParameters holds dependencies for NewBot.
type NewBotParameters struct {
	fx.In

	Cfg        *config.Config
	Session    *session.Session
	State      *state.State
	Logger     *zap.Logger
	CmdManager *commands.CommandManager
	Controller *bridge.Controller
	Transport  *voice.Transport
	Notices    *commands.NoticeChannels
}

// NewBot creates the bot and subscribes it to gateway events.
func NewBot(params NewBotParameters) (*Bot, error) {
	if params.Session == nil || params.State == nil {
		return nil, errors.New("discord session provided to NewBot is nil")
	}
	if params.Cfg.Discord.ApplicationID == nil || *params.Cfg.Discord.ApplicationID == 0 {
		return nil, errors.New("application ID is not set or is zero in config")
	}

	b := &Bot{
		session:    params.Session,
		state:      params.State,
		cfg:        params.Cfg,
		cmdManager: params.CmdManager,
		controller: params.Controller,
		notices:    params.Notices,
		logger:     params.Logger,
	}

	presence, err := NewPresence(params.Logger, params.Cfg.Bridge, params.Controller, params.State,
		params.Transport.Forget, b.selfID)
	if err != nil {
		return nil, err
	}
	b.presence = presence

	b.removeHandlers = append(b.removeHandlers,
		params.Session.AddHandler(func(e *gateway.InteractionCreateEvent) {
			handleInteraction(context.Background(), params.Session, b.cmdManager, e, params.Logger)
		}),
		// State handlers run after the cache applied the event.
		params.State.AddHandler(func(e *gateway.VoiceStateUpdateEvent) {
			b.presence.OnVoiceState(context.Background(), e)
		}),
	)
	params.Controller.OnClosed(b.sessionClosed)

	params.Logger.Info("NewBot created successfully")

	return b, nil
}

func (b *Bot) selfID() discord.UserID {
	me, err := b.state.Me()
	if err != nil {
		return 0
	}

	return me.ID
}

// sessionClosed tells the channel that started a session why it ended.
func (b *Bot) sessionClosed(info bridge.SessionInfo, cause error) {
	channelID := b.notices.Take(info.Handle)
	if cause == nil {
		return
	}

	msg := "⚠️ The voice session ended unexpectedly: "
	switch {
	case errors.Is(cause, bridge.ErrConnectionLost):
		msg += "lost the connection to the AI service."
	case errors.Is(cause, bridge.ErrTransportFault):
		msg += "lost the voice connection."
	default:
		msg += cause.Error()
	}
	msg += " Use `/voice join` to start again."

	if _, err := b.session.SendMessage(channelID, msg); err != nil {
		b.logger.Warn("Failed to send session notice",
			zap.String("session_id", info.Handle.ID),
			zap.String("channel_id", channelID.String()),
			zap.Error(err))
	}
}

// Start registers the slash commands in the configured guilds.
func (b *Bot) Start(_ context.Context) error {
	var guildIDs []discord.GuildID
	for _, idStr := range b.cfg.Discord.GuildIDs {
		sf, err := discord.ParseSnowflake(idStr)
		if err != nil {
			b.logger.Error("Failed to parse guild ID", zap.String("guildID", idStr), zap.Error(err))
			continue
		}
		guildIDs = append(guildIDs, discord.GuildID(sf))
	}
	if len(guildIDs) == 0 {
		b.logger.Warn("No guild IDs configured, slash commands will not be registered")
	}

	if err := b.cmdManager.RegisterCommands(guildIDs); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	return nil
}

// Stop detaches the bot from gateway events. Sessions are stopped by the
// bridge module.
func (b *Bot) Stop(_ context.Context) error {
	for _, rm := range b.removeHandlers {
		rm()
	}
	b.removeHandlers = nil

	return nil
}
