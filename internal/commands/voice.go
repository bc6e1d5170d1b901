package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/session"
	"github.com/diamondburned/arikawa/v3/state"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/discord-voice-bridge/internal/bridge"
)

// Voice subcommands.
const (
	voiceJoin      = "join"
	voiceLeave     = "leave"
	voiceInterrupt = "interrupt"
	voiceStatus    = "status"
	voiceSay       = "say"
)

// Bridge is the session control the voice command needs.
type Bridge interface {
	Start(ctx context.Context, ch bridge.ChannelRef) (bridge.Handle, error)
	Stop(ctx context.Context, h bridge.Handle) error
	Interrupt(ctx context.Context, h bridge.Handle) error
	SendText(ctx context.Context, h bridge.Handle, text string) error
	Lookup(guildID discord.GuildID) (bridge.Handle, bool)
	Info(h bridge.Handle) (bridge.SessionInfo, error)
}

// VoiceStateFinder looks up where a member is connected.
type VoiceStateFinder interface {
	VoiceState(guildID discord.GuildID, userID discord.UserID) (*discord.VoiceState, error)
}

// VoiceCommand controls the voice bridge of a guild.
type VoiceCommand struct {
	logger  *zap.Logger
	bridge  Bridge
	states  VoiceStateFinder
	notices *NoticeChannels
}

// VoiceCommandParams holds dependencies for NewVoiceCommand.
type VoiceCommandParams struct {
	fx.In
	Logger     *zap.Logger
	Controller *bridge.Controller
	State      *state.State
	Notices    *NoticeChannels
}

func NewVoiceCommand(params VoiceCommandParams) Command {
	return newVoiceCommand(params.Logger, params.Controller, params.State, params.Notices)
}

func newVoiceCommand(logger *zap.Logger, b Bridge, states VoiceStateFinder, notices *NoticeChannels) *VoiceCommand {
	return &VoiceCommand{
		logger:  logger,
		bridge:  b,
		states:  states,
		notices: notices,
	}
}

func (c *VoiceCommand) Name() string {
	return "voice"
}

func (c *VoiceCommand) Description() string {
	return "Talk with the AI assistant in your voice channel"
}

func (c *VoiceCommand) Options() []discord.CommandOption {
	return []discord.CommandOption{
		&discord.SubcommandOption{
			OptionName:  voiceJoin,
			Description: "Bring the assistant into your voice channel",
		},
		&discord.SubcommandOption{
			OptionName:  voiceLeave,
			Description: "Finish speaking and leave the voice channel",
		},
		&discord.SubcommandOption{
			OptionName:  voiceInterrupt,
			Description: "Stop the assistant mid-sentence",
		},
		&discord.SubcommandOption{
			OptionName:  voiceStatus,
			Description: "Show the voice session of this server",
		},
		&discord.SubcommandOption{
			OptionName:  voiceSay,
			Description: "Type a message for the assistant to answer out loud",
			Options: []discord.CommandOptionValue{
				&discord.StringOption{
					OptionName:  "text",
					Description: "What to say to the assistant",
					Required:    true,
				},
			},
		},
	}
}

func (c *VoiceCommand) Execute(ctx context.Context, s *session.Session, e *gateway.InteractionCreateEvent, data *discord.CommandInteraction) error {
	return c.execute(ctx, s, e, data)
}

func (c *VoiceCommand) execute(ctx context.Context, r Responder, e *gateway.InteractionCreateEvent, data *discord.CommandInteraction) error {
	if len(data.Options) == 0 {
		return respond(r, e, errorReply("Pick a voice action"))
	}
	sub := data.Options[0]

	if !e.GuildID.IsValid() {
		return respond(r, e, errorReply("Voice commands can only be used in servers"))
	}

	// Joining and draining can outlast the interaction deadline.
	switch sub.Name {
	case voiceJoin:
		return respondLater(r, e, func() reply {
			return c.join(ctx, e.GuildID, e.ChannelID, e.SenderID())
		})
	case voiceLeave:
		return respondLater(r, e, func() reply {
			return c.run(ctx, e.GuildID, sub)
		})
	}

	return respond(r, e, c.run(ctx, e.GuildID, sub))
}

// run handles every subcommand except join.
func (c *VoiceCommand) run(ctx context.Context, guildID discord.GuildID, sub discord.CommandInteractionOption) reply {
	h, ok := c.bridge.Lookup(guildID)
	if !ok {
		return errorReply("No voice session in this server. Use `/voice join` first")
	}

	switch sub.Name {
	case voiceLeave:
		if err := c.bridge.Stop(ctx, h); err != nil {
			return c.failed("stop", h, err)
		}

		return reply{content: "🔇 Left " + h.Channel.ChannelID.Mention()}

	case voiceInterrupt:
		if err := c.bridge.Interrupt(ctx, h); err != nil {
			return c.failed("interrupt", h, err)
		}

		return reply{content: "✋ Stopped the assistant", ephemeral: true}

	case voiceSay:
		text := ""
		for _, opt := range sub.Options {
			if opt.Name == "text" {
				text = strings.TrimSpace(opt.String())
			}
		}
		if text == "" {
			return errorReply("Nothing to say")
		}
		if err := c.bridge.SendText(ctx, h, text); err != nil {
			return c.failed("send text", h, err)
		}

		return reply{content: "💬 " + text}

	case voiceStatus:
		info, err := c.bridge.Info(h)
		if err != nil {
			return c.failed("read status", h, err)
		}

		return reply{content: formatStatus(info)}

	default:
		return errorReply("Unknown action: " + sub.Name)
	}
}

func (c *VoiceCommand) join(ctx context.Context, guildID discord.GuildID, textChannelID discord.ChannelID, userID discord.UserID) reply {
	vs, err := c.states.VoiceState(guildID, userID)
	if err != nil || vs == nil || !vs.ChannelID.IsValid() {
		c.logger.Debug("Member is not in a voice channel",
			zap.String("user_id", userID.String()),
			zap.String("guild_id", guildID.String()),
			zap.Error(err))

		return errorReply("Join a voice channel first")
	}

	ch := bridge.ChannelRef{GuildID: guildID, ChannelID: vs.ChannelID}
	h, err := c.bridge.Start(ctx, ch)
	if err != nil {
		c.logger.Error("Failed to start voice session",
			zap.String("guild_id", guildID.String()),
			zap.String("channel_id", vs.ChannelID.String()),
			zap.Error(err))

		return errorReply(startFailure(err))
	}

	c.notices.Set(h, textChannelID)

	return reply{content: fmt.Sprintf("🎤 Listening in %s. Just talk, I'll answer!", vs.ChannelID.Mention())}
}

func (c *VoiceCommand) failed(action string, h bridge.Handle, err error) reply {
	if errors.Is(err, bridge.ErrSessionNotFound) || errors.Is(err, bridge.ErrSessionClosed) {
		return errorReply("The voice session already ended")
	}

	c.logger.Error("Voice command failed",
		zap.String("action", action),
		zap.String("session_id", h.ID),
		zap.Error(err))

	return errorReply(fmt.Sprintf("Failed to %s: %v", action, err))
}

func startFailure(err error) string {
	switch {
	case errors.Is(err, bridge.ErrGuildBusy):
		return "I'm already in another voice channel in this server"
	case errors.Is(err, bridge.ErrMaxSessionsReached):
		return "Too many voice sessions are running, try again later"
	case errors.Is(err, bridge.ErrConnectionLost):
		return "Could not reach the AI service"
	case errors.Is(err, bridge.ErrTransportFault):
		return "Could not join your voice channel"
	default:
		return "Failed to start the voice session: " + err.Error()
	}
}

func formatStatus(info bridge.SessionInfo) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🎤 Voice session in %s\n", info.Handle.Channel.ChannelID.Mention())
	fmt.Fprintf(&b, "🤖 Provider: `%s`\n", info.Provider)
	fmt.Fprintf(&b, "📶 State: %s\n", info.State)
	fmt.Fprintf(&b, "⏱️ Running for %s", time.Since(info.StartedAt).Round(time.Second))

	if len(info.Participants) > 0 {
		mentions := make([]string, len(info.Participants))
		for i, p := range info.Participants {
			mentions[i] = "<@" + string(p) + ">"
		}
		fmt.Fprintf(&b, "\n👥 Speaking: %s", strings.Join(mentions, ", "))
	}
	if info.Pending > 0 {
		fmt.Fprintf(&b, "\n🔊 Queued: %s", info.Pending.Round(10*time.Millisecond))
	}
	fmt.Fprintf(&b, "\n🏷️ Version: %s", AppVersion)

	return b.String()
}
