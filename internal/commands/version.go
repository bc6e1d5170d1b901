package commands

import (
	"context"
	"fmt"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/session"
	"go.uber.org/fx"

	"github.com/Raikerian/discord-voice-bridge/internal/metrics"
	"github.com/Raikerian/discord-voice-bridge/internal/realtime"
)

// AppVersion is the version of the application, set at build time.
var AppVersion = "dev"

// VersionCommand reports the build and the AI service in use.
type VersionCommand struct {
	provider string
	sessions metrics.SessionCounter
}

// VersionCommandParams holds dependencies for NewVersionCommand.
type VersionCommandParams struct {
	fx.In
	Provider realtime.Provider
	Sessions metrics.SessionCounter `optional:"true"`
}

func NewVersionCommand(params VersionCommandParams) Command {
	return &VersionCommand{
		provider: params.Provider.Name(),
		sessions: params.Sessions,
	}
}

func (c *VersionCommand) Name() string {
	return "version"
}

func (c *VersionCommand) Description() string {
	return "Displays the bot version and AI service"
}

func (c *VersionCommand) Options() []discord.CommandOption {
	return nil
}

func (c *VersionCommand) Execute(_ context.Context, s *session.Session, e *gateway.InteractionCreateEvent, _ *discord.CommandInteraction) error {
	return respond(s, e, reply{content: c.text()})
}

func (c *VersionCommand) text() string {
	text := fmt.Sprintf("Version: %s\nAI service: `%s`", AppVersion, c.provider)
	if c.sessions != nil {
		text += fmt.Sprintf("\nActive voice sessions: %d", c.sessions.ActiveSessions())
	}

	return text
}
