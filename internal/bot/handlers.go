package bot

import (
	"context"
	"time"

	"github.com/diamondburned/arikawa/v3/api"
	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/session"
	"github.com/diamondburned/arikawa/v3/utils/json/option"
	"go.uber.org/zap"

	"github.com/Raikerian/discord-voice-bridge/internal/commands"
)

// commandTimeout bounds a command, including joining a voice channel.
const commandTimeout = 30 * time.Second

func handleInteraction(ctx context.Context, s *session.Session, cm *commands.CommandManager, e *gateway.InteractionCreateEvent, logger *zap.Logger) {
	data, ok := e.Data.(*discord.CommandInteraction)
	if !ok {
		logger.Debug("Received unhandled interaction type", zap.Any("type", e.Data.InteractionType()))
		return
	}

	logger = logger.With(
		zap.String("commandName", data.Name),
		zap.String("user_id", e.SenderID().String()))

	cmd, ok := cm.GetCommand(data.Name)
	if !ok {
		logger.Warn("Unknown command")
		respondText(s, e, "Command not found.", logger)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := cmd.Execute(ctx, s, e, data); err != nil {
		logger.Error("Error executing command", zap.Error(err))
		reportFailure(s, e, err, logger)
		return
	}

	logger.Debug("Command executed successfully")
}

const failureText = "An error occurred while executing the command."

// reportFailure tells the user a command failed. An interaction that already
// has a response gets it edited, since Discord accepts one initial response.
func reportFailure(r commands.Responder, e *gateway.InteractionCreateEvent, err error, logger *zap.Logger) {
	if !commands.Acknowledged(err) {
		respondText(r, e, failureText, logger)
		return
	}

	if _, err := r.EditInteractionResponse(e.AppID, e.Token, api.EditInteractionResponseData{
		Content: option.NewNullableString(failureText),
	}); err != nil {
		logger.Error("Failed to edit interaction response", zap.Error(err))
	}
}

func respondText(r commands.Responder, e *gateway.InteractionCreateEvent, content string, logger *zap.Logger) {
	err := r.RespondInteraction(e.ID, e.Token, api.InteractionResponse{
		Type: api.MessageInteractionWithSource,
		Data: &api.InteractionResponseData{
			Content: option.NewNullableString(content),
			Flags:   discord.EphemeralMessage,
		},
	})
	if err != nil {
		logger.Error("Failed to respond to interaction", zap.Error(err))
	}
}
