// Package discord provides the Discord gateway session and state cache.
package discord

import (
	"context"
	"errors"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/session"
	"github.com/diamondburned/arikawa/v3/state"
	"github.com/diamondburned/arikawa/v3/state/store/defaultstore"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/discord-voice-bridge/internal/config"
)

// Module provides Discord-related dependencies.
var Module = fx.Module("discord",
	fx.Provide(
		NewSession,
		NewState,
		ProvideApplicationID,
	),
)

// intents covers slash commands and voice presence. Voice states also feed
// the state cache used to find members' channels.
const intents = gateway.IntentGuilds | gateway.IntentGuildVoiceStates

// SessionParams holds dependencies for NewSession.
type SessionParams struct {
	fx.In
	Cfg    *config.Config
	LC     fx.Lifecycle
	Logger *zap.Logger
}

// NewSession creates the gateway session and opens it with the app.
func NewSession(params SessionParams) (*session.Session, error) {
	if params.Cfg.Discord.BotToken == "" {
		return nil, errors.New("discord bot token is not set in config")
	}

	s := session.New("Bot " + params.Cfg.Discord.BotToken)
	s.AddIntents(intents)

	params.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			params.Logger.Info("Opening Discord session...")

			return s.Open(ctx)
		},
		OnStop: func(ctx context.Context) error {
			params.Logger.Info("Closing Discord session...")

			return s.Close()
		},
	})

	return s, nil
}

// NewState wraps the session with an in-memory cache. Handlers added to the
// state see events after the cache applied them.
func NewState(s *session.Session, logger *zap.Logger) *state.State {
	st := state.NewFromSession(s, defaultstore.New())
	logger.Debug("Created Discord state with default stores")

	return st
}

// ProvideApplicationID extracts the ApplicationID from config.
func ProvideApplicationID(cfg *config.Config) (discord.AppID, error) {
	if cfg.Discord.ApplicationID == nil || *cfg.Discord.ApplicationID == 0 {
		return 0, errors.New("application ID is not configured or is invalid")
	}

	return discord.AppID(*cfg.Discord.ApplicationID), nil
}
