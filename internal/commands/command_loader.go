package commands

import (
	"fmt"

	"github.com/diamondburned/arikawa/v3/api"
	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// commandRegistrar is the part of the Discord API used to publish commands.
type commandRegistrar interface {
	BulkOverwriteGuildCommands(appID discord.AppID, guildID discord.GuildID, cmds []api.CreateCommandData) ([]discord.Command, error)
}

// CommandManager holds the slash commands and registers them with Discord.
type CommandManager struct {
	registrar     commandRegistrar
	applicationID discord.AppID
	logger        *zap.Logger
	commands      map[string]Command
	order         []string
}

// CommandManagerParams holds dependencies for NewCommandManager.
type CommandManagerParams struct {
	fx.In
	Session       *session.Session `optional:"true"`
	ApplicationID discord.AppID
	Logger        *zap.Logger
	Commands      []Command `group:"commands"`
}

// NewCommandManager indexes the provided commands by name. The first command
// registered under a name wins.
func NewCommandManager(params CommandManagerParams) *CommandManager {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cm := &CommandManager{
		applicationID: params.ApplicationID,
		logger:        logger,
		commands:      make(map[string]Command, len(params.Commands)),
	}
	if params.Session != nil {
		cm.registrar = params.Session
	}

	for _, cmd := range params.Commands {
		if cmd == nil {
			continue
		}
		name := cmd.Name()
		if _, exists := cm.commands[name]; exists {
			logger.Warn("Duplicate command name, keeping the first", zap.String("commandName", name))
			continue
		}
		cm.commands[name] = cmd
		cm.order = append(cm.order, name)
	}

	logger.Info("Command manager created", zap.Int("count", len(cm.commands)))

	return cm
}

// GetCommand returns the command registered under name.
func (cm *CommandManager) GetCommand(name string) (Command, bool) {
	cmd, ok := cm.commands[name]

	return cmd, ok
}

// createData describes every command for the Discord API, in registration
// order.
func (cm *CommandManager) createData() []api.CreateCommandData {
	data := make([]api.CreateCommandData, 0, len(cm.order))
	for _, name := range cm.order {
		cmd := cm.commands[name]
		data = append(data, api.CreateCommandData{
			Name:        cmd.Name(),
			Description: cmd.Description(),
			Options:     cmd.Options(),
		})
	}

	return data
}

// RegisterCommands overwrites the guild commands of every listed guild. It
// fails only when no guild accepted the commands.
func (cm *CommandManager) RegisterCommands(guildIDs []discord.GuildID) error {
	cmds := cm.createData()
	if len(cmds) == 0 || len(guildIDs) == 0 || cm.registrar == nil {
		cm.logger.Info("No commands to register", zap.Int("guilds", len(guildIDs)))
		return nil
	}

	var lastErr error
	registeredGuilds := 0
	for _, guildID := range guildIDs {
		registered, err := cm.registrar.BulkOverwriteGuildCommands(cm.applicationID, guildID, cmds)
		if err != nil {
			cm.logger.Error("Failed to bulk overwrite commands for guild",
				zap.Error(err),
				zap.Stringer("applicationID", cm.applicationID),
				zap.Stringer("guildID", guildID))
			lastErr = err
			continue
		}
		registeredGuilds++
		cm.logger.Info("Registered slash commands for guild",
			zap.Int("count", len(registered)),
			zap.Stringer("guildID", guildID))
	}

	if registeredGuilds == 0 {
		return fmt.Errorf("failed to register commands in any guild: %w", lastErr)
	}

	return nil
}

// UnregisterAllCommands removes the guild commands of every listed guild.
func (cm *CommandManager) UnregisterAllCommands(guildIDs []discord.GuildID) {
	if cm.registrar == nil {
		return
	}
	for _, guildID := range guildIDs {
		if _, err := cm.registrar.BulkOverwriteGuildCommands(cm.applicationID, guildID, []api.CreateCommandData{}); err != nil {
			cm.logger.Error("Failed to unregister commands for guild",
				zap.Error(err),
				zap.Stringer("guildID", guildID))
			continue
		}
		cm.logger.Info("Unregistered slash commands for guild", zap.Stringer("guildID", guildID))
	}
}
