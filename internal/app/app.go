// Package app assembles the application and runs its lifecycle.
package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/discord-voice-bridge/internal/bot"
)

// Application represents the main application with its lifecycle.
type Application struct {
	app *fx.App
}

// New creates a new Application with the provided modules and options.
func New(modules ...fx.Option) *Application {
	options := append(modules, fx.Invoke(registerLifecycleHooks))

	return &Application{
		app: fx.New(options...),
	}
}

// Err reports a failure to build the dependency graph.
func (a *Application) Err() error {
	return a.app.Err()
}

// Start starts every module in dependency order.
func (a *Application) Start(ctx context.Context) error {
	return a.app.Start(ctx)
}

// Stop gracefully stops the application. Voice sessions drain before the
// Discord session closes.
func (a *Application) Stop(ctx context.Context) error {
	return a.app.Stop(ctx)
}

// registerLifecycleHooks starts the bot once the Discord session is open.
func registerLifecycleHooks(lc fx.Lifecycle, b *bot.Bot, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := b.Start(ctx); err != nil {
				logger.Error("Failed to start bot", zap.Error(err))

				return err
			}
			logger.Info("Voice bridge bot started")

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping voice bridge bot")

			return b.Stop(ctx)
		},
	})
}
