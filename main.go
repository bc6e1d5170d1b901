// Package main is the entry point of the Discord voice bridge bot.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"

	"github.com/Raikerian/discord-voice-bridge/internal/app"
	"github.com/Raikerian/discord-voice-bridge/internal/bot"
	"github.com/Raikerian/discord-voice-bridge/internal/bridge"
	"github.com/Raikerian/discord-voice-bridge/internal/commands"
	"github.com/Raikerian/discord-voice-bridge/internal/config"
	"github.com/Raikerian/discord-voice-bridge/internal/discord"
	"github.com/Raikerian/discord-voice-bridge/internal/infrastructure"
	"github.com/Raikerian/discord-voice-bridge/internal/metrics"
	"github.com/Raikerian/discord-voice-bridge/internal/realtime"
	"github.com/Raikerian/discord-voice-bridge/internal/voice"
)

const (
	startTimeout = 30 * time.Second
	// stopTimeout leaves room for every session to drain its playback.
	stopTimeout = 30 * time.Second
)

func main() {
	application := app.New(
		// Core modules
		config.Module,
		infrastructure.LoggerModule,
		metrics.Module,

		// External service modules
		discord.Module,
		realtime.Module,
		voice.Module,

		// Application modules
		bridge.Module,
		commands.Module,
		bot.Module,

		fx.Supply(config.DefaultPath()),
		fx.WithLogger(infrastructure.NewFxLoggerAdapter),
	)
	if err := application.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build application: %v\n", err)
		os.Exit(1)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), startTimeout)
	err := application.Start(startCtx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start application: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Printf("Received signal: %s, initiating shutdown.\n", sig)

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	err = application.Stop(stopCtx)
	cancel()

	if err != nil {
		fmt.Printf("Error during shutdown: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Application has shut down gracefully.")
}
