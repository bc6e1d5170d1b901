// Package voice connects the bridge to Discord voice channels.
package voice

import (
	"go.uber.org/fx"

	"github.com/Raikerian/discord-voice-bridge/internal/bridge"
)

// Module provides the Discord voice Transport.
var Module = fx.Module("voice",
	fx.Provide(
		NewTransport,
		func(t *Transport) bridge.Transport { return t },
	),
)
