package bridge

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/discord-voice-bridge/internal/config"
	"github.com/Raikerian/discord-voice-bridge/internal/metrics"
	"github.com/Raikerian/discord-voice-bridge/internal/realtime"
)

// Module provides the bridge Controller.
var Module = fx.Module("bridge",
	fx.Provide(
		ProvideController,
		func(c *Controller) metrics.SessionCounter { return c },
	),
)

// ControllerParams holds dependencies for ProvideController.
type ControllerParams struct {
	fx.In
	Logger    *zap.Logger
	Config    *config.Config
	Provider  realtime.Provider
	Transport Transport
	LC        fx.Lifecycle
}

// ProvideController creates the Controller and stops its sessions when the
// application stops.
func ProvideController(params ControllerParams) *Controller {
	c := NewController(params.Logger, params.Config.Bridge, params.Provider, params.Transport)

	params.LC.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return c.Shutdown(ctx)
		},
	})

	return c
}
