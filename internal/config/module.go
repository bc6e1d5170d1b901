// Package config provides configuration infrastructure and Fx modules.
package config

import (
	"go.uber.org/fx"
)

// Module provides configuration dependencies. The config Path must be
// supplied by the caller.
var Module = fx.Module("config",
	fx.Provide(LoadConfig),
)
