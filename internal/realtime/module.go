package realtime

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/discord-voice-bridge/internal/config"
)

// Module provides the configured realtime Provider.
var Module = fx.Module("realtime",
	fx.Provide(NewProvider),
)

// NewProvider creates the provider selected by bridge.provider.
func NewProvider(cfg *config.Config, logger *zap.Logger) (Provider, error) {
	var p Provider
	switch cfg.Bridge.Provider {
	case config.ProviderGemini:
		p = NewGeminiProvider(cfg.Gemini, logger)
	case config.ProviderOpenAI:
		p = NewOpenAIProvider(cfg.OpenAI, logger)
	case config.ProviderElevenLabs:
		p = NewElevenLabsProvider(cfg.ElevenLabs, logger)
	default:
		return nil, fmt.Errorf("unknown realtime provider %q", cfg.Bridge.Provider)
	}

	logger.Info("Realtime provider created successfully.",
		zap.String("provider", p.Name()),
		zap.Stringer("input_format", p.InputFormat()),
		zap.Stringer("output_format", p.OutputFormat()))

	return p, nil
}
