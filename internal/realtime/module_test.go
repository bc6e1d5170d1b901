package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/Raikerian/discord-voice-bridge/internal/config"
	"github.com/Raikerian/discord-voice-bridge/pkg/audio"
)

func TestModule(t *testing.T) {
	cfg := config.Default()
	cfg.Bridge.Provider = config.ProviderGemini

	var provider Provider
	app := fxtest.New(t,
		fx.Supply(cfg, zap.NewNop()),
		Module,
		fx.Populate(&provider),
	)

	app.RequireStart()
	app.RequireStop()

	require.NotNil(t, provider)
	assert.Equal(t, config.ProviderGemini, provider.Name())
}

func TestNewProvider(t *testing.T) {
	tests := map[string]struct {
		provider string
		input    audio.Format
		output   audio.Format
		wantErr  bool
	}{
		"gemini": {
			provider: config.ProviderGemini,
			input:    audio.Mono16k,
			output:   audio.Mono24k,
		},
		"openai": {
			provider: config.ProviderOpenAI,
			input:    audio.Mono24k,
			output:   audio.Mono24k,
		},
		"elevenlabs": {
			provider: config.ProviderElevenLabs,
			input:    audio.Mono16k,
			output:   audio.Mono16k,
		},
		"unknown": {
			provider: "carrier-pigeon",
			wantErr:  true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Bridge.Provider = tt.provider

			p, err := NewProvider(cfg, zap.NewNop())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.provider, p.Name())
			assert.Equal(t, tt.input, p.InputFormat())
			assert.Equal(t, tt.output, p.OutputFormat())
		})
	}
}

func TestRateFromMIME(t *testing.T) {
	tests := map[string]struct {
		mime string
		want int
	}{
		"rate param":        {mime: "audio/pcm;rate=24000", want: 24000},
		"spaces and case":   {mime: "audio/pcm; Rate=16000", want: 16000},
		"no rate":           {mime: "audio/pcm", want: 8000},
		"garbage rate":      {mime: "audio/pcm;rate=fast", want: 8000},
		"other params only": {mime: "audio/L16;channels=1", want: 8000},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, rateFromMIME(tt.mime, 8000))
		})
	}
}

func TestHandlersNilSafe(t *testing.T) {
	var h Handlers

	assert.NotPanics(t, func() {
		h.audio(audio.Frame{})
		h.interrupt()
		h.transcript(RoleUser, "hi")
		h.error(assert.AnError)
		h.close(nil)
	})
}
