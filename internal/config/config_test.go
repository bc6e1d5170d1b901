package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raikerian/discord-voice-bridge/internal/config"
)

func TestParse_DefaultsAndOverrides(t *testing.T) {
	cfg, err := config.Parse([]byte(`
discord:
  bot_token: token
  application_id: 1234
  guild_ids: ["42", "not-a-number"]
bridge:
  provider: Gemini
  auto_join: false
  drain_timeout: 750ms
gemini:
  api_key: key
`))
	require.NoError(t, err)

	assert.Equal(t, config.ProviderGemini, cfg.Bridge.Provider)
	assert.False(t, cfg.Bridge.AutoJoin)
	assert.True(t, cfg.Bridge.AutoLeave)
	assert.Equal(t, 750*time.Millisecond, cfg.Bridge.DrainTimeout)
	assert.Equal(t, 2*time.Second, cfg.Bridge.OutboundBuffer)
	assert.Equal(t, "Puck", cfg.Gemini.Voice)
	assert.Equal(t, 10*time.Second, cfg.Gemini.SetupTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NotNil(t, cfg.Discord.ApplicationID)
	assert.Equal(t, discord.Snowflake(1234), *cfg.Discord.ApplicationID)

	ids, errs := cfg.GuildIDs()
	assert.Equal(t, []discord.GuildID{42}, ids)
	assert.Len(t, errs, 1)
}

func TestParse_EnvironmentSecrets(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "env-token")
	t.Setenv("ELEVENLABS_API_KEY", "el-key")
	t.Setenv("ELEVENLABS_AGENT_ID", "agent")

	cfg, err := config.Parse([]byte(`
discord:
  bot_token: file-token
bridge:
  provider: elevenlabs
`))
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Discord.BotToken)
	assert.Equal(t, "el-key", cfg.ElevenLabs.APIKey)
	assert.Equal(t, "agent", cfg.ElevenLabs.AgentID)
	assert.Equal(t, 16_000, cfg.ElevenLabs.OutputSampleRate)
}

func TestParse_Validation(t *testing.T) {
	tests := map[string]struct {
		yaml    string
		wantErr string
	}{
		"unknown provider": {
			yaml:    "bridge:\n  provider: watson\n",
			wantErr: "unknown bridge.provider",
		},
		"gemini without key": {
			yaml:    "bridge:\n  provider: gemini\n",
			wantErr: "gemini.api_key",
		},
		"openai without key": {
			yaml:    "bridge:\n  provider: openai\n",
			wantErr: "openai.api_key",
		},
		"elevenlabs without agent": {
			yaml:    "bridge:\n  provider: elevenlabs\nelevenlabs:\n  api_key: k\n",
			wantErr: "elevenlabs.agent_id",
		},
		"elevenlabs odd rate": {
			yaml:    "bridge:\n  provider: elevenlabs\nelevenlabs:\n  api_key: k\n  agent_id: a\n  output_sample_rate: 22050\n",
			wantErr: "output_sample_rate",
		},
		"malformed yaml": {
			yaml:    "bridge: [",
			wantErr: "failed to parse config",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"OPENAI_API_KEY", "GOOGLE_API_KEY", "ELEVENLABS_API_KEY", "ELEVENLABS_AGENT_ID"} {
				t.Setenv(key, "")
			}

			_, err := config.Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("bridge:\n  provider: openai\nopenai:\n  api_key: k\n"), 0o600))

		cfg, err := config.LoadConfig(config.Path(path))
		require.NoError(t, err)
		assert.Equal(t, config.ProviderOpenAI, cfg.Bridge.Provider)
		assert.Equal(t, "alloy", cfg.OpenAI.Voice)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.LoadConfig(config.Path(filepath.Join(t.TempDir(), "nope.yaml")))
		assert.Error(t, err)
	})

	t.Run("default path honours CONFIG_PATH", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", "/etc/bridge.yaml")
		assert.Equal(t, config.Path("/etc/bridge.yaml"), config.DefaultPath())
	})
}
