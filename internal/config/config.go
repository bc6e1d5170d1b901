package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"gopkg.in/yaml.v3"
)

// Supported realtime AI providers.
const (
	ProviderGemini     = "gemini"
	ProviderOpenAI     = "openai"
	ProviderElevenLabs = "elevenlabs"
)

// DiscordConfig stores Discord specific configurations.
type DiscordConfig struct {
	BotToken      string             `yaml:"bot_token"`
	ApplicationID *discord.Snowflake `yaml:"application_id"`
	GuildIDs      []string           `yaml:"guild_ids"`
}

// BridgeConfig controls the audio bridge and the bot behavior around it.
type BridgeConfig struct {
	Provider              string `yaml:"provider"`
	MaxConcurrentSessions int    `yaml:"max_concurrent_sessions"`

	AutoJoin         bool   `yaml:"auto_join"`
	AutoLeave        bool   `yaml:"auto_leave"`
	GreetingEnabled  bool   `yaml:"greeting_enabled"`
	GreetingMessage  string `yaml:"greeting_message"`
	GreetedCacheSize int    `yaml:"greeted_cache_size"`

	ParticipantIdleTimeout time.Duration `yaml:"participant_idle_timeout"`
	InboundBuffer          time.Duration `yaml:"inbound_buffer"`
	OutboundBuffer         time.Duration `yaml:"outbound_buffer"`
	DrainTimeout           time.Duration `yaml:"drain_timeout"`

	OpusBitrate   int    `yaml:"opus_bitrate"`
	DebugAudioDir string `yaml:"debug_audio_dir"`
}

// OpenAIConfig stores OpenAI Realtime configurations.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	Voice        string `yaml:"voice"`
	Instructions string `yaml:"instructions"`
}

// GeminiConfig stores Gemini Live configurations.
type GeminiConfig struct {
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	Voice             string        `yaml:"voice"`
	SystemInstruction string        `yaml:"system_instruction"`
	BaseURL           string        `yaml:"base_url"`
	SetupTimeout      time.Duration `yaml:"setup_timeout"`
}

// ElevenLabsConfig stores ElevenLabs Conversational AI configurations.
type ElevenLabsConfig struct {
	APIKey           string `yaml:"api_key"`
	AgentID          string `yaml:"agent_id"`
	BaseURL          string `yaml:"base_url"`
	OutputSampleRate int    `yaml:"output_sample_rate"`
}

// MetricsConfig controls the Prometheus/health HTTP listener.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Config stores the application configuration.
type Config struct {
	Discord    DiscordConfig    `yaml:"discord"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// Path is the location of the YAML config file.
type Path string

// DefaultPath returns CONFIG_PATH or config.yaml.
func DefaultPath() Path {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return Path(p)
	}

	return "config.yaml"
}

// LoadConfig loads the configuration from the given file path, fills in
// defaults, applies environment overrides and validates the result.
func LoadConfig(filePath Path) (*Config, error) {
	data, err := os.ReadFile(string(filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", filePath, err)
	}

	return Parse(data)
}

// Parse decodes a YAML document into a ready-to-use Config.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a Config with every optional field set.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Provider:               ProviderGemini,
			MaxConcurrentSessions:  5,
			AutoJoin:               true,
			AutoLeave:              true,
			GreetingEnabled:        true,
			GreetingMessage:        "Hello {user}! I'm your AI assistant. How can I help you today?",
			GreetedCacheSize:       1000,
			ParticipantIdleTimeout: 2 * time.Second,
			InboundBuffer:          time.Second,
			OutboundBuffer:         2 * time.Second,
			DrainTimeout:           5 * time.Second,
			OpusBitrate:            64000,
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-realtime-preview",
			Voice: "alloy",
		},
		Gemini: GeminiConfig{
			Model:             "gemini-2.5-flash-native-audio-preview-12-2025",
			Voice:             "Puck",
			SystemInstruction: "You are a helpful AI assistant in a Discord voice channel. Be conversational, friendly, and concise in your responses. Keep responses brief since this is a voice conversation.",
			BaseURL:           "wss://generativelanguage.googleapis.com/ws",
			SetupTimeout:      10 * time.Second,
		},
		ElevenLabs: ElevenLabsConfig{
			BaseURL:          "wss://api.elevenlabs.io/v1/convai/conversation",
			OutputSampleRate: 16_000,
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9090",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// applyEnv lets secrets come from the environment instead of the file.
func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	override(&c.Discord.BotToken, "DISCORD_BOT_TOKEN")
	override(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	override(&c.Gemini.APIKey, "GOOGLE_API_KEY")
	override(&c.ElevenLabs.APIKey, "ELEVENLABS_API_KEY")
	override(&c.ElevenLabs.AgentID, "ELEVENLABS_AGENT_ID")
}

// applyDefaults repairs zero values left by a sparse file.
func (c *Config) applyDefaults() {
	d := Default()

	c.Bridge.Provider = strings.ToLower(strings.TrimSpace(c.Bridge.Provider))
	if c.Bridge.Provider == "" {
		c.Bridge.Provider = d.Bridge.Provider
	}
	if c.Bridge.MaxConcurrentSessions <= 0 {
		c.Bridge.MaxConcurrentSessions = d.Bridge.MaxConcurrentSessions
	}
	if c.Bridge.GreetedCacheSize <= 0 {
		c.Bridge.GreetedCacheSize = d.Bridge.GreetedCacheSize
	}
	if c.Bridge.ParticipantIdleTimeout <= 0 {
		c.Bridge.ParticipantIdleTimeout = d.Bridge.ParticipantIdleTimeout
	}
	if c.Bridge.InboundBuffer <= 0 {
		c.Bridge.InboundBuffer = d.Bridge.InboundBuffer
	}
	if c.Bridge.OutboundBuffer <= 0 {
		c.Bridge.OutboundBuffer = d.Bridge.OutboundBuffer
	}
	if c.Bridge.DrainTimeout <= 0 {
		c.Bridge.DrainTimeout = d.Bridge.DrainTimeout
	}
	if c.Gemini.SetupTimeout <= 0 {
		c.Gemini.SetupTimeout = d.Gemini.SetupTimeout
	}
	if c.ElevenLabs.OutputSampleRate == 0 {
		c.ElevenLabs.OutputSampleRate = d.ElevenLabs.OutputSampleRate
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// Validate checks that the selected provider can be used.
func (c *Config) Validate() error {
	switch c.Bridge.Provider {
	case ProviderGemini:
		if c.Gemini.APIKey == "" {
			return errors.New("gemini.api_key (or GOOGLE_API_KEY) is required for the gemini provider")
		}
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			return errors.New("openai.api_key (or OPENAI_API_KEY) is required for the openai provider")
		}
	case ProviderElevenLabs:
		if c.ElevenLabs.APIKey == "" || c.ElevenLabs.AgentID == "" {
			return errors.New("elevenlabs.api_key and elevenlabs.agent_id are required for the elevenlabs provider")
		}
		switch c.ElevenLabs.OutputSampleRate {
		case 16_000, 24_000, 48_000:
		default:
			return fmt.Errorf("elevenlabs.output_sample_rate %d is not supported", c.ElevenLabs.OutputSampleRate)
		}
	default:
		return fmt.Errorf("unknown bridge.provider %q", c.Bridge.Provider)
	}

	return nil
}

// GuildIDs parses the configured guild IDs, skipping invalid entries.
func (c *Config) GuildIDs() ([]discord.GuildID, []error) {
	var (
		ids  []discord.GuildID
		errs []error
	)
	for _, raw := range c.Discord.GuildIDs {
		sf, err := discord.ParseSnowflake(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("guild id %q: %w", raw, err))
			continue
		}
		ids = append(ids, discord.GuildID(sf))
	}

	return ids, errs
}
