package auris

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	BasePrompt    string              `mapstructure:"base_prompt"`
	Audio         AudioConfig         `mapstructure:"audio"`
	Turn          TurnConfig          `mapstructure:"turn"`
	Chunking      ChunkingConfig      `mapstructure:"chunking"`
	Speech        SpeechConfig        `mapstructure:"speech"`
	Context       ContextConfig       `mapstructure:"context"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Transport     TransportConfig     `mapstructure:"transport"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type AudioConfig struct {
	SampleRate    int     `mapstructure:"sample_rate"`
	VADThreshold  float64 `mapstructure:"vad_threshold"`
	SilenceMS     int     `mapstructure:"silence_ms"`
	MaxSegmentSec int     `mapstructure:"max_segment_sec"`
	PlaybackRate  int     `mapstructure:"playback_rate"`
}

type TurnConfig struct {
	InterruptedHoldMS int     `mapstructure:"interrupted_hold_ms"`
	BargeInThreshold  float64 `mapstructure:"barge_in_threshold"`
	MinBargeInTicks   int     `mapstructure:"min_barge_in_ticks"`
}

type ChunkingConfig struct {
	MinChunkLen int `mapstructure:"min_chunk_len"`
}

type SpeechConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	Concurrency    int  `mapstructure:"concurrency"`
	MaxQueuedAudio int  `mapstructure:"max_queued_audio"`
	WantViseme     bool `mapstructure:"want_viseme"`
}

type ContextConfig struct {
	MaxHistory int `mapstructure:"max_history"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type TransportConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type ObservabilityConfig struct {
	MetricsPath string `mapstructure:"metrics_path"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.vad_threshold", 1000)
	v.SetDefault("audio.silence_ms", 1500)
	v.SetDefault("audio.max_segment_sec", 30)
	v.SetDefault("audio.playback_rate", 44100)
	v.SetDefault("turn.interrupted_hold_ms", 300)
	v.SetDefault("turn.barge_in_threshold", 0.03)
	v.SetDefault("turn.min_barge_in_ticks", 1)
	v.SetDefault("chunking.min_chunk_len", 3)
	v.SetDefault("speech.enabled", true)
	v.SetDefault("speech.concurrency", 3)
	v.SetDefault("speech.max_queued_audio", 3)
	v.SetDefault("context.max_history", 20)
	v.SetDefault("transport.provider", "local")
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("observability.metrics_path", "")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Transport.Settings = expandSettings(cfg.Transport.Settings)
	cfg.BasePrompt = os.ExpandEnv(cfg.BasePrompt)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	if c.Speech.Enabled && strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required when speech is enabled")
	}
	switch strings.TrimSpace(c.Transport.Provider) {
	case "local", "ws":
	default:
		return fmt.Errorf("transport.provider must be local or ws")
	}
	return nil
}

// expandSettings applies ${ENV} expansion so API keys never live in the file.
func expandSettings(settings map[string]any) map[string]any {
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}
