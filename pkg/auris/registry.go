package auris

import (
	"fmt"
	"strings"
	"time"

	"github.com/auriskit/auris/pkg/adapters/stt"
	"github.com/auriskit/auris/pkg/adapters/tts"
	"github.com/auriskit/auris/pkg/configutil"
	"github.com/auriskit/auris/pkg/llm"
	"github.com/auriskit/auris/pkg/providers/deepgram"
	"github.com/auriskit/auris/pkg/providers/elevenlabs"
	"github.com/auriskit/auris/pkg/providers/mock"
	"github.com/auriskit/auris/pkg/providers/openai"
)

type STTFactory func(settings map[string]any) (stt.Transcriber, error)
type TTSFactory func(settings map[string]any) (tts.Synthesizer, error)
type LLMFactory func(settings map[string]any) (llm.Adapter, error)

// ProviderRegistry maps vendor names from config to constructors.
type ProviderRegistry struct {
	stt map[string]STTFactory
	tts map[string]TTSFactory
	llm map[string]LLMFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt: make(map[string]STTFactory),
		tts: make(map[string]TTSFactory),
		llm: make(map[string]LLMFactory),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactory) {
	r.stt[normalize(name)] = factory
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[normalize(name)] = factory
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[normalize(name)] = factory
}

func (r *ProviderRegistry) BuildSTT(cfg VendorConfig) (stt.Transcriber, error) {
	fn := r.stt[normalize(cfg.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", cfg.Provider)
	}
	return fn(cfg.Settings)
}

func (r *ProviderRegistry) BuildTTS(cfg VendorConfig) (tts.Synthesizer, error) {
	fn := r.tts[normalize(cfg.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", cfg.Provider)
	}
	return fn(cfg.Settings)
}

func (r *ProviderRegistry) BuildLLM(cfg VendorConfig) (llm.Adapter, error) {
	fn := r.llm[normalize(cfg.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", cfg.Provider)
	}
	return fn(cfg.Settings)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// DefaultRegistry wires every built-in vendor.
func DefaultRegistry() *ProviderRegistry {
	r := NewProviderRegistry()

	r.RegisterSTT("deepgram", func(settings map[string]any) (stt.Transcriber, error) {
		if err := configutil.ValidateSettings(settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language"},
		}); err != nil {
			return nil, fmt.Errorf("deepgram settings: %w", err)
		}
		var cfg deepgram.Config
		if err := configutil.DecodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return deepgram.New(cfg)
	})
	r.RegisterSTT("mock", func(settings map[string]any) (stt.Transcriber, error) {
		var cfg mock.STTConfig
		if err := configutil.DecodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return mock.NewTranscriber(cfg), nil
	})

	r.RegisterTTS("elevenlabs", func(settings map[string]any) (tts.Synthesizer, error) {
		if err := configutil.ValidateSettings(settings, configutil.Schema{
			Required: []string{"api_key", "voice_id"},
			Optional: []string{"model_id", "output_format", "base_url"},
		}); err != nil {
			return nil, fmt.Errorf("elevenlabs settings: %w", err)
		}
		var cfg elevenlabs.Config
		if err := configutil.DecodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return elevenlabs.New(cfg)
	})
	r.RegisterTTS("mock", func(settings map[string]any) (tts.Synthesizer, error) {
		var raw struct {
			LatencyMS int `mapstructure:"latency_ms"`
		}
		if err := configutil.DecodeSettings(settings, &raw); err != nil {
			return nil, err
		}
		return mock.NewSynthesizer(mock.TTSConfig{
			Latency: time.Duration(raw.LatencyMS) * time.Millisecond,
		}), nil
	})

	r.RegisterLLM("openai", func(settings map[string]any) (llm.Adapter, error) {
		if err := configutil.ValidateSettings(settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "base_url"},
		}); err != nil {
			return nil, fmt.Errorf("openai settings: %w", err)
		}
		var raw struct {
			APIKey  string `mapstructure:"api_key"`
			Model   string `mapstructure:"model"`
			BaseURL string `mapstructure:"base_url"`
		}
		if err := configutil.DecodeSettings(settings, &raw); err != nil {
			return nil, err
		}
		adapter := openai.NewAdapter(raw.APIKey, raw.Model)
		if raw.BaseURL != "" {
			adapter.BaseURL = raw.BaseURL
		}
		return adapter, nil
	})
	r.RegisterLLM("mock", func(settings map[string]any) (llm.Adapter, error) {
		var raw struct {
			ResponseText string   `mapstructure:"response_text"`
			StreamChunks []string `mapstructure:"stream_chunks"`
			ChunkDelayMS int      `mapstructure:"chunk_delay_ms"`
		}
		if err := configutil.DecodeSettings(settings, &raw); err != nil {
			return nil, err
		}
		return mock.NewLLMAdapter(mock.LLMConfig{
			ResponseText: raw.ResponseText,
			StreamChunks: raw.StreamChunks,
			ChunkDelay:   time.Duration(raw.ChunkDelayMS) * time.Millisecond,
		}), nil
	})

	return r
}
