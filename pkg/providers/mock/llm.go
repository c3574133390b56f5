package mock

import (
	"context"
	"time"

	"github.com/auriskit/auris/pkg/llm"
)

type LLMConfig struct {
	ResponseText string
	StreamChunks []string
	// ChunkDelay paces fragment delivery to mimic token streaming.
	ChunkDelay time.Duration
	// StreamErr, when set, ends the stream with a failure after all chunks
	// were delivered, mimicking a connection that drops mid-generation.
	StreamErr error
}

type LLMAdapter struct {
	cfg LLMConfig
}

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	if cfg.ResponseText == "" && len(cfg.StreamChunks) == 0 {
		cfg.ResponseText = "mock response"
	}
	return &LLMAdapter{cfg: cfg}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Stream(ctx context.Context, _ llm.Context) (<-chan string, <-chan llm.Result, error) {
	chunks := a.cfg.StreamChunks
	if len(chunks) == 0 {
		chunks = []string{a.cfg.ResponseText}
	}
	out := make(chan string, len(chunks))
	result := make(chan llm.Result, 1)
	go func() {
		defer close(out)
		for _, chunk := range chunks {
			if a.cfg.ChunkDelay > 0 {
				select {
				case <-time.After(a.cfg.ChunkDelay):
				case <-ctx.Done():
					result <- llm.Result{Cancelled: true}
					return
				}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				result <- llm.Result{Cancelled: true}
				return
			}
		}
		result <- llm.Result{Err: a.cfg.StreamErr}
	}()
	return out, result, nil
}

var _ llm.Adapter = (*LLMAdapter)(nil)
