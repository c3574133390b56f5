package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/auriskit/auris/pkg/errorsx"
	"github.com/auriskit/auris/pkg/llm"
	"github.com/auriskit/auris/pkg/resilience"
)

type Adapter struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewAdapter(apiKey, model string) *Adapter {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Adapter{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *Adapter) Name() string { return "openai" }

// Stream starts a server-sent-event completion and forwards delta fragments.
// The fragment channel closes on [DONE], on a transport failure, or when ctx
// is cancelled mid-stream; the result channel then reports which of those it
// was. A connection that drops before [DONE] is a truncated generation and
// surfaces as an llm_stream error.
func (a *Adapter) Stream(ctx context.Context, input llm.Context) (<-chan string, <-chan llm.Result, error) {
	body, err := a.buildRequest(input)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", body)
	if err != nil {
		return nil, nil, err
	}
	a.applyHeaders(req)
	resp, err := a.client().Do(req)
	if err != nil {
		return nil, nil, errorsx.Wrap(err, errorsx.ReasonLLMStream)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, nil, resilience.RateLimitError{Provider: "openai", Message: string(msg)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, nil, errorsx.Wrap(errors.New(string(msg)), errorsx.ReasonLLMGenerate)
	}

	out := make(chan string, 128)
	result := make(chan llm.Result, 1)
	go func() {
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		done := false
	scan:
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				done = true
				break
			}
			var chunk map[string]any
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			choices, _ := chunk["choices"].([]any)
			if len(choices) == 0 {
				continue
			}
			first, _ := choices[0].(map[string]any)
			delta, _ := first["delta"].(map[string]any)
			if text, _ := delta["content"].(string); text != "" {
				select {
				case <-ctx.Done():
					break scan
				case out <- text:
				}
			}
		}
		close(out)
		switch {
		case ctx.Err() != nil:
			result <- llm.Result{Cancelled: true}
		case done:
			result <- llm.Result{}
		case scanner.Err() != nil:
			result <- llm.Result{Err: errorsx.Wrap(scanner.Err(), errorsx.ReasonLLMStream)}
		default:
			result <- llm.Result{Err: errorsx.Wrap(errors.New("stream ended before completion"), errorsx.ReasonLLMStream)}
		}
	}()
	return out, result, nil
}

func (a *Adapter) buildRequest(input llm.Context) (*bytes.Buffer, error) {
	req := map[string]any{
		"model":    a.Model,
		"stream":   true,
		"messages": llm.BuildMessages(input),
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func (a *Adapter) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.APIKey)
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

var _ llm.Adapter = (*Adapter)(nil)
