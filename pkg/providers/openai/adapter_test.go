package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/auriskit/auris/pkg/errorsx"
	"github.com/auriskit/auris/pkg/llm"
	"github.com/auriskit/auris/pkg/resilience"
)

func sseHandler(lines []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func newTestAdapter(server *httptest.Server) *Adapter {
	a := NewAdapter("test-key", "")
	a.BaseURL = server.URL
	a.Client = server.Client()
	return a
}

func drainStream(t *testing.T, fragments <-chan string, results <-chan llm.Result) (string, llm.Result) {
	t.Helper()
	var full string
	for f := range fragments {
		full += f
	}
	select {
	case res := <-results:
		return full, res
	case <-time.After(time.Second):
		t.Fatal("no terminal result delivered")
		return "", llm.Result{}
	}
}

func delta(text string) string {
	return fmt.Sprintf(`{"choices":[{"delta":{"content":%q}}]}`, text)
}

func TestStreamCompletesOnDone(t *testing.T) {
	server := httptest.NewServer(sseHandler([]string{delta("Hello "), delta("there."), "[DONE]"}))
	defer server.Close()

	fragments, results, err := newTestAdapter(server).Stream(context.Background(), llm.Context{})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	full, res := drainStream(t, fragments, results)
	if full != "Hello there." {
		t.Fatalf("full text %q", full)
	}
	if res.Err != nil || res.Cancelled {
		t.Fatalf("terminal result %+v", res)
	}
}

func TestTruncatedStreamReportsError(t *testing.T) {
	// The connection drops after one delta, before [DONE]: the caller must
	// see a failure, not a clean completion carrying half a response.
	server := httptest.NewServer(sseHandler([]string{delta("It's sunny")}))
	defer server.Close()

	fragments, results, err := newTestAdapter(server).Stream(context.Background(), llm.Context{})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	full, res := drainStream(t, fragments, results)
	if full != "It's sunny" {
		t.Fatalf("full text %q", full)
	}
	if res.Err == nil {
		t.Fatal("truncated stream reported no error")
	}
	if res.Cancelled {
		t.Fatal("truncation reported as cancellation")
	}
	if !errorsx.HasReason(res.Err, errorsx.ReasonLLMStream) {
		t.Fatalf("reason = %s", errorsx.Reason(res.Err))
	}
}

func TestStreamRateLimitSurfacesEagerly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, _, err := newTestAdapter(server).Stream(context.Background(), llm.Context{})
	if !resilience.IsRateLimit(err) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
}
