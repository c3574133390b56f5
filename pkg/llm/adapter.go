package llm

import "context"

// Message is one entry of the conversation history sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Context is the full prompt for one generation call.
type Context struct {
	System   string
	Messages []Message
}

// Result is the terminal outcome of one streamed generation. Cancelled is
// distinct from Err: user-initiated interruption or supersession is an
// expected outcome, never a failure.
type Result struct {
	Cancelled bool
	Err       error
}

// Adapter defines the contract for any language-model vendor implementation.
type Adapter interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Stream starts an incremental generation. Text fragments arrive on the
	// first channel; once it closes, the second (buffered) channel delivers
	// the terminal Result exactly once. A stream that dies before the vendor
	// signals completion must report Err so a truncated generation is never
	// mistaken for a finished one. Cancellation must stop consumption
	// promptly and is reported as Cancelled, not as Err.
	Stream(ctx context.Context, input Context) (<-chan string, <-chan Result, error)
}

// BuildMessages prepends the system prompt, when present, to the history.
func BuildMessages(input Context) []Message {
	if input.System == "" {
		return input.Messages
	}
	out := make([]Message, 0, len(input.Messages)+1)
	out = append(out, Message{Role: "system", Content: input.System})
	return append(out, input.Messages...)
}
