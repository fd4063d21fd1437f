// Package llm wires the pluggable chat-completion providers (OpenAI,
// Anthropic, Google) behind one interface, used by the matching engine's
// validation gate (C13), the synonym service (C6), and the retrieval
// answer engine (C11).
package llm

import "context"

// Provider is a minimal single-turn chat completion client. The domain
// here never needs multi-turn conversation, streaming, or tool calling —
// only "given this system and user prompt, produce text" — so the
// teacher's fuller streaming/tool-call Provider interface is trimmed down
// to what these components actually call.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Name() string
}
