package llmloop

import "context"

// PartKind names one streamed fragment of a generation (spec.md §4.5,
// "response:sse{ part, requestOffset }").
type PartKind string

const (
	PartTextStart        PartKind = "text-start"
	PartTextDelta        PartKind = "text-delta"
	PartTextEnd          PartKind = "text-end"
	PartResponseMetadata PartKind = "response-metadata"
	PartFinish           PartKind = "finish"
)

// Usage is the token accounting reported on a finish part.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Part is one fragment of a streamed generation, wire-encoded verbatim as
// the payload of an llm-loop:response:sse event's "part" field.
type Part struct {
	Kind     PartKind       `json:"kind"`
	ID       string         `json:"id,omitempty"`
	Delta    string         `json:"delta,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Usage    *Usage         `json:"usage,omitempty"`
}

// LanguageModel is the capability boundary a concrete provider adapter
// (Anthropic, OpenAI, ...) implements (spec.md §4.5, "resolved by the
// adapter"; §6, "languageModel" configuration). Tool-use and thinking-block
// machinery are deliberately out of scope here: this runtime's mechanism
// for tool-like behavior is the Codemode processor's sandboxed JavaScript
// evaluation, not LLM-native tool calling, so the adapter only needs to
// stream plain text.
type LanguageModel interface {
	// Stream opens a streaming generation over history (plus an optional
	// systemPrompt) and returns a channel of Parts in the order they were
	// produced, and a channel that receives at most one error. Both
	// channels close when the generation ends, whether by completion,
	// cancellation of ctx, or provider failure. Cancelling ctx must stop
	// the underlying request promptly (spec.md §4.5, "ActiveRequest" /
	// interrupt propagation).
	Stream(ctx context.Context, systemPrompt string, history []Message) (<-chan Part, <-chan error, error)
}
