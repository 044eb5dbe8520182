package llmloop

import (
	"context"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicModel adapts the Anthropic Messages streaming API to
// LanguageModel. Grounded on features/model/anthropic/client.go's
// MessagesClient boundary and stream.go's event-to-chunk conversion, pared
// down to plain text streaming: this runtime's tool-like behavior lives
// entirely in the Codemode sandbox, not in LLM-native tool calls, so none
// of the teacher's tool-use/thinking-block encoding carries over.
type AnthropicModel struct {
	messages    MessagesClient
	model       sdk.Model
	maxTokens   int64
	temperature float64
	hasTemp     bool
}

// MessagesClient captures the subset of the Anthropic SDK client this
// adapter uses, satisfied by *sdk.MessageService so callers can pass either
// a real client or a test double.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicOptions configures an AnthropicModel.
type AnthropicOptions struct {
	Model          string
	MaxTokens      int64
	Temperature    float64
	HasTemperature bool
}

// NewAnthropicModel builds an AnthropicModel over an already-constructed
// MessagesClient (or *sdk.MessageService).
func NewAnthropicModel(messages MessagesClient, opts AnthropicOptions) *AnthropicModel {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return &AnthropicModel{
		messages:    messages,
		model:       sdk.Model(opts.Model),
		maxTokens:   maxTokens,
		temperature: opts.Temperature,
		hasTemp:     opts.HasTemperature,
	}
}

// NewAnthropicModelFromAPIKey is the convenience constructor mirroring
// features/model/anthropic/client.go's NewFromAPIKey.
func NewAnthropicModelFromAPIKey(apiKey, model string) *AnthropicModel {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicModel(&client.Messages, AnthropicOptions{Model: model})
}

// Stream implements LanguageModel.
func (m *AnthropicModel) Stream(ctx context.Context, systemPrompt string, history []Message) (<-chan Part, <-chan error, error) {
	params := sdk.MessageNewParams{
		Model:     m.model,
		MaxTokens: m.maxTokens,
		Messages:  encodeAnthropicMessages(history),
	}
	if systemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: systemPrompt}}
	}
	if m.hasTemp {
		params.Temperature = sdk.Float(m.temperature)
	}

	stream := m.messages.NewStreaming(ctx, params)

	partsCh := make(chan Part, 32)
	errCh := make(chan error, 1)

	go runAnthropicStream(ctx, stream, partsCh, errCh)

	return partsCh, errCh, nil
}

func encodeAnthropicMessages(history []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			// Developer messages ride as user turns: Anthropic's wire
			// protocol only distinguishes user and assistant roles.
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	return out
}

// runAnthropicStream converts the SDK's server-sent event stream into
// Parts, closing both channels when the stream ends (spec.md §4.5, "Part
// kinds": text-delta, text-start, text-end, response-metadata, finish).
func runAnthropicStream(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], partsCh chan<- Part, errCh chan<- error) {
	defer close(partsCh)
	defer close(errCh)
	defer func() { _ = stream.Close() }()

	var usage Usage
	var textBlockOpen bool

	emit := func(p Part) bool {
		select {
		case partsCh <- p:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if _, ok := ev.ContentBlock.AsAny().(sdk.TextBlock); ok {
				textBlockOpen = true
				if !emit(Part{Kind: PartTextStart, ID: fmt.Sprintf("%d", ev.Index)}) {
					return
				}
			}
		case sdk.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(sdk.TextDelta); ok && delta.Text != "" {
				if !emit(Part{Kind: PartTextDelta, ID: fmt.Sprintf("%d", ev.Index), Delta: delta.Text}) {
					return
				}
			}
		case sdk.ContentBlockStopEvent:
			if textBlockOpen {
				textBlockOpen = false
				if !emit(Part{Kind: PartTextEnd, ID: fmt.Sprintf("%d", ev.Index)}) {
					return
				}
			}
		case sdk.MessageDeltaEvent:
			usage.InputTokens = int(ev.Usage.InputTokens)
			usage.OutputTokens = int(ev.Usage.OutputTokens)
		case sdk.MessageStopEvent:
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			if !emit(Part{Kind: PartFinish, Usage: &usage}) {
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		select {
		case errCh <- err:
		case <-ctx.Done():
		}
		return
	}
	if err := ctx.Err(); err != nil {
		select {
		case errCh <- err:
		default:
		}
	}
}
